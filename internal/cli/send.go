package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/linksync/internal/classify"
	"github.com/tOgg1/linksync/internal/timeline"
)

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send [text...]",
		Short: "Send text or a link to your other devices",
		Long: `Send text or a link to every device signed in to the active account.
With no arguments, or "-", the content is read from stdin.`,
		Example: `  linksync send https://go.dev/doc/effective_go
  linksync send example.com/some/page
  pbpaste | linksync send`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := sendContent(cmd, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c, err := a.openClient(ctx, clientOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			identity, err := c.requireSignedIn()
			if err != nil {
				return err
			}

			if err := c.engine.Submit(ctx, text); err != nil {
				if errors.Is(err, timeline.ErrEmptyContent) {
					return &PreflightError{Err: err, NextStep: "linksync send <text>"}
				}
				return submitError(err)
			}

			result := classify.Classify(text)
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, map[string]string{
					"identity": identity,
					"type":     string(result.Type),
					"content":  result.Normalized,
				})
			}
			fmt.Fprintf(out, "Sent %s to %s\n", result.Type, identity)
			return nil
		},
	}
}

func sendContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
