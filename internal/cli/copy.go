package cli

import (
	"fmt"
	"strconv"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

// writeClipboard is swapped out in tests.
var writeClipboard = clipboard.WriteAll

type copyFlags struct {
	any   bool
	print bool
}

func newCopyCmd(a *app) *cobra.Command {
	var flags copyFlags
	cmd := &cobra.Command{
		Use:   "copy [index]",
		Short: "Copy the latest link to the clipboard",
		Long: `Copy a received message to the system clipboard.
Without an index the most recent link is copied. The index counts from 0,
newest first, as listed by "linksync history --urls" (or "history" with --any).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return &PreflightError{Message: fmt.Sprintf("invalid index %q", args[0])}
				}
				index = n
			}

			ctx := cmd.Context()
			c, err := a.openClient(ctx, clientOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.requireSignedIn(); err != nil {
				return err
			}

			// Page until index is reachable or history runs out.
			for {
				messages := c.engine.Snapshot().Messages
				if !flags.any {
					messages = onlyURLs(messages)
				}
				if index < len(messages) {
					return a.finishCopy(cmd, messages[index].Content, flags)
				}
				if !c.engine.Snapshot().HasMore {
					break
				}
				if err := c.engine.LoadMore(ctx); err != nil {
					return err
				}
			}

			kind := "links"
			if flags.any {
				kind = "messages"
			}
			return &PreflightError{
				Message:  fmt.Sprintf("no %s at index %d", kind, index),
				NextStep: "linksync history",
			}
		},
	}
	cmd.Flags().BoolVar(&flags.any, "any", false, "consider text messages too")
	cmd.Flags().BoolVar(&flags.print, "print", false, "print the content instead of copying it")
	return cmd
}

func (a *app) finishCopy(cmd *cobra.Command, content string, flags copyFlags) error {
	out := cmd.OutOrStdout()
	if flags.print {
		if a.jsonOutput {
			return writeJSON(out, map[string]string{"content": content})
		}
		fmt.Fprintln(out, content)
		return nil
	}
	if err := writeClipboard(content); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if a.jsonOutput {
		return writeJSON(out, map[string]any{"content": content, "copied": true})
	}
	fmt.Fprintf(out, "Copied %s\n", content)
	return nil
}
