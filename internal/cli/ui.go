package cli

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/tui"
)

func newUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Open the live view",
		Long:  "Open the interactive live view: history, live updates, sending, copying and account switching.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !hasTTY() {
				return &PreflightError{
					Message:  "the live view requires an interactive terminal",
					Hint:     "Use the watch and send commands from scripts",
					NextStep: "linksync watch --json",
				}
			}

			// The live view owns the terminal; only a log file may receive logs.
			if a.cfg.Logging.File == "" {
				logging.Discard()
			}

			ctx := cmd.Context()
			c, err := a.openClient(ctx, clientOptions{watchCache: true})
			if err != nil {
				return err
			}
			defer c.Close()

			return tui.Run(ctx, c.engine, tui.Config{
				Theme:          a.cfg.TUI.Theme,
				ShowTimestamps: a.cfg.TUI.ShowTimestamps,
			})
		},
	}
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
