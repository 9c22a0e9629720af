package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/linksync/internal/models"
)

type historyFlags struct {
	pages    int
	urlsOnly bool
}

func newHistoryCmd(a *app) *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.pages < 1 {
				return &PreflightError{Message: "--pages must be at least 1"}
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

			messages, hasMore, err := loadPages(ctx, c, flags.pages)
			if err != nil {
				return err
			}
			if flags.urlsOnly {
				messages = onlyURLs(messages)
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, map[string]any{
					"messages": messages,
					"has_more": hasMore,
				})
			}
			if len(messages) == 0 {
				fmt.Fprintln(out, "No messages yet.")
				return nil
			}
			if err := writeMessages(out, messages); err != nil {
				return err
			}
			if hasMore {
				fmt.Fprintf(out, "\nMore history available: linksync history --pages %d\n", flags.pages+1)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&flags.pages, "pages", "p", 1, "number of pages to load")
	cmd.Flags().BoolVar(&flags.urlsOnly, "urls", false, "only show links")
	return cmd
}

// loadPages loads up to pages pages. Page 0 is already loaded by Start.
func loadPages(ctx context.Context, c *client, pages int) ([]models.Message, bool, error) {
	for loaded := 1; loaded < pages; loaded++ {
		if !c.engine.Snapshot().HasMore {
			break
		}
		if err := c.engine.LoadMore(ctx); err != nil {
			return nil, false, fmt.Errorf("load page %d: %w", loaded, err)
		}
	}
	state := c.engine.Snapshot()
	return state.Messages, state.HasMore, nil
}

func onlyURLs(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.IsURL() {
			out = append(out, msg)
		}
	}
	return out
}
