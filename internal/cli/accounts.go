package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/linksync/internal/models"
)

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Manage accounts saved on this device",
	}
	cmd.AddCommand(
		newAccountsListCmd(a),
		newAccountsSwitchCmd(a),
		newAccountsRemoveCmd(a),
	)
	return cmd
}

type accountJSON struct {
	Identity string `json:"identity"`
	Active   bool   `json:"active"`
}

func newAccountsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved accounts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context(), clientOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			state := c.engine.Snapshot()
			out := cmd.OutOrStdout()

			if a.jsonOutput {
				accounts := make([]accountJSON, 0, len(state.SavedAccounts))
				for _, entry := range state.SavedAccounts {
					accounts = append(accounts, accountJSON{
						Identity: entry.Identity,
						Active:   sameIdentity(entry.Identity, state.Identity),
					})
				}
				return writeJSON(out, accounts)
			}

			if len(state.SavedAccounts) == 0 {
				fmt.Fprintln(out, "No saved accounts.")
				return nil
			}
			rows := make([][]string, 0, len(state.SavedAccounts))
			for _, entry := range state.SavedAccounts {
				marker := ""
				if sameIdentity(entry.Identity, state.Identity) {
					marker = "*"
				}
				rows = append(rows, []string{marker, entry.Identity})
			}
			return writeTable(out, []string{"", "ACCOUNT"}, rows)
		},
	}
}

func newAccountsSwitchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <email>",
		Short: "Make a saved account active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.openClient(ctx, clientOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			entry, err := findSavedAccount(c, args[0])
			if err != nil {
				return err
			}
			if err := c.engine.SwitchAccount(ctx, entry); err != nil {
				return err
			}

			identity := c.engine.Snapshot().Identity
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, map[string]string{"active": identity})
			}
			fmt.Fprintf(out, "Now using %s\n", identity)
			return nil
		},
	}
}

func newAccountsRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <email>",
		Aliases: []string{"rm"},
		Short:   "Forget a saved account",
		Long:    "Forget a saved account. Removing the active account signs it out.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.openClient(ctx, clientOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			entry, err := findSavedAccount(c, args[0])
			if err != nil {
				return err
			}

			if sameIdentity(entry.Identity, c.engine.Snapshot().Identity) {
				if err := c.engine.SignOut(ctx); err != nil {
					return err
				}
			} else {
				c.cache.Remove(entry.Identity)
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, map[string]string{
					"removed": entry.Identity,
					"active":  c.engine.Snapshot().Identity,
				})
			}
			fmt.Fprintf(out, "Removed %s\n", entry.Identity)
			return nil
		},
	}
}

func findSavedAccount(c *client, identity string) (models.CredentialEntry, error) {
	entry, ok := c.cache.Get(identity)
	if !ok {
		return models.CredentialEntry{}, &PreflightError{
			Message:  fmt.Sprintf("no saved account %q", identity),
			NextStep: "linksync accounts list",
		}
	}
	return entry, nil
}

func sameIdentity(a, b string) bool {
	return a != "" && models.NormalizeIdentity(a) == models.NormalizeIdentity(b)
}
