package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/linksync/internal/models"
)

type authFlags struct {
	passwordStdin bool
}

func newLoginCmd(a *app) *cobra.Command {
	var flags authFlags
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in and make the account active",
		Long:  "Sign in to an account. The account is added to the saved accounts on this device and becomes active.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAuth(cmd, args[0], flags, false)
		},
	}
	cmd.Flags().BoolVar(&flags.passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var flags authFlags
	cmd := &cobra.Command{
		Use:   "signup <email>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAuth(cmd, args[0], flags, true)
		},
	}
	cmd.Flags().BoolVar(&flags.passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (a *app) runAuth(cmd *cobra.Command, email string, flags authFlags, signup bool) error {
	password, err := readPassword(cmd, flags.passwordStdin, signup)
	if err != nil {
		return err
	}
	creds := models.Credentials{Email: email, Password: password}
	if err := creds.Validate(); err != nil {
		return &PreflightError{Err: err, Hint: "Both email and password are required"}
	}

	ctx := cmd.Context()
	c, err := a.openClient(ctx, clientOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	if signup {
		err = c.engine.SignUp(ctx, creds)
	} else {
		err = c.engine.SignIn(ctx, creds)
	}
	if err != nil {
		return err
	}

	state := c.engine.Snapshot()
	out := cmd.OutOrStdout()
	if a.jsonOutput {
		return writeJSON(out, map[string]any{
			"identity":       state.Identity,
			"saved_accounts": len(state.SavedAccounts),
		})
	}
	fmt.Fprintf(out, "Signed in as %s\n", state.Identity)
	return nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign the active account out",
		Long:  "Sign the active account out. Another saved account becomes active if one is left.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.openClient(ctx, clientOptions{})
			if err != nil {
				return err
			}
			defer c.Close()

			previous, err := c.requireSignedIn()
			if err != nil {
				return err
			}
			if err := c.engine.SignOut(ctx); err != nil {
				return err
			}

			next := c.engine.Snapshot().Identity
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, map[string]string{"signed_out": previous, "active": next})
			}
			fmt.Fprintf(out, "Signed out of %s\n", previous)
			if next != "" {
				fmt.Fprintf(out, "Now using %s\n", next)
			}
			return nil
		},
	}
}

// readPassword reads one line from stdin, or prompts without echo on a TTY.
func readPassword(cmd *cobra.Command, fromStdin, confirm bool) (string, error) {
	if fromStdin {
		return readLine(cmd.InOrStdin())
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", &PreflightError{
			Message:  "password prompt requires an interactive terminal",
			NextStep: "echo \"$PASSWORD\" | linksync login <email> --password-stdin",
		}
	}

	errOut := cmd.ErrOrStderr()
	fmt.Fprint(errOut, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(errOut, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", &PreflightError{Message: "passwords do not match"}
	}
	return string(first), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
