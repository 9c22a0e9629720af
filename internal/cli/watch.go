package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tOgg1/linksync/internal/engine"
	"github.com/tOgg1/linksync/internal/models"
)

type watchFlags struct {
	count     int
	copyLinks bool
	existing  bool
}

func newWatchCmd(a *app) *cobra.Command {
	var flags watchFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print messages as they arrive",
		Long: `Print every message sent to the active account as it arrives.
With --json each message is written as one JSON line. Stops on Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := a.openClient(ctx, clientOptions{watchCache: true})
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.requireSignedIn(); err != nil {
				return err
			}

			w := &messageWatcher{
				engine:    c.engine,
				out:       cmd.OutOrStdout(),
				errOut:    cmd.ErrOrStderr(),
				json:      a.jsonOutput,
				limit:     flags.count,
				copyLinks: flags.copyLinks,
			}
			w.reset(flags.existing)
			return w.run(ctx, flags.existing)
		},
	}
	cmd.Flags().IntVarP(&flags.count, "count", "n", 0, "exit after this many messages (0 = run until interrupted)")
	cmd.Flags().BoolVar(&flags.copyLinks, "copy", false, "copy each received link to the clipboard")
	cmd.Flags().BoolVar(&flags.existing, "existing", false, "print the first page of history before streaming")
	return cmd
}

// messageWatcher prints timeline messages it has not printed yet.
type messageWatcher struct {
	engine    *engine.Engine
	out       io.Writer
	errOut    io.Writer
	json      bool
	limit     int
	copyLinks bool

	identity string
	seen     map[string]struct{}
	printed  int
}

// run prints until ctx ends, the limit is hit, or the account is signed
// out. Call reset first.
func (w *messageWatcher) run(ctx context.Context, existing bool) error {
	if existing {
		if done, err := w.flush(); done || err != nil {
			return err
		}
	}

	notifications := w.engine.Notifications()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			switch n.Kind {
			case engine.NotifyRouteSignIn:
				return notSignedIn()
			case engine.NotifySwitched:
				fmt.Fprintf(w.errOut, "Now watching %s\n", n.Identity)
				w.reset(false)
				continue
			case engine.NotifyError:
				fmt.Fprintf(w.errOut, "warning: %v\n", n.Err)
				continue
			}
			done, err := w.flush()
			if done || err != nil {
				return err
			}
		}
	}
}

// reset marks the current timeline as seen unless keep is set.
func (w *messageWatcher) reset(keep bool) {
	state := w.engine.Snapshot()
	w.identity = state.Identity
	w.seen = make(map[string]struct{}, len(state.Messages))
	if keep {
		return
	}
	for _, msg := range state.Messages {
		w.seen[msg.ID] = struct{}{}
	}
}

// flush prints unseen messages oldest first. done reports the limit was hit.
func (w *messageWatcher) flush() (done bool, err error) {
	state := w.engine.Snapshot()
	if state.Identity != w.identity {
		return false, nil
	}

	var fresh []models.Message
	for _, msg := range state.Messages {
		if _, ok := w.seen[msg.ID]; ok {
			continue
		}
		w.seen[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	slices.Reverse(fresh)

	for _, msg := range fresh {
		if err := w.print(msg); err != nil {
			return true, err
		}
		w.printed++
		if w.limit > 0 && w.printed >= w.limit {
			return true, nil
		}
	}
	return false, nil
}

func (w *messageWatcher) print(msg models.Message) error {
	if w.copyLinks && msg.IsURL() {
		if err := writeClipboard(msg.Content); err != nil {
			fmt.Fprintf(w.errOut, "warning: copy to clipboard: %v\n", err)
		}
	}
	if w.json {
		return writeJSONLine(w.out, msg)
	}
	_, err := fmt.Fprintf(w.out, "%s  %-4s  %s\n",
		msg.CreatedAt.Local().Format("15:04:05"), msg.Type, msg.Content)
	return err
}
