package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/qr"
	"github.com/nhle/peertrust/internal/ui/joinview"
)

func joinCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "join <text>",
		Short: "Verify the inviter of a scanned code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			if a.Poller == nil {
				return fmt.Errorf("no IMAP server configured, cannot receive the handshake")
			}

			res, err := a.Node.QR.Check(ctx, args[0])
			if err != nil {
				return err
			}
			if res.State != qr.AskVerifyContact && res.State != qr.AskVerifyGroup {
				printCheck(res)
				return fmt.Errorf("not an invitation")
			}

			scan := qr.Parse(args[0])
			if !yes {
				title := fmt.Sprintf("Verify %s?", scan.Addr)
				if res.State == qr.AskVerifyGroup {
					title = fmt.Sprintf("Join group %q of %s?", res.GroupName, scan.Addr)
				}
				ok := true
				err := huh.NewConfirm().
					Title(title).
					Description(res.Fingerprint).
					Affirmative("Join").
					Negative("Cancel").
					Value(&ok).
					Run()
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			events := event.NewChannel(64)
			unsubscribe := a.Events.Subscribe(events)
			defer unsubscribe()

			view := joinview.New(ctx, joinview.Options{
				Role:   joinview.Joiner,
				Peer:   scan.Addr,
				Events: events.C,
				Run: func(ctx context.Context) (int64, error) {
					return a.Node.Securejoin.Join(ctx, args[0])
				},
				Poller: a.Poller,
			})
			final, err := tea.NewProgram(view).Run()
			if err != nil {
				return err
			}
			m, ok := final.(joinview.Model)
			if !ok {
				return nil
			}
			chatID, err := m.Result()
			if err != nil {
				return err
			}
			fmt.Printf("Verified. Chat %d.\n", chatID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "join without asking")
	return cmd
}
