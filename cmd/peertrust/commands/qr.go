package commands

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/qr"
	"github.com/nhle/peertrust/internal/theme"
	"github.com/nhle/peertrust/internal/ui/joinview"
)

func qrCmd() *cobra.Command {
	var (
		groupID  int64
		newGroup string
		pngPath  string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Show an invitation to verify this account or join a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}

			if newGroup != "" {
				grpID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
				if groupID, err = a.Node.Mailbox.CreateGroupChat(ctx, newGroup, grpID, true); err != nil {
					return err
				}
				fmt.Printf("Created verified group %q (chat %d).\n", newGroup, groupID)
			}

			text, err := a.Node.Securejoin.QR(ctx, groupID)
			if err != nil {
				return err
			}

			drawn, err := qr.Render(text)
			if err != nil {
				return err
			}
			fmt.Println(theme.PanelStyle.Render(drawn))
			fmt.Println(text)

			if pngPath != "" {
				png, err := qr.PNG(text, 512)
				if err != nil {
					return err
				}
				if err := os.WriteFile(pngPath, png, 0o600); err != nil {
					return fmt.Errorf("writing %s: %w", pngPath, err)
				}
			}

			if !wait {
				return nil
			}
			if a.Poller == nil {
				return fmt.Errorf("no IMAP server configured, cannot wait for the joiner")
			}

			events := event.NewChannel(64)
			unsubscribe := a.Events.Subscribe(events)
			defer unsubscribe()

			view := joinview.New(ctx, joinview.Options{
				Role:   joinview.Inviter,
				Peer:   "joiner",
				Events: events.C,
				Poller: a.Poller,
			})
			final, err := tea.NewProgram(view).Run()
			if err != nil {
				return err
			}
			if m, ok := final.(joinview.Model); ok {
				_, err = m.Result()
			}
			return err
		},
	}

	cmd.Flags().Int64Var(&groupID, "group", 0, "chat id of a verified group to invite to")
	cmd.Flags().StringVar(&newGroup, "new-group", "", "create a verified group with this name and invite to it")
	cmd.Flags().StringVar(&pngPath, "png", "", "also write the code as PNG to this file")
	cmd.Flags().BoolVar(&wait, "wait", false, "fetch mail until a joiner completes the handshake")
	cmd.MarkFlagsMutuallyExclusive("group", "new-group")
	return cmd
}
