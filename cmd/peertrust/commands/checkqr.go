package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/peertrust/internal/qr"
	"github.com/nhle/peertrust/internal/theme"
)

func checkQRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-qr <text>",
		Short: "Classify a scanned code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Node.QR.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printCheck(res)
			return nil
		},
	}
}

func printCheck(res qr.Result) {
	row := func(label, value string) {
		if value != "" {
			fmt.Println(theme.LabelStyle.Render(label) + value)
		}
	}

	state := res.State.String()
	if res.State == qr.Error || res.State == qr.FprMismatch {
		state = theme.ErrorStyle.Render(state)
	}
	row("State", state)
	if res.ContactID != 0 {
		row("Contact", fmt.Sprint(res.ContactID))
	}
	row("Fingerprint", res.Fingerprint)
	row("Group", res.GroupName)
	row("Text", res.Text)
}
