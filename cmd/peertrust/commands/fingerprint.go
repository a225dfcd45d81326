package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/peertrust/internal/key"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the own key fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Node.Mailbox.EnsureSecretKey(cmd.Context()); err != nil {
				return err
			}
			fpr, err := a.Node.Mailbox.SelfFingerprint(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", key.FormatFingerprint(fpr))
			return nil
		},
	}
}
