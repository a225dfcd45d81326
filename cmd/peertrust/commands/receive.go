package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func receiveCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Fetch new mail and update peer states",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Poller == nil {
				return fmt.Errorf("no IMAP server configured")
			}

			if watch {
				return a.Poller.Run(cmd.Context())
			}
			res := a.Poller.Poll(cmd.Context())
			if res.Error != nil {
				return res.Error
			}
			fmt.Printf("Received %d messages, %d failed.\n", res.Received, res.Failed)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling until interrupted")
	return cmd
}
