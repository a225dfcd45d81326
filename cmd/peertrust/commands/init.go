package commands

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/peertrust/internal/credential"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/model"
)

func initCmd() *cobra.Command {
	var addr, name, imapHost, smtpHost, username string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Configure the account and create its key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !model.MayBeValidAddr(model.NormalizeAddr(addr)) {
				return fmt.Errorf("invalid address %q", addr)
			}

			cfg, err := model.LoadConfig(configPath())
			if err != nil {
				return err
			}
			cfg.Account.Addr = addr
			cfg.Account.DisplayName = name
			if username == "" {
				username = addr
			}
			if imapHost != "" {
				cfg.IMAP.Host = imapHost
				cfg.IMAP.Username = username
			}
			if smtpHost != "" {
				cfg.SMTP.Host = smtpHost
				cfg.SMTP.Username = username
			}
			if err := model.SaveConfig(configPath(), cfg); err != nil {
				return err
			}

			if imapHost != "" || smtpHost != "" {
				if err := storePassword(username); err != nil {
					return err
				}
			}

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
			fmt.Printf("Account %s configured.\nFingerprint: %s\n", model.NormalizeAddr(addr), key.FormatFingerprint(fpr))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "email address of the account")
	cmd.Flags().StringVar(&name, "name", "", "display name offered in invitations")
	cmd.Flags().StringVar(&imapHost, "imap", "", "IMAP server host")
	cmd.Flags().StringVar(&smtpHost, "smtp", "", "SMTP server host")
	cmd.Flags().StringVar(&username, "username", "", "server login (default the address)")
	_ = cmd.MarkFlagRequired("addr")
	return cmd
}

// storePassword asks for the server password and keeps it in the keyring.
func storePassword(username string) error {
	var pass string
	err := huh.NewInput().
		Title("Password").
		Description("Server password for " + username).
		EchoMode(huh.EchoModePassword).
		Value(&pass).
		Run()
	if err != nil {
		return err
	}

	creds, err := credential.Open()
	if err != nil {
		return err
	}
	for _, k := range []string{credential.IMAPPassword, credential.SMTPPassword} {
		if err := creds.Set(k, pass); err != nil {
			return err
		}
	}
	return nil
}
