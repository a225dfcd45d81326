package commands

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nhle/peertrust/internal/app"
	"github.com/nhle/peertrust/internal/model"
)

var (
	cfgPath string
	appCtx  *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:          "peertrust",
		Short:        "Autocrypt key tracking and contact verification",
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			err := appCtx.Close()
			appCtx = nil
			return err
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.config/peertrust/config.yaml)")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		qrCmd(),
		checkQRCmd(),
		joinCmd(),
		peerCmd(),
		receiveCmd(),
		demoCmd(),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return root.ExecuteContext(ctx)
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return model.DefaultConfigPath()
}

// openApp opens the configured account once per process.
func openApp(ctx context.Context) (*app.App, error) {
	if appCtx != nil {
		return appCtx, nil
	}
	cfg, err := model.LoadConfig(configPath())
	if err != nil {
		return nil, err
	}
	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		return nil, err
	}
	appCtx = a
	return a, nil
}
