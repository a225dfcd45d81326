// Package app opens an account from its configuration: storage, logging,
// the mail servers and the wired node.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/peertrust/internal/credential"
	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/logging"
	"github.com/nhle/peertrust/internal/mailbox"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/node"
	"github.com/nhle/peertrust/internal/store"
	appsync "github.com/nhle/peertrust/internal/sync"
	"github.com/nhle/peertrust/internal/transport"
)

// ErrNoSMTP is returned when sending without a configured SMTP server.
var ErrNoSMTP = errors.New("app: no SMTP server configured")

// fetchLimit caps the messages taken from the server per poll.
const fetchLimit = 50

// Credentials looks up server passwords.
type Credentials interface {
	Get(key string) (string, error)
}

// Options override the parts of an App that are otherwise built from the
// configuration.
type Options struct {
	// Credentials defaults to the system keyring.
	Credentials Credentials
	// Transport replaces the SMTP transport.
	Transport mailbox.Transport
	// Fetcher replaces the IMAP fetcher.
	Fetcher transport.Fetcher
	// Log replaces the logger built from the configuration.
	Log *zap.SugaredLogger
}

// App is an opened account.
type App struct {
	Config *model.AppConfig
	Log    *zap.SugaredLogger
	Store  *store.SQLiteStore
	// Events receives everything the node emits. Views subscribe to it.
	Events *event.Multi
	Node   *node.Node
	// Poller is nil when no IMAP server is configured.
	Poller *appsync.Poller
}

// Open builds an App from cfg.
func Open(ctx context.Context, cfg *model.AppConfig, opts Options) (*App, error) {
	log := opts.Log
	if log == nil {
		var err error
		if log, err = logging.New(cfg.Log); err != nil {
			return nil, err
		}
	}

	if path := cfg.Storage.DBPath; path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Log:    log,
		Store:  s,
		Events: event.NewMulti(logSink(log.Named("event"))),
	}

	creds := opts.Credentials
	if creds == nil && (cfg.SMTP.Host != "" || cfg.IMAP.Host != "") {
		ring, err := credential.Open()
		if err != nil {
			s.Close()
			return nil, err
		}
		creds = ring
	}

	send := opts.Transport
	if send == nil {
		send = a.smtp(creds)
	}

	a.Node, err = node.New(ctx, s, send, a.Events, log, node.Options{
		TokenHistory: cfg.Securejoin.TokenHistory,
		JoinTimeout:  time.Duration(cfg.Securejoin.JoinTimeoutSec) * time.Second,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Account.Addr != "" {
		if err := a.Node.Mailbox.Configure(ctx, cfg.Account.Addr, cfg.Account.DisplayName); err != nil {
			s.Close()
			return nil, err
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil && cfg.IMAP.Host != "" {
		fetcher = transport.NewIMAP(serverConfig(cfg.IMAP, password(log, creds, credential.IMAPPassword)), fetchLimit)
	}
	if fetcher != nil {
		interval := time.Duration(cfg.Sync.PollIntervalSec) * time.Second
		a.Poller = appsync.New(fetcher, a.Node.Deliver, interval, log.Named("sync"))
	}

	return a, nil
}

// Close stops the poller and closes the store.
func (a *App) Close() error {
	if a.Poller != nil {
		a.Poller.Stop()
	}
	_ = a.Log.Sync()
	return a.Store.Close()
}

func (a *App) smtp(creds Credentials) mailbox.Transport {
	if a.Config.SMTP.Host == "" {
		return unconfigured{}
	}
	pass := password(a.Log, creds, credential.SMTPPassword)
	return transport.NewSMTP(serverConfig(a.Config.SMTP, pass))
}

func serverConfig(c model.ServerConfig, pass string) transport.ServerConfig {
	return transport.ServerConfig{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: pass,
		TLS:      c.TLS,
	}
}

func password(log *zap.SugaredLogger, creds Credentials, key string) string {
	if creds == nil {
		return ""
	}
	pass, err := creds.Get(key)
	if err != nil {
		log.Warnw("no stored password", "key", key, "error", err)
		return ""
	}
	return pass
}

type unconfigured struct{}

func (unconfigured) Send(context.Context, string, []string, []byte) error {
	return ErrNoSMTP
}

// logSink writes node events to log.
func logSink(log *zap.SugaredLogger) event.Sink {
	return event.Func(func(ev event.Event) {
		switch ev.Kind {
		case event.Info:
			log.Info(ev.Text)
		case event.Warning:
			log.Warn(ev.Text)
		case event.Error:
			log.Error(ev.Text)
		default:
			log.Debugw(ev.Kind.String(), "data1", ev.Data1, "data2", ev.Data2)
		}
	})
}
