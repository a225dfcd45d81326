// Package node assembles the components serving one account: the mailbox,
// the QR interpreter, the handshake engine and the receive pipeline.
package node

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/nhle/peertrust/internal/degrade"
	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/mailbox"
	"github.com/nhle/peertrust/internal/qr"
	"github.com/nhle/peertrust/internal/receive"
	"github.com/nhle/peertrust/internal/securejoin"
	"github.com/nhle/peertrust/internal/store"
)

// Options configure a Node.
type Options struct {
	TokenHistory int
	KeyConfig    *packet.Config
	JoinTimeout  time.Duration
}

// Node is one account with everything wired.
type Node struct {
	Mailbox    *mailbox.Mailbox
	QR         *qr.Interpreter
	Securejoin *securejoin.Engine
	Receiver   *receive.Receiver
}

// New wires a node on top of s.
func New(
	ctx context.Context,
	s store.Store,
	transport mailbox.Transport,
	sink event.Sink,
	log *zap.SugaredLogger,
	opts Options,
) (*Node, error) {
	mb, err := mailbox.New(ctx, s, transport, sink, log.Named("mailbox"), mailbox.Options{
		TokenHistory: opts.TokenHistory,
		KeyConfig:    opts.KeyConfig,
	})
	if err != nil {
		return nil, err
	}

	interp := qr.NewInterpreter(mb, log.Named("qr"))
	engine := securejoin.New(mb, interp, log.Named("securejoin"), securejoin.Options{
		JoinTimeout: opts.JoinTimeout,
	})
	reporter := degrade.NewReporter(mb, log.Named("degrade"))

	return &Node{
		Mailbox:    mb,
		QR:         interp,
		Securejoin: engine,
		Receiver:   receive.New(mb, reporter, engine, log.Named("receive")),
	}, nil
}

// Deliver runs raw through the receive pipeline.
func (n *Node) Deliver(ctx context.Context, raw []byte) error {
	_, err := n.Receiver.Receive(ctx, raw)
	return err
}
