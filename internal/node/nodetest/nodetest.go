// Package nodetest runs several nodes on an in-process network for tests.
package nodetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/logging"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/node"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/testutil"
	"github.com/nhle/peertrust/internal/transport"
)

// eventTimeout bounds WaitEvent.
const eventTimeout = 10 * time.Second

// Peer is a configured node with its events.
type Peer struct {
	*node.Node
	Addr   string
	Events *event.Channel
}

// NewNetwork returns an empty network.
func NewNetwork() *transport.Network {
	return transport.NewNetwork(logging.Nop())
}

// NewPeer creates a node for addr with a fresh in-memory store and key.
func NewPeer(t *testing.T, net *transport.Network, addr, name string) *Peer {
	t.Helper()
	ctx := context.Background()

	events := event.NewChannel(1024)
	n, err := node.New(ctx, testutil.NewTestStore(t), net, events, logging.Nop(), node.Options{
		KeyConfig: key.TestConfig(),
	})
	require.NoError(t, err)
	require.NoError(t, n.Mailbox.Configure(ctx, addr, name))
	require.NoError(t, n.Mailbox.EnsureSecretKey(ctx))

	return &Peer{Node: n, Addr: addr, Events: events}
}

// Serve delivers messages to peers until the test ends.
func Serve(t *testing.T, net *transport.Network, peers ...*Peer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		g.Go(func() error {
			return net.Serve(gctx, p.Addr, p.Deliver)
		})
	}
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
	})
}

// WaitEvent reads events until one of kind with Data2 equal to data2
// arrives and returns every event read.
func (p *Peer) WaitEvent(t *testing.T, kind event.Kind, data2 int64) []event.Event {
	t.Helper()
	var seen []event.Event
	timeout := time.After(eventTimeout)
	for {
		select {
		case ev := <-p.Events.C:
			seen = append(seen, ev)
			if ev.Kind == kind && ev.Data2 == data2 {
				return seen
			}
		case <-timeout:
			require.FailNow(t, "event not emitted", "%s %s/%d", p.Addr, kind, data2)
			return nil
		}
	}
}

// Drain discards every pending event.
func (p *Peer) Drain() {
	for {
		select {
		case <-p.Events.C:
		default:
			return
		}
	}
}

// Contact returns the contact p has for addr.
func (p *Peer) Contact(t *testing.T, addr string) *model.Contact {
	t.Helper()
	c, err := p.Mailbox.GetContactByAddr(context.Background(), addr)
	require.NoError(t, err)
	return c
}

// Chat returns the one-to-one chat p has with addr.
func (p *Peer) Chat(t *testing.T, addr string) int64 {
	t.Helper()
	chatID, _, err := p.Mailbox.LookupSingleChat(context.Background(), p.Contact(t, addr).ID)
	require.NoError(t, err)
	return chatID
}

// Peerstate loads the record p has for addr.
func (p *Peer) Peerstate(t *testing.T, addr string) *peerstate.Peerstate {
	t.Helper()
	ps, err := peerstate.LoadByAddr(context.Background(), p.Mailbox, addr)
	require.NoError(t, err)
	return ps
}

// Texts returns the texts of the messages in chatID.
func (p *Peer) Texts(t *testing.T, chatID int64) []string {
	t.Helper()
	msgs, err := p.Mailbox.GetMessages(context.Background(), chatID)
	require.NoError(t, err)
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	return texts
}
