package transport

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Network delivers messages between mailboxes in the same process. Send
// never blocks, so a handler may send while another mailbox is busy.
type Network struct {
	mu    sync.Mutex
	boxes map[string]*inbox
	log   *zap.SugaredLogger
}

type inbox struct {
	queue  [][]byte
	notify chan struct{}
}

// NewNetwork creates an empty network.
func NewNetwork(log *zap.SugaredLogger) *Network {
	return &Network{
		boxes: make(map[string]*inbox),
		log:   log,
	}
}

func (n *Network) box(addr string) *inbox {
	addr = strings.ToLower(strings.TrimSpace(addr))
	b, ok := n.boxes[addr]
	if !ok {
		b = &inbox{notify: make(chan struct{}, 1)}
		n.boxes[addr] = b
	}
	return b
}

// Send queues a copy of raw for every address in to.
func (n *Network) Send(_ context.Context, from string, to []string, raw []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, addr := range to {
		b := n.box(addr)
		b.queue = append(b.queue, append([]byte(nil), raw...))
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
	n.log.Debugw("queued message", "from", from, "to", to)
	return nil
}

// Inbox returns a Fetcher draining the queue of addr.
func (n *Network) Inbox(addr string) Fetcher {
	return loopbackInbox{n: n, addr: addr}
}

// Pending returns the number of queued messages for addr.
func (n *Network) Pending(addr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.box(addr).queue)
}

func (n *Network) take(addr string) ([][]byte, <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	b := n.box(addr)
	queued := b.queue
	b.queue = nil
	return queued, b.notify
}

// Serve hands every message for addr to handle until ctx is done.
// Handler errors are logged and do not stop the loop.
func (n *Network) Serve(ctx context.Context, addr string, handle Handler) error {
	for {
		queued, notify := n.take(addr)
		for _, raw := range queued {
			if err := handle(ctx, raw); err != nil {
				n.log.Warnw("delivering message", "addr", addr, "error", err)
			}
		}
		if len(queued) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-notify:
		}
	}
}

type loopbackInbox struct {
	n    *Network
	addr string
}

func (l loopbackInbox) Fetch(_ context.Context) ([][]byte, error) {
	queued, _ := l.n.take(l.addr)
	return queued, nil
}
