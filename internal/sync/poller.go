package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/peertrust/internal/transport"
)

// SyncState represents the current state of the poller.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the state of the last fetch.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResultMsg is a tea.Msg sent when a fetch completes.
type SyncResultMsg struct {
	Received int
	Failed   int
	Error    error
	// AuthError is set when the server rejected the credentials.
	AuthError bool
}

// fetchTimeout is the maximum time allowed for a single fetch operation.
const fetchTimeout = 30 * time.Second

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 60 * time.Second

// Poller fetches new messages and hands each one to the receive
// pipeline.
type Poller struct {
	fetcher  transport.Fetcher
	handle   transport.Handler
	interval time.Duration
	log      *zap.SugaredLogger

	status    SyncStatus
	resultCh  chan SyncResultMsg
	triggerCh chan struct{}
	stopCh    chan struct{}
	mu        gosync.Mutex
	running   bool
}

// New creates a poller. A non-positive interval means DefaultInterval.
func New(
	fetcher transport.Fetcher,
	handle transport.Handler,
	interval time.Duration,
	log *zap.SugaredLogger,
) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:   fetcher,
		handle:    handle,
		interval:  interval,
		log:       log,
		resultCh:  make(chan SyncResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start returns a tea.Cmd that starts the polling goroutine and waits
// for the first result.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-p.stopCh
			cancel()
		}()
		_ = p.Run(ctx)
	}()

	return p.waitForResult()
}

// Stop halts the goroutine started by Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate fetch.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A fetch is already pending.
	}
}

// Status returns the state of the last fetch.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial fetch immediately
	p.sendResult(p.Poll(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.sendResult(p.Poll(ctx))
		case <-p.triggerCh:
			p.sendResult(p.Poll(ctx))
		}
	}
}

// Poll performs a single fetch and delivers every fetched message.
// Delivery failures are counted and logged; the remaining messages are
// still delivered.
func (p *Poller) Poll(ctx context.Context) SyncResultMsg {
	p.setStatus(SyncRunning, nil)

	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	raws, err := p.fetcher.Fetch(fctx)
	cancel()
	if err != nil {
		p.setStatus(SyncError, err)
		p.log.Warnw("fetching messages", "error", err)
		return SyncResultMsg{
			Error:     fmt.Errorf("fetching messages: %w", err),
			AuthError: transport.IsAuthError(err),
		}
	}

	result := SyncResultMsg{}
	for _, raw := range raws {
		if err := p.handle(ctx, raw); err != nil {
			result.Failed++
			p.log.Warnw("processing message", "error", err)
			continue
		}
		result.Received++
	}

	p.setStatus(SyncIdle, nil)
	if len(raws) > 0 {
		p.log.Infow("fetched messages", "received", result.Received, "failed", result.Failed)
	}
	return result
}

// setStatus updates the sync status.
func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a SyncResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

// waitForResult returns a tea.Cmd that waits for the next result from
// the result channel.
func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return result
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next sync result.
// This should be called after processing a SyncResultMsg to continue
// listening for future results.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
