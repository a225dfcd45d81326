// Package joinview shows the progress of a verification handshake.
package joinview

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/keys"
	appsync "github.com/nhle/peertrust/internal/sync"
	"github.com/nhle/peertrust/internal/theme"
	"github.com/nhle/peertrust/internal/ui"
	helpview "github.com/nhle/peertrust/internal/ui/help"
)

// Role selects which side of the handshake is shown.
type Role int

const (
	// Joiner runs Options.Run and follows joiner progress.
	Joiner Role = iota
	// Inviter waits for inviter progress to reach completion.
	Inviter
)

// Options configure the view.
type Options struct {
	Role Role
	// Peer is shown in the header.
	Peer string
	// Events delivers handshake progress.
	Events <-chan event.Event
	// Run performs the join and returns the resulting chat id. It is
	// required for Joiner.
	Run func(ctx context.Context) (int64, error)
	// Poller fetches incoming mail while the view runs. Optional.
	Poller *appsync.Poller
}

type progressMsg struct {
	ev event.Event
}

type joinDoneMsg struct {
	chatID int64
	err    error
}

// Model is the bubbletea model of the view.
type Model struct {
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	keys    *keys.KeyMap
	help    helpview.Model
	spinner spinner.Model
	layout  ui.Layout

	progress  int64
	steps     []int64
	syncState string
	done      bool
	chatID    int64
	err       error
}

// New creates the view. The handshake is cancelled when ctx is done or the
// user presses the cancel key.
func New(ctx context.Context, opts Options) Model {
	ctx, cancel := context.WithCancel(ctx)
	k := keys.DefaultKeyMap()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	return Model{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		keys:    k,
		help:    helpview.New(k),
		spinner: sp,
	}
}

// Init starts the spinner, the join and the poller.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.waitEvent()}
	if m.opts.Role == Joiner && m.opts.Run != nil {
		cmds = append(cmds, m.runJoin())
	}
	if m.opts.Poller != nil {
		cmds = append(cmds, m.opts.Poller.Start())
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.help.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Cancel):
			m.cancel()
			if m.done || m.opts.Role == Inviter {
				return m, tea.Quit
			}
			// the join returns with the context error
			return m, nil
		case key.Matches(msg, m.keys.Quit):
			if m.done {
				return m, tea.Quit
			}
		case key.Matches(msg, m.keys.Help):
			m.help.Toggle()
		}
		return m, nil

	case progressMsg:
		if msg.ev.Kind != m.progressKind() {
			return m, m.waitEvent()
		}
		m.progress = msg.ev.Data2
		m.steps = append(m.steps, msg.ev.Data2)
		if m.opts.Role == Inviter && msg.ev.Data2 == event.ProgressError {
			m.done = true
			m.err = errors.New("handshake failed")
			return m, tea.Quit
		}
		if m.opts.Role == Inviter && msg.ev.Data2 >= event.ProgressDone {
			m.done = true
			return m, tea.Quit
		}
		return m, m.waitEvent()

	case joinDoneMsg:
		m.done = true
		m.chatID = msg.chatID
		m.err = msg.err
		return m, tea.Quit

	case appsync.SyncResultMsg:
		switch {
		case msg.AuthError:
			m.syncState = "login failed"
		case msg.Error != nil:
			m.syncState = "fetch failed"
		default:
			m.syncState = fmt.Sprintf("%d received", msg.Received)
		}
		if m.opts.Poller != nil {
			return m, m.opts.Poller.WaitForNextResult()
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress.
func (m Model) View() string {
	var b strings.Builder

	for _, step := range m.steps {
		if step == event.ProgressError {
			continue
		}
		b.WriteString(theme.SuccessStyle.Render("✓ ") + Stage(step) + "\n")
	}

	switch {
	case m.err != nil:
		b.WriteString(theme.ErrorStyle.Render("✗ "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString(theme.ProgressStyle(event.ProgressDone).Render("Verified.") + "\n")
	default:
		b.WriteString(m.spinner.View() + " " + m.waiting() + "\n")
	}

	b.WriteString("\n" + m.help.View())

	title := "Joining " + m.opts.Peer
	if m.opts.Role == Inviter {
		title = "Waiting for " + m.opts.Peer
	}
	status := theme.ProgressStyle(m.progress).Render(fmt.Sprintf("%d‰", m.progress))
	if m.syncState != "" {
		status = m.syncState + "  " + status
	}
	return m.layout.Frame(title, status, b.String(), "")
}

// Result returns the chat id and the error of the finished join.
func (m Model) Result() (int64, error) {
	return m.chatID, m.err
}

func (m Model) progressKind() event.Kind {
	if m.opts.Role == Inviter {
		return event.SecurejoinInviterProgress
	}
	return event.SecurejoinJoinerProgress
}

func (m Model) waiting() string {
	if m.progress == 0 && m.opts.Role == Joiner {
		return "Sending request..."
	}
	return "Waiting for peer..."
}

func (m Model) waitEvent() tea.Cmd {
	events := m.opts.Events
	if events == nil {
		return nil
	}
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case ev := <-events:
			return progressMsg{ev: ev}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) runJoin() tea.Cmd {
	run, ctx := m.opts.Run, m.ctx
	return func() tea.Msg {
		chatID, err := run(ctx)
		return joinDoneMsg{chatID: chatID, err: err}
	}
}

// Stage describes a progress value.
func Stage(progress int64) string {
	switch {
	case progress == event.ProgressError:
		return "Handshake failed"
	case progress >= event.ProgressDone:
		return "Handshake complete"
	case progress >= event.ProgressMemberAdded:
		return "Member added to group"
	case progress >= event.ProgressVerified:
		return "Peer verified"
	case progress >= event.ProgressAuthRequired:
		return "Inviter fingerprint verified"
	default:
		return "Request received"
	}
}
