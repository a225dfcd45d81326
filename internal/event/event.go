// Package event carries notifications from the core to the user interface.
package event

import "sync"

// Kind identifies an event.
type Kind int

const (
	Info Kind = iota + 1
	Warning
	Error
	MsgsChanged
	ChatModified
	ContactsChanged
	// SecurejoinInviterProgress has the contact id in Data1 and the
	// progress in per-mille in Data2.
	SecurejoinInviterProgress
	// SecurejoinJoinerProgress has the contact id in Data1 and the
	// progress in per-mille in Data2.
	SecurejoinJoinerProgress
)

func (k Kind) String() string {
	switch k {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case MsgsChanged:
		return "msgs-changed"
	case ChatModified:
		return "chat-modified"
	case ContactsChanged:
		return "contacts-changed"
	case SecurejoinInviterProgress:
		return "securejoin-inviter-progress"
	case SecurejoinJoinerProgress:
		return "securejoin-joiner-progress"
	default:
		return "unknown"
	}
}

// Handshake progress values in per-mille.
const (
	ProgressError        = 0
	ProgressStarted      = 300
	ProgressAuthRequired = 400
	ProgressVerified     = 600
	ProgressMemberAdded  = 800
	ProgressDone         = 1000
)

// Event is a single notification.
type Event struct {
	Kind  Kind
	Data1 int64
	Data2 int64
	Text  string
}

// Sink receives events. Emit must not block for long.
type Sink interface {
	Emit(Event)
}

// Func adapts a function to Sink.
type Func func(Event)

// Emit calls f.
func (f Func) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = Func(func(Event) {})

// Channel delivers events on C. Events are dropped when the buffer is full
// so a slow reader never stalls message processing.
type Channel struct {
	C chan Event
}

// NewChannel creates a channel sink with the given buffer size.
func NewChannel(size int) *Channel {
	return &Channel{C: make(chan Event, size)}
}

// Emit sends ev without blocking.
func (c *Channel) Emit(ev Event) {
	select {
	case c.C <- ev:
	default:
	}
}

// Multi fans every event out to a changing set of sinks.
type Multi struct {
	mu    sync.RWMutex
	sinks map[int]Sink
	next  int
}

// NewMulti creates a fan-out sink with the given initial sinks.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{sinks: make(map[int]Sink)}
	for _, s := range sinks {
		m.Subscribe(s)
	}
	return m
}

// Subscribe adds s and returns a function that removes it again.
func (m *Multi) Subscribe(s Sink) (unsubscribe func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.sinks[id] = s
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.sinks, id)
		m.mu.Unlock()
	}
}

// Emit forwards ev to every subscribed sink.
func (m *Multi) Emit(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.Emit(ev)
	}
}
