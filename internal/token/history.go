package token

// Entry is one remembered secret together with the chat it was created for.
type Entry struct {
	ID        int64
	ForeignID int64
	Token     string
}

// History is a fixed-capacity ring of entries. Pushing into a full ring
// evicts the oldest entry.
type History struct {
	buf   []Entry
	start int
	n     int
}

// NewHistory creates a ring holding at most capacity entries. A capacity
// below one is treated as one.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Entry, capacity)}
}

// Cap returns the capacity of the ring.
func (h *History) Cap() int { return len(h.buf) }

// Len returns the number of entries held.
func (h *History) Len() int { return h.n }

// Push appends e. When the ring was full the evicted entry is returned
// with ok set.
func (h *History) Push(e Entry) (evicted Entry, ok bool) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = e
		h.n++
		return Entry{}, false
	}
	evicted = h.buf[h.start]
	h.buf[h.start] = e
	h.start = (h.start + 1) % len(h.buf)
	return evicted, true
}

// Contains reports whether an entry with the given token is held.
func (h *History) Contains(tok string) bool {
	for i := 0; i < h.n; i++ {
		if h.at(i).Token == tok {
			return true
		}
	}
	return false
}

// Newest returns the most recently pushed entry for foreignID.
func (h *History) Newest(foreignID int64) (Entry, bool) {
	for i := h.n - 1; i >= 0; i-- {
		if e := h.at(i); e.ForeignID == foreignID {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns the held entries, oldest first.
func (h *History) Entries() []Entry {
	out := make([]Entry, h.n)
	for i := range out {
		out[i] = h.at(i)
	}
	return out
}

func (h *History) at(i int) Entry {
	return h.buf[(h.start+i)%len(h.buf)]
}
