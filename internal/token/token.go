// Package token remembers the invite numbers and auth secrets handed out in
// QR codes. Only a bounded number of recent secrets per namespace is kept.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/peertrust/internal/model"
)

// Namespace separates the kinds of secrets.
type Namespace int

const (
	InviteNumber Namespace = 100
	Auth         Namespace = 110
)

func (ns Namespace) String() string {
	switch ns {
	case InviteNumber:
		return "invitenumber"
	case Auth:
		return "auth"
	default:
		return fmt.Sprintf("namespace(%d)", int(ns))
	}
}

// ErrNotASCII is returned when a token contains non-ASCII bytes.
var ErrNotASCII = errors.New("token: not ASCII")

// Store is the persistence Tokens needs.
type Store interface {
	InsertToken(ctx context.Context, tok model.Token) (int64, error)
	DeleteToken(ctx context.Context, id int64) error
	GetTokens(ctx context.Context, namespace int) ([]model.Token, error)
}

// Tokens keeps one History per namespace in memory and mirrors it into
// the store. It is safe for concurrent use.
type Tokens struct {
	mu       sync.Mutex
	store    Store
	capacity int
	rings    map[Namespace]*History
}

// Load reads the persisted tokens of every namespace. Rows beyond
// capacity, oldest first, are deleted.
func Load(ctx context.Context, s Store, capacity int) (*Tokens, error) {
	t := &Tokens{
		store:    s,
		capacity: capacity,
		rings:    make(map[Namespace]*History),
	}
	for _, ns := range []Namespace{InviteNumber, Auth} {
		rows, err := s.GetTokens(ctx, int(ns))
		if err != nil {
			return nil, fmt.Errorf("loading %s tokens: %w", ns, err)
		}
		ring := t.ring(ns)
		for _, row := range rows {
			evicted, ok := ring.Push(Entry{ID: row.ID, ForeignID: row.ForeignID, Token: row.Token})
			if !ok {
				continue
			}
			if err := s.DeleteToken(ctx, evicted.ID); err != nil {
				return nil, fmt.Errorf("deleting evicted %s token: %w", ns, err)
			}
		}
	}
	return t, nil
}

func (t *Tokens) ring(ns Namespace) *History {
	r, ok := t.rings[ns]
	if !ok {
		r = NewHistory(t.capacity)
		t.rings[ns] = r
	}
	return r
}

// Save remembers tok for the chat foreignID. Zero means no chat.
func (t *Tokens) Save(ctx context.Context, ns Namespace, foreignID int64, tok string) error {
	if tok == "" {
		return errors.New("saving token: empty token")
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] >= 0x80 {
			return fmt.Errorf("saving %s token: %w", ns, ErrNotASCII)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id, err := t.store.InsertToken(ctx, model.Token{
		Namespace: int(ns),
		ForeignID: foreignID,
		Token:     tok,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("saving %s token: %w", ns, err)
	}

	evicted, ok := t.ring(ns).Push(Entry{ID: id, ForeignID: foreignID, Token: tok})
	if ok {
		if err := t.store.DeleteToken(ctx, evicted.ID); err != nil {
			return fmt.Errorf("deleting evicted %s token: %w", ns, err)
		}
	}
	return nil
}

// Lookup returns the newest token saved for foreignID.
func (t *Tokens) Lookup(ns Namespace, foreignID int64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.ring(ns).Newest(foreignID)
	return e.Token, ok
}

// Exists reports whether tok is among the remembered tokens of ns.
func (t *Tokens) Exists(ns Namespace, tok string) bool {
	if tok == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ring(ns).Contains(tok)
}

// CreateID returns 11 URL-safe base64 characters carrying 66 random bits.
func CreateID() (string, error) {
	var b [9]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:])[:11], nil
}

// LookupOrCreate returns the token of foreignID, creating and saving a new
// one if there is none.
func (t *Tokens) LookupOrCreate(ctx context.Context, ns Namespace, foreignID int64) (string, error) {
	if tok, ok := t.Lookup(ns, foreignID); ok {
		return tok, nil
	}
	tok, err := CreateID()
	if err != nil {
		return "", err
	}
	if err := t.Save(ctx, ns, foreignID, tok); err != nil {
		return "", err
	}
	return tok, nil
}
