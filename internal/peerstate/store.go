package peerstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/peertrust/internal/aheader"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/store"
)

// Store is the row-level persistence a Peerstate needs.
type Store interface {
	GetPeerstateByAddr(ctx context.Context, addr string) (*model.PeerstateRow, error)
	GetPeerstateByFingerprint(ctx context.Context, fpr string) (*model.PeerstateRow, error)
	CreatePeerstate(ctx context.Context, addr string) error
	UpdatePeerstate(ctx context.Context, row model.PeerstateRow) error
	UpdatePeerstateTimestamps(ctx context.Context, addr string, lastSeen, lastSeenAutocrypt, gossipTimestamp int64) error
}

// LoadByAddr loads the record of addr, compared case-insensitively. Any
// read failure is reported as store.ErrNotFound.
func LoadByAddr(ctx context.Context, s Store, addr string) (*Peerstate, error) {
	row, err := s.GetPeerstateByAddr(ctx, addr)
	if err != nil {
		return nil, notFound(fmt.Sprintf("loading peerstate for %s", addr), err)
	}
	return FromRow(*row), nil
}

// LoadByFingerprint loads the record whose public or gossip key has fpr.
// A public key match is preferred over a gossip key match.
func LoadByFingerprint(ctx context.Context, s Store, fpr string) (*Peerstate, error) {
	if fpr == "" {
		return nil, fmt.Errorf("loading peerstate by fingerprint: %w", store.ErrNotFound)
	}
	row, err := s.GetPeerstateByFingerprint(ctx, fpr)
	if err != nil {
		return nil, notFound(fmt.Sprintf("loading peerstate by fingerprint %s", fpr), err)
	}
	return FromRow(*row), nil
}

func notFound(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w (%v)", op, store.ErrNotFound, err)
}

// Save writes the record. With create set a row is inserted first and the
// full record is written; otherwise only what the dirty flags name.
func (p *Peerstate) Save(ctx context.Context, s Store, create bool) error {
	if p.Addr == "" {
		return errors.New("saving peerstate: empty address")
	}

	if create {
		if err := s.CreatePeerstate(ctx, p.Addr); err != nil {
			return fmt.Errorf("creating peerstate for %s: %w", p.Addr, err)
		}
	}

	switch {
	case create || p.dirty&SaveAll != 0:
		if err := s.UpdatePeerstate(ctx, p.Row()); err != nil {
			return fmt.Errorf("saving peerstate for %s: %w", p.Addr, err)
		}
	case p.dirty&SaveTimestamps != 0:
		err := s.UpdatePeerstateTimestamps(ctx, p.Addr, p.LastSeen, p.LastSeenAutocrypt, p.GossipTimestamp)
		if err != nil {
			return fmt.Errorf("saving peerstate timestamps for %s: %w", p.Addr, err)
		}
	}

	p.dirty = 0
	return nil
}

// Row converts the record to its persisted form.
func (p *Peerstate) Row() model.PeerstateRow {
	return model.PeerstateRow{
		Addr:                 p.Addr,
		LastSeen:             p.LastSeen,
		LastSeenAutocrypt:    p.LastSeenAutocrypt,
		PreferEncrypted:      int(p.PreferEncrypt),
		PublicKey:            p.PublicKey.Bytes(),
		GossipTimestamp:      p.GossipTimestamp,
		GossipKey:            p.GossipKey.Bytes(),
		PublicKeyFingerprint: p.PublicKeyFingerprint,
		GossipKeyFingerprint: p.GossipKeyFingerprint,
		PublicKeyVerified:    int(p.PublicKeyVerified),
		GossipKeyVerified:    int(p.GossipKeyVerified),
	}
}

// FromRow builds a record from a database row. Missing keys stay empty and
// out-of-range enum values fall back to their zero value.
func FromRow(row model.PeerstateRow) *Peerstate {
	p := &Peerstate{
		Addr:                 row.Addr,
		LastSeen:             row.LastSeen,
		LastSeenAutocrypt:    row.LastSeenAutocrypt,
		GossipTimestamp:      row.GossipTimestamp,
		PreferEncrypt:        aheader.NoPreference,
		PublicKeyFingerprint: row.PublicKeyFingerprint,
		GossipKeyFingerprint: row.GossipKeyFingerprint,
		PublicKeyVerified:    verifiedFromInt(row.PublicKeyVerified),
		GossipKeyVerified:    verifiedFromInt(row.GossipKeyVerified),
	}

	switch pe := aheader.PreferEncrypt(row.PreferEncrypted); pe {
	case aheader.Mutual, aheader.Reset:
		p.PreferEncrypt = pe
	}

	if len(row.PublicKey) > 0 {
		p.PublicKey = key.New(row.PublicKey, key.Public)
	}
	if len(row.GossipKey) > 0 {
		p.GossipKey = key.New(row.GossipKey, key.Public)
	}
	return p
}

func verifiedFromInt(v int) VerifiedLevel {
	switch l := VerifiedLevel(v); l {
	case Simple, Bidirectional:
		return l
	default:
		return NotVerified
	}
}
