// Package peerstate tracks, per peer address, the Autocrypt and gossip keys
// seen, their verification level and the timestamps used to reject
// out-of-order updates.
//
// A Peerstate is not safe for concurrent use. Callers hold the mailbox
// lock across load, mutate and save.
package peerstate

import (
	"strings"

	"github.com/nhle/peertrust/internal/aheader"
	"github.com/nhle/peertrust/internal/key"
)

// VerifiedLevel is how strongly a key has been verified.
type VerifiedLevel int

const (
	NotVerified   VerifiedLevel = 0
	Simple        VerifiedLevel = 1
	Bidirectional VerifiedLevel = 2
)

func (v VerifiedLevel) String() string {
	switch v {
	case Simple:
		return "simple"
	case Bidirectional:
		return "bidirectional"
	default:
		return "not-verified"
	}
}

// Which selects one of the two key slots.
type Which int

const (
	GossipKey Which = 1
	PublicKey Which = 2
)

// DegradeEvent flags accumulate until reported.
type DegradeEvent int

const (
	EncryptionPaused   DegradeEvent = 0x01
	FingerprintChanged DegradeEvent = 0x02
	VerificationLost   DegradeEvent = 0x04
)

// SaveFlags tell Save how much of the record changed.
type SaveFlags int

const (
	SaveTimestamps SaveFlags = 0x01
	SaveAll        SaveFlags = 0x02
)

// Peerstate is the trust record of one peer address.
type Peerstate struct {
	Addr              string
	LastSeen          int64
	LastSeenAutocrypt int64
	GossipTimestamp   int64
	PreferEncrypt     aheader.PreferEncrypt

	PublicKey            key.Key
	PublicKeyFingerprint string
	PublicKeyVerified    VerifiedLevel

	GossipKey            key.Key
	GossipKeyFingerprint string
	GossipKeyVerified    VerifiedLevel

	degrade DegradeEvent
	dirty   SaveFlags
}

// FromHeader creates a record from the first Autocrypt header seen for a
// peer.
func FromHeader(h *aheader.Header, messageTime int64) *Peerstate {
	p := &Peerstate{}
	p.InitFromHeader(h, messageTime)
	return p
}

// FromGossip creates a record from a gossip header.
func FromGossip(h *aheader.Header, messageTime int64) *Peerstate {
	p := &Peerstate{}
	p.InitFromGossip(h, messageTime)
	return p
}

// InitFromHeader resets the record and fills it from h.
func (p *Peerstate) InitFromHeader(h *aheader.Header, messageTime int64) {
	*p = Peerstate{
		Addr:              h.Addr,
		LastSeen:          messageTime,
		LastSeenAutocrypt: messageTime,
		PreferEncrypt:     h.PreferEncrypt,
		PublicKey:         h.PublicKey,
		dirty:             SaveAll,
	}
	p.RecalcFingerprint()
}

// InitFromGossip resets the record and fills the gossip slot from h.
func (p *Peerstate) InitFromGossip(h *aheader.Header, messageTime int64) {
	*p = Peerstate{
		Addr:            h.Addr,
		GossipTimestamp: messageTime,
		GossipKey:       h.PublicKey,
		dirty:           SaveAll,
	}
	p.RecalcFingerprint()
}

func (p *Peerstate) accepts(h *aheader.Header) bool {
	return h != nil && p.Addr != "" && h.Addr != "" && !h.PublicKey.Empty() &&
		strings.EqualFold(p.Addr, h.Addr)
}

// ApplyHeader merges a newer Autocrypt header. Headers not strictly newer
// than LastSeenAutocrypt leave the record untouched.
func (p *Peerstate) ApplyHeader(h *aheader.Header, messageTime int64) {
	if !p.accepts(h) || messageTime <= p.LastSeenAutocrypt {
		return
	}

	p.LastSeen = messageTime
	p.LastSeenAutocrypt = messageTime
	p.dirty |= SaveTimestamps

	// A header always carries mutual or nopreference, so this also moves
	// a reset peer back to nopreference.
	if (h.PreferEncrypt == aheader.Mutual || h.PreferEncrypt == aheader.NoPreference) &&
		h.PreferEncrypt != p.PreferEncrypt {
		if p.PreferEncrypt == aheader.Mutual {
			p.degrade |= EncryptionPaused
		}
		p.PreferEncrypt = h.PreferEncrypt
		p.dirty |= SaveAll
	}

	if !p.PublicKey.Equals(h.PublicKey) {
		p.PublicKey = h.PublicKey
		p.resetVerified(PublicKey)
		p.RecalcFingerprint()
		p.dirty |= SaveAll
	}
}

// ApplyGossip merges a newer gossip header into the gossip slot. It never
// touches PreferEncrypt.
func (p *Peerstate) ApplyGossip(h *aheader.Header, messageTime int64) {
	if !p.accepts(h) || messageTime <= p.GossipTimestamp {
		return
	}

	p.GossipTimestamp = messageTime
	p.dirty |= SaveTimestamps

	if !p.GossipKey.Equals(h.PublicKey) {
		p.GossipKey = h.PublicKey
		p.resetVerified(GossipKey)
		p.RecalcFingerprint()
		p.dirty |= SaveAll
	}
}

// DegradeEncryption records that the peer sent a message without Autocrypt
// data. LastSeenAutocrypt is left alone.
func (p *Peerstate) DegradeEncryption(messageTime int64) {
	if p.PreferEncrypt == aheader.Mutual {
		p.degrade |= EncryptionPaused
	}
	p.PreferEncrypt = aheader.Reset
	p.LastSeen = messageTime
	p.dirty |= SaveAll
}

// RecalcFingerprint recomputes both cached fingerprints. An unparsable key
// gets the empty fingerprint, which is still saved. A changed fingerprint
// resets that key's verification.
func (p *Peerstate) RecalcFingerprint() {
	if !p.PublicKey.Empty() {
		old := p.PublicKeyFingerprint
		p.PublicKeyFingerprint = p.PublicKey.Fingerprint()
		if fingerprintChanged(old, p.PublicKeyFingerprint) {
			p.dirty |= SaveAll
			if old != "" {
				p.degrade |= FingerprintChanged
				p.resetVerified(PublicKey)
			}
		}
	} else if p.PublicKeyFingerprint != "" {
		p.PublicKeyFingerprint = ""
		p.resetVerified(PublicKey)
	}

	if !p.GossipKey.Empty() {
		old := p.GossipKeyFingerprint
		p.GossipKeyFingerprint = p.GossipKey.Fingerprint()
		if fingerprintChanged(old, p.GossipKeyFingerprint) {
			p.dirty |= SaveAll
			if old != "" {
				p.degrade |= FingerprintChanged
				p.resetVerified(GossipKey)
			}
		}
	} else if p.GossipKeyFingerprint != "" {
		p.GossipKeyFingerprint = ""
		p.resetVerified(GossipKey)
	}
}

func fingerprintChanged(old, cur string) bool {
	return old == "" || cur == "" || !strings.EqualFold(old, cur)
}

// resetVerified drops the verification of one slot and raises
// VerificationLost if no bidirectionally verified key remains.
func (p *Peerstate) resetVerified(which Which) {
	before := p.VerifiedLevel()

	switch which {
	case PublicKey:
		if p.PublicKeyVerified == NotVerified {
			return
		}
		p.PublicKeyVerified = NotVerified
	case GossipKey:
		if p.GossipKeyVerified == NotVerified {
			return
		}
		p.GossipKeyVerified = NotVerified
	}
	p.dirty |= SaveAll

	if before == Bidirectional && p.VerifiedLevel() != Bidirectional {
		p.degrade |= VerificationLost
	}
}

// PeekKey returns the key to encrypt to, or false if no key meets
// minVerified. When both keys are bidirectionally verified the more
// recently seen one wins.
func (p *Peerstate) PeekKey(minVerified VerifiedLevel) (key.Key, bool) {
	hasPublic := !p.PublicKey.Empty()
	hasGossip := !p.GossipKey.Empty()

	if hasPublic && hasGossip &&
		p.PublicKeyVerified >= Bidirectional && p.GossipKeyVerified >= Bidirectional {
		if p.GossipTimestamp > p.LastSeenAutocrypt {
			return p.GossipKey, true
		}
		return p.PublicKey, true
	}
	if hasPublic && p.PublicKeyVerified >= minVerified {
		return p.PublicKey, true
	}
	if hasGossip && p.GossipKeyVerified >= minVerified {
		return p.GossipKey, true
	}
	return key.Key{}, false
}

// SetVerified marks a key as verified if its stored fingerprint still
// equals fpr. It returns false and changes nothing otherwise, which covers
// the key having been replaced since the fingerprint was checked.
func (p *Peerstate) SetVerified(which Which, fpr string, level VerifiedLevel) bool {
	if fpr == "" || level < NotVerified || level > Bidirectional {
		return false
	}

	switch which {
	case PublicKey:
		if p.PublicKeyFingerprint == "" || !strings.EqualFold(p.PublicKeyFingerprint, fpr) {
			return false
		}
		p.PublicKeyVerified = level
	case GossipKey:
		if p.GossipKeyFingerprint == "" || !strings.EqualFold(p.GossipKeyFingerprint, fpr) {
			return false
		}
		p.GossipKeyVerified = level
	default:
		return false
	}

	p.dirty |= SaveAll
	return true
}

// RenderGossipHeader builds an Autocrypt-Gossip value for the key PeekKey
// selects. The preference is never gossiped.
func (p *Peerstate) RenderGossipHeader(minVerified VerifiedLevel) (string, bool) {
	if p.Addr == "" {
		return "", false
	}
	k, ok := p.PeekKey(minVerified)
	if !ok {
		return "", false
	}
	h := &aheader.Header{
		Addr:          p.Addr,
		PreferEncrypt: aheader.NoPreference,
		PublicKey:     k,
	}
	s, err := h.Render()
	if err != nil {
		return "", false
	}
	return s, true
}

// VerifiedLevel returns the strongest verification of any present key.
func (p *Peerstate) VerifiedLevel() VerifiedLevel {
	level := NotVerified
	if !p.PublicKey.Empty() && p.PublicKeyVerified > level {
		level = p.PublicKeyVerified
	}
	if !p.GossipKey.Empty() && p.GossipKeyVerified > level {
		level = p.GossipKeyVerified
	}
	return level
}

// HasVerifiedKey reports whether a bidirectionally verified key of the peer
// has one of the given fingerprints.
func (p *Peerstate) HasVerifiedKey(fingerprints []string) bool {
	for _, fpr := range fingerprints {
		if fpr == "" {
			continue
		}
		if p.PublicKeyVerified == Bidirectional && strings.EqualFold(p.PublicKeyFingerprint, fpr) {
			return true
		}
		if p.GossipKeyVerified == Bidirectional && strings.EqualFold(p.GossipKeyFingerprint, fpr) {
			return true
		}
	}
	return false
}

// HasFingerprint reports whether either key has the fingerprint fpr.
func (p *Peerstate) HasFingerprint(fpr string) bool {
	if fpr == "" {
		return false
	}
	return strings.EqualFold(p.PublicKeyFingerprint, fpr) || strings.EqualFold(p.GossipKeyFingerprint, fpr)
}

// DegradeEvents returns the flags raised since the last ClearDegrade.
func (p *Peerstate) DegradeEvents() DegradeEvent {
	return p.degrade
}

// ClearDegrade consumes the pending degrade flags.
func (p *Peerstate) ClearDegrade() {
	p.degrade = 0
}

// Dirty returns what Save would write.
func (p *Peerstate) Dirty() SaveFlags {
	return p.dirty
}
