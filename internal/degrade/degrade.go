// Package degrade tells the user when a peer's encryption setup got
// weaker.
package degrade

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/mailbox"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/store"
)

// Reporter turns pending degrade events of a peer state into device
// messages.
type Reporter struct {
	mb  mailbox.Facade
	log *zap.SugaredLogger
}

// NewReporter creates a reporter for mb.
func NewReporter(mb mailbox.Facade, log *zap.SugaredLogger) *Reporter {
	return &Reporter{mb: mb, log: log}
}

// Report announces the pending degrade events of ps and clears them.
// Peers that are not a known contact produce no message.
func (r *Reporter) Report(ctx context.Context, ps *peerstate.Peerstate) error {
	events := ps.DegradeEvents()
	if events == 0 {
		return nil
	}
	defer ps.ClearDegrade()

	if events&peerstate.EncryptionPaused != 0 {
		r.log.Infow("peer paused encryption", "addr", ps.Addr)
	}
	if events&(peerstate.FingerprintChanged|peerstate.VerificationLost) == 0 {
		return nil
	}

	contact, err := r.mb.GetContactByAddr(ctx, ps.Addr)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Debugw("degrade event for unknown contact", "addr", ps.Addr)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reporting degrade for %s: %w", ps.Addr, err)
	}

	chatID, _, err := r.mb.CreateOrLookupSingleChat(ctx, contact.ID, model.ChatDeaddropBlocked)
	if err != nil {
		return fmt.Errorf("reporting degrade for %s: %w", ps.Addr, err)
	}

	if events&peerstate.FingerprintChanged != 0 {
		if _, err := r.mb.AddDeviceMessage(ctx, chatID, fmt.Sprintf("Changed setup for %s.", ps.Addr)); err != nil {
			return err
		}
		r.mb.Emit(event.Event{Kind: event.ChatModified, Data1: chatID})
		r.log.Warnw("peer fingerprint changed", "addr", ps.Addr, "fingerprint", ps.PublicKeyFingerprint)
	}

	if events&peerstate.VerificationLost != 0 {
		if _, err := r.mb.AddDeviceMessage(ctx, chatID, fmt.Sprintf("%s is no longer verified.", ps.Addr)); err != nil {
			return err
		}
		r.mb.Emit(event.Event{Kind: event.ContactsChanged, Data1: contact.ID})
		r.log.Warnw("peer lost verification", "addr", ps.Addr)
	}
	return nil
}
