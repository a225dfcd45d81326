// Package receive feeds incoming messages through the trust engine: it
// updates peer states from Autocrypt headers, decrypts, applies gossip and
// dispatches handshake messages before storing the message.
package receive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/peertrust/internal/aheader"
	"github.com/nhle/peertrust/internal/degrade"
	"github.com/nhle/peertrust/internal/e2ee"
	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/mailbox"
	"github.com/nhle/peertrust/internal/mime"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/securejoin"
	"github.com/nhle/peertrust/internal/store"
)

// Handler processes handshake messages.
type Handler interface {
	Handle(ctx context.Context, msg securejoin.Message) (securejoin.Disposition, error)
}

// Result describes what happened to a received message.
type Result struct {
	MessageID   string
	ChatID      int64
	FromID      int64
	Encrypted   bool
	Disposition securejoin.Disposition
	// Skipped is set for own and already known messages.
	Skipped bool
}

// Receiver processes raw incoming messages for one mailbox.
type Receiver struct {
	mb      mailbox.Facade
	degrade *degrade.Reporter
	handler Handler
	log     *zap.SugaredLogger
	now     func() time.Time
}

// New creates a receiver. A nil handler stores handshake messages like
// any other message.
func New(mb mailbox.Facade, reporter *degrade.Reporter, handler Handler, log *zap.SugaredLogger) *Receiver {
	return &Receiver{
		mb:      mb,
		degrade: reporter,
		handler: handler,
		log:     log,
		now:     time.Now,
	}
}

// decrypted is what the locked part of Receive found out.
type decrypted struct {
	encrypted  bool
	signatures e2ee.Signatures
	sender     *peerstate.Peerstate
}

// Receive processes one RFC 5322 message.
func (r *Receiver) Receive(ctx context.Context, raw []byte) (*Result, error) {
	p, err := mime.Parse(raw)
	if err != nil {
		return nil, err
	}
	if p.FromAddr == "" {
		return nil, errors.New("receiving message: no sender")
	}
	res := &Result{MessageID: p.MessageID}

	selfAddr, err := r.mb.SelfAddr(ctx)
	if err != nil {
		return nil, err
	}
	if model.AddrEqual(p.FromAddr, selfAddr) {
		res.Skipped = true
		return res, nil
	}
	if p.MessageID != "" {
		exists, err := r.mb.MessageExists(ctx, p.MessageID)
		if err != nil {
			return nil, err
		}
		if exists {
			r.log.Debugw("skipping known message", "message_id", p.MessageID)
			res.Skipped = true
			return res, nil
		}
	}

	d, err := r.updatePeerstates(ctx, p, selfAddr, r.messageTime(p.Date))
	if err != nil {
		return nil, err
	}
	res.Encrypted = d.encrypted

	fromID, _, err := r.mb.AddOrLookupContact(ctx, p.FromName, p.FromAddr, model.OriginIncomingUnknownFrom)
	if err != nil {
		return nil, err
	}
	res.FromID = fromID

	hidden := false
	if step := p.Get(mime.HeaderSecureJoin); step != "" && r.handler != nil {
		disp, err := r.handler.Handle(ctx, securejoin.Message{
			FromID:       fromID,
			Step:         step,
			InviteNumber: p.Get(mime.HeaderSecureJoinInvitenumber),
			Auth:         p.Get(mime.HeaderSecureJoinAuth),
			Fingerprint:  p.Get(mime.HeaderSecureJoinFingerprint),
			GroupID:      p.Get(mime.HeaderSecureJoinGroup),
			MemberAdded:  p.Get(mime.HeaderChatGroupMemberAdded),
			Encrypted:    d.encrypted,
			Signatures:   d.signatures,
		})
		switch {
		case securejoin.IsProtocolError(err):
			r.log.Warnw("handshake aborted", "step", step, "error", err)
			r.mb.Emit(event.Event{Kind: event.Warning, Text: err.Error()})
		case err != nil:
			r.log.Errorw("handling handshake message", "step", step, "error", err)
			r.mb.Emit(event.Event{Kind: event.Error, Text: err.Error()})
		}
		res.Disposition = disp
		hidden = disp&securejoin.StopNormalProcessing != 0
	}

	var chatID int64
	if hidden {
		chatID, _, err = r.mb.CreateOrLookupSingleChat(ctx, fromID, model.ChatNotBlocked)
	} else {
		chatID, err = r.chatFor(ctx, p, fromID, selfAddr, d)
	}
	if err != nil {
		return nil, err
	}
	res.ChatID = chatID

	ts := p.Date
	if ts.IsZero() || ts.After(r.now()) {
		ts = r.now()
	}
	id, err := r.mb.InsertMessage(ctx, model.Message{
		ChatID:    chatID,
		FromID:    fromID,
		State:     model.MessageIncoming,
		RFC724MID: p.MessageID,
		Text:      p.Text,
		Hidden:    hidden,
		Encrypted: d.encrypted,
		Timestamp: ts,
	})
	if err != nil {
		return nil, err
	}
	if !hidden {
		r.mb.Emit(event.Event{Kind: event.MsgsChanged, Data1: chatID, Data2: id})
	}

	r.log.Debugw("received message",
		"message_id", p.MessageID,
		"from", p.FromAddr,
		"chat", chatID,
		"encrypted", d.encrypted,
		"hidden", hidden,
	)
	return res, nil
}

// messageTime returns the sent time in Unix seconds, never later than
// now. Zero means the message has no usable date.
func (r *Receiver) messageTime(date time.Time) int64 {
	if date.IsZero() {
		return 0
	}
	now := r.now()
	if date.After(now) {
		date = now
	}
	return date.Unix()
}

// updatePeerstates applies the Autocrypt header, decrypts and applies
// gossip. It holds the mailbox lock for the whole read-modify-write.
func (r *Receiver) updatePeerstates(ctx context.Context, p *mime.Parsed, selfAddr string, msgTime int64) (decrypted, error) {
	r.mb.Lock()
	defer r.mb.Unlock()

	var d decrypted

	header := aheader.FromMailHeader(p.Header, p.FromAddr)
	if header != nil && header.PublicKey.Fingerprint() == "" {
		r.log.Infow("ignoring autocrypt header with unusable key", "from", p.FromAddr)
		header = nil
	}

	ps, err := peerstate.LoadByAddr(ctx, r.mb, p.FromAddr)
	found := err == nil
	if msgTime > 0 {
		switch {
		case found && header != nil:
			ps.ApplyHeader(header, msgTime)
			if err := ps.Save(ctx, r.mb, false); err != nil {
				return d, err
			}
		case found && msgTime > ps.LastSeenAutocrypt:
			ps.DegradeEncryption(msgTime)
			if err := ps.Save(ctx, r.mb, false); err != nil {
				return d, err
			}
		case !found && header != nil:
			ps = peerstate.FromHeader(header, msgTime)
			if err := ps.Save(ctx, r.mb, true); err != nil {
				return d, err
			}
		}
	}
	if ps != nil {
		if err := r.degrade.Report(ctx, ps); err != nil {
			r.log.Warnw("reporting degrade event", "addr", ps.Addr, "error", err)
		}
	}
	d.sender = ps

	if !p.Encrypted() {
		return d, nil
	}

	priv, err := r.mb.SelfPrivateKey(ctx)
	if err != nil {
		return d, err
	}
	var publics []key.Key
	if ps != nil {
		publics = append(publics, ps.GossipKey, ps.PublicKey)
	}

	res, err := e2ee.Decrypt(p.Payload, priv, publics)
	if err != nil {
		r.log.Warnw("cannot decrypt message", "message_id", p.MessageID, "from", p.FromAddr, "error", err)
		return d, nil
	}
	if err := p.SetInner(res.Plaintext); err != nil {
		r.log.Warnw("cannot parse decrypted message", "message_id", p.MessageID, "error", err)
		return d, nil
	}
	d.encrypted = res.Encrypted
	d.signatures = res.Signatures

	if d.encrypted && msgTime > 0 {
		r.applyGossip(ctx, p, selfAddr, msgTime)
	}
	return d, nil
}

// applyGossip takes Autocrypt-Gossip headers for addresses the message
// was sent to. Gossip about ourselves is skipped.
func (r *Receiver) applyGossip(ctx context.Context, p *mime.Parsed, selfAddr string, msgTime int64) {
	recipients := make(map[string]bool)
	for _, addr := range p.Recipients() {
		recipients[strings.ToLower(model.NormalizeAddr(addr))] = true
	}

	for _, value := range p.Gossip() {
		h, err := aheader.Parse(value)
		if err != nil || h.PublicKey.Fingerprint() == "" || model.AddrEqual(h.Addr, selfAddr) {
			continue
		}
		if !recipients[strings.ToLower(h.Addr)] {
			r.log.Infow("ignoring gossip for address not in To/Cc", "addr", h.Addr)
			continue
		}

		ps, err := peerstate.LoadByAddr(ctx, r.mb, h.Addr)
		create := errors.Is(err, store.ErrNotFound)
		switch {
		case create:
			ps = peerstate.FromGossip(h, msgTime)
		case err != nil:
			r.log.Warnw("loading gossiped peerstate", "addr", h.Addr, "error", err)
			continue
		default:
			ps.ApplyGossip(h, msgTime)
		}
		if err := ps.Save(ctx, r.mb, create); err != nil {
			r.log.Warnw("saving gossiped peerstate", "addr", h.Addr, "error", err)
			continue
		}
		if err := r.degrade.Report(ctx, ps); err != nil {
			r.log.Warnw("reporting degrade event", "addr", ps.Addr, "error", err)
		}
	}
}

// chatFor returns the chat a visible message belongs to, creating groups
// on first sight.
func (r *Receiver) chatFor(ctx context.Context, p *mime.Parsed, fromID int64, selfAddr string, d decrypted) (int64, error) {
	grpID := p.Get(mime.HeaderChatGroupID)
	if grpID == "" {
		chatID, _, err := r.mb.CreateOrLookupSingleChat(ctx, fromID, model.ChatDeaddropBlocked)
		return chatID, err
	}

	chat, err := r.mb.GetChatByGrpID(ctx, grpID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		verified := p.Get(mime.HeaderChatVerified) != "" && d.encrypted &&
			d.sender != nil && d.sender.HasVerifiedKey(d.signatures.Valid)
		if p.Get(mime.HeaderChatVerified) != "" && !verified {
			r.log.Warnw("creating unverified group for verified announcement", "grpid", grpID, "from", p.FromAddr)
		}
		id, err := r.mb.CreateGroupChat(ctx, p.Get(mime.HeaderChatGroupName), grpID, verified)
		if err != nil {
			return 0, err
		}
		r.mb.Emit(event.Event{Kind: event.ChatModified, Data1: id})
		if chat, err = r.mb.GetChat(ctx, id); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	members := []int64{fromID}
	for _, addr := range p.Recipients() {
		if model.AddrEqual(addr, selfAddr) {
			continue
		}
		id, _, err := r.mb.AddOrLookupContact(ctx, "", addr, model.OriginIncomingUnknownTo)
		if err != nil {
			r.log.Infow("skipping group member", "addr", addr, "error", err)
			continue
		}
		members = append(members, id)
	}
	for _, id := range members {
		added, err := r.mb.AddChatContact(ctx, chat.ID, id)
		if err != nil {
			return 0, fmt.Errorf("adding member %d to chat %d: %w", id, chat.ID, err)
		}
		if added {
			r.mb.Emit(event.Event{Kind: event.ChatModified, Data1: chat.ID})
		}
	}
	return chat.ID, nil
}
