// Package securejoin runs the QR-code based handshake that turns an
// opportunistically encrypted contact into a verified one, or adds a
// contact to a verified group.
//
// The inviter shows a code carrying its fingerprint and two secrets. The
// joiner scans it and the two sides exchange hidden messages:
//
//	joiner                              inviter
//	vc-request (invite number)   ->
//	                             <-     vc-auth-required
//	vc-request-with-auth (auth)  ->
//	                             <-     vc-contact-confirm
//
// Group joins use the vg- steps; the last inviter message is the
// vg-member-added announcement to the group.
package securejoin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/peertrust/internal/aheader"
	"github.com/nhle/peertrust/internal/e2ee"
	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/mailbox"
	"github.com/nhle/peertrust/internal/mime"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/qr"
	"github.com/nhle/peertrust/internal/token"
)

// Disposition tells the receive pipeline what to do with a handshake
// message after Handle.
type Disposition int

const (
	StopNormalProcessing     Disposition = 0x01
	ContinueNormalProcessing Disposition = 0x02
	DeleteMessage            Disposition = 0x04
)

// Message is an incoming message carrying a Secure-Join header.
type Message struct {
	FromID       int64
	Step         string
	InviteNumber string
	Auth         string
	Fingerprint  string
	GroupID      string
	// MemberAdded is the Chat-Group-Member-Added address.
	MemberAdded string
	Encrypted   bool
	Signatures  e2ee.Signatures
}

// Options tune an Engine.
type Options struct {
	// JoinTimeout bounds Join. Zero waits until the context is done.
	JoinTimeout time.Duration
}

// Engine runs both sides of the handshake for one mailbox.
type Engine struct {
	mb       mailbox.Facade
	qr       *qr.Interpreter
	log      *zap.SugaredLogger
	opts     Options
	sessions map[int64]*Session
}

// New creates an engine for mb.
func New(mb mailbox.Facade, interp *qr.Interpreter, log *zap.SugaredLogger, opts Options) *Engine {
	return &Engine{
		mb:       mb,
		qr:       interp,
		log:      log,
		opts:     opts,
		sessions: make(map[int64]*Session),
	}
}

// QR returns the invitation code for a contact join, or for a join into
// the verified group groupChatID when it is not zero. The secrets of a
// chat are reused until they fall out of the token history.
func (e *Engine) QR(ctx context.Context, groupChatID int64) (string, error) {
	if err := e.mb.EnsureSecretKey(ctx); err != nil {
		return "", err
	}
	selfAddr, err := e.mb.SelfAddr(ctx)
	if err != nil {
		return "", err
	}
	fpr, err := e.mb.SelfFingerprint(ctx)
	if err != nil {
		return "", err
	}

	inv := qr.Invite{
		Fingerprint: fpr,
		Addr:        selfAddr,
		Name:        e.mb.DisplayName(ctx),
	}
	if groupChatID != 0 {
		chat, err := e.mb.GetChat(ctx, groupChatID)
		if err != nil {
			return "", err
		}
		if !chat.IsVerified() {
			return "", fmt.Errorf("creating QR code for chat %d: %w", groupChatID, ErrNotVerifiedGroup)
		}
		inv.GroupID = chat.GrpID
		inv.GroupName = chat.Name
	}

	tokens := e.mb.Tokens()
	if inv.InviteNumber, err = tokens.LookupOrCreate(ctx, token.InviteNumber, groupChatID); err != nil {
		return "", err
	}
	if inv.Auth, err = tokens.LookupOrCreate(ctx, token.Auth, groupChatID); err != nil {
		return "", err
	}

	text := qr.Format(inv)
	e.log.Infow("generated secure-join QR code", "chat", groupChatID, "addr", selfAddr)
	return text, nil
}

// Join scans text and runs the joiner side of the handshake. It blocks
// until the handshake ends or ctx is done and returns the chat with the
// inviter, or the group chat for group invitations.
func (e *Engine) Join(ctx context.Context, text string) (int64, error) {
	if err := e.mb.EnsureSecretKey(ctx); err != nil {
		return 0, err
	}

	scan, err := e.qr.Check(ctx, text)
	if err != nil {
		return 0, err
	}
	if scan.State != qr.AskVerifyContact && scan.State != qr.AskVerifyGroup {
		e.log.Errorw("unknown QR code", "state", scan.State.String())
		return 0, ErrNotInvitation
	}

	contactChatID, err := e.contactChat(ctx, scan.ContactID)
	if err != nil {
		return 0, err
	}

	sess := newSession(contactChatID, scan)
	e.mb.Lock()
	if _, running := e.sessions[contactChatID]; running {
		e.mb.Unlock()
		return 0, ErrAlreadyJoining
	}
	e.sessions[contactChatID] = sess
	e.mb.Unlock()

	defer func() {
		e.mb.Lock()
		delete(e.sessions, contactChatID)
		e.mb.Unlock()
	}()

	if err := e.startJoin(ctx, sess); err != nil {
		return 0, err
	}

	if e.opts.JoinTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.JoinTimeout)
		defer cancel()
	}

	select {
	case err := <-sess.done:
		if err != nil {
			return 0, err
		}
	case <-ctx.Done():
		e.log.Infow("secure-join cancelled", "chat", contactChatID)
		return 0, ctx.Err()
	}

	if sess.group() {
		chat, err := e.mb.GetChatByGrpID(ctx, scan.GroupID)
		if err != nil {
			return 0, err
		}
		return chat.ID, nil
	}
	return contactChatID, nil
}

func (e *Engine) startJoin(ctx context.Context, sess *Session) error {
	scan := sess.Scan
	prefix := "vc-"
	if sess.group() {
		prefix = "vg-"
	}

	equal, err := e.fingerprintEqualsSender(ctx, scan.Fingerprint, sess.ContactChatID)
	if err != nil {
		return err
	}

	if equal {
		e.log.Infow("taking protocol shortcut", "chat", sess.ContactChatID)
		e.emitJoinerProgress(sess.ContactID, event.ProgressAuthRequired)
		e.mb.Lock()
		sess.expect = expectContactConfirm
		e.mb.Unlock()
		return e.sendRequestWithAuth(ctx, sess)
	}

	e.mb.Lock()
	sess.expect = expectAuthRequired
	e.mb.Unlock()
	return e.sendHandshake(ctx, sess.ContactChatID, prefix+"request", scan.InviteNumber, "", "")
}

func (e *Engine) sendRequestWithAuth(ctx context.Context, sess *Session) error {
	ownFpr, err := e.mb.SelfFingerprint(ctx)
	if err != nil {
		return err
	}
	step, grpID := "vc-request-with-auth", ""
	if sess.group() {
		step, grpID = "vg-request-with-auth", sess.Scan.GroupID
	}
	return e.sendHandshake(ctx, sess.ContactChatID, step, sess.Scan.Auth, ownFpr, grpID)
}

// sendHandshake sends a hidden step message. Requests go out in the clear
// since the joiner may not know a key yet; every later step must be
// encrypted.
func (e *Engine) sendHandshake(ctx context.Context, chatID int64, step, param, fingerprint, grpID string) error {
	msg := mailbox.OutgoingMessage{
		Text:      "Secure-Join: " + step,
		Hidden:    true,
		Protected: []mime.Field{{Name: mime.HeaderSecureJoin, Value: step}},
	}
	if param != "" {
		name := mime.HeaderSecureJoinAuth
		if step == "vc-request" || step == "vg-request" {
			name = mime.HeaderSecureJoinInvitenumber
		}
		msg.Protected = append(msg.Protected, mime.Field{Name: name, Value: param})
	}
	if fingerprint != "" {
		msg.Protected = append(msg.Protected, mime.Field{Name: mime.HeaderSecureJoinFingerprint, Value: fingerprint})
	}
	if grpID != "" {
		msg.Protected = append(msg.Protected, mime.Field{Name: mime.HeaderSecureJoinGroup, Value: grpID})
	}

	if step == "vc-request" || step == "vg-request" {
		msg.ForcePlaintext = true
	} else {
		msg.GuaranteeE2EE = true
	}

	if _, err := e.mb.SendMsg(ctx, chatID, msg); err != nil {
		return fmt.Errorf("sending %s: %w", step, err)
	}
	e.log.Debugw("sent handshake message", "step", step, "chat", chatID)
	return nil
}

// contactChat returns the unblocked one-to-one chat with contactID.
func (e *Engine) contactChat(ctx context.Context, contactID int64) (int64, error) {
	chatID, blocked, err := e.mb.CreateOrLookupSingleChat(ctx, contactID, model.ChatNotBlocked)
	if err != nil {
		return 0, err
	}
	if blocked != model.ChatNotBlocked {
		if err := e.mb.UnblockChat(ctx, chatID); err != nil {
			return 0, err
		}
	}
	return chatID, nil
}

// fingerprintEqualsSender reports whether fpr is the public key
// fingerprint we know for the single contact of contactChatID.
func (e *Engine) fingerprintEqualsSender(ctx context.Context, fpr string, contactChatID int64) (bool, error) {
	members, err := e.mb.GetChatContacts(ctx, contactChatID)
	if err != nil {
		return false, err
	}
	if len(members) != 1 {
		return false, nil
	}
	c, err := e.mb.GetContact(ctx, members[0])
	if err != nil {
		return false, err
	}
	ps, err := peerstate.LoadByAddr(ctx, e.mb, c.Addr)
	if err != nil {
		return false, nil
	}
	fpr = key.NormalizeFingerprint(fpr)
	return fpr != "" && strings.EqualFold(fpr, ps.PublicKeyFingerprint), nil
}

// encryptedAndSigned checks that msg was encrypted and carries a good
// signature by fpr. The reason describes the first failed check.
func encryptedAndSigned(msg Message, fpr string) (reason string, ok bool) {
	switch {
	case !msg.Encrypted:
		return "Not encrypted.", false
	case len(msg.Signatures.Valid) == 0:
		return "No valid signature.", false
	case fpr == "":
		return "Fingerprint for comparison missing.", false
	case !msg.Signatures.IsValid(fpr):
		return "Signed by an unexpected key.", false
	}
	return "", true
}

// markPeerVerified sets the public key of contactID to bidirectionally
// verified when its fingerprint is fpr, and makes the peer prefer
// encryption. Other addresses holding the same key are left alone.
func (e *Engine) markPeerVerified(ctx context.Context, contactID int64, fpr string) error {
	c, err := e.mb.GetContact(ctx, contactID)
	if err != nil {
		return err
	}

	e.mb.Lock()
	defer e.mb.Unlock()

	ps, err := peerstate.LoadByAddr(ctx, e.mb, c.Addr)
	if err != nil {
		return err
	}
	if !ps.SetVerified(peerstate.PublicKey, key.NormalizeFingerprint(fpr), peerstate.Bidirectional) {
		return fmt.Errorf("verifying %s: fingerprint %s is not the public key", ps.Addr, fpr)
	}
	ps.PreferEncrypt = aheader.Mutual
	return ps.Save(ctx, e.mb, false)
}

func (e *Engine) emitInviterProgress(contactID int64, progress int64) {
	e.mb.Emit(event.Event{Kind: event.SecurejoinInviterProgress, Data1: contactID, Data2: progress})
}

func (e *Engine) emitJoinerProgress(contactID int64, progress int64) {
	e.mb.Emit(event.Event{Kind: event.SecurejoinJoinerProgress, Data1: contactID, Data2: progress})
}
