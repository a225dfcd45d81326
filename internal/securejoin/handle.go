package securejoin

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/token"
)

// Handle processes one incoming handshake message. Replayed, stale and
// out-of-order messages are logged and dropped. Failed checks of a
// step end the handshake, leave a device message in the contact chat and
// are returned as a *ProtocolError.
func (e *Engine) Handle(ctx context.Context, msg Message) (Disposition, error) {
	if msg.FromID <= model.ContactIDLastSpecial || msg.Step == "" {
		return 0, nil
	}
	e.log.Infow("handling secure-join message", "step", msg.Step, "contact", msg.FromID)

	contactChatID, err := e.contactChat(ctx, msg.FromID)
	if err != nil {
		return 0, err
	}

	h := &handshake{Engine: e, msg: msg, contactChatID: contactChatID, joinVG: strings.HasPrefix(msg.Step, "vg-")}
	ret := StopNormalProcessing

	switch msg.Step {
	case "vc-request", "vg-request":
		err = h.request(ctx)
	case "vc-auth-required", "vg-auth-required":
		err = h.authRequired(ctx)
	case "vc-request-with-auth", "vg-request-with-auth":
		err = h.requestWithAuth(ctx)
	case "vc-contact-confirm", "vg-member-added":
		if h.joinVG {
			ret = ContinueNormalProcessing
		}
		err = h.contactConfirm(ctx)
	case "vg-member-added-received":
		err = h.memberAddedReceived(ctx)
	default:
		e.log.Infow("ignoring unknown secure-join step", "step", msg.Step)
	}

	if err == nil && ret&StopNormalProcessing != 0 {
		ret |= DeleteMessage
	}
	return ret, err
}

// handshake is the context of one handled message.
type handshake struct {
	*Engine
	msg           Message
	contactChatID int64
	joinVG        bool
}

func (h *handshake) step(name string) string {
	if h.joinVG {
		return "vg-" + name
	}
	return "vc-" + name
}

// fail reports a failed check to the user and returns it as error.
func (h *handshake) fail(ctx context.Context, reason string) error {
	perr := &ProtocolError{Step: h.msg.Step, Reason: reason}

	addr := ""
	if c, err := h.mb.GetContact(ctx, h.msg.FromID); err == nil {
		addr = c.Addr
	}
	if _, err := h.mb.AddDeviceMessage(ctx, h.contactChatID,
		fmt.Sprintf("Could not establish secure connection to %s.", addr)); err != nil {
		h.log.Warnw("adding device message", "error", err)
	}
	h.log.Errorw("secure-join failed", "step", h.msg.Step, "contact", h.msg.FromID, "reason", reason)
	return perr
}

func (h *handshake) established(ctx context.Context) error {
	c, err := h.mb.GetContact(ctx, h.msg.FromID)
	if err != nil {
		return err
	}
	if _, err := h.mb.AddDeviceMessage(ctx, h.contactChatID,
		fmt.Sprintf("Secure connection to %s established.", c.Addr)); err != nil {
		return err
	}
	h.mb.Emit(event.Event{Kind: event.ChatModified, Data1: h.contactChatID})
	return nil
}

// session returns the join waiting for a message from this chat.
func (h *handshake) session() *Session {
	h.mb.Lock()
	defer h.mb.Unlock()
	return h.sessions[h.contactChatID]
}

// expects reports whether sess waits for want.
func (h *handshake) expects(sess *Session, want expect) bool {
	h.mb.Lock()
	defer h.mb.Unlock()
	return sess != nil && sess.expect == want
}

func (h *handshake) finish(sess *Session, err error) {
	h.mb.Lock()
	defer h.mb.Unlock()
	sess.finish(err)
}

// request runs on the inviter. An unknown invite number may come from an
// old code and is ignored.
func (h *handshake) request(ctx context.Context) error {
	if !h.mb.Tokens().Exists(token.InviteNumber, h.msg.InviteNumber) {
		h.log.Warnw("secure-join denied: bad invite number", "contact", h.msg.FromID)
		return nil
	}
	h.log.Infow("secure-join requested", "contact", h.msg.FromID)
	h.emitInviterProgress(h.msg.FromID, event.ProgressStarted)

	return h.sendHandshake(ctx, h.contactChatID, h.step("auth-required"), "", "", "")
}

// authRequired runs on the joiner.
func (h *handshake) authRequired(ctx context.Context) error {
	sess := h.session()
	if !h.expects(sess, expectAuthRequired) || (h.joinVG && !sess.group()) {
		h.log.Warnw("auth-required message out of sync", "contact", h.msg.FromID)
		return nil
	}

	if reason, ok := encryptedAndSigned(h.msg, sess.Scan.Fingerprint); !ok {
		err := h.fail(ctx, reason)
		h.finish(sess, err)
		return err
	}

	equal, err := h.fingerprintEqualsSender(ctx, sess.Scan.Fingerprint, h.contactChatID)
	if err != nil {
		h.finish(sess, err)
		return err
	}
	if !equal {
		err := h.fail(ctx, "Fingerprint mismatch on joiner-side.")
		h.finish(sess, err)
		return err
	}

	h.log.Infow("fingerprint verified", "contact", h.msg.FromID)
	h.emitJoinerProgress(h.msg.FromID, event.ProgressAuthRequired)

	h.mb.Lock()
	sess.expect = expectContactConfirm
	h.mb.Unlock()

	if err := h.sendRequestWithAuth(ctx, sess); err != nil {
		h.finish(sess, err)
		return err
	}
	return nil
}

// requestWithAuth runs on the inviter. The checks run in a fixed order
// and the peer is only marked verified when all of them pass.
func (h *handshake) requestWithAuth(ctx context.Context) error {
	fpr := h.msg.Fingerprint
	if fpr == "" {
		return h.fail(ctx, "Fingerprint not provided.")
	}
	if _, ok := encryptedAndSigned(h.msg, fpr); !ok {
		return h.fail(ctx, "Auth not encrypted.")
	}
	equal, err := h.fingerprintEqualsSender(ctx, fpr, h.contactChatID)
	if err != nil {
		return err
	}
	if !equal {
		return h.fail(ctx, "Fingerprint mismatch on inviter-side.")
	}
	h.log.Infow("fingerprint verified", "contact", h.msg.FromID)

	if h.msg.Auth == "" {
		return h.fail(ctx, "Auth not provided.")
	}
	if !h.mb.Tokens().Exists(token.Auth, h.msg.Auth) {
		return h.fail(ctx, "Auth invalid.")
	}
	if err := h.markPeerVerified(ctx, h.msg.FromID, fpr); err != nil {
		h.log.Debugw("marking peer verified", "error", err)
		return h.fail(ctx, "Fingerprint mismatch on inviter-side.")
	}

	if err := h.mb.ScaleUpOrigin(ctx, h.msg.FromID, model.OriginSecurejoinInvited); err != nil {
		return err
	}
	h.log.Infow("auth verified", "contact", h.msg.FromID)
	if err := h.established(ctx); err != nil {
		return err
	}
	h.mb.Emit(event.Event{Kind: event.ContactsChanged, Data1: h.msg.FromID})
	h.emitInviterProgress(h.msg.FromID, event.ProgressVerified)

	if h.joinVG {
		chat, err := h.mb.GetChatByGrpID(ctx, h.msg.GroupID)
		if err != nil || !chat.IsVerified() {
			h.log.Errorw("verified group not found", "grpid", h.msg.GroupID)
			return &ProtocolError{Step: h.msg.Step, Reason: fmt.Sprintf("Chat %s not found.", h.msg.GroupID)}
		}
		return h.mb.AddContactToChat(ctx, chat.ID, h.msg.FromID, true)
	}

	if err := h.sendHandshake(ctx, h.contactChatID, "vc-contact-confirm", "", "", ""); err != nil {
		return err
	}
	h.emitInviterProgress(h.msg.FromID, event.ProgressDone)
	return nil
}

// contactConfirm runs on the joiner. Other members of a group see the
// vg-member-added broadcast too; for them it is a normal message.
func (h *handshake) contactConfirm(ctx context.Context) error {
	sess := h.session()
	if !h.expects(sess, expectContactConfirm) {
		if h.joinVG {
			h.log.Infow("vg-member-added received as broadcast", "contact", h.msg.FromID)
		} else {
			h.log.Warnw("unexpected secure-join message order", "contact", h.msg.FromID)
		}
		return nil
	}
	if h.joinVG && !sess.group() {
		h.log.Warnw("vg-member-added for a contact join", "contact", h.msg.FromID)
		return nil
	}

	if err := h.confirm(ctx, sess); err != nil {
		h.finish(sess, err)
		return err
	}
	return nil
}

// confirm runs the checks and bookkeeping of contactConfirm. It ends the
// session on success; every error it returns is terminal.
func (h *handshake) confirm(ctx context.Context, sess *Session) error {
	scanned := sess.Scan.Fingerprint
	if _, ok := encryptedAndSigned(h.msg, scanned); !ok {
		return h.fail(ctx, "Contact confirm message not encrypted.")
	}
	if err := h.markPeerVerified(ctx, h.msg.FromID, scanned); err != nil {
		h.log.Debugw("marking peer verified", "error", err)
		return h.fail(ctx, "Fingerprint mismatch on joiner-side.")
	}

	if err := h.mb.ScaleUpOrigin(ctx, h.msg.FromID, model.OriginSecurejoinJoined); err != nil {
		return err
	}
	h.mb.Emit(event.Event{Kind: event.ContactsChanged, Data1: h.msg.FromID})

	if h.joinVG {
		selfAddr, err := h.mb.SelfAddr(ctx)
		if err != nil {
			return err
		}
		if !model.AddrEqual(h.msg.MemberAdded, selfAddr) {
			h.log.Infow("vg-member-added belongs to another handshake", "member", h.msg.MemberAdded)
			return nil
		}
		if err := h.ensureGroup(ctx, sess); err != nil {
			return err
		}
	}

	if err := h.established(ctx); err != nil {
		return err
	}
	h.mb.Lock()
	sess.expect = expectNothing
	h.mb.Unlock()

	if h.joinVG {
		if err := h.sendHandshake(ctx, h.contactChatID, "vg-member-added-received", "", "", ""); err != nil {
			return err
		}
	}
	h.emitJoinerProgress(h.msg.FromID, event.ProgressDone)
	h.finish(sess, nil)
	return nil
}

// ensureGroup creates the verified group the joiner was added to, so the
// announcement can be stored in it.
func (h *handshake) ensureGroup(ctx context.Context, sess *Session) error {
	if _, err := h.mb.GetChatByGrpID(ctx, sess.Scan.GroupID); err == nil {
		return nil
	}
	chatID, err := h.mb.CreateGroupChat(ctx, sess.Scan.GroupName, sess.Scan.GroupID, true)
	if err != nil {
		return err
	}
	if _, err := h.mb.AddChatContact(ctx, chatID, h.msg.FromID); err != nil {
		return err
	}
	h.mb.Emit(event.Event{Kind: event.ChatModified, Data1: chatID})
	return nil
}

// memberAddedReceived runs on the inviter after a group join.
func (h *handshake) memberAddedReceived(ctx context.Context) error {
	c, err := h.mb.GetContact(ctx, h.msg.FromID)
	if err != nil {
		return err
	}
	ps, err := peerstate.LoadByAddr(ctx, h.mb, c.Addr)
	if err != nil || ps.VerifiedLevel() != peerstate.Bidirectional {
		h.log.Warnw("vg-member-added-received from unverified contact", "contact", h.msg.FromID)
		return nil
	}
	h.emitInviterProgress(h.msg.FromID, event.ProgressMemberAdded)
	h.emitInviterProgress(h.msg.FromID, event.ProgressDone)
	return nil
}
