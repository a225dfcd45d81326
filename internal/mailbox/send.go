package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/peertrust/internal/aheader"
	"github.com/nhle/peertrust/internal/e2ee"
	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/mime"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/store"
)

// ErrCannotEncrypt is returned when a message must be encrypted but a
// recipient has no usable key.
var ErrCannotEncrypt = errors.New("mailbox: cannot encrypt")

// OutgoingMessage is a message to send into a chat.
type OutgoingMessage struct {
	Text   string
	Hidden bool
	// Protected header fields, such as the Secure-Join ones.
	Protected []mime.Field
	// GuaranteeE2EE fails the send unless it can be encrypted.
	GuaranteeE2EE bool
	// ForcePlaintext never encrypts.
	ForcePlaintext bool
}

type recipient struct {
	addr      string
	peerstate *peerstate.Peerstate
}

// SendMsg renders msg for every member of the chat except self, encrypts
// it when possible (or required) and hands it to the transport. The
// stored message id is returned.
func (m *Mailbox) SendMsg(ctx context.Context, chatID int64, msg OutgoingMessage) (int64, error) {
	if msg.GuaranteeE2EE && msg.ForcePlaintext {
		return 0, errors.New("sending message: both e2ee guaranteed and plaintext forced")
	}

	chat, err := m.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}
	selfAddr, err := m.SelfAddr(ctx)
	if err != nil {
		return 0, err
	}
	pub, err := m.SelfPublicKey(ctx)
	if err != nil {
		return 0, err
	}
	priv, err := m.SelfPrivateKey(ctx)
	if err != nil {
		return 0, err
	}

	recipients, err := m.recipients(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if len(recipients) == 0 {
		return 0, fmt.Errorf("sending message to chat %d: no recipients", chatID)
	}

	self := aheader.Header{Addr: selfAddr, PreferEncrypt: aheader.Mutual, PublicKey: pub}
	autocrypt, err := self.Render()
	if err != nil {
		return 0, fmt.Errorf("rendering autocrypt header: %w", err)
	}

	out := mime.Outgoing{
		FromAddr:  selfAddr,
		FromName:  m.DisplayName(ctx),
		Subject:   subject(m.DisplayName(ctx), selfAddr),
		Text:      msg.Text,
		Autocrypt: autocrypt,
		Protected: append(groupFields(chat), msg.Protected...),
	}
	for _, r := range recipients {
		out.To = append(out.To, r.addr)
	}

	minVerified := peerstate.NotVerified
	if chat.IsVerified() {
		minVerified = peerstate.Bidirectional
	}

	var encrypt mime.Encrypter
	if !msg.ForcePlaintext {
		keys, mutual, missing := recipientKeys(recipients, minVerified)
		switch {
		case missing != "" && (msg.GuaranteeE2EE || chat.IsVerified()):
			return 0, fmt.Errorf("sending message to chat %d: %w to %s", chatID, ErrCannotEncrypt, missing)
		case missing == "" && (mutual || msg.GuaranteeE2EE || chat.IsVerified()):
			keys = append(keys, pub)
			encrypt = func(inner []byte) ([]byte, error) {
				return e2ee.Encrypt(inner, keys, priv, m.keyCfg)
			}
			if len(recipients) > 1 {
				out.Gossip = gossip(recipients, minVerified)
			}
		}
	}

	raw, messageID, err := mime.Build(out, encrypt)
	if err != nil {
		return 0, err
	}
	if err := m.transport.Send(ctx, selfAddr, out.To, raw); err != nil {
		return 0, fmt.Errorf("sending message to chat %d: %w", chatID, err)
	}

	id, err := m.InsertMessage(ctx, model.Message{
		ChatID:    chatID,
		FromID:    model.ContactIDSelf,
		State:     model.MessageOutgoing,
		RFC724MID: messageID,
		Text:      msg.Text,
		Hidden:    msg.Hidden,
		Encrypted: encrypt != nil,
	})
	if err != nil {
		return 0, err
	}

	m.log.Debugw("sent message",
		"chat", chatID,
		"message_id", messageID,
		"encrypted", encrypt != nil,
		"recipients", len(recipients),
	)
	m.Emit(event.Event{Kind: event.MsgsChanged, Data1: chatID, Data2: id})
	return id, nil
}

func (m *Mailbox) recipients(ctx context.Context, chatID int64) ([]recipient, error) {
	ids, err := m.GetChatContacts(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var out []recipient
	for _, id := range ids {
		if id == model.ContactIDSelf {
			continue
		}
		c, err := m.GetContact(ctx, id)
		if err != nil {
			return nil, err
		}
		r := recipient{addr: c.Addr}
		ps, err := peerstate.LoadByAddr(ctx, m, c.Addr)
		if err == nil {
			r.peerstate = ps
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// recipientKeys returns the keys to encrypt to, whether every recipient
// prefers encryption and the first recipient without a usable key.
func recipientKeys(rs []recipient, minVerified peerstate.VerifiedLevel) (keys []key.Key, mutual bool, missing string) {
	mutual = true
	for _, r := range rs {
		if r.peerstate == nil {
			return nil, false, r.addr
		}
		k, ok := r.peerstate.PeekKey(minVerified)
		if !ok {
			return nil, false, r.addr
		}
		if r.peerstate.PreferEncrypt != aheader.Mutual {
			mutual = false
		}
		keys = append(keys, k)
	}
	return keys, mutual, ""
}

func gossip(rs []recipient, minVerified peerstate.VerifiedLevel) []string {
	var out []string
	for _, r := range rs {
		if r.peerstate == nil {
			continue
		}
		if h, ok := r.peerstate.RenderGossipHeader(minVerified); ok {
			out = append(out, h)
		}
	}
	return out
}

func groupFields(chat *model.Chat) []mime.Field {
	if chat.Type == model.ChatTypeSingle {
		return nil
	}
	fields := []mime.Field{
		{Name: mime.HeaderChatGroupID, Value: chat.GrpID},
		{Name: mime.HeaderChatGroupName, Value: chat.Name},
	}
	if chat.IsVerified() {
		fields = append(fields, mime.Field{Name: mime.HeaderChatVerified, Value: "1"})
	}
	return fields
}

func subject(name, addr string) string {
	if name == "" {
		name = addr
	}
	return "Message from " + name
}

// AddContactToChat adds a contact to a group. For groups a
// Chat-Group-Member-Added message is sent to all members; fromHandshake
// marks it as the vg-member-added step of a secure join.
func (m *Mailbox) AddContactToChat(ctx context.Context, chatID, contactID int64, fromHandshake bool) error {
	chat, err := m.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Type == model.ChatTypeSingle {
		return fmt.Errorf("adding contact %d to chat %d: not a group", contactID, chatID)
	}

	c, err := m.GetContact(ctx, contactID)
	if err != nil {
		return err
	}

	added, err := m.AddChatContact(ctx, chatID, contactID)
	if err != nil {
		return err
	}
	if !added && !fromHandshake {
		return nil
	}
	m.Emit(event.Event{Kind: event.ChatModified, Data1: chatID})

	msg := OutgoingMessage{
		Text: fmt.Sprintf("Member %s added.", c.Addr),
		Protected: []mime.Field{
			{Name: mime.HeaderChatGroupMemberAdded, Value: c.Addr},
		},
	}
	if fromHandshake {
		msg.Protected = append(msg.Protected, mime.Field{Name: mime.HeaderSecureJoin, Value: "vg-member-added"})
	}
	if _, err := m.SendMsg(ctx, chatID, msg); err != nil {
		return fmt.Errorf("announcing member %s: %w", c.Addr, err)
	}
	return nil
}
