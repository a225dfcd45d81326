package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/peertrust/internal/aheader"
	"github.com/nhle/peertrust/internal/e2ee"
	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/logging"
	"github.com/nhle/peertrust/internal/mime"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/testutil"
)

type sent struct {
	from string
	to   []string
	raw  []byte
}

type captureTransport struct {
	msgs []sent
}

func (c *captureTransport) Send(_ context.Context, from string, to []string, raw []byte) error {
	c.msgs = append(c.msgs, sent{from: from, to: to, raw: raw})
	return nil
}

func newMailbox(t *testing.T) (*Mailbox, *captureTransport, *event.Channel) {
	t.Helper()
	ctx := context.Background()
	tr := &captureTransport{}
	events := event.NewChannel(64)
	mb, err := New(ctx, testutil.NewTestStore(t), tr, events, logging.Nop(), Options{KeyConfig: key.TestConfig()})
	require.NoError(t, err)
	require.NoError(t, mb.Configure(ctx, "alice@example.org", "Alice"))
	return mb, tr, events
}

func addPeer(t *testing.T, mb *Mailbox, addr string, pe aheader.PreferEncrypt) (int64, key.Key) {
	t.Helper()
	ctx := context.Background()
	pub, priv := testutil.NewKey(t, addr)
	ps := peerstate.FromHeader(&aheader.Header{Addr: addr, PreferEncrypt: pe, PublicKey: pub}, time.Now().Unix())
	require.NoError(t, ps.Save(ctx, mb, true))

	id, _, err := mb.AddOrLookupContact(ctx, "", addr, model.OriginIncomingTo)
	require.NoError(t, err)
	return id, priv
}

func TestSelfIdentity(t *testing.T) {
	ctx := context.Background()
	mb, _, _ := newMailbox(t)

	addr, err := mb.SelfAddr(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", addr)
	assert.Equal(t, "Alice", mb.DisplayName(ctx))

	fpr, err := mb.SelfFingerprint(ctx)
	require.NoError(t, err)
	assert.Len(t, fpr, 40)

	require.NoError(t, mb.EnsureSecretKey(ctx))
	again, err := mb.SelfFingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, fpr, again)

	priv, err := mb.SelfPrivateKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, key.Private, priv.Kind())
	assert.Equal(t, fpr, priv.Fingerprint())
}

func TestSelfAddrNotConfigured(t *testing.T) {
	ctx := context.Background()
	mb, err := New(ctx, testutil.NewTestStore(t), &captureTransport{}, nil, logging.Nop(), Options{})
	require.NoError(t, err)

	_, err = mb.SelfAddr(ctx)
	require.ErrorIs(t, err, ErrNotConfigured)
	require.ErrorIs(t, mb.EnsureSecretKey(ctx), ErrNotConfigured)
}

func TestSendPlaintextWithoutKey(t *testing.T) {
	ctx := context.Background()
	mb, tr, _ := newMailbox(t)

	bob, _, err := mb.AddOrLookupContact(ctx, "", "bob@example.net", model.OriginIncomingTo)
	require.NoError(t, err)
	chatID, _, err := mb.CreateOrLookupSingleChat(ctx, bob, model.ChatNotBlocked)
	require.NoError(t, err)

	_, err = mb.SendMsg(ctx, chatID, OutgoingMessage{
		Text:      "hello",
		Protected: []mime.Field{{Name: mime.HeaderSecureJoin, Value: "vc-request"}},
	})
	require.NoError(t, err)
	require.Len(t, tr.msgs, 1)
	assert.Equal(t, []string{"bob@example.net"}, tr.msgs[0].to)

	p, err := mime.Parse(tr.msgs[0].raw)
	require.NoError(t, err)
	assert.False(t, p.Encrypted())
	assert.Equal(t, "vc-request", p.Get(mime.HeaderSecureJoin))

	h := aheader.FromMailHeader(p.Header, "alice@example.org")
	require.NotNil(t, h, "own autocrypt header attached")
	fpr, err := mb.SelfFingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, fpr, h.PublicKey.Fingerprint())
	assert.Equal(t, aheader.Mutual, h.PreferEncrypt)

	_, err = mb.SendMsg(ctx, chatID, OutgoingMessage{Text: "must encrypt", GuaranteeE2EE: true})
	require.ErrorIs(t, err, ErrCannotEncrypt)
	assert.Len(t, tr.msgs, 1)
}

func TestSendEncrypted(t *testing.T) {
	ctx := context.Background()
	mb, tr, _ := newMailbox(t)

	bob, bobPriv := addPeer(t, mb, "bob@example.net", aheader.Mutual)
	chatID, _, err := mb.CreateOrLookupSingleChat(ctx, bob, model.ChatNotBlocked)
	require.NoError(t, err)

	id, err := mb.SendMsg(ctx, chatID, OutgoingMessage{
		Text:      "secret",
		Hidden:    true,
		Protected: []mime.Field{{Name: mime.HeaderSecureJoin, Value: "vc-auth-required"}},
	})
	require.NoError(t, err)
	require.Len(t, tr.msgs, 1)
	assert.NotContains(t, string(tr.msgs[0].raw), "vc-auth-required")

	p, err := mime.Parse(tr.msgs[0].raw)
	require.NoError(t, err)
	require.True(t, p.Encrypted())

	selfPub, err := mb.SelfPublicKey(ctx)
	require.NoError(t, err)
	res, err := e2ee.Decrypt(p.Payload, bobPriv, []key.Key{selfPub})
	require.NoError(t, err)
	assert.True(t, res.Signatures.IsValid(selfPub.Fingerprint()))
	require.NoError(t, p.SetInner(res.Plaintext))
	assert.Equal(t, "vc-auth-required", p.Get(mime.HeaderSecureJoin))
	assert.Equal(t, "secret", p.Text)

	msgs, err := mb.GetMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.True(t, msgs[0].Encrypted)
	assert.True(t, msgs[0].Hidden)
}

func TestSendNoPreferenceStaysPlain(t *testing.T) {
	ctx := context.Background()
	mb, tr, _ := newMailbox(t)

	bob, _ := addPeer(t, mb, "bob@example.net", aheader.NoPreference)
	chatID, _, err := mb.CreateOrLookupSingleChat(ctx, bob, model.ChatNotBlocked)
	require.NoError(t, err)

	_, err = mb.SendMsg(ctx, chatID, OutgoingMessage{Text: "hi"})
	require.NoError(t, err)
	p, err := mime.Parse(tr.msgs[0].raw)
	require.NoError(t, err)
	assert.False(t, p.Encrypted())

	_, err = mb.SendMsg(ctx, chatID, OutgoingMessage{Text: "hi", GuaranteeE2EE: true})
	require.NoError(t, err)
	p, err = mime.Parse(tr.msgs[1].raw)
	require.NoError(t, err)
	assert.True(t, p.Encrypted())

	_, err = mb.SendMsg(ctx, chatID, OutgoingMessage{Text: "hi", GuaranteeE2EE: true, ForcePlaintext: true})
	require.Error(t, err)
}

func TestAddContactToVerifiedGroup(t *testing.T) {
	ctx := context.Background()
	mb, tr, events := newMailbox(t)

	bob, bobPriv := addPeer(t, mb, "bob@example.net", aheader.Mutual)
	carol, _ := addPeer(t, mb, "carol@example.com", aheader.Mutual)
	for _, addr := range []string{"bob@example.net", "carol@example.com"} {
		ps, err := peerstate.LoadByAddr(ctx, mb, addr)
		require.NoError(t, err)
		require.True(t, ps.SetVerified(peerstate.PublicKey, ps.PublicKeyFingerprint, peerstate.Bidirectional))
		require.NoError(t, ps.Save(ctx, mb, false))
	}

	grp, err := mb.CreateGroupChat(ctx, "Team", "grp-1", true)
	require.NoError(t, err)
	_, err = mb.AddChatContact(ctx, grp, carol)
	require.NoError(t, err)

	require.NoError(t, mb.AddContactToChat(ctx, grp, bob, true))
	require.Len(t, tr.msgs, 1)
	assert.ElementsMatch(t, []string{"bob@example.net", "carol@example.com"}, tr.msgs[0].to)

	p, err := mime.Parse(tr.msgs[0].raw)
	require.NoError(t, err)
	require.True(t, p.Encrypted())

	selfPub, err := mb.SelfPublicKey(ctx)
	require.NoError(t, err)
	res, err := e2ee.Decrypt(p.Payload, bobPriv, []key.Key{selfPub})
	require.NoError(t, err)
	require.NoError(t, p.SetInner(res.Plaintext))
	assert.Equal(t, "vg-member-added", p.Get(mime.HeaderSecureJoin))
	assert.Equal(t, "bob@example.net", p.Get(mime.HeaderChatGroupMemberAdded))
	assert.Equal(t, "1", p.Get(mime.HeaderChatVerified))
	assert.Equal(t, "grp-1", p.Get(mime.HeaderChatGroupID))
	assert.Len(t, p.Gossip(), 2)

	var kinds []event.Kind
	for len(events.C) > 0 {
		kinds = append(kinds, (<-events.C).Kind)
	}
	assert.Contains(t, kinds, event.ChatModified)
	assert.Contains(t, kinds, event.MsgsChanged)
}

func TestAddContactToSingleChatFails(t *testing.T) {
	ctx := context.Background()
	mb, _, _ := newMailbox(t)

	bob, _, err := mb.AddOrLookupContact(ctx, "", "bob@example.net", model.OriginIncomingTo)
	require.NoError(t, err)
	chatID, _, err := mb.CreateOrLookupSingleChat(ctx, bob, model.ChatNotBlocked)
	require.NoError(t, err)

	require.Error(t, mb.AddContactToChat(ctx, chatID, bob, false))
}

func TestAddDeviceMessage(t *testing.T) {
	ctx := context.Background()
	mb, _, events := newMailbox(t)

	bob, _, err := mb.AddOrLookupContact(ctx, "", "bob@example.net", model.OriginIncomingTo)
	require.NoError(t, err)
	chatID, _, err := mb.CreateOrLookupSingleChat(ctx, bob, model.ChatDeaddropBlocked)
	require.NoError(t, err)

	id, err := mb.AddDeviceMessage(ctx, chatID, "Changed setup for bob@example.net")
	require.NoError(t, err)

	msgs, err := mb.GetMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ContactIDDevice, msgs[0].FromID)
	assert.Equal(t, model.MessageDevice, msgs[0].State)

	ev := <-events.C
	assert.Equal(t, event.MsgsChanged, ev.Kind)
	assert.Equal(t, id, ev.Data2)
}
