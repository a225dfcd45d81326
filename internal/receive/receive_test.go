package receive_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/peertrust/internal/aheader"
	"github.com/nhle/peertrust/internal/e2ee"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/mailbox"
	"github.com/nhle/peertrust/internal/mime"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/node/nodetest"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/testutil"
)

const (
	aliceAddr = "alice@example.org"
	bobAddr   = "bob@example.net"
	carolAddr = "carol@example.com"
)

func autocrypt(t *testing.T, addr string, pe aheader.PreferEncrypt, pub key.Key) string {
	t.Helper()
	value, err := (&aheader.Header{Addr: addr, PreferEncrypt: pe, PublicKey: pub}).Render()
	require.NoError(t, err)
	return value
}

func plain(t *testing.T, o mime.Outgoing) []byte {
	t.Helper()
	raw, _, err := mime.Build(o, nil)
	require.NoError(t, err)
	return raw
}

func TestReceiveAutocryptLifecycle(t *testing.T) {
	ctx := context.Background()
	bob := nodetest.NewPeer(t, nodetest.NewNetwork(), bobAddr, "Bob")
	pub, _ := testutil.NewKey(t, aliceAddr)
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	res, err := bob.Receiver.Receive(ctx, plain(t, mime.Outgoing{
		FromAddr:  aliceAddr,
		FromName:  "Alice",
		To:        []string{bobAddr},
		Text:      "hello bob",
		Date:      base,
		Autocrypt: autocrypt(t, aliceAddr, aheader.Mutual, pub),
	}))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.False(t, res.Encrypted)
	assert.Greater(t, res.FromID, model.ContactIDLastSpecial)

	ps := bob.Peerstate(t, aliceAddr)
	assert.Equal(t, pub.Fingerprint(), ps.PublicKeyFingerprint)
	assert.Equal(t, aheader.Mutual, ps.PreferEncrypt)
	assert.Equal(t, base.Unix(), ps.LastSeenAutocrypt)

	chat, err := bob.Mailbox.GetChat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, model.ChatDeaddropBlocked, chat.Blocked)
	assert.Equal(t, []string{"hello bob"}, bob.Texts(t, res.ChatID))
	assert.Equal(t, model.OriginIncomingUnknownFrom, bob.Contact(t, aliceAddr).Origin)

	t.Run("older message without header changes nothing", func(t *testing.T) {
		_, err := bob.Receiver.Receive(ctx, plain(t, mime.Outgoing{
			FromAddr: aliceAddr, To: []string{bobAddr}, Text: "old", Date: base.Add(-time.Minute),
		}))
		require.NoError(t, err)
		assert.Equal(t, aheader.Mutual, bob.Peerstate(t, aliceAddr).PreferEncrypt)
	})

	t.Run("newer message without header resets", func(t *testing.T) {
		_, err := bob.Receiver.Receive(ctx, plain(t, mime.Outgoing{
			FromAddr: aliceAddr, To: []string{bobAddr}, Text: "from webmail", Date: base.Add(time.Minute),
		}))
		require.NoError(t, err)
		ps := bob.Peerstate(t, aliceAddr)
		assert.Equal(t, aheader.Reset, ps.PreferEncrypt)
		assert.Equal(t, pub.Fingerprint(), ps.PublicKeyFingerprint)
	})

	t.Run("new key is announced", func(t *testing.T) {
		bob.Drain()
		other, _ := testutil.NewKey(t, aliceAddr)
		_, err := bob.Receiver.Receive(ctx, plain(t, mime.Outgoing{
			FromAddr: aliceAddr, To: []string{bobAddr}, Text: "new device", Date: base.Add(2 * time.Minute),
			Autocrypt: autocrypt(t, aliceAddr, aheader.Mutual, other),
		}))
		require.NoError(t, err)

		ps := bob.Peerstate(t, aliceAddr)
		assert.Equal(t, other.Fingerprint(), ps.PublicKeyFingerprint)
		assert.Equal(t, aheader.Mutual, ps.PreferEncrypt)
		assert.Contains(t, bob.Texts(t, res.ChatID), "Changed setup for alice@example.org.")
	})
}

func TestReceiveSkips(t *testing.T) {
	ctx := context.Background()
	bob := nodetest.NewPeer(t, nodetest.NewNetwork(), bobAddr, "Bob")

	res, err := bob.Receiver.Receive(ctx, plain(t, mime.Outgoing{
		FromAddr: bobAddr, To: []string{aliceAddr}, Text: "my own copy",
	}))
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	raw := plain(t, mime.Outgoing{FromAddr: aliceAddr, To: []string{bobAddr}, Text: "once", MessageID: "once@example.org"})
	res, err = bob.Receiver.Receive(ctx, raw)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	res, err = bob.Receiver.Receive(ctx, raw)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	_, err = bob.Receiver.Receive(ctx, []byte("Subject: nobody\r\n\r\nno sender"))
	require.Error(t, err)
}

func TestReceiveFutureDateClamped(t *testing.T) {
	ctx := context.Background()
	bob := nodetest.NewPeer(t, nodetest.NewNetwork(), bobAddr, "Bob")
	pub, _ := testutil.NewKey(t, aliceAddr)

	_, err := bob.Receiver.Receive(ctx, plain(t, mime.Outgoing{
		FromAddr: aliceAddr, To: []string{bobAddr}, Text: "from the future",
		Date:      time.Now().Add(24 * time.Hour),
		Autocrypt: autocrypt(t, aliceAddr, aheader.Mutual, pub),
	}))
	require.NoError(t, err)
	assert.LessOrEqual(t, bob.Peerstate(t, aliceAddr).LastSeenAutocrypt, time.Now().Unix())
}

func TestReceiveEncrypted(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")
	nodetest.Serve(t, net, alice, bob)

	// bob writes first so alice learns his key.
	aliceID, _, err := bob.Mailbox.AddOrLookupContact(ctx, "", aliceAddr, model.OriginManuallyCreated)
	require.NoError(t, err)
	bobChat, _, err := bob.Mailbox.CreateOrLookupSingleChat(ctx, aliceID, model.ChatNotBlocked)
	require.NoError(t, err)
	_, err = bob.Mailbox.SendMsg(ctx, bobChat, mailbox.OutgoingMessage{Text: "hi alice"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := peerstate.LoadByAddr(ctx, alice.Mailbox, bobAddr)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	bobID := alice.Contact(t, bobAddr).ID
	aliceChat, _, err := alice.Mailbox.CreateOrLookupSingleChat(ctx, bobID, model.ChatNotBlocked)
	require.NoError(t, err)
	_, err = alice.Mailbox.SendMsg(ctx, aliceChat, mailbox.OutgoingMessage{Text: "secret reply"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, err := bob.Mailbox.GetMessages(ctx, bobChat)
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.Text == "secret reply" {
				return m.Encrypted && m.State == model.MessageIncoming
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReceiveGroupWithGossip(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")
	carol := nodetest.NewPeer(t, net, carolAddr, "Carol")
	nodetest.Serve(t, net, bob)

	grp, err := alice.Mailbox.CreateGroupChat(ctx, "Trio", "triogrpid01", false)
	require.NoError(t, err)
	now := time.Now().Unix()
	for _, p := range []*nodetest.Peer{bob, carol} {
		pub, err := p.Mailbox.SelfPublicKey(ctx)
		require.NoError(t, err)
		ps := peerstate.FromHeader(&aheader.Header{Addr: p.Addr, PreferEncrypt: aheader.Mutual, PublicKey: pub}, now)
		require.NoError(t, ps.Save(ctx, alice.Mailbox, true))
		id, _, err := alice.Mailbox.AddOrLookupContact(ctx, "", p.Addr, model.OriginIncomingTo)
		require.NoError(t, err)
		_, err = alice.Mailbox.AddChatContact(ctx, grp, id)
		require.NoError(t, err)
	}

	_, err = alice.Mailbox.SendMsg(ctx, grp, mailbox.OutgoingMessage{Text: "hello group"})
	require.NoError(t, err)

	var chatID int64
	require.Eventually(t, func() bool {
		chat, err := bob.Mailbox.GetChatByGrpID(ctx, "triogrpid01")
		if err != nil {
			return false
		}
		chatID = chat.ID
		return true
	}, 5*time.Second, 10*time.Millisecond)

	chat, err := bob.Mailbox.GetChat(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "Trio", chat.Name)
	assert.Equal(t, model.ChatTypeGroup, chat.Type)
	require.Eventually(t, func() bool {
		msgs, err := bob.Mailbox.GetMessages(ctx, chatID)
		return err == nil && len(msgs) == 1 && msgs[0].Text == "hello group" && msgs[0].Encrypted
	}, 5*time.Second, 10*time.Millisecond)

	members, err := bob.Mailbox.GetChatContacts(ctx, chatID)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]int64{model.ContactIDSelf, bob.Contact(t, aliceAddr).ID, bob.Contact(t, carolAddr).ID},
		members)

	carolFpr, err := carol.Mailbox.SelfFingerprint(ctx)
	require.NoError(t, err)
	ps := bob.Peerstate(t, carolAddr)
	assert.Equal(t, carolFpr, ps.GossipKeyFingerprint)
	assert.Empty(t, ps.PublicKeyFingerprint)
}

func TestReceiveGossipOutsideRecipientsIgnored(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")

	alicePub, err := alice.Mailbox.SelfPublicKey(ctx)
	require.NoError(t, err)
	alicePriv, err := alice.Mailbox.SelfPrivateKey(ctx)
	require.NoError(t, err)
	bobPub, err := bob.Mailbox.SelfPublicKey(ctx)
	require.NoError(t, err)
	carolPub, _ := testutil.NewKey(t, carolAddr)

	raw, _, err := mime.Build(mime.Outgoing{
		FromAddr:  aliceAddr,
		To:        []string{bobAddr},
		Text:      "psst",
		Autocrypt: autocrypt(t, aliceAddr, aheader.Mutual, alicePub),
		Gossip:    []string{autocrypt(t, carolAddr, aheader.NoPreference, carolPub)},
	}, func(inner []byte) ([]byte, error) {
		return e2ee.Encrypt(inner, []key.Key{bobPub, alicePub}, alicePriv, key.TestConfig())
	})
	require.NoError(t, err)

	res, err := bob.Receiver.Receive(ctx, raw)
	require.NoError(t, err)
	assert.True(t, res.Encrypted)
	assert.Equal(t, []string{"psst"}, bob.Texts(t, res.ChatID))

	_, err = peerstate.LoadByAddr(ctx, bob.Mailbox, carolAddr)
	require.Error(t, err)
}
