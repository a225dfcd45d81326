package securejoin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/peertrust/internal/aheader"
	"github.com/nhle/peertrust/internal/e2ee"
	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/mailbox"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/node/nodetest"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/qr"
	"github.com/nhle/peertrust/internal/securejoin"
	"github.com/nhle/peertrust/internal/testutil"
	"github.com/nhle/peertrust/internal/token"
)

const (
	aliceAddr = "alice@example.org"
	bobAddr   = "bob@example.net"
)

func kinds(evs []event.Event, kind event.Kind) []int64 {
	var out []int64
	for _, ev := range evs {
		if ev.Kind == kind {
			out = append(out, ev.Data2)
		}
	}
	return out
}

func TestJoinContact(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")
	nodetest.Serve(t, net, alice, bob)

	code, err := alice.Securejoin.QR(ctx, 0)
	require.NoError(t, err)

	chatID, err := bob.Securejoin.Join(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, bob.Chat(t, aliceAddr), chatID)

	joiner := bob.WaitEvent(t, event.SecurejoinJoinerProgress, event.ProgressDone)
	assert.Equal(t, []int64{event.ProgressAuthRequired, event.ProgressDone},
		kinds(joiner, event.SecurejoinJoinerProgress))
	inviter := alice.WaitEvent(t, event.SecurejoinInviterProgress, event.ProgressDone)
	assert.Equal(t, []int64{event.ProgressStarted, event.ProgressVerified, event.ProgressDone},
		kinds(inviter, event.SecurejoinInviterProgress))

	aliceFpr, err := alice.Mailbox.SelfFingerprint(ctx)
	require.NoError(t, err)
	bobFpr, err := bob.Mailbox.SelfFingerprint(ctx)
	require.NoError(t, err)

	psAlice := bob.Peerstate(t, aliceAddr)
	assert.Equal(t, peerstate.Bidirectional, psAlice.VerifiedLevel())
	assert.Equal(t, aliceFpr, psAlice.PublicKeyFingerprint)
	assert.Equal(t, aheader.Mutual, psAlice.PreferEncrypt)

	psBob := alice.Peerstate(t, bobAddr)
	assert.Equal(t, peerstate.Bidirectional, psBob.VerifiedLevel())
	assert.Equal(t, bobFpr, psBob.PublicKeyFingerprint)

	assert.Equal(t, model.OriginSecurejoinJoined, bob.Contact(t, aliceAddr).Origin)
	assert.Equal(t, model.OriginSecurejoinInvited, alice.Contact(t, bobAddr).Origin)

	assert.Contains(t, bob.Texts(t, chatID), "Secure connection to alice@example.org established.")
	assert.Contains(t, alice.Texts(t, alice.Chat(t, bobAddr)), "Secure connection to bob@example.net established.")
}

func TestJoinShortcut(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")
	nodetest.Serve(t, net, alice, bob)

	// A normal message hands alice's key to bob.
	bobID, _, err := alice.Mailbox.AddOrLookupContact(ctx, "", bobAddr, model.OriginManuallyCreated)
	require.NoError(t, err)
	aliceChat, _, err := alice.Mailbox.CreateOrLookupSingleChat(ctx, bobID, model.ChatNotBlocked)
	require.NoError(t, err)
	_, err = alice.Mailbox.SendMsg(ctx, aliceChat, mailbox.OutgoingMessage{Text: "hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := peerstate.LoadByAddr(ctx, bob.Mailbox, aliceAddr)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	alice.Drain()

	code, err := alice.Securejoin.QR(ctx, 0)
	require.NoError(t, err)
	_, err = bob.Securejoin.Join(ctx, code)
	require.NoError(t, err)

	inviter := alice.WaitEvent(t, event.SecurejoinInviterProgress, event.ProgressDone)
	assert.Equal(t, []int64{event.ProgressVerified, event.ProgressDone},
		kinds(inviter, event.SecurejoinInviterProgress))
	assert.Equal(t, peerstate.Bidirectional, bob.Peerstate(t, aliceAddr).VerifiedLevel())
	assert.Equal(t, peerstate.Bidirectional, alice.Peerstate(t, bobAddr).VerifiedLevel())
}

// tamperedCode returns alice's code with the given secrets replaced.
func tamperedCode(t *testing.T, code, invite, auth string) string {
	t.Helper()
	scan := qr.Parse(code)
	require.Empty(t, scan.Err)
	inv := qr.Invite{
		Fingerprint:  scan.Fingerprint,
		Addr:         scan.Addr,
		Name:         scan.Name,
		InviteNumber: scan.InviteNumber,
		Auth:         scan.Auth,
	}
	if invite != "" {
		inv.InviteNumber = invite
	}
	if auth != "" {
		inv.Auth = auth
	}
	return qr.Format(inv)
}

func TestJoinBadInviteNumberIgnored(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")
	nodetest.Serve(t, net, alice, bob)

	code, err := alice.Securejoin.QR(ctx, 0)
	require.NoError(t, err)

	jctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = bob.Securejoin.Join(jctx, tamperedCode(t, code, "bogusinvite", ""))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	for _, ev := range kinds(drain(alice), event.SecurejoinInviterProgress) {
		assert.NotEqual(t, int64(event.ProgressStarted), ev)
	}
	assert.Equal(t, peerstate.NotVerified, bob.Peerstate(t, aliceAddr).VerifiedLevel())
}

// hasText reports whether chatID of p holds a message with text.
func hasText(p *nodetest.Peer, chatID int64, text string) bool {
	msgs, err := p.Mailbox.GetMessages(context.Background(), chatID)
	if err != nil {
		return false
	}
	for _, m := range msgs {
		if m.Text == text {
			return true
		}
	}
	return false
}

func drain(p *nodetest.Peer) []event.Event {
	var out []event.Event
	for {
		select {
		case ev := <-p.Events.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestJoinBadAuth(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")
	nodetest.Serve(t, net, alice, bob)

	code, err := alice.Securejoin.QR(ctx, 0)
	require.NoError(t, err)

	jctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = bob.Securejoin.Join(jctx, tamperedCode(t, code, "", "bogusauth"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		c, err := alice.Mailbox.GetContactByAddr(ctx, bobAddr)
		if err != nil {
			return false
		}
		chatID, _, err := alice.Mailbox.LookupSingleChat(ctx, c.ID)
		return err == nil && hasText(alice, chatID, "Could not establish secure connection to bob@example.net.")
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, peerstate.NotVerified, alice.Peerstate(t, bobAddr).VerifiedLevel())
	// bob verified alice's fingerprint at step two but never got the
	// confirmation.
	assert.Equal(t, peerstate.NotVerified, bob.Peerstate(t, aliceAddr).VerifiedLevel())
}

func TestJoinGroup(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")
	nodetest.Serve(t, net, alice, bob)

	grp, err := alice.Mailbox.CreateGroupChat(ctx, "Team", "teamgrpid01", true)
	require.NoError(t, err)
	code, err := alice.Securejoin.QR(ctx, grp)
	require.NoError(t, err)

	chatID, err := bob.Securejoin.Join(ctx, code)
	require.NoError(t, err)

	chat, err := bob.Mailbox.GetChat(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "teamgrpid01", chat.GrpID)
	assert.Equal(t, "Team", chat.Name)
	assert.True(t, chat.IsVerified())

	members, err := bob.Mailbox.GetChatContacts(ctx, chatID)
	require.NoError(t, err)
	assert.Contains(t, members, bob.Contact(t, aliceAddr).ID)

	inviter := alice.WaitEvent(t, event.SecurejoinInviterProgress, event.ProgressDone)
	assert.Equal(t,
		[]int64{event.ProgressStarted, event.ProgressVerified, event.ProgressMemberAdded, event.ProgressDone},
		kinds(inviter, event.SecurejoinInviterProgress))

	ok, err := alice.Mailbox.IsChatContact(ctx, grp, alice.Contact(t, bobAddr).ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		return hasText(bob, chatID, "Member bob@example.net added.")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, peerstate.Bidirectional, alice.Peerstate(t, bobAddr).VerifiedLevel())
	assert.Equal(t, peerstate.Bidirectional, bob.Peerstate(t, aliceAddr).VerifiedLevel())
}

func TestQRRequiresVerifiedGroup(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")

	grp, err := alice.Mailbox.CreateGroupChat(ctx, "Loose", "loosegrpid1", false)
	require.NoError(t, err)
	_, err = alice.Securejoin.QR(ctx, grp)
	require.ErrorIs(t, err, securejoin.ErrNotVerifiedGroup)
}

func TestQRReusesTokens(t *testing.T) {
	ctx := context.Background()
	alice := nodetest.NewPeer(t, nodetest.NewNetwork(), aliceAddr, "Alice")

	first, err := alice.Securejoin.QR(ctx, 0)
	require.NoError(t, err)
	second, err := alice.Securejoin.QR(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	scan := qr.Parse(first)
	require.Empty(t, scan.Err)
	assert.True(t, alice.Mailbox.Tokens().Exists(token.InviteNumber, scan.InviteNumber))
	assert.True(t, alice.Mailbox.Tokens().Exists(token.Auth, scan.Auth))
}

func TestJoinNotInvitation(t *testing.T) {
	bob := nodetest.NewPeer(t, nodetest.NewNetwork(), bobAddr, "Bob")
	_, err := bob.Securejoin.Join(context.Background(), "just some text")
	require.ErrorIs(t, err, securejoin.ErrNotInvitation)
}

func TestJoinCancelAndAlreadyJoining(t *testing.T) {
	ctx := context.Background()
	net := nodetest.NewNetwork()
	alice := nodetest.NewPeer(t, net, aliceAddr, "Alice")
	bob := nodetest.NewPeer(t, net, bobAddr, "Bob")
	// Only bob is served, alice never answers.
	nodetest.Serve(t, net, bob)

	code, err := alice.Securejoin.QR(ctx, 0)
	require.NoError(t, err)

	jctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := bob.Securejoin.Join(jctx, code)
		done <- err
	}()

	require.Eventually(t, func() bool { return net.Pending(aliceAddr) == 1 }, 5*time.Second, 10*time.Millisecond)
	_, err = bob.Securejoin.Join(ctx, code)
	require.ErrorIs(t, err, securejoin.ErrAlreadyJoining)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("join did not return after cancel")
	}
}

// inviterWithPeers returns alice knowing bob and mallory by their keys,
// together with alice's valid auth secret.
func inviterWithPeers(t *testing.T) (alice *nodetest.Peer, bobFpr, malloryFpr, auth string) {
	t.Helper()
	ctx := context.Background()
	alice = nodetest.NewPeer(t, nodetest.NewNetwork(), aliceAddr, "Alice")

	now := time.Now().Unix()
	for _, addr := range []string{bobAddr, "mallory@example.com"} {
		pub, _ := testutil.NewKey(t, addr)
		ps := peerstate.FromHeader(&aheader.Header{Addr: addr, PreferEncrypt: aheader.Mutual, PublicKey: pub}, now)
		require.NoError(t, ps.Save(ctx, alice.Mailbox, true))
		_, _, err := alice.Mailbox.AddOrLookupContact(ctx, "", addr, model.OriginIncomingUnknownFrom)
		require.NoError(t, err)
		if addr == bobAddr {
			bobFpr = pub.Fingerprint()
		} else {
			malloryFpr = pub.Fingerprint()
		}
	}

	auth, err := alice.Mailbox.Tokens().LookupOrCreate(ctx, token.Auth, 0)
	require.NoError(t, err)
	return alice, bobFpr, malloryFpr, auth
}

func TestInviterRejectsFingerprintOfAnotherPeer(t *testing.T) {
	ctx := context.Background()
	alice, bobFpr, malloryFpr, auth := inviterWithPeers(t)
	bobID := alice.Contact(t, bobAddr).ID

	// The message claims mallory's key and is signed by it, but comes
	// from bob's address.
	disp, err := alice.Securejoin.Handle(ctx, securejoin.Message{
		FromID:      bobID,
		Step:        "vc-request-with-auth",
		Auth:        auth,
		Fingerprint: malloryFpr,
		Encrypted:   true,
		Signatures:  e2ee.Signatures{Valid: []string{malloryFpr}},
	})
	var perr *securejoin.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Fingerprint mismatch on inviter-side.", perr.Reason)
	// Failed steps stay in the mailbox.
	assert.Equal(t, securejoin.StopNormalProcessing, disp)

	assert.Equal(t, peerstate.NotVerified, alice.Peerstate(t, bobAddr).VerifiedLevel())
	assert.Equal(t, peerstate.NotVerified, alice.Peerstate(t, "mallory@example.com").VerifiedLevel())
	assert.Contains(t, alice.Texts(t, alice.Chat(t, bobAddr)), "Could not establish secure connection to bob@example.net.")
	assert.NotEmpty(t, bobFpr)
}

func TestInviterChecks(t *testing.T) {
	ctx := context.Background()
	alice, bobFpr, malloryFpr, auth := inviterWithPeers(t)
	bobID := alice.Contact(t, bobAddr).ID

	signed := e2ee.Signatures{Valid: []string{bobFpr}}
	tests := []struct {
		name   string
		msg    securejoin.Message
		reason string
	}{
		{
			name:   "no fingerprint",
			msg:    securejoin.Message{Auth: auth, Encrypted: true, Signatures: signed},
			reason: "Fingerprint not provided.",
		},
		{
			name:   "not encrypted",
			msg:    securejoin.Message{Auth: auth, Fingerprint: bobFpr, Signatures: signed},
			reason: "Auth not encrypted.",
		},
		{
			name:   "signed by another key",
			msg:    securejoin.Message{Auth: auth, Fingerprint: bobFpr, Encrypted: true, Signatures: e2ee.Signatures{Valid: []string{malloryFpr}}},
			reason: "Auth not encrypted.",
		},
		{
			name:   "no auth",
			msg:    securejoin.Message{Fingerprint: bobFpr, Encrypted: true, Signatures: signed},
			reason: "Auth not provided.",
		},
		{
			name:   "unknown auth",
			msg:    securejoin.Message{Auth: "notthesecret", Fingerprint: bobFpr, Encrypted: true, Signatures: signed},
			reason: "Auth invalid.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.FromID = bobID
			tt.msg.Step = "vc-request-with-auth"
			_, err := alice.Securejoin.Handle(ctx, tt.msg)
			var perr *securejoin.ProtocolError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.reason, perr.Reason)
			assert.Equal(t, peerstate.NotVerified, alice.Peerstate(t, bobAddr).VerifiedLevel())
		})
	}

	t.Run("all checks pass", func(t *testing.T) {
		_, err := alice.Securejoin.Handle(ctx, securejoin.Message{
			FromID: bobID, Step: "vc-request-with-auth",
			Auth: auth, Fingerprint: bobFpr, Encrypted: true, Signatures: signed,
		})
		require.NoError(t, err)
		ps := alice.Peerstate(t, bobAddr)
		assert.Equal(t, peerstate.Bidirectional, ps.VerifiedLevel())
		assert.Equal(t, aheader.Mutual, ps.PreferEncrypt)
	})
}

func TestInviterVerifiesOnlyTheSender(t *testing.T) {
	ctx := context.Background()
	alice := nodetest.NewPeer(t, nodetest.NewNetwork(), aliceAddr, "Alice")
	pub, _ := testutil.NewKey(t, bobAddr)

	// Another address announced bob's key before bob did.
	const copycat = "copycat@example.com"
	now := time.Now().Unix()
	for _, addr := range []string{copycat, bobAddr} {
		ps := peerstate.FromHeader(&aheader.Header{Addr: addr, PreferEncrypt: aheader.Mutual, PublicKey: pub}, now)
		require.NoError(t, ps.Save(ctx, alice.Mailbox, true))
		_, _, err := alice.Mailbox.AddOrLookupContact(ctx, "", addr, model.OriginIncomingUnknownFrom)
		require.NoError(t, err)
	}
	auth, err := alice.Mailbox.Tokens().LookupOrCreate(ctx, token.Auth, 0)
	require.NoError(t, err)

	bobFpr := pub.Fingerprint()
	disp, err := alice.Securejoin.Handle(ctx, securejoin.Message{
		FromID: alice.Contact(t, bobAddr).ID, Step: "vc-request-with-auth",
		Auth: auth, Fingerprint: bobFpr, Encrypted: true,
		Signatures: e2ee.Signatures{Valid: []string{bobFpr}},
	})
	require.NoError(t, err)
	assert.Equal(t, securejoin.StopNormalProcessing|securejoin.DeleteMessage, disp)

	assert.Equal(t, peerstate.Bidirectional, alice.Peerstate(t, bobAddr).VerifiedLevel())
	assert.Equal(t, peerstate.NotVerified, alice.Peerstate(t, copycat).VerifiedLevel())
}

func TestHandleIgnores(t *testing.T) {
	ctx := context.Background()
	alice, _, _, _ := inviterWithPeers(t)

	disp, err := alice.Securejoin.Handle(ctx, securejoin.Message{FromID: model.ContactIDDevice, Step: "vc-request"})
	require.NoError(t, err)
	assert.Zero(t, disp)

	disp, err = alice.Securejoin.Handle(ctx, securejoin.Message{FromID: alice.Contact(t, bobAddr).ID})
	require.NoError(t, err)
	assert.Zero(t, disp)

	// Out of order: no join is running.
	disp, err = alice.Securejoin.Handle(ctx, securejoin.Message{FromID: alice.Contact(t, bobAddr).ID, Step: "vc-auth-required"})
	require.NoError(t, err)
	assert.Equal(t, securejoin.StopNormalProcessing|securejoin.DeleteMessage, disp)
}
