// Package mailbox is the account the trust engine works on: the local
// identity, its storage, outgoing delivery and event reporting.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/store"
	"github.com/nhle/peertrust/internal/token"
)

// ErrNotConfigured is returned when no self address is set.
var ErrNotConfigured = errors.New("mailbox: self address not configured")

// Transport delivers rendered messages.
type Transport interface {
	Send(ctx context.Context, from string, to []string, raw []byte) error
}

// Facade is what the trust engine needs from an account. Read-modify-write
// sequences on peer states must run between Lock and Unlock.
type Facade interface {
	store.Store

	Lock()
	Unlock()

	Tokens() *token.Tokens

	SelfAddr(ctx context.Context) (string, error)
	DisplayName(ctx context.Context) string
	EnsureSecretKey(ctx context.Context) error
	SelfFingerprint(ctx context.Context) (string, error)
	SelfPublicKey(ctx context.Context) (key.Key, error)
	SelfPrivateKey(ctx context.Context) (key.Key, error)

	SendMsg(ctx context.Context, chatID int64, msg OutgoingMessage) (int64, error)
	AddContactToChat(ctx context.Context, chatID, contactID int64, fromHandshake bool) error
	AddDeviceMessage(ctx context.Context, chatID int64, text string) (int64, error)

	Emit(ev event.Event)
}

// Options tune a Mailbox.
type Options struct {
	// TokenHistory is the number of remembered secrets per namespace.
	TokenHistory int
	// KeyConfig is passed to key generation and encryption. Nil uses the
	// library defaults.
	KeyConfig *packet.Config
}

// Mailbox implements Facade on top of a store.
type Mailbox struct {
	store.Store

	mu        sync.Mutex
	transport Transport
	events    event.Sink
	log       *zap.SugaredLogger
	tokens    *token.Tokens
	keyCfg    *packet.Config

	keyMu sync.Mutex
	pub   key.Key
	priv  key.Key
}

var _ Facade = (*Mailbox)(nil)

// New opens a mailbox on s. Events go to sink; a nil sink drops them.
func New(
	ctx context.Context,
	s store.Store,
	transport Transport,
	sink event.Sink,
	log *zap.SugaredLogger,
	opts Options,
) (*Mailbox, error) {
	if sink == nil {
		sink = event.Discard
	}
	if opts.TokenHistory <= 0 {
		opts.TokenHistory = model.DefaultTokenHistory
	}

	tokens, err := token.Load(ctx, s, opts.TokenHistory)
	if err != nil {
		return nil, fmt.Errorf("opening mailbox: %w", err)
	}

	return &Mailbox{
		Store:     s,
		transport: transport,
		events:    sink,
		log:       log,
		tokens:    tokens,
		keyCfg:    opts.KeyConfig,
	}, nil
}

// Lock acquires the account lock.
func (m *Mailbox) Lock() { m.mu.Lock() }

// Unlock releases the account lock.
func (m *Mailbox) Unlock() { m.mu.Unlock() }

// Tokens returns the handshake secret history.
func (m *Mailbox) Tokens() *token.Tokens { return m.tokens }

// Emit forwards ev to the event sink.
func (m *Mailbox) Emit(ev event.Event) { m.events.Emit(ev) }

// Configure sets the self address and display name.
func (m *Mailbox) Configure(ctx context.Context, addr, displayName string) error {
	addr = model.NormalizeAddr(addr)
	if !model.MayBeValidAddr(addr) {
		return fmt.Errorf("configuring mailbox: invalid address %q", addr)
	}
	if err := m.SetConfig(ctx, store.ConfigAddr, addr); err != nil {
		return err
	}
	return m.SetConfig(ctx, store.ConfigDisplayName, displayName)
}

// SelfAddr returns the configured address.
func (m *Mailbox) SelfAddr(ctx context.Context) (string, error) {
	addr, err := m.GetConfig(ctx, store.ConfigAddr)
	if errors.Is(err, store.ErrNotFound) || (err == nil && addr == "") {
		return "", ErrNotConfigured
	}
	if err != nil {
		return "", err
	}
	return addr, nil
}

// DisplayName returns the configured display name, which may be empty.
func (m *Mailbox) DisplayName(ctx context.Context) string {
	name, err := m.GetConfig(ctx, store.ConfigDisplayName)
	if err != nil {
		return ""
	}
	return name
}

// EnsureSecretKey loads the self keypair, generating and storing one if
// there is none yet.
func (m *Mailbox) EnsureSecretKey(ctx context.Context) error {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()

	if !m.priv.Empty() {
		return nil
	}

	kp, err := m.GetDefaultKeypair(ctx)
	if err == nil {
		m.pub = key.New(kp.PublicKey, key.Public)
		m.priv = key.New(kp.PrivateKey, key.Private)
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading self key: %w", err)
	}

	addr, err := m.SelfAddr(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	pub, priv, err := key.Generate(addr, m.keyCfg)
	if err != nil {
		return err
	}
	if err := m.SaveKeypair(ctx, model.Keypair{
		Addr:       addr,
		IsDefault:  true,
		PublicKey:  pub.Bytes(),
		PrivateKey: priv.Bytes(),
		Created:    time.Now().Unix(),
	}); err != nil {
		return err
	}
	m.log.Infow("generated self key",
		"addr", addr,
		"fingerprint", pub.Fingerprint(),
		"duration", time.Since(start),
	)

	m.pub, m.priv = pub, priv
	return nil
}

// SelfPublicKey returns the public half of the self keypair.
func (m *Mailbox) SelfPublicKey(ctx context.Context) (key.Key, error) {
	if err := m.EnsureSecretKey(ctx); err != nil {
		return key.Key{}, err
	}
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	return m.pub, nil
}

// SelfPrivateKey returns the private half of the self keypair.
func (m *Mailbox) SelfPrivateKey(ctx context.Context) (key.Key, error) {
	if err := m.EnsureSecretKey(ctx); err != nil {
		return key.Key{}, err
	}
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	return m.priv, nil
}

// SelfFingerprint returns the fingerprint of the self key.
func (m *Mailbox) SelfFingerprint(ctx context.Context) (string, error) {
	pub, err := m.SelfPublicKey(ctx)
	if err != nil {
		return "", err
	}
	if pub.Fingerprint() == "" {
		return "", errors.New("self key has no fingerprint")
	}
	return pub.Fingerprint(), nil
}

// AddDeviceMessage stores an informational message in a chat.
func (m *Mailbox) AddDeviceMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	id, err := m.InsertMessage(ctx, model.Message{
		ChatID: chatID,
		FromID: model.ContactIDDevice,
		State:  model.MessageDevice,
		Text:   text,
	})
	if err != nil {
		return 0, err
	}
	m.Emit(event.Event{Kind: event.MsgsChanged, Data1: chatID, Data2: id})
	return id, nil
}
