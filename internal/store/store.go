package store

import (
	"context"
	"errors"

	"github.com/nhle/peertrust/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Config keys used by the mailbox.
const (
	ConfigAddr        = "configured_addr"
	ConfigDisplayName = "displayname"
)

// Store defines the persistence interface for the messenger core:
// key-value config, contacts, chats, messages, peer states, handshake
// tokens and the local keypair.
type Store interface {
	// === Config ===

	GetConfig(ctx context.Context, keyname string) (string, error)
	SetConfig(ctx context.Context, keyname, value string) error

	// === Contacts ===

	AddOrLookupContact(ctx context.Context, name, addr string, origin model.Origin) (int64, bool, error)
	GetContact(ctx context.Context, id int64) (*model.Contact, error)
	GetContactByAddr(ctx context.Context, addr string) (*model.Contact, error)
	ScaleUpOrigin(ctx context.Context, id int64, origin model.Origin) error

	// === Chats ===

	CreateOrLookupSingleChat(ctx context.Context, contactID int64, blocked model.Blocked) (int64, model.Blocked, error)
	LookupSingleChat(ctx context.Context, contactID int64) (int64, model.Blocked, error)
	UnblockChat(ctx context.Context, chatID int64) error
	GetChat(ctx context.Context, id int64) (*model.Chat, error)
	GetChatByGrpID(ctx context.Context, grpID string) (*model.Chat, error)
	CreateGroupChat(ctx context.Context, name, grpID string, verified bool) (int64, error)
	GetChatContacts(ctx context.Context, chatID int64) ([]int64, error)
	AddChatContact(ctx context.Context, chatID, contactID int64) (bool, error)
	IsChatContact(ctx context.Context, chatID, contactID int64) (bool, error)

	// === Messages ===

	InsertMessage(ctx context.Context, msg model.Message) (int64, error)
	GetMessages(ctx context.Context, chatID int64) ([]model.Message, error)
	MessageExists(ctx context.Context, rfc724MID string) (bool, error)

	// === Peer states ===

	GetPeerstateByAddr(ctx context.Context, addr string) (*model.PeerstateRow, error)
	GetPeerstateByFingerprint(ctx context.Context, fpr string) (*model.PeerstateRow, error)
	CreatePeerstate(ctx context.Context, addr string) error
	UpdatePeerstate(ctx context.Context, row model.PeerstateRow) error
	UpdatePeerstateTimestamps(ctx context.Context, addr string, lastSeen, lastSeenAutocrypt, gossipTimestamp int64) error
	GetPeerstates(ctx context.Context) ([]model.PeerstateRow, error)

	// === Tokens ===

	InsertToken(ctx context.Context, tok model.Token) (int64, error)
	DeleteToken(ctx context.Context, id int64) error
	GetTokens(ctx context.Context, namespace int) ([]model.Token, error)

	// === Keypairs ===

	SaveKeypair(ctx context.Context, kp model.Keypair) error
	GetDefaultKeypair(ctx context.Context) (*model.Keypair, error)
}

var _ Store = (*SQLiteStore)(nil)
