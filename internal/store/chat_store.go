package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/peertrust/internal/model"
)

const chatColumns = "id, type, name, grpid, blocked, created_at"

// LookupSingleChat returns the one-to-one chat with a contact.
func (s *SQLiteStore) LookupSingleChat(
	ctx context.Context,
	contactID int64,
) (int64, model.Blocked, error) {
	var row struct {
		ID      int64         `db:"id"`
		Blocked model.Blocked `db:"blocked"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT c.id, c.blocked FROM chats c
		INNER JOIN chats_contacts cc ON c.id = cc.chat_id
		WHERE c.type = ? AND cc.contact_id = ?
		ORDER BY c.id LIMIT 1`,
		int(model.ChatTypeSingle), contactID,
	)
	if err != nil {
		return 0, 0, wrapNotFound(fmt.Sprintf("looking up chat with contact %d", contactID), err)
	}
	return row.ID, row.Blocked, nil
}

// CreateOrLookupSingleChat returns the one-to-one chat with a contact,
// creating it with the given blocked state if it does not exist yet.
func (s *SQLiteStore) CreateOrLookupSingleChat(
	ctx context.Context,
	contactID int64,
	blocked model.Blocked,
) (int64, model.Blocked, error) {
	id, existing, err := s.LookupSingleChat(ctx, contactID)
	if err == nil {
		return id, existing, nil
	}

	contact, err := s.GetContact(ctx, contactID)
	if err != nil {
		return 0, 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO chats (type, name, grpid, blocked, created_at) VALUES (?, ?, '', ?, ?)",
		int(model.ChatTypeSingle), contact.DisplayName(), int(blocked), time.Now().UTC(),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("creating chat with contact %d: %w", contactID, err)
	}
	chatID, err := result.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("reading chat id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)",
		chatID, contactID,
	); err != nil {
		return 0, 0, fmt.Errorf("adding contact %d to chat %d: %w", contactID, chatID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing chat %d: %w", chatID, err)
	}
	return chatID, blocked, nil
}

// UnblockChat marks a chat as shown to the user.
func (s *SQLiteStore) UnblockChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE chats SET blocked = ? WHERE id = ?", int(model.ChatNotBlocked), chatID)
	if err != nil {
		return fmt.Errorf("unblocking chat %d: %w", chatID, err)
	}
	return nil
}

// GetChat retrieves a chat by id.
func (s *SQLiteStore) GetChat(ctx context.Context, id int64) (*model.Chat, error) {
	var c model.Chat
	err := s.db.GetContext(ctx, &c, "SELECT "+chatColumns+" FROM chats WHERE id = ?", id)
	if err != nil {
		return nil, wrapNotFound(fmt.Sprintf("getting chat %d", id), err)
	}
	return &c, nil
}

// GetChatByGrpID retrieves a group chat by its group id.
func (s *SQLiteStore) GetChatByGrpID(ctx context.Context, grpID string) (*model.Chat, error) {
	if grpID == "" {
		return nil, fmt.Errorf("getting chat by empty group id: %w", ErrNotFound)
	}
	var c model.Chat
	err := s.db.GetContext(ctx, &c,
		"SELECT "+chatColumns+" FROM chats WHERE grpid = ? ORDER BY id LIMIT 1", grpID)
	if err != nil {
		return nil, wrapNotFound(fmt.Sprintf("getting chat for group %s", grpID), err)
	}
	return &c, nil
}

// CreateGroupChat creates a group with self as the only member.
func (s *SQLiteStore) CreateGroupChat(
	ctx context.Context,
	name, grpID string,
	verified bool,
) (int64, error) {
	chatType := model.ChatTypeGroup
	if verified {
		chatType = model.ChatTypeVerifiedGroup
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO chats (type, name, grpid, blocked, created_at) VALUES (?, ?, ?, 0, ?)",
		int(chatType), name, grpID, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("creating group %s: %w", grpID, err)
	}
	chatID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading chat id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)",
		chatID, model.ContactIDSelf,
	); err != nil {
		return 0, fmt.Errorf("adding self to group %d: %w", chatID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing group %d: %w", chatID, err)
	}
	return chatID, nil
}

// GetChatContacts returns the contact ids of a chat's members.
func (s *SQLiteStore) GetChatContacts(ctx context.Context, chatID int64) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		"SELECT contact_id FROM chats_contacts WHERE chat_id = ? ORDER BY contact_id", chatID)
	if err != nil {
		return nil, fmt.Errorf("querying members of chat %d: %w", chatID, err)
	}
	return ids, nil
}

// AddChatContact adds a member to a chat. It reports false if the contact
// already was a member.
func (s *SQLiteStore) AddChatContact(ctx context.Context, chatID, contactID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)",
		chatID, contactID,
	)
	if err != nil {
		return false, fmt.Errorf("adding contact %d to chat %d: %w", contactID, chatID, err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// IsChatContact reports whether a contact is a member of a chat.
func (s *SQLiteStore) IsChatContact(ctx context.Context, chatID, contactID int64) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM chats_contacts WHERE chat_id = ? AND contact_id = ?",
		chatID, contactID,
	)
	if err != nil {
		return false, fmt.Errorf("checking membership of contact %d in chat %d: %w", contactID, chatID, err)
	}
	return count > 0, nil
}
