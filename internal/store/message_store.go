package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/peertrust/internal/model"
)

// InsertMessage stores a message and returns its id. A zero timestamp is
// replaced by the current time.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg model.Message) (int64, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO msgs (chat_id, from_id, state, rfc724_mid, text, hidden, encrypted, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.FromID, int(msg.State), msg.RFC724MID, msg.Text,
		boolToInt(msg.Hidden), boolToInt(msg.Encrypted), msg.Timestamp.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting message into chat %d: %w", msg.ChatID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading message id: %w", err)
	}
	return id, nil
}

// GetMessages returns the messages of a chat in insertion order, hidden
// ones included.
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT id, chat_id, from_id, state, rfc724_mid, text, hidden, encrypted, timestamp
		FROM msgs WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages of chat %d: %w", chatID, err)
	}
	return msgs, nil
}

// MessageExists reports whether a message with the given Message-ID was
// already stored.
func (s *SQLiteStore) MessageExists(ctx context.Context, rfc724MID string) (bool, error) {
	if rfc724MID == "" {
		return false, nil
	}
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM msgs WHERE rfc724_mid = ?", rfc724MID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", rfc724MID, err)
	}
	return count > 0, nil
}
