package store

import (
	"context"
	"fmt"

	"github.com/nhle/peertrust/internal/model"
)

// InsertToken stores a handshake token and returns its row id.
func (s *SQLiteStore) InsertToken(ctx context.Context, tok model.Token) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO tokens (namespc, foreign_id, token, timestamp) VALUES (?, ?, ?, ?)",
		tok.Namespace, tok.ForeignID, tok.Token, tok.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading token id: %w", err)
	}
	return id, nil
}

// DeleteToken removes a token row.
func (s *SQLiteStore) DeleteToken(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting token %d: %w", id, err)
	}
	return nil
}

// GetTokens returns the tokens of a namespace, oldest first.
func (s *SQLiteStore) GetTokens(ctx context.Context, namespace int) ([]model.Token, error) {
	var toks []model.Token
	err := s.db.SelectContext(ctx, &toks,
		"SELECT id, namespc, foreign_id, token, timestamp FROM tokens WHERE namespc = ? ORDER BY id",
		namespace)
	if err != nil {
		return nil, fmt.Errorf("querying tokens of namespace %d: %w", namespace, err)
	}
	return toks, nil
}
