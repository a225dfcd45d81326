package store

import (
	"context"
	"fmt"

	"github.com/nhle/peertrust/internal/model"
)

// SaveKeypair stores a keypair. A default keypair replaces the previous
// default.
func (s *SQLiteStore) SaveKeypair(ctx context.Context, kp model.Keypair) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if kp.IsDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE keypairs SET is_default = 0"); err != nil {
			return fmt.Errorf("clearing default keypair: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO keypairs (addr, is_default, public_key, private_key, created)
		VALUES (?, ?, ?, ?, ?)`,
		kp.Addr, boolToInt(kp.IsDefault), kp.PublicKey, kp.PrivateKey, kp.Created,
	)
	if err != nil {
		return fmt.Errorf("inserting keypair for %s: %w", kp.Addr, err)
	}

	return tx.Commit()
}

// GetDefaultKeypair returns the keypair used for the configured address.
func (s *SQLiteStore) GetDefaultKeypair(ctx context.Context) (*model.Keypair, error) {
	var kp model.Keypair
	err := s.db.GetContext(ctx, &kp, `
		SELECT addr, is_default, public_key, private_key, created
		FROM keypairs WHERE is_default = 1 ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return nil, wrapNotFound("getting default keypair", err)
	}
	return &kp, nil
}
