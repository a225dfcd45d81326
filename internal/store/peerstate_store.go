package store

import (
	"context"
	"fmt"

	"github.com/nhle/peertrust/internal/model"
)

const peerstateColumns = `addr, last_seen, last_seen_autocrypt, prefer_encrypted,
	public_key, gossip_timestamp, gossip_key,
	public_key_fingerprint, gossip_key_fingerprint,
	public_key_verified, gossip_key_verified`

// GetPeerstateByAddr loads the peer state of addr, case-insensitively.
func (s *SQLiteStore) GetPeerstateByAddr(ctx context.Context, addr string) (*model.PeerstateRow, error) {
	var row model.PeerstateRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+peerstateColumns+" FROM acpeerstates WHERE addr = ? COLLATE NOCASE", addr)
	if err != nil {
		return nil, wrapNotFound(fmt.Sprintf("getting peerstate %s", addr), err)
	}
	return &row, nil
}

// GetPeerstateByFingerprint loads the peer state whose public or gossip
// key has fpr. If several peers share the key, the one holding it as
// public key wins.
func (s *SQLiteStore) GetPeerstateByFingerprint(ctx context.Context, fpr string) (*model.PeerstateRow, error) {
	var row model.PeerstateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+peerstateColumns+` FROM acpeerstates
		WHERE public_key_fingerprint = ? COLLATE NOCASE
		   OR gossip_key_fingerprint = ? COLLATE NOCASE
		ORDER BY (public_key_fingerprint = ? COLLATE NOCASE) DESC, id
		LIMIT 1`,
		fpr, fpr, fpr,
	)
	if err != nil {
		return nil, wrapNotFound(fmt.Sprintf("getting peerstate by fingerprint %s", fpr), err)
	}
	return &row, nil
}

// CreatePeerstate inserts an empty row for addr if none exists.
func (s *SQLiteStore) CreatePeerstate(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO acpeerstates (addr) VALUES (?)", addr)
	if err != nil {
		return fmt.Errorf("creating peerstate %s: %w", addr, err)
	}
	return nil
}

// UpdatePeerstate writes every column of row.
func (s *SQLiteStore) UpdatePeerstate(ctx context.Context, row model.PeerstateRow) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE acpeerstates SET
			last_seen = :last_seen,
			last_seen_autocrypt = :last_seen_autocrypt,
			prefer_encrypted = :prefer_encrypted,
			public_key = :public_key,
			gossip_timestamp = :gossip_timestamp,
			gossip_key = :gossip_key,
			public_key_fingerprint = :public_key_fingerprint,
			gossip_key_fingerprint = :gossip_key_fingerprint,
			public_key_verified = :public_key_verified,
			gossip_key_verified = :gossip_key_verified
		WHERE addr = :addr COLLATE NOCASE`, row)
	if err != nil {
		return fmt.Errorf("updating peerstate %s: %w", row.Addr, err)
	}
	return nil
}

// UpdatePeerstateTimestamps writes only the three timestamps.
func (s *SQLiteStore) UpdatePeerstateTimestamps(
	ctx context.Context,
	addr string,
	lastSeen, lastSeenAutocrypt, gossipTimestamp int64,
) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE acpeerstates SET last_seen = ?, last_seen_autocrypt = ?, gossip_timestamp = ?
		WHERE addr = ? COLLATE NOCASE`,
		lastSeen, lastSeenAutocrypt, gossipTimestamp, addr,
	)
	if err != nil {
		return fmt.Errorf("updating peerstate timestamps %s: %w", addr, err)
	}
	return nil
}

// GetPeerstates returns all peer states ordered by address.
func (s *SQLiteStore) GetPeerstates(ctx context.Context) ([]model.PeerstateRow, error) {
	var rows []model.PeerstateRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+peerstateColumns+" FROM acpeerstates ORDER BY addr")
	if err != nil {
		return nil, fmt.Errorf("querying peerstates: %w", err)
	}
	return rows, nil
}
