package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/peertrust/internal/model"
)

const contactColumns = "id, name, addr, origin, blocked, created_at"

// AddOrLookupContact returns the id of the contact with addr, creating it
// if needed. The origin of an existing contact is only ever raised; its
// name is replaced only when the new origin is at least as strong. The
// configured self address always maps to model.ContactIDSelf. The bool
// result reports whether a new row was inserted.
func (s *SQLiteStore) AddOrLookupContact(
	ctx context.Context,
	name, addr string,
	origin model.Origin,
) (int64, bool, error) {
	addr = model.NormalizeAddr(addr)
	if !model.MayBeValidAddr(addr) {
		return 0, false, fmt.Errorf("adding contact %q: invalid address", addr)
	}

	self, err := s.GetConfig(ctx, ConfigAddr)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}
	if self != "" && model.AddrEqual(self, addr) {
		return model.ContactIDSelf, false, nil
	}

	existing, err := s.GetContactByAddr(ctx, addr)
	switch {
	case err == nil:
		if origin > existing.Origin {
			newName := existing.Name
			if strings.TrimSpace(name) != "" {
				newName = name
			}
			_, err := s.db.ExecContext(ctx,
				"UPDATE contacts SET name = ?, origin = ? WHERE id = ?",
				newName, int(origin), existing.ID,
			)
			if err != nil {
				return 0, false, fmt.Errorf("updating contact %d: %w", existing.ID, err)
			}
		}
		return existing.ID, false, nil
	case !errors.Is(err, ErrNotFound):
		return 0, false, err
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO contacts (name, addr, origin, blocked, created_at) VALUES (?, ?, ?, 0, ?)",
		strings.TrimSpace(name), addr, int(origin), time.Now().UTC(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("inserting contact %s: %w", addr, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("reading contact id: %w", err)
	}
	return id, true, nil
}

// GetContact retrieves a contact by id.
func (s *SQLiteStore) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	var c model.Contact
	err := s.db.GetContext(ctx, &c,
		"SELECT "+contactColumns+" FROM contacts WHERE id = ?", id)
	if err != nil {
		return nil, wrapNotFound(fmt.Sprintf("getting contact %d", id), err)
	}
	return &c, nil
}

// GetContactByAddr retrieves a contact by address, case-insensitively.
func (s *SQLiteStore) GetContactByAddr(ctx context.Context, addr string) (*model.Contact, error) {
	var c model.Contact
	err := s.db.GetContext(ctx, &c,
		"SELECT "+contactColumns+" FROM contacts WHERE addr = ? COLLATE NOCASE",
		model.NormalizeAddr(addr))
	if err != nil {
		return nil, wrapNotFound(fmt.Sprintf("getting contact %s", addr), err)
	}
	return &c, nil
}

// ScaleUpOrigin raises the origin of a contact; a weaker origin is ignored.
func (s *SQLiteStore) ScaleUpOrigin(ctx context.Context, id int64, origin model.Origin) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE contacts SET origin = ? WHERE id = ? AND origin < ?",
		int(origin), id, int(origin),
	)
	if err != nil {
		return fmt.Errorf("scaling up origin of contact %d: %w", id, err)
	}
	return nil
}
