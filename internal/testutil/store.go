// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "creating test store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewKey generates a small public/private keypair for addr.
func NewKey(t *testing.T, addr string) (key.Key, key.Key) {
	t.Helper()

	pub, priv, err := key.Generate(addr, key.TestConfig())
	require.NoError(t, err, "generating key for %s", addr)
	return pub, priv
}
