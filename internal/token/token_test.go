package token

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/peertrust/internal/testutil"
)

func TestHistoryEviction(t *testing.T) {
	h := NewHistory(2)
	_, ok := h.Push(Entry{Token: "a"})
	assert.False(t, ok)
	_, ok = h.Push(Entry{Token: "b", ForeignID: 7})
	assert.False(t, ok)

	evicted, ok := h.Push(Entry{Token: "c", ForeignID: 7})
	require.True(t, ok)
	assert.Equal(t, "a", evicted.Token)

	assert.False(t, h.Contains("a"))
	assert.True(t, h.Contains("b"))
	assert.True(t, h.Contains("c"))
	assert.Equal(t, 2, h.Len())

	newest, ok := h.Newest(7)
	require.True(t, ok)
	assert.Equal(t, "c", newest.Token)

	_, ok = h.Newest(0)
	assert.False(t, ok)

	var got []string
	for _, e := range h.Entries() {
		got = append(got, e.Token)
	}
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestHistoryMinimumCapacity(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, 1, h.Cap())
}

func TestTokensPersistAndEvict(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	toks, err := Load(ctx, s, 3)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, toks.Save(ctx, InviteNumber, 0, fmt.Sprintf("inv%d", i)))
	}
	require.NoError(t, toks.Save(ctx, Auth, 0, "inv0"))

	assert.False(t, toks.Exists(InviteNumber, "inv0"))
	assert.False(t, toks.Exists(InviteNumber, "inv1"))
	assert.True(t, toks.Exists(InviteNumber, "inv4"))
	assert.True(t, toks.Exists(Auth, "inv0"), "namespaces are separate")
	assert.False(t, toks.Exists(InviteNumber, ""))

	rows, err := s.GetTokens(ctx, int(InviteNumber))
	require.NoError(t, err)
	require.Len(t, rows, 3, "evicted rows are deleted")
	assert.Equal(t, "inv2", rows[0].Token)

	reloaded, err := Load(ctx, s, 3)
	require.NoError(t, err)
	assert.True(t, reloaded.Exists(InviteNumber, "inv3"))
	assert.False(t, reloaded.Exists(InviteNumber, "inv1"))
}

func TestLoadTrimsToCapacity(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	big, err := Load(ctx, s, 10)
	require.NoError(t, err)
	for i := range 4 {
		require.NoError(t, big.Save(ctx, Auth, 0, fmt.Sprintf("a%d", i)))
	}

	small, err := Load(ctx, s, 2)
	require.NoError(t, err)
	assert.False(t, small.Exists(Auth, "a1"))
	assert.True(t, small.Exists(Auth, "a2"))

	rows, err := s.GetTokens(ctx, int(Auth))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestLookupOrCreate(t *testing.T) {
	ctx := context.Background()
	toks, err := Load(ctx, testutil.NewTestStore(t), 4)
	require.NoError(t, err)

	first, err := toks.LookupOrCreate(ctx, Auth, 12)
	require.NoError(t, err)
	again, err := toks.LookupOrCreate(ctx, Auth, 12)
	require.NoError(t, err)
	other, err := toks.LookupOrCreate(ctx, Auth, 0)
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)
	assert.True(t, toks.Exists(Auth, first))
}

func TestSaveRejectsNonASCII(t *testing.T) {
	ctx := context.Background()
	toks, err := Load(ctx, testutil.NewTestStore(t), 4)
	require.NoError(t, err)

	require.ErrorIs(t, toks.Save(ctx, Auth, 0, "grün"), ErrNotASCII)
	require.Error(t, toks.Save(ctx, Auth, 0, ""))
}

func TestCreateID(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		id, err := CreateID()
		require.NoError(t, err)
		require.Len(t, id, 11)
		assert.Regexp(t, `^[A-Za-z0-9_-]{11}$`, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
