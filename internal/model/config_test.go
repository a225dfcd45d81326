package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenHistory, cfg.Securejoin.TokenHistory)
	assert.Equal(t, DefaultPollIntervalSec, cfg.Sync.PollIntervalSec)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "993", cfg.IMAP.Port)
}

func TestSaveLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := defaultAppConfig()
	cfg.Account = AccountConfig{Addr: "alice@example.org", DisplayName: "Alice"}
	cfg.IMAP.Host = "imap.example.org"
	cfg.Securejoin.TokenHistory = 4
	cfg.Securejoin.JoinTimeoutSec = 30
	cfg.Log.Development = true

	require.NoError(t, SaveConfig(path, cfg))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", got.Account.Addr)
	assert.Equal(t, "Alice", got.Account.DisplayName)
	assert.Equal(t, "imap.example.org", got.IMAP.Host)
	assert.Equal(t, 4, got.Securejoin.TokenHistory)
	assert.Equal(t, 30, got.Securejoin.JoinTimeoutSec)
	assert.True(t, got.Log.Development)
}
