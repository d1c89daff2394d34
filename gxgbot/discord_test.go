package gxgbot

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscordUsesConfiguredHTTPClient(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	cfg := &DiscordConfig{
		Token:      "test-token",
		httpClient: client,
	}

	d, err := newDiscord(
		context.Background(),
		cfg,
		slog.NewTextHandler(io.Discard, nil),
	)
	require.NoError(t, err)

	session, ok := d.session.(DiscordSession)
	require.True(t, ok)
	assert.Same(t, client, session.Client)
}

func TestNewPropagatesHTTPClient(t *testing.T) {
	tmpdir := t.TempDir()
	client := &http.Client{Timeout: 5 * time.Second}

	cfg := DefaultConfig()
	cfg.Database = filepath.Join(tmpdir, "gxgbot.sqlite3")
	cfg.SettingsFile = filepath.Join(tmpdir, "settings.json")
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "test-application-id"
	cfg.HTTPClient = client

	bot, err := New(context.Background(), cfg)
	require.NoError(t, err)

	session, ok := bot.discord.session.(DiscordSession)
	require.True(t, ok)
	assert.Same(t, client, session.Client)
}
