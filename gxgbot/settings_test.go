package gxgbot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGuildSettingsCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	settings, err := LoadGuildSettings(path, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWarnThreshold, settings.GetWarnThreshold())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestGuildSettingsMutationsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	settings, err := LoadGuildSettings(path, nil)
	require.NoError(t, err)

	require.NoError(t, settings.SetLevelUpChannel("chan-1"))
	require.NoError(t, settings.SetLogChannel("chan-2"))
	require.NoError(t, settings.SetMuteRole("role-1"))
	require.NoError(t, settings.SetWarnThreshold(5))
	require.NoError(t, settings.AddLobbyChannel("lobby-1"))

	// every mutation rewrites the file before returning
	reloaded, err := LoadGuildSettings(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", reloaded.GetLevelUpChannel())
	assert.Equal(t, "chan-2", reloaded.GetLogChannel())
	assert.Equal(t, "role-1", reloaded.GetMuteRole())
	assert.Equal(t, 5, reloaded.GetWarnThreshold())
	assert.True(t, reloaded.IsLobbyChannel("lobby-1"))
}

func TestGuildSettingsFileIsValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	settings, err := LoadGuildSettings(path, nil)
	require.NoError(t, err)
	require.NoError(t, settings.SetErrorWebhook("https://example.com/api/webhooks/1/t"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	contents := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &contents))
	assert.Equal(
		t,
		"https://example.com/api/webhooks/1/t",
		contents["error_webhook_url"],
	)
}

func TestAddLobbyChannelDeduplicates(t *testing.T) {
	settings := newTestSettings(t)
	require.NoError(t, settings.AddLobbyChannel("lobby-1"))
	require.NoError(t, settings.AddLobbyChannel("lobby-1"))
	require.NoError(t, settings.AddLobbyChannel("lobby-2"))

	assert.True(t, settings.HasLobbyChannels())
	assert.Len(t, settings.LobbyChannelIDs, 2)
}

func TestRemoveLobbyChannel(t *testing.T) {
	settings := newTestSettings(t)
	require.NoError(t, settings.AddLobbyChannel("lobby-1"))
	require.NoError(t, settings.RemoveLobbyChannel("lobby-1"))
	assert.False(t, settings.IsLobbyChannel("lobby-1"))
	assert.False(t, settings.HasLobbyChannels())
}
