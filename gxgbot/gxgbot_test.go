package gxgbot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

// newTestDB creates a migrated sqlite database in a temp dir and
// returns the write wrapper
func newTestDB(t testing.TB) DBI {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "gxgbot_test.sqlite3")
	db, err := CreateDB(context.Background(), dbTypeSQLite, dbPath)
	require.NoError(t, err)
	return NewDatabase(db, slog.Default(), false)
}

// newTestSettings creates a settings file in a temp dir
func newTestSettings(t testing.TB) *GuildSettings {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	settings, err := LoadGuildSettings(path, slog.Default())
	require.NoError(t, err)
	return settings
}

func newTestLevelManager(t testing.TB) *LevelManager {
	t.Helper()
	cfg := DefaultConfig().Leveling
	return NewLevelManager(newTestDB(t), NewEventBus(nil), cfg, slog.Default())
}

// mockDiscordSession implements the subset of DiscordSessionHandler
// the tests exercise. Unimplemented methods panic via the embedded
// nil interface.
type mockDiscordSession struct {
	DiscordSessionHandler

	mu sync.Mutex

	// voiceOccupancy maps channel ID to the user IDs currently in it
	voiceOccupancy map[string][]string

	createdChannels []discordgo.GuildChannelCreateData
	deletedChannels []string
	memberMoves     []memberMove
	sentMessages    []sentMessage
	editedChannels  []channelEdit

	createdThreads  []*discordgo.ThreadStart
	createdWebhooks []string
	webhookSends    []webhookSend

	nextChannelID int
}

type memberMove struct {
	guildID   string
	userID    string
	channelID string
}

type sentMessage struct {
	channelID string
	content   string
	complex   *discordgo.MessageSend
}

type channelEdit struct {
	channelID string
	data      *discordgo.ChannelEdit
}

type webhookSend struct {
	webhookID string
	threadID  string
	params    *discordgo.WebhookParams
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{voiceOccupancy: map[string][]string{}}
}

func (m *mockDiscordSession) GuildChannelCreateComplex(
	_ string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChannelID++
	m.createdChannels = append(m.createdChannels, data)
	return &discordgo.Channel{
		ID:   testChannelID(m.nextChannelID),
		Name: data.Name,
		Type: data.Type,
	}, nil
}

func testChannelID(n int) string {
	return fmt.Sprintf("channel-%d", n)
}

func (m *mockDiscordSession) ChannelDelete(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedChannels = append(m.deletedChannels, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (m *mockDiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editedChannels = append(
		m.editedChannels,
		channelEdit{channelID: channelID, data: data},
	)
	return &discordgo.Channel{ID: channelID, Name: data.Name}, nil
}

func (m *mockDiscordSession) GuildMemberMove(
	guildID string,
	userID string,
	channelID *string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	move := memberMove{guildID: guildID, userID: userID}
	if channelID != nil {
		move.channelID = *channelID
	}
	m.memberMoves = append(m.memberMoves, move)
	return nil
}

func (m *mockDiscordSession) ChannelVoiceOccupancy(
	_ string,
	channelID string,
) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voiceOccupancy[channelID], nil
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(
		m.sentMessages,
		sentMessage{channelID: channelID, content: content},
	)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(
		m.sentMessages,
		sentMessage{channelID: channelID, complex: data},
	)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (m *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return &discordgo.Channel{
		ID:   "dm-" + recipientID,
		Type: discordgo.ChannelTypeDM,
	}, nil
}

func (m *mockDiscordSession) ChannelWebhooks(
	string,
	...discordgo.RequestOption,
) ([]*discordgo.Webhook, error) {
	return nil, nil
}

func (m *mockDiscordSession) WebhookCreate(
	channelID string,
	name string,
	_ string,
	_ ...discordgo.RequestOption,
) (*discordgo.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdWebhooks = append(m.createdWebhooks, channelID)
	return &discordgo.Webhook{
		ID:        "webhook-1",
		Token:     "webhook-token",
		ChannelID: channelID,
		Name:      name,
	}, nil
}

func (m *mockDiscordSession) WebhookThreadExecute(
	webhookID string,
	_ string,
	_ bool,
	threadID string,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookSends = append(
		m.webhookSends,
		webhookSend{webhookID: webhookID, threadID: threadID, params: data},
	)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) ForumThreadStartComplex(
	_ string,
	threadData *discordgo.ThreadStart,
	_ *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdThreads = append(m.createdThreads, threadData)
	return &discordgo.Channel{
		ID:   "thread-" + threadData.Name,
		Name: threadData.Name,
	}, nil
}
