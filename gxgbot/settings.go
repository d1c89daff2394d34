package gxgbot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const DefaultWarnThreshold = 3

// GuildSettings holds the guild-mutable configuration: channel and role
// identifiers, the error webhook, and the lobby-channel id list.
// Administrative commands change these at runtime, and every mutation
// rewrites the backing file synchronously before returning.
//
//nolint:lll // struct tags can't be split
type GuildSettings struct {
	// LevelUpChannelID is where level-up announcements are posted
	LevelUpChannelID string `json:"level_up_channel_id"`

	// LogChannelID is the private moderation log channel
	LogChannelID string `json:"log_channel_id"`

	// ModmailForumID is the forum channel backing the modmail relay
	ModmailForumID string `json:"modmail_forum_id"`

	// ErrorWebhookURL, when set, receives an embed for every
	// persisted error record
	ErrorWebhookURL string `json:"error_webhook_url"`

	// MuteRoleID is added to users on /mute, alongside the timeout
	MuteRoleID string `json:"mute_role_id"`

	// WarnThreshold is the infraction count at which moderators
	// are alerted
	WarnThreshold int `json:"warn_threshold"`

	// LobbyChannelIDs are the "join to create" voice channels
	LobbyChannelIDs []string `json:"lobby_channel_ids"`

	// MemberCountChannelID, when set, is renamed periodically with the
	// guild member total
	MemberCountChannelID string `json:"member_count_channel_id,omitempty"`

	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// LoadGuildSettings reads the settings document at path, creating it
// with defaults if it does not exist yet.
func LoadGuildSettings(path string, logger *slog.Logger) (*GuildSettings, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &GuildSettings{
		path:          path,
		WarnThreshold: DefaultWarnThreshold,
		logger:        logger.With(loggerNameKey, "settings"),
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("no settings file found, creating", "path", path)
		if writeErr := s.write(); writeErr != nil {
			return nil, writeErr
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("error reading settings file: %w", err)
	}
	if err = json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("error parsing settings file %q: %w", path, err)
	}
	return s, nil
}

// write rewrites the settings file. Callers must hold s.mu (or, during
// load, have exclusive access). The document is written to a temp file
// and renamed over the original so a crash mid-write never leaves a
// truncated settings file.
func (s *GuildSettings) write() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding settings: %w", err)
	}
	tmp := filepath.Join(
		filepath.Dir(s.path),
		fmt.Sprintf(".%s.tmp", filepath.Base(s.path)),
	)
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("error writing settings file: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("error replacing settings file: %w", err)
	}
	return nil
}

func (s *GuildSettings) update(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	return s.write()
}

func (s *GuildSettings) SetLevelUpChannel(channelID string) error {
	return s.update(func() { s.LevelUpChannelID = channelID })
}

func (s *GuildSettings) SetLogChannel(channelID string) error {
	return s.update(func() { s.LogChannelID = channelID })
}

func (s *GuildSettings) SetModmailForum(channelID string) error {
	return s.update(func() { s.ModmailForumID = channelID })
}

func (s *GuildSettings) SetErrorWebhook(url string) error {
	return s.update(func() { s.ErrorWebhookURL = url })
}

func (s *GuildSettings) SetMuteRole(roleID string) error {
	return s.update(func() { s.MuteRoleID = roleID })
}

func (s *GuildSettings) SetWarnThreshold(threshold int) error {
	return s.update(func() { s.WarnThreshold = threshold })
}

func (s *GuildSettings) SetMemberCountChannel(channelID string) error {
	return s.update(func() { s.MemberCountChannelID = channelID })
}

func (s *GuildSettings) GetLevelUpChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LevelUpChannelID
}

func (s *GuildSettings) GetLogChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LogChannelID
}

func (s *GuildSettings) GetModmailForum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ModmailForumID
}

func (s *GuildSettings) GetErrorWebhook() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrorWebhookURL
}

func (s *GuildSettings) GetMuteRole() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MuteRoleID
}

func (s *GuildSettings) GetWarnThreshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WarnThreshold
}

func (s *GuildSettings) GetMemberCountChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MemberCountChannelID
}

// AddLobbyChannel appends a voice channel id to the lobby list and
// persists it. Adding an id twice is a no-op.
func (s *GuildSettings) AddLobbyChannel(channelID string) error {
	return s.update(
		func() {
			if !slices.Contains(s.LobbyChannelIDs, channelID) {
				s.LobbyChannelIDs = append(s.LobbyChannelIDs, channelID)
			}
		},
	)
}

func (s *GuildSettings) RemoveLobbyChannel(channelID string) error {
	return s.update(
		func() {
			s.LobbyChannelIDs = slices.DeleteFunc(
				s.LobbyChannelIDs,
				func(id string) bool { return id == channelID },
			)
		},
	)
}

// IsLobbyChannel reports whether the given channel id is a configured
// "join to create" lobby.
func (s *GuildSettings) IsLobbyChannel(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.LobbyChannelIDs, channelID)
}

// HasLobbyChannels reports whether any lobby channels are configured.
func (s *GuildSettings) HasLobbyChannels() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.LobbyChannelIDs) > 0
}

func (s *GuildSettings) LogValue() slog.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slog.GroupValue(
		slog.String("level_up_channel_id", s.LevelUpChannelID),
		slog.String("log_channel_id", s.LogChannelID),
		slog.String("modmail_forum_id", s.ModmailForumID),
		slog.String("mute_role_id", s.MuteRoleID),
		slog.Int("warn_threshold", s.WarnThreshold),
		slog.Any("lobby_channel_ids", s.LobbyChannelIDs),
	)
}
