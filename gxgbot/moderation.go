package gxgbot

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Moderation action types
const (
	ModActionMute       = "mute"
	ModActionWarn       = "warn"
	ModActionWarnRemove = "warn_remove"
)

const recentModerationLimit = 10

// StringList stores a JSON-encoded list of strings in a single column
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *StringList) Scan(value any) error {
	if value == nil {
		*s = StringList{}
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), s)
	case []byte:
		return json.Unmarshal(v, s)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}

// ModerationEntry records a single moderation action taken by a
// moderator against a member
type ModerationEntry struct {
	ModelUintID
	Action      string `json:"action"`
	ModeratorID string `gorm:"index" json:"moderator_id"`
	TargetID    string `gorm:"index" json:"target_id"`
	Reason      string `json:"reason"`
	// Duration is the action duration in seconds, where applicable
	Duration int64 `json:"duration,omitempty"`
	ModelUnixTime
}

func (ModerationEntry) TableName() string {
	return "moderationlog"
}

// Warning aggregates a member's infractions into a single row, with
// the individual reasons kept as a list
type Warning struct {
	// ID is the Discord user ID
	ID                 string     `gorm:"primaryKey" json:"id"`
	Infractions        int        `gorm:"default:0" json:"infractions"`
	Reasons            StringList `gorm:"type:text" json:"reasons"`
	RemovedInfractions int        `gorm:"default:0" json:"removed_infractions"`
	ModelUnixTime
}

func (Warning) TableName() string {
	return "warnings"
}

// Moderator persists moderation actions and member warnings
type Moderator struct {
	db       DBI
	settings *GuildSettings
	logger   *slog.Logger
}

func NewModerator(
	db DBI,
	settings *GuildSettings,
	logger *slog.Logger,
) *Moderator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderator{
		db:       db,
		settings: settings,
		logger:   logger.With(loggerNameKey, "moderator"),
	}
}

// LogAction records a moderation action
func (m *Moderator) LogAction(
	ctx context.Context,
	action string,
	moderatorID string,
	targetID string,
	reason string,
	duration time.Duration,
) (*ModerationEntry, error) {
	entry := &ModerationEntry{
		Action:      action,
		ModeratorID: moderatorID,
		TargetID:    targetID,
		Reason:      reason,
		Duration:    int64(duration.Seconds()),
	}
	if _, err := m.db.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("error saving moderation entry: %w", err)
	}
	m.logger.InfoContext(
		ctx,
		"logged moderation action",
		"action", action,
		"moderator_id", moderatorID,
		"target_id", targetID,
	)
	return entry, nil
}

// RecentByModerator returns the moderator's most recent actions,
// newest first
func (m *Moderator) RecentByModerator(
	ctx context.Context,
	moderatorID string,
) ([]ModerationEntry, error) {
	var entries []ModerationEntry
	err := m.db.DB().WithContext(ctx).Where(
		"moderator_id = ?", moderatorID,
	).Order("created_at desc").Limit(recentModerationLimit).Find(&entries).Error
	return entries, err
}

// AddWarning records a new infraction for the member, creating their
// warning row on first offense, and returns the updated row. The
// caller should compare the infraction count against the guild's
// warn threshold.
func (m *Moderator) AddWarning(
	ctx context.Context,
	userID string,
	reason string,
) (*Warning, error) {
	warning := &Warning{}
	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			findErr := tx.Where("id = ?", userID).First(warning).Error
			if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
				return findErr
			}
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				warning.ID = userID
				warning.Reasons = StringList{}
			}
			warning.Infractions++
			warning.Reasons = append(warning.Reasons, reason)
			return tx.Save(warning).Error
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error adding warning: %w", err)
	}
	m.logger.InfoContext(
		ctx,
		"added warning",
		"user_id", userID,
		"infractions", warning.Infractions,
	)
	return warning, nil
}

// RemoveWarning decrements the member's active infraction count,
// keeping a tally of removed infractions. Returns the updated row,
// or nil if the member has no warnings.
func (m *Moderator) RemoveWarning(
	ctx context.Context,
	userID string,
) (*Warning, error) {
	warning := &Warning{}
	err := m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			findErr := tx.Where("id = ?", userID).First(warning).Error
			if findErr != nil {
				return findErr
			}
			if warning.Infractions == 0 {
				return nil
			}
			warning.Infractions--
			warning.RemovedInfractions++
			if len(warning.Reasons) > 0 {
				warning.Reasons = warning.Reasons[:len(warning.Reasons)-1]
			}
			return tx.Save(warning).Error
		},
	)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error removing warning: %w", err)
	}
	return warning, nil
}

// GetWarnings returns the member's warning row, or nil if they have
// none
func (m *Moderator) GetWarnings(
	ctx context.Context,
	userID string,
) (*Warning, error) {
	warning := &Warning{}
	err := m.db.DB().WithContext(ctx).Where("id = ?", userID).First(warning).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return warning, nil
}

// OverThreshold reports whether the member's active infractions have
// reached the guild's warn threshold
func (m *Moderator) OverThreshold(warning *Warning) bool {
	if warning == nil {
		return false
	}
	threshold := m.settings.GetWarnThreshold()
	return threshold > 0 && warning.Infractions >= threshold
}
