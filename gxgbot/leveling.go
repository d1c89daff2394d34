package gxgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnMemberProgressLevel      = "level"
	columnMemberProgressOverflowXP = "overflow_xp"
	columnMemberProgressModifier   = "modifier"
	columnMemberProgressLastGained = "last_gained"
	columnMemberProgressMessages   = "messages"
)

// Blocklist entry types
const (
	BlockTypeUser    = "user"
	BlockTypeChannel = "channel"
)

// MemberProgress tracks a member's XP progress. Overflow XP is the
// amount accumulated toward the next level, not a lifetime total.
type MemberProgress struct {
	// ID is the Discord user ID
	ID         string  `gorm:"primaryKey" json:"id"`
	Level      int     `gorm:"default:0" json:"level"`
	OverflowXP int     `gorm:"default:0" json:"overflow_xp"`
	Modifier   float64 `gorm:"default:1.0" json:"modifier"`
	// LastGained is the unix timestamp (seconds) XP was last awarded
	LastGained int64 `json:"last_gained"`
	Messages   int64 `gorm:"default:0" json:"messages"`
	ModelUnixTime
}

func (MemberProgress) TableName() string {
	return "levels"
}

// TotalXP returns the lifetime XP implied by the member's level and
// current overflow
func (m MemberProgress) TotalXP() int {
	total := m.OverflowXP
	for lvl := 0; lvl < m.Level; lvl++ {
		total += xpThreshold(lvl)
	}
	return total
}

// BlocklistEntry marks a user or channel as excluded from XP accrual
type BlocklistEntry struct {
	// ID is the Discord user or channel ID
	ID string `gorm:"primaryKey" json:"id"`
	// Type is either [BlockTypeUser] or [BlockTypeChannel]
	Type    string `gorm:"primaryKey" json:"type"`
	AddedBy string `json:"added_by"`
	ModelUnixTime
}

func (BlocklistEntry) TableName() string {
	return "xp_blocked"
}

// xpThreshold returns the XP required to advance from the given level
// to the next one
func xpThreshold(level int) int {
	return 5*level*level + 50*level + 100
}

// XPGainResult describes the outcome of processing a single message
// for XP
type XPGainResult struct {
	Gained     int
	LeveledUp  bool
	NewLevel   int
	OnCooldown bool
}

// LevelManager implements XP accrual and level progression. All
// read-modify-write cycles for a given user are serialized through a
// per-user mutex, so concurrent messages from the same user cannot
// double-count or lose an award.
type LevelManager struct {
	db     DBI
	events *EventBus
	cfg    *LevelingConfig
	logger *slog.Logger

	// xpGain returns the base XP for a single award, before the
	// member's modifier is applied. Overridable for tests.
	xpGain func() int

	userMu map[string]*sync.Mutex
	mapMu  sync.Mutex

	blockMu         sync.RWMutex
	blockedUsers    map[string]bool
	blockedChannels map[string]bool
}

func NewLevelManager(
	db DBI,
	events *EventBus,
	cfg *LevelingConfig,
	logger *slog.Logger,
) *LevelManager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig().Leveling
	}
	lm := &LevelManager{
		db:              db,
		events:          events,
		cfg:             cfg,
		logger:          logger.With(loggerNameKey, "level_manager"),
		userMu:          map[string]*sync.Mutex{},
		blockedUsers:    map[string]bool{},
		blockedChannels: map[string]bool{},
	}
	lm.xpGain = func() int {
		spread := cfg.XPGainMax - cfg.XPGainMin
		if spread <= 0 {
			return cfg.XPGainMin
		}
		return cfg.XPGainMin + rand.Intn(spread+1)
	}
	return lm
}

// Start loads the blocklist from the database
func (lm *LevelManager) Start(ctx context.Context) error {
	return lm.RefreshBlocklists(ctx)
}

// RefreshBlocklists reloads the XP blocklist from the database,
// replacing the in-memory sets
func (lm *LevelManager) RefreshBlocklists(ctx context.Context) error {
	var entries []BlocklistEntry
	if err := lm.db.DB().WithContext(ctx).Find(&entries).Error; err != nil {
		return fmt.Errorf("error loading blocklist: %w", err)
	}

	users := map[string]bool{}
	channels := map[string]bool{}
	for _, entry := range entries {
		switch entry.Type {
		case BlockTypeUser:
			users[entry.ID] = true
		case BlockTypeChannel:
			channels[entry.ID] = true
		default:
			lm.logger.WarnContext(
				ctx,
				"unknown blocklist entry type",
				"id", entry.ID,
				"type", entry.Type,
			)
		}
	}

	lm.blockMu.Lock()
	lm.blockedUsers = users
	lm.blockedChannels = channels
	lm.blockMu.Unlock()

	lm.logger.InfoContext(
		ctx,
		"refreshed blocklist",
		"blocked_users", len(users),
		"blocked_channels", len(channels),
	)
	return nil
}

// IsBlocked reports whether XP accrual is blocked for the given user
// or channel
func (lm *LevelManager) IsBlocked(userID string, channelID string) bool {
	lm.blockMu.RLock()
	defer lm.blockMu.RUnlock()
	return lm.blockedUsers[userID] || lm.blockedChannels[channelID]
}

// AddBlock persists a new blocklist entry and updates the in-memory
// set
func (lm *LevelManager) AddBlock(
	ctx context.Context,
	id string,
	blockType string,
	addedBy string,
) error {
	if blockType != BlockTypeUser && blockType != BlockTypeChannel {
		return fmt.Errorf("invalid block type: %s", blockType)
	}
	entry := BlocklistEntry{ID: id, Type: blockType, AddedBy: addedBy}
	lm.db.Lock()
	err := lm.db.DB().WithContext(ctx).Clauses(
		clause.OnConflict{DoNothing: true},
	).Create(&entry).Error
	lm.db.Unlock()
	if err != nil {
		return err
	}

	lm.blockMu.Lock()
	switch blockType {
	case BlockTypeUser:
		lm.blockedUsers[id] = true
	case BlockTypeChannel:
		lm.blockedChannels[id] = true
	}
	lm.blockMu.Unlock()
	return nil
}

// RemoveBlock removes a blocklist entry and updates the in-memory set
func (lm *LevelManager) RemoveBlock(
	ctx context.Context,
	id string,
	blockType string,
) (bool, error) {
	lm.db.Lock()
	rv := lm.db.DB().WithContext(ctx).Unscoped().Where(
		"id = ? AND type = ?", id, blockType,
	).Delete(&BlocklistEntry{})
	lm.db.Unlock()
	if rv.Error != nil {
		return false, rv.Error
	}

	lm.blockMu.Lock()
	switch blockType {
	case BlockTypeUser:
		delete(lm.blockedUsers, id)
	case BlockTypeChannel:
		delete(lm.blockedChannels, id)
	}
	lm.blockMu.Unlock()
	return rv.RowsAffected > 0, nil
}

// lockUser returns the mutex serializing XP updates for the given
// user, creating it on first use
func (lm *LevelManager) lockUser(userID string) *sync.Mutex {
	lm.mapMu.Lock()
	defer lm.mapMu.Unlock()
	mu, ok := lm.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		lm.userMu[userID] = mu
	}
	return mu
}

// ProcessMessage awards XP for a single message. Blocked users and
// channels are skipped entirely, with no progress record created.
// Messages inside the cooldown window only increment the message
// counter. A single message can advance the member by at most one
// level.
func (lm *LevelManager) ProcessMessage(
	ctx context.Context,
	userID string,
	channelID string,
	guildID string,
	msgTime time.Time,
) (*XPGainResult, error) {
	if lm.IsBlocked(userID, channelID) {
		return &XPGainResult{}, nil
	}

	mu := lm.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	progress, err := lm.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if progress.LastGained > msgTime.Add(-lm.cfg.Cooldown).Unix() {
		_, err = lm.db.Update(
			ctx,
			progress,
			columnMemberProgressMessages,
			progress.Messages+1,
		)
		if err != nil {
			return nil, err
		}
		return &XPGainResult{OnCooldown: true}, nil
	}

	gained := int(math.Round(float64(lm.xpGain()) * progress.Modifier))

	deficit := xpThreshold(progress.Level) - progress.OverflowXP
	newOverflow := progress.OverflowXP + gained
	result := &XPGainResult{Gained: gained, NewLevel: progress.Level}
	if newOverflow >= deficit {
		result.LeveledUp = true
		result.NewLevel = progress.Level + 1
		newOverflow -= deficit
	}

	updates := map[string]any{
		columnMemberProgressLevel:      result.NewLevel,
		columnMemberProgressOverflowXP: newOverflow,
		columnMemberProgressLastGained: msgTime.Unix(),
		columnMemberProgressMessages:   progress.Messages + 1,
	}
	if _, err = lm.db.Updates(ctx, progress, updates); err != nil {
		return nil, err
	}

	if result.LeveledUp && lm.events != nil {
		lm.events.Emit(
			ctx, EventLevelUp, &LevelUpEvent{
				UserID:    userID,
				ChannelID: channelID,
				GuildID:   guildID,
				NewLevel:  result.NewLevel,
			},
		)
	}

	return result, nil
}

// getOrCreate fetches the member's progress row, creating it with
// zeroed progress on first sight
func (lm *LevelManager) getOrCreate(
	ctx context.Context,
	userID string,
) (*MemberProgress, error) {
	progress := &MemberProgress{}
	err := lm.db.DB().WithContext(ctx).Where(
		"id = ?", userID,
	).First(progress).Error
	if err == nil {
		return progress, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	progress = &MemberProgress{ID: userID, Modifier: 1.0}
	if _, err = lm.db.Create(ctx, progress); err != nil {
		return nil, err
	}
	lm.logger.InfoContext(ctx, "created progress record", "user_id", userID)
	return progress, nil
}

// FetchUser returns the member's progress, or nil if no record exists
func (lm *LevelManager) FetchUser(
	ctx context.Context,
	userID string,
) (*MemberProgress, error) {
	progress := &MemberProgress{}
	err := lm.db.DB().WithContext(ctx).Where(
		"id = ?", userID,
	).First(progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// Rank returns the member's 1-based rank ordered by level, then
// overflow XP
func (lm *LevelManager) Rank(
	ctx context.Context,
	progress *MemberProgress,
) (int64, error) {
	var higher int64
	err := lm.db.DB().WithContext(ctx).Model(&MemberProgress{}).Where(
		"level > ? OR (level = ? AND overflow_xp > ?)",
		progress.Level, progress.Level, progress.OverflowXP,
	).Count(&higher).Error
	if err != nil {
		return 0, err
	}
	return higher + 1, nil
}

// SetModifier sets the member's XP modifier, creating a progress
// record if none exists
func (lm *LevelManager) SetModifier(
	ctx context.Context,
	userID string,
	modifier float64,
) error {
	if modifier < 0 {
		return fmt.Errorf("modifier must be non-negative, got %f", modifier)
	}
	mu := lm.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	progress, err := lm.getOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	_, err = lm.db.Update(ctx, progress, columnMemberProgressModifier, modifier)
	return err
}

// Reset removes a member's progress record entirely. The next message
// they send starts them over at level 0.
func (lm *LevelManager) Reset(ctx context.Context, userID string) error {
	mu := lm.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	lm.db.Lock()
	rv := lm.db.DB().WithContext(ctx).Unscoped().Delete(
		&MemberProgress{ID: userID},
	)
	lm.db.Unlock()
	if rv.Error != nil {
		lm.logger.ErrorContext(ctx, "error resetting progress", tint.Err(rv.Error))
	}
	return rv.Error
}
