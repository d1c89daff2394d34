package gxgbot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	lobbyChannelName      = "Join to create"
	lobbyChannelUserLimit = 1
)

// VoiceRoomOwner is the durable record of a personal voice room,
// mapping the channel back to its owner so rooms survive restarts
type VoiceRoomOwner struct {
	// ChannelID is the Discord voice channel ID
	ChannelID string `gorm:"primaryKey" json:"channel_id"`
	OwnerID   string `json:"owner_id"`
	GuildID   string `json:"guild_id"`
	ModelUnixTime
}

func (VoiceRoomOwner) TableName() string {
	return "voice_rooms"
}

// VoiceRoom is the in-memory state of a tracked personal voice room
type VoiceRoom struct {
	ChannelID    string
	OwnerID      string
	GuildID      string
	Name         string
	OwnerPresent bool
}

// VoiceManager handles 'join to create' lobby channels and the
// ephemeral personal rooms they spawn. Rooms are tracked in memory
// keyed by channel ID, with a durable owner mapping in the database.
type VoiceManager struct {
	db       DBI
	settings *GuildSettings
	logger   *slog.Logger

	mu    sync.Mutex
	rooms map[string]*VoiceRoom
}

func NewVoiceManager(
	db DBI,
	settings *GuildSettings,
	logger *slog.Logger,
) *VoiceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceManager{
		db:       db,
		settings: settings,
		logger:   logger.With(loggerNameKey, "voice_manager"),
		rooms:    map[string]*VoiceRoom{},
	}
}

// Start loads the durable room records into the in-memory cache
func (vm *VoiceManager) Start(ctx context.Context) error {
	var owners []VoiceRoomOwner
	if err := vm.db.DB().WithContext(ctx).Find(&owners).Error; err != nil {
		return fmt.Errorf("error loading voice rooms: %w", err)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, owner := range owners {
		vm.rooms[owner.ChannelID] = &VoiceRoom{
			ChannelID:    owner.ChannelID,
			OwnerID:      owner.OwnerID,
			GuildID:      owner.GuildID,
			OwnerPresent: true,
		}
	}
	vm.logger.InfoContext(ctx, "loaded voice rooms", "count", len(vm.rooms))
	return nil
}

// AlreadyHas returns the room already owned by the given user, if any
func (vm *VoiceManager) AlreadyHas(userID string) *VoiceRoom {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, room := range vm.rooms {
		if room.OwnerID == userID {
			return room
		}
	}
	return nil
}

// Rooms returns a snapshot of all tracked rooms
func (vm *VoiceManager) Rooms() []*VoiceRoom {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	rooms := make([]*VoiceRoom, 0, len(vm.rooms))
	for _, room := range vm.rooms {
		roomCopy := *room
		rooms = append(rooms, &roomCopy)
	}
	return rooms
}

// CreateLobby creates a new 'join to create' lobby voice channel and
// registers it in the guild settings
func (vm *VoiceManager) CreateLobby(
	ctx context.Context,
	session DiscordSessionHandler,
	guildID string,
	parentID string,
) (*discordgo.Channel, error) {
	channel, err := session.GuildChannelCreateComplex(
		guildID, discordgo.GuildChannelCreateData{
			Name:      lobbyChannelName,
			Type:      discordgo.ChannelTypeGuildVoice,
			UserLimit: lobbyChannelUserLimit,
			ParentID:  parentID,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating lobby channel: %w", err)
	}
	if err = vm.settings.AddLobbyChannel(channel.ID); err != nil {
		return channel, fmt.Errorf("error saving lobby channel: %w", err)
	}
	vm.logger.InfoContext(ctx, "created lobby channel", "channel_id", channel.ID)
	return channel, nil
}

// HandleVoiceStateUpdate reacts to a member joining or leaving voice
// channels. Cases are evaluated in order; the first match wins:
//
//  1. No lobby channels configured: nothing to do.
//  2. Neither a previous nor a current channel: nothing to do.
//  3. The member joined a lobby: move them into their existing room,
//     or create a new personal room and move them into it.
//  4. The member left a tracked room that is now empty: delete it.
//  5. The member left a tracked room that is still occupied: if they
//     were the owner, mark the owner as absent.
func (vm *VoiceManager) HandleVoiceStateUpdate(
	ctx context.Context,
	session DiscordSessionHandler,
	update *discordgo.VoiceStateUpdate,
) error {
	if !vm.settings.HasLobbyChannels() {
		return nil
	}

	var beforeChannelID string
	if update.BeforeUpdate != nil {
		beforeChannelID = update.BeforeUpdate.ChannelID
	}
	afterChannelID := update.ChannelID

	if beforeChannelID == "" && afterChannelID == "" {
		return nil
	}

	if afterChannelID != "" && vm.settings.IsLobbyChannel(afterChannelID) {
		return vm.memberJoinedLobby(ctx, session, update)
	}

	if beforeChannelID == "" || vm.settings.IsLobbyChannel(beforeChannelID) {
		return nil
	}

	vm.mu.Lock()
	room, tracked := vm.rooms[beforeChannelID]
	vm.mu.Unlock()
	if !tracked {
		return nil
	}

	occupants, err := session.ChannelVoiceOccupancy(
		update.GuildID,
		beforeChannelID,
	)
	if err != nil {
		return fmt.Errorf("error checking room occupancy: %w", err)
	}

	if len(occupants) == 0 {
		return vm.removeRoom(ctx, session, room)
	}

	if room.OwnerID == update.UserID {
		vm.mu.Lock()
		room.OwnerPresent = false
		vm.mu.Unlock()
		vm.logger.InfoContext(
			ctx,
			"room owner departed",
			"channel_id", room.ChannelID,
			"owner_id", room.OwnerID,
		)
	}
	return nil
}

func (vm *VoiceManager) memberJoinedLobby(
	ctx context.Context,
	session DiscordSessionHandler,
	update *discordgo.VoiceStateUpdate,
) error {
	userID := update.UserID

	if existing := vm.AlreadyHas(userID); existing != nil {
		vm.mu.Lock()
		existing.OwnerPresent = true
		vm.mu.Unlock()
		if err := session.GuildMemberMove(
			update.GuildID, userID, &existing.ChannelID,
		); err != nil {
			return fmt.Errorf("error moving member to existing room: %w", err)
		}
		return nil
	}

	name := fmt.Sprintf("%s Channel", possessive(memberDisplayName(update.Member)))
	channel, err := session.GuildChannelCreateComplex(
		update.GuildID, discordgo.GuildChannelCreateData{
			Name: name,
			Type: discordgo.ChannelTypeGuildVoice,
		},
	)
	if err != nil {
		return fmt.Errorf("error creating personal room: %w", err)
	}

	room := &VoiceRoom{
		ChannelID:    channel.ID,
		OwnerID:      userID,
		GuildID:      update.GuildID,
		Name:         name,
		OwnerPresent: true,
	}
	vm.mu.Lock()
	vm.rooms[channel.ID] = room
	vm.mu.Unlock()

	if _, err = vm.db.Create(
		ctx, &VoiceRoomOwner{
			ChannelID: channel.ID,
			OwnerID:   userID,
			GuildID:   update.GuildID,
		},
	); err != nil {
		vm.logger.ErrorContext(ctx, "error saving voice room", tint.Err(err))
	}

	if err = session.GuildMemberMove(
		update.GuildID, userID, &channel.ID,
	); err != nil {
		return fmt.Errorf("error moving member to new room: %w", err)
	}

	vm.logger.InfoContext(
		ctx,
		"created personal room",
		"channel_id", channel.ID,
		"owner_id", userID,
		"name", name,
	)
	return nil
}

// removeRoom untracks a now-empty room and deletes the channel. The
// cache entry is removed before the channel delete, so a second
// event for the same room is a no-op.
func (vm *VoiceManager) removeRoom(
	ctx context.Context,
	session DiscordSessionHandler,
	room *VoiceRoom,
) error {
	vm.mu.Lock()
	_, stillTracked := vm.rooms[room.ChannelID]
	delete(vm.rooms, room.ChannelID)
	vm.mu.Unlock()

	if !stillTracked {
		return nil
	}

	vm.db.Lock()
	err := vm.db.DB().Unscoped().Delete(
		&VoiceRoomOwner{ChannelID: room.ChannelID},
	).Error
	vm.db.Unlock()
	if err != nil {
		vm.logger.ErrorContext(ctx, "error deleting voice room record", tint.Err(err))
	}

	if _, err := session.ChannelDelete(room.ChannelID); err != nil {
		return fmt.Errorf("error deleting voice channel: %w", err)
	}
	vm.logger.InfoContext(
		ctx,
		"deleted empty room",
		"channel_id", room.ChannelID,
		"owner_id", room.OwnerID,
	)
	return nil
}

// memberDisplayName returns the best available display name for a
// guild member
func memberDisplayName(member *discordgo.Member) string {
	if member == nil || member.User == nil {
		return "Unknown"
	}
	if member.Nick != "" {
		return member.Nick
	}
	if member.User.GlobalName != "" {
		return member.User.GlobalName
	}
	return member.User.Username
}
