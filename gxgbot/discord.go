package gxgbot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordSessionHandler defines the interface for interacting with
// the Discord session. [discordgo.Session] (via [DiscordSession])
// implements this for 'real' usage, and it exists primarily to
// enable mocking in tests.
type DiscordSessionHandler interface {
	Open() error
	Close() error
	AddHandler(any) func()
	UpdateCustomStatus(state string) error

	Channel(channelID string, options ...discordgo.RequestOption) (
		*discordgo.Channel,
		error,
	)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (
		*discordgo.Channel,
		error,
	)
	ChannelEdit(
		channelID string,
		data *discordgo.ChannelEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	UserChannelCreate(
		recipientID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	GuildWithCounts(guildID string, options ...discordgo.RequestOption) (
		*discordgo.Guild,
		error,
	)
	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)
	GuildMemberTimeout(
		guildID string,
		userID string,
		until *time.Time,
		options ...discordgo.RequestOption,
	) error
	GuildMemberRoleAdd(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error
	GuildMemberMove(
		guildID string,
		userID string,
		channelID *string,
		options ...discordgo.RequestOption,
	) error
	GuildChannelCreateComplex(
		guildID string,
		data discordgo.GuildChannelCreateData,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// ChannelVoiceOccupancy returns the IDs of users currently in the
	// given voice channel, from gateway state
	ChannelVoiceOccupancy(guildID string, channelID string) ([]string, error)

	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) (
		[]*discordgo.Webhook,
		error,
	)
	WebhookCreate(
		channelID string,
		name string,
		avatar string,
		options ...discordgo.RequestOption,
	) (*discordgo.Webhook, error)
	WebhookExecute(
		webhookID string,
		token string,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	WebhookThreadExecute(
		webhookID string,
		token string,
		wait bool,
		threadID string,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ForumThreadStartComplex(
		channelID string,
		threadData *discordgo.ThreadStart,
		messageData *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)
}

// DiscordSession wraps [discordgo.Session] to implement
// [DiscordSessionHandler]
type DiscordSession struct {
	*discordgo.Session
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.Session.AddHandler(handler)
}

func (d DiscordSession) ChannelVoiceOccupancy(
	guildID string,
	channelID string,
) ([]string, error) {
	guild, err := d.Session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("error getting guild state: %w", err)
	}
	var userIDs []string
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			userIDs = append(userIDs, vs.UserID)
		}
	}
	return userIDs, nil
}

// Discord handles the bot's gateway connection and event handler
// registration
type Discord struct {
	config  *DiscordConfig
	session DiscordSessionHandler
	logger  *slog.Logger
}

func newDiscord(
	ctx context.Context,
	config *DiscordConfig,
	handler slog.Handler,
) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	logger := slog.New(handler).With(loggerNameKey, "discord")

	session, err := discordgo.New(fmt.Sprintf("Bot %s", config.Token))
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.Identify.Intents = config.GatewayIntents
	session.StateEnabled = true
	session.State.TrackVoice = true
	session.LogLevel = discordgoLogLevel(config.DiscordGoLogLevel)
	if config.httpClient != nil {
		session.Client = config.httpClient
	}

	discordgo.Logger = discordgoLoggerFunc(ctx, handler)

	return &Discord{
		config:  config,
		session: DiscordSession{Session: session},
		logger:  logger,
	}, nil
}

// discordgoLogLevel maps an slog level to the closest discordgo log
// level
func discordgoLogLevel(level *slog.LevelVar) int {
	if level == nil {
		return discordgo.LogWarning
	}
	switch {
	case level.Level() <= slog.LevelDebug:
		return discordgo.LogDebug
	case level.Level() <= slog.LevelInfo:
		return discordgo.LogInformational
	case level.Level() <= slog.LevelWarn:
		return discordgo.LogWarning
	default:
		return discordgo.LogError
	}
}

// registerCommands overwrites the guild's application commands with
// the current command set
func (d *Discord) registerCommands(ctx context.Context) error {
	commands := slashCommands()
	registered, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
	)
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	for _, cmd := range registered {
		d.logger.InfoContext(
			ctx,
			"registered command",
			"name", cmd.Name,
			"command_id", cmd.ID,
		)
	}
	return nil
}

func (d *Discord) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.logger.Info(
		"discord ready",
		"username", r.User.Username,
		"session_id", r.SessionID,
		"guilds", len(r.Guilds),
	)
	if d.config.StartupMessage != "" {
		if err := d.session.UpdateCustomStatus(d.config.StartupMessage); err != nil {
			d.logger.Warn("error setting custom status", "error", err)
		}
	}
}

func (d *Discord) handleConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	d.logger.Info("discord connected")
}

func (d *Discord) handleDisconnect(
	_ *discordgo.Session,
	_ *discordgo.Disconnect,
) {
	d.logger.Warn("discord disconnected")
}
