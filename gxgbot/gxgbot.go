package gxgbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const memberCountInterval = 10 * time.Minute

// Set via:
// -ldflags "-X github.com/lukewain/GXG-Bot/gxgbot.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// GXGBot is the top-level bot, tying the Discord gateway to the
// leveling, voice, moderation, modmail and error-log components
type GXGBot struct {
	config     *Config
	settings   *GuildSettings
	writeDB    DBI
	discord    *Discord
	events     *EventBus
	levels     *LevelManager
	voice      *VoiceManager
	errors     *ErrorLog
	moderator  *Moderator
	modmail    *ModmailRelay
	dbNotifier DBNotifier
	logger     *slog.Logger

	// logTail buffers recent log lines for the owner `logs` command
	logTail *logTail

	// announceLimiter throttles level-up announcements
	announceLimiter *rate.Limiter

	// triggerBlocklistRefreshCh signals the blocklist watcher to
	// reload from the database
	triggerBlocklistRefreshCh chan bool

	// signalStop tells the bot to shut down
	signalStop chan struct{}

	wg sync.WaitGroup
}

// New creates a new GXGBot from the given config. The config is
// validated, the database opened and migrated, and the guild
// settings file loaded (or created).
func New(ctx context.Context, config *Config) (*GXGBot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	validate := validator.New()
	validate.SetTagName("binding")
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logTailBuf := newLogTail(logTailCapacity)
	handler := newMultiHandler(
		tint.NewHandler(
			os.Stdout, &tint.Options{Level: config.LogLevel, AddSource: true},
		),
		tint.NewHandler(
			logTailBuf, &tint.Options{Level: config.LogLevel, NoColor: true},
		),
	)
	logger := slog.New(handler).With(loggerNameKey, "gxgbot")
	slog.SetDefault(slog.New(handler))

	db, err := CreateDB(ctx, config.DatabaseType, config.Database)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	writeDB := NewDatabase(db, logger, config.DatabaseType == dbTypePostgres)

	settings, err := LoadGuildSettings(config.SettingsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("error loading settings: %w", err)
	}

	if config.HTTPClient != nil {
		config.Discord.httpClient = config.HTTPClient
	}
	discord, err := newDiscord(ctx, config.Discord, handler)
	if err != nil {
		return nil, err
	}

	events := NewEventBus(logger)
	bot := &GXGBot{
		config:                    config,
		settings:                  settings,
		writeDB:                   writeDB,
		discord:                   discord,
		events:                    events,
		levels:                    NewLevelManager(writeDB, events, config.Leveling, logger),
		voice:                     NewVoiceManager(writeDB, settings, logger),
		errors:                    NewErrorLog(writeDB, events, logger),
		moderator:                 NewModerator(writeDB, settings, logger),
		modmail:                   NewModmailRelay(writeDB, settings, logger),
		logger:                    logger,
		logTail:                   logTailBuf,
		announceLimiter:           rate.NewLimiter(rate.Limit(config.Leveling.AnnounceRateLimit), 1),
		triggerBlocklistRefreshCh: make(chan bool, 1),
		signalStop:                make(chan struct{}, 1),
	}

	bot.dbNotifier, err = newDBNotifier(bot)
	if err != nil {
		return nil, fmt.Errorf("error creating db notifier: %w", err)
	}

	events.Subscribe(EventLevelUp, bot.announceLevelUp)
	events.Subscribe(EventErrorLogged, bot.broadcastError)

	return bot, nil
}

// Run starts the bot and blocks until ctx is canceled or a stop
// signal arrives
func (b *GXGBot) Run(ctx context.Context) error {
	startupCtx, cancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer cancel()

	if err := b.levels.Start(startupCtx); err != nil {
		return err
	}
	if err := b.voice.Start(startupCtx); err != nil {
		return err
	}

	session := b.discord.session
	session.AddHandler(b.discord.handleReady)
	session.AddHandler(b.discord.handleConnect)
	session.AddHandler(b.discord.handleDisconnect)
	session.AddHandler(b.handleMessageCreate)
	session.AddHandler(b.handleVoiceStateUpdate)
	session.AddHandler(b.handleInteractionCreate)
	session.AddHandler(b.handleUserUpdate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			b.logger.Error("error closing discord session", tint.Err(err))
		}
	}()

	if err := b.discord.registerCommands(startupCtx); err != nil {
		return err
	}
	if err := b.modmail.Start(startupCtx, session); err != nil {
		b.logger.Error("error starting modmail relay", tint.Err(err))
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.watchBlocklistRefresh(runCtx)
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runMemberCountTask(runCtx, session)
	}()

	if b.config.DatabaseType == dbTypePostgres {
		for _, channel := range []string{
			b.dbNotifier.BlocklistChannelName(),
			b.dbNotifier.StopChannelName(),
		} {
			ch := channel
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				if err := b.dbNotifier.Listen(runCtx, ch); err != nil {
					b.logger.Error("db listener exited", tint.Err(err), "channel", ch)
				}
			}()
		}
	}

	b.logger.InfoContext(ctx, "bot running", "config", b.config)

	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, shutting down")
	case <-b.signalStop:
		b.logger.Info("stop signal received, shutting down")
	}

	stop()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	//
	case <-time.After(b.config.ShutdownTimeout):
		b.logger.Warn("timed out waiting for workers to stop")
	}
	return nil
}

// watchBlocklistRefresh reloads the XP blocklist whenever a refresh
// signal arrives
func (b *GXGBot) watchBlocklistRefresh(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.triggerBlocklistRefreshCh:
			if err := b.levels.RefreshBlocklists(ctx); err != nil {
				b.logger.ErrorContext(ctx, "error refreshing blocklist", tint.Err(err))
			}
		}
	}
}

// runMemberCountTask periodically renames the configured member-count
// channel with the guild's member total
func (b *GXGBot) runMemberCountTask(
	ctx context.Context,
	session DiscordSessionHandler,
) {
	ticker := time.NewTicker(memberCountInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.updateMemberCount(ctx, session)
		}
	}
}

func (b *GXGBot) updateMemberCount(
	ctx context.Context,
	session DiscordSessionHandler,
) {
	channelID := b.settings.GetMemberCountChannel()
	if channelID == "" {
		return
	}
	guild, err := session.GuildWithCounts(b.config.Discord.GuildID)
	if err != nil {
		b.logger.ErrorContext(ctx, "error fetching guild counts", tint.Err(err))
		return
	}
	name := fmt.Sprintf("Members: %d", guild.ApproximateMemberCount)
	if _, err = session.ChannelEdit(
		channelID, &discordgo.ChannelEdit{Name: name},
	); err != nil {
		b.logger.ErrorContext(ctx, "error renaming member count channel", tint.Err(err))
	}
}

// announceLevelUp posts a level-up announcement, throttled by the
// announcement rate limiter
func (b *GXGBot) announceLevelUp(ctx context.Context, payload any) {
	event, ok := payload.(*LevelUpEvent)
	if !ok {
		b.logger.Warn("unexpected level-up payload", "payload", payload)
		return
	}

	channelID := b.settings.GetLevelUpChannel()
	if channelID == "" {
		channelID = event.ChannelID
	}
	if channelID == "" {
		return
	}

	if err := b.announceLimiter.Wait(ctx); err != nil {
		return
	}
	content := fmt.Sprintf(
		"GG <@%s>, you just advanced to **level %d**!",
		event.UserID,
		event.NewLevel,
	)
	if _, err := b.discord.session.ChannelMessageSend(channelID, content); err != nil {
		b.logger.ErrorContext(ctx, "error announcing level up", tint.Err(err))
	}
}

// broadcastError delivers a persisted error record to the configured
// error webhook
func (b *GXGBot) broadcastError(ctx context.Context, payload any) {
	event, ok := payload.(*ErrorLoggedEvent)
	if !ok || event.Record == nil {
		return
	}
	webhookURL := b.settings.GetErrorWebhook()
	if webhookURL == "" {
		return
	}
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		b.logger.WarnContext(ctx, "invalid error webhook URL", tint.Err(err))
		return
	}
	_, err = b.discord.session.WebhookExecute(
		id, token, false, &discordgo.WebhookParams{
			Embeds: []*discordgo.MessageEmbed{event.Record.pubEmbed()},
		},
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error broadcasting error record", tint.Err(err))
	}
}

// isOwner reports whether the given user may use owner-only commands
func (b *GXGBot) isOwner(userID string) bool {
	return slices.Contains(b.config.Discord.OwnerIDs, userID)
}

// handleMessageCreate routes incoming messages: DMs to the modmail
// relay, owner prefix commands to the diagnostic handler, and guild
// chatter to XP accrual and modmail reply relaying
func (b *GXGBot) handleMessageCreate(
	_ *discordgo.Session,
	message *discordgo.MessageCreate,
) {
	if message.Author == nil || message.Author.Bot {
		return
	}
	ctx := WithLogger(context.Background(), b.logger)
	session := b.discord.session

	if message.GuildID == "" {
		if err := b.modmail.ProcessDM(ctx, session, message); err != nil {
			b.recordHandlerError(ctx, "modmail_dm", err, message.Author.ID, "")
		}
		return
	}

	prefix := b.config.Discord.CommandPrefix
	if prefix != "" && strings.HasPrefix(message.Content, prefix) {
		if b.isOwner(message.Author.ID) {
			b.handleOwnerCommand(ctx, session, message)
		}
		return
	}

	msgTime := time.Now()
	if !message.Timestamp.IsZero() {
		msgTime = message.Timestamp
	}
	if _, err := b.levels.ProcessMessage(
		ctx, message.Author.ID, message.ChannelID, message.GuildID, msgTime,
	); err != nil {
		b.recordHandlerError(
			ctx, "xp_accrual", err, message.Author.ID, message.GuildID,
		)
	}

	if err := b.modmail.ProcessReply(ctx, session, message, prefix); err != nil {
		b.recordHandlerError(
			ctx, "modmail_reply", err, message.Author.ID, message.GuildID,
		)
	}
}

func (b *GXGBot) handleVoiceStateUpdate(
	_ *discordgo.Session,
	update *discordgo.VoiceStateUpdate,
) {
	ctx := WithLogger(context.Background(), b.logger)
	if err := b.voice.HandleVoiceStateUpdate(
		ctx, b.discord.session, update,
	); err != nil {
		b.recordHandlerError(ctx, "voice_state", err, update.UserID, update.GuildID)
	}
}

func (b *GXGBot) handleUserUpdate(
	_ *discordgo.Session,
	update *discordgo.UserUpdate,
) {
	if update.User == nil {
		return
	}
	ctx := WithLogger(context.Background(), b.logger)
	if err := b.modmail.HandleUserUpdate(
		ctx, b.discord.session, update.User,
	); err != nil {
		b.recordHandlerError(ctx, "user_update", err, update.User.ID, "")
	}
}

// recordHandlerError logs an event handler failure and persists an
// error record for owner inspection
func (b *GXGBot) recordHandlerError(
	ctx context.Context,
	source string,
	cause error,
	userID string,
	guildID string,
) {
	b.logger.ErrorContext(
		ctx,
		"handler error",
		tint.Err(cause),
		"source", source,
		"user_id", userID,
	)
	if _, err := b.errors.Record(ctx, source, cause, userID, guildID); err != nil {
		b.logger.ErrorContext(ctx, "error persisting error record", tint.Err(err))
	}
}
