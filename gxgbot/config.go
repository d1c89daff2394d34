package gxgbot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	EnvvarSetEnvPrefix = "GXGBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "GXG"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "gxgbot.sqlite3"
	DefaultSettingsFile          = "settings.json"
	DefaultLogLevel              = slog.LevelInfo
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second

	DefaultCommandPrefix  = "gxg."
	DefaultStartupMessage = "I'm here!"

	// DefaultXPCooldown is the minimum time between two XP-granting
	// messages from the same user. Messages inside the window still
	// count toward the message total.
	DefaultXPCooldown = 60 * time.Second

	// Inclusive bounds of the base XP drawn per qualifying message,
	// before the member's modifier is applied.
	DefaultXPGainMin = 5
	DefaultXPGainMax = 15

	// DefaultAnnounceRateLimit caps level-up announcements per second,
	// to stay clear of Discord channel message rate limits.
	DefaultAnnounceRateLimit = 1

	discordMaxMessageLength = 2000
)

var DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
	discordgo.IntentMessageContent |
	discordgo.IntentGuildVoiceStates

// Config is the static process configuration, loaded once at startup
// from the environment (and optionally a dotenv file) via the cmd
// package. Guild-mutable settings live in [GuildSettings] instead.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// SettingsFile is the path of the mutable guild settings document.
	// Administrative commands rewrite this file in place.
	SettingsFile string `yaml:"settings_file" mapstructure:"settings_file" json:"settings_file" binding:"required"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Leveling configures the XP engine
	Leveling *LevelingConfig `yaml:"leveling" mapstructure:"leveling" json:"leveling"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// OwnerIDs are user IDs permitted to use the prefix-based
	// diagnostic commands
	OwnerIDs []string `yaml:"owner_ids" mapstructure:"owner_ids" json:"owner_ids"`

	// CommandPrefix is the prefix for owner-only text commands
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If set, the bot uses this as its custom status whenever it
	// connects to the discord gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// LevelingConfig tunes the XP engine.
type LevelingConfig struct {
	// Cooldown between XP-granting messages per user
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown" binding:"min=0"`

	// Inclusive bounds of the uniform base XP draw
	XPGainMin int `yaml:"xp_gain_min" mapstructure:"xp_gain_min" json:"xp_gain_min" binding:"min=0"`
	XPGainMax int `yaml:"xp_gain_max" mapstructure:"xp_gain_max" json:"xp_gain_max" binding:"min=0,gtefield=XPGainMin"`

	// AnnounceRateLimit is the per-second limit on level-up announcements
	AnnounceRateLimit float64 `yaml:"announce_rate_limit" mapstructure:"announce_rate_limit" json:"announce_rate_limit" binding:"min=0"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		SettingsFile:          DefaultSettingsFile,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultStartupMessage,
		},
		Leveling: &LevelingConfig{
			Cooldown:          DefaultXPCooldown,
			XPGainMin:         DefaultXPGainMin,
			XPGainMax:         DefaultXPGainMax,
			AnnounceRateLimit: DefaultAnnounceRateLimit,
		},
	}
}
