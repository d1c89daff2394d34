package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lukewain/GXG-Bot/gxgbot"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     = gxgbot.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "gxgbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("error loading env file %s: %v", envFile, err)
		}
	}

	viper.SetDefault("database", gxgbot.DefaultDatabase)
	viper.SetDefault("database_type", gxgbot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		gxgbot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		gxgbot.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("settings_file", gxgbot.DefaultSettingsFile)

	viper.SetDefault("log_level", gxgbot.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", gxgbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", gxgbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.owner_ids", []string{})
	viper.SetDefault("discord.command_prefix", gxgbot.DefaultCommandPrefix)
	viper.SetDefault(
		"discord.log_level",
		gxgbot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		gxgbot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		gxgbot.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.startup_message", gxgbot.DefaultStartupMessage)

	// Leveling config
	viper.SetDefault("leveling.cooldown", gxgbot.DefaultXPCooldown)
	viper.SetDefault("leveling.xp_gain_min", gxgbot.DefaultXPGainMin)
	viper.SetDefault("leveling.xp_gain_max", gxgbot.DefaultXPGainMax)
	viper.SetDefault(
		"leveling.announce_rate_limit",
		gxgbot.DefaultAnnounceRateLimit,
	)

	envPrefix := os.Getenv(gxgbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = gxgbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	viper.Set(
		"discord.owner_ids",
		viper.GetStringSlice("discord.owner_ids"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"Env file to load before reading configuration",
	)
}
