package gxgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

const (
	errorEmbedColor       = 0xED4245
	errorStackFieldLimit  = 1000
	errorMessageCharLimit = 1500
	defaultRecentErrors   = 10
)

// ErrorRecord is a persisted record of a runtime error, kept so bot
// owners can inspect failures after the fact
type ErrorRecord struct {
	ModelUintID
	// Source names the command or event the error originated from
	Source  string `json:"source"`
	Message string `json:"message"`
	// Stack is the stack trace captured at the time of the error
	Stack   string `json:"stack"`
	UserID  string `json:"user_id,omitempty"`
	GuildID string `json:"guild_id,omitempty"`
	ModelUnixTime
}

func (ErrorRecord) TableName() string {
	return "errorlog"
}

// ErrorLog persists error records and announces new ones over the
// event bus
type ErrorLog struct {
	db     DBI
	events *EventBus
	logger *slog.Logger
}

func NewErrorLog(db DBI, events *EventBus, logger *slog.Logger) *ErrorLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorLog{
		db:     db,
		events: events,
		logger: logger.With(loggerNameKey, "error_log"),
	}
}

// Record persists a new error record and emits [EventErrorLogged].
// The current stack trace is captured automatically.
func (e *ErrorLog) Record(
	ctx context.Context,
	source string,
	cause error,
	userID string,
	guildID string,
) (*ErrorRecord, error) {
	record := &ErrorRecord{
		Source:  source,
		Message: truncate(cause.Error(), errorMessageCharLimit),
		Stack:   string(debug.Stack()),
		UserID:  userID,
		GuildID: guildID,
	}
	if _, err := e.db.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("error saving error record: %w", err)
	}
	e.logger.InfoContext(
		ctx,
		"recorded error",
		"error_id", record.ID,
		"source", source,
	)
	if e.events != nil {
		e.events.Emit(ctx, EventErrorLogged, &ErrorLoggedEvent{Record: record})
	}
	return record, nil
}

// GetByID returns the error record with the given ID, or nil if it
// does not exist
func (e *ErrorLog) GetByID(ctx context.Context, id uint) (*ErrorRecord, error) {
	record := &ErrorRecord{}
	err := e.db.DB().WithContext(ctx).First(record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Recent returns the most recent error records, newest first
func (e *ErrorLog) Recent(ctx context.Context, limit int) ([]ErrorRecord, error) {
	if limit <= 0 {
		limit = defaultRecentErrors
	}
	var records []ErrorRecord
	err := e.db.DB().WithContext(ctx).Order(
		"created_at desc",
	).Limit(limit).Find(&records).Error
	return records, err
}

// Delete removes an error record, returning whether a record was
// actually deleted
func (e *ErrorLog) Delete(ctx context.Context, id uint) (bool, error) {
	rows, err := e.db.Delete(&ErrorRecord{ModelUintID: ModelUintID{ID: id}})
	if err != nil {
		return false, err
	}
	e.logger.InfoContext(ctx, "deleted error record", "error_id", id)
	return rows > 0, nil
}

// embed renders the record as a private embed for bot owners,
// including the stack trace
func (r *ErrorRecord) embed() *discordgo.MessageEmbed {
	embed := r.pubEmbed()
	stack := truncate(r.Stack, errorStackFieldLimit)
	if stack != "" {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Stack",
				Value: fmt.Sprintf("```\n%s\n```", stack),
			},
		)
	}
	return embed
}

// pubEmbed renders the record without the stack trace, suitable for
// webhook broadcast
func (r *ErrorRecord) pubEmbed() *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Error #%d", r.ID),
		Color: errorEmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Source", Value: r.Source, Inline: true},
			{
				Name:   "Message",
				Value:  truncate(r.Message, errorMessageCharLimit),
				Inline: false,
			},
		},
		Timestamp: time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339),
	}
	if r.UserID != "" {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:   "User",
				Value:  fmt.Sprintf("<@%s>", r.UserID),
				Inline: true,
			},
		)
	}
	return embed
}

// rawText renders the full record as plain text inside a code block,
// truncated to the Discord message limit
func (r *ErrorRecord) rawText() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error #%d (%s)\n", r.ID, r.Source))
	sb.WriteString(r.Message)
	sb.WriteString("\n\n")
	sb.WriteString(r.Stack)
	content := truncate(sb.String(), discordMaxMessageLength-8)
	return fmt.Sprintf("```\n%s\n```", content)
}

// parseWebhookURL splits a Discord webhook URL into its ID and token
// components
func parseWebhookURL(rawURL string) (id string, token string, err error) {
	parts := strings.Split(strings.TrimSuffix(rawURL, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid webhook URL: %s", rawURL)
	}
	id = parts[len(parts)-2]
	token = parts[len(parts)-1]
	if id == "" || token == "" {
		return "", "", fmt.Errorf("invalid webhook URL: %s", rawURL)
	}
	return id, token, nil
}
