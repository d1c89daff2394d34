package gxgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	modmailWebhookName     = "GXG Modmail"
	maxRelayWebhooks       = 5
	modmailEmbedColor      = 0x5865F2
	modmailArchiveDuration = 10080 // minutes (7 days)
	modmailWelcomeTitle    = "Modmail opened"
	modmailWelcomeBody     = "Thanks for reaching out! Your message has been passed to the moderators. Replies here will reach them directly."
)

// ModmailThread maps a user's DM conversation to its forum thread and
// the webhook used to relay their messages
type ModmailThread struct {
	// UserID is the Discord user ID the thread belongs to
	UserID string `gorm:"primaryKey" json:"user_id"`
	// ThreadID is the forum thread the conversation is relayed into
	ThreadID     string `gorm:"uniqueIndex" json:"thread_id"`
	WebhookID    string `json:"webhook_id"`
	WebhookToken string `json:"-" log:"[redacted]"`
	UserTag      string `json:"user_tag"`
	ModelUnixTime
}

func (ModmailThread) TableName() string {
	return "modmail"
}

// relayWebhook is a webhook on the modmail forum channel used to post
// relayed user messages. Sends through a single webhook are
// serialized so interleaved messages keep their order.
type relayWebhook struct {
	id       string
	token    string
	sendMu   sync.Mutex
	assigned int
}

// ModmailRelay relays DMs from users into per-user forum threads and
// staff replies in those threads back to the user's DMs.
type ModmailRelay struct {
	db       DBI
	settings *GuildSettings
	logger   *slog.Logger

	// assignMu guards webhook discovery and thread-to-webhook
	// assignment
	assignMu sync.Mutex
	webhooks []*relayWebhook
}

func NewModmailRelay(
	db DBI,
	settings *GuildSettings,
	logger *slog.Logger,
) *ModmailRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModmailRelay{
		db:       db,
		settings: settings,
		logger:   logger.With(loggerNameKey, "modmail"),
	}
}

// Start discovers existing relay webhooks on the modmail forum
// channel
func (mr *ModmailRelay) Start(
	ctx context.Context,
	session DiscordSessionHandler,
) error {
	forumID := mr.settings.GetModmailForum()
	if forumID == "" {
		mr.logger.InfoContext(ctx, "no modmail forum configured")
		return nil
	}

	hooks, err := session.ChannelWebhooks(forumID)
	if err != nil {
		return fmt.Errorf("error listing modmail webhooks: %w", err)
	}

	mr.assignMu.Lock()
	defer mr.assignMu.Unlock()
	for _, hook := range hooks {
		if hook.Name != modmailWebhookName {
			continue
		}
		mr.webhooks = append(
			mr.webhooks,
			&relayWebhook{id: hook.ID, token: hook.Token},
		)
	}
	mr.logger.InfoContext(
		ctx,
		"discovered relay webhooks",
		"count", len(mr.webhooks),
	)
	return nil
}

// acquireWebhook returns the least-loaded relay webhook, creating a
// new one if the pool is not yet full
func (mr *ModmailRelay) acquireWebhook(
	session DiscordSessionHandler,
	forumID string,
) (*relayWebhook, error) {
	mr.assignMu.Lock()
	defer mr.assignMu.Unlock()

	var least *relayWebhook
	for _, hook := range mr.webhooks {
		if least == nil || hook.assigned < least.assigned {
			least = hook
		}
	}

	if least != nil && (least.assigned == 0 || len(mr.webhooks) >= maxRelayWebhooks) {
		least.assigned++
		return least, nil
	}

	created, err := session.WebhookCreate(forumID, modmailWebhookName, "")
	if err != nil {
		if least != nil {
			least.assigned++
			return least, nil
		}
		return nil, fmt.Errorf("error creating relay webhook: %w", err)
	}
	hook := &relayWebhook{id: created.ID, token: created.Token, assigned: 1}
	mr.webhooks = append(mr.webhooks, hook)
	return hook, nil
}

// lookupWebhook returns the pooled webhook with the given ID, adding
// it to the pool if it was assigned in an earlier run
func (mr *ModmailRelay) lookupWebhook(id string, token string) *relayWebhook {
	mr.assignMu.Lock()
	defer mr.assignMu.Unlock()
	for _, hook := range mr.webhooks {
		if hook.id == id {
			return hook
		}
	}
	hook := &relayWebhook{id: id, token: token, assigned: 1}
	mr.webhooks = append(mr.webhooks, hook)
	return hook
}

// ThreadByUser returns the modmail thread record for the given user,
// or nil if none exists
func (mr *ModmailRelay) ThreadByUser(
	ctx context.Context,
	userID string,
) (*ModmailThread, error) {
	thread := &ModmailThread{}
	err := mr.db.DB().WithContext(ctx).Where(
		"user_id = ?", userID,
	).First(thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// ThreadByID returns the modmail record backing the given forum
// thread, or nil if the thread is not a modmail thread
func (mr *ModmailRelay) ThreadByID(
	ctx context.Context,
	threadID string,
) (*ModmailThread, error) {
	thread := &ModmailThread{}
	err := mr.db.DB().WithContext(ctx).Where(
		"thread_id = ?", threadID,
	).First(thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// ProcessDM relays a user's direct message into their modmail thread,
// opening a new thread (and sending the user a welcome embed) on
// first contact
func (mr *ModmailRelay) ProcessDM(
	ctx context.Context,
	session DiscordSessionHandler,
	message *discordgo.MessageCreate,
) error {
	forumID := mr.settings.GetModmailForum()
	if forumID == "" {
		return nil
	}
	author := message.Author
	if author == nil || author.Bot {
		return nil
	}

	thread, err := mr.ThreadByUser(ctx, author.ID)
	if err != nil {
		return err
	}
	if thread == nil {
		thread, err = mr.openThread(ctx, session, forumID, author)
		if err != nil {
			return err
		}
	}

	hook := mr.lookupWebhook(thread.WebhookID, thread.WebhookToken)
	content := relayContent(message)

	hook.sendMu.Lock()
	defer hook.sendMu.Unlock()
	_, err = session.WebhookThreadExecute(
		hook.id, hook.token, false, thread.ThreadID, &discordgo.WebhookParams{
			Content:   content,
			Username:  author.Username,
			AvatarURL: author.AvatarURL(""),
		},
	)
	if err != nil {
		return fmt.Errorf("error relaying DM to thread: %w", err)
	}
	return nil
}

func (mr *ModmailRelay) openThread(
	ctx context.Context,
	session DiscordSessionHandler,
	forumID string,
	author *discordgo.User,
) (*ModmailThread, error) {
	hook, err := mr.acquireWebhook(session, forumID)
	if err != nil {
		return nil, err
	}

	forumThread, err := session.ForumThreadStartComplex(
		forumID, &discordgo.ThreadStart{
			Name:                author.Username,
			AutoArchiveDuration: modmailArchiveDuration,
		}, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title: "New modmail thread",
					Color: modmailEmbedColor,
					Fields: []*discordgo.MessageEmbedField{
						{Name: "User", Value: fmt.Sprintf("<@%s>", author.ID), Inline: true},
						{Name: "User ID", Value: author.ID, Inline: true},
					},
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating modmail thread: %w", err)
	}

	thread := &ModmailThread{
		UserID:       author.ID,
		ThreadID:     forumThread.ID,
		WebhookID:    hook.id,
		WebhookToken: hook.token,
		UserTag:      author.Username,
	}
	if _, err = mr.db.Create(ctx, thread); err != nil {
		return nil, fmt.Errorf("error saving modmail thread: %w", err)
	}
	mr.logger.InfoContext(
		ctx,
		"opened modmail thread",
		"user_id", author.ID,
		"thread_id", forumThread.ID,
	)

	mr.sendWelcome(ctx, session, author.ID)
	return thread, nil
}

func (mr *ModmailRelay) sendWelcome(
	ctx context.Context,
	session DiscordSessionHandler,
	userID string,
) {
	dm, err := session.UserChannelCreate(userID)
	if err != nil {
		mr.logger.WarnContext(ctx, "error opening DM channel", tint.Err(err))
		return
	}
	_, err = session.ChannelMessageSendComplex(
		dm.ID, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       modmailWelcomeTitle,
					Description: modmailWelcomeBody,
					Color:       modmailEmbedColor,
				},
			},
		},
	)
	if err != nil {
		mr.logger.WarnContext(ctx, "error sending welcome embed", tint.Err(err))
	}
}

// ProcessReply relays a staff message posted in a modmail thread back
// to the user's DMs. Messages starting with the command prefix are
// treated as internal notes and not relayed.
func (mr *ModmailRelay) ProcessReply(
	ctx context.Context,
	session DiscordSessionHandler,
	message *discordgo.MessageCreate,
	commandPrefix string,
) error {
	author := message.Author
	if author == nil || author.Bot {
		return nil
	}
	if commandPrefix != "" && strings.HasPrefix(message.Content, commandPrefix) {
		return nil
	}

	thread, err := mr.ThreadByID(ctx, message.ChannelID)
	if err != nil || thread == nil {
		return err
	}

	dm, err := session.UserChannelCreate(thread.UserID)
	if err != nil {
		return fmt.Errorf("error opening DM channel: %w", err)
	}
	_, err = session.ChannelMessageSendComplex(
		dm.ID, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Author: &discordgo.MessageEmbedAuthor{
						Name:    author.Username,
						IconURL: author.AvatarURL(""),
					},
					Description: relayContent(message),
					Color:       modmailEmbedColor,
				},
			},
		},
	)
	if err != nil {
		return fmt.Errorf("error relaying reply to user: %w", err)
	}
	return nil
}

// HandleUserUpdate renames the user's modmail thread when their
// username changes
func (mr *ModmailRelay) HandleUserUpdate(
	ctx context.Context,
	session DiscordSessionHandler,
	user *discordgo.User,
) error {
	thread, err := mr.ThreadByUser(ctx, user.ID)
	if err != nil || thread == nil {
		return err
	}
	if thread.UserTag == user.Username {
		return nil
	}

	if _, err = session.ChannelEdit(
		thread.ThreadID, &discordgo.ChannelEdit{Name: user.Username},
	); err != nil {
		return fmt.Errorf("error renaming modmail thread: %w", err)
	}
	_, err = mr.db.Updates(
		ctx, thread, map[string]any{"user_tag": user.Username},
	)
	return err
}

// relayContent flattens a message's content and attachment URLs into
// a single relayable string
func relayContent(message *discordgo.MessageCreate) string {
	parts := []string{}
	if message.Content != "" {
		parts = append(parts, message.Content)
	}
	for _, attachment := range message.Attachments {
		parts = append(parts, attachment.URL)
	}
	content := strings.Join(parts, "\n")
	if content == "" {
		content = "(no content)"
	}
	return truncate(content, discordMaxMessageLength)
}
