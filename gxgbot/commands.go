package gxgbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Slash command names
const (
	cmdRank        = "rank"
	cmdMute        = "mute"
	cmdWarn        = "warn"
	cmdWarnRemove  = "warn-remove"
	cmdInfractions = "infractions"
	cmdCreateVoice = "create-voice"
	cmdConfig      = "config"
)

// config subcommand names
const (
	cfgLevelUpChannel     = "levelup-channel"
	cfgLogChannel         = "log-channel"
	cfgModmailForum       = "modmail-forum"
	cfgErrorWebhook       = "error-webhook"
	cfgMuteRole           = "mute-role"
	cfgWarnThreshold      = "warn-threshold"
	cfgMemberCountChannel = "member-count-channel"
	cfgXPBlock            = "xp-block"
	cfgXPUnblock          = "xp-unblock"
	cfgRemoveLobby        = "remove-lobby"
)

// Owner prefix commands
const (
	ownerCmdError        = "error"
	ownerCmdRecentErrors = "recenterrors"
	ownerCmdReset        = "reset"
	ownerCmdListVoice    = "listvoice"
	ownerCmdModLog       = "modlog"
	ownerCmdLogs         = "logs"
	ownerCmdShutdown     = "shutdown"

	// defaultLogTailLines is the line count for `logs` with no argument
	defaultLogTailLines = 25
)

const rankEmbedColor = 0x57F287

var (
	permModerateMembers = int64(discordgo.PermissionModerateMembers)
	permManageChannels  = int64(discordgo.PermissionManageChannels)
	permManageGuild     = int64(discordgo.PermissionManageServer)
)

// slashCommands returns the bot's full application command set
func slashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdRank,
			Description: "Show a member's level and XP",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to look up (defaults to you)",
				},
			},
		},
		{
			Name:                     cmdMute,
			Description:              "Time out a member",
			DefaultMemberPermissions: &permModerateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to mute",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "duration",
					Description: "Mute duration, e.g. 10m, 2h",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason for the mute",
				},
			},
		},
		{
			Name:                     cmdWarn,
			Description:              "Warn a member",
			DefaultMemberPermissions: &permModerateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to warn",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason for the warning",
					Required:    true,
				},
			},
		},
		{
			Name:                     cmdWarnRemove,
			Description:              "Remove a member's most recent warning",
			DefaultMemberPermissions: &permModerateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to clear a warning for",
					Required:    true,
				},
			},
		},
		{
			Name:                     cmdInfractions,
			Description:              "Show a member's warnings",
			DefaultMemberPermissions: &permModerateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to look up",
					Required:    true,
				},
			},
		},
		{
			Name:                     cmdCreateVoice,
			Description:              "Create a 'join to create' lobby channel",
			DefaultMemberPermissions: &permManageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "category",
					Description: "Category to place the lobby under",
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildCategory,
					},
				},
			},
		},
		{
			Name:                     cmdConfig,
			Description:              "Configure the bot",
			DefaultMemberPermissions: &permManageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				channelSubcommand(cfgLevelUpChannel, "Set the level-up announcement channel"),
				channelSubcommand(cfgLogChannel, "Set the moderation log channel"),
				channelSubcommand(cfgModmailForum, "Set the modmail forum channel"),
				channelSubcommand(cfgMemberCountChannel, "Set the member-count channel"),
				channelSubcommand(cfgRemoveLobby, "Remove a lobby channel"),
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        cfgErrorWebhook,
					Description: "Set the error broadcast webhook",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "url",
							Description: "Webhook URL (empty to clear)",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        cfgMuteRole,
					Description: "Set the mute role",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "Role added to muted members",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        cfgWarnThreshold,
					Description: "Set the warning alert threshold",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "count",
							Description: "Infractions before moderators are alerted",
							Required:    true,
						},
					},
				},
				blockSubcommand(cfgXPBlock, "Block a user or channel from gaining XP"),
				blockSubcommand(cfgXPUnblock, "Unblock a user or channel from gaining XP"),
			},
		},
	}
}

func channelSubcommand(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Target channel",
				Required:    true,
			},
		},
	}
}

func blockSubcommand(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "User to target",
			},
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Channel to target",
			},
		},
	}
}

func optionMap(
	options []*discordgo.ApplicationCommandInteractionDataOption,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

// interactionUser returns the invoking user for both guild and DM
// interactions
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (b *GXGBot) handleInteractionCreate(
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ctx := WithLogger(context.Background(), b.logger)
	data := i.ApplicationCommandData()

	var err error
	switch data.Name {
	case cmdRank:
		err = b.commandRank(ctx, i, data)
	case cmdMute:
		err = b.commandMute(ctx, i, data)
	case cmdWarn:
		err = b.commandWarn(ctx, i, data)
	case cmdWarnRemove:
		err = b.commandWarnRemove(ctx, i, data)
	case cmdInfractions:
		err = b.commandInfractions(ctx, i, data)
	case cmdCreateVoice:
		err = b.commandCreateVoice(ctx, i, data)
	case cmdConfig:
		err = b.commandConfig(ctx, i, data)
	default:
		b.logger.WarnContext(ctx, "unknown command", "name", data.Name)
		return
	}

	if err != nil {
		b.respondInternalError(ctx, i, data.Name, err)
	}
}

// respond sends an ephemeral or public text response to an
// interaction
func (b *GXGBot) respond(
	i *discordgo.InteractionCreate,
	content string,
	ephemeral bool,
) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return b.discord.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: truncate(content, discordMaxMessageLength),
				Flags:   flags,
			},
		},
	)
}

func (b *GXGBot) respondEmbed(
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
	ephemeral bool,
) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return b.discord.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
				Flags:  flags,
			},
		},
	)
}

// respondInternalError records the failure and tells the invoker the
// error ID so owners can look it up later
func (b *GXGBot) respondInternalError(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	source string,
	cause error,
) {
	user := interactionUser(i)
	userID := ""
	if user != nil {
		userID = user.ID
	}
	record, recordErr := b.errors.Record(
		ctx, fmt.Sprintf("command:%s", source), cause, userID, i.GuildID,
	)
	if recordErr != nil {
		b.logger.ErrorContext(ctx, "error persisting error record", tint.Err(recordErr))
	}

	content := "Something went wrong running that command."
	if record != nil {
		content = fmt.Sprintf(
			"Something went wrong running that command (error #%d).",
			record.ID,
		)
	}
	if err := b.respond(i, content, true); err != nil {
		b.logger.ErrorContext(ctx, "error sending error response", tint.Err(err))
	}
}

func (b *GXGBot) commandRank(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) error {
	opts := optionMap(data.Options)
	target := interactionUser(i)
	if opt, ok := opts["user"]; ok {
		target = opt.UserValue(nil)
	}
	if target == nil {
		return b.respond(i, "Couldn't work out who you meant.", true)
	}

	progress, err := b.levels.FetchUser(ctx, target.ID)
	if err != nil {
		return err
	}
	if progress == nil {
		return b.respond(
			i,
			fmt.Sprintf("<@%s> hasn't earned any XP yet.", target.ID),
			true,
		)
	}

	position, err := b.levels.Rank(ctx, progress)
	if err != nil {
		return err
	}

	embed := &discordgo.MessageEmbed{
		Title: "Rank",
		Color: rankEmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Member", Value: fmt.Sprintf("<@%s>", target.ID), Inline: true},
			{Name: "Rank", Value: fmt.Sprintf("#%d", position), Inline: true},
			{Name: "Level", Value: strconv.Itoa(progress.Level), Inline: true},
			{
				Name: "XP",
				Value: fmt.Sprintf(
					"%d / %d",
					progress.OverflowXP,
					xpThreshold(progress.Level),
				),
				Inline: true,
			},
			{
				Name:   "Total XP",
				Value:  strconv.Itoa(progress.TotalXP()),
				Inline: true,
			},
			{
				Name:   "Messages",
				Value:  strconv.FormatInt(progress.Messages, 10),
				Inline: true,
			},
		},
	}
	return b.respondEmbed(i, embed, false)
}

func (b *GXGBot) commandMute(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) error {
	opts := optionMap(data.Options)
	target := opts["user"].UserValue(nil)
	durationStr := opts["duration"].StringValue()
	reason := ""
	if opt, ok := opts["reason"]; ok {
		reason = opt.StringValue()
	}

	duration, err := time.ParseDuration(durationStr)
	if err != nil || duration <= 0 {
		return b.respond(
			i,
			fmt.Sprintf(
				"`%s` isn't a valid duration. Try something like `10m` or `2h`.",
				durationStr,
			),
			true,
		)
	}

	session := b.discord.session
	until := time.Now().Add(duration)
	if err = session.GuildMemberTimeout(i.GuildID, target.ID, &until); err != nil {
		return fmt.Errorf("error timing out member: %w", err)
	}

	if muteRole := b.settings.GetMuteRole(); muteRole != "" {
		if err = session.GuildMemberRoleAdd(
			i.GuildID, target.ID, muteRole,
		); err != nil {
			b.logger.WarnContext(ctx, "error adding mute role", tint.Err(err))
		}
	}

	moderator := interactionUser(i)
	if _, err = b.moderator.LogAction(
		ctx, ModActionMute, moderator.ID, target.ID, reason, duration,
	); err != nil {
		return err
	}

	b.logToModChannel(
		ctx,
		fmt.Sprintf(
			"<@%s> muted <@%s> for %s. Reason: %s",
			moderator.ID, target.ID, duration, orDash(reason),
		),
	)
	return b.respond(
		i,
		fmt.Sprintf("Muted <@%s> for %s.", target.ID, duration),
		false,
	)
}

func (b *GXGBot) commandWarn(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) error {
	opts := optionMap(data.Options)
	target := opts["user"].UserValue(nil)
	reason := opts["reason"].StringValue()
	moderator := interactionUser(i)

	warning, err := b.moderator.AddWarning(ctx, target.ID, reason)
	if err != nil {
		return err
	}
	if _, err = b.moderator.LogAction(
		ctx, ModActionWarn, moderator.ID, target.ID, reason, 0,
	); err != nil {
		return err
	}

	b.logToModChannel(
		ctx,
		fmt.Sprintf(
			"<@%s> warned <@%s> (infraction #%d). Reason: %s",
			moderator.ID, target.ID, warning.Infractions, reason,
		),
	)
	if b.moderator.OverThreshold(warning) {
		b.logToModChannel(
			ctx,
			fmt.Sprintf(
				"<@%s> has reached %d infractions. Consider further action.",
				target.ID, warning.Infractions,
			),
		)
	}
	return b.respond(
		i,
		fmt.Sprintf(
			"Warned <@%s>. They now have %d infraction(s).",
			target.ID, warning.Infractions,
		),
		false,
	)
}

func (b *GXGBot) commandWarnRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) error {
	opts := optionMap(data.Options)
	target := opts["user"].UserValue(nil)
	moderator := interactionUser(i)

	warning, err := b.moderator.RemoveWarning(ctx, target.ID)
	if err != nil {
		return err
	}
	if warning == nil {
		return b.respond(
			i,
			fmt.Sprintf("<@%s> has no warnings.", target.ID),
			true,
		)
	}
	if _, err = b.moderator.LogAction(
		ctx, ModActionWarnRemove, moderator.ID, target.ID, "", 0,
	); err != nil {
		return err
	}
	return b.respond(
		i,
		fmt.Sprintf(
			"Removed a warning from <@%s>. They now have %d infraction(s).",
			target.ID, warning.Infractions,
		),
		false,
	)
}

func (b *GXGBot) commandInfractions(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) error {
	opts := optionMap(data.Options)
	target := opts["user"].UserValue(nil)

	warning, err := b.moderator.GetWarnings(ctx, target.ID)
	if err != nil {
		return err
	}
	if warning == nil || warning.Infractions == 0 {
		return b.respond(
			i,
			fmt.Sprintf("<@%s> has no active infractions.", target.ID),
			true,
		)
	}

	var reasons strings.Builder
	for n, reason := range warning.Reasons {
		reasons.WriteString(fmt.Sprintf("%d. %s\n", n+1, orDash(reason)))
	}
	embed := &discordgo.MessageEmbed{
		Title: "Infractions",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Member", Value: fmt.Sprintf("<@%s>", target.ID), Inline: true},
			{
				Name:   "Active",
				Value:  strconv.Itoa(warning.Infractions),
				Inline: true,
			},
			{
				Name:   "Removed",
				Value:  strconv.Itoa(warning.RemovedInfractions),
				Inline: true,
			},
			{
				Name:  "Reasons",
				Value: truncate(reasons.String(), errorMessageCharLimit),
			},
		},
	}
	return b.respondEmbed(i, embed, true)
}

func (b *GXGBot) commandCreateVoice(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) error {
	opts := optionMap(data.Options)
	parentID := ""
	if opt, ok := opts["category"]; ok {
		if channel := opt.ChannelValue(nil); channel != nil {
			parentID = channel.ID
		}
	}

	channel, err := b.voice.CreateLobby(
		ctx, b.discord.session, i.GuildID, parentID,
	)
	if err != nil {
		return err
	}
	return b.respond(
		i,
		fmt.Sprintf("Created lobby channel <#%s>.", channel.ID),
		false,
	)
}

func (b *GXGBot) commandConfig(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	data discordgo.ApplicationCommandInteractionData,
) error {
	if len(data.Options) == 0 {
		return b.respond(i, "No config subcommand given.", true)
	}
	sub := data.Options[0]
	opts := optionMap(sub.Options)

	channelID := func() string {
		if opt, ok := opts["channel"]; ok {
			if channel := opt.ChannelValue(nil); channel != nil {
				return channel.ID
			}
		}
		return ""
	}

	var err error
	var reply string
	switch sub.Name {
	case cfgLevelUpChannel:
		id := channelID()
		err = b.settings.SetLevelUpChannel(id)
		reply = fmt.Sprintf("Level-up announcements will go to <#%s>.", id)
	case cfgLogChannel:
		id := channelID()
		err = b.settings.SetLogChannel(id)
		reply = fmt.Sprintf("Moderation log set to <#%s>.", id)
	case cfgModmailForum:
		id := channelID()
		err = b.settings.SetModmailForum(id)
		reply = fmt.Sprintf("Modmail forum set to <#%s>.", id)
	case cfgMemberCountChannel:
		id := channelID()
		err = b.settings.SetMemberCountChannel(id)
		reply = fmt.Sprintf("Member-count channel set to <#%s>.", id)
	case cfgRemoveLobby:
		id := channelID()
		err = b.settings.RemoveLobbyChannel(id)
		reply = fmt.Sprintf("<#%s> is no longer a lobby channel.", id)
	case cfgErrorWebhook:
		url := opts["url"].StringValue()
		if url != "" {
			if _, _, parseErr := parseWebhookURL(url); parseErr != nil {
				return b.respond(i, "That doesn't look like a webhook URL.", true)
			}
		}
		err = b.settings.SetErrorWebhook(url)
		reply = "Error webhook updated."
	case cfgMuteRole:
		role := opts["role"].RoleValue(nil, i.GuildID)
		err = b.settings.SetMuteRole(role.ID)
		reply = fmt.Sprintf("Mute role set to <@&%s>.", role.ID)
	case cfgWarnThreshold:
		count := int(opts["count"].IntValue())
		if count < 0 {
			return b.respond(i, "Threshold must be zero or more.", true)
		}
		err = b.settings.SetWarnThreshold(count)
		reply = fmt.Sprintf("Warn threshold set to %d.", count)
	case cfgXPBlock, cfgXPUnblock:
		return b.configXPBlock(ctx, i, sub.Name, opts)
	default:
		return b.respond(i, "Unknown config subcommand.", true)
	}

	if err != nil {
		return err
	}
	return b.respond(i, reply, true)
}

func (b *GXGBot) configXPBlock(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	subcommand string,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	var targetID, blockType string
	if opt, ok := opts["user"]; ok {
		if user := opt.UserValue(nil); user != nil {
			targetID = user.ID
			blockType = BlockTypeUser
		}
	}
	if opt, ok := opts["channel"]; ok {
		if channel := opt.ChannelValue(nil); channel != nil {
			targetID = channel.ID
			blockType = BlockTypeChannel
		}
	}
	if targetID == "" {
		return b.respond(i, "Pick a user or a channel to target.", true)
	}

	invoker := interactionUser(i)
	if subcommand == cfgXPBlock {
		if err := b.levels.AddBlock(
			ctx, targetID, blockType, invoker.ID,
		); err != nil {
			return err
		}
		b.dbNotifier.ReloadBlocklist(ctx)
		return b.respond(
			i,
			fmt.Sprintf("Blocked %s `%s` from gaining XP.", blockType, targetID),
			true,
		)
	}

	removed, err := b.levels.RemoveBlock(ctx, targetID, blockType)
	if err != nil {
		return err
	}
	if !removed {
		return b.respond(
			i,
			fmt.Sprintf("%s `%s` wasn't blocked.", blockType, targetID),
			true,
		)
	}
	b.dbNotifier.ReloadBlocklist(ctx)
	return b.respond(
		i,
		fmt.Sprintf("Unblocked %s `%s`.", blockType, targetID),
		true,
	)
}

// logToModChannel sends a message to the configured moderation log
// channel, if one is set
func (b *GXGBot) logToModChannel(ctx context.Context, content string) {
	channelID := b.settings.GetLogChannel()
	if channelID == "" {
		return
	}
	if _, err := b.discord.session.ChannelMessageSend(
		channelID, truncate(content, discordMaxMessageLength),
	); err != nil {
		b.logger.ErrorContext(ctx, "error writing to mod log channel", tint.Err(err))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// handleOwnerCommand runs the prefix-based diagnostic commands. The
// caller has already verified the author is a bot owner.
func (b *GXGBot) handleOwnerCommand(
	ctx context.Context,
	session DiscordSessionHandler,
	message *discordgo.MessageCreate,
) {
	content := strings.TrimPrefix(
		message.Content,
		b.config.Discord.CommandPrefix,
	)
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return
	}

	reply := func(text string) {
		_, err := session.ChannelMessageSendReply(
			message.ChannelID,
			truncate(text, discordMaxMessageLength),
			message.Reference(),
		)
		if err != nil {
			b.logger.ErrorContext(ctx, "error sending owner reply", tint.Err(err))
		}
	}

	switch fields[0] {
	case ownerCmdError:
		b.ownerShowError(ctx, session, message, fields[1:], reply)
	case ownerCmdRecentErrors:
		b.ownerRecentErrors(ctx, reply)
	case ownerCmdReset:
		b.ownerReset(ctx, fields[1:], reply)
	case ownerCmdListVoice:
		b.ownerListVoice(reply)
	case ownerCmdModLog:
		b.ownerModLog(ctx, fields[1:], reply)
	case ownerCmdLogs:
		b.ownerLogs(fields[1:], reply)
	case ownerCmdShutdown:
		reply("Shutting down.")
		b.dbNotifier.Stop(ctx)
	}
}

func (b *GXGBot) ownerShowError(
	ctx context.Context,
	session DiscordSessionHandler,
	message *discordgo.MessageCreate,
	args []string,
	reply func(string),
) {
	if len(args) == 0 {
		reply("Usage: error <id> [raw]")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		reply(fmt.Sprintf("`%s` isn't a valid error ID.", args[0]))
		return
	}
	record, err := b.errors.GetByID(ctx, uint(id))
	if err != nil {
		b.logger.ErrorContext(ctx, "error fetching error record", tint.Err(err))
		return
	}
	if record == nil {
		reply(fmt.Sprintf("No error record #%d.", id))
		return
	}

	if len(args) > 1 && args[1] == "raw" {
		reply(record.rawText())
		return
	}
	_, err = session.ChannelMessageSendComplex(
		message.ChannelID, &discordgo.MessageSend{
			Embeds:    []*discordgo.MessageEmbed{record.embed()},
			Reference: message.Reference(),
		},
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error sending error embed", tint.Err(err))
	}
}

func (b *GXGBot) ownerRecentErrors(ctx context.Context, reply func(string)) {
	records, err := b.errors.Recent(ctx, defaultRecentErrors)
	if err != nil {
		b.logger.ErrorContext(ctx, "error listing error records", tint.Err(err))
		return
	}
	if len(records) == 0 {
		reply("No recorded errors.")
		return
	}
	var sb strings.Builder
	for _, record := range records {
		sb.WriteString(
			fmt.Sprintf(
				"`#%d` **%s** %s\n",
				record.ID,
				record.Source,
				truncate(record.Message, 100),
			),
		)
	}
	reply(sb.String())
}

func (b *GXGBot) ownerReset(
	ctx context.Context,
	args []string,
	reply func(string),
) {
	if len(args) == 0 {
		reply("Usage: reset <user>")
		return
	}
	userID := parseUserMention(args[0])
	if userID == "" {
		reply(fmt.Sprintf("`%s` isn't a user mention or ID.", args[0]))
		return
	}
	if err := b.levels.Reset(ctx, userID); err != nil {
		b.logger.ErrorContext(ctx, "error resetting progress", tint.Err(err))
		return
	}
	reply(fmt.Sprintf("Reset level progress for <@%s>.", userID))
}

func (b *GXGBot) ownerListVoice(reply func(string)) {
	rooms := b.voice.Rooms()
	if len(rooms) == 0 {
		reply("No active voice rooms.")
		return
	}
	var sb strings.Builder
	for _, room := range rooms {
		status := "owner present"
		if !room.OwnerPresent {
			status = "owner away"
		}
		sb.WriteString(
			fmt.Sprintf("<#%s> owned by <@%s> (%s)\n", room.ChannelID, room.OwnerID, status),
		)
	}
	reply(sb.String())
}

func (b *GXGBot) ownerModLog(
	ctx context.Context,
	args []string,
	reply func(string),
) {
	if len(args) == 0 {
		reply("Usage: modlog <moderator>")
		return
	}
	moderatorID := parseUserMention(args[0])
	if moderatorID == "" {
		reply(fmt.Sprintf("`%s` isn't a user mention or ID.", args[0]))
		return
	}
	entries, err := b.moderator.RecentByModerator(ctx, moderatorID)
	if err != nil {
		b.logger.ErrorContext(ctx, "error listing moderation entries", tint.Err(err))
		return
	}
	if len(entries) == 0 {
		reply(fmt.Sprintf("No moderation actions by <@%s>.", moderatorID))
		return
	}
	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(
			fmt.Sprintf(
				"`#%d` **%s** <@%s> %s\n",
				entry.ID,
				entry.Action,
				entry.TargetID,
				orDash(truncate(entry.Reason, 100)),
			),
		)
	}
	reply(sb.String())
}

func (b *GXGBot) ownerLogs(args []string, reply func(string)) {
	count := defaultLogTailLines
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			reply(fmt.Sprintf("`%s` isn't a line count.", args[0]))
			return
		}
		count = n
	}
	lines := b.logTail.Tail(count)
	if len(lines) == 0 {
		reply("No log lines buffered yet.")
		return
	}
	body := truncate(
		strings.Join(lines, "\n"),
		discordMaxMessageLength-8,
	)
	reply(fmt.Sprintf("```\n%s\n```", body))
}

// parseUserMention extracts a user ID from a raw mention like
// <@123456> or a bare numeric ID
func parseUserMention(s string) string {
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimSuffix(s, ">")
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if s == "" {
		return ""
	}
	return s
}
