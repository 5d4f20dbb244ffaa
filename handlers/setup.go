package handlers

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-link/config"
	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/roblox"
	"go.uber.org/zap"
)

const setupUsage = "Usage: `!setup view`, `!setup add <key> <@role|#channel>`, `!setup remove <key> [@role]`, `!setup reload`\n" +
	"Keys: `verifiedRole`, `verificationLog`, `logChannel`, `ownerRole`, `banRole`, `pointsRole`"

const bindUsage = "Usage: `!bind add <groupId> <rankId> <@role ...>`, `!bind remove <groupId> [@role ...]`, `!bind view <groupId>`"

// SetupHandler - View and change the settings of a guild
func (b *Bot) SetupHandler(ctx *exrouter.Context) {
	gs, err := b.guilds.Get(ctx.Msg.GuildID)
	if err != nil {
		b.logger.Error("failed to load settings", zap.String("guild", ctx.Msg.GuildID), zap.Error(err))
		b.replyDel(ctx, "An error occured while fetching guild settings.", 15)
		return
	}
	if !b.isOwner(ctx, gs) {
		b.replyDel(ctx, "You need to be an owner of this server to use this command.", 15)
		return
	}

	// Delete message
	ctx.Ses.ChannelMessageDelete(ctx.Msg.ChannelID, ctx.Msg.ID)

	switch ctx.Args.Get(1) {
	case "view":
		ctx.Reply(formatSettings(gs))

	case "add":
		key := ctx.Args.Get(2)
		id, ok := parseID(ctx.Args.Get(3))
		if !ok {
			b.replyDel(ctx, "Make sure the role or channel is a mention or an id and is the second argument after `add`.", 15)
			return
		}
		if msg, ok := b.validateSetting(ctx, key, id); !ok {
			b.replyDel(ctx, msg, 15)
			return
		}
		if _, err := b.guilds.Set(ctx.Msg.GuildID, key, id); err != nil {
			b.settingFailed(ctx, key, err)
			return
		}
		b.replyDel(ctx, fmt.Sprintf("Done! `%s` has been updated.", key), 15)

	case "remove":
		key := ctx.Args.Get(2)
		id, _ := parseID(ctx.Args.Get(3))
		if _, err := b.guilds.Unset(ctx.Msg.GuildID, key, id); err != nil {
			b.settingFailed(ctx, key, err)
			return
		}
		b.replyDel(ctx, fmt.Sprintf("Done! `%s` has been updated.", key), 15)

	case "reload":
		if _, err := b.guilds.Reload(ctx.Msg.GuildID); err != nil {
			b.logger.Error("failed to reload settings", zap.String("guild", ctx.Msg.GuildID), zap.Error(err))
			b.replyDel(ctx, "Failed to reload guild settings. Please try again later.", 15)
			return
		}
		b.replyDel(ctx, "Guild settings reloaded.", 15)

	default:
		b.replyDel(ctx, setupUsage, 30)
	}
}

func (b *Bot) settingFailed(ctx *exrouter.Context, key string, err error) {
	if errors.Is(err, config.ErrUnknownKey) {
		b.replyDel(ctx, fmt.Sprintf("`%s` is not a valid setting.\n%s", key, setupUsage), 30)
		return
	}
	b.logger.Error("failed to update settings", zap.String("guild", ctx.Msg.GuildID), zap.String("key", key), zap.Error(err))
	b.replyDel(ctx, "Failed to update guild settings. Please try again later.", 15)
}

// validateSetting - Check that a role key gets a role of this guild and a channel key a usable channel
func (b *Bot) validateSetting(ctx *exrouter.Context, key, id string) (string, bool) {
	switch key {
	case config.KeyVerificationLog, config.KeyLogChannel:
		channels, err := ctx.Ses.GuildChannels(ctx.Msg.GuildID)
		if err != nil {
			return "I was not able to get a list of channels on this server.", false
		}
		for _, c := range channels {
			if c.ID == id {
				if !b.permsCheck(ctx, id) {
					return "It looks like I do not have proper perms in that channel.", false
				}
				return "", true
			}
		}
		return "I was not able to find that channel on this server.", false

	case config.KeyVerifiedRole, config.KeyOwnerRole, config.KeyBanRole, config.KeyPointsRole:
		if _, ok := b.guildRole(ctx, id); !ok {
			return "I was not able to find that role on this server.", false
		}
		return "", true
	}
	return fmt.Sprintf("`%s` is not a valid setting.\n%s", key, setupUsage), false
}

func (b *Bot) guildRole(ctx *exrouter.Context, id string) (*discordgo.Role, bool) {
	roles, err := ctx.Ses.GuildRoles(ctx.Msg.GuildID)
	if err != nil {
		b.logger.Warn("failed to list roles", zap.String("guild", ctx.Msg.GuildID), zap.Error(err))
		return nil, false
	}
	for _, r := range roles {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// isOwner - Owner roles of the guild or Administrator. Administrator always works so a new guild can be set up.
func (b *Bot) isOwner(ctx *exrouter.Context, gs db.GuildSettings) bool {
	if ctx.Msg.Member != nil {
		for _, r := range ctx.Msg.Member.Roles {
			if sliceContains(gs.OwnerRoleIDs, r) {
				return true
			}
		}
	}
	perms, err := ctx.Ses.UserChannelPermissions(ctx.Msg.Author.ID, ctx.Msg.ChannelID)
	if err != nil {
		b.logger.Warn("failed to check perms", zap.String("user", ctx.Msg.Author.ID), zap.Error(err))
		return false
	}
	return hasPerm(perms, discordgo.PermissionAdministrator)
}

func formatSettings(gs db.GuildSettings) string {
	channel := func(id string) string {
		if id == "" {
			return "*not set*"
		}
		return "<#" + id + ">"
	}
	roles := func(ids ...string) string {
		var out []string
		for _, id := range ids {
			if id != "" {
				out = append(out, "<@&"+id+">")
			}
		}
		if len(out) == 0 {
			return "*not set*"
		}
		return strings.Join(out, ", ")
	}

	var sb strings.Builder
	sb.WriteString("**Guild settings:**\n")
	fmt.Fprintf(&sb, "`%s`: %s\n", config.KeyVerifiedRole, roles(gs.VerifiedRoleID))
	fmt.Fprintf(&sb, "`%s`: %s\n", config.KeyVerificationLog, channel(gs.VerificationLogID))
	fmt.Fprintf(&sb, "`%s`: %s\n", config.KeyLogChannel, channel(gs.LogChannelID))
	fmt.Fprintf(&sb, "`%s`: %s\n", config.KeyOwnerRole, roles(gs.OwnerRoleIDs...))
	fmt.Fprintf(&sb, "`%s`: %s\n", config.KeyBanRole, roles(gs.BanRoleIDs...))
	fmt.Fprintf(&sb, "`%s`: %s", config.KeyPointsRole, roles(gs.PointsRoleIDs...))
	return sb.String()
}

// BindHandler - Manage Roblox rank to role bindings
func (b *Bot) BindHandler(ctx *exrouter.Context) {
	gs, err := b.guilds.Get(ctx.Msg.GuildID)
	if err != nil {
		b.logger.Error("failed to load settings", zap.String("guild", ctx.Msg.GuildID), zap.Error(err))
		b.replyDel(ctx, "An error occured while fetching guild settings.", 15)
		return
	}
	if !b.isOwner(ctx, gs) {
		b.replyDel(ctx, "You need to be an owner of this server to use this command.", 15)
		return
	}

	groupID, err := strconv.ParseInt(ctx.Args.Get(2), 10, 64)
	if err != nil || groupID <= 0 {
		b.replyDel(ctx, bindUsage, 30)
		return
	}
	log := b.logger.With(zap.String("guild", ctx.Msg.GuildID), zap.Int64("group", groupID))

	switch ctx.Args.Get(1) {
	case "add":
		rankID, err := strconv.ParseInt(ctx.Args.Get(3), 10, 64)
		if err != nil {
			b.replyDel(ctx, "Make sure the rank id is the second argument after `add`.", 15)
			return
		}
		roleIDs, ok := parseIDList(argsFrom(ctx.Args, 4))
		if !ok {
			b.replyDel(ctx, "Make sure to include at least one role after the rank id.", 15)
			return
		}
		for _, id := range roleIDs {
			if _, ok := b.guildRole(ctx, id); !ok {
				b.replyDel(ctx, fmt.Sprintf("I was not able to find <@&%s> on this server.", id), 15)
				return
			}
		}

		ranks, err := b.groups.GroupRolesList(b.ctx, groupID)
		if errors.Is(err, roblox.ErrNotFound) {
			b.replyDel(ctx, fmt.Sprintf("Group `%d` does not exist.", groupID), 15)
			return
		}
		if err != nil {
			log.Error("failed to list group roles", zap.Error(err))
			b.replyDel(ctx, "Failed to reach Roblox. Please try again later.", 15)
			return
		}
		rank, ok := findRank(ranks, rankID)
		if !ok {
			b.replyDel(ctx, fmt.Sprintf("Group `%d` has no rank with id `%d`. Use `!bind view %d` to list them.", groupID, rankID, groupID), 15)
			return
		}

		binding, err := b.store.AddBinding(ctx.Msg.GuildID, groupID, rankID, roleIDs)
		if err != nil {
			log.Error("failed to add binding", zap.Int64("rank", rankID), zap.Error(err))
			b.replyDel(ctx, "Failed to save the binding. Please try again later.", 15)
			return
		}
		b.replyDel(ctx, fmt.Sprintf("Done! **%s** is now bound to %s.", rank.Name, mentionRoles(binding.RoleIDs)), 15)

	case "remove":
		var (
			n   int
			err error
		)
		if rest := argsFrom(ctx.Args, 3); len(rest) > 0 {
			roleIDs, ok := parseIDList(rest)
			if !ok {
				b.replyDel(ctx, "Make sure the roles are mentions or ids.", 15)
				return
			}
			n, err = b.store.RemoveBindingRoles(ctx.Msg.GuildID, groupID, roleIDs)
		} else {
			n, err = b.store.RemoveGroupBindings(ctx.Msg.GuildID, groupID)
		}
		if err != nil {
			log.Error("failed to remove bindings", zap.Error(err))
			b.replyDel(ctx, "Failed to update bindings. Please try again later.", 15)
			return
		}
		b.replyDel(ctx, fmt.Sprintf("Done! Updated %d bindings of group `%d`.", n, groupID), 15)

	case "view":
		ranks, err := b.groups.GroupRolesList(b.ctx, groupID)
		if errors.Is(err, roblox.ErrNotFound) {
			b.replyDel(ctx, fmt.Sprintf("Group `%d` does not exist.", groupID), 15)
			return
		}
		if err != nil {
			log.Error("failed to list group roles", zap.Error(err))
			b.replyDel(ctx, "Failed to reach Roblox. Please try again later.", 15)
			return
		}
		bindings, err := b.store.GroupBindings(ctx.Msg.GuildID, groupID)
		if err != nil {
			log.Error("failed to get bindings", zap.Error(err))
			b.replyDel(ctx, "Failed to get bindings. Please try again later.", 15)
			return
		}
		ctx.Reply(formatBindings(groupID, ranks, bindings))

	default:
		b.replyDel(ctx, bindUsage, 30)
	}
}

func findRank(ranks []roblox.Role, id int64) (roblox.Role, bool) {
	for _, r := range ranks {
		if r.ID == id {
			return r, true
		}
	}
	return roblox.Role{}, false
}

// formatBindings - Group ranks from lowest to highest with the roles bound to each
func formatBindings(groupID int64, ranks []roblox.Role, bindings []db.Binding) string {
	sorted := append([]roblox.Role(nil), ranks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	bound := make(map[int64][]string)
	for _, b := range bindings {
		bound[b.RankID] = append(bound[b.RankID], b.RoleIDs...)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Ranks of group %d:**", groupID)
	for _, r := range sorted {
		roles := "-"
		if ids := bound[r.ID]; len(ids) > 0 {
			roles = mentionRoles(ids)
		}
		fmt.Fprintf(&sb, "\n`%d` **%s** (id `%d`): %s", r.Rank, r.Name, r.ID, roles)
	}
	if len(sorted) == 0 {
		sb.WriteString("\n*This group has no ranks.*")
	}
	return sb.String()
}
