package handlers

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-link/config"
	"go.uber.org/zap"
)

// Strips mention syntax from role, channel and user mentions
var mentionRe = regexp.MustCompile(`[<@&#!>]`)

// replyDel - Reply to a command and delete the reply after timer seconds
func (b *Bot) replyDel(ctx *exrouter.Context, msg string, timer time.Duration) {
	newMsg, err := ctx.Reply(msg)
	if err != nil {
		b.logger.Warn("failed to reply", zap.String("channel", ctx.Msg.ChannelID), zap.Error(err))
		return
	}
	time.AfterFunc(time.Second*timer, func() {
		ctx.Ses.ChannelMessageDelete(newMsg.ChannelID, newMsg.ID)
	})
}

// permsCheck - Check that the bot has the perms it needs in a channel
func (b *Bot) permsCheck(ctx *exrouter.Context, chanID string) bool {
	perms, err := ctx.Ses.UserChannelPermissions(ctx.Ses.State.User.ID, chanID)
	if err != nil {
		b.logger.Warn("failed to check perms", zap.String("channel", chanID), zap.Error(err))
		return false
	}
	return perms&config.PermsCode == config.PermsCode
}

// parseID - Get a snowflake from a mention or a raw id
func parseID(arg string) (string, bool) {
	id := mentionRe.ReplaceAllString(strings.TrimSpace(arg), "")
	if id == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", false
	}
	return id, true
}

// parseIDList - Get snowflakes from mentions or comma separated ids, skipping duplicates
func parseIDList(args []string) ([]string, bool) {
	var ids []string
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, ok := parseID(part)
			if !ok {
				return nil, false
			}
			if !sliceContains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids, len(ids) > 0
}

// argsFrom - Command arguments starting at n, empty when there are fewer
func argsFrom(args []string, n int) []string {
	if len(args) <= n {
		return nil
	}
	return args[n:]
}

func sliceContains(slice []string, val string) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}
	return false
}

func hasPerm(perms, perm int64) bool {
	return perms&perm == perm
}

// interactionUser - User that triggered an interaction, in a guild or a DM
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}
