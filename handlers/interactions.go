package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-link/linking"
	"go.uber.org/zap"
)

var dmPermission = false

// Commands - Slash commands owned by the bot
var Commands = []*discordgo.ApplicationCommand{
	{
		Name:         "verify",
		Description:  "Link your Roblox account to your Discord account",
		DMPermission: &dmPermission,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "username",
				Description: "Your Roblox username",
				Required:    true,
			},
		},
	},
	{
		Name:         "unverify",
		Description:  "Unlink your Roblox account and remove the roles it granted",
		DMPermission: &dmPermission,
	},
	{
		Name:         "update",
		Description:  "Update roles from Roblox group ranks",
		DMPermission: &dmPermission,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Member to update, requires Manage Roles",
				Required:    false,
			},
		},
	},
}

// InteractionCreate - Route slash commands and button presses
func (b *Bot) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch i.ApplicationCommandData().Name {
		case "verify":
			b.verifyCommand(s, i)
		case "unverify":
			b.unverifyCommand(s, i)
		case "update":
			b.updateCommand(s, i)
		}
	case discordgo.InteractionMessageComponent:
		b.buttonPress(s, i)
	}
}

func (b *Bot) verifyCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	var username string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "username" {
			username = strings.TrimSpace(opt.StringValue())
		}
	}

	conv, err := newCommandConversation(s, i.Interaction)
	if err != nil {
		b.logger.Warn("failed to answer command", zap.String("command", "verify"), zap.Error(err))
		return
	}
	b.verifier.Begin(b.ctx, linking.VerifyRequest{
		GuildID:      i.GuildID,
		UserID:       user.ID,
		Username:     username,
		Conversation: conv,
	})
}

func (b *Bot) unverifyCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	conv, err := newCommandConversation(s, i.Interaction)
	if err != nil {
		b.logger.Warn("failed to answer command", zap.String("command", "unverify"), zap.Error(err))
		return
	}
	b.unverifier.Begin(b.ctx, linking.UnverifyRequest{
		GuildID:      i.GuildID,
		UserID:       user.ID,
		Conversation: conv,
	})
}

func (b *Bot) updateCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	caller := interactionUser(i)
	target := caller
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "user" {
			if u := opt.UserValue(s); u != nil {
				target = u
			}
		}
	}

	conv, err := newCommandConversation(s, i.Interaction)
	if err != nil {
		b.logger.Warn("failed to answer command", zap.String("command", "update"), zap.Error(err))
		return
	}

	if target.ID != caller.ID && (i.Member == nil || !hasPerm(i.Member.Permissions, discordgo.PermissionManageRoles)) {
		conv.Reply(b.ctx, linking.View{Flow: "Update", Status: linking.StatusFailure, Title: "Operation Failed", Description: "You need Manage Roles to update another member."})
		return
	}

	res := b.reconciler.Reconcile(b.ctx, i.GuildID, target.ID)
	if err := conv.Reply(b.ctx, reconcileView(target.ID, res)); err != nil {
		b.logger.Warn("failed to show update result", zap.String("user", target.ID), zap.Error(err))
	}
}

// reconcileView - Summary of a reconciliation for the member who asked for it
func reconcileView(uid string, res linking.Result) linking.View {
	v := linking.View{Flow: "Update", Status: linking.StatusFailure, Title: "Operation Failed"}
	switch res.Outcome {
	case linking.Completed:
	case linking.NotVerified:
		v.Description = fmt.Sprintf("<@%s> is not verified. Use `/verify` first.", uid)
		return v
	case linking.InProgress:
		v.Description = fmt.Sprintf("<@%s> already has a verification process running. Try again once it is finished.", uid)
		return v
	default:
		v.Description = "An error occurred while processing your request. Please try again later."
		return v
	}

	v.Status = linking.StatusSuccess
	v.Title = "Roles Updated"
	var lines []string
	if res.UsernameChanged {
		lines = append(lines, fmt.Sprintf("Username updated to **%s**.", res.Username))
	}
	if res.Plan.Empty() {
		lines = append(lines, "Roles are already up to date.")
	}
	if len(res.Plan.Add) > 0 {
		lines = append(lines, "**Added:** "+mentionRoles(res.Plan.Add))
	}
	if len(res.Plan.Remove) > 0 {
		lines = append(lines, "**Removed:** "+mentionRoles(res.Plan.Remove))
	}
	if len(res.Failed) > 0 {
		var failed []string
		for _, f := range res.Failed {
			failed = append(failed, fmt.Sprintf("%s <@&%s>", f.Op, f.RoleID))
		}
		v.Status = linking.StatusFailure
		lines = append(lines, "**Could not apply:** "+strings.Join(failed, ", ")+"\n*The bot role is most likely below these roles.*")
	}
	v.Description = strings.Join(lines, "\n")
	return v
}

func mentionRoles(ids []string) string {
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, fmt.Sprintf("<@&%s>", id))
	}
	return strings.Join(mentions, ", ")
}

// buttonPress - Hand a button press to the session that showed it
func (b *Bot) buttonPress(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sessionID, action, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	user := interactionUser(i)
	log := b.logger.With(zap.String("session", sessionID), zap.String("user", user.ID), zap.String("action", string(action)))

	// Acknowledge first, the flow answers by editing the message
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
	if err != nil {
		log.Warn("failed to acknowledge button", zap.Error(err))
		return
	}

	err = b.registry.Deliver(sessionID, user.ID, linking.Event{
		Action: action,
		Reply:  &componentReply{s: s, i: i.Interaction},
	})
	switch {
	case err == nil:
	case errors.Is(err, linking.ErrUnknownSession):
		b.followup(s, i, "This prompt is no longer active. Run the command again.")
	case errors.Is(err, linking.ErrNotYourSession):
		b.followup(s, i, "This prompt belongs to someone else.")
	default:
		// Double clicks and presses on retired prompts are dropped
		log.Warn("button press rejected", zap.Error(err))
	}
}

func (b *Bot) followup(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_, err := s.FollowupMessageCreate(i.Interaction, false, &discordgo.WebhookParams{
		Content: msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		b.logger.Warn("failed to send followup", zap.Error(err))
	}
}
