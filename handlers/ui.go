package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-link/config"
	"github.com/cufee/botto-link/linking"
)

// Embed colors per view status
const (
	colorPending = 0x5865f2
	colorSuccess = 0x57f287
	colorFailure = 0xed4245
)

// customID - Button custom id, routed back to the session that showed it
func customID(sessionID string, action linking.Action) string {
	return fmt.Sprintf("%s:%s:%s", config.CustomIDPrefix, sessionID, action)
}

// parseCustomID - Split a button custom id, ok is false for ids the bot does not own
func parseCustomID(id string) (sessionID string, action linking.Action, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != config.CustomIDPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], linking.Action(parts[2]), true
}

func viewEmbed(v linking.View) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       v.Title,
		Description: v.Description,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if v.Flow != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: v.Flow}
	}
	if v.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: v.Thumbnail}
	}
	switch v.Status {
	case linking.StatusSuccess:
		embed.Color = colorSuccess
	case linking.StatusFailure:
		embed.Color = colorFailure
	default:
		embed.Color = colorPending
	}
	return embed
}

// viewComponents - Button row of a view, empty when the view offers no actions so old buttons are cleared
func viewComponents(v linking.View) []discordgo.MessageComponent {
	if len(v.Buttons) == 0 || v.SessionID == "" {
		return []discordgo.MessageComponent{}
	}
	row := discordgo.ActionsRow{}
	for _, btn := range v.Buttons {
		style := discordgo.PrimaryButton
		if btn.Danger {
			style = discordgo.DangerButton
		}
		row.Components = append(row.Components, discordgo.Button{
			Label:    btn.Label,
			Style:    style,
			CustomID: customID(v.SessionID, btn.Action),
		})
	}
	return []discordgo.MessageComponent{row}
}

func viewEdit(v linking.View) *discordgo.WebhookEdit {
	embeds := []*discordgo.MessageEmbed{viewEmbed(v)}
	components := viewComponents(v)
	content := ""
	return &discordgo.WebhookEdit{
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	}
}

// commandConversation - Reply surface of a slash command. The command is
// deferred on arrival, every view then edits the original response.
type commandConversation struct {
	s *discordgo.Session
	i *discordgo.Interaction

	mu sync.Mutex
}

func newCommandConversation(s *discordgo.Session, i *discordgo.Interaction) (*commandConversation, error) {
	err := s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		return nil, fmt.Errorf("defer response: %w", err)
	}
	return &commandConversation{s: s, i: i}, nil
}

func (c *commandConversation) Reply(ctx context.Context, v linking.View) error {
	return c.Edit(ctx, v)
}

func (c *commandConversation) Edit(ctx context.Context, v linking.View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.s.InteractionResponseEdit(c.i, viewEdit(v))
	return err
}

// componentReply - Answers a button press by editing the message the button is on.
// The press is acknowledged with a deferred update before it reaches the flow.
type componentReply struct {
	s *discordgo.Session
	i *discordgo.Interaction
}

func (r *componentReply) Reply(ctx context.Context, v linking.View) error {
	_, err := r.s.InteractionResponseEdit(r.i, viewEdit(v))
	return err
}
