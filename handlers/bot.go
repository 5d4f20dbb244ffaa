package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-link/config"
	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/linking"
	"github.com/cufee/botto-link/roblox"
	"go.uber.org/zap"
)

// RoleLister - Lists the roles defined by a Roblox group
type RoleLister interface {
	GroupRolesList(ctx context.Context, groupID int64) ([]roblox.Role, error)
}

// Bot - Discord side of the bot: commands, buttons, admin commands and guild events
type Bot struct {
	ctx    context.Context
	logger *zap.Logger

	guilds   *config.Guilds
	store    *db.DB
	groups   RoleLister
	registry *linking.Registry

	verifier   *linking.Verifier
	unverifier *linking.Unverifier
	reconciler *linking.Reconciler
}

// Options - Everything a Bot needs
type Options struct {
	Guilds     *config.Guilds
	Store      *db.DB
	Groups     RoleLister
	Registry   *linking.Registry
	Verifier   *linking.Verifier
	Unverifier *linking.Unverifier
	Reconciler *linking.Reconciler
	Logger     *zap.Logger
}

// NewBot - Create a Bot, flows started by it are canceled with ctx
func NewBot(ctx context.Context, o Options) *Bot {
	return &Bot{
		ctx:        ctx,
		logger:     o.Logger.Named("handlers"),
		guilds:     o.Guilds,
		store:      o.Store,
		groups:     o.Groups,
		registry:   o.Registry,
		verifier:   o.Verifier,
		unverifier: o.Unverifier,
		reconciler: o.Reconciler,
	}
}

// Register - Attach event handlers to the session and admin commands to a new router
func (b *Bot) Register(s *discordgo.Session, prefix string) *exrouter.Route {
	router := exrouter.New()
	router.On("setup", b.SetupHandler).Desc("Configure the bot for this server")
	router.On("bind", b.BindHandler).Desc("Bind Roblox group ranks to roles")

	s.AddHandler(b.Ready)
	s.AddHandler(b.InteractionCreate)
	s.AddHandler(b.GuildRoleDelete)
	s.AddHandler(b.GuildCreate)
	s.AddHandler(b.GuildDelete)
	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Admin commands only work in guilds
		if m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		router.FindAndExecute(s, prefix, s.State.User.ID, m.Message)
	})
	return router
}

// ReconcileAsync - Reconcile a member's roles in the background, used after a verification
func (b *Bot) ReconcileAsync(gid, uid string) {
	go func() {
		res := b.reconciler.Reconcile(b.ctx, gid, uid)
		b.logger.Info("post verification reconcile",
			zap.String("guild", gid),
			zap.String("user", uid),
			zap.String("outcome", string(res.Outcome)),
			zap.Int("failed", len(res.Failed)),
		)
	}()
}

// Members - Guild member roles and nicknames over the Discord API
type Members struct {
	s *discordgo.Session
}

// NewMembers - Members backed by a session
func NewMembers(s *discordgo.Session) *Members {
	return &Members{s: s}
}

// Roles - Roles a member holds, read from the API since the state cache lags behind our own changes
func (m *Members) Roles(ctx context.Context, gid, uid string) ([]string, error) {
	member, err := m.s.GuildMember(gid, uid)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return member.Roles, nil
}

func (m *Members) AddRole(ctx context.Context, gid, uid, roleID string) error {
	return m.s.GuildMemberRoleAdd(gid, uid, roleID)
}

func (m *Members) RemoveRole(ctx context.Context, gid, uid, roleID string) error {
	return m.s.GuildMemberRoleRemove(gid, uid, roleID)
}

func (m *Members) SetNickname(ctx context.Context, gid, uid, nick string) error {
	return m.s.GuildMemberNickname(gid, uid, nick)
}

// StateGuilds - IDs of the guilds in the state cache of s
func StateGuilds(s *discordgo.Session) func() []string {
	return func() []string {
		s.State.RLock()
		defer s.State.RUnlock()
		ids := make([]string, 0, len(s.State.Guilds))
		for _, g := range s.State.Guilds {
			ids = append(ids, g.ID)
		}
		return ids
	}
}

// Auditor - Posts verification events to the verification log channel of a guild
type Auditor struct {
	s      *discordgo.Session
	guilds *config.Guilds
	logger *zap.Logger
}

// NewAuditor - Auditor posting with s
func NewAuditor(s *discordgo.Session, guilds *config.Guilds, logger *zap.Logger) *Auditor {
	return &Auditor{s: s, guilds: guilds, logger: logger.Named("audit")}
}

func (a *Auditor) Audit(ctx context.Context, gid string, e linking.AuditEntry) {
	gs, err := a.guilds.Get(gid)
	if err != nil {
		a.logger.Warn("failed to load settings", zap.String("guild", gid), zap.Error(err))
		return
	}
	// Logging is optional
	if gs.VerificationLogID == "" {
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       colorSuccess,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if e.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if _, err := a.s.ChannelMessageSendEmbed(gs.VerificationLogID, embed); err != nil {
		a.logger.Warn("failed to post audit entry", zap.String("guild", gid), zap.String("channel", gs.VerificationLogID), zap.Error(err))
	}
}
