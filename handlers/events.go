package handlers

import (
	"github.com/bwmarrin/discordgo"
	"github.com/cufee/botto-link/config"
	db "github.com/cufee/botto-link/database"
	"go.uber.org/zap"
)

// Ready - Register slash commands once the session is up
func (b *Bot) Ready(s *discordgo.Session, e *discordgo.Ready) {
	b.logger.Info("connected", zap.String("user", e.User.Username), zap.Int("guilds", len(e.Guilds)))

	cmds, err := s.ApplicationCommandBulkOverwrite(e.User.ID, "", Commands)
	if err != nil {
		b.logger.Error("failed to register commands", zap.Error(err))
		return
	}
	b.logger.Info("commands registered", zap.Int("count", len(cmds)))
}

// GuildRoleDelete - Drop a deleted role from bindings and settings
func (b *Bot) GuildRoleDelete(s *discordgo.Session, e *discordgo.GuildRoleDelete) {
	log := b.logger.With(zap.String("guild", e.GuildID), zap.String("role", e.RoleID))

	n, err := b.store.PruneRole(e.GuildID, e.RoleID)
	if err != nil {
		log.Error("failed to prune role from bindings", zap.Error(err))
	} else if n > 0 {
		log.Info("pruned deleted role from bindings", zap.Int("bindings", n))
	}

	gs, err := b.guilds.Get(e.GuildID)
	if err != nil {
		log.Error("failed to load settings", zap.Error(err))
		return
	}
	for _, key := range roleKeysHolding(gs, e.RoleID) {
		if _, err := b.guilds.Unset(e.GuildID, key, e.RoleID); err != nil {
			log.Error("failed to clear deleted role from settings", zap.String("key", key), zap.Error(err))
			continue
		}
		log.Info("cleared deleted role from settings", zap.String("key", key))
	}
}

// GuildCreate - Handle new guild joined event
func (b *Bot) GuildCreate(s *discordgo.Session, e *discordgo.GuildCreate) {
	b.logger.Debug("guild available", zap.String("guild", e.ID), zap.String("name", e.Name))
}

// GuildDelete - Handle kicked from guild event
func (b *Bot) GuildDelete(s *discordgo.Session, e *discordgo.GuildDelete) {
	// Outages also send GuildDelete
	if e.Unavailable {
		b.logger.Warn("guild unavailable", zap.String("guild", e.ID))
		return
	}
	b.logger.Info("removed from guild", zap.String("guild", e.ID))
}

func roleKeysHolding(gs db.GuildSettings, roleID string) []string {
	var keys []string
	if gs.VerifiedRoleID == roleID {
		keys = append(keys, config.KeyVerifiedRole)
	}
	if sliceContains(gs.OwnerRoleIDs, roleID) {
		keys = append(keys, config.KeyOwnerRole)
	}
	if sliceContains(gs.BanRoleIDs, roleID) {
		keys = append(keys, config.KeyBanRole)
	}
	if sliceContains(gs.PointsRoleIDs, roleID) {
		keys = append(keys, config.KeyPointsRole)
	}
	return keys
}
