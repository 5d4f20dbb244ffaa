package config

import (
	"errors"
	"fmt"
	"sync"

	db "github.com/cufee/botto-link/database"
)

// ErrUnknownKey - Setting key is not recognized
var ErrUnknownKey = errors.New("unknown setting key")

// Setting keys accepted by !setup
const (
	KeyVerifiedRole    = "verifiedRole"
	KeyVerificationLog = "verificationLog"
	KeyLogChannel      = "logChannel"
	KeyOwnerRole       = "ownerRole"
	KeyBanRole         = "banRole"
	KeyPointsRole      = "pointsRole"
)

// SettingKeys - Valid setting keys
var SettingKeys []string = []string{KeyVerifiedRole, KeyVerificationLog, KeyLogChannel, KeyOwnerRole, KeyBanRole, KeyPointsRole}

// GuildStore - Persistence for guild settings
type GuildStore interface {
	GetGuildSettings(gid string) (db.GuildSettings, error)
	UpdateGuildSettings(gs db.GuildSettings) error
}

// Guilds - Cached guild settings, read through and written through to the store
type Guilds struct {
	store GuildStore

	mu    sync.RWMutex
	cache map[string]db.GuildSettings
}

// NewGuilds - Create an empty settings cache
func NewGuilds(store GuildStore) *Guilds {
	return &Guilds{store: store, cache: make(map[string]db.GuildSettings)}
}

// Get - Get settings for a guild
func (g *Guilds) Get(gid string) (db.GuildSettings, error) {
	g.mu.RLock()
	gs, ok := g.cache[gid]
	g.mu.RUnlock()
	if ok {
		return gs, nil
	}
	return g.Reload(gid)
}

// Reload - Drop the cached settings of a guild and read them again
func (g *Guilds) Reload(gid string) (db.GuildSettings, error) {
	gs, err := g.store.GetGuildSettings(gid)
	if err != nil {
		return gs, fmt.Errorf("load guild settings: %w", err)
	}
	g.mu.Lock()
	g.cache[gid] = gs
	g.mu.Unlock()
	return gs, nil
}

// Set - Set a channel key or add a role to a role list key
func (g *Guilds) Set(gid, key, id string) (db.GuildSettings, error) {
	return g.modify(gid, func(gs *db.GuildSettings) error {
		switch key {
		case KeyVerifiedRole:
			gs.VerifiedRoleID = id
		case KeyVerificationLog:
			gs.VerificationLogID = id
		case KeyLogChannel:
			gs.LogChannelID = id
		case KeyOwnerRole:
			gs.OwnerRoleIDs = appendUnique(gs.OwnerRoleIDs, id)
		case KeyBanRole:
			gs.BanRoleIDs = appendUnique(gs.BanRoleIDs, id)
		case KeyPointsRole:
			gs.PointsRoleIDs = appendUnique(gs.PointsRoleIDs, id)
		default:
			return ErrUnknownKey
		}
		return nil
	})
}

// Unset - Clear a channel key or remove a role from a role list key
func (g *Guilds) Unset(gid, key, id string) (db.GuildSettings, error) {
	return g.modify(gid, func(gs *db.GuildSettings) error {
		switch key {
		case KeyVerifiedRole:
			gs.VerifiedRoleID = ""
		case KeyVerificationLog:
			gs.VerificationLogID = ""
		case KeyLogChannel:
			gs.LogChannelID = ""
		case KeyOwnerRole:
			gs.OwnerRoleIDs = remove(gs.OwnerRoleIDs, id)
		case KeyBanRole:
			gs.BanRoleIDs = remove(gs.BanRoleIDs, id)
		case KeyPointsRole:
			gs.PointsRoleIDs = remove(gs.PointsRoleIDs, id)
		default:
			return ErrUnknownKey
		}
		return nil
	})
}

func (g *Guilds) modify(gid string, fn func(gs *db.GuildSettings) error) (db.GuildSettings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gs, err := g.store.GetGuildSettings(gid)
	if err != nil {
		return gs, fmt.Errorf("load guild settings: %w", err)
	}
	if err := fn(&gs); err != nil {
		return gs, err
	}
	if err := g.store.UpdateGuildSettings(gs); err != nil {
		return gs, fmt.Errorf("save guild settings: %w", err)
	}
	g.cache[gid] = gs
	return gs, nil
}

func appendUnique(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
