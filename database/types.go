package database

import (
	"time"
)

// GuildSettings - DB record for guild settings
type GuildSettings struct {
	ID                string
	VerifiedRoleID    string
	VerificationLogID string
	LogChannelID      string
	OwnerRoleIDs      []string
	BanRoleIDs        []string
	PointsRoleIDs     []string
}

// Complete - Verification needs at least the verified role to be set
func (gs GuildSettings) Complete() bool {
	return gs.VerifiedRoleID != ""
}

// Verification - Discord user to Roblox account link
type Verification struct {
	UserID     string
	AccountID  int64
	Username   string
	VerifiedAt time.Time
}

// Binding - Roblox group rank bound to a set of Discord roles
type Binding struct {
	GuildID string
	GroupID int64
	RankID  int64
	// Never empty, a binding without roles is deleted
	RoleIDs []string
}

// HasAnyRole - Check if the binding grants any of the roles
func (b Binding) HasAnyRole(roleIDs []string) bool {
	for _, r := range b.RoleIDs {
		if sliceContains(roleIDs, r) {
			return true
		}
	}
	return false
}
