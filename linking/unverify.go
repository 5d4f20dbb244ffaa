package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/roblox"
	"go.uber.org/zap"
)

// UnverifyRequest - Starts an unverification for a guild member
type UnverifyRequest struct {
	GuildID      string
	UserID       string
	Conversation Conversation
}

// Unverifier - Removes a member's account link and every role granted through it
type Unverifier struct {
	Deps
	timeout time.Duration
	// settle enables a second delete of the link after this delay, for stores
	// that are not read-after-write consistent
	settle time.Duration

	// Guilds - IDs of the guilds the bot is in. Links are per user, so unverifying
	// also strips roles in these guilds. Nil limits the teardown to the requesting guild.
	Guilds func() []string
}

// NewUnverifier - Create an Unverifier waiting up to timeout for the confirmation
func NewUnverifier(d Deps, timeout, settle time.Duration) *Unverifier {
	d = d.withDefaults()
	d.Logger = d.Logger.Named("unverify")
	return &Unverifier{Deps: d, timeout: timeout, settle: settle}
}

// Begin - Run the unverification to its end and return the outcome
func (u *Unverifier) Begin(ctx context.Context, req UnverifyRequest) Outcome {
	out := u.run(ctx, req)
	u.Metrics.RecordOutcome(string(KindUnverify), string(out))
	return out
}

func (u *Unverifier) run(ctx context.Context, req UnverifyRequest) Outcome {
	log := u.Logger.With(zap.String("guild", req.GuildID), zap.String("user", req.UserID))
	conv := req.Conversation

	gs, err := u.Settings.Get(req.GuildID)
	if err != nil {
		return fail(ctx, log, conv, "Unverify", fmt.Errorf("load settings: %w", err))
	}
	if !gs.Complete() {
		reply(ctx, log, conv, incompleteConfigView("Unverify"))
		return Failed
	}

	rec, err := u.Identities.FindVerification(req.UserID)
	if errors.Is(err, db.ErrNotFound) {
		reply(ctx, log, conv, statusView("Unverify", StatusFailure, "Operation Failed", "You are not verified!"))
		return NotVerified
	}
	if err != nil {
		return fail(ctx, log, conv, "Unverify", fmt.Errorf("find verification: %w", err))
	}

	s, err := u.Registry.open(KindUnverify, req.GuildID, req.UserID)
	if err != nil {
		reply(ctx, log, conv, inProgressView("Unverify"))
		return InProgress
	}
	defer u.Registry.close(s)
	s.AccountID = rec.AccountID
	s.Username = rec.Username
	log = log.With(zap.String("session", s.ID))

	s.arm(StageAwaitingConfirmation, ActionYes, ActionCancel)
	if err := conv.Reply(ctx, unverifyConfirmView(s)); err != nil {
		return fail(ctx, log, nil, "Unverify", fmt.Errorf("show confirmation: %w", err))
	}

	ev, err := s.wait(ctx, u.timeout)
	if errors.Is(err, ErrSessionExpired) {
		log.Info("session expired")
		if err := conv.Edit(ctx, expiredView("Unverify")); err != nil {
			log.Warn("failed to show expiry", zap.Error(err))
		}
		return Expired
	}
	if err != nil {
		return fail(ctx, log, nil, "Unverify", fmt.Errorf("wait for confirmation: %w", err))
	}
	if ev.Action == ActionCancel {
		reply(ctx, log, ev.Reply, statusView("Unverify", StatusFailure, "Operation Cancelled", "The unverification process has been cancelled."))
		return Cancelled
	}

	if err := u.teardown(ctx, log, req.GuildID, rec, gs.VerifiedRoleID); err != nil {
		return fail(ctx, log, ev.Reply, "Unverify", err)
	}

	log.Info("user unverified", zap.Int64("account", rec.AccountID))
	reply(ctx, log, ev.Reply, statusView("Unverify", StatusSuccess, "Unverified", fmt.Sprintf("Your Roblox account **%s** has been unverified.", rec.Username)))
	u.Auditor.Audit(ctx, req.GuildID, AuditEntry{
		Title:       "User Unverified",
		Description: fmt.Sprintf("User <@%s> (%s) has been unverified as [%s](%s).", rec.UserID, rec.UserID, rec.Username, roblox.ProfileURL(rec.AccountID)),
	})
	return Completed
}

// teardown removes bound roles, the link, the verified role and the nickname.
// Role and nickname failures are logged and skipped.
func (u *Unverifier) teardown(ctx context.Context, log *zap.Logger, gid string, rec db.Verification, verifiedRoleID string) error {
	held, err := u.Members.Roles(ctx, gid, rec.UserID)
	if err != nil {
		return fmt.Errorf("get member roles: %w", err)
	}
	if err := u.removeBound(ctx, log, gid, rec.UserID, held); err != nil {
		return err
	}

	if err := u.Identities.DeleteVerification(rec.UserID); err != nil {
		return fmt.Errorf("delete verification: %w", err)
	}
	if u.settle > 0 {
		if err := sleep(ctx, u.settle); err != nil {
			return err
		}
		if err := u.Identities.DeleteVerification(rec.UserID); err != nil {
			log.Warn("second delete failed", zap.Error(err))
		}
	}

	u.strip(ctx, log, gid, rec.UserID, verifiedRoleID)
	u.leaveOtherGuilds(ctx, log, gid, rec.UserID)
	return nil
}

// removeBound removes every bound role the member holds in a guild.
func (u *Unverifier) removeBound(ctx context.Context, log *zap.Logger, gid, uid string, held []string) error {
	bindings, err := u.Bindings.BindingsByRoles(gid, held)
	if err != nil {
		return fmt.Errorf("find bindings: %w", err)
	}

	removed := make(map[string]bool)
	for _, b := range bindings {
		for _, roleID := range b.RoleIDs {
			if removed[roleID] || !contains(held, roleID) {
				continue
			}
			removed[roleID] = true
			if err := u.Members.RemoveRole(ctx, gid, uid, roleID); err != nil {
				u.Metrics.RecordRoleOp("remove", "failed")
				log.Warn("failed to remove bound role", zap.String("role", roleID), zap.Error(err))
				continue
			}
			u.Metrics.RecordRoleOp("remove", "ok")
		}
	}
	return nil
}

func (u *Unverifier) strip(ctx context.Context, log *zap.Logger, gid, uid, verifiedRoleID string) {
	if err := u.Members.RemoveRole(ctx, gid, uid, verifiedRoleID); err != nil {
		log.Warn("failed to remove verified role", zap.String("role", verifiedRoleID), zap.Error(err))
	}
	if err := u.Members.SetNickname(ctx, gid, uid, ""); err != nil {
		log.Warn("failed to clear nickname", zap.Error(err))
	}
}

// leaveOtherGuilds tears down the roles of the deleted link in every other guild
// where the member holds that guild's verified role.
func (u *Unverifier) leaveOtherGuilds(ctx context.Context, log *zap.Logger, gid, uid string) {
	if u.Guilds == nil {
		return
	}
	for _, other := range u.Guilds() {
		if other == gid {
			continue
		}
		log := log.With(zap.String("other_guild", other))

		gs, err := u.Settings.Get(other)
		if err != nil {
			log.Warn("failed to load settings", zap.Error(err))
			continue
		}
		if gs.VerifiedRoleID == "" {
			continue
		}
		held, err := u.Members.Roles(ctx, other, uid)
		if err != nil {
			// Most guilds the bot is in do not have this member
			log.Debug("skipping guild", zap.Error(err))
			continue
		}
		if !contains(held, gs.VerifiedRoleID) {
			continue
		}
		if err := u.removeBound(ctx, log, other, uid, held); err != nil {
			log.Warn("failed to remove bound roles", zap.Error(err))
		}
		u.strip(ctx, log, other, uid, gs.VerifiedRoleID)
		log.Info("unverified in guild")
	}
}

func contains(slice []string, val string) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}
	return false
}
