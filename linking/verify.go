package linking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/roblox"
	"go.uber.org/zap"
)

// VerifyRequest - Starts a verification for a guild member
type VerifyRequest struct {
	GuildID      string
	UserID       string
	Username     string
	Conversation Conversation
}

// Verifier - Links a member to a Roblox account after proving control of the
// account through a phrase placed in its profile description.
type Verifier struct {
	Deps
	phrases Phraser
	timeout time.Duration
	now     func() time.Time

	// OnVerified - Runs once the session is released, after a verification or after an
	// existing link was brought into another guild
	OnVerified func(gid, uid string)
}

// NewVerifier - Create a Verifier waiting up to timeout for each prompt
func NewVerifier(d Deps, phrases Phraser, timeout time.Duration) *Verifier {
	d = d.withDefaults()
	d.Logger = d.Logger.Named("verify")
	return &Verifier{Deps: d, phrases: phrases, timeout: timeout, now: time.Now}
}

// Begin - Run the verification to its end and return the outcome
func (v *Verifier) Begin(ctx context.Context, req VerifyRequest) Outcome {
	out := v.run(ctx, req)
	v.Metrics.RecordOutcome(string(KindVerify), string(out))
	if (out == Verified || out == AlreadyVerified) && v.OnVerified != nil {
		v.OnVerified(req.GuildID, req.UserID)
	}
	return out
}

func (v *Verifier) run(ctx context.Context, req VerifyRequest) Outcome {
	log := v.Logger.With(zap.String("guild", req.GuildID), zap.String("user", req.UserID), zap.String("username", req.Username))
	conv := req.Conversation

	gs, err := v.Settings.Get(req.GuildID)
	if err != nil {
		return fail(ctx, log, conv, "Verify", fmt.Errorf("load settings: %w", err))
	}
	if !gs.Complete() {
		reply(ctx, log, conv, incompleteConfigView("Verify"))
		return Failed
	}

	existing, err := v.Identities.FindVerification(req.UserID)
	switch {
	case err == nil:
		v.joinGuild(ctx, log, req.GuildID, existing, gs.VerifiedRoleID)
		reply(ctx, log, conv, alreadyVerifiedView(existing))
		return AlreadyVerified
	case !errors.Is(err, db.ErrNotFound):
		return fail(ctx, log, conv, "Verify", fmt.Errorf("find verification: %w", err))
	}

	s, err := v.Registry.open(KindVerify, req.GuildID, req.UserID)
	if err != nil {
		reply(ctx, log, conv, inProgressView("Verify"))
		return InProgress
	}
	defer v.Registry.close(s)
	log = log.With(zap.String("session", s.ID))

	accountID, err := v.Accounts.ResolveID(ctx, req.Username)
	if errors.Is(err, roblox.ErrNotFound) {
		reply(ctx, log, conv, statusView("Verify", StatusFailure, "Operation Failed", fmt.Sprintf("No Roblox account named **%s** was found.", req.Username)))
		return AccountNotFound
	}
	if err != nil {
		return fail(ctx, log, conv, "Verify", fmt.Errorf("resolve username: %w", err))
	}
	s.AccountID = accountID
	s.Username = req.Username

	thumbnail, err := v.Accounts.Thumbnail(ctx, accountID)
	if err != nil {
		log.Warn("failed to get thumbnail", zap.Error(err))
	}

	// Confirmation
	s.arm(StageAwaitingConfirmation, ActionYes, ActionNo)
	if err := conv.Reply(ctx, confirmView(s, thumbnail)); err != nil {
		return fail(ctx, log, nil, "Verify", fmt.Errorf("show confirmation: %w", err))
	}
	ev, out, ok := v.await(ctx, log, s, conv)
	if !ok {
		return out
	}
	if ev.Action == ActionNo {
		reply(ctx, log, ev.Reply, statusView("Verify", StatusFailure, "Operation Cancelled", "The verification process has been cancelled."))
		return Cancelled
	}

	// Phrase proof
	s.Phrase = v.phrases.Phrase(req.UserID)
	s.arm(StageAwaitingPhraseProof, ActionDone, ActionCancel)
	if err := ev.Reply.Reply(ctx, phraseView(s)); err != nil {
		return fail(ctx, log, nil, "Verify", fmt.Errorf("show phrase: %w", err))
	}
	ev, out, ok = v.await(ctx, log, s, conv)
	if !ok {
		return out
	}
	if ev.Action == ActionCancel {
		reply(ctx, log, ev.Reply, statusView("Verify", StatusFailure, "Verification Cancelled", "You have cancelled this verification process."))
		return Cancelled
	}

	return v.validate(ctx, log, s, ev.Reply, gs, thumbnail)
}

// await waits for the current stage. ok is false when the flow ended without an action.
func (v *Verifier) await(ctx context.Context, log *zap.Logger, s *Session, conv Conversation) (Event, Outcome, bool) {
	ev, err := s.wait(ctx, v.timeout)
	if errors.Is(err, ErrSessionExpired) {
		log.Info("session expired", zap.String("stage", string(s.Stage())))
		if err := conv.Edit(ctx, expiredView("Verify")); err != nil {
			log.Warn("failed to show expiry", zap.Error(err))
		}
		return ev, Expired, false
	}
	if err != nil {
		return ev, fail(ctx, log, nil, "Verify", fmt.Errorf("wait for %s: %w", s.Stage(), err)), false
	}
	return ev, "", true
}

func (v *Verifier) validate(ctx context.Context, log *zap.Logger, s *Session, r Replier, gs db.GuildSettings, thumbnail string) Outcome {
	user, err := v.Accounts.User(ctx, s.AccountID)
	if err != nil {
		return fail(ctx, log, r, "Verify", fmt.Errorf("get profile: %w", err))
	}
	if !PhraseMatches(user.Description, s.Phrase) {
		log.Info("phrase not found in profile")
		reply(ctx, log, r, statusView("Verify", StatusFailure, "Operation Cancelled", "The random phrase was not found in your description!"))
		return ValidationFailed
	}

	rec := db.Verification{
		UserID:     s.UserID,
		AccountID:  s.AccountID,
		Username:   user.Name,
		VerifiedAt: v.now().UTC(),
	}
	if rec.Username == "" {
		rec.Username = s.Username
	}

	err = v.Identities.InsertVerification(rec)
	switch {
	case errors.Is(err, db.ErrAccountLinked):
		log.Info("account is linked to another user", zap.Int64("account", s.AccountID))
		reply(ctx, log, r, statusView("Verify", StatusFailure, "Operation Failed", "This Roblox account is already linked to another Discord account."))
		return AccountInUse
	case errors.Is(err, db.ErrUserLinked):
		existing, err := v.Identities.FindVerification(s.UserID)
		if err != nil {
			return fail(ctx, log, r, "Verify", fmt.Errorf("find verification: %w", err))
		}
		reply(ctx, log, r, alreadyVerifiedView(existing))
		return AlreadyVerified
	case err != nil:
		return fail(ctx, log, r, "Verify", fmt.Errorf("insert verification: %w", err))
	}

	if err := v.Members.AddRole(ctx, s.GuildID, s.UserID, gs.VerifiedRoleID); err != nil {
		// The link stays in place, /update or an admin can fix the role
		return fail(ctx, log, r, "Verify", fmt.Errorf("add verified role: %w", err))
	}
	if err := v.Members.SetNickname(ctx, s.GuildID, s.UserID, rec.Username); err != nil {
		log.Warn("failed to update nickname", zap.Error(err))
	}

	log.Info("user verified", zap.Int64("account", rec.AccountID))
	reply(ctx, log, r, verifiedView(rec, thumbnail))
	v.Auditor.Audit(ctx, s.GuildID, AuditEntry{
		Title:       "User Verified",
		Description: fmt.Sprintf("User <@%s> (%s) has successfully verified as [%s](%s).", s.UserID, s.UserID, rec.Username, roblox.ProfileURL(rec.AccountID)),
		Thumbnail:   thumbnail,
	})
	return Verified
}

// joinGuild grants the verified role of a guild to a member whose link was made elsewhere.
// Links are per user, so a member verified in one guild is verified in all of them.
func (v *Verifier) joinGuild(ctx context.Context, log *zap.Logger, gid string, rec db.Verification, roleID string) {
	held, err := v.Members.Roles(ctx, gid, rec.UserID)
	if err != nil {
		log.Warn("failed to get member roles", zap.Error(err))
		return
	}
	if contains(held, roleID) {
		return
	}
	if err := v.Members.AddRole(ctx, gid, rec.UserID, roleID); err != nil {
		v.Metrics.RecordRoleOp("add", "failed")
		log.Warn("failed to add verified role", zap.String("role", roleID), zap.Error(err))
		return
	}
	v.Metrics.RecordRoleOp("add", "ok")
	if err := v.Members.SetNickname(ctx, gid, rec.UserID, rec.Username); err != nil {
		log.Warn("failed to update nickname", zap.Error(err))
	}
	log.Info("linked member joined guild", zap.Int64("account", rec.AccountID))
}

// PhraseMatches - Check whether the profile text contains the phrase exactly
func PhraseMatches(profile, phrase string) bool {
	return phrase != "" && strings.Contains(profile, phrase)
}

// reply shows a view and logs a failure to do so.
func reply(ctx context.Context, log *zap.Logger, r Replier, view View) {
	if r == nil {
		return
	}
	if err := r.Reply(ctx, view); err != nil {
		log.Warn("failed to reply", zap.String("title", view.Title), zap.Error(err))
	}
}

// fail logs an unexpected error and shows a generic failure.
func fail(ctx context.Context, log *zap.Logger, r Replier, flow string, err error) Outcome {
	log.Error("flow failed", zap.Error(err))
	reply(ctx, log, r, failedView(flow))
	return Failed
}
