package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	db "github.com/cufee/botto-link/database"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// ReconcilerConfig - Controls how role changes are applied
type ReconcilerConfig struct {
	// Tries per role change, including the first
	Attempts   uint64
	RetryDelay time.Duration
	// Pause between two consecutive role changes
	Cooldown time.Duration
}

// RoleChange - A single role add or remove that failed every attempt
type RoleChange struct {
	Op     string
	RoleID string
	Err    error
}

// Result - The outcome of a reconciliation and what it did
type Result struct {
	Outcome         Outcome
	Plan            Plan
	Username        string
	UsernameChanged bool
	// Role changes that were given up on, the rest of the plan still ran
	Failed []RoleChange
}

// Reconciler - Syncs a verified member's username and bound roles with Roblox
type Reconciler struct {
	Deps
	cfg ReconcilerConfig
}

// NewReconciler - Create a Reconciler
func NewReconciler(d Deps, cfg ReconcilerConfig) *Reconciler {
	d = d.withDefaults()
	d.Logger = d.Logger.Named("reconcile")
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryDelay <= 0 {
		// go-retry needs a positive interval
		cfg.RetryDelay = time.Millisecond
	}
	return &Reconciler{Deps: d, cfg: cfg}
}

// Reconcile - Recompute and apply the roles of a member
func (r *Reconciler) Reconcile(ctx context.Context, gid, uid string) Result {
	start := time.Now()
	res := r.run(ctx, gid, uid)
	r.Metrics.RecordOutcome(string(KindReconcile), string(res.Outcome))
	if res.Outcome == Completed {
		r.Metrics.ObserveReconcile(time.Since(start))
	}
	return res
}

func (r *Reconciler) run(ctx context.Context, gid, uid string) Result {
	log := r.Logger.With(zap.String("guild", gid), zap.String("user", uid))
	res := Result{Outcome: Failed}

	rec, err := r.Identities.FindVerification(uid)
	if errors.Is(err, db.ErrNotFound) {
		res.Outcome = NotVerified
		return res
	}
	if err != nil {
		log.Error("failed to find verification", zap.Error(err))
		return res
	}
	res.Username = rec.Username

	s, err := r.Registry.open(KindReconcile, gid, uid)
	if err != nil {
		res.Outcome = InProgress
		return res
	}
	defer r.Registry.close(s)

	if err := r.syncUsername(ctx, log, gid, &rec, &res); err != nil {
		log.Error("failed to sync username", zap.Error(err))
		return res
	}

	res.Plan, err = r.plan(ctx, gid, uid, rec.AccountID)
	if err != nil {
		log.Error("failed to build plan", zap.Error(err))
		return res
	}

	res.Failed, err = r.apply(ctx, log, gid, uid, res.Plan)
	if err != nil {
		log.Error("reconciliation interrupted", zap.Error(err))
		return res
	}

	log.Info("roles reconciled",
		zap.Strings("added", res.Plan.Add),
		zap.Strings("removed", res.Plan.Remove),
		zap.Int("failed", len(res.Failed)),
	)
	res.Outcome = Completed
	return res
}

func (r *Reconciler) syncUsername(ctx context.Context, log *zap.Logger, gid string, rec *db.Verification, res *Result) error {
	user, err := r.Accounts.User(ctx, rec.AccountID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	if user.Name == "" || user.Name == rec.Username {
		return nil
	}

	rec.Username = user.Name
	if err := r.Identities.UpdateVerification(*rec); err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	res.Username = user.Name
	res.UsernameChanged = true

	if err := r.Members.SetNickname(ctx, gid, rec.UserID, user.Name); err != nil {
		log.Warn("failed to update nickname", zap.Error(err))
	}
	return nil
}

func (r *Reconciler) plan(ctx context.Context, gid, uid string, accountID int64) (Plan, error) {
	memberships, err := r.Accounts.GroupRoles(ctx, accountID)
	if err != nil {
		return Plan{}, fmt.Errorf("get group roles: %w", err)
	}
	bindings, err := r.Bindings.Bindings(gid)
	if err != nil {
		return Plan{}, fmt.Errorf("get bindings: %w", err)
	}
	gs, err := r.Settings.Get(gid)
	if err != nil {
		return Plan{}, fmt.Errorf("load settings: %w", err)
	}
	held, err := r.Members.Roles(ctx, gid, uid)
	if err != nil {
		return Plan{}, fmt.Errorf("get member roles: %w", err)
	}
	// A link made in another guild still needs this guild's verified role
	return BuildPlan(held, memberships, bindings).Keep(held, gs.VerifiedRoleID), nil
}

// apply runs all removals, then all additions, pausing between consecutive changes.
// A change that fails every attempt is recorded and skipped; only ctx ends the run early.
func (r *Reconciler) apply(ctx context.Context, log *zap.Logger, gid, uid string, plan Plan) ([]RoleChange, error) {
	var failed []RoleChange
	first := true

	step := func(op, roleID string, change func(ctx context.Context, gid, uid, roleID string) error) error {
		if !first {
			if err := sleep(ctx, r.cfg.Cooldown); err != nil {
				return err
			}
		}
		first = false

		err := r.retry(ctx, func(ctx context.Context) error {
			return change(ctx, gid, uid, roleID)
		})
		if err == nil {
			r.Metrics.RecordRoleOp(op, "ok")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.Metrics.RecordRoleOp(op, "failed")
		log.Warn("giving up on role change", zap.String("op", op), zap.String("role", roleID), zap.Error(err))
		failed = append(failed, RoleChange{Op: op, RoleID: roleID, Err: err})
		return nil
	}

	for _, roleID := range plan.Remove {
		if err := step("remove", roleID, r.Members.RemoveRole); err != nil {
			return failed, err
		}
	}
	for _, roleID := range plan.Add {
		if err := step("add", roleID, r.Members.AddRole); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

func (r *Reconciler) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(r.cfg.Attempts-1, retry.NewConstant(r.cfg.RetryDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
