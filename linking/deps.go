package linking

import (
	"context"
	"time"

	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/roblox"
	"go.uber.org/zap"
)

// Accounts - Resolves and reads Roblox accounts
type Accounts interface {
	ResolveID(ctx context.Context, username string) (int64, error)
	User(ctx context.Context, id int64) (roblox.User, error)
	Thumbnail(ctx context.Context, id int64) (string, error)
	GroupRoles(ctx context.Context, id int64) ([]roblox.GroupRole, error)
}

// Identities - Stores account links
type Identities interface {
	FindVerification(uid string) (db.Verification, error)
	InsertVerification(v db.Verification) error
	UpdateVerification(v db.Verification) error
	DeleteVerification(uid string) error
}

// BindingTable - Reads rank to role bindings
type BindingTable interface {
	Bindings(gid string) ([]db.Binding, error)
	BindingsByRoles(gid string, roleIDs []string) ([]db.Binding, error)
}

// Members - Changes roles and nicknames of guild members. All calls may fail and can be retried
type Members interface {
	Roles(ctx context.Context, gid, uid string) ([]string, error)
	AddRole(ctx context.Context, gid, uid, roleID string) error
	RemoveRole(ctx context.Context, gid, uid, roleID string) error
	// An empty nickname clears it
	SetNickname(ctx context.Context, gid, uid, nick string) error
}

// Settings - Source of guild settings
type Settings interface {
	Get(gid string) (db.GuildSettings, error)
}

// AuditEntry - A line in the guild verification log
type AuditEntry struct {
	Title       string
	Description string
	Thumbnail   string
}

// Auditor - Writes to the guild verification log. Failures are handled by the implementation
type Auditor interface {
	Audit(ctx context.Context, gid string, e AuditEntry)
}

// Metrics - Records flow activity
type Metrics interface {
	RecordOutcome(flow, outcome string)
	RecordRoleOp(op, result string)
	ObserveReconcile(d time.Duration)
	SessionStarted()
	SessionEnded()
}

// Phraser - Derives the verification phrase for a user id
type Phraser interface {
	Phrase(id string) string
}

// Deps - The collaborators shared by all flows
type Deps struct {
	Registry   *Registry
	Accounts   Accounts
	Identities Identities
	Bindings   BindingTable
	Members    Members
	Settings   Settings
	Auditor    Auditor
	Metrics    Metrics
	Logger     *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Auditor == nil {
		d.Auditor = nopAuditor{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Registry == nil {
		d.Registry = NewRegistry(d.Metrics)
	}
	return d
}

type nopMetrics struct{}

func (nopMetrics) RecordOutcome(string, string)   {}
func (nopMetrics) RecordRoleOp(string, string)    {}
func (nopMetrics) ObserveReconcile(time.Duration) {}
func (nopMetrics) SessionStarted()                {}
func (nopMetrics) SessionEnded()                  {}

type nopAuditor struct{}

func (nopAuditor) Audit(context.Context, string, AuditEntry) {}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
