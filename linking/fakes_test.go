package linking

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/metrics"
	"github.com/cufee/botto-link/roblox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testGuild    = "g1"
	testUser     = "u1"
	testVerified = "verified"
	testPhrase   = "apple river stone"
)

var errDiscord = errors.New("discord unavailable")

// user plays the member on the other end of a flow. Every prompt with buttons
// is answered with the next scripted action.
type user struct {
	t      *testing.T
	reg    *Registry
	uid    string
	script []Action

	mu          sync.Mutex
	views       []View
	edits       []View
	deliverErrs []error
}

func newUser(t *testing.T, reg *Registry, script ...Action) *user {
	return &user{t: t, reg: reg, uid: testUser, script: script}
}

func (u *user) Reply(ctx context.Context, v View) error {
	u.mu.Lock()
	u.views = append(u.views, v)
	var next Action
	if v.SessionID != "" && len(u.script) > 0 {
		next, u.script = u.script[0], u.script[1:]
	}
	u.mu.Unlock()

	if next != "" {
		err := u.reg.Deliver(v.SessionID, u.uid, Event{Action: next, Reply: u})
		u.mu.Lock()
		u.deliverErrs = append(u.deliverErrs, err)
		u.mu.Unlock()
	}
	return nil
}

func (u *user) Edit(ctx context.Context, v View) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.edits = append(u.edits, v)
	return nil
}

func (u *user) last() View {
	u.mu.Lock()
	defer u.mu.Unlock()
	require.NotEmpty(u.t, u.views)
	return u.views[len(u.views)-1]
}

func (u *user) titles() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, v := range u.views {
		out = append(out, v.Title)
	}
	return out
}

type accounts struct {
	mu     sync.Mutex
	ids    map[string]int64
	users  map[int64]roblox.User
	groups map[int64][]roblox.GroupRole
	calls  int
}

func newAccounts() *accounts {
	return &accounts{
		ids:    make(map[string]int64),
		users:  make(map[int64]roblox.User),
		groups: make(map[int64][]roblox.GroupRole),
	}
}

func (a *accounts) add(u roblox.User, groups ...roblox.GroupRole) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids[u.Name] = u.ID
	a.users[u.ID] = u
	a.groups[u.ID] = groups
}

func (a *accounts) ResolveID(ctx context.Context, username string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	id, ok := a.ids[username]
	if !ok {
		return 0, roblox.ErrNotFound
	}
	return id, nil
}

func (a *accounts) User(ctx context.Context, id int64) (roblox.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	u, ok := a.users[id]
	if !ok {
		return roblox.User{}, roblox.ErrNotFound
	}
	return u, nil
}

func (a *accounts) Thumbnail(ctx context.Context, id int64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return "https://thumbs.example/avatar.png", nil
}

func (a *accounts) GroupRoles(ctx context.Context, id int64) ([]roblox.GroupRole, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.groups[id], nil
}

func (a *accounts) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type memberOp struct {
	guild  string
	op     string
	roleID string
	at     time.Time
}

var errUnknownMember = errors.New("unknown member")

// members is a role and nickname store. roles and nicks belong to testGuild,
// other guilds are added with join.
type members struct {
	mu     sync.Mutex
	roles  map[string][]string
	nicks  map[string]string
	guilds map[string]map[string][]string
	ops    []memberOp
	// role id -> remaining failures
	failures map[string]int
}

func newMembers() *members {
	roles := make(map[string][]string)
	return &members{
		roles:    roles,
		nicks:    make(map[string]string),
		guilds:   map[string]map[string][]string{testGuild: roles},
		failures: make(map[string]int),
	}
}

// join adds uid to another guild holding roles.
func (m *members) join(gid, uid string, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guilds[gid] == nil {
		m.guilds[gid] = make(map[string][]string)
	}
	m.guilds[gid][uid] = roles
}

func (m *members) guildRoles(gid, uid string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.guilds[gid][uid]...)
}

func (m *members) guild(gid string) (map[string][]string, error) {
	g, ok := m.guilds[gid]
	if !ok {
		return nil, errUnknownMember
	}
	return g, nil
}

func (m *members) Roles(ctx context.Context, gid, uid string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.guild(gid)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), g[uid]...), nil
}

func (m *members) AddRole(ctx context.Context, gid, uid, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, memberOp{guild: gid, op: "add", roleID: roleID, at: time.Now()})
	if m.failures[roleID] > 0 {
		m.failures[roleID]--
		return errDiscord
	}
	g, err := m.guild(gid)
	if err != nil {
		return err
	}
	if !contains(g[uid], roleID) {
		g[uid] = append(g[uid], roleID)
	}
	return nil
}

func (m *members) RemoveRole(ctx context.Context, gid, uid, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, memberOp{guild: gid, op: "remove", roleID: roleID, at: time.Now()})
	if m.failures[roleID] > 0 {
		m.failures[roleID]--
		return errDiscord
	}
	g, err := m.guild(gid)
	if err != nil {
		return err
	}
	var kept []string
	for _, r := range g[uid] {
		if r != roleID {
			kept = append(kept, r)
		}
	}
	g[uid] = kept
	return nil
}

func (m *members) SetNickname(ctx context.Context, gid, uid, nick string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, memberOp{guild: gid, op: "nick", roleID: nick, at: time.Now()})
	if gid == testGuild {
		m.nicks[uid] = nick
	} else {
		m.nicks[gid+"/"+uid] = nick
	}
	return nil
}

func (m *members) roleOps() []memberOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []memberOp
	for _, op := range m.ops {
		if op.op != "nick" {
			out = append(out, op)
		}
	}
	return out
}

func (m *members) opCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// identities wraps the store to fail lookups on demand and count deletes.
type identities struct {
	*db.DB

	mu sync.Mutex
	// Returned by successive FindVerification calls before the store is used
	findErrs  []error
	insertErr error
	deletes   int
}

func (i *identities) FindVerification(uid string) (db.Verification, error) {
	i.mu.Lock()
	var err error
	if len(i.findErrs) > 0 {
		err, i.findErrs = i.findErrs[0], i.findErrs[1:]
	}
	i.mu.Unlock()
	if err != nil {
		return db.Verification{}, err
	}
	return i.DB.FindVerification(uid)
}

func (i *identities) InsertVerification(v db.Verification) error {
	if i.insertErr != nil {
		return i.insertErr
	}
	return i.DB.InsertVerification(v)
}

func (i *identities) DeleteVerification(uid string) error {
	i.mu.Lock()
	i.deletes++
	i.mu.Unlock()
	return i.DB.DeleteVerification(uid)
}

func (i *identities) deleteCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.deletes
}

type settings map[string]db.GuildSettings

func (s settings) Get(gid string) (db.GuildSettings, error) {
	gs, ok := s[gid]
	if !ok {
		return db.GuildSettings{ID: gid}, nil
	}
	return gs, nil
}

type auditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *auditor) Audit(ctx context.Context, gid string, e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

// recorder keeps what was reported to the prometheus collector.
type recorder struct {
	*metrics.Collector

	mu       sync.Mutex
	outcomes map[string]int
	roleOps  map[string]int
}

func (r *recorder) RecordOutcome(flow, outcome string) {
	r.mu.Lock()
	r.outcomes[flow+"/"+outcome]++
	r.mu.Unlock()
	r.Collector.RecordOutcome(flow, outcome)
}

func (r *recorder) RecordRoleOp(op, result string) {
	r.mu.Lock()
	r.roleOps[op+"/"+result]++
	r.mu.Unlock()
	r.Collector.RecordRoleOp(op, result)
}

func activeSessions(t *testing.T, e *env) float64 {
	t.Helper()
	families, err := e.prom.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "botto_active_sessions" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("botto_active_sessions is not registered")
	return 0
}

type staticPhrase string

func (p staticPhrase) Phrase(string) string { return string(p) }

type env struct {
	deps     Deps
	db       *db.DB
	accounts *accounts
	members  *members
	audit    *auditor
	metrics  *recorder
	prom     *prometheus.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	collector := &recorder{
		Collector: metrics.NewCollector(reg),
		outcomes:  make(map[string]int),
		roleOps:   make(map[string]int),
	}

	e := &env{
		db:       store,
		accounts: newAccounts(),
		members:  newMembers(),
		audit:    &auditor{},
		metrics:  collector,
		prom:     reg,
	}
	e.deps = Deps{
		Registry:   NewRegistry(collector),
		Accounts:   e.accounts,
		Identities: store,
		Bindings:   store,
		Members:    e.members,
		Settings:   settings{testGuild: {ID: testGuild, VerifiedRoleID: testVerified}},
		Auditor:    e.audit,
		Metrics:    collector,
		Logger:     zaptest.NewLogger(t),
	}
	return e
}

func (e *env) link(t *testing.T, uid string, accountID int64, username string) {
	t.Helper()
	require.NoError(t, e.db.InsertVerification(db.Verification{
		UserID:     uid,
		AccountID:  accountID,
		Username:   username,
		VerifiedAt: time.Now().UTC(),
	}))
}

func (e *env) bind(t *testing.T, groupID, rankID int64, roleIDs ...string) {
	t.Helper()
	_, err := e.db.AddBinding(testGuild, groupID, rankID, roleIDs)
	require.NoError(t, err)
}
