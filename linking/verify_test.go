package linking

import (
	"context"
	"errors"
	"testing"
	"time"

	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/roblox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(e *env, timeout time.Duration) *Verifier {
	return NewVerifier(e.deps, staticPhrase(testPhrase), timeout)
}

func outcomeCount(e *env, flow Kind, out Outcome) int {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return e.metrics.outcomes[string(flow)+"/"+string(out)]
}

func TestVerify_Success(t *testing.T) {
	e := newEnv(t)
	e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: "hi! " + testPhrase + " :)"})
	conv := newUser(t, e.deps.Registry, ActionYes, ActionDone)

	v := newTestVerifier(e, time.Second)
	var hookActive bool
	hookCalled := false
	v.OnVerified = func(gid, uid string) {
		hookCalled = true
		hookActive = e.deps.Registry.Active(uid)
	}

	out := v.Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	require.Equal(t, Verified, out)

	rec, err := e.db.FindVerification(testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), rec.AccountID)
	assert.Equal(t, "Alice", rec.Username)

	roles, _ := e.members.Roles(context.Background(), testGuild, testUser)
	assert.Equal(t, []string{testVerified}, roles)
	assert.Equal(t, "Alice", e.members.nicks[testUser])

	assert.Equal(t, []string{
		"Verification Step 1 - Confirmation",
		"Verification Step 2 - Random Phrase",
		"Verification Successful",
	}, conv.titles())
	assert.Contains(t, conv.views[1].Description, testPhrase)
	for _, err := range conv.deliverErrs {
		assert.NoError(t, err)
	}

	require.Len(t, e.audit.entries, 1)
	assert.Equal(t, "User Verified", e.audit.entries[0].Title)

	assert.True(t, hookCalled)
	assert.False(t, hookActive)
	assert.False(t, e.deps.Registry.Active(testUser))
	assert.Equal(t, 1, outcomeCount(e, KindVerify, Verified))
	assert.Equal(t, 0.0, activeSessions(t, e))
}

func TestVerify_PhraseMissing(t *testing.T) {
	e := newEnv(t)
	e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: "apple river"})
	conv := newUser(t, e.deps.Registry, ActionYes, ActionDone)

	out := newTestVerifier(e, time.Second).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	assert.Equal(t, ValidationFailed, out)

	_, err := e.db.FindVerification(testUser)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Zero(t, e.members.opCount())
	assert.Empty(t, e.audit.entries)
	assert.Equal(t, "The random phrase was not found in your description!", conv.last().Description)
}

func TestVerify_ConfirmationExpires(t *testing.T) {
	e := newEnv(t)
	e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: testPhrase})
	conv := newUser(t, e.deps.Registry)

	out := newTestVerifier(e, 20*time.Millisecond).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	assert.Equal(t, Expired, out)

	require.Len(t, conv.edits, 1)
	assert.Equal(t, "Operation Cancelled", conv.edits[0].Title)
	assert.Empty(t, conv.edits[0].Buttons)

	_, err := e.db.FindVerification(testUser)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Zero(t, e.members.opCount())
	assert.False(t, e.deps.Registry.Active(testUser))
}

func TestVerify_Declined(t *testing.T) {
	tests := []struct {
		name   string
		script []Action
	}{
		{"not my account", []Action{ActionNo}},
		{"cancel at phrase", []Action{ActionYes, ActionCancel}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: testPhrase})
			conv := newUser(t, e.deps.Registry, tt.script...)

			out := newTestVerifier(e, time.Second).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
			assert.Equal(t, Cancelled, out)
			assert.Zero(t, e.members.opCount())
			_, err := e.db.FindVerification(testUser)
			assert.ErrorIs(t, err, db.ErrNotFound)
		})
	}
}

func TestVerify_AlreadyVerified(t *testing.T) {
	e := newEnv(t)
	e.link(t, testUser, 1001, "Alice")
	conv := newUser(t, e.deps.Registry)

	v := newTestVerifier(e, time.Second)
	var hooked []string
	v.OnVerified = func(gid, uid string) { hooked = append(hooked, gid) }

	out := v.Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Bob", Conversation: conv})
	assert.Equal(t, AlreadyVerified, out)
	assert.Zero(t, e.accounts.callCount())
	assert.Contains(t, conv.last().Description, "Alice")
	assert.False(t, e.deps.Registry.Active(testUser))

	// The link predates this guild, so its verified role is granted here
	roles, _ := e.members.Roles(context.Background(), testGuild, testUser)
	assert.Equal(t, []string{testVerified}, roles)
	assert.Equal(t, "Alice", e.members.nicks[testUser])
	assert.Equal(t, []string{testGuild}, hooked)

	// Nothing left to grant the second time
	ops := e.members.opCount()
	out = v.Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Bob", Conversation: conv})
	assert.Equal(t, AlreadyVerified, out)
	assert.Equal(t, ops, e.members.opCount())
}

func TestVerify_PhraseStageExpires(t *testing.T) {
	e := newEnv(t)
	e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: testPhrase})
	conv := newUser(t, e.deps.Registry, ActionYes)

	out := newTestVerifier(e, 20*time.Millisecond).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	assert.Equal(t, Expired, out)

	assert.Equal(t, []string{
		"Verification Step 1 - Confirmation",
		"Verification Step 2 - Random Phrase",
	}, conv.titles())
	require.Len(t, conv.edits, 1)
	assert.Equal(t, "Operation Cancelled", conv.edits[0].Title)
	assert.Empty(t, conv.edits[0].Buttons)

	_, err := e.db.FindVerification(testUser)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Zero(t, e.members.opCount())
	assert.False(t, e.deps.Registry.Active(testUser))
	assert.Equal(t, 0.0, activeSessions(t, e))
	assert.Equal(t, 1, outcomeCount(e, KindVerify, Expired))
}

func TestVerify_LinkLookupFails(t *testing.T) {
	e := newEnv(t)
	e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: testPhrase})
	// Another verification won the insert and the lookup of its link then fails
	ids := &identities{
		DB:        e.db,
		findErrs:  []error{db.ErrNotFound, errors.New("bolt: database not open")},
		insertErr: db.ErrUserLinked,
	}
	e.deps.Identities = ids
	conv := newUser(t, e.deps.Registry, ActionYes, ActionDone)

	out := newTestVerifier(e, time.Second).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	assert.Equal(t, Failed, out)
	assert.Equal(t, "Operation Failed", conv.last().Title)
	assert.NotContains(t, conv.last().Description, "Roblox ID")
	assert.Zero(t, e.members.opCount())
}

func TestVerify_InProgress(t *testing.T) {
	e := newEnv(t)
	e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: testPhrase})
	_, err := e.deps.Registry.open(KindUnverify, testGuild, testUser)
	require.NoError(t, err)
	conv := newUser(t, e.deps.Registry)

	out := newTestVerifier(e, time.Second).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	assert.Equal(t, InProgress, out)
	assert.Zero(t, e.accounts.callCount())
}

func TestVerify_AccountNotFound(t *testing.T) {
	e := newEnv(t)
	conv := newUser(t, e.deps.Registry)

	out := newTestVerifier(e, time.Second).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Ghost", Conversation: conv})
	assert.Equal(t, AccountNotFound, out)
	assert.Contains(t, conv.last().Description, "Ghost")
	assert.False(t, e.deps.Registry.Active(testUser))
}

func TestVerify_AccountInUse(t *testing.T) {
	e := newEnv(t)
	e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: testPhrase})
	e.link(t, "someone-else", 1001, "Alice")
	conv := newUser(t, e.deps.Registry, ActionYes, ActionDone)

	out := newTestVerifier(e, time.Second).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	assert.Equal(t, AccountInUse, out)

	_, err := e.db.FindVerification(testUser)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Zero(t, e.members.opCount())
}

func TestVerify_IncompleteConfig(t *testing.T) {
	e := newEnv(t)
	e.deps.Settings = settings{}
	conv := newUser(t, e.deps.Registry)

	out := newTestVerifier(e, time.Second).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	assert.Equal(t, Failed, out)
	assert.Zero(t, e.accounts.callCount())
	assert.Contains(t, conv.last().Description, "!setup")
}

func TestVerify_RoleFailureKeepsLink(t *testing.T) {
	e := newEnv(t)
	e.accounts.add(roblox.User{ID: 1001, Name: "Alice", Description: testPhrase})
	e.members.failures[testVerified] = 1
	conv := newUser(t, e.deps.Registry, ActionYes, ActionDone)

	out := newTestVerifier(e, time.Second).Begin(context.Background(), VerifyRequest{GuildID: testGuild, UserID: testUser, Username: "Alice", Conversation: conv})
	assert.Equal(t, Failed, out)

	_, err := e.db.FindVerification(testUser)
	assert.NoError(t, err)
	assert.Equal(t, "Operation Failed", conv.last().Title)
}

func TestPhraseMatches(t *testing.T) {
	assert.True(t, PhraseMatches("I like apple river stone a lot", "apple river stone"))
	assert.True(t, PhraseMatches("apple river stone", "apple river stone"))
	assert.False(t, PhraseMatches("apple river", "apple river stone"))
	assert.False(t, PhraseMatches("Apple River Stone", "apple river stone"))
	assert.False(t, PhraseMatches("anything", ""))
}
