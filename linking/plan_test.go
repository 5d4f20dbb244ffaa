package linking

import (
	"testing"

	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/roblox"
	"github.com/stretchr/testify/assert"
)

func TestBuildPlan(t *testing.T) {
	bindings := []db.Binding{
		{GroupID: 7, RankID: 100, RoleIDs: []string{"member"}},
		{GroupID: 7, RankID: 200, RoleIDs: []string{"member", "officer"}},
		{GroupID: 8, RankID: 300, RoleIDs: []string{"ally"}},
	}

	tests := []struct {
		name        string
		held        []string
		memberships []roblox.GroupRole
		want        Plan
	}{
		{
			name:        "new member gets bound roles",
			held:        []string{"verified"},
			memberships: []roblox.GroupRole{{GroupID: 7, RoleID: 200}},
			want:        Plan{Add: []string{"member", "officer"}},
		},
		{
			name:        "demotion keeps shared role",
			held:        []string{"verified", "member", "officer"},
			memberships: []roblox.GroupRole{{GroupID: 7, RoleID: 100}},
			want:        Plan{Remove: []string{"officer"}},
		},
		{
			name:        "left every group",
			held:        []string{"verified", "member", "ally"},
			memberships: nil,
			want:        Plan{Remove: []string{"ally", "member"}},
		},
		{
			name:        "unbound roles are left alone",
			held:        []string{"verified", "booster"},
			memberships: []roblox.GroupRole{{GroupID: 9, RoleID: 999}},
			want:        Plan{},
		},
		{
			name:        "already in sync",
			held:        []string{"member", "ally"},
			memberships: []roblox.GroupRole{{GroupID: 7, RoleID: 100}, {GroupID: 8, RoleID: 300}},
			want:        Plan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildPlan(tt.held, tt.memberships, bindings)
			assert.Equal(t, tt.want, got)
			for _, r := range got.Add {
				assert.NotContains(t, got.Remove, r)
			}
		})
	}
}

func TestPlan_Empty(t *testing.T) {
	assert.True(t, Plan{}.Empty())
	assert.False(t, Plan{Add: []string{"a"}}.Empty())
	assert.False(t, Plan{Remove: []string{"a"}}.Empty())
}

func TestPlanKeep(t *testing.T) {
	p := Plan{Add: []string{"member"}}.Keep([]string{"booster"}, "verified")
	assert.Equal(t, Plan{Add: []string{"member", "verified"}}, p)

	p = Plan{Add: []string{"member"}}.Keep([]string{"verified"}, "verified")
	assert.Equal(t, Plan{Add: []string{"member"}}, p)

	// A verified role that is also bound to a lost rank stays
	p = Plan{Remove: []string{"old", "verified"}}.Keep([]string{"old", "verified"}, "verified")
	assert.Equal(t, Plan{Remove: []string{"old"}}, p)

	p = Plan{Remove: []string{"old"}}.Keep(nil, "")
	assert.Equal(t, Plan{Remove: []string{"old"}}, p)
}
