package linking

import (
	"sort"

	db "github.com/cufee/botto-link/database"
	"github.com/cufee/botto-link/roblox"
)

// Plan - The set of role changes that brings a member in line with the bindings
type Plan struct {
	Add    []string
	Remove []string
}

// Empty - Check whether the plan changes nothing
func (p Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Remove) == 0
}

// BuildPlan - Compute role changes for a member holding held roles and the given Roblox group roles.
//
// Roles bound to any rank the member holds are desired. Desired roles the member lacks are added.
// Bound roles the member holds but no longer qualifies for are removed. A role bound to both an old
// and a current rank is desired, so it is never removed and re-added.
func BuildPlan(held []string, memberships []roblox.GroupRole, bindings []db.Binding) Plan {
	rankRoles := make(map[int64][]string)
	bound := make(map[string]bool)
	for _, b := range bindings {
		rankRoles[b.RankID] = append(rankRoles[b.RankID], b.RoleIDs...)
		for _, r := range b.RoleIDs {
			bound[r] = true
		}
	}

	desired := make(map[string]bool)
	for _, m := range memberships {
		for _, r := range rankRoles[m.RoleID] {
			desired[r] = true
		}
	}

	has := make(map[string]bool, len(held))
	for _, r := range held {
		has[r] = true
	}

	var plan Plan
	for r := range desired {
		if !has[r] {
			plan.Add = append(plan.Add, r)
		}
	}
	for r := range has {
		if bound[r] && !desired[r] {
			plan.Remove = append(plan.Remove, r)
		}
	}
	sort.Strings(plan.Add)
	sort.Strings(plan.Remove)
	return plan
}

// Keep - Make sure the plan leaves a member holding held roles with roleID, an empty id changes nothing
func (p Plan) Keep(held []string, roleID string) Plan {
	if roleID == "" {
		return p
	}
	var remove []string
	for _, r := range p.Remove {
		if r != roleID {
			remove = append(remove, r)
		}
	}
	p.Remove = remove
	if !contains(held, roleID) && !contains(p.Add, roleID) {
		p.Add = append(append([]string(nil), p.Add...), roleID)
		sort.Strings(p.Add)
	}
	return p
}
