package database

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

func bindingKey(groupID, rankID int64) []byte {
	return []byte(fmt.Sprintf("%d:%d", groupID, rankID))
}

// Bindings - Get all bindings of a guild
func (db *DB) Bindings(gid string) ([]Binding, error) {
	return db.filterBindings(gid, func(Binding) bool { return true })
}

// BindingsByRoles - Get guild bindings granting at least one of the roles
func (db *DB) BindingsByRoles(gid string, roleIDs []string) ([]Binding, error) {
	return db.filterBindings(gid, func(b Binding) bool { return b.HasAnyRole(roleIDs) })
}

// GroupBindings - Get guild bindings for a single Roblox group
func (db *DB) GroupBindings(gid string, groupID int64) ([]Binding, error) {
	return db.filterBindings(gid, func(b Binding) bool { return b.GroupID == groupID })
}

func (db *DB) filterBindings(gid string, keep func(Binding) bool) (bindings []Binding, err error) {
	err = db.bolt.View(func(tx *bolt.Tx) error {
		guild := tx.Bucket([]byte(bindingsBucket)).Bucket([]byte(gid))
		if guild == nil {
			return nil
		}
		return guild.ForEach(func(_, v []byte) error {
			var b Binding
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if keep(b) {
				bindings = append(bindings, b)
			}
			return nil
		})
	})
	return bindings, err
}

// AddBinding - Bind roles to a group rank, merging with the roles already bound
func (db *DB) AddBinding(gid string, groupID, rankID int64, roleIDs []string) (binding Binding, err error) {
	if len(roleIDs) == 0 {
		return binding, ErrEmptyBinding
	}
	err = db.bolt.Update(func(tx *bolt.Tx) error {
		guild, err := tx.Bucket([]byte(bindingsBucket)).CreateBucketIfNotExists([]byte(gid))
		if err != nil {
			return err
		}

		binding = Binding{GuildID: gid, GroupID: groupID, RankID: rankID}
		if v := guild.Get(bindingKey(groupID, rankID)); v != nil {
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
		}
		for _, r := range roleIDs {
			if !sliceContains(binding.RoleIDs, r) {
				binding.RoleIDs = append(binding.RoleIDs, r)
			}
		}
		return putJSON(guild, string(bindingKey(groupID, rankID)), binding)
	})
	return binding, err
}

// RemoveBindingRoles - Pull roles from all bindings of a group, emptied bindings are deleted
func (db *DB) RemoveBindingRoles(gid string, groupID int64, roleIDs []string) (int, error) {
	return db.pullRoles(gid, roleIDs, func(b Binding) bool { return b.GroupID == groupID })
}

// PruneRole - Pull a deleted Discord role from every binding of a guild
func (db *DB) PruneRole(gid string, roleID string) (int, error) {
	return db.pullRoles(gid, []string{roleID}, func(Binding) bool { return true })
}

// RemoveGroupBindings - Delete all bindings of a group
func (db *DB) RemoveGroupBindings(gid string, groupID int64) (int, error) {
	var removed int
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		guild := tx.Bucket([]byte(bindingsBucket)).Bucket([]byte(gid))
		if guild == nil {
			return nil
		}
		var keys [][]byte
		err := guild.ForEach(func(k, v []byte) error {
			var b Binding
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.GroupID == groupID {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Deleting while iterating with ForEach is not allowed
		for _, k := range keys {
			if err := guild.Delete(k); err != nil {
				return err
			}
		}
		removed = len(keys)
		return nil
	})
	return removed, err
}

// pullRoles returns the number of bindings that changed
func (db *DB) pullRoles(gid string, roleIDs []string, match func(Binding) bool) (int, error) {
	var changed int
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		guild := tx.Bucket([]byte(bindingsBucket)).Bucket([]byte(gid))
		if guild == nil {
			return nil
		}

		var updated []Binding
		err := guild.ForEach(func(_, v []byte) error {
			var b Binding
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if !match(b) || !b.HasAnyRole(roleIDs) {
				return nil
			}
			kept := b.RoleIDs[:0]
			for _, r := range b.RoleIDs {
				if !sliceContains(roleIDs, r) {
					kept = append(kept, r)
				}
			}
			b.RoleIDs = kept
			updated = append(updated, b)
			return nil
		})
		if err != nil {
			return err
		}

		for _, b := range updated {
			key := bindingKey(b.GroupID, b.RankID)
			if len(b.RoleIDs) == 0 {
				if err := guild.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err := putJSON(guild, string(key), b); err != nil {
				return err
			}
		}
		changed = len(updated)
		return nil
	})
	return changed, err
}
