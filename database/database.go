package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound - Record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrUserLinked - Discord user already has a linked account
	ErrUserLinked = errors.New("user is already linked")
	// ErrAccountLinked - Roblox account is linked to a different Discord user
	ErrAccountLinked = errors.New("account is linked to another user")
	// ErrEmptyBinding - Binding without roles
	ErrEmptyBinding = errors.New("binding needs at least one role")
)

const (
	guildsBucket        = "guilds"
	verificationsBucket = "verifications"
	accountsBucket      = "accounts"
	bindingsBucket      = "bindings"
)

// DB - Bolt db connection
type DB struct {
	bolt *bolt.DB
}

// Open - Open the db file, creating it and all buckets if needed
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	b, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = b.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{guildsBucket, verificationsBucket, accountsBucket, bindingsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &DB{bolt: b}, nil
}

// Close - Close DB connection
func (db *DB) Close() error {
	return db.bolt.Close()
}

// GetGuildSettings - Get settings struct for a guild, a guild without a record gets empty settings
func (db *DB) GetGuildSettings(gid string) (gs GuildSettings, err error) {
	err = db.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(guildsBucket)).Get([]byte(gid))
		if v == nil {
			gs.ID = gid
			return nil
		}
		return json.Unmarshal(v, &gs)
	})
	return gs, err
}

// UpdateGuildSettings - Update guild setting in DB
func (db *DB) UpdateGuildSettings(gs GuildSettings) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket([]byte(guildsBucket)), gs.ID, gs)
	})
}

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	bts, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), bts)
}

func sliceContains(slice []string, val string) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}
	return false
}
