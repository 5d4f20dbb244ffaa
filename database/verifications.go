package database

import (
	"encoding/json"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

// FindVerification - Get the account link of a user
func (db *DB) FindVerification(uid string) (v Verification, err error) {
	err = db.bolt.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(verificationsBucket)).Get([]byte(uid))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &v)
	})
	return v, err
}

// FindVerificationByAccount - Get the account link of a Roblox account
func (db *DB) FindVerificationByAccount(accountID int64) (v Verification, err error) {
	err = db.bolt.View(func(tx *bolt.Tx) error {
		uid := tx.Bucket([]byte(accountsBucket)).Get([]byte(strconv.FormatInt(accountID, 10)))
		if uid == nil {
			return ErrNotFound
		}
		data := tx.Bucket([]byte(verificationsBucket)).Get(uid)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &v)
	})
	return v, err
}

// InsertVerification - Link a user to an account, both sides must be free
func (db *DB) InsertVerification(v Verification) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket([]byte(verificationsBucket))
		accounts := tx.Bucket([]byte(accountsBucket))
		accountKey := []byte(strconv.FormatInt(v.AccountID, 10))

		if users.Get([]byte(v.UserID)) != nil {
			return ErrUserLinked
		}
		if owner := accounts.Get(accountKey); owner != nil && string(owner) != v.UserID {
			return ErrAccountLinked
		}

		if err := accounts.Put(accountKey, []byte(v.UserID)); err != nil {
			return err
		}
		return putJSON(users, v.UserID, v)
	})
}

// UpdateVerification - Update the stored username of an existing link
func (db *DB) UpdateVerification(v Verification) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket([]byte(verificationsBucket))
		data := users.Get([]byte(v.UserID))
		if data == nil {
			return ErrNotFound
		}

		var current Verification
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		// Account id is fixed for the lifetime of a link
		current.Username = v.Username
		return putJSON(users, current.UserID, current)
	})
}

// DeleteVerification - Remove the link of a user, deleting a missing link is not an error
func (db *DB) DeleteVerification(uid string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket([]byte(verificationsBucket))
		data := users.Get([]byte(uid))
		if data == nil {
			return nil
		}

		var v Verification
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		accountKey := []byte(strconv.FormatInt(v.AccountID, 10))
		if owner := tx.Bucket([]byte(accountsBucket)).Get(accountKey); string(owner) == uid {
			if err := tx.Bucket([]byte(accountsBucket)).Delete(accountKey); err != nil {
				return err
			}
		}
		return users.Delete([]byte(uid))
	})
}
