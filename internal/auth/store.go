package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "credentials"

var credentialKey = []byte("player")

// SecureStore is the source of truth for the credential.
type SecureStore interface {
	// Load returns nil, nil when nothing is stored.
	Load() (*Credential, error)
	Save(Credential) error
	Delete() error
}

// BoltStore keeps the credential in a bbolt file readable only by the owner.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	// bolt 只在创建时应用权限，已有文件也收紧一次
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to restrict credential store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create credential bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (*Credential, error) {
	var cred *Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get(credentialKey)
		if v == nil {
			return nil
		}
		cred = &Credential{}
		return json.Unmarshal(v, cred)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, nil
}

func (s *BoltStore) Save(c Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(credentialKey, data)
	})
}

func (s *BoltStore) Delete() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete(credentialKey)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
