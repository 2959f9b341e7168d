package storage

import (
	"errors"
	"fmt"
	"time"

	"conserv/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketSession = []byte("session")
	keyAuthToken  = []byte("auth_token")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveToken replaces the stored credential.
func (s *BboltStorage) SaveToken(userID, token string) error {
	return s.put(&DBToken{
		UserID:  userID,
		Token:   token,
		SavedAt: s.now().Unix(),
	})
}

// LoadToken returns models.ErrNotFound when no credential is stored.
func (s *BboltStorage) LoadToken() (DBToken, error) {
	var t DBToken
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSession).Get(keyAuthToken)
		if data == nil {
			return models.ErrNotFound
		}
		return t.UnmarshalBinary(data)
	})
	return t, err
}

// Token returns the stored token or an empty string when there is none.
func (s *BboltStorage) Token() (string, error) {
	t, err := s.LoadToken()
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return t.Token, nil
}

func (s *BboltStorage) DeleteToken() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Delete(keyAuthToken)
	})
}

func (s *BboltStorage) put(item Storeable) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := item.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", item.Key(), err)
		}
		return tx.Bucket(bucketSession).Put(item.Key(), data)
	})
}
