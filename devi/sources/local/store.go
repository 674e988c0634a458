// Package local is the on-device key/value store: the persisted user id and the chat
// history shown when the chat opens.
package local

import (
	"context"
	"devi/devi/dispatch"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	UserIDKey  = "devi:user:id"
	HistoryKey = "devi:chat:messages"
)

type Store struct {
	db *badger.DB
	mu sync.Mutex // serializes get-or-create of the user id
}

func Open(path string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open local store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UserID returns the stored user id, generating and persisting one on first use.
func (s *Store) UserID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.get(ctx, UserIDKey)
	if err == nil {
		return string(id), nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return "", err
	}
	newID := uuid.NewString()
	if err := s.set(ctx, UserIDKey, []byte(newID)); err != nil {
		return "", err
	}
	return newID, nil
}

func (s *Store) Load(ctx context.Context) ([]dispatch.Message, error) {
	raw, err := s.get(ctx, HistoryKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []dispatch.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", HistoryKey, err)
	}
	return msgs, nil
}

func (s *Store) Save(ctx context.Context, msgs []dispatch.Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return s.set(ctx, HistoryKey, raw)
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(HistoryKey))
	})
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

func (s *Store) set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}
