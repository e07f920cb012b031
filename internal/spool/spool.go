// Package spool persists accepted messages in a bbolt database with one
// bucket per named store.
package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/shineum/inbound-mta/internal/message"
)

// Named stores.
const (
	DataStore = "data"
	MetaStore = "meta"
)

// ErrUnknownStore is returned by Store for names other than DataStore and MetaStore.
var ErrUnknownStore = errors.New("unknown spool store")

// Spool is the durable message store shared by all connections.
type Spool struct {
	db      *bolt.DB
	started atomic.Bool
}

// Open opens or creates the spool database at path.
func Open(path string) (*Spool, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open spool database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{DataStore, MetaStore} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Spool{db: db}, nil
}

// Close closes the database.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Store returns the named store.
func (s *Spool) Store(name string) (message.Store, error) {
	st, err := s.store(name)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Spool) store(name string) (*Store, error) {
	if name != DataStore && name != MetaStore {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	return &Store{db: s.db, bucket: []byte(name)}, nil
}

// Started reports whether startup enumeration has finished. Until then the
// SMTP server refuses sessions.
func (s *Spool) Started() bool {
	return s.started.Load()
}

// Start enumerates every spooled message and passes it to recovered, then
// marks the spool started. Records that cannot be loaded are logged and left
// in place.
func (s *Spool) Start(ctx context.Context, recovered func(*message.Message) error) error {
	type entry struct {
		id         string
		meta, body []byte
	}
	var entries []entry

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(DataStore))
		return tx.Bucket([]byte(MetaStore)).ForEach(func(k, v []byte) error {
			// Values are only valid for the life of the transaction.
			e := entry{id: string(k), meta: append([]byte(nil), v...)}
			if body := data.Get(k); body != nil {
				e.body = append([]byte(nil), body...)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to enumerate spool: %w", err)
	}

	var count int
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.body == nil {
			slog.Warn("spooled message has no body, skipping", "id", e.id)
			continue
		}
		msg, err := message.Load(e.id, e.meta, e.body)
		if err != nil {
			slog.Warn("failed to load spooled message, skipping", "id", e.id, "error", err)
			continue
		}
		if err := recovered(msg); err != nil {
			return fmt.Errorf("failed to recover message %s: %w", e.id, err)
		}
		count++
	}

	s.started.Store(true)
	slog.Info("spool started", "recovered", count)
	return nil
}

// Remove deletes a message's metadata and body.
func (s *Spool) Remove(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{MetaStore, DataStore} {
			if err := tx.Bucket([]byte(name)).Delete([]byte(id)); err != nil {
				return fmt.Errorf("failed to remove %s from %s: %w", id, name, err)
			}
		}
		return nil
	})
}

// Store is one named bucket of the spool.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Put writes value under key.
func (st *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(st.bucket).Put([]byte(key), value)
	})
}

// Get returns a copy of the value stored under key, or nil if absent.
func (st *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := st.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(st.bucket).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}
