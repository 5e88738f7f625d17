// Package store records inbound link events in a BoltDB file, one bucket per link.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"ShapeBot/internal/model"
	"ShapeBot/internal/parser"
)

// ErrNoEvents is returned when a link has no recorded events.
var ErrNoEvents = errors.New("no events recorded")

// EventStore appends events under monotonically increasing keys.
type EventStore struct {
	db *bbolt.DB
}

// Open opens or creates the database at path, creating its directory.
func Open(path string) (*EventStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("[store] failed to create %s: %w", dir, err)
		}
	}
	db, err := bbolt.Open(path, 0o666, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("[store] failed to open BoltDB: %w", err)
	}
	return &EventStore{db: db}, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends ev to its link's bucket.
func (s *EventStore) Record(ev model.InboundEvent) error {
	if ev.Link == "" {
		return errors.New("[store] event without link name")
	}
	value, err := parser.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ev.Link))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), value)
	})
}

// Latest returns the most recent event of link.
func (s *EventStore) Latest(link string) (model.InboundEvent, error) {
	var ev model.InboundEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(link))
		if b == nil {
			return ErrNoEvents
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return ErrNoEvents
		}
		var derr error
		ev, derr = parser.DecodeEvent(v)
		return derr
	})
	return ev, err
}

// Recent returns up to n of the newest events of link, oldest first.
func (s *EventStore) Recent(link string, n int) ([]model.InboundEvent, error) {
	var out []model.InboundEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(link))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			ev, err := parser.DecodeEvent(v)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

// Count returns the number of events recorded for link.
func (s *EventStore) Count(link string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(link)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
