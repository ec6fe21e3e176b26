// Package audit is the Go-native analogue of the spec's "debug key dumps
// a listing" console feature (spec.md §6): rather than printing once to a
// console that does not exist in this simulation (console/disk are
// non-goals, spec.md §1), every snapshot request is persisted to a
// bbolt-backed ring so an operator can inspect process-table history
// across restarts, not just the current run.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/coursekernel/proclab/kernel/proc"
)

var bucketName = []byte("snapshots")

// ErrClosed is returned by any Store method after Close.
var ErrClosed = errors.New("audit: store is closed")

// Store is a small ring buffer of procinfo snapshots on top of bbolt: keys
// are zero-padded monotonic sequence numbers, so iteration is always in
// recording order and the oldest entries can be trimmed once the ring
// exceeds its configured capacity.
type Store struct {
	db     *bbolt.DB
	cap    int
	seq    uint64
	closed bool
}

// Open creates/opens a bbolt database at path with room for cap snapshots.
func Open(path string, capacity int) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, cap: capacity}
	s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		// The ring may already have trimmed its oldest keys, so KeyN (the
		// remaining record count) can undercount the highest seq ever
		// issued; reading the last key back is what actually keeps the
		// counter monotonic across a reopen.
		if k, _ := b.Cursor().Last(); k != nil {
			fmt.Sscanf(string(k), "%020d", &s.seq)
		}
		return nil
	})
	return s, nil
}

// Record is one persisted snapshot: the process-table dump plus the
// monotonic sequence number it was recorded under.
type Record struct {
	Seq   uint64          `json:"seq"`
	Procs []proc.Snapshot `json:"procs"`
}

// Append persists one snapshot, trimming the oldest entry if the store has
// grown past its configured capacity.
func (s *Store) Append(procs []proc.Snapshot) error {
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		s.seq++
		rec := Record{Seq: s.seq, Procs: procs}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(s.seq), data); err != nil {
			return err
		}
		if s.cap > 0 {
			for n := b.Stats().KeyN; n > s.cap; n-- {
				k, _ := b.Cursor().First()
				if k == nil {
					break
				}
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Recent returns up to n of the most recently recorded snapshots, oldest
// first.
func (s *Store) Recent(n int) ([]Record, error) {
	if s.closed {
		return nil, ErrClosed
	}
	var recs []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		all := make([]Record, 0, b.Stats().KeyN)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			all = append(all, rec)
		}
		if n > 0 && len(all) > n {
			all = all[len(all)-n:]
		}
		recs = all
		return nil
	})
	return recs, err
}

// Close releases the underlying bbolt database.
func (s *Store) Close() error {
	s.closed = true
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
