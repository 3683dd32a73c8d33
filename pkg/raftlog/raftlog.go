// Package raftlog is the persisted {term, vote} write-ahead log the Raft
// engine (pkg/raft) appends to before granting a vote or bumping its
// term (spec §4.5: "persisted vs volatile term/vote"). It is adapted
// from the teacher's pkg/storage bbolt-backed store: same embedded KV
// engine, same bucket-per-entity-type layout, JSON-marshaled values,
// just narrowed to a single append-only record stream instead of the
// teacher's multi-entity cluster store.
package raftlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketRecords = []byte("raft_records")

// Record is one persisted term/vote transition (spec §4.5's
// "{term, vote} records").
type Record struct {
	Index uint64
	Term  uint64
	Vote  uint32 // types.PeerID, 0 = no vote cast
}

// Log is a bbolt-backed append-only log of Records, keyed by a
// monotonically increasing index.
type Log struct {
	db *bolt.DB
}

// Open opens (creating if absent) the WAL file under dataDir.
func Open(dataDir string) (*Log, error) {
	path := filepath.Join(dataDir, "raft.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("raftlog: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("raftlog: create bucket: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database file.
func (l *Log) Close() error { return l.db.Close() }

// Append persists a new {term, vote} record and returns the index it was
// written at.
func (l *Log) Append(term uint64, vote uint32) (uint64, error) {
	var index uint64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		index = seq
		rec := Record{Index: index, Term: term, Vote: vote}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(indexKey(index), data)
	})
	if err != nil {
		return 0, fmt.Errorf("raftlog: append: %w", err)
	}
	return index, nil
}

// Replay returns every persisted record in index order, for the engine
// to rebuild its volatile state on startup.
func (l *Log) Replay() ([]Record, error) {
	var out []Record
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		return b.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("raftlog: replay: %w", err)
	}
	return out, nil
}

// LastIndex returns the highest index written so far, or 0 if the log is
// empty.
func (l *Log) LastIndex() (uint64, error) {
	var last uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		c := b.Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		last = binary.BigEndian.Uint64(k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("raftlog: last index: %w", err)
	}
	return last, nil
}

func indexKey(index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return buf
}
