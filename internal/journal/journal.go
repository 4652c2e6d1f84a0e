// Package journal keeps a bounded on-disk history of light events.
// It is write-only from the controller's point of view: nothing in it is
// read back into controller state.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"lifx-go-home/internal/events"
)

// DefaultMaxEntries is used when no limit is configured.
const DefaultMaxEntries = 10000

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal: closed")

var bucketEvents = []byte("events")

// Entry is one stored event.
type Entry struct {
	Seq    uint64         `json:"seq"`
	Type   string         `json:"type"`
	Device string         `json:"device,omitempty"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}

// Journal stores events in a BoltDB bucket keyed by sequence number.
type Journal struct {
	db         *bolt.DB
	maxEntries int
	logger     *slog.Logger

	mu    sync.Mutex
	count int // committed entries
}

// Open opens or creates the journal at path.
func Open(path string, maxEntries int, logger *slog.Logger) (*Journal, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	count := 0
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketEvents)
		if err != nil {
			return err
		}
		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Journal{
		db:         db,
		maxEntries: maxEntries,
		logger:     logger.With("component", "journal"),
		count:      count,
	}, nil
}

func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Append stores e and drops the oldest entries beyond the limit.
func (j *Journal) Append(e events.Event) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var seq uint64
	var count int
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEvents)
		}
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(Entry{Seq: seq, Type: e.Type, Device: e.Device, Time: e.Time, Data: e.Data})
		if err != nil {
			return err
		}
		if err := b.Put(key(seq), data); err != nil {
			return err
		}
		n, err := prune(b, j.count+1, j.maxEntries)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return 0, ErrClosed
	}
	if err != nil {
		return 0, err
	}
	j.count = count
	return seq, nil
}

// prune deletes the oldest keys until at most max of n remain and returns
// the new count.
func prune(b *bolt.Bucket, n, max int) (int, error) {
	excess := n - max
	if excess <= 0 {
		return n, nil
	}
	old := make([][]byte, 0, excess)
	c := b.Cursor()
	for k, _ := c.First(); k != nil && len(old) < excess; k, _ = c.Next() {
		old = append(old, append([]byte(nil), k...))
	}
	for _, k := range old {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return n - len(old), nil
}

// List returns up to limit entries, newest first. An empty typ matches all
// types; limit <= 0 means no limit.
func (j *Journal) List(limit int, typ string) ([]Entry, error) {
	out := []Entry{}
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if typ != "" && e.Type != typ {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Count returns the number of stored entries.
func (j *Journal) Count() (int, error) {
	n := 0
	err := j.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketEvents); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Attach records every event on bus. It returns the unsubscribe function.
func (j *Journal) Attach(bus *events.Bus) func() {
	return bus.OnAll(func(e events.Event) {
		// Poll readings arrive every few seconds; only keep the interesting ones.
		if e.Type == events.StatePolled {
			return
		}
		if _, err := j.Append(e); err != nil {
			j.logger.Warn("journal append failed", "type", e.Type, "err", err)
		}
	})
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
