// Package diag keeps raw upstream payloads that could not be parsed, so a
// schema change can be diagnosed after the fact.
package diag

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/segmentio/ksuid"
	bolt "go.etcd.io/bbolt"
)

// DefaultMaxAge is how long payloads are kept when no retention is set.
const DefaultMaxAge = 7 * 24 * time.Hour

var payloadBucket = []byte("payloads")

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("diag: payload not found")

// Record is one archived payload.
type Record struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	CreatedAt time.Time `json:"createdAt"`
	Payload   []byte    `json:"payload"`
}

// Archive stores payloads in a bbolt database keyed by ksuid, so keys sort
// by creation time.
type Archive struct {
	db     *bolt.DB
	maxAge time.Duration
	now    func() time.Time
}

// DefaultPath returns the archive location under the XDG state directory.
func DefaultPath() (string, error) {
	path, err := xdg.StateFile("corelink/payloads.db")
	if err != nil {
		return "", fmt.Errorf("resolving archive path: %w", err)
	}
	return path, nil
}

// Open opens (or creates) the archive at path. An empty path selects
// DefaultPath. Payloads older than maxAge are pruned on open; zero selects
// DefaultMaxAge.
func Open(path string, maxAge time.Duration) (*Archive, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(payloadBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	a := &Archive{db: db, maxAge: maxAge, now: time.Now}
	if n, err := a.Prune(); err != nil {
		slog.Warn("pruning payload archive failed", "error", err)
	} else if n > 0 {
		slog.Debug("pruned payload archive", "removed", n)
	}
	return a, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Store saves payload and returns its id.
func (a *Archive) Store(op string, payload []byte) (string, error) {
	now := a.now()
	id, err := ksuid.NewRandomWithTime(now)
	if err != nil {
		return "", err
	}
	value, err := json.Marshal(Record{ID: id.String(), Op: op, CreatedAt: now, Payload: payload})
	if err != nil {
		return "", err
	}
	err = a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(payloadBucket).Put([]byte(id.String()), value)
	})
	if err != nil {
		return "", fmt.Errorf("storing payload: %w", err)
	}
	return id.String(), nil
}

// Get returns the payload stored under id.
func (a *Archive) Get(id string) (*Record, error) {
	var rec *Record
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(payloadBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		rec = new(Record)
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns up to limit records, newest first, without payloads.
func (a *Archive) List(limit int) ([]Record, error) {
	records := []Record{}
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(payloadBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding record %s: %w", k, err)
			}
			rec.Payload = nil
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Prune removes payloads older than the retention and reports how many
// were removed.
func (a *Archive) Prune() (int, error) {
	cutoff, err := ksuid.NewRandomWithTime(a.now().Add(-a.maxAge))
	if err != nil {
		return 0, err
	}
	removed := 0
	err = a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(payloadBucket)
		// deleting through the cursor while iterating skips keys
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			id, err := ksuid.Parse(string(k))
			if err == nil && !id.Time().Before(cutoff.Time()) {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
