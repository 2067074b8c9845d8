package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hearth-sh/hearth/pkg/errdefs"
)

const dbFileName = "hearth.db"

// record is the on-disk envelope around every kv value.
type record struct {
	Schema    int        `json:"schema"`
	Version   uint64     `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Value     []byte     `json:"value"`
}

// logRecord is the on-disk envelope around every append-only log entry.
type logRecord struct {
	Schema     int       `json:"schema"`
	AppendedAt time.Time `json:"appended_at"`
	Record     []byte    `json:"record"`
}

const schemaVersion = 1

// BoltStore implements Store using bbolt. Each namespace gets a kv bucket
// ("kv:<ns>") and a log bucket ("log:<ns>"), created on first use.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, dbFileName)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, fmt.Errorf("failed to open database: %w", err))
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func kvBucket(ns string) []byte  { return []byte("kv:" + ns) }
func logBucket(ns string) []byte { return []byte("log:" + ns) }
func seqBucket() []byte          { return []byte("seq") }

func (s *BoltStore) Put(namespace, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kvBucket(namespace))
		if err != nil {
			return err
		}
		rec := record{Schema: schemaVersion, Version: 1, CreatedAt: now, Value: value}
		if prev := b.Get([]byte(key)); prev != nil {
			var old record
			if err := json.Unmarshal(prev, &old); err == nil {
				rec.Version = old.Version + 1
			}
		}
		if ttl > 0 {
			exp := now.Add(ttl)
			rec.ExpiresAt = &exp
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	return errdefs.Wrap(errdefs.KindStorage, err)
}

func (s *BoltStore) Get(namespace, key string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket(namespace))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("corrupt record %s/%s: %w", namespace, key, err)
		}
		if expired(&rec, time.Now()) {
			return nil
		}
		entry = entryFromRecord(&rec)
		return nil
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err)
	}
	return entry, nil
}

func (s *BoltStore) Delete(namespace, key string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket(namespace))
		if b == nil {
			return nil
		}
		if b.Get([]byte(key)) != nil {
			existed = true
		}
		return b.Delete([]byte(key))
	})
	return existed, errdefs.Wrap(errdefs.KindStorage, err)
}

func (s *BoltStore) Scan(namespace, prefix string, fn func(key string, e *Entry) error) error {
	now := time.Now()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s/%s: %w", namespace, k, err)
			}
			if expired(&rec, now) {
				continue
			}
			if err := fn(string(k), entryFromRecord(&rec)); err != nil {
				return err
			}
		}
		return nil
	})
	return errdefs.Wrap(errdefs.KindStorage, err)
}

func (s *BoltStore) CAS(namespace, key string, expected uint64, value []byte) error {
	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kvBucket(namespace))
		if err != nil {
			return err
		}
		var current uint64
		if prev := b.Get([]byte(key)); prev != nil {
			var old record
			if err := json.Unmarshal(prev, &old); err != nil {
				return fmt.Errorf("corrupt record %s/%s: %w", namespace, key, err)
			}
			current = old.Version
		}
		if current != expected {
			return errdefs.New(errdefs.KindConflict,
				"version mismatch on %s/%s: have %d, expected %d", namespace, key, current, expected)
		}
		rec := record{Schema: schemaVersion, Version: current + 1, CreatedAt: now, Value: value}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if errdefs.IsConflict(err) {
		return err
	}
	return errdefs.Wrap(errdefs.KindStorage, err)
}

func (s *BoltStore) Append(namespace string, rec []byte) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(logBucket(namespace))
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		entry := logRecord{Schema: schemaVersion, AppendedAt: time.Now(), Record: rec}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	return seq, errdefs.Wrap(errdefs.KindStorage, err)
}

func (s *BoltStore) ReadLog(namespace string, fn func(seq uint64, record []byte) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry logRecord
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt log record %s/%x: %w", namespace, k, err)
			}
			if err := fn(binary.BigEndian.Uint64(k), entry.Record); err != nil {
				return err
			}
		}
		return nil
	})
	return errdefs.Wrap(errdefs.KindStorage, err)
}

func (s *BoltStore) TrimLog(namespace string, before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry logRecord
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if entry.AppendedAt.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, errdefs.Wrap(errdefs.KindStorage, err)
}

func (s *BoltStore) NextSeq(namespace string) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(seqBucket())
		if err != nil {
			return err
		}
		inner, err := b.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		seq, err = inner.NextSequence()
		return err
	})
	return seq, errdefs.Wrap(errdefs.KindStorage, err)
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func expired(rec *record, now time.Time) bool {
	return rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt)
}

func entryFromRecord(rec *record) *Entry {
	value := make([]byte, len(rec.Value))
	copy(value, rec.Value)
	return &Entry{
		Value:     value,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}
