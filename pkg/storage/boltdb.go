package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/dfms/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSessions  = []byte("sessions")
	bucketGraphSpec = []byte("graphspecs")
)

// BoltStore persists Node Manager session/graph-spec metadata with
// go.etcd.io/bbolt, an embedded B+tree store. Graph specs for a session
// are stored under a nested
// bucket keyed by sequential append order, since a session accumulates
// specs via repeated AddGraphSpec calls (spec §4.5).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the bbolt database under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "dfms.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketSessions, err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketGraphSpec); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketGraphSpec, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) CreateSession(sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSessions).Put([]byte(sessionID), []byte("1")); err != nil {
			return err
		}
		_, err := tx.Bucket(bucketGraphSpec).CreateBucketIfNotExists([]byte(sessionID))
		return err
	})
}

func (s *BoltStore) DeleteSession(sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSessions).Delete([]byte(sessionID)); err != nil {
			return err
		}
		if tx.Bucket(bucketGraphSpec).Bucket([]byte(sessionID)) == nil {
			return nil
		}
		return tx.Bucket(bucketGraphSpec).DeleteBucket([]byte(sessionID))
	})
}

func (s *BoltStore) ListSessions() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *BoltStore) AddGraphSpec(sessionID string, spec types.GraphSpec) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		if sessions.Get([]byte(sessionID)) == nil {
			return fmt.Errorf("add graph spec: session not found: %s", sessionID)
		}
		b, err := tx.Bucket(bucketGraphSpec).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

func (s *BoltStore) GraphSpecs(sessionID string) ([]types.GraphSpec, error) {
	var specs []types.GraphSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketGraphSpec)
		b := parent.Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var spec types.GraphSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			specs = append(specs, spec)
			return nil
		})
	})
	return specs, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
