package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// stateBucket stores application state (discovery flags, identifiers)
	stateBucket = "_state"

	// snapshotBucket stores the refresh history, keyed by sequence number
	snapshotBucket = "_snapshots"
)

// BoltStorage is a bbolt implementation of the Storage interface
type BoltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage creates a new BoltStorage instance
// The database file will be created if it doesn't exist
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	// Create the main buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(stateBucket)); err != nil {
			return fmt.Errorf("failed to create state bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket)); err != nil {
			return fmt.Errorf("failed to create snapshot bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// App State Methods

// Get retrieves state data by key
func (s *BoltStorage) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if bucket == nil {
			return fmt.Errorf("state bucket not found")
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		// Copy: bolt memory is only valid inside the transaction
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})

	return value, err
}

// GetString retrieves string state by key
func (s *BoltStorage) GetString(key string) (string, error) {
	data, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetBool retrieves bool state by key
func (s *BoltStorage) GetBool(key string) (bool, error) {
	data, err := s.Get(key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(string(data))
}

// GetJSON retrieves and unmarshals JSON state by key
func (s *BoltStorage) GetJSON(key string, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Set stores state data by key
func (s *BoltStorage) Set(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if bucket == nil {
			return fmt.Errorf("state bucket not found")
		}
		return bucket.Put([]byte(key), value)
	})
}

// SetString stores string state by key
func (s *BoltStorage) SetString(key, value string) error {
	return s.Set(key, []byte(value))
}

// SetBool stores bool state by key
func (s *BoltStorage) SetBool(key string, value bool) error {
	return s.Set(key, []byte(strconv.FormatBool(value)))
}

// SetJSON marshals and stores JSON state by key
func (s *BoltStorage) SetJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal state value: %w", err)
	}
	return s.Set(key, data)
}

// Delete removes state data by key
func (s *BoltStorage) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(stateBucket))
		if bucket == nil {
			return fmt.Errorf("state bucket not found")
		}
		return bucket.Delete([]byte(key))
	})
}

// Snapshot Archive Methods

// AppendSnapshot archives one refresh result
func (s *BoltStorage) AppendSnapshot(record SnapshotRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		return bucket.Put(sequenceKey(seq), data)
	})
}

// RecentSnapshots returns up to limit archived snapshots, oldest first
func (s *BoltStorage) RecentSnapshots(limit int) ([]SnapshotRecord, error) {
	var records []SnapshotRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket not found")
		}

		cursor := bucket.Cursor()
		// Walk backwards to find the newest limit entries, then reverse
		for k, v := cursor.Last(); k != nil && (limit <= 0 || len(records) < limit); k, v = cursor.Prev() {
			var record SnapshotRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal snapshot record: %w", err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse to oldest-first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// TrimSnapshots keeps only the newest maxRecords snapshots
func (s *BoltStorage) TrimSnapshots(maxRecords int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket not found")
		}

		total := bucket.Stats().KeyN
		excess := total - maxRecords
		if excess <= 0 {
			return nil
		}

		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && excess > 0; k, _ = cursor.Next() {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

// Close closes the storage
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// sequenceKey renders a bolt sequence number as a sortable 8-byte key.
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
