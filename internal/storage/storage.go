package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("key not found")

// SnapshotRecord is one archived refresh result.
type SnapshotRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Snapshot  []byte    `json:"snapshot"` // PoolSnapshot JSON
}

// Storage is the interface for persisted application state and the snapshot
// archive.
type Storage interface {
	// App State Methods

	// Get retrieves state data by key.
	// Returns ErrNotFound if the key doesn't exist
	Get(key string) ([]byte, error)

	// GetString retrieves string state by key
	GetString(key string) (string, error)

	// GetBool retrieves bool state by key
	GetBool(key string) (bool, error)

	// GetJSON retrieves and unmarshals JSON state by key
	GetJSON(key string, v interface{}) error

	// Set stores state data by key
	Set(key string, value []byte) error

	// SetString stores string state by key
	SetString(key, value string) error

	// SetBool stores bool state by key
	SetBool(key string, value bool) error

	// SetJSON marshals and stores JSON state by key
	SetJSON(key string, v interface{}) error

	// Delete removes state data by key
	Delete(key string) error

	// Snapshot Archive Methods

	// AppendSnapshot archives one refresh result
	AppendSnapshot(record SnapshotRecord) error

	// RecentSnapshots returns up to limit archived snapshots,
	// ordered from oldest to newest
	RecentSnapshots(limit int) ([]SnapshotRecord, error)

	// TrimSnapshots keeps only the newest maxRecords snapshots
	TrimSnapshots(maxRecords int) error

	// Lifecycle Methods

	// Close closes the storage
	Close() error
}
