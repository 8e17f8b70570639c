// Package coordinator drives the portal poll loop and fans refreshed
// snapshots out to the MQTT bridge and WebSocket subscribers.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"poolview/internal/events"
	"poolview/internal/indygo"
	"poolview/internal/storage"
)

// snapshotHistoryLimit keeps about a day of history at the default
// five-minute poll interval
const snapshotHistoryLimit = 288

// SnapshotSink receives every successful refresh result
type SnapshotSink interface {
	PublishSnapshot(snap *indygo.PoolSnapshot)
}

// Coordinator owns the periodic refresh cycle
type Coordinator struct {
	client   *indygo.Client
	sink     SnapshotSink
	store    storage.Storage
	events   *events.Store
	logger   *log.Logger
	interval time.Duration

	mu          sync.RWMutex
	snapshot    *indygo.PoolSnapshot
	lastRefresh time.Time
	lastErr     error

	// Serializes manual refreshes with the poll loop
	refreshMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[chan *indygo.PoolSnapshot]struct{}
}

// New creates a Coordinator. sink may be nil when MQTT is disabled.
func New(client *indygo.Client, sink SnapshotSink, store storage.Storage, eventStore *events.Store, interval time.Duration, logger *log.Logger) *Coordinator {
	return &Coordinator{
		client:      client,
		sink:        sink,
		store:       store,
		events:      eventStore,
		logger:      logger,
		interval:    interval,
		subscribers: make(map[chan *indygo.PoolSnapshot]struct{}),
	}
}

// Run polls the portal until ctx is cancelled. The first refresh happens
// immediately so the API has data as soon as possible.
func (c *Coordinator) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Printf("[Coordinator] Initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Printf("[Coordinator] Refresh failed: %v", err)
			}
		}
	}
}

// Refresh performs one portal refresh cycle
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	snap, err := c.client.Refresh(ctx)
	if err != nil {
		c.recordFailure(err)
		return err
	}

	c.mu.Lock()
	c.snapshot = snap
	c.lastRefresh = time.Now()
	c.lastErr = nil
	c.mu.Unlock()

	c.events.Add(events.EventRefresh, "", "", true,
		fmt.Sprintf("%d sensors, %d modules", len(snap.Sensors), len(snap.Modules)))

	c.archiveSnapshot(snap)

	if c.sink != nil {
		c.sink.PublishSnapshot(snap)
	}

	c.notifySubscribers(snap)
	return nil
}

// recordFailure classifies a refresh error and keeps the stale snapshot
func (c *Coordinator) recordFailure(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	var authErr *indygo.AuthenticationError
	if errors.As(err, &authErr) {
		c.events.Add(events.EventPortalAuth, "", "", false, authErr.Reason)
		return
	}
	c.events.Add(events.EventRefreshFailed, "", "", false, err.Error())
}

// archiveSnapshot appends the snapshot to the bolt history, best effort
func (c *Coordinator) archiveSnapshot(snap *indygo.PoolSnapshot) {
	if c.store == nil {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Printf("[Coordinator] Failed to marshal snapshot for archive: %v", err)
		return
	}

	record := storage.SnapshotRecord{Timestamp: time.Now(), Snapshot: data}
	if err := c.store.AppendSnapshot(record); err != nil {
		c.logger.Printf("[Coordinator] Failed to archive snapshot: %v", err)
		return
	}
	if err := c.store.TrimSnapshots(snapshotHistoryLimit); err != nil {
		c.logger.Printf("[Coordinator] Failed to trim snapshot history: %v", err)
	}
}

// Snapshot returns the latest snapshot with its age and the last error
func (c *Coordinator) Snapshot() (*indygo.PoolSnapshot, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.lastRefresh, c.lastErr
}

// SetFiltrationMode applies a mode change through the portal write path,
// using the filtration program captured by the last refresh, then refreshes
// so callers observe the new state.
func (c *Coordinator) SetFiltrationMode(ctx context.Context, moduleID string, mode int) error {
	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()

	if snap == nil {
		return fmt.Errorf("no snapshot available yet")
	}

	module, ok := snap.Modules[moduleID]
	if !ok {
		return &indygo.ValidationError{Reason: fmt.Sprintf("unknown module %q", moduleID)}
	}
	if module.FiltrationProgram == nil {
		return &indygo.ValidationError{Reason: fmt.Sprintf("module %q has no filtration program", moduleID)}
	}

	if err := c.client.SetFiltrationMode(ctx, moduleID, module.FiltrationProgram, mode); err != nil {
		c.events.Add(events.EventFiltrationMode, "", "", false,
			fmt.Sprintf("module %s mode %d: %v", moduleID, mode, err))
		return err
	}

	c.events.Add(events.EventFiltrationMode, "", "", true,
		fmt.Sprintf("module %s mode %d", moduleID, mode))

	if err := c.Refresh(ctx); err != nil {
		// The write itself succeeded, surface the refresh problem in logs only
		c.logger.Printf("[Coordinator] Post-command refresh failed: %v", err)
	}
	return nil
}

// Subscribe registers a channel receiving future snapshots.
// Slow subscribers are skipped rather than blocking the poll loop.
func (c *Coordinator) Subscribe() chan *indygo.PoolSnapshot {
	ch := make(chan *indygo.PoolSnapshot, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel
func (c *Coordinator) Unsubscribe(ch chan *indygo.PoolSnapshot) {
	c.subMu.Lock()
	delete(c.subscribers, ch)
	c.subMu.Unlock()
	close(ch)
}

func (c *Coordinator) notifySubscribers(snap *indygo.PoolSnapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}
