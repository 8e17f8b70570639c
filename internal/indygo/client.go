// Package indygo implements a client for the MyIndygo pool portal. The
// portal is a session-cookie web application with no documented API: device
// identifiers come from JavaScript object literals scraped out of
// server-rendered HTML, live values from an undocumented JSON endpoint, and
// configuration writes require a multi-request choreography. This package
// reconciles those sources into one immutable PoolSnapshot per refresh.
package indygo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
)

// Portal paths. All reverse-engineered; none of these are documented.
const (
	devicesPathFormat = "/pools/%s/devices"
	statusPathFormat  = "/module/poolData/%s/%s"

	moduleUpdatePath  = "/module/update"
	programUpdatePath = "/program/update"
	remoteSyncPath    = "/remote/module/configuration/and/programs"
	reportModulePath  = "/module/reportModuleDataSent"
	reportProgramPath = "/program/reportProgramsDataSent"
	remoteControlPath = "/remote/control"
	loraSyncPath      = "/remote/lora/sync"
)

// xhrHeaders mimic the portal's own frontend requests. Some deployments
// reject the status endpoint without them.
var xhrHeaders = map[string]string{
	"Accept":           "application/json, text/javascript, */*; q=0.01",
	"X-Requested-With": "XMLHttpRequest",
}

// Client fetches and writes pool state for one configured account. A Client
// is used by one top-level operation at a time (the host coordinator serial-
// izes refreshes and commands); the internal lock only guards the discovered
// identifiers and module cache against half-updated reads.
type Client struct {
	session *Session
	poolID  string
	opts    NormalizeOptions
	logger  *log.Logger

	mu      sync.RWMutex
	address string
	relayID string
	modules map[string]ModuleRecord
}

// NewClient wraps an authenticated session for one pool.
func NewClient(session *Session, poolID string, opts NormalizeOptions, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Client{
		session: session,
		poolID:  poolID,
		opts:    opts,
		logger:  logger,
	}
}

// Refresh performs one full fetch cycle: scrape the devices page, call the
// status endpoint with the discovered identifiers, merge the two sources and
// normalize. Discovery re-runs every cycle on purpose — some module sensor
// values only exist in the page's embedded JavaScript, so the HTML and the
// JSON endpoint are complementary rather than redundant.
func (c *Client) Refresh(ctx context.Context) (*PoolSnapshot, error) {
	html, err := c.session.Get(ctx, fmt.Sprintf(devicesPathFormat, c.poolID), nil)
	if err != nil {
		return nil, err
	}

	disc, err := Discover(string(html), c.logger)
	if err != nil {
		return nil, err
	}

	statusBody, err := c.session.Get(ctx, fmt.Sprintf(statusPathFormat, disc.Address, disc.RelayID), xhrHeaders)
	if err != nil {
		return nil, err
	}

	var status map[string]interface{}
	if err := json.Unmarshal(statusBody, &status); err != nil {
		return nil, &CommunicationError{
			Op:  "decode status response",
			Err: err,
		}
	}

	merged := mergeSources(status, disc)
	snap := Normalize(merged, c.poolID, disc.Address, disc.RelayID, c.opts)

	c.mu.Lock()
	c.address = snap.Address
	c.relayID = snap.RelayID
	c.modules = snap.Modules
	c.mu.Unlock()

	c.logger.Printf("[Client] Refreshed pool %s: %d sensors, %d modules",
		c.poolID, len(snap.Sensors), len(snap.Modules))

	return snap, nil
}

// mergeSources combines the JSON status payload with scraped page metadata.
// Status fields win on conflict; scraped pool metadata fills remaining keys,
// IPX metadata goes under its own namespace, and scraped program definitions
// back-fill modules the status endpoint returned without programs.
func mergeSources(status map[string]interface{}, disc *DiscoveryResult) map[string]interface{} {
	merged := make(map[string]interface{}, len(status)+len(disc.PoolMetadata)+1)
	for k, v := range status {
		merged[k] = v
	}
	for k, v := range disc.PoolMetadata {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	if disc.IPXMetadata != nil {
		merged["ipx_module"] = disc.IPXMetadata
	}

	if len(disc.ModulePrograms) > 0 {
		if modules, ok := merged["modules"].([]interface{}); ok {
			for _, item := range modules {
				mod, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if _, has := mod["programs"]; has {
					continue
				}
				if programs, ok := disc.ModulePrograms[stringID(mod["id"])]; ok {
					list := make([]interface{}, len(programs))
					for i, p := range programs {
						list[i] = p
					}
					mod["programs"] = list
				}
			}
		}
	}

	return merged
}

// identifiers returns the discovered address/relay pair from the last
// refresh.
func (c *Client) identifiers() (address, relayID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address, c.relayID
}

// moduleRecord returns the cached module record from the last refresh.
func (c *Client) moduleRecord(moduleID string) (ModuleRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.modules[moduleID]
	return rec, ok
}

// Close releases the underlying session.
func (c *Client) Close() {
	c.session.Close()
}

// postJSON marshals payload and POSTs it to path.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) error {
	return c.sendJSON(ctx, http.MethodPost, path, payload)
}

// putJSON marshals payload and PUTs it to path.
func (c *Client) putJSON(ctx context.Context, path string, payload interface{}) error {
	return c.sendJSON(ctx, http.MethodPut, path, payload)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ValidationError{Reason: "payload not serializable: " + err.Error()}
	}
	_, err = c.session.Send(ctx, method, path, body, xhrHeaders)
	return err
}
