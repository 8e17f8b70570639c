package indygo

import "fmt"

// The portal gives no schema or status-code guarantees, so failures are
// sorted into four kinds the caller can act on: authentication failures need
// new credentials, communication failures are retried on the next poll,
// discovery failures usually mean the vendor changed their markup, and
// validation failures are caller bugs on the write path.

// AuthenticationError means the portal rejected the credentials, or re-login
// after session expiry failed. The coordinator surfaces it as "needs
// reconfiguration" rather than retrying.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// CommunicationError covers network failures, timeouts and unexpected HTTP
// statuses. Transient; the next poll cycle retries.
type CommunicationError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *CommunicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, truncate(e.Body, 200))
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// DiscoveryError means required identifiers or a required embedded object
// could not be located in the devices page. It carries a truncated HTML
// snippet because this almost always indicates a vendor markup change.
type DiscoveryError struct {
	Reason  string
	Snippet string
}

func (e *DiscoveryError) Error() string {
	if e.Snippet == "" {
		return "discovery failed: " + e.Reason
	}
	return fmt.Sprintf("discovery failed: %s (page snippet: %q)", e.Reason, e.Snippet)
}

// ValidationError means the caller supplied a malformed program object on the
// write path. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
