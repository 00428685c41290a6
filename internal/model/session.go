package model

// SessionSnapshot is a point-in-time read of a session's live connection
// set. The set may change concurrently; callers must tolerate stale members.
type SessionSnapshot struct {
	TenantID      string
	SessionID     string
	ConnectionIDs []string
	ExpiresAt     int64 // absolute unix seconds
}

// SessionRemoval describes a session record that was just removed, carrying
// the pre-removal connection set. Expired distinguishes a TTL-driven sweep
// from an explicit delete; the reaper only acts on the former.
type SessionRemoval struct {
	TenantID      string
	SessionID     string
	ConnectionIDs []string
	Expired       bool
}
