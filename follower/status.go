package follower

import "sync"

// Status is a read-only snapshot of FollowerStatus, suitable for exposing
// to operators (metrics, status endpoints) without handing out a reference
// to the mutable original.
type Status struct {
	ConnectedToHMS    bool
	FullUpdateRunning bool
	HMSImageID        int64
	Ready             bool
}

// FollowerStatus owns every piece of process-wide mutable state the
// follower needs (connection state, full-update-in-progress, last image id,
// readiness) behind a single mutex, instead of scattering loose
// package-level booleans.
type FollowerStatus struct {
	mu sync.Mutex

	connectedToHMS    bool
	fullUpdateRunning bool
	hmsImageID        int64
	ready             bool
}

// NewFollowerStatus constructs a zeroed FollowerStatus.
func NewFollowerStatus() *FollowerStatus {
	return &FollowerStatus{}
}

// SetConnected records whether the upstream connection is currently up.
// Informational only; does not gate any decision.
func (s *FollowerStatus) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectedToHMS = connected
}

// BeginFullUpdate asserts the full-update-running flag. It returns false if
// the flag was already set, which is a contract violation (the loop is
// single-threaded, so two concurrent full updates can only happen from a
// programming error).
func (s *FollowerStatus) BeginFullUpdate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fullUpdateRunning {
		return false
	}
	s.fullUpdateRunning = true
	return true
}

// EndFullUpdate clears the full-update-running flag. Safe to call even if
// BeginFullUpdate was never successfully called, so callers can
// unconditionally defer it once entry succeeds.
func (s *FollowerStatus) EndFullUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullUpdateRunning = false
}

// SetHMSImageID records the in-memory high-water image id, owned
// exclusively by the follower goroutine.
func (s *FollowerStatus) SetHMSImageID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hmsImageID = id
}

// HMSImageID returns the in-memory high-water image id.
func (s *FollowerStatus) HMSImageID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hmsImageID
}

// MarkReady latches the one-time "ready" marker, returning true the first
// time it is called (so the caller can emit the one-time log line) and
// false on every subsequent call.
func (s *FollowerStatus) MarkReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return false
	}
	s.ready = true
	return true
}

// Snapshot returns a point-in-time copy of the status, safe to read
// concurrently from metrics/status-endpoint goroutines.
func (s *FollowerStatus) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ConnectedToHMS:    s.connectedToHMS,
		FullUpdateRunning: s.fullUpdateRunning,
		HMSImageID:        s.hmsImageID,
		Ready:             s.ready,
	}
}
