// Package session provides the minimal session handle that networks and
// interfaces in this core hold a reference to. The full session/emulator
// controller (node allocation, scenario control, the wire API) lives
// upstream of this package and is not implemented here; this is just
// enough surface for bridge naming and the filter queue's stale-network
// defence.
package session

import (
	"fmt"
	"sync"
)

// Session identifies one emulation scenario. Bridge and veth names are
// derived from its short id, and networks carry a reference to it so the
// filter-commit queue can detect a session that has since been torn down.
type Session struct {
	// ID is the process-unique session identifier.
	ID int

	mu    sync.RWMutex
	alive bool
}

// New creates a live session with the given id.
func New(id int) *Session {
	return &Session{ID: id, alive: true}
}

// ShortID returns the low 4 hex digits of the session id, matching the
// naming convention bridges and veth pairs are built from (spec §6).
func (s *Session) ShortID() string {
	return fmt.Sprintf("%04x", uint16(s.ID))
}

// Alive reports whether the session is still active. The filter-commit
// queue treats a torn-down session as grounds to silently drop a dirty
// network rather than commit stale rules into a recycled session id.
func (s *Session) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

// Close marks the session torn down. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}
