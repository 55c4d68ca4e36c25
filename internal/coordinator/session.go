package coordinator

import (
	"net"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/lyktparad/meshbridge/internal/proto"
)

// Session is the coordinator's record of one registered root, keyed
// by mesh-id. It is created on first successful registration and
// updated on every subsequent register/heartbeat/state packet.
type Session struct {
	MeshID          proto.MeshID
	Addr            *net.UDPAddr
	NodeCount       uint8
	FirmwareVersion string
	RegisteredAt    time.Time
	LastHeartbeat   time.Time // zero if never seen
	LastStateUpdate time.Time // zero if never seen
	FailureCount    int
	Offline         bool
}

// lastActivity returns the most recent of registration, heartbeat, or
// state-update timestamps, the basis for the liveness monitor's
// timeout rule.
func (s Session) lastActivity() time.Time {
	latest := s.RegisteredAt
	if s.LastHeartbeat.After(latest) {
		latest = s.LastHeartbeat
	}
	if s.LastStateUpdate.After(latest) {
		latest = s.LastStateUpdate
	}
	return latest
}

// SessionRegistry is the coordinator's mesh-id -> Session map: a
// single mutex, copy-out reads, no pointers escaping to callers.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[proto.MeshID]*Session
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[proto.MeshID]*Session)}
}

// Register creates a session on first contact or refreshes an
// existing one, implementing IP-change recovery: a new source address
// updates the record in place, resets the failure counter, and clears
// offline, while RegisteredAt is preserved across the refresh.
func (r *SessionRegistry) Register(meshID proto.MeshID, addr *net.UDPAddr, nodeCount uint8, version string, now time.Time) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[meshID]
	if !exists {
		s = &Session{MeshID: meshID, RegisteredAt: now}
		r.sessions[meshID] = s
	}
	s.Addr = addr
	s.NodeCount = nodeCount
	s.FirmwareVersion = version
	s.FailureCount = 0
	s.Offline = false
	return s.copy()
}

// Touch records activity from a known session (heartbeat or state
// packet) and applies the same IP-change recovery rule as Register.
// It reports false if meshID has no session (the caller should treat
// this as an unregistered sender).
func (r *SessionRegistry) Touch(meshID proto.MeshID, addr *net.UDPAddr, now time.Time, heartbeat, state bool) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[meshID]
	if !exists {
		return Session{}, false
	}
	if addr.String() != s.Addr.String() {
		s.Addr = addr
	}
	s.FailureCount = 0
	s.Offline = false
	if heartbeat {
		s.LastHeartbeat = now
	}
	if state {
		s.LastStateUpdate = now
	}
	return *s.copy(), true
}

// FindByAddr returns the mesh-id whose session's stored address
// matches addr. Used for wire commands that carry no mesh-id of their
// own (heartbeats) so activity can still be attributed to the right
// session.
func (r *SessionRegistry) FindByAddr(addr *net.UDPAddr) (proto.MeshID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, s := range r.sessions {
		if s.Addr != nil && s.Addr.String() == addr.String() {
			return id, true
		}
	}
	return proto.MeshID{}, false
}

// Get returns a copy of the session for meshID, if any.
func (r *SessionRegistry) Get(meshID proto.MeshID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[meshID]
	if !ok {
		return Session{}, false
	}
	return *s.copy(), true
}

// All returns a copy of every session currently in the registry.
func (r *SessionRegistry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s.copy())
	}
	return out
}

// MarkFailure increments meshID's UDP-failure counter and, once it
// reaches threshold, marks the session offline. It is a no-op if
// meshID has no session.
func (r *SessionRegistry) MarkFailure(meshID proto.MeshID, threshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[meshID]
	if !ok {
		return
	}
	s.FailureCount++
	if s.FailureCount >= threshold {
		s.Offline = true
	}
}

// MarkOffline flags a session offline directly, used by the liveness
// sweep's timeout rule.
func (r *SessionRegistry) MarkOffline(meshID proto.MeshID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[meshID]; ok {
		s.Offline = true
	}
}

// Remove deletes meshID's session outright.
func (r *SessionRegistry) Remove(meshID proto.MeshID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, meshID)
}

// RemoveOfflineNow removes every currently-offline session
// unconditionally, the force-cleanup administrative reset.
func (r *SessionRegistry) RemoveOfflineNow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.Offline {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// MeshIDs returns the mesh-ids currently known, sorted for
// deterministic iteration in tests and logs.
func (r *SessionRegistry) MeshIDs() []proto.MeshID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]proto.MeshID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b proto.MeshID) int {
		for i := range a {
			if a[i] != b[i] {
				return int(a[i]) - int(b[i])
			}
		}
		return 0
	})
	return ids
}

func (s *Session) copy() *Session {
	c := *s
	return &c
}
