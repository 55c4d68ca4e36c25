package coordinator

import (
	"sync"
	"time"

	"github.com/lyktparad/meshbridge/internal/proto"
)

// DefaultStalenessLimit is the default age beyond which a snapshot is
// considered stale.
const DefaultStalenessLimit = 10 * time.Second

// Snapshot is the coordinator's last-known mesh state for one
// mesh-id, overwritten in place by every state update, never merged.
type Snapshot struct {
	MeshID      proto.MeshID
	RootAddr    [4]byte
	Connected   bool
	Nodes       []proto.NodeEntry
	SeqActive   bool
	SeqPosition uint16
	SeqTotal    uint16
	OTAActive   bool
	OTAPercent  uint8
	UpdatedAt   time.Time
	// SourceTimestamp is the wire timestamp of the update that produced
	// this snapshot. Updates with an older timestamp than what's
	// already stored are dropped rather than applied out of order.
	SourceTimestamp uint32
}

// Stale reports whether the snapshot's age at `now` exceeds limit.
func (s Snapshot) Stale(now time.Time, limit time.Duration) bool {
	return now.Sub(s.UpdatedAt) > limit
}

// StateStore holds the latest Snapshot per mesh-id.
type StateStore struct {
	mu        sync.RWMutex
	snapshots map[proto.MeshID]Snapshot
	Staleness time.Duration
}

// NewStateStore returns an empty store using DefaultStalenessLimit.
func NewStateStore() *StateStore {
	return &StateStore{
		snapshots: make(map[proto.MeshID]Snapshot),
		Staleness: DefaultStalenessLimit,
	}
}

// Update overwrites meshID's snapshot, unless the incoming
// SourceTimestamp is older than the currently stored one, in which
// case it is dropped and Update reports false.
func (s *StateStore) Update(meshID proto.MeshID, snap Snapshot, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.snapshots[meshID]; ok && snap.SourceTimestamp < existing.SourceTimestamp {
		return false
	}
	snap.MeshID = meshID
	snap.UpdatedAt = now
	s.snapshots[meshID] = snap
	return true
}

// Get returns the snapshot for meshID and whether it is currently
// stale, given now.
func (s *StateStore) Get(meshID proto.MeshID, now time.Time) (Snapshot, bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[meshID]
	if !ok {
		return Snapshot{}, false, false
	}
	limit := s.Staleness
	if limit <= 0 {
		limit = DefaultStalenessLimit
	}
	return snap, snap.Stale(now, limit), true
}

// Remove deletes meshID's snapshot, used when its session is cleaned
// up.
func (s *StateStore) Remove(meshID proto.MeshID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, meshID)
}
