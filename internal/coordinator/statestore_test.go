package coordinator

import (
	"testing"
	"time"

	"github.com/lyktparad/meshbridge/internal/proto"
)

func TestStateStoreStalenessFlag(t *testing.T) {
	store := NewStateStore()
	store.Staleness = 10 * time.Second
	meshID := testMeshID(1)

	now := time.Now()
	store.Update(meshID, Snapshot{SourceTimestamp: 1}, now)

	_, stale, ok := store.Get(meshID, now.Add(5*time.Second))
	if !ok || stale {
		t.Errorf("snapshot should not be stale at 5s, got stale=%v", stale)
	}

	_, stale, ok = store.Get(meshID, now.Add(11*time.Second))
	if !ok || !stale {
		t.Errorf("snapshot should be stale at 11s, got stale=%v", stale)
	}
}

func TestStateStoreDropsOutOfOrderUpdate(t *testing.T) {
	store := NewStateStore()
	meshID := testMeshID(2)
	now := time.Now()

	store.Update(meshID, Snapshot{SourceTimestamp: 100, OTAPercent: 50}, now)
	applied := store.Update(meshID, Snapshot{SourceTimestamp: 50, OTAPercent: 10}, now)
	if applied {
		t.Fatal("expected out-of-order update to be dropped")
	}

	snap, _, ok := store.Get(meshID, now)
	if !ok || snap.OTAPercent != 50 {
		t.Errorf("got %+v, want the newer snapshot preserved", snap)
	}
}

func TestStateStoreOverwritesNotMerges(t *testing.T) {
	store := NewStateStore()
	meshID := testMeshID(3)
	now := time.Now()

	store.Update(meshID, Snapshot{SourceTimestamp: 1, Nodes: []proto.NodeEntry{{NodeID: [6]byte{1}}}}, now)
	store.Update(meshID, Snapshot{SourceTimestamp: 2}, now)

	snap, _, _ := store.Get(meshID, now)
	if len(snap.Nodes) != 0 {
		t.Errorf("expected overwrite to drop prior node list, got %d nodes", len(snap.Nodes))
	}
}
