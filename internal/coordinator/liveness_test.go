package coordinator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lyktparad/meshbridge/internal/proto"
)

func testMeshID(b byte) proto.MeshID {
	return proto.MeshID{b, b, b, b, b, b}
}

func TestLivenessMonitorMarksTimedOutSessionOffline(t *testing.T) {
	registry := NewSessionRegistry()
	store := NewStateStore()
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 8081}
	meshID := testMeshID(1)

	past := time.Now().Add(-1 * time.Hour)
	registry.Register(meshID, addr, 3, "1.0.0", past)

	mon := NewLivenessMonitor(registry, store, nil)
	mon.HeartbeatTimeout = time.Second
	mon.sweep()

	s, ok := registry.Get(meshID)
	require.True(t, ok)
	require.True(t, s.Offline, "session should be marked offline after timeout")
}

func TestLivenessMonitorCleansUpLongOfflineSession(t *testing.T) {
	registry := NewSessionRegistry()
	store := NewStateStore()
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 8081}
	meshID := testMeshID(2)

	ancient := time.Now().Add(-1 * time.Hour)
	registry.Register(meshID, addr, 3, "1.0.0", ancient)
	registry.MarkOffline(meshID)

	mon := NewLivenessMonitor(registry, store, nil)
	mon.HeartbeatTimeout = time.Millisecond
	mon.sweep()

	_, ok := registry.Get(meshID)
	require.False(t, ok, "long-offline session should have been removed")
}

func TestLivenessMonitorRecordFailureMarksOfflineAtThreshold(t *testing.T) {
	registry := NewSessionRegistry()
	store := NewStateStore()
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 8081}
	meshID := testMeshID(3)
	registry.Register(meshID, addr, 3, "1.0.0", time.Now())

	mon := NewLivenessMonitor(registry, store, nil)
	mon.FailureThreshold = 2

	mon.RecordFailure(meshID)
	s, _ := registry.Get(meshID)
	require.False(t, s.Offline)

	mon.RecordFailure(meshID)
	s, _ = registry.Get(meshID)
	require.True(t, s.Offline)
}

func TestLivenessMonitorForceCleanup(t *testing.T) {
	registry := NewSessionRegistry()
	store := NewStateStore()
	addr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 8081}

	registry.Register(testMeshID(4), addr, 1, "1.0.0", time.Now())
	registry.Register(testMeshID(5), addr, 1, "1.0.0", time.Now())
	registry.MarkOffline(testMeshID(4))

	mon := NewLivenessMonitor(registry, store, nil)
	removed := mon.ForceCleanup()
	require.Equal(t, 1, removed)

	_, ok := registry.Get(testMeshID(4))
	require.False(t, ok)
	_, ok = registry.Get(testMeshID(5))
	require.True(t, ok)
}

func TestSessionRegistryIPChangeRecovery(t *testing.T) {
	registry := NewSessionRegistry()
	meshID := testMeshID(6)
	oldAddr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 8081}
	registered := registry.Register(meshID, oldAddr, 2, "1.0.0", time.Now())
	registry.MarkFailure(meshID, 1) // force offline

	newAddr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 8081}
	updated, ok := registry.Touch(meshID, newAddr, time.Now(), true, false)
	require.True(t, ok)
	require.Equal(t, newAddr.String(), updated.Addr.String())
	require.False(t, updated.Offline)
	require.Equal(t, 0, updated.FailureCount)
	require.Equal(t, registered.RegisteredAt, updated.RegisteredAt)
}
