package root

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/meshiface"
	"github.com/lyktparad/meshbridge/internal/proto"
)

// DefaultHeartbeatInterval and DefaultStateInterval are the default
// send cadences (~45s and ~3s respectively).
const (
	DefaultHeartbeatInterval = 45 * time.Second
	DefaultStateInterval     = 3 * time.Second
)

// StateCollector gathers the live snapshot fields the state task
// encodes and sends; it is implemented by whatever owns the mesh's
// routing table, sequence player, and OTA engine (out of scope here).
type StateCollector interface {
	MeshState() uint8
	Nodes() []proto.NodeEntry
	SequenceActive() bool
	SequencePosition() (pos, total uint16)
	OTAActive() bool
	OTAPercent() uint8
}

// PeriodicTask runs fn on Interval until ctx is canceled or Stop is
// called, whichever happens first. Both the heartbeat and state tasks
// are instances of this same shape; they self-terminate per (a) role
// loss, (b) registration loss, or (c) bridge shutdown by having their
// context canceled from one of those three places.
type PeriodicTask struct {
	Interval time.Duration
	Run      func(ctx context.Context)

	cancel context.CancelFunc
}

// Start launches the task in a new goroutine. Calling Start again
// before Stop is a caller bug.
func (t *PeriodicTask) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go func() {
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Run(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the task. Safe to call on a task that was never
// started or already stopped.
func (t *PeriodicTask) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// NewHeartbeatTask builds the ~45s heartbeat task: send is
// fire-and-forget, any error is logged and never retried. This is a
// distinct signal from HeartbeatCounter's free-running counter; the
// two must not be conflated, so this task never touches it.
func NewHeartbeatTask(conn net.PacketConn, coordinator *net.UDPAddr, local meshiface.LocalInfo, log *zap.Logger) *PeriodicTask {
	if log == nil {
		log = zap.NewNop()
	}
	interval := DefaultHeartbeatInterval
	return &PeriodicTask{
		Interval: interval,
		Run: func(ctx context.Context) {
			payload := proto.MarshalHeartbeat(proto.HeartbeatPayload{
				Timestamp:    uint32(time.Now().Unix()),
				NodeCount:    local.NodeCount(),
				HasNodeCount: true,
			})
			pkt, err := proto.Encode(proto.CmdHeartbeat, 0, payload)
			if err != nil {
				log.Error("heartbeat: encode failed", zap.Error(err))
				return
			}
			if _, err := conn.WriteTo(pkt, coordinator); err != nil {
				log.Warn("heartbeat: send failed", zap.Error(err))
			}
		},
	}
}

// NewStateTask builds the ~3s state-update task: collects a snapshot
// via collector, encodes it, and sends fire-and-forget.
func NewStateTask(conn net.PacketConn, coordinator *net.UDPAddr, local meshiface.LocalInfo, collector StateCollector, log *zap.Logger) *PeriodicTask {
	if log == nil {
		log = zap.NewNop()
	}
	return &PeriodicTask{
		Interval: DefaultStateInterval,
		Run: func(ctx context.Context) {
			pos, total := collector.SequencePosition()
			payload, err := proto.MarshalStateUpdate(proto.StateUpdatePayload{
				RootIP:      local.RootAddress(),
				MeshID:      local.MeshID(),
				Timestamp:   uint32(time.Now().Unix()),
				MeshState:   collector.MeshState(),
				Nodes:       collector.Nodes(),
				SeqActive:   collector.SequenceActive(),
				SeqPosition: pos,
				SeqTotal:    total,
				OTAActive:   collector.OTAActive(),
				OTAPercent:  collector.OTAPercent(),
			})
			if err != nil {
				log.Error("state update: encode failed", zap.Error(err))
				return
			}
			pkt, err := proto.Encode(proto.CmdStateUpdate, 0, payload)
			if err != nil {
				log.Error("state update: frame encode failed", zap.Error(err))
				return
			}
			if _, err := conn.WriteTo(pkt, coordinator); err != nil {
				log.Warn("state update: send failed", zap.Error(err))
			}
		},
	}
}
