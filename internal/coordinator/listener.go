package coordinator

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/proto"
)

// Listener is the coordinator's single UDP datagram ingress. It
// decodes every inbound frame and routes it to the session registry,
// state store, pending-RPC table, or a mirror observer depending on
// command id.
type Listener struct {
	Conn     net.PacketConn
	Sessions *SessionRegistry
	State    *StateStore
	Pending  *PendingRPCTable
	Liveness *LivenessMonitor
	Log      *zap.Logger

	// OnMirror is invoked for every decoded mirror packet; nil means
	// mirrors are simply dropped after decode, an observer/logger role
	// for the mirror plane.
	OnMirror func(proto.MirrorPayload)

	decoder *proto.Decoder
}

// NewListener builds a Listener bound to conn.
func NewListener(conn net.PacketConn, sessions *SessionRegistry, state *StateStore, pending *PendingRPCTable, liveness *LivenessMonitor, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		Conn:     conn,
		Sessions: sessions,
		State:    state,
		Pending:  pending,
		Liveness: liveness,
		Log:      log,
		decoder:  proto.NewDecoder(),
	}
}

// Serve reads and dispatches datagrams until ctx is canceled.
func (l *Listener) Serve(ctx context.Context) {
	buf := make([]byte, proto.MaxPacketSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, src, err := l.Conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.Log.Warn("coordinator listener: read failed", zap.Error(err))
			continue
		}
		udpAddr, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		l.handle(append([]byte(nil), buf[:n]...), udpAddr)
	}
}

func (l *Listener) handle(raw []byte, src *net.UDPAddr) {
	frame, err := l.decoder.Decode(raw)
	if err != nil {
		return // already counted by the decoder
	}

	switch {
	case frame.Command == proto.CmdRegister:
		l.handleRegister(frame, src)
	case frame.Command == proto.CmdHeartbeat:
		l.handleHeartbeat(frame, src)
	case frame.Command == proto.CmdStateUpdate:
		l.handleState(frame, src)
	case frame.Command == proto.CmdMirror:
		l.handleMirror(frame)
	case frame.Command.IsRPC():
		l.handleRPCResponse(frame)
	default:
		l.Log.Debug("coordinator listener: unexpected command on datagram ingress", zap.Uint8("cmd", uint8(frame.Command)))
	}
}

func (l *Listener) handleRegister(frame proto.Frame, src *net.UDPAddr) {
	reg, err := proto.UnmarshalRegister(frame.Payload)
	if err != nil {
		l.Log.Debug("coordinator listener: malformed register payload", zap.Error(err))
		return
	}
	l.Sessions.Register(reg.MeshID, src, reg.NodeCount, reg.Version, time.Now())
	l.Log.Info("coordinator listener: session registered", zap.String("mesh_id", reg.MeshID.String()), zap.Stringer("addr", src))

	ackPayload := proto.MarshalRegisterAck(true)
	pkt, err := proto.Encode(proto.CmdRegisterAck, 0, ackPayload)
	if err != nil {
		l.Log.Error("coordinator listener: failed to encode register ack", zap.Error(err))
		return
	}
	if _, err := l.Conn.WriteTo(pkt, src); err != nil {
		l.Log.Warn("coordinator listener: failed to send register ack", zap.Error(err))
	}
}

func (l *Listener) handleHeartbeat(frame proto.Frame, src *net.UDPAddr) {
	if _, err := proto.UnmarshalHeartbeat(frame.Payload); err != nil {
		l.Log.Debug("coordinator listener: malformed heartbeat payload", zap.Error(err))
		l.recordFailureByAddr(src)
		return
	}
	// Heartbeats carry no mesh-id on the wire; attribute activity to
	// whichever session currently has this source address.
	meshID, ok := l.Sessions.FindByAddr(src)
	if !ok {
		l.Log.Debug("coordinator listener: heartbeat from unregistered address", zap.Stringer("addr", src))
		return
	}
	l.Sessions.Touch(meshID, src, time.Now(), true, false)
}

func (l *Listener) handleState(frame proto.Frame, src *net.UDPAddr) {
	st, err := proto.UnmarshalStateUpdate(frame.Payload)
	if err != nil {
		l.Log.Debug("coordinator listener: malformed state-update payload", zap.Error(err))
		l.recordFailureByAddr(src)
		return
	}
	now := time.Now()
	l.Sessions.Touch(st.MeshID, src, now, false, true)
	l.State.Update(st.MeshID, Snapshot{
		RootAddr:        st.RootIP,
		Connected:       st.MeshState == 0,
		Nodes:           st.Nodes,
		SeqActive:       st.SeqActive,
		SeqPosition:     st.SeqPosition,
		SeqTotal:        st.SeqTotal,
		OTAActive:       st.OTAActive,
		OTAPercent:      st.OTAPercent,
		SourceTimestamp: st.Timestamp,
	}, now)
}

func (l *Listener) handleMirror(frame proto.Frame) {
	mp, err := proto.UnmarshalMirror(frame.Payload)
	if err != nil {
		l.Log.Debug("coordinator listener: malformed mirror payload", zap.Error(err))
		return
	}
	if l.OnMirror != nil {
		l.OnMirror(mp)
	}
}

func (l *Listener) handleRPCResponse(frame proto.Frame) {
	l.Pending.Fulfil(frame.Seq, frame.Payload)
}

// recordFailureByAddr bumps the UDP-failure counter of whichever
// session currently owns src, if any, so malformed traffic from a
// known root counts toward its offline threshold the same way a
// dropped RPC does.
func (l *Listener) recordFailureByAddr(src *net.UDPAddr) {
	if l.Liveness == nil {
		return
	}
	if meshID, ok := l.Sessions.FindByAddr(src); ok {
		l.Liveness.RecordFailure(meshID)
	}
}
