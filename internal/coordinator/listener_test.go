package coordinator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lyktparad/meshbridge/internal/proto"
)

func newLoopbackUDP(t *testing.T) (a, b *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	return a, b
}

func TestListenerHandlesRegisterAndAcks(t *testing.T) {
	root, coord := newLoopbackUDP(t)
	defer root.Close()
	defer coord.Close()

	sessions := NewSessionRegistry()
	listener := NewListener(coord, sessions, NewStateStore(), NewPendingRPCTable(nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go listener.Serve(ctx)
	defer cancel()

	meshID := testMeshID(7)
	payload, err := proto.MarshalRegister(proto.RegisterPayload{
		MeshID:    meshID,
		NodeCount: 3,
		Version:   "1.0.0",
		Timestamp: 1,
	})
	if err != nil {
		t.Fatalf("marshal register: %v", err)
	}
	pkt, err := proto.Encode(proto.CmdRegister, 0, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := root.WriteTo(pkt, coord.LocalAddr()); err != nil {
		t.Fatalf("send register: %v", err)
	}

	buf := make([]byte, proto.MaxPacketSize)
	root.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := root.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected ack: %v", err)
	}
	frame, err := proto.NewDecoder().Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if frame.Command != proto.CmdRegisterAck {
		t.Fatalf("got %v, want CmdRegisterAck", frame.Command)
	}

	deadline := time.After(time.Second)
	for {
		if _, ok := sessions.Get(meshID); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestListenerRoutesMalformedHeartbeatToLiveness(t *testing.T) {
	root, coord := newLoopbackUDP(t)
	defer root.Close()
	defer coord.Close()

	sessions := NewSessionRegistry()
	meshID := testMeshID(9)
	sessions.Register(meshID, root.LocalAddr().(*net.UDPAddr), 1, "1.0.0", time.Now())

	liveness := NewLivenessMonitor(sessions, NewStateStore(), nil)
	liveness.FailureThreshold = 1

	listener := NewListener(coord, sessions, NewStateStore(), NewPendingRPCTable(nil), liveness, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go listener.Serve(ctx)
	defer cancel()

	pkt, err := proto.Encode(proto.CmdHeartbeat, 0, []byte{0x01}) // too short to parse
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := root.WriteTo(pkt, coord.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if s, ok := sessions.Get(meshID); ok && s.Offline {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session was never marked offline after malformed heartbeat")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestListenerDispatchesRPCResponseToPendingTable(t *testing.T) {
	root, coord := newLoopbackUDP(t)
	defer root.Close()
	defer coord.Close()

	pending := NewPendingRPCTable(nil)
	listener := NewListener(coord, NewSessionRegistry(), NewStateStore(), pending, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go listener.Serve(ctx)
	defer cancel()

	seq, done := pending.Allocate(time.Second)

	pkt, err := proto.Encode(proto.RPCNodes, seq, proto.EncodeNodeCount1(7))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := root.WriteTo(pkt, coord.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case result := <-done:
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		count, err := proto.DecodeNodeCount(result.Payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if count != 7 {
			t.Errorf("got %d, want 7", count)
		}
	case <-time.After(time.Second):
		t.Fatal("pending rpc never fulfilled")
	}
}
