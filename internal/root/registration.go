package root

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/discovery"
	"github.com/lyktparad/meshbridge/internal/meshiface"
	"github.com/lyktparad/meshbridge/internal/proto"
)

// ErrRejected is returned when the coordinator ACKs a registration
// attempt with "rejected" rather than "accepted".
var ErrRejected = errors.New("root: registration rejected by coordinator")

// ErrACKTimeout is returned when no ACK arrives within the per-attempt
// deadline.
var ErrACKTimeout = errors.New("root: registration ack timeout")

// registerBackoff is the 1s/2s/4s retry ladder: four attempts total,
// the first with no prior wait.
var registerBackoff = []time.Duration{0, 1 * time.Second, 2 * time.Second, 4 * time.Second}

const registerAckTimeout = 5 * time.Second

// RegistrationEngine owns the bounded-retry handshake that turns a
// discovered coordinator address into a live session. It is invoked
// by the discovery FSM as a discovery.RegisterFunc.
type RegistrationEngine struct {
	Conn  net.PacketConn
	Local meshiface.LocalInfo
	Log   *zap.Logger
}

// Register sends a register packet and waits for an ACK, retrying:
// attempt, 1s wait, attempt, 2s wait, attempt, 4s wait, attempt - four
// attempts total, each bounded by a 5s ACK timeout.
func (e *RegistrationEngine) Register(ctx context.Context, addr discovery.ServerAddr) error {
	log := e.log()
	udpAddr := &net.UDPAddr{IP: net.ParseIP(addr.IP), Port: addr.UDPPort}

	var lastErr error
	for attempt, wait := range registerBackoff {
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		pkt, err := e.buildPacket()
		if err != nil {
			return fmt.Errorf("root: build register packet: %w", err)
		}
		if _, err := e.Conn.WriteTo(pkt, udpAddr); err != nil {
			lastErr = fmt.Errorf("root: send register packet: %w", err)
			log.Warn("registration: send failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
			continue
		}

		accepted, err := e.awaitAck(ctx)
		if err == nil {
			if !accepted {
				return ErrRejected
			}
			log.Info("registration: accepted", zap.String("server_ip", addr.IP), zap.Int("udp_port", addr.UDPPort))
			return nil
		}
		lastErr = err
		log.Info("registration: attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("root: registration failed after %d attempts: %w", len(registerBackoff), lastErr)
}

func (e *RegistrationEngine) buildPacket() ([]byte, error) {
	payload := proto.RegisterPayload{
		RootIP:    e.Local.RootAddress(),
		MeshID:    e.Local.MeshID(),
		NodeCount: e.Local.NodeCount(),
		Version:   e.Local.FirmwareVersion(),
		Timestamp: uint32(time.Now().Unix()),
	}
	body, err := proto.MarshalRegister(payload)
	if err != nil {
		return nil, err
	}
	return proto.Encode(proto.CmdRegister, 0, body)
}

func (e *RegistrationEngine) awaitAck(ctx context.Context) (accepted bool, err error) {
	deadline := time.Now().Add(registerAckTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	buf := make([]byte, proto.MaxPacketSize)
	dec := proto.NewDecoder()
	for {
		if err := e.Conn.SetReadDeadline(deadline); err != nil {
			return false, fmt.Errorf("root: set read deadline: %w", err)
		}
		n, _, rerr := e.Conn.ReadFrom(buf)
		if rerr != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, ErrACKTimeout
		}
		frame, derr := dec.Decode(buf[:n])
		if derr != nil {
			continue // not a well-formed frame, keep waiting within the deadline
		}
		if frame.Command != proto.CmdRegisterAck {
			continue // stray packet (e.g. a concurrent heartbeat ack-less send), ignore
		}
		status, derr := proto.UnmarshalRegisterAck(frame.Payload)
		if derr != nil {
			continue
		}
		return status == proto.RegisterAccepted, nil
	}
}

func (e *RegistrationEngine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}
