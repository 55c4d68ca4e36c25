package root

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/meshiface"
	"github.com/lyktparad/meshbridge/internal/proto"
)

// MirrorWrapper is the single send wrapper every mesh send in the
// codebase goes through: Send forwards to the mesh layer first and,
// only for a registered root with non-empty data, fires a
// best-effort mirror copy to the coordinator afterward.
type MirrorWrapper struct {
	Mesh meshiface.Sender
	Conn net.PacketConn
	Log  *zap.Logger

	// IsRoot and Registered are queried fresh on every Send since both
	// can change between calls (role churn, registration loss).
	IsRoot     func() bool
	Registered func() (addr *net.UDPAddr, ok bool)
}

// Send invokes the mesh layer exactly once, then, iff the caller is
// root, the coordinator is registered, and data is non-empty, emits
// a fire-and-forget mirror packet. The mesh layer's result is returned
// unchanged regardless of what the mirror send does.
func (w *MirrorWrapper) Send(ctx context.Context, meshCmd uint8, dest [6]byte, data []byte) error {
	err := w.Mesh.Send(ctx, dest, data)

	if !w.IsRoot() || len(data) == 0 {
		return err
	}
	addr, ok := w.Registered()
	if !ok {
		return err
	}

	w.emitMirror(meshCmd, data, addr)
	return err
}

func (w *MirrorWrapper) emitMirror(meshCmd uint8, data []byte, addr *net.UDPAddr) {
	payload := proto.MarshalMirror(proto.MirrorPayload{
		MeshCommand: meshCmd,
		MeshPayload: data,
		Timestamp:   uint32(time.Now().Unix()),
	})
	pkt, err := proto.Encode(proto.CmdMirror, 0, payload)
	if err != nil {
		w.log().Debug("mirror: encode failed, dropping", zap.Error(err))
		return
	}
	if _, err := w.Conn.WriteTo(pkt, addr); err != nil {
		w.log().Debug("mirror: send failed, dropping", zap.Error(err))
	}
}

func (w *MirrorWrapper) log() *zap.Logger {
	if w.Log != nil {
		return w.Log
	}
	return zap.NewNop()
}
