package root

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/proto"
)

// MaxResponseSize bounds the payload a handler may return, so a
// misbehaving handler cannot build a response that exceeds the MTU.
const MaxResponseSize = proto.MaxPacketSize - 16

// Handler answers one RPC command. It receives the decoded request
// payload and returns the response payload to encode back to the
// caller. Heavy operations must enqueue the work and return an
// immediate "accepted" response rather than blocking.
type Handler func(ctx context.Context, req []byte) (resp []byte, err error)

// DispatchTable maps RPC command ids (0xE7-0xFF) to their handler.
type DispatchTable map[proto.Command]Handler

// APIListener is the root's single RPC listener: it reads datagrams
// on one socket, dispatches by command id through a static table, and
// replies to the request's source address carrying the same sequence
// number. Because there is exactly one listener, handlers execute
// strictly in sequence.
type APIListener struct {
	Conn     net.PacketConn
	Handlers DispatchTable
	Log      *zap.Logger

	decoder *proto.Decoder
}

// NewAPIListener builds a listener bound to conn with the given
// dispatch table.
func NewAPIListener(conn net.PacketConn, handlers DispatchTable, log *zap.Logger) *APIListener {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIListener{Conn: conn, Handlers: handlers, Log: log, decoder: proto.NewDecoder()}
}

// Serve reads and dispatches packets until ctx is canceled. Other read
// errors are logged and reading continues; Bridge.Shutdown cancels ctx
// before closing the socket, so that close ends the loop.
func (l *APIListener) Serve(ctx context.Context) {
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
			l.Log.Warn("api listener: read failed", zap.Error(err))
			continue
		}
		l.handle(ctx, append([]byte(nil), buf[:n]...), src)
	}
}

func (l *APIListener) handle(ctx context.Context, raw []byte, src net.Addr) {
	frame, err := l.decoder.Decode(raw)
	if err != nil {
		return // already counted by the decoder; never signal the peer
	}
	if !frame.Command.IsRPC() {
		l.Log.Debug("api listener: non-rpc command on rpc socket", zap.Uint8("cmd", uint8(frame.Command)))
		return
	}

	handler, ok := l.Handlers[frame.Command]
	if !ok {
		l.reply(src, frame.Command, frame.Seq, errorResponseBody())
		return
	}

	resp, err := handler(ctx, frame.Payload)
	if err != nil {
		l.Log.Warn("api listener: handler error", zap.Uint8("cmd", uint8(frame.Command)), zap.Error(err))
		l.reply(src, frame.Command, frame.Seq, errorResponseBody())
		return
	}
	if len(resp) > MaxResponseSize {
		l.Log.Error("api listener: handler response exceeds MTU, dropping", zap.Uint8("cmd", uint8(frame.Command)))
		return
	}
	l.reply(src, frame.Command, frame.Seq, resp)
}

// errorResponseBody is the single-byte failure shape so an unknown
// command or handler error still lets the originator's waiter fail
// fast rather than time out.
func errorResponseBody() []byte { return proto.MarshalSuccess(false) }

// reply echoes the request's command id and sequence number, carrying
// the handler's payload (or the error shape), back to the source.
func (l *APIListener) reply(dst net.Addr, cmd proto.Command, seq uint16, payload []byte) {
	pkt, err := proto.Encode(cmd, seq, payload)
	if err != nil {
		l.Log.Error("api listener: failed to encode response", zap.Error(err))
		return
	}
	if _, err := l.Conn.WriteTo(pkt, dst); err != nil {
		l.Log.Warn("api listener: reply send failed", zap.Error(err))
	}
}
