package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lyktparad/meshbridge/internal/proto"
)

// Translator is the coordinator's HTTP ingress. It maps the public
// endpoint table onto RPC datagrams sent to the currently registered
// root, using PendingRPCTable to match responses back to the
// originating HTTP request.
type Translator struct {
	Sessions *SessionRegistry
	State    *StateStore
	Pending  *PendingRPCTable
	Conn     net.PacketConn
	Log      *zap.Logger
	Started  time.Time
}

// NewTranslator builds a Translator. The sessions/state/pending table
// and the socket used to reach roots are all shared with the
// Listener that receives their responses.
func NewTranslator(sessions *SessionRegistry, state *StateStore, pending *PendingRPCTable, conn net.PacketConn, log *zap.Logger) *Translator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Translator{Sessions: sessions, State: state, Pending: pending, Conn: conn, Log: log, Started: time.Now()}
}

// Mux builds the *http.ServeMux wiring every endpoint of the public
// HTTP API.
func (tr *Translator) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/nodes", tr.rpcGET(proto.RPCNodes, decodeNodesJSON))
	mux.HandleFunc("/api/color", tr.colorHandler())
	mux.HandleFunc("/api/sequence", tr.rpcPOSTBodySuccess(proto.RPCSequenceUpload, passthroughBody))
	mux.HandleFunc("/api/sequence/pointer", tr.sequencePointerHandler())
	mux.HandleFunc("/api/sequence/start", tr.rpcPOSTSuccess(proto.RPCSequenceStart))
	mux.HandleFunc("/api/sequence/stop", tr.rpcPOSTSuccess(proto.RPCSequenceStop))
	mux.HandleFunc("/api/sequence/reset", tr.rpcPOSTSuccess(proto.RPCSequenceReset))
	mux.HandleFunc("/api/sequence/status", tr.rpcGET(proto.RPCSequenceStatus, decodeSequenceStatusJSON))
	mux.HandleFunc("/api/ota/download", tr.otaDownloadHandler())
	mux.HandleFunc("/api/ota/status", tr.rpcGET(proto.RPCOTAStatus, decodeOTAStatusJSON))
	mux.HandleFunc("/api/ota/version", tr.rpcGET(proto.RPCOTAVersion, decodeOTAVersionJSON))
	mux.HandleFunc("/api/ota/cancel", tr.rpcPOSTSuccess(proto.RPCOTACancel))
	mux.HandleFunc("/api/ota/distribute", tr.rpcPOSTSuccess(proto.RPCOTADistribute))
	mux.HandleFunc("/api/ota/distribution/status", tr.rpcGET(proto.RPCOTADistributionStatus, decodeDistributingJSON))
	mux.HandleFunc("/api/ota/distribution/progress", tr.rpcGET(proto.RPCOTADistributionProgress, decodeOTAStatusJSON))
	mux.HandleFunc("/api/ota/distribution/cancel", tr.rpcPOSTSuccess(proto.RPCOTADistributionCancel))
	mux.HandleFunc("/api/ota/reboot", tr.otaRebootHandler())
	mux.HandleFunc("/api/mesh/state", tr.meshStateHandler())
	mux.HandleFunc("/health", tr.healthHandler())
	return mux
}

// --- session/address resolution ------------------------------------------

// anyRegisteredSession picks a session to route an RPC to. The bridge
// is single-root-per-mesh in the common case; when more than one
// session is registered (multiple meshes bridged by one coordinator
// instance) this picks the most recently active one.
func (tr *Translator) anyRegisteredSession() (Session, bool) {
	sessions := tr.Sessions.All()
	var best Session
	found := false
	for _, s := range sessions {
		if !found || s.lastActivity().After(best.lastActivity()) {
			best = s
			found = true
		}
	}
	return best, found
}

func (tr *Translator) directAddrSuggestion(s Session) string {
	if s.Addr == nil {
		return ""
	}
	return fmt.Sprintf("http://%s", s.Addr.String())
}

// --- generic RPC plumbing --------------------------------------------------

type errorBody struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, suggestion string) {
	writeJSON(w, status, errorBody{Error: msg, Suggestion: suggestion})
}

// doRPC sends an RPC with the given command and request payload to
// the current session, waits for the response (re-sending immediately
// up to retries more times after a failed attempt), and returns the
// decoded payload or an HTTP status to report.
func (tr *Translator) doRPC(ctx context.Context, w http.ResponseWriter, cmd proto.Command, reqPayload []byte, retries int) (respPayload []byte, ok bool) {
	session, found := tr.anyRegisteredSession()
	if !found {
		writeError(w, http.StatusNotFound, "no registered root", "")
		return nil, false
	}
	if session.Offline {
		writeError(w, http.StatusServiceUnavailable, "session offline", tr.directAddrSuggestion(session))
		return nil, false
	}

	attempts := retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		payload, err := tr.sendAndAwait(ctx, cmd, reqPayload, session.Addr)
		if err == nil {
			return payload, true
		}
		lastErr = err
		tr.Sessions.MarkFailure(session.MeshID, DefaultFailureThreshold)
	}
	tr.Log.Warn("translator: rpc failed", zap.Uint8("cmd", uint8(cmd)), zap.Error(lastErr))
	writeError(w, http.StatusServiceUnavailable, "timeout", tr.directAddrSuggestion(session))
	return nil, false
}

func (tr *Translator) sendAndAwait(ctx context.Context, cmd proto.Command, reqPayload []byte, addr *net.UDPAddr) ([]byte, error) {
	seq, done := tr.Pending.Allocate(DefaultRPCDeadline)
	pkt, err := proto.Encode(cmd, seq, reqPayload)
	if err != nil {
		tr.Pending.Cancel(seq, err)
		return nil, fmt.Errorf("translator: encode request: %w", err)
	}
	if _, err := tr.Conn.WriteTo(pkt, addr); err != nil {
		tr.Pending.Cancel(seq, err)
		return nil, fmt.Errorf("translator: send request: %w", err)
	}

	timer := time.NewTimer(DefaultRPCDeadline)
	defer timer.Stop()
	select {
	case result := <-done:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Payload, nil
	case <-timer.C:
		err := fmt.Errorf("translator: no response to %s within %s", cmd, DefaultRPCDeadline)
		tr.Pending.Cancel(seq, err)
		return nil, err
	case <-ctx.Done():
		tr.Pending.Cancel(seq, ctx.Err())
		return nil, ctx.Err()
	}
}

// rpcGET builds a handler for a parameterless GET endpoint whose
// response is decoded by decode into a JSON-able value.
func (tr *Translator) rpcGET(cmd proto.Command, decode func([]byte) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		payload, ok := tr.doRPC(r.Context(), w, cmd, nil, 0)
		if !ok {
			return
		}
		v, err := decode(payload)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// writeSuccessResult decodes a one-byte success response and writes
// it as JSON. A false success is an application-level error (e.g. a
// rejected downgrade) and is reported as 409 rather than 200, since
// the wire carries no finer-grained reason.
func writeSuccessResult(w http.ResponseWriter, payload []byte) {
	ok, err := proto.DecodeSuccess(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]bool{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// rpcPOSTSuccess builds a handler for a parameterless POST endpoint
// whose response is the one-byte success indicator.
func (tr *Translator) rpcPOSTSuccess(cmd proto.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		payload, ok := tr.doRPC(r.Context(), w, cmd, nil, 2)
		if !ok {
			return
		}
		writeSuccessResult(w, payload)
	}
}

// rpcPOSTBodySuccess builds a handler for a POST endpoint whose
// request body is transformed by encode into the wire payload and
// whose response is the one-byte success indicator.
func (tr *Translator) rpcPOSTBodySuccess(cmd proto.Command, encode func(*http.Request) ([]byte, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		reqPayload, err := encode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		payload, ok := tr.doRPC(r.Context(), w, cmd, reqPayload, 2)
		if !ok {
			return
		}
		writeSuccessResult(w, payload)
	}
}

// --- endpoint-specific handlers --------------------------------------------

func (tr *Translator) colorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			payload, ok := tr.doRPC(r.Context(), w, proto.RPCColorGet, nil, 0)
			if !ok {
				return
			}
			c, err := proto.DecodeColorResponse(payload)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error(), "")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"r": c.R, "g": c.G, "b": c.B, "is_set": c.IsSet})
		case http.MethodPost:
			var body struct{ R, G, B int }
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad json", "")
				return
			}
			if body.R < 0 || body.R > 255 || body.G < 0 || body.G > 255 || body.B < 0 || body.B > 255 {
				writeError(w, http.StatusBadRequest, "r/g/b must be 0..255", "")
				return
			}
			req := proto.MarshalColorSetRequest(proto.ColorSetRequest{R: uint8(body.R), G: uint8(body.G), B: uint8(body.B)})
			payload, ok := tr.doRPC(r.Context(), w, proto.RPCColorSet, req, 2)
			if !ok {
				return
			}
			writeSuccessResult(w, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		}
	}
}

// sequencePointerHandler is the one endpoint that must reply plain
// text rather than JSON: a legacy client depends on the bare numeric
// body.
func (tr *Translator) sequencePointerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		payload, ok := tr.doRPC(r.Context(), w, proto.RPCSequencePointer, nil, 0)
		if !ok {
			return
		}
		pointer, err := proto.DecodeSequencePointer(payload)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "%d", pointer)
	}
}

func (tr *Translator) otaDownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad json", "")
			return
		}
		if len(body.URL) == 0 || len(body.URL) > 255 {
			writeError(w, http.StatusBadRequest, "url must be 1..255 chars", "")
			return
		}
		req, err := proto.EncodeOTAVersion(body.URL) // reuses the length-prefixed string wire shape
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		payload, ok := tr.doRPC(r.Context(), w, proto.RPCOTADownload, req, 2)
		if !ok {
			return
		}
		writeSuccessResult(w, payload)
	}
}

func (tr *Translator) otaRebootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		var body struct {
			Timeout int `json:"timeout"`
			Delay   int `json:"delay"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad json", "")
				return
			}
		}
		if body.Timeout < 0 || body.Timeout > 65535 || body.Delay < 0 || body.Delay > 65535 {
			writeError(w, http.StatusBadRequest, "timeout/delay must be 0..65535", "")
			return
		}
		req := proto.MarshalOTARebootRequest(proto.OTARebootRequest{Timeout: uint16(body.Timeout), Delay: uint16(body.Delay)})
		payload, ok := tr.doRPC(r.Context(), w, proto.RPCOTAReboot, req, 2)
		if !ok {
			return
		}
		writeSuccessResult(w, payload)
	}
}

func (tr *Translator) meshStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		session, found := tr.anyRegisteredSession()
		if !found {
			writeError(w, http.StatusNotFound, "no registered root", "")
			return
		}
		snap, stale, ok := tr.State.Get(session.MeshID, time.Now())
		if !ok {
			writeError(w, http.StatusNotFound, "no state received yet", "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"mesh_id":      snap.MeshID.String(),
			"root_addr":    fmt.Sprintf("%d.%d.%d.%d", snap.RootAddr[0], snap.RootAddr[1], snap.RootAddr[2], snap.RootAddr[3]),
			"connected":    snap.Connected,
			"node_count":   len(snap.Nodes),
			"seq_active":   snap.SeqActive,
			"seq_position": snap.SeqPosition,
			"seq_total":    snap.SeqTotal,
			"ota_active":   snap.OTAActive,
			"ota_percent":  snap.OTAPercent,
			"stale":        stale,
			"updated_at":   snap.UpdatedAt,
		})
	}
}

func (tr *Translator) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"server": map[string]any{
				"uptime":    time.Since(tr.Started).String(),
				"timestamp": time.Now().Unix(),
			},
		})
	}
}

// --- response decoders (wire -> JSON-able values) --------------------------

func decodeNodesJSON(payload []byte) (any, error) {
	n, err := proto.DecodeNodeCount(payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{"nodes": n}, nil
}

func decodeSequenceStatusJSON(payload []byte) (any, error) {
	active, err := proto.DecodeSequenceStatus(payload)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"active": active}, nil
}

func decodeOTAStatusJSON(payload []byte) (any, error) {
	st, err := proto.DecodeOTAStatus(payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{"downloading": st.Downloading, "progress": st.Progress}, nil
}

func decodeDistributingJSON(payload []byte) (any, error) {
	active, err := proto.DecodeSequenceStatus(payload) // same one-byte-bool shape
	if err != nil {
		return nil, err
	}
	return map[string]bool{"distributing": active}, nil
}

func decodeOTAVersionJSON(payload []byte) (any, error) {
	v, err := proto.DecodeOTAVersion(payload)
	if err != nil {
		return nil, err
	}
	return map[string]string{"version": v}, nil
}

func passthroughBody(r *http.Request) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
