package proto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MeshID is the 6-byte opaque (MAC-shaped) identifier for a mesh.
type MeshID [6]byte

// String renders a MeshID as colon-separated hex, e.g.
// `12:34:56:78:9A:BC`.
func (m MeshID) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// NodeRole is the position a node occupies in the mesh topology.
type NodeRole uint8

const (
	NodeRoleRoot  NodeRole = 0
	NodeRoleChild NodeRole = 1
	NodeRoleLeaf  NodeRole = 2
)

// NodeStatus is a node's connectivity as reported in a state snapshot.
type NodeStatus uint8

const (
	NodeStatusConnected    NodeStatus = 0
	NodeStatusDisconnected NodeStatus = 1
)

// NodeEntryWireSize is the fixed size in bytes of one NodeEntry on the
// wire: node-id(6) + addr(4) + layer(1) + parent-id(6) + role(1) + status(1).
const NodeEntryWireSize = 19

// NodeEntry is one row of the mesh's routing table as carried in a
// state-update payload.
type NodeEntry struct {
	NodeID   [6]byte
	Addr     [4]byte
	ParentID [6]byte
	Layer    uint8
	Role     NodeRole
	Status   NodeStatus
}

func marshalNodeEntry(e NodeEntry) []byte {
	b := make([]byte, NodeEntryWireSize)
	copy(b[0:6], e.NodeID[:])
	copy(b[6:10], e.Addr[:])
	b[10] = e.Layer
	copy(b[11:17], e.ParentID[:])
	b[17] = byte(e.Role)
	b[18] = byte(e.Status)
	return b
}

func unmarshalNodeEntry(b []byte) (NodeEntry, error) {
	if len(b) < NodeEntryWireSize {
		return NodeEntry{}, fmt.Errorf("proto: short node entry: %d bytes", len(b))
	}
	var e NodeEntry
	copy(e.NodeID[:], b[0:6])
	copy(e.Addr[:], b[6:10])
	e.Layer = b[10]
	copy(e.ParentID[:], b[11:17])
	e.Role = NodeRole(b[17])
	e.Status = NodeStatus(b[18])
	return e, nil
}

// RegisterPayload is the body of a CmdRegister frame.
type RegisterPayload struct {
	RootIP    [4]byte
	MeshID    MeshID
	Version   string // must be <=31 UTF-8 bytes
	Timestamp uint32
	NodeCount uint8
}

// MarshalRegister encodes a RegisterPayload. Version longer than 31
// bytes is a caller bug and returns an error rather than being
// silently truncated.
func MarshalRegister(p RegisterPayload) ([]byte, error) {
	if len(p.Version) > 31 {
		return nil, fmt.Errorf("proto: register version too long: %d bytes", len(p.Version))
	}
	b := make([]byte, 0, 16+len(p.Version))
	b = append(b, p.RootIP[:]...)
	b = append(b, p.MeshID[:]...)
	b = append(b, p.NodeCount)
	b = append(b, byte(len(p.Version)))
	b = append(b, p.Version...)
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], p.Timestamp)
	b = append(b, ts[:]...)
	return b, nil
}

// UnmarshalRegister decodes a CmdRegister payload.
func UnmarshalRegister(b []byte) (RegisterPayload, error) {
	if len(b) < 12 {
		return RegisterPayload{}, fmt.Errorf("proto: short register payload: %d bytes", len(b))
	}
	var p RegisterPayload
	copy(p.RootIP[:], b[0:4])
	copy(p.MeshID[:], b[4:10])
	p.NodeCount = b[10]
	verLen := int(b[11])
	if len(b) < 12+verLen+4 {
		return RegisterPayload{}, fmt.Errorf("proto: register payload truncated: need %d, have %d", 12+verLen+4, len(b))
	}
	p.Version = string(b[12 : 12+verLen])
	p.Timestamp = binary.BigEndian.Uint32(b[12+verLen : 16+verLen])
	return p, nil
}

// RegisterAccepted/RegisterRejected are the two status values carried
// in a CmdRegisterAck payload.
const (
	RegisterAccepted byte = 0
	RegisterRejected byte = 1
)

// MarshalRegisterAck encodes a one-byte acceptance status.
func MarshalRegisterAck(accepted bool) []byte {
	if accepted {
		return []byte{RegisterAccepted}
	}
	return []byte{RegisterRejected}
}

// UnmarshalRegisterAck decodes a CmdRegisterAck payload.
func UnmarshalRegisterAck(b []byte) (accepted bool, err error) {
	if len(b) < 1 {
		return false, fmt.Errorf("proto: empty register-ack payload")
	}
	return b[0] == RegisterAccepted, nil
}

// HeartbeatPayload is the body of a CmdHeartbeat frame. NodeCount is
// optional on the wire; HasNodeCount reports whether it was present.
type HeartbeatPayload struct {
	Timestamp    uint32
	NodeCount    uint8
	HasNodeCount bool
}

// MarshalHeartbeat encodes a heartbeat. When p.HasNodeCount is false
// the wire form omits the trailing byte, matching the "peer MUST
// accept both lengths" rule.
func MarshalHeartbeat(p HeartbeatPayload) []byte {
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], p.Timestamp)
	if !p.HasNodeCount {
		return ts[:]
	}
	return append(ts[:], p.NodeCount)
}

// UnmarshalHeartbeat decodes either the 4-byte or 5-byte heartbeat form.
func UnmarshalHeartbeat(b []byte) (HeartbeatPayload, error) {
	if len(b) < 4 {
		return HeartbeatPayload{}, fmt.Errorf("proto: short heartbeat payload: %d bytes", len(b))
	}
	p := HeartbeatPayload{Timestamp: binary.BigEndian.Uint32(b[0:4])}
	if len(b) >= 5 {
		p.NodeCount = b[4]
		p.HasNodeCount = true
	}
	return p, nil
}

// StateUpdatePayload is the body of a CmdStateUpdate frame.
type StateUpdatePayload struct {
	RootIP       [4]byte
	MeshID       MeshID
	Timestamp    uint32
	MeshState    uint8
	Nodes        []NodeEntry
	SeqActive    bool
	SeqPosition  uint16
	SeqTotal     uint16
	OTAActive    bool
	OTAPercent   uint8
}

// MarshalStateUpdate encodes a state snapshot. Errors if the node
// count can't fit in a single byte (>255 nodes), which the wire format
// cannot represent.
func MarshalStateUpdate(p StateUpdatePayload) ([]byte, error) {
	if len(p.Nodes) > 255 {
		return nil, fmt.Errorf("proto: too many nodes for state update: %d", len(p.Nodes))
	}
	b := make([]byte, 0, 23+NodeEntryWireSize*len(p.Nodes))
	b = append(b, p.RootIP[:]...)
	b = append(b, p.MeshID[:]...)
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], p.Timestamp)
	b = append(b, ts[:]...)
	b = append(b, p.MeshState, byte(len(p.Nodes)))
	for _, n := range p.Nodes {
		b = append(b, marshalNodeEntry(n)...)
	}
	b = append(b, boolByte(p.SeqActive))
	var seqPos, seqTotal [2]byte
	binary.BigEndian.PutUint16(seqPos[:], p.SeqPosition)
	binary.BigEndian.PutUint16(seqTotal[:], p.SeqTotal)
	b = append(b, seqPos[:]...)
	b = append(b, seqTotal[:]...)
	b = append(b, boolByte(p.OTAActive), p.OTAPercent)
	return b, nil
}

// UnmarshalStateUpdate decodes a state snapshot, validating the
// declared node-count against the remaining payload length before
// indexing into it.
func UnmarshalStateUpdate(b []byte) (StateUpdatePayload, error) {
	const fixedHead = 4 + 6 + 4 + 1 + 1 // rootIP+meshID+ts+meshState+nodeCount
	if len(b) < fixedHead {
		return StateUpdatePayload{}, fmt.Errorf("proto: short state-update payload: %d bytes", len(b))
	}
	var p StateUpdatePayload
	copy(p.RootIP[:], b[0:4])
	copy(p.MeshID[:], b[4:10])
	p.Timestamp = binary.BigEndian.Uint32(b[10:14])
	p.MeshState = b[14]
	nodeCount := int(b[15])

	off := 16
	const tailLen = 1 + 2 + 2 + 1 + 1 // seqActive+seqPos+seqTotal+otaActive+otaPct
	needed := off + nodeCount*NodeEntryWireSize + tailLen
	if len(b) < needed {
		return StateUpdatePayload{}, fmt.Errorf(
			"proto: state-update declares %d nodes but payload too short: need %d, have %d",
			nodeCount, needed, len(b))
	}

	p.Nodes = make([]NodeEntry, 0, nodeCount)
	for i := 0; i < nodeCount; i++ {
		entry, err := unmarshalNodeEntry(b[off : off+NodeEntryWireSize])
		if err != nil {
			return StateUpdatePayload{}, err
		}
		p.Nodes = append(p.Nodes, entry)
		off += NodeEntryWireSize
	}

	p.SeqActive = b[off] != 0
	off++
	p.SeqPosition = binary.BigEndian.Uint16(b[off : off+2])
	off += 2
	p.SeqTotal = binary.BigEndian.Uint16(b[off : off+2])
	off += 2
	p.OTAActive = b[off] != 0
	off++
	p.OTAPercent = b[off]

	return p, nil
}

// MirrorPayload is the body of a CmdMirror frame: an opaque mesh
// command observed by the root, wrapped with a timestamp.
type MirrorPayload struct {
	MeshCommand uint8
	MeshPayload []byte
	Timestamp   uint32
}

// MarshalMirror encodes a mirror payload.
func MarshalMirror(p MirrorPayload) []byte {
	b := make([]byte, 0, 7+len(p.MeshPayload))
	b = append(b, p.MeshCommand)
	var plen [2]byte
	binary.BigEndian.PutUint16(plen[:], uint16(len(p.MeshPayload)))
	b = append(b, plen[:]...)
	b = append(b, p.MeshPayload...)
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], p.Timestamp)
	b = append(b, ts[:]...)
	return b
}

// UnmarshalMirror decodes a mirror payload.
func UnmarshalMirror(b []byte) (MirrorPayload, error) {
	if len(b) < 7 {
		return MirrorPayload{}, fmt.Errorf("proto: short mirror payload: %d bytes", len(b))
	}
	cmd := b[0]
	plen := int(binary.BigEndian.Uint16(b[1:3]))
	if len(b) < 3+plen+4 {
		return MirrorPayload{}, fmt.Errorf("proto: mirror payload truncated: need %d, have %d", 3+plen+4, len(b))
	}
	payload := append([]byte(nil), b[3:3+plen]...)
	ts := binary.BigEndian.Uint32(b[3+plen : 7+plen])
	return MirrorPayload{MeshCommand: cmd, MeshPayload: payload, Timestamp: ts}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// --- RPC request payloads -------------------------------------------------

// ColorSetRequest encodes the body of a POST /api/color RPC.
type ColorSetRequest struct{ R, G, B uint8 }

func MarshalColorSetRequest(c ColorSetRequest) []byte { return []byte{c.R, c.G, c.B} }

func UnmarshalColorSetRequest(b []byte) (ColorSetRequest, error) {
	if len(b) < 3 {
		return ColorSetRequest{}, fmt.Errorf("proto: short color-set request: %d bytes", len(b))
	}
	return ColorSetRequest{R: b[0], G: b[1], B: b[2]}, nil
}

// OTARebootRequest encodes the body of a POST /api/ota/reboot RPC.
type OTARebootRequest struct{ Timeout, Delay uint16 }

func MarshalOTARebootRequest(r OTARebootRequest) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], r.Timeout)
	binary.BigEndian.PutUint16(b[2:4], r.Delay)
	return b
}

func UnmarshalOTARebootRequest(b []byte) (OTARebootRequest, error) {
	if len(b) < 4 {
		return OTARebootRequest{}, fmt.Errorf("proto: short ota-reboot request: %d bytes", len(b))
	}
	return OTARebootRequest{
		Timeout: binary.BigEndian.Uint16(b[0:2]),
		Delay:   binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// --- RPC response payloads (dual-width decode) ---------------------------

// DecodeNodeCount accepts either the 1-byte or 4-byte big-endian width
// for the `nodes` RPC response.
func DecodeNodeCount(b []byte) (uint32, error) {
	switch len(b) {
	case 1:
		return uint32(b[0]), nil
	case 4:
		return binary.BigEndian.Uint32(b), nil
	default:
		return 0, fmt.Errorf("proto: unexpected node-count response width: %d bytes", len(b))
	}
}

// EncodeNodeCount1 and EncodeNodeCount4 build the two accepted widths;
// the root handler always emits the narrow 1-byte form (it never has
// more than 255 children), but the decoder accepts both so a future
// root revision can widen it without breaking the coordinator.
func EncodeNodeCount1(n uint8) []byte { return []byte{n} }

func EncodeNodeCount4(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

// ColorResponse is the decoded body of a GET /api/color RPC response.
type ColorResponse struct {
	R, G, B uint8
	IsSet   bool
}

func MarshalColorResponse(c ColorResponse) []byte {
	return []byte{c.R, c.G, c.B, boolByte(c.IsSet)}
}

func DecodeColorResponse(b []byte) (ColorResponse, error) {
	if len(b) < 4 {
		return ColorResponse{}, fmt.Errorf("proto: short color response: %d bytes", len(b))
	}
	return ColorResponse{R: b[0], G: b[1], B: b[2], IsSet: b[3] != 0}, nil
}

// DecodeSequencePointer accepts either the 1-byte or 2-byte big-endian
// width for the sequence-pointer RPC response.
func DecodeSequencePointer(b []byte) (uint16, error) {
	switch len(b) {
	case 1:
		return uint16(b[0]), nil
	case 2:
		return binary.BigEndian.Uint16(b), nil
	default:
		return 0, fmt.Errorf("proto: unexpected sequence-pointer response width: %d bytes", len(b))
	}
}

func EncodeSequencePointer1(p uint8) []byte { return []byte{p} }

func EncodeSequencePointer2(p uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, p)
	return b
}

// DecodeSequenceStatus decodes the single-byte active flag.
func DecodeSequenceStatus(b []byte) (bool, error) {
	if len(b) < 1 {
		return false, fmt.Errorf("proto: empty sequence-status response")
	}
	return b[0] != 0, nil
}

func EncodeSequenceStatus(active bool) []byte { return []byte{boolByte(active)} }

// OTAStatusResponse is the normalized (0..1 progress) decode of an
// ota-status RPC response, regardless of which wire width produced it.
type OTAStatusResponse struct {
	Downloading bool
	Progress    float64 // normalized to [0,1]
}

// DecodeOTAStatus accepts either active(1)+progress(4BE float) or
// active(1)+progress(1, 0..100) and normalizes progress to [0,1].
func DecodeOTAStatus(b []byte) (OTAStatusResponse, error) {
	if len(b) < 2 {
		return OTAStatusResponse{}, fmt.Errorf("proto: short ota-status response: %d bytes", len(b))
	}
	active := b[0] != 0
	rest := b[1:]
	switch len(rest) {
	case 1:
		pct := float64(rest[0])
		if pct > 100 {
			pct = 100
		}
		return OTAStatusResponse{Downloading: active, Progress: pct / 100.0}, nil
	case 4:
		bits := binary.BigEndian.Uint32(rest)
		f := math.Float32frombits(bits)
		return OTAStatusResponse{Downloading: active, Progress: float64(f)}, nil
	default:
		return OTAStatusResponse{}, fmt.Errorf("proto: unexpected ota-status progress width: %d bytes", len(rest))
	}
}

// EncodeOTAStatusFloat builds the wide (4-byte IEEE-754 float) form.
func EncodeOTAStatusFloat(active bool, progress float32) []byte {
	b := make([]byte, 5)
	b[0] = boolByte(active)
	binary.BigEndian.PutUint32(b[1:5], math.Float32bits(progress))
	return b
}

// EncodeOTAStatusPercent builds the narrow (1-byte, 0..100) form.
func EncodeOTAStatusPercent(active bool, pct uint8) []byte {
	return []byte{boolByte(active), pct}
}

// DecodeOTAVersion decodes the length-prefixed UTF-8 version string.
func DecodeOTAVersion(b []byte) (string, error) {
	if len(b) < 1 {
		return "", fmt.Errorf("proto: empty ota-version response")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", fmt.Errorf("proto: ota-version truncated: need %d, have %d", 1+n, len(b))
	}
	return string(b[1 : 1+n]), nil
}

func EncodeOTAVersion(v string) ([]byte, error) {
	if len(v) > 255 {
		return nil, fmt.Errorf("proto: ota version too long: %d bytes", len(v))
	}
	b := make([]byte, 0, 1+len(v))
	b = append(b, byte(len(v)))
	b = append(b, v...)
	return b, nil
}

// MarshalSuccess encodes the common `{success:bool}` shaped response
// body used by most RPCs; on the wire it is a single byte.
func MarshalSuccess(ok bool) []byte { return []byte{boolByte(ok)} }

func DecodeSuccess(b []byte) (bool, error) {
	if len(b) < 1 {
		return false, fmt.Errorf("proto: empty success response")
	}
	return b[0] != 0, nil
}
