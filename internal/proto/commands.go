package proto

import "fmt"

// WireProtocolVersion is advertised over mDNS/broadcast discovery so
// roots and the coordinator can detect a framing mismatch before ever
// exchanging a datagram.
const WireProtocolVersion = "1"

// Command identifies the type of a bridge datagram. The set is closed:
// every value the bridge ever sends or accepts is named below.
type Command uint8

const (
	// CmdRegister is sent by the root to announce itself to the
	// coordinator. Carries a SEQ and expects a CmdRegisterAck response
	// within the registration engine's ACK timeout.
	CmdRegister Command = 0xE0

	// CmdHeartbeat is a fire-and-forget liveness beat from root to
	// coordinator. No SEQ, no response.
	CmdHeartbeat Command = 0xE1

	// CmdStateUpdate carries a full mesh-state snapshot. Fire-and-forget,
	// no SEQ, no response.
	CmdStateUpdate Command = 0xE2

	// CmdRegisterAck is the coordinator's response to CmdRegister.
	CmdRegisterAck Command = 0xE3

	// CmdMirror is a fire-and-forget copy of a mesh command the root just
	// sent into the mesh, forwarded to the coordinator for observation.
	CmdMirror Command = 0xE6

	// RPCRangeStart and RPCRangeEnd bound the inclusive range of RPC API
	// commands. Every command in this range carries a SEQ and expects a
	// response.
	RPCRangeStart Command = 0xE7
	RPCRangeEnd   Command = 0xFF
)

// Concrete RPC command ids: one fixed id per API operation, no
// aliasing and no reuse across operations.
const (
	RPCNodes                    Command = 0xE7
	RPCColorGet                 Command = 0xE8
	RPCColorSet                 Command = 0xE9
	RPCSequenceUpload           Command = 0xEA
	RPCSequencePointer          Command = 0xEB
	RPCSequenceStart            Command = 0xEC
	RPCSequenceStop             Command = 0xED
	RPCSequenceReset            Command = 0xEE
	RPCSequenceStatus           Command = 0xEF
	RPCOTADownload              Command = 0xF0
	RPCOTAStatus                Command = 0xF1
	RPCOTAVersion               Command = 0xF2
	RPCOTACancel                Command = 0xF3
	RPCOTADistribute            Command = 0xF4
	RPCOTADistributionStatus    Command = 0xF5
	RPCOTADistributionProgress  Command = 0xF6
	RPCOTADistributionCancel    Command = 0xF7
	RPCOTAReboot                Command = 0xF8
)

// IsRPC reports whether cmd falls in the RPC API range and therefore
// carries a SEQ and expects a response.
func (c Command) IsRPC() bool {
	return c >= RPCRangeStart && c <= RPCRangeEnd
}

// HasSeq reports whether frames of this command carry a SEQ field.
// Only Register and RPC commands do.
func (c Command) HasSeq() bool {
	return c == CmdRegister || c.IsRPC()
}

// String gives a human-readable name for logging; unknown commands are
// rendered with their numeric value so logs stay legible even for
// commands added after this list.
func (c Command) String() string {
	switch c {
	case CmdRegister:
		return "register"
	case CmdHeartbeat:
		return "heartbeat"
	case CmdStateUpdate:
		return "state_update"
	case CmdRegisterAck:
		return "register_ack"
	case CmdMirror:
		return "mirror"
	case RPCNodes:
		return "rpc_nodes"
	case RPCColorGet:
		return "rpc_color_get"
	case RPCColorSet:
		return "rpc_color_set"
	case RPCSequenceUpload:
		return "rpc_sequence_upload"
	case RPCSequencePointer:
		return "rpc_sequence_pointer"
	case RPCSequenceStart:
		return "rpc_sequence_start"
	case RPCSequenceStop:
		return "rpc_sequence_stop"
	case RPCSequenceReset:
		return "rpc_sequence_reset"
	case RPCSequenceStatus:
		return "rpc_sequence_status"
	case RPCOTADownload:
		return "rpc_ota_download"
	case RPCOTAStatus:
		return "rpc_ota_status"
	case RPCOTAVersion:
		return "rpc_ota_version"
	case RPCOTACancel:
		return "rpc_ota_cancel"
	case RPCOTADistribute:
		return "rpc_ota_distribute"
	case RPCOTADistributionStatus:
		return "rpc_ota_distribution_status"
	case RPCOTADistributionProgress:
		return "rpc_ota_distribution_progress"
	case RPCOTADistributionCancel:
		return "rpc_ota_distribution_cancel"
	case RPCOTAReboot:
		return "rpc_ota_reboot"
	default:
		if c.IsRPC() {
			return fmt.Sprintf("rpc_unknown(0x%02X)", uint8(c))
		}
		return fmt.Sprintf("unknown(0x%02X)", uint8(c))
	}
}
