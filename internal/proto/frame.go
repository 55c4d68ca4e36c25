package proto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MaxPacketSize is the largest frame the codec will produce or accept,
// chosen so every frame fits one unfragmented Ethernet datagram.
const MaxPacketSize = 1472

// minFrameLen is CMD(1)+LEN(2)+CHKSUM(2) with zero payload and no SEQ.
const minFrameLen = 5

// minRPCFrameLen additionally reserves the 2-byte SEQ field.
const minRPCFrameLen = 7

// ErrPacketTooLarge is returned by Encode when the resulting frame would
// exceed MaxPacketSize. The caller must never truncate or fragment; it
// must surface the error.
var ErrPacketTooLarge = errors.New("proto: encoded packet exceeds MTU")

// ChecksumPolicy controls how a Decoder treats checksum mismatches.
type ChecksumPolicy int

const (
	// ChecksumStrictDrop rejects any frame whose checksum does not
	// verify. This is the default.
	ChecksumStrictDrop ChecksumPolicy = iota
	// ChecksumLenient logs-and-continues on checksum mismatch instead of
	// dropping the frame. Callers must opt into it explicitly.
	ChecksumLenient
)

// DropReason classifies why Decode rejected a frame, for the per-reason
// drop counters below.
type DropReason string

const (
	DropTooShort       DropReason = "too_short"
	DropTooLarge       DropReason = "too_large"
	DropLengthMismatch DropReason = "length_mismatch"
	DropChecksum       DropReason = "checksum"
)

var decodeDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meshbridge",
	Subsystem: "proto",
	Name:      "decode_drops_total",
	Help:      "Frames dropped by the decoder, labeled by reason.",
}, []string{"reason"})

func init() {
	prometheus.MustRegister(decodeDrops)
}

// Frame is a fully parsed, checksum-verified bridge datagram.
type Frame struct {
	Command Command
	Seq     uint16 // valid only when Command.HasSeq()
	Payload []byte
}

// Decoder decodes bridge datagrams according to a fixed checksum policy.
type Decoder struct {
	Policy ChecksumPolicy
}

// NewDecoder builds a Decoder with the strict-drop default. Use
// NewLenientDecoder only when an explicit opt-in is required.
func NewDecoder() *Decoder { return &Decoder{Policy: ChecksumStrictDrop} }

// NewLenientDecoder builds a Decoder that logs-and-continues on
// checksum mismatch rather than dropping the frame.
func NewLenientDecoder() *Decoder { return &Decoder{Policy: ChecksumLenient} }

// checksum16 computes the 16-bit modular sum of every byte in data.
func checksum16(data []byte) uint16 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return uint16(sum)
}

// Encode builds a wire frame for cmd/seq/payload. seq is ignored (and
// may be zero) for commands that do not carry a SEQ. Encode refuses
// (ErrPacketTooLarge) rather than truncate or fragment when the result
// would exceed MaxPacketSize.
func Encode(cmd Command, seq uint16, payload []byte) ([]byte, error) {
	hasSeq := cmd.HasSeq()
	headerLen := 3 // CMD + LEN
	if hasSeq {
		headerLen += 2
	}
	total := headerLen + len(payload) + 2 // + CHKSUM
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLarge, total, MaxPacketSize)
	}

	buf := make([]byte, total)
	buf[0] = byte(cmd)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(payload)))
	off := 3
	if hasSeq {
		binary.BigEndian.PutUint16(buf[off:off+2], seq)
		off += 2
	}
	copy(buf[off:], payload)
	off += len(payload)

	chk := checksum16(buf[:off])
	binary.BigEndian.PutUint16(buf[off:off+2], chk)
	return buf, nil
}

// Decode parses and validates a wire frame. On any framing defect
// (short packet, length mismatch, bad checksum under the strict
// policy) Decode returns an error and bumps the matching drop counter;
// it never panics and never signals the peer.
func (d *Decoder) Decode(raw []byte) (Frame, error) {
	if len(raw) > MaxPacketSize {
		decodeDrops.WithLabelValues(string(DropTooLarge)).Inc()
		return Frame{}, fmt.Errorf("proto: frame too large: %d bytes", len(raw))
	}
	if len(raw) < minFrameLen {
		decodeDrops.WithLabelValues(string(DropTooShort)).Inc()
		return Frame{}, fmt.Errorf("proto: frame too short: %d bytes", len(raw))
	}

	cmd := Command(raw[0])
	declaredLen := int(binary.BigEndian.Uint16(raw[1:3]))
	hasSeq := cmd.HasSeq()

	off := 3
	var seq uint16
	if hasSeq {
		if len(raw) < minRPCFrameLen {
			decodeDrops.WithLabelValues(string(DropTooShort)).Inc()
			return Frame{}, fmt.Errorf("proto: rpc frame too short: %d bytes", len(raw))
		}
		seq = binary.BigEndian.Uint16(raw[off : off+2])
		off += 2
	}

	wantLen := off + declaredLen + 2
	if wantLen != len(raw) {
		decodeDrops.WithLabelValues(string(DropLengthMismatch)).Inc()
		return Frame{}, fmt.Errorf("proto: length mismatch: declared %d, frame has %d bytes of room",
			declaredLen, len(raw)-off-2)
	}

	payload := raw[off : off+declaredLen]
	chkOff := off + declaredLen
	gotChk := binary.BigEndian.Uint16(raw[chkOff : chkOff+2])
	wantChk := checksum16(raw[:chkOff])

	if gotChk != wantChk {
		decodeDrops.WithLabelValues(string(DropChecksum)).Inc()
		if d.Policy == ChecksumStrictDrop {
			return Frame{}, fmt.Errorf("proto: checksum mismatch for %s", cmd)
		}
		// Lenient: fall through and return the frame anyway.
	}

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return Frame{Command: cmd, Seq: seq, Payload: payloadCopy}, nil
}
