package proto

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		seq     uint16
		payload []byte
	}{
		{"heartbeat without seq", CmdHeartbeat, 0, []byte{1, 2, 3, 4}},
		{"register with seq", CmdRegister, 42, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
		{"rpc with seq and empty payload", RPCNodes, 7, nil},
		{"mirror fire and forget", CmdMirror, 0, []byte{0xAA, 0xBB, 0xCC}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.cmd, tt.seq, tt.payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			dec := NewDecoder()
			got, err := dec.Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			if got.Command != tt.cmd {
				t.Errorf("command = %v, want %v", got.Command, tt.cmd)
			}
			if tt.cmd.HasSeq() && got.Seq != tt.seq {
				t.Errorf("seq = %d, want %d", got.Seq, tt.seq)
			}
			if !bytes.Equal(got.Payload, tt.payload) && !(len(got.Payload) == 0 && len(tt.payload) == 0) {
				t.Errorf("payload = %v, want %v", got.Payload, tt.payload)
			}
		})
	}
}

func TestDecodeRejectsBitFlip(t *testing.T) {
	frame, err := Encode(CmdHeartbeat, 0, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := NewDecoder()
	for i := range frame {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), frame...)
			flipped[i] ^= 1 << bit
			if _, err := dec.Decode(flipped); err == nil {
				t.Fatalf("bit flip at byte %d bit %d was accepted", i, bit)
			}
		}
	}
}

func TestLenientDecoderAcceptsBadChecksum(t *testing.T) {
	frame, err := Encode(CmdHeartbeat, 0, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF

	dec := NewLenientDecoder()
	if _, err := dec.Decode(frame); err != nil {
		t.Fatalf("lenient decoder rejected frame: %v", err)
	}
}

func TestEncodeRefusesOverMTU(t *testing.T) {
	payload := make([]byte, MaxPacketSize)
	if _, err := Encode(CmdStateUpdate, 0, payload); err == nil {
		t.Fatal("expected ErrPacketTooLarge, got nil")
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	dec := NewDecoder()
	if _, err := dec.Decode([]byte{0xE1, 0x00}); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	frame, err := Encode(CmdHeartbeat, 0, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Lie about the length field.
	frame[1] = 0xFF
	dec := NewDecoder()
	if _, err := dec.Decode(frame); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
