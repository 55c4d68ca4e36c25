package proto

import "testing"

func TestRegisterPayloadRoundTrip(t *testing.T) {
	p := RegisterPayload{
		RootIP:    [4]byte{192, 168, 1, 10},
		MeshID:    MeshID{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC},
		NodeCount: 5,
		Version:   "1.2.3",
		Timestamp: 1234567890,
	}
	b, err := MarshalRegister(p)
	if err != nil {
		t.Fatalf("MarshalRegister: %v", err)
	}
	got, err := UnmarshalRegister(b)
	if err != nil {
		t.Fatalf("UnmarshalRegister: %v", err)
	}
	if got != p {
		t.Errorf("got %+v, want %+v", got, p)
	}
	if got.MeshID.String() != "12:34:56:78:9A:BC" {
		t.Errorf("MeshID.String() = %q", got.MeshID.String())
	}
}

func TestRegisterVersionTooLong(t *testing.T) {
	p := RegisterPayload{Version: string(make([]byte, 32))}
	if _, err := MarshalRegister(p); err == nil {
		t.Fatal("expected error for oversized version")
	}
}

func TestHeartbeatBothWidths(t *testing.T) {
	narrow := MarshalHeartbeat(HeartbeatPayload{Timestamp: 100})
	if len(narrow) != 4 {
		t.Fatalf("narrow heartbeat length = %d, want 4", len(narrow))
	}
	got, err := UnmarshalHeartbeat(narrow)
	if err != nil || got.HasNodeCount {
		t.Fatalf("narrow decode = %+v, err %v", got, err)
	}

	wide := MarshalHeartbeat(HeartbeatPayload{Timestamp: 100, NodeCount: 9, HasNodeCount: true})
	if len(wide) != 5 {
		t.Fatalf("wide heartbeat length = %d, want 5", len(wide))
	}
	got, err = UnmarshalHeartbeat(wide)
	if err != nil || !got.HasNodeCount || got.NodeCount != 9 {
		t.Fatalf("wide decode = %+v, err %v", got, err)
	}
}

func TestStateUpdateRoundTripAndValidation(t *testing.T) {
	p := StateUpdatePayload{
		RootIP:    [4]byte{10, 0, 0, 1},
		MeshID:    MeshID{1, 2, 3, 4, 5, 6},
		Timestamp: 42,
		MeshState: 1,
		Nodes: []NodeEntry{
			{NodeID: [6]byte{1, 1, 1, 1, 1, 1}, Addr: [4]byte{10, 0, 0, 2}, Layer: 1, Role: NodeRoleChild, Status: NodeStatusConnected},
			{NodeID: [6]byte{2, 2, 2, 2, 2, 2}, Addr: [4]byte{10, 0, 0, 3}, Layer: 2, Role: NodeRoleLeaf, Status: NodeStatusDisconnected},
		},
		SeqActive:   true,
		SeqPosition: 3,
		SeqTotal:    10,
		OTAActive:   false,
		OTAPercent:  0,
	}
	b, err := MarshalStateUpdate(p)
	if err != nil {
		t.Fatalf("MarshalStateUpdate: %v", err)
	}

	wantSize := 23 + NodeEntryWireSize*len(p.Nodes)
	if len(b) != wantSize {
		t.Fatalf("encoded size = %d, want %d", len(b), wantSize)
	}

	got, err := UnmarshalStateUpdate(b)
	if err != nil {
		t.Fatalf("UnmarshalStateUpdate: %v", err)
	}
	if len(got.Nodes) != 2 || got.Nodes[0].NodeID != p.Nodes[0].NodeID {
		t.Fatalf("nodes round-trip mismatch: %+v", got.Nodes)
	}
	if got.SeqPosition != 3 || got.SeqTotal != 10 || !got.SeqActive {
		t.Fatalf("sequence fields mismatch: %+v", got)
	}

	// Corrupt the declared node count so it claims more nodes than fit.
	corrupt := append([]byte(nil), b...)
	corrupt[15] = 0xFF
	if _, err := UnmarshalStateUpdate(corrupt); err == nil {
		t.Fatal("expected error for node-count/length mismatch")
	}
}

func TestMirrorRoundTrip(t *testing.T) {
	p := MirrorPayload{MeshCommand: 3, MeshPayload: []byte{0xFF, 0x00, 0x00}, Timestamp: 555}
	b := MarshalMirror(p)
	got, err := UnmarshalMirror(b)
	if err != nil {
		t.Fatalf("UnmarshalMirror: %v", err)
	}
	if got.MeshCommand != p.MeshCommand || got.Timestamp != p.Timestamp {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestDualWidthNodeCount(t *testing.T) {
	n, err := DecodeNodeCount(EncodeNodeCount1(5))
	if err != nil || n != 5 {
		t.Fatalf("narrow: got %d, err %v", n, err)
	}
	n, err = DecodeNodeCount(EncodeNodeCount4(70000))
	if err != nil || n != 70000 {
		t.Fatalf("wide: got %d, err %v", n, err)
	}
}

func TestDualWidthSequencePointer(t *testing.T) {
	p, err := DecodeSequencePointer(EncodeSequencePointer1(9))
	if err != nil || p != 9 {
		t.Fatalf("narrow: got %d, err %v", p, err)
	}
	p, err = DecodeSequencePointer(EncodeSequencePointer2(2000))
	if err != nil || p != 2000 {
		t.Fatalf("wide: got %d, err %v", p, err)
	}
}

func TestDualWidthOTAStatusNormalizes(t *testing.T) {
	r, err := DecodeOTAStatus(EncodeOTAStatusPercent(true, 50))
	if err != nil || !r.Downloading || r.Progress != 0.5 {
		t.Fatalf("percent form: got %+v, err %v", r, err)
	}

	r, err = DecodeOTAStatus(EncodeOTAStatusFloat(true, 0.75))
	if err != nil || !r.Downloading || r.Progress < 0.749 || r.Progress > 0.751 {
		t.Fatalf("float form: got %+v, err %v", r, err)
	}
}

func TestOTAVersionRoundTrip(t *testing.T) {
	b, err := EncodeOTAVersion("1.4.2-rc1")
	if err != nil {
		t.Fatalf("EncodeOTAVersion: %v", err)
	}
	got, err := DecodeOTAVersion(b)
	if err != nil || got != "1.4.2-rc1" {
		t.Fatalf("got %q, err %v", got, err)
	}
}

func TestColorRoundTrip(t *testing.T) {
	req := ColorSetRequest{R: 255, G: 0, B: 10}
	b := MarshalColorSetRequest(req)
	got, err := UnmarshalColorSetRequest(b)
	if err != nil || got != req {
		t.Fatalf("got %+v, err %v", got, err)
	}

	resp := ColorResponse{R: 1, G: 2, B: 3, IsSet: true}
	rb := MarshalColorResponse(resp)
	gotResp, err := DecodeColorResponse(rb)
	if err != nil || gotResp != resp {
		t.Fatalf("got %+v, err %v", gotResp, err)
	}
}
