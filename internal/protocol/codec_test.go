package protocol

import (
	"fmt"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	in := InputMsg{
		SnapshotEcho: 1234567,
		Commands: []CommandRecord{
			{Seq: 41, Buttons: 3, AimX: 0.5, AimY: -1, Tick: 100},
			{Seq: 42, Buttons: 1, AimX: 1, AimY: 0, Tick: 101},
		},
	}
	b, err := Encode(FrameInput, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, payload, err := DecodeFrame(b)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame != FrameInput {
		t.Fatalf("frame = %d, want %d", frame, FrameInput)
	}
	var out InputMsg
	if err := Decode(payload, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(out.Commands) != 2 || out.Commands[1].Seq != 42 || out.SnapshotEcho != 1234567 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestEncodeCompressed_LargeSnapshot(t *testing.T) {
	snap := SnapshotMsg{Tick: 900, LastInput: 77, SentAtMs: 1700000000000}
	for i := 0; i < 200; i++ {
		snap.Entities = append(snap.Entities, EntityRecord{
			ID: fmt.Sprintf("E%d", i+1), X: float64(i), Y: -float64(i), Yaw: 1.5,
		})
	}

	b, err := EncodeCompressed(FrameSnapshot, snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[1] != codecZstd {
		t.Fatalf("large snapshot should be compressed, codec byte = %d", b[1])
	}

	frame, payload, err := DecodeFrame(b)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame != FrameSnapshot {
		t.Fatalf("frame = %d, want %d", frame, FrameSnapshot)
	}
	var out SnapshotMsg
	if err := Decode(payload, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if out.Tick != 900 || len(out.Entities) != 200 || out.Entities[199].ID != "E200" {
		t.Fatalf("round trip mismatch: tick=%d entities=%d", out.Tick, len(out.Entities))
	}
}

func TestEncodeCompressed_SmallStaysRaw(t *testing.T) {
	snap := SnapshotMsg{Tick: 1, Entities: []EntityRecord{{ID: "E1"}}}
	b, err := EncodeCompressed(FrameSnapshot, snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[1] != codecRaw {
		t.Fatalf("small snapshot should stay raw, codec byte = %d", b[1])
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	if _, _, err := DecodeFrame(nil); err == nil {
		t.Fatalf("nil frame should fail")
	}
	if _, _, err := DecodeFrame([]byte{FrameInput}); err == nil {
		t.Fatalf("headerless frame should fail")
	}
	if _, _, err := DecodeFrame([]byte{FrameInput, 9, 0x01}); err == nil {
		t.Fatalf("unknown codec byte should fail")
	}
	if _, _, err := DecodeFrame([]byte{FrameSnapshot, codecZstd, 0xde, 0xad}); err == nil {
		t.Fatalf("corrupt zstd payload should fail")
	}
}
