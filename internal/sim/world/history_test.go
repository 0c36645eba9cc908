package world

import (
	"testing"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

func entityAt(id string, x, y float64) *Entity {
	return &Entity{ID: id, State: sim.EntityState{Pos: sim.Vec2{X: x, Y: y}}}
}

func TestHistoryBuffer_RecordAndLookup(t *testing.T) {
	b := NewHistoryBuffer(4)
	ents := map[string]*Entity{"P1": entityAt("P1", 1, 2)}
	for tick := uint64(0); tick < 3; tick++ {
		ents["P1"].State.Pos.X = float64(tick)
		b.Record(tick, ents)
	}

	frame, ok := b.At(1)
	if !ok {
		t.Fatalf("tick 1 missing")
	}
	if got := frame["P1"].X; got != 1 {
		t.Fatalf("tick 1 pos: got %v, want 1", got)
	}
	if _, ok := b.At(3); ok {
		t.Fatalf("unrecorded tick resolved")
	}
}

func TestHistoryBuffer_OverwrittenTickIsGone(t *testing.T) {
	b := NewHistoryBuffer(4)
	ents := map[string]*Entity{"P1": entityAt("P1", 0, 0)}
	for tick := uint64(0); tick < 6; tick++ {
		b.Record(tick, ents)
	}
	// Capacity 4 at newest 5 keeps ticks 2..5.
	if _, ok := b.At(1); ok {
		t.Fatalf("tick 1 should have been overwritten")
	}
	if _, ok := b.At(2); !ok {
		t.Fatalf("tick 2 should still resolve")
	}
	if got := b.OldestTick(5); got != 2 {
		t.Fatalf("oldest: got %d, want 2", got)
	}
}

func TestHistoryBuffer_OldestTickEarlyWorld(t *testing.T) {
	b := NewHistoryBuffer(32)
	if got := b.OldestTick(3); got != 0 {
		t.Fatalf("oldest at newest=3: got %d, want 0", got)
	}
}

func TestHistoryBuffer_RemoveEntityScrubsAllFrames(t *testing.T) {
	b := NewHistoryBuffer(8)
	ents := map[string]*Entity{
		"P1": entityAt("P1", 0, 0),
		"P2": entityAt("P2", 5, 5),
	}
	for tick := uint64(0); tick < 5; tick++ {
		b.Record(tick, ents)
	}
	b.RemoveEntity("P2")
	for tick := uint64(0); tick < 5; tick++ {
		frame, ok := b.At(tick)
		if !ok {
			t.Fatalf("tick %d missing", tick)
		}
		if _, present := frame["P2"]; present {
			t.Fatalf("tick %d still holds removed entity", tick)
		}
		if _, present := frame["P1"]; !present {
			t.Fatalf("tick %d lost surviving entity", tick)
		}
	}
}
