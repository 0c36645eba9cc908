package client

import (
	"testing"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

func TestSequencer_StampsMonotonically(t *testing.T) {
	s := NewSequencer(8)
	for want := uint32(1); want <= 5; want++ {
		cmd := s.Next(sim.Command{Buttons: sim.ButtonUp})
		if cmd.Sequence != want {
			t.Fatalf("sequence: got %d, want %d", cmd.Sequence, want)
		}
	}
	if s.Len() != 5 {
		t.Fatalf("len: got %d, want 5", s.Len())
	}
}

func TestSequencer_RecentReturnsNewestTail(t *testing.T) {
	s := NewSequencer(8)
	for i := 0; i < 6; i++ {
		s.Next(sim.Command{})
	}
	recent := s.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("recent len: got %d, want 3", len(recent))
	}
	for i, want := range []uint32{4, 5, 6} {
		if recent[i].Sequence != want {
			t.Fatalf("recent[%d]: got %d, want %d", i, recent[i].Sequence, want)
		}
	}

	// Fewer retained than requested: all of them.
	s.Ack(5)
	recent = s.Recent(3)
	if len(recent) != 1 || recent[0].Sequence != 6 {
		t.Fatalf("recent after ack: %+v", recent)
	}
}

func TestSequencer_AckPrunesAndNeverRegresses(t *testing.T) {
	s := NewSequencer(16)
	for i := 0; i < 6; i++ {
		s.Next(sim.Command{})
	}
	s.Ack(4)
	un := s.Unacked()
	if len(un) != 2 || un[0].Sequence != 5 || un[1].Sequence != 6 {
		t.Fatalf("unacked after ack 4: %+v", un)
	}
	// An older ack changes nothing.
	s.Ack(2)
	if s.Len() != 2 {
		t.Fatalf("len after stale ack: got %d, want 2", s.Len())
	}
	// Ack of everything empties the window.
	s.Ack(100)
	if s.Len() != 0 {
		t.Fatalf("len after full ack: got %d, want 0", s.Len())
	}
}

func TestSequencer_WindowOverflowDropsOldest(t *testing.T) {
	s := NewSequencer(4)
	for i := 0; i < 6; i++ {
		s.Next(sim.Command{})
	}
	un := s.Unacked()
	if len(un) != 4 || un[0].Sequence != 3 || un[3].Sequence != 6 {
		t.Fatalf("window contents: %+v", un)
	}
}
