package world

import (
	"fmt"
	"testing"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

// scriptedInputs builds the packet P1 would send at tick: the newest
// command plus two redundant predecessors, with every 7th packet lost.
func scriptedInputs(tick uint64) []InputEnvelope {
	if tick < 1 || tick%7 == 0 {
		return nil
	}
	var recs []protocol.CommandRecord
	for s := int64(tick) - 2; s <= int64(tick); s++ {
		if s < 1 {
			continue
		}
		recs = append(recs, protocol.CommandRecord{
			Seq:     uint32(s),
			Buttons: uint8(sim.ButtonUp | sim.ButtonRight),
			AimX:    1,
			AimY:    0.25,
			Tick:    uint64(s),
		})
	}
	return []InputEnvelope{{EntityID: "P1", Msg: protocol.InputMsg{Commands: recs}}}
}

func TestDeterminism_SameStreamSameDigests(t *testing.T) {
	mk := func() *World {
		w, err := New(testConfig())
		if err != nil {
			t.Fatalf("new world: %v", err)
		}
		w.step([]JoinRequest{{Name: "a"}, {Name: "b"}}, nil, nil, nil)
		return w
	}
	w1 := mk()
	w2 := mk()

	for tick := uint64(1); tick <= 60; tick++ {
		var leaves []string
		if tick == 30 {
			leaves = []string{"P2"}
		}
		var joins []JoinRequest
		if tick == 40 {
			joins = []JoinRequest{{Name: "c"}}
		}
		var claims1, claims2 []ClaimEnvelope
		if tick%10 == 0 {
			c := protocol.HitClaimMsg{ClaimID: fmt.Sprintf("C%d", tick), AimX: 1, RenderTick: tick - 2}
			claims1 = []ClaimEnvelope{{EntityID: "P1", Claim: c}}
			claims2 = []ClaimEnvelope{{EntityID: "P1", Claim: c}}
		}

		t1, d1 := w1.StepOnce(joins, leaves, scriptedInputs(tick), claims1)
		t2, d2 := w2.StepOnce(joins, leaves, scriptedInputs(tick), claims2)
		if t1 != tick || t2 != tick {
			t.Fatalf("tick skew: %d vs %d, want %d", t1, t2, tick)
		}
		if d1 != d2 {
			t.Fatalf("digest mismatch at tick %d:\n%s\n%s", tick, d1, d2)
		}
	}
}

func TestReplay_JournalReproducesDigests(t *testing.T) {
	w1, err := New(testConfig())
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	log := &captureLogger{}
	w1.SetTickLogger(log)

	w1.step([]JoinRequest{{Name: "a"}, {Name: "b"}}, nil, nil, nil)
	for tick := uint64(1); tick <= 40; tick++ {
		var leaves []string
		if tick == 25 {
			leaves = []string{"P2"}
		}
		var claims []ClaimEnvelope
		if tick%9 == 0 {
			claims = []ClaimEnvelope{{
				EntityID: "P1",
				Claim:    protocol.HitClaimMsg{ClaimID: fmt.Sprintf("C%d", tick), AimX: 1, AimY: 1, RenderTick: tick - 1},
			}}
		}
		w1.step(nil, leaves, scriptedInputs(tick), claims)
	}

	w2, err := New(testConfig())
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	for _, entry := range log.entries {
		var joins []JoinRequest
		for _, j := range entry.Joins {
			joins = append(joins, JoinRequest{Name: j.Name})
		}
		var envs []InputEnvelope
		for _, in := range entry.Inputs {
			envs = append(envs, InputEnvelope{EntityID: in.EntityID, Msg: protocol.InputMsg{Commands: in.Commands}})
		}
		var claims []ClaimEnvelope
		for _, c := range entry.Claims {
			claims = append(claims, ClaimEnvelope{EntityID: c.EntityID, Claim: c.Claim})
		}
		tick, digest := w2.StepOnce(joins, entry.Leaves, envs, claims)
		if tick != entry.Tick {
			t.Fatalf("replay tick: got %d, want %d", tick, entry.Tick)
		}
		if digest != entry.Digest {
			t.Fatalf("replay digest diverged at tick %d", tick)
		}
	}
}

func TestDeterminism_DigestCoversQueueState(t *testing.T) {
	w1, err := New(testConfig())
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	w2, err := New(testConfig())
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	w1.step([]JoinRequest{{Name: "a"}}, nil, nil, nil)
	w2.step([]JoinRequest{{Name: "a"}}, nil, nil, nil)

	// Same applied command, but w1 has an extra future command buffered.
	recs := []protocol.CommandRecord{{Seq: 1, Buttons: uint8(sim.ButtonUp)}}
	recsAhead := []protocol.CommandRecord{{Seq: 1, Buttons: uint8(sim.ButtonUp)}, {Seq: 3, Buttons: uint8(sim.ButtonDown)}}
	_, d1 := w1.StepOnce(nil, nil, []InputEnvelope{{EntityID: "P1", Msg: protocol.InputMsg{Commands: recsAhead}}}, nil)
	_, d2 := w2.StepOnce(nil, nil, []InputEnvelope{{EntityID: "P1", Msg: protocol.InputMsg{Commands: recs}}}, nil)
	if d1 == d2 {
		t.Fatalf("digest ignored buffered commands")
	}
}
