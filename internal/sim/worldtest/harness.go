// Package worldtest drives a world through whole-tick scenarios the way
// the live server loop would, with buffered channels standing in for
// websocket connections. Tests here cross package lines on purpose:
// they pair the server world with the client-side prediction pipeline
// and check that the two ends agree.
package worldtest

import (
	"testing"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
)

// session is one fake connected client: its frame channel plus everything
// decoded off it so far.
type session struct {
	EntityID string
	Out      chan []byte

	lastSnap protocol.SnapshotMsg
	hasSnap  bool
	results  []protocol.HitResultMsg
	errors   []protocol.ErrorMsg
}

// Harness steps a world tick by tick from a test and drains every frame
// the world pushes to its clients after each step.
type Harness struct {
	T *testing.T
	W *world.World

	sessions map[string]*session
}

func NewHarness(t *testing.T, cfg world.Config) *Harness {
	t.Helper()
	w, err := world.New(cfg)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return &Harness{T: t, W: w, sessions: map[string]*session{}}
}

// Join adds one player and returns its entity id. Joining consumes a
// tick, exactly as it does on the live loop.
func (h *Harness) Join(name string) string {
	h.T.Helper()
	out := make(chan []byte, 64)
	resp := make(chan world.JoinResponse, 1)
	h.W.StepOnce([]world.JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil, nil)
	welcome := (<-resp).Welcome
	if welcome.EntityID == "" {
		h.T.Fatalf("join returned empty entity id")
	}
	h.sessions[welcome.EntityID] = &session{EntityID: welcome.EntityID, Out: out}
	h.drainAll()
	return welcome.EntityID
}

// Leave removes a player on the next tick.
func (h *Harness) Leave(entityID string) {
	h.T.Helper()
	h.W.StepOnce(nil, []string{entityID}, nil, nil)
	h.drainAll()
	delete(h.sessions, entityID)
}

// Step advances one tick with the given traffic and returns the stepped
// tick and its state digest.
func (h *Harness) Step(inputs []world.InputEnvelope, claims []world.ClaimEnvelope) (uint64, string) {
	h.T.Helper()
	tick, digest := h.W.StepOnce(nil, nil, inputs, claims)
	h.drainAll()
	return tick, digest
}

// StepNoop advances one tick with no client traffic at all.
func (h *Harness) StepNoop() (uint64, string) {
	h.T.Helper()
	return h.Step(nil, nil)
}

// LastSnap returns the most recent snapshot decoded for the entity.
func (h *Harness) LastSnap(entityID string) protocol.SnapshotMsg {
	h.T.Helper()
	s := h.sessions[entityID]
	if s == nil || !s.hasSnap {
		h.T.Fatalf("no snapshot seen for %s", entityID)
	}
	return s.lastSnap
}

// Results returns every hit result delivered to the entity so far.
func (h *Harness) Results(entityID string) []protocol.HitResultMsg {
	s := h.sessions[entityID]
	if s == nil {
		return nil
	}
	return s.results
}

// Errors returns every error frame delivered to the entity so far.
func (h *Harness) Errors(entityID string) []protocol.ErrorMsg {
	s := h.sessions[entityID]
	if s == nil {
		return nil
	}
	return s.errors
}

// SnapState extracts one entity's authoritative state from a snapshot.
func SnapState(t *testing.T, snap protocol.SnapshotMsg, entityID string) sim.EntityState {
	t.Helper()
	for _, rec := range snap.Entities {
		if rec.ID == entityID {
			return sim.EntityState{
				Pos:       sim.Vec2{X: rec.X, Y: rec.Y},
				Vel:       sim.Vec2{X: rec.VX, Y: rec.VY},
				Yaw:       rec.Yaw,
				LastInput: snap.LastInput,
			}
		}
	}
	t.Fatalf("entity %s not in snapshot tick %d", entityID, snap.Tick)
	return sim.EntityState{}
}

// Input wraps commands in the envelope the transport would deliver.
func Input(entityID string, cmds ...protocol.CommandRecord) world.InputEnvelope {
	return world.InputEnvelope{EntityID: entityID, Msg: protocol.InputMsg{Commands: cmds}}
}

// Claim wraps one hit claim in its transport envelope.
func Claim(entityID string, claim protocol.HitClaimMsg) world.ClaimEnvelope {
	return world.ClaimEnvelope{EntityID: entityID, Claim: claim}
}

// Records converts sequenced commands to the wire records a client's
// redundant input packet would carry.
func Records(cmds []sim.Command) []protocol.CommandRecord {
	recs := make([]protocol.CommandRecord, 0, len(cmds))
	for _, c := range cmds {
		recs = append(recs, protocol.CommandRecord{
			Seq:     c.Sequence,
			Buttons: uint8(c.Buttons),
			AimX:    c.AimX,
			AimY:    c.AimY,
			Tick:    c.ClientTick,
		})
	}
	return recs
}

func (h *Harness) drainAll() {
	h.T.Helper()
	for _, s := range h.sessions {
		h.drain(s)
	}
}

func (h *Harness) drain(s *session) {
	for {
		select {
		case raw := <-s.Out:
			h.decodeFrame(s, raw)
		default:
			return
		}
	}
}

func (h *Harness) decodeFrame(s *session, raw []byte) {
	h.T.Helper()
	frame, payload, err := protocol.DecodeFrame(raw)
	if err != nil {
		h.T.Fatalf("decode frame for %s: %v", s.EntityID, err)
	}
	switch frame {
	case protocol.FrameSnapshot:
		var snap protocol.SnapshotMsg
		if err := protocol.Decode(payload, &snap); err != nil {
			h.T.Fatalf("decode snapshot for %s: %v", s.EntityID, err)
		}
		s.lastSnap = snap
		s.hasSnap = true
	case protocol.FrameHitResult:
		var res protocol.HitResultMsg
		if err := protocol.Decode(payload, &res); err != nil {
			h.T.Fatalf("decode hit result for %s: %v", s.EntityID, err)
		}
		s.results = append(s.results, res)
	case protocol.FrameError:
		var msg protocol.ErrorMsg
		if err := protocol.Decode(payload, &msg); err != nil {
			h.T.Fatalf("decode error frame for %s: %v", s.EntityID, err)
		}
		s.errors = append(s.errors, msg)
	default:
		h.T.Fatalf("unexpected frame type %d for %s", frame, s.EntityID)
	}
}
