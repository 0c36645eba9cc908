package world

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

type counters struct {
	staleInputs     uint64
	duplicateInputs uint64
	floodRejects    uint64
	heldSteps       uint64
	claimsResolved  uint64
	claimsHit       uint64
	claimsClamped   uint64
	claimsRejected  uint64
}

// step advances the world by exactly one tick. Everything that mutates
// state happens here, in a fixed order, so that two worlds fed the same
// journal produce the same digests tick for tick.
func (w *World) step(joins []JoinRequest, leaves []string, inputs []InputEnvelope, claims []ClaimEnvelope) {
	nowTick := w.tick.Load()

	// Leaves then joins at the tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := w.entities[id]; ok {
			w.handleLeave(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.joinEntity(req.Name, req.Out)
		if req.Resp != nil {
			req.Resp <- resp
		}
		recordedJoins = append(recordedJoins, RecordedJoin{EntityID: resp.Welcome.EntityID, Name: req.Name})
	}

	// File arriving commands in server receive order. The queue decides
	// per command whether it is new, a redundant resend, or stale.
	recordedInputs := make([]RecordedInput, 0, len(inputs))
	for _, env := range inputs {
		e := w.entities[env.EntityID]
		if e == nil {
			continue
		}
		w.observeEcho(env)
		flooded := false
		for _, rec := range env.Msg.Commands {
			switch e.Queue.Push(commandFromRecord(rec)) {
			case PushStale:
				w.counters.staleInputs++
			case PushDuplicate:
				w.counters.duplicateInputs++
			case PushTooFarAhead:
				w.counters.floodRejects++
				flooded = true
			}
		}
		if flooded {
			w.sendError(env.EntityID, protocol.ErrInputFlood, "input sequence too far ahead of last applied")
		}
		recordedInputs = append(recordedInputs, RecordedInput{EntityID: env.EntityID, Commands: env.Msg.Commands})
	}

	// Apply one command per entity, entities in id order. A starved
	// queue re-applies the last command so movement does not hitch on a
	// single lost packet; the sequence number it carries keeps the
	// client's ack where it was.
	dt := 1.0 / float64(w.cfg.TickRateHz)
	ids := sortedEntityIDs(w.entities)
	for _, id := range ids {
		e := w.entities[id]
		cmd, ok := e.Queue.Pop()
		if !ok {
			cmd = e.LastApplied
			w.counters.heldSteps++
		}
		e.State = sim.Step(e.State, cmd, dt, w.cfg.Movement)
		if ok {
			e.LastApplied = cmd
		}
	}

	// Record this tick before judging claims so a claim at the current
	// tick sees post-move positions.
	w.history.Record(nowTick, w.entities)

	recordedClaims := make([]RecordedClaim, 0, len(claims))
	var results []protocol.HitResultMsg
	claimsThisTick := map[string]int{}
	for _, env := range claims {
		e := w.entities[env.EntityID]
		if e == nil {
			continue
		}
		recordedClaims = append(recordedClaims, RecordedClaim{EntityID: env.EntityID, Claim: env.Claim})
		claimsThisTick[env.EntityID]++
		var res protocol.HitResultMsg
		if claimsThisTick[env.EntityID] > maxClaimsPerTick {
			res = protocol.HitResultMsg{ClaimID: env.Claim.ClaimID, Code: protocol.ErrRateLimit}
			w.counters.claimsRejected++
		} else {
			res = w.resolveClaim(e, w.clients[env.EntityID], env.Claim, nowTick)
		}
		results = append(results, res)
		if cl := w.clients[env.EntityID]; cl != nil {
			if b, err := protocol.Encode(protocol.FrameHitResult, res); err == nil {
				sendLatest(cl.Out, b)
			}
		}
	}

	w.broadcastSnapshots(nowTick)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:   nowTick,
			Joins:  recordedJoins,
			Leaves: recordedLeaves,
			Inputs: recordedInputs,
			Claims: recordedClaims,
			Hits:   results,
			Digest: digest,
		})
	}

	w.publishMetrics(nowTick)
	w.tick.Add(1)
}

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server loop. It exists for deterministic replays and
// tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, inputs []InputEnvelope, claims []ClaimEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(joins, leaves, inputs, claims)
	return tick, w.stateDigest(tick)
}

const maxClaimsPerTick = 4

func commandFromRecord(rec protocol.CommandRecord) sim.Command {
	return sim.Command{
		Sequence:   rec.Seq,
		Buttons:    sim.Buttons(rec.Buttons),
		AimX:       rec.AimX,
		AimY:       rec.AimY,
		ClientTick: rec.Tick,
	}
}

func (w *World) joinEntity(name string, out chan []byte) JoinResponse {
	if name == "" {
		name = "player"
	}
	idNum := w.nextEntityNum.Add(1)
	entityID := fmt.Sprintf("P%d", idNum)

	e := &Entity{
		ID:    entityID,
		Name:  name,
		State: sim.EntityState{Pos: w.spawnPos(idNum)},
		Queue: NewInputQueue(w.cfg.QueueHoldTicks, w.cfg.QueueAheadLimit),
	}
	w.entities[entityID] = e
	if out != nil {
		w.clients[entityID] = &clientState{Out: out}
	}

	welcome := protocol.WelcomeMsg{
		ProtocolVersion: protocol.Version,
		EntityID:        entityID,
		Params:          w.Params(),
	}
	return JoinResponse{Welcome: welcome}
}

// spawnPos places joiners around a ring at half the arena radius, phase
// shifted by the seed. The golden angle keeps consecutive spawns apart.
func (w *World) spawnPos(idNum uint64) sim.Vec2 {
	angle := float64(uint64(w.cfg.Seed)%360)*math.Pi/180 + float64(idNum)*2.39996322972865332
	r := w.cfg.Movement.ArenaHalfExtent * 0.5
	return sim.Vec2{X: r * math.Cos(angle), Y: r * math.Sin(angle)}
}

func (w *World) handleLeave(entityID string) {
	delete(w.entities, entityID)
	delete(w.clients, entityID)
	w.history.RemoveEntity(entityID)
}

// observeEcho folds one snapshot echo into the sender's smoothed RTT.
// Echoes are advisory: they bound lag compensation but never touch the
// simulation, so replays that lack receive timestamps stay valid.
func (w *World) observeEcho(env InputEnvelope) {
	if env.Msg.SnapshotEcho == 0 || env.ReceivedAtMs == 0 {
		return
	}
	sample := env.ReceivedAtMs - env.Msg.SnapshotEcho
	if sample < 0 || sample > 10_000 {
		return
	}
	cl := w.clients[env.EntityID]
	if cl == nil {
		return
	}
	if !cl.rttKnown {
		cl.rttMs = float64(sample)
		cl.rttKnown = true
		return
	}
	cl.rttMs += (float64(sample) - cl.rttMs) / 8
}

func (w *World) broadcastSnapshots(nowTick uint64) {
	ids := sortedEntityIDs(w.entities)
	ents := make([]protocol.EntityRecord, 0, len(ids))
	for _, id := range ids {
		s := w.entities[id].State
		ents = append(ents, protocol.EntityRecord{
			ID:  id,
			X:   s.Pos.X,
			Y:   s.Pos.Y,
			VX:  s.Vel.X,
			VY:  s.Vel.Y,
			Yaw: s.Yaw,
		})
	}
	sentAt := time.Now().UnixMilli()

	for id, cl := range w.clients {
		e := w.entities[id]
		if e == nil {
			continue
		}
		snap := protocol.SnapshotMsg{
			Tick:      nowTick,
			LastInput: e.State.LastInput,
			SentAtMs:  sentAt,
			Entities:  ents,
		}
		b, err := protocol.EncodeCompressed(protocol.FrameSnapshot, snap)
		if err != nil {
			continue
		}
		sendLatest(cl.Out, b)
	}

	if len(w.observers) > 0 {
		snap := protocol.SnapshotMsg{Tick: nowTick, SentAtMs: sentAt, Entities: ents}
		if b, err := protocol.EncodeCompressed(protocol.FrameSnapshot, snap); err == nil {
			for _, out := range w.observers {
				sendLatest(out, b)
			}
		}
	}
}

func (w *World) sendError(entityID, code, msg string) {
	cl := w.clients[entityID]
	if cl == nil {
		return
	}
	b, err := protocol.Encode(protocol.FrameError, protocol.ErrorMsg{Code: code, Message: msg})
	if err != nil {
		return
	}
	sendLatest(cl.Out, b)
}

func sortedEntityIDs(entities map[string]*Entity) []string {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
