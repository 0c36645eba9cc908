package client

import "github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"

// Predictor advances the local entity with the same step function the
// server runs, the moment each command is issued. It remembers the
// state predicted after every sequence so a later authoritative ack can
// be compared with what was on screen when that command was sent.
type Predictor struct {
	params sim.MovementParams
	dt     float64

	state sim.EntityState
	ring  []predicted
}

type predicted struct {
	seq   uint32
	state sim.EntityState
	valid bool
}

func NewPredictor(params sim.MovementParams, tickRateHz, window int) *Predictor {
	if tickRateHz < 1 {
		tickRateHz = 1
	}
	if window < 1 {
		window = 1
	}
	return &Predictor{
		params: params,
		dt:     1.0 / float64(tickRateHz),
		ring:   make([]predicted, window),
	}
}

// Apply steps the predicted state with cmd and files the result under
// cmd's sequence number.
func (p *Predictor) Apply(cmd sim.Command) sim.EntityState {
	p.state = sim.Step(p.state, cmd, p.dt, p.params)
	slot := &p.ring[int(cmd.Sequence)%len(p.ring)]
	*slot = predicted{seq: cmd.Sequence, state: p.state, valid: true}
	return p.state
}

// PredictedAt returns the state recorded after applying seq, or false
// when that slot has been recycled.
func (p *Predictor) PredictedAt(seq uint32) (sim.EntityState, bool) {
	if seq == 0 {
		return sim.EntityState{}, false
	}
	s := p.ring[int(seq)%len(p.ring)]
	if !s.valid || s.seq != seq {
		return sim.EntityState{}, false
	}
	return s.state, true
}

// State is the current predicted state of the local entity.
func (p *Predictor) State() sim.EntityState { return p.state }

// Reset pins the prediction to an authoritative state. The per-sequence
// records stay; replayed commands overwrite them.
func (p *Predictor) Reset(state sim.EntityState) { p.state = state }
