package client

import "github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"

// A prediction this close to the authoritative state counts as agreeing
// with it; resets below this threshold are not corrections.
const correctionEpsilon = 1e-9

// Reconciler folds authoritative snapshots into the local prediction.
// Every accepted snapshot does the same thing: acknowledge the server's
// last applied command, reset the prediction to the server state, and
// replay the commands the server has not applied yet. When server and
// prediction already agree the replay reproduces the prediction
// bit for bit, so reconciling is invisible unless something diverged.
type Reconciler struct {
	seq  *Sequencer
	pred *Predictor

	lastTick uint64
	haveTick bool

	corrections uint64
	maxError    float64
}

func NewReconciler(seq *Sequencer, pred *Predictor) *Reconciler {
	return &Reconciler{seq: seq, pred: pred}
}

// Observe applies one authoritative state for the local entity.
// Snapshots at or before the newest one already seen are dropped.
// It reports the positional error the prediction had for the acked
// sequence, when that prediction is still on record.
func (r *Reconciler) Observe(tick uint64, lastInput uint32, auth sim.EntityState) (float64, bool) {
	if r.haveTick && tick <= r.lastTick {
		return 0, false
	}
	r.lastTick = tick
	r.haveTick = true

	errDist := 0.0
	if pred, ok := r.pred.PredictedAt(lastInput); ok {
		errDist = sim.Dist(pred.Pos, auth.Pos)
	}

	r.seq.Ack(lastInput)
	r.pred.Reset(auth)
	for _, cmd := range r.seq.Unacked() {
		r.pred.Apply(cmd)
	}

	if errDist > correctionEpsilon {
		r.corrections++
		if errDist > r.maxError {
			r.maxError = errDist
		}
	}
	return errDist, true
}

// Corrections reports how many accepted snapshots disagreed with the
// prediction beyond the epsilon.
func (r *Reconciler) Corrections() uint64 { return r.corrections }

// MaxError reports the largest correction seen so far, in world units.
func (r *Reconciler) MaxError() float64 { return r.maxError }

// LastTick reports the newest snapshot tick accepted.
func (r *Reconciler) LastTick() (uint64, bool) { return r.lastTick, r.haveTick }
