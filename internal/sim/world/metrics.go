package world

import "time"

// Metrics is an immutable per-tick snapshot for /diag. The world loop
// publishes a fresh value after every step; readers on other goroutines
// load it without touching world state.
type Metrics struct {
	Tick            uint64 `json:"tick"`
	Entities        int    `json:"entities"`
	Clients         int    `json:"clients"`
	Observers       int    `json:"observers"`
	QueuedInputs    int    `json:"queued_inputs"`
	HeldSteps       uint64 `json:"held_steps"`
	GapSkips        uint64 `json:"gap_skips"`
	StaleInputs     uint64 `json:"stale_inputs"`
	DuplicateInputs uint64 `json:"duplicate_inputs"`
	FloodRejects    uint64 `json:"flood_rejects"`
	ClaimsResolved  uint64 `json:"claims_resolved"`
	ClaimsHit       uint64 `json:"claims_hit"`
	ClaimsClamped   uint64 `json:"claims_clamped"`
	ClaimsRejected  uint64 `json:"claims_rejected"`
	UpdatedAtMs     int64  `json:"updated_at_ms"`

	PerEntity []EntityMetrics `json:"per_entity,omitempty"`
}

// EntityMetrics is the per-connection row inside Metrics.
type EntityMetrics struct {
	ID         string  `json:"id"`
	QueueDepth int     `json:"queue_depth"`
	GapSkips   uint64  `json:"gap_skips"`
	StaleDrops uint64  `json:"stale_drops"`
	Duplicates uint64  `json:"duplicates"`
	LastInput  uint32  `json:"last_input"`
	RttMs      float64 `json:"rtt_ms,omitempty"`
}

func (w *World) publishMetrics(nowTick uint64) {
	queued := 0
	var skips uint64
	perEntity := make([]EntityMetrics, 0, len(w.entities))
	for _, id := range sortedEntityIDs(w.entities) {
		e := w.entities[id]
		queued += e.Queue.Len()
		skips += e.Queue.Skips()
		row := EntityMetrics{
			ID:         id,
			QueueDepth: e.Queue.Len(),
			GapSkips:   e.Queue.Skips(),
			StaleDrops: e.Queue.StaleDrops(),
			Duplicates: e.Queue.Duplicates(),
			LastInput:  e.State.LastInput,
		}
		if cl, ok := w.clients[id]; ok && cl.rttKnown {
			row.RttMs = cl.rttMs
		}
		perEntity = append(perEntity, row)
	}
	m := &Metrics{
		Tick:            nowTick,
		Entities:        len(w.entities),
		Clients:         len(w.clients),
		Observers:       len(w.observers),
		QueuedInputs:    queued,
		HeldSteps:       w.counters.heldSteps,
		GapSkips:        skips,
		StaleInputs:     w.counters.staleInputs,
		DuplicateInputs: w.counters.duplicateInputs,
		FloodRejects:    w.counters.floodRejects,
		ClaimsResolved:  w.counters.claimsResolved,
		ClaimsHit:       w.counters.claimsHit,
		ClaimsClamped:   w.counters.claimsClamped,
		ClaimsRejected:  w.counters.claimsRejected,
		UpdatedAtMs:     time.Now().UnixMilli(),
		PerEntity:       perEntity,
	}
	w.metrics.Store(m)
}

// Metrics returns the latest published snapshot. Safe from any goroutine.
func (w *World) Metrics() Metrics {
	if m := w.metrics.Load(); m != nil {
		return *m
	}
	return Metrics{}
}
