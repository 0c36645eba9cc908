package world

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

// Config fixes every constant that feeds the simulation. It is written
// into the journal header so a replay runs with the exact same numbers.
type Config struct {
	ID                string             `json:"id"`
	TickRateHz        int                `json:"tick_rate_hz"`
	CatchupMaxTicks   int                `json:"catchup_max_ticks"`
	InputRedundancy   int                `json:"input_redundancy"`
	CommandWindow     int                `json:"command_window"`
	QueueHoldTicks    int                `json:"queue_hold_ticks"`
	QueueAheadLimit   int                `json:"queue_ahead_limit"`
	HistoryTicks      int                `json:"history_ticks"`
	MaxCompensationMs int                `json:"max_compensation_ms"`
	InterpDelayTicks  int                `json:"interp_delay_ticks"`
	Seed              int64              `json:"seed"`
	Movement          sim.MovementParams `json:"movement"`
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// InputEnvelope carries one decoded INPUT message from the transport.
// ReceivedAtMs is stamped by the transport on arrival; it only feeds the
// RTT estimate and never the simulation itself.
type InputEnvelope struct {
	EntityID     string
	Msg          protocol.InputMsg
	ReceivedAtMs int64
}

type ClaimEnvelope struct {
	EntityID string
	Claim    protocol.HitClaimMsg
}

type ObserverRequest struct {
	ID  string
	Out chan []byte
}

// HitTestFunc intersects a shot ray with one candidate target and
// reports the hit distance along the ray. It must be deterministic.
type HitTestFunc func(origin, dir sim.Vec2, maxRange float64, center sim.Vec2, radius float64) (float64, bool)

type RecordedJoin struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
}

type RecordedInput struct {
	EntityID string                   `json:"entity_id"`
	Commands []protocol.CommandRecord `json:"commands"`
}

type RecordedClaim struct {
	EntityID string               `json:"entity_id"`
	Claim    protocol.HitClaimMsg `json:"claim"`
}

type TickLogEntry struct {
	Tick   uint64                  `json:"tick"`
	Joins  []RecordedJoin          `json:"joins,omitempty"`
	Leaves []string                `json:"leaves,omitempty"`
	Inputs []RecordedInput         `json:"inputs,omitempty"`
	Claims []RecordedClaim         `json:"claims,omitempty"`
	Hits   []protocol.HitResultMsg `json:"hits,omitempty"`
	Digest string                  `json:"digest"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// Entity is one simulated player. LastApplied is re-applied on ticks
// where the jitter buffer has nothing deliverable, so a player whose
// packets stall keeps doing what they were last seen doing.
type Entity struct {
	ID    string
	Name  string
	State sim.EntityState

	Queue       *InputQueue
	LastApplied sim.Command
}

type clientState struct {
	Out chan []byte

	// Smoothed RTT in ms, fed by snapshot echoes. Zero until the first
	// echo arrives; rttKnown distinguishes "no estimate" from "0 ms".
	rttMs    float64
	rttKnown bool
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg Config

	tick atomic.Uint64

	entities map[string]*Entity
	clients  map[string]*clientState

	observers map[string]chan []byte

	history *HistoryBuffer

	inbox     chan InputEnvelope
	claims    chan ClaimEnvelope
	join      chan JoinRequest
	leave     chan string
	observe   chan ObserverRequest
	unobserve chan string
	stop      chan struct{}

	nextEntityNum atomic.Uint64

	// Optional tick logger (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger

	hitTest HitTestFunc

	counters counters
	metrics  atomic.Pointer[Metrics]

	// Derived from MaxCompensationMs at construction.
	maxCompTicks uint64
}

func New(cfg Config) (*World, error) {
	if cfg.TickRateHz < 1 {
		return nil, fmt.Errorf("tick rate must be >= 1, got %d", cfg.TickRateHz)
	}
	if cfg.HistoryTicks < 2 {
		return nil, fmt.Errorf("history must span at least 2 ticks, got %d", cfg.HistoryTicks)
	}
	if cfg.QueueAheadLimit < 1 {
		return nil, fmt.Errorf("queue ahead limit must be >= 1, got %d", cfg.QueueAheadLimit)
	}
	maxCompTicks := uint64(math.Round(float64(cfg.MaxCompensationMs) * float64(cfg.TickRateHz) / 1000.0))
	if maxCompTicks > uint64(cfg.HistoryTicks-1) {
		return nil, fmt.Errorf("max compensation %dms exceeds history of %d ticks", cfg.MaxCompensationMs, cfg.HistoryTicks)
	}

	w := &World{
		cfg:          cfg,
		entities:     map[string]*Entity{},
		clients:      map[string]*clientState{},
		observers:    map[string]chan []byte{},
		history:      NewHistoryBuffer(cfg.HistoryTicks),
		inbox:        make(chan InputEnvelope, 1024),
		claims:       make(chan ClaimEnvelope, 256),
		join:         make(chan JoinRequest, 64),
		leave:        make(chan string, 64),
		observe:      make(chan ObserverRequest, 16),
		unobserve:    make(chan string, 16),
		stop:         make(chan struct{}),
		hitTest:      sim.RayCircle,
		maxCompTicks: maxCompTicks,
	}
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }

// SetHitTest swaps the geometry used to judge hit claims. Must be called
// before Run.
func (w *World) SetHitTest(fn HitTestFunc) {
	if fn != nil {
		w.hitTest = fn
	}
}

func (w *World) Inbox() chan<- InputEnvelope     { return w.inbox }
func (w *World) Claims() chan<- ClaimEnvelope    { return w.claims }
func (w *World) Join() chan<- JoinRequest        { return w.join }
func (w *World) Leave() chan<- string            { return w.leave }
func (w *World) Observe() chan<- ObserverRequest { return w.observe }
func (w *World) Unobserve() chan<- string        { return w.unobserve }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// ResumeMarker carries the monotonic counters a restarted server has to
// continue from, so tick numbers and entity ids never repeat within one
// world directory.
type ResumeMarker struct {
	Tick          uint64 `json:"tick"`
	NextEntityNum uint64 `json:"next_entity_num"`
}

func (w *World) ResumeMarker() ResumeMarker {
	return ResumeMarker{Tick: w.tick.Load(), NextEntityNum: w.nextEntityNum.Load()}
}

// Restore continues counting from a saved marker. Call before Run.
func (w *World) Restore(m ResumeMarker) {
	w.tick.Store(m.Tick)
	w.nextEntityNum.Store(m.NextEntityNum)
}

// Config returns a copy of the construction config.
func (w *World) Config() Config { return w.cfg }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) Params() protocol.WorldParams {
	return protocol.WorldParams{
		TickRateHz:       w.cfg.TickRateHz,
		InputRedundancy:  w.cfg.InputRedundancy,
		InterpDelayTicks: w.cfg.InterpDelayTicks,
		CommandWindow:    w.cfg.CommandWindow,
		Seed:             w.cfg.Seed,
		Movement: protocol.MovementParams{
			AccelPerSec:     w.cfg.Movement.AccelPerSec,
			MaxSpeed:        w.cfg.Movement.MaxSpeed,
			FrictionPerSec:  w.cfg.Movement.FrictionPerSec,
			ArenaHalfExtent: w.cfg.Movement.ArenaHalfExtent,
			HitRadius:       w.cfg.Movement.HitRadius,
			RayRange:        w.cfg.Movement.RayRange,
		},
	}
}

func (w *World) Run(ctx context.Context) error {
	clock := sim.NewFixedTickClock(w.cfg.TickRateHz, w.cfg.CatchupMaxTicks)
	clock.Advance(time.Now())

	ticker := time.NewTicker(clock.Interval())
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingInputs []InputEnvelope
	var pendingClaims []ClaimEnvelope

	for {
		select {
		case <-ctx.Done():
			w.shutdownStep()
			return ctx.Err()
		case <-w.stop:
			w.shutdownStep()
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingInputs = append(pendingInputs, env)
		case env := <-w.claims:
			pendingClaims = append(pendingClaims, env)
		case req := <-w.observe:
			w.handleObserve(req)
		case id := <-w.unobserve:
			delete(w.observers, id)
		case now := <-ticker.C:
			n := clock.Advance(now)
			for i := 0; i < n; i++ {
				w.step(pendingJoins, pendingLeaves, pendingInputs, pendingClaims)
				pendingJoins = pendingJoins[:0]
				pendingLeaves = pendingLeaves[:0]
				pendingInputs = pendingInputs[:0]
				pendingClaims = pendingClaims[:0]
			}
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// shutdownStep runs one last tick that removes every remaining entity, so
// the journal closes with their departures and a resumed run starts from
// an empty arena at the saved tick.
func (w *World) shutdownStep() {
	ids := sortedEntityIDs(w.entities)
	if len(ids) == 0 {
		return
	}
	w.step(nil, ids, nil, nil)
}

func (w *World) handleObserve(req ObserverRequest) {
	if req.ID == "" || req.Out == nil {
		return
	}
	w.observers[req.ID] = req.Out
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
