package client

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

const handshakeTimeout = 5 * time.Second

// A correction beyond largeCorrection world units is more than network
// jitter; a streak of them means prediction and authority disagree on
// the movement rules themselves.
const (
	largeCorrection  = 0.5
	divergenceStreak = 5
)

// Session is one connected player. It owns the prediction pipeline and
// the websocket, but not the loop: the owner calls Poll and Step at its
// own cadence from a single goroutine. Only the background reader
// touches the connection's read side.
type Session struct {
	conn   *websocket.Conn
	logger *log.Logger

	EntityID string
	Params   protocol.WorldParams

	seq    *Sequencer
	pred   *Predictor
	recon  *Reconciler
	interp *Interpolator

	frames  chan []byte
	readErr chan error

	clientTick uint64
	echoMs     int64
	sentAtMs   map[uint32]int64
	rttMs      float64
	rttKnown   bool

	claimNum uint64
	streak   int

	results    []protocol.HitResultMsg
	serverErrs []protocol.ErrorMsg
}

// Dial connects, performs the HELLO/WELCOME handshake, and starts the
// background reader. The returned session is ready to Step.
func Dial(ctx context.Context, url, name string, logger *log.Logger) (*Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello, err := protocol.Encode(protocol.FrameHello, protocol.HelloMsg{
		ProtocolVersion: protocol.Version,
		PlayerName:      name,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, payload, err := protocol.DecodeFrame(raw)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake frame: %w", err)
	}
	switch frame {
	case protocol.FrameWelcome:
	case protocol.FrameError:
		var e protocol.ErrorMsg
		_ = protocol.Decode(payload, &e)
		conn.Close()
		return nil, fmt.Errorf("server rejected handshake: %s: %s", e.Code, e.Message)
	default:
		conn.Close()
		return nil, fmt.Errorf("handshake: unexpected frame type %d", frame)
	}
	var welcome protocol.WelcomeMsg
	if err := protocol.Decode(payload, &welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}

	p := welcome.Params
	seq := NewSequencer(p.CommandWindow)
	pred := NewPredictor(sim.MovementParams{
		AccelPerSec:     p.Movement.AccelPerSec,
		MaxSpeed:        p.Movement.MaxSpeed,
		FrictionPerSec:  p.Movement.FrictionPerSec,
		ArenaHalfExtent: p.Movement.ArenaHalfExtent,
		HitRadius:       p.Movement.HitRadius,
		RayRange:        p.Movement.RayRange,
	}, p.TickRateHz, p.CommandWindow)

	s := &Session{
		conn:     conn,
		logger:   logger,
		EntityID: welcome.EntityID,
		Params:   p,
		seq:      seq,
		pred:     pred,
		recon:    NewReconciler(seq, pred),
		interp:   NewInterpolator(p.InterpDelayTicks),
		frames:   make(chan []byte, 64),
		readErr:  make(chan error, 1),
		sentAtMs: map[uint32]int64{},
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) readLoop() {
	for {
		_, b, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr <- err
			return
		}
		select {
		case s.frames <- b:
		default:
			// Reader outran the owner; drop the oldest frame.
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- b:
			default:
			}
		}
	}
}

func (s *Session) Close() error { return s.conn.Close() }

// Poll drains everything the reader has buffered. It returns the read
// error once the connection is gone.
func (s *Session) Poll() error {
	for {
		select {
		case err := <-s.readErr:
			return err
		case b := <-s.frames:
			s.handleFrame(b)
		default:
			return nil
		}
	}
}

func (s *Session) handleFrame(raw []byte) {
	frame, payload, err := protocol.DecodeFrame(raw)
	if err != nil {
		s.logf("bad frame: %v", err)
		return
	}
	switch frame {
	case protocol.FrameSnapshot:
		var snap protocol.SnapshotMsg
		if err := protocol.Decode(payload, &snap); err != nil {
			s.logf("bad snapshot: %v", err)
			return
		}
		s.handleSnapshot(snap)
	case protocol.FrameHitResult:
		var res protocol.HitResultMsg
		if err := protocol.Decode(payload, &res); err != nil {
			s.logf("bad hit result: %v", err)
			return
		}
		s.results = append(s.results, res)
	case protocol.FrameError:
		var e protocol.ErrorMsg
		if err := protocol.Decode(payload, &e); err != nil {
			return
		}
		s.logf("server error %s: %s", e.Code, e.Message)
		s.serverErrs = append(s.serverErrs, e)
	}
}

func (s *Session) handleSnapshot(snap protocol.SnapshotMsg) {
	s.echoMs = snap.SentAtMs

	frame := Frame{Tick: snap.Tick, Entities: make(map[string]RenderState, len(snap.Entities))}
	var self *protocol.EntityRecord
	for i := range snap.Entities {
		rec := &snap.Entities[i]
		frame.Entities[rec.ID] = RenderState{Pos: sim.Vec2{X: rec.X, Y: rec.Y}, Yaw: rec.Yaw}
		if rec.ID == s.EntityID {
			self = rec
		}
	}
	s.interp.Push(frame)

	if self == nil {
		return
	}
	s.observeAckTime(snap.LastInput)
	auth := sim.EntityState{
		Pos:       sim.Vec2{X: self.X, Y: self.Y},
		Vel:       sim.Vec2{X: self.VX, Y: self.VY},
		Yaw:       self.Yaw,
		LastInput: snap.LastInput,
	}
	errDist, corrected := s.recon.Observe(snap.Tick, snap.LastInput, auth)
	if corrected && errDist > largeCorrection {
		s.streak++
		if s.streak == divergenceStreak {
			s.logf("prediction diverging: %d large corrections in a row, last %.3f", s.streak, errDist)
		}
	} else {
		s.streak = 0
	}
}

// observeAckTime turns "command N was sent at T and is now acked" into
// an RTT sample.
func (s *Session) observeAckTime(acked uint32) {
	t, ok := s.sentAtMs[acked]
	if ok {
		sample := float64(time.Now().UnixMilli() - t)
		if sample >= 0 {
			if !s.rttKnown {
				s.rttMs = sample
				s.rttKnown = true
			} else {
				s.rttMs += (sample - s.rttMs) / 8
			}
		}
	}
	for seq := range s.sentAtMs {
		if seq <= acked {
			delete(s.sentAtMs, seq)
		}
	}
}

// Step issues one command for this client tick: predict locally, then
// send the newest commands as one packet. Returns the predicted state
// the renderer should draw for the local entity.
func (s *Session) Step(buttons sim.Buttons, aim sim.Vec2) (sim.EntityState, error) {
	s.clientTick++
	cmd := s.seq.Next(sim.Command{
		Buttons:    buttons,
		AimX:       aim.X,
		AimY:       aim.Y,
		ClientTick: s.clientTick,
	})
	state := s.pred.Apply(cmd)
	s.sentAtMs[cmd.Sequence] = time.Now().UnixMilli()

	recent := s.seq.Recent(s.Params.InputRedundancy)
	recs := make([]protocol.CommandRecord, 0, len(recent))
	for _, c := range recent {
		recs = append(recs, protocol.CommandRecord{
			Seq:     c.Sequence,
			Buttons: uint8(c.Buttons),
			AimX:    c.AimX,
			AimY:    c.AimY,
			Tick:    c.ClientTick,
		})
	}
	b, err := protocol.Encode(protocol.FrameInput, protocol.InputMsg{
		Commands:     recs,
		SnapshotEcho: s.echoMs,
	})
	if err != nil {
		return state, err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return state, fmt.Errorf("send INPUT: %w", err)
	}
	return state, nil
}

// Fire claims a hit along aim. The claim names the tick this client is
// rendering; before the first snapshot it falls back to claiming
// half the measured RTT.
func (s *Session) Fire(aim sim.Vec2, targetHint string) (string, error) {
	s.claimNum++
	id := fmt.Sprintf("%s-c%d", s.EntityID, s.claimNum)
	claim := protocol.HitClaimMsg{
		ClaimID:    id,
		AimX:       aim.X,
		AimY:       aim.Y,
		TargetHint: targetHint,
	}
	if rt, ok := s.interp.RenderTick(); ok {
		claim.RenderTick = rt
	} else if s.rttKnown {
		claim.LatencyMs = int64(s.rttMs / 2)
	}
	b, err := protocol.Encode(protocol.FrameHitClaim, claim)
	if err != nil {
		return id, err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return id, fmt.Errorf("send HIT_CLAIM: %w", err)
	}
	return id, nil
}

// Predicted is the current predicted state of the local entity.
func (s *Session) Predicted() sim.EntityState { return s.pred.State() }

// Interpolated samples the delayed view of the world. alpha is the
// caller's progress through the current render tick.
func (s *Session) Interpolated(alpha float64) (map[string]RenderState, bool) {
	return s.interp.Sample(alpha)
}

// RenderTick exposes the interpolator's current render tick.
func (s *Session) RenderTick() (uint64, bool) { return s.interp.RenderTick() }

// RTT reports the smoothed round trip in milliseconds, measured from
// command send to ack.
func (s *Session) RTT() (float64, bool) { return s.rttMs, s.rttKnown }

// Corrections reports how many snapshots moved the prediction.
func (s *Session) Corrections() uint64 { return s.recon.Corrections() }

// Results returns and clears hit results received since the last call.
func (s *Session) Results() []protocol.HitResultMsg {
	out := s.results
	s.results = nil
	return out
}

// ServerErrors returns and clears error frames received since the last
// call.
func (s *Session) ServerErrors() []protocol.ErrorMsg {
	out := s.serverErrs
	s.serverErrs = nil
	return out
}

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
