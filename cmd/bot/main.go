// Command bot runs a headless client against a live server: it joins,
// wanders a fixed patrol square, sweeps its aim, and periodically fires
// at the nearest visible entity. Useful for load and soak testing.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/client"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "player name")
		duration  = flag.Duration("duration", 0, "exit after this long (0: run until interrupted)")
		fireEvery = flag.Int("fire_every", 40, "claim a shot every N ticks (0: never)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		cancel()
	}()

	sess, err := client.Dial(ctx, *url, *name, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer sess.Close()
	logger.Printf("joined entity_id=%s tick_rate=%d seed=%d",
		sess.EntityID, sess.Params.TickRateHz, sess.Params.Seed)

	tickRate := sess.Params.TickRateHz
	if tickRate <= 0 {
		tickRate = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	// Aim sweeps a half circle and back, two seconds per leg.
	sweep := gween.NewSequence(
		gween.New(-math.Pi/2, math.Pi/2, 2, ease.InOutQuad),
		gween.New(math.Pi/2, -math.Pi/2, 2, ease.InOutQuad),
	)
	dt := float32(1) / float32(tickRate)

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
		}
		tick++

		if err := sess.Poll(); err != nil {
			logger.Printf("connection lost: %v", err)
			return
		}

		angle, _, seqDone := sweep.Update(dt)
		if seqDone {
			sweep.Reset()
		}
		aim := sim.Vec2{X: math.Cos(float64(angle)), Y: math.Sin(float64(angle))}

		if _, err := sess.Step(patrolButtons(tick, tickRate), aim); err != nil {
			logger.Printf("step: %v", err)
			return
		}

		if *fireEvery > 0 && tick%uint64(*fireEvery) == 0 {
			if dir, target, ok := nearestTarget(sess); ok {
				if id, err := sess.Fire(dir, target); err == nil {
					logger.Printf("claim %s at %s", id, target)
				}
			}
		}
		for _, res := range sess.Results() {
			switch {
			case res.Hit:
				logger.Printf("hit confirmed claim=%s target=%s rewind_tick=%d", res.ClaimID, res.Target, res.RewindTick)
			case res.Code != "":
				logger.Printf("claim %s rejected: %s", res.ClaimID, res.Code)
			default:
				logger.Printf("claim %s missed", res.ClaimID)
			}
		}
		for _, e := range sess.ServerErrors() {
			logger.Printf("server error %s: %s", e.Code, e.Message)
		}

		if tick%uint64(tickRate*10) == 0 {
			pos := sess.Predicted().Pos
			if rtt, ok := sess.RTT(); ok {
				logger.Printf("tick=%d pos=(%.1f,%.1f) rtt=%.0fms corrections=%d",
					tick, pos.X, pos.Y, rtt, sess.Corrections())
			}
		}
	}
}

// patrolButtons walks a square: right, down, left, up, four seconds a side.
func patrolButtons(tick uint64, tickRate int) sim.Buttons {
	side := uint64(tickRate * 4)
	switch (tick / side) % 4 {
	case 0:
		return sim.ButtonRight
	case 1:
		return sim.ButtonDown
	case 2:
		return sim.ButtonLeft
	default:
		return sim.ButtonUp
	}
}

// nearestTarget picks the closest other entity in the interpolated view
// and returns the aim vector towards it.
func nearestTarget(sess *client.Session) (sim.Vec2, string, bool) {
	view, ok := sess.Interpolated(0)
	if !ok {
		return sim.Vec2{}, "", false
	}
	self, ok := view[sess.EntityID]
	if !ok {
		return sim.Vec2{}, "", false
	}
	bestID := ""
	var best client.RenderState
	bestDist := math.MaxFloat64
	for id, rs := range view {
		if id == sess.EntityID {
			continue
		}
		dx := rs.Pos.X - self.Pos.X
		dy := rs.Pos.Y - self.Pos.Y
		if d := dx*dx + dy*dy; d < bestDist {
			bestDist = d
			bestID = id
			best = rs
		}
	}
	if bestID == "" {
		return sim.Vec2{}, "", false
	}
	return sim.Vec2{X: best.Pos.X - self.Pos.X, Y: best.Pos.Y - self.Pos.Y}, bestID, true
}
