package ws

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/client"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
)

func testWorldConfig() world.Config {
	return world.Config{
		ID:                "ws-test",
		TickRateHz:        50,
		CatchupMaxTicks:   5,
		InputRedundancy:   3,
		CommandWindow:     128,
		QueueHoldTicks:    3,
		QueueAheadLimit:   64,
		HistoryTicks:      64,
		MaxCompensationMs: 200,
		InterpDelayTicks:  2,
		Seed:              7,
		Movement: sim.MovementParams{
			AccelPerSec:     40,
			MaxSpeed:        8,
			FrictionPerSec:  6,
			ArenaHalfExtent: 40,
			HitRadius:       0.5,
			RayRange:        60,
		},
	}
}

func startTestServer(t *testing.T) (string, *world.World, func()) {
	t.Helper()
	w, err := world.New(testWorldConfig())
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	srv := NewServer(w, log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	mux.Handle("/v1/ws", srv.Handler())
	ts := httptest.NewServer(mux)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	stop := func() {
		ts.Close()
		cancel()
	}
	return url, w, stop
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSession_JoinStepReconcile(t *testing.T) {
	url, w, stop := startTestServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := client.Dial(ctx, url, "alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	if sess.EntityID == "" {
		t.Fatalf("no entity id assigned")
	}
	if got := sess.Params.TickRateHz; got != 50 {
		t.Fatalf("welcome tick rate: got %d, want 50", got)
	}
	if got := sess.Params.Movement.MaxSpeed; got != 8 {
		t.Fatalf("welcome movement params not echoed: max speed %v", got)
	}

	// Let the first snapshot pin the prediction to the spawn point
	// before measuring movement.
	waitFor(t, 3*time.Second, func() bool {
		_ = sess.Poll()
		_, ok := sess.RenderTick()
		return ok
	}, "first snapshot")
	start := sess.Predicted().Pos

	// Drive the client at roughly server cadence for a while, holding
	// right the whole time.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; i < 40; i++ {
		<-ticker.C
		if err := sess.Poll(); err != nil {
			t.Fatalf("poll: %v", err)
		}
		if _, err := sess.Step(sim.ButtonRight, sim.Vec2{X: 1}); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	if got := sess.Predicted().Pos; got.X <= start.X {
		t.Fatalf("prediction did not move right: start %v now %v", start, got)
	}

	// The authoritative view must have moved too: sample the delayed
	// interpolation and find ourselves east of the spawn point.
	waitFor(t, 3*time.Second, func() bool {
		_ = sess.Poll()
		states, ok := sess.Interpolated(0)
		if !ok {
			return false
		}
		self, present := states[sess.EntityID]
		return present && self.Pos.X > start.X
	}, "authoritative movement in snapshots")

	waitFor(t, 3*time.Second, func() bool {
		_ = sess.Poll()
		_, known := sess.RTT()
		return known
	}, "rtt estimate")

	m := w.Metrics()
	if m.Entities != 1 || m.Clients != 1 {
		t.Fatalf("server sees %d entities / %d clients, want 1/1", m.Entities, m.Clients)
	}
}

func TestSession_HitClaimRoundTrip(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	alice, err := client.Dial(ctx, url, "alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	bob, err := client.Dial(ctx, url, "bob", nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()

	// Wait until alice can see both players in her interpolated view.
	waitFor(t, 3*time.Second, func() bool {
		_ = alice.Poll()
		states, ok := alice.Interpolated(0)
		if !ok {
			return false
		}
		_, hasSelf := states[alice.EntityID]
		_, hasBob := states[bob.EntityID]
		return hasSelf && hasBob
	}, "both players visible")

	states, _ := alice.Interpolated(0)
	self := states[alice.EntityID]
	target := states[bob.EntityID]
	dir := target.Pos.Sub(self.Pos)

	claimID, err := alice.Fire(dir, bob.EntityID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}

	var got []protocol.HitResultMsg
	waitFor(t, 3*time.Second, func() bool {
		_ = alice.Poll()
		got = append(got, alice.Results()...)
		return len(got) > 0
	}, "hit result")

	res := got[0]
	if res.ClaimID != claimID {
		t.Fatalf("result claim id: got %q, want %q", res.ClaimID, claimID)
	}
	if !res.Hit || res.Target != bob.EntityID {
		t.Fatalf("expected hit on %s, got %+v", bob.EntityID, res)
	}
}

func TestHandshake_RejectsVersionMismatch(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello, err := protocol.Encode(protocol.FrameHello, protocol.HelloMsg{
		ProtocolVersion: "0.9",
		PlayerName:      "old-client",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	frame, payload, err := protocol.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if frame != protocol.FrameError {
		t.Fatalf("reply frame: got %d, want ERROR", frame)
	}
	var e protocol.ErrorMsg
	if err := protocol.Decode(payload, &e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if e.Code != protocol.ErrProtoVersion {
		t.Fatalf("error code: got %s, want %s", e.Code, protocol.ErrProtoVersion)
	}
}

func TestDisconnectRemovesEntity(t *testing.T) {
	url, w, stop := startTestServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := client.Dial(ctx, url, "ghost", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return w.Metrics().Entities == 1
	}, "join visible in metrics")

	sess.Close()

	waitFor(t, 3*time.Second, func() bool {
		return w.Metrics().Entities == 0
	}, "entity removed after disconnect")
}
