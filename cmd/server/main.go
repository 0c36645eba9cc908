package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/persistence/indexdb"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/persistence/journal"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/persistence/mirror"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/persistence/snapshot"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/tuning"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/transport/observer"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "arena_1", "world id")
		seed       = flag.Int64("seed", 1337, "world seed (spawn layout)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (empty: built-in defaults)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite tick index")
		disableLog = flag.Bool("disable_journal", false, "disable the tick journal")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune := tuning.Defaults()
	if tp := strings.TrimSpace(*tuningPath); tp != "" {
		var err error
		tune, err = tuning.Load(tp)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning loaded from %s", tp)
	}

	cfg := world.Config{
		ID:                *worldID,
		TickRateHz:        tune.TickRateHz,
		CatchupMaxTicks:   tune.CatchupMaxTicks,
		InputRedundancy:   tune.InputRedundancy,
		CommandWindow:     tune.CommandWindow,
		QueueHoldTicks:    tune.QueueHoldTicks,
		QueueAheadLimit:   tune.QueueAheadLimit,
		HistoryTicks:      tune.HistoryTicks,
		MaxCompensationMs: tune.MaxCompensationMs,
		InterpDelayTicks:  tune.InterpDelayTicks,
		Seed:              *seed,
		Movement:          tune.MovementParams(),
	}
	w, err := world.New(cfg)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	// Continue tick and entity id numbering from the last run, so journal
	// entries and player ids never repeat within one world directory.
	statePath := filepath.Join(worldDir, "state.zst")
	if st, err := snapshot.Read(statePath); err == nil {
		if st.Config == cfg {
			w.Restore(st.Marker())
			logger.Printf("resumed world=%s tick=%d", *worldID, st.Header.Tick)
		} else {
			logger.Printf("state config mismatch, starting fresh (saved world=%s tick=%d)", st.Header.WorldID, st.Header.Tick)
		}
	} else if !os.IsNotExist(err) {
		logger.Printf("read state: %v", err)
	}

	// Read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordConfig(cfg); err != nil {
			logger.Printf("index: record config: %v", err)
		}
	}

	tee := multiTickLogger{}
	var jw *journal.Writer
	if !*disableLog {
		jw = journal.NewWriter(filepath.Join(worldDir, "journal"), "ticks", cfg)
		jw.SetMarkerSource(w.ResumeMarker)
		tee.a = jw
	}
	if idx != nil {
		tee.b = idx
	}
	w.SetTickLogger(tee)

	// Optional off-box copy of retired journal segments.
	var up *mirror.Uploader
	if endpoint := strings.TrimSpace(os.Getenv("NC_MIRROR_S3_ENDPOINT")); endpoint != "" && jw != nil {
		mc, err := mirror.NewClient(endpoint,
			os.Getenv("NC_MIRROR_S3_BUCKET"),
			os.Getenv("NC_MIRROR_S3_ACCESS_KEY_ID"),
			os.Getenv("NC_MIRROR_S3_SECRET_ACCESS_KEY"))
		if err != nil {
			logger.Fatalf("mirror: %v", err)
		}
		prefix := strings.TrimSpace(os.Getenv("NC_MIRROR_PREFIX"))
		if prefix == "" {
			prefix = "netcode"
		}
		up = mirror.NewUploader(mc, *dataDir, prefix, 2, 256, logger)
		jw.SetRetireHook(up.Enqueue)
		logger.Printf("mirroring journal segments to %s prefix=%s", endpoint, prefix)
	}

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	saveState := func() {
		if err := snapshot.Write(statePath, snapshot.Capture(w)); err != nil {
			logger.Printf("save state: %v", err)
		}
	}
	stateDone := make(chan struct{})
	go func() {
		defer close(stateDone)
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				saveState()
			case <-worldDone:
				// Final save, after the loop has stopped ticking.
				saveState()
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(w, *worldID, up))

	enableAdminHTTP := envBool("NC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("NC_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only diagnostics (do not affect simulation determinism).
		mux.HandleFunc("/diag", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID string        `json:"world_id"`
				Tick    uint64        `json:"tick"`
				Metrics world.Metrics `json:"metrics"`
			}{
				WorldID: *worldID,
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})

		obsSrv := observer.NewServer(w, logger)
		mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("diag endpoints disabled (NC_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (NC_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("world=%s tick_rate=%dHz listening on %s", *worldID, cfg.TickRateHz, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Ordered shutdown: the world loop writes its final journal entry,
	// the state marker records where it stopped, closing the journal
	// retires the live segment into the mirror queue, and the uploader
	// drains that queue.
	<-worldDone
	<-stateDone
	if jw != nil {
		if err := jw.Close(); err != nil {
			logger.Printf("journal close: %v", err)
		}
	}
	up.Close()
	logger.Printf("shutdown complete at tick=%d", w.CurrentTick())
}

func metricsHandler(w *world.World, worldID string, up *mirror.Uploader) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP netcode_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE netcode_world_tick gauge\n")
		fmt.Fprintf(rw, "netcode_world_tick{world=%q} %d\n", worldID, tick)

		fmt.Fprintf(rw, "# HELP netcode_world_entities Current number of simulated entities.\n")
		fmt.Fprintf(rw, "# TYPE netcode_world_entities gauge\n")
		fmt.Fprintf(rw, "netcode_world_entities{world=%q} %d\n", worldID, m.Entities)

		fmt.Fprintf(rw, "# HELP netcode_world_clients Current number of connected clients.\n")
		fmt.Fprintf(rw, "# TYPE netcode_world_clients gauge\n")
		fmt.Fprintf(rw, "netcode_world_clients{world=%q} %d\n", worldID, m.Clients)

		fmt.Fprintf(rw, "# HELP netcode_world_observers Current number of attached observers.\n")
		fmt.Fprintf(rw, "# TYPE netcode_world_observers gauge\n")
		fmt.Fprintf(rw, "netcode_world_observers{world=%q} %d\n", worldID, m.Observers)

		fmt.Fprintf(rw, "# HELP netcode_input_queue_depth Buffered commands across all entities.\n")
		fmt.Fprintf(rw, "# TYPE netcode_input_queue_depth gauge\n")
		fmt.Fprintf(rw, "netcode_input_queue_depth{world=%q} %d\n", worldID, m.QueuedInputs)

		fmt.Fprintf(rw, "# HELP netcode_input_drops_total Inputs dropped on arrival, by reason.\n")
		fmt.Fprintf(rw, "# TYPE netcode_input_drops_total counter\n")
		fmt.Fprintf(rw, "netcode_input_drops_total{world=%q,reason=%q} %d\n", worldID, "stale", m.StaleInputs)
		fmt.Fprintf(rw, "netcode_input_drops_total{world=%q,reason=%q} %d\n", worldID, "duplicate", m.DuplicateInputs)
		fmt.Fprintf(rw, "netcode_input_drops_total{world=%q,reason=%q} %d\n", worldID, "flood", m.FloodRejects)

		fmt.Fprintf(rw, "# HELP netcode_queue_held_steps_total Ticks stepped with a held input while waiting out a gap.\n")
		fmt.Fprintf(rw, "# TYPE netcode_queue_held_steps_total counter\n")
		fmt.Fprintf(rw, "netcode_queue_held_steps_total{world=%q} %d\n", worldID, m.HeldSteps)

		fmt.Fprintf(rw, "# HELP netcode_queue_gap_skips_total Sequence gaps abandoned after the hold expired.\n")
		fmt.Fprintf(rw, "# TYPE netcode_queue_gap_skips_total counter\n")
		fmt.Fprintf(rw, "netcode_queue_gap_skips_total{world=%q} %d\n", worldID, m.GapSkips)

		fmt.Fprintf(rw, "# HELP netcode_claims_total Hit claims judged, by outcome.\n")
		fmt.Fprintf(rw, "# TYPE netcode_claims_total counter\n")
		fmt.Fprintf(rw, "netcode_claims_total{world=%q,outcome=%q} %d\n", worldID, "resolved", m.ClaimsResolved)
		fmt.Fprintf(rw, "netcode_claims_total{world=%q,outcome=%q} %d\n", worldID, "hit", m.ClaimsHit)
		fmt.Fprintf(rw, "netcode_claims_total{world=%q,outcome=%q} %d\n", worldID, "clamped", m.ClaimsClamped)
		fmt.Fprintf(rw, "netcode_claims_total{world=%q,outcome=%q} %d\n", worldID, "rejected", m.ClaimsRejected)

		if up != nil {
			ms := up.Stats()
			fmt.Fprintf(rw, "# HELP netcode_mirror_queue_depth Journal segments waiting for upload.\n")
			fmt.Fprintf(rw, "# TYPE netcode_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "netcode_mirror_queue_depth{world=%q} %d\n", worldID, ms.QueueDepth)

			fmt.Fprintf(rw, "# HELP netcode_mirror_uploads_total Journal segment uploads, by result.\n")
			fmt.Fprintf(rw, "# TYPE netcode_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "netcode_mirror_uploads_total{world=%q,result=%q} %d\n", worldID, "ok", ms.UploadOK)
			fmt.Fprintf(rw, "netcode_mirror_uploads_total{world=%q,result=%q} %d\n", worldID, "failed", ms.UploadFailed)

			fmt.Fprintf(rw, "# HELP netcode_mirror_dropped_total Segments dropped because the upload queue was full.\n")
			fmt.Fprintf(rw, "# TYPE netcode_mirror_dropped_total counter\n")
			fmt.Fprintf(rw, "netcode_mirror_dropped_total{world=%q} %d\n", worldID, ms.Dropped)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

// multiTickLogger fans a tick entry out to the journal and the index.
type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}
