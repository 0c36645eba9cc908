// Command replay re-steps a recorded tick journal through a fresh world
// and verifies that every tick reproduces the recorded state digest.
// Restart boundaries inside the recording (a new boot id in a header)
// reset the world to the marker the restarted server resumed from, the
// same way the live process did.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/persistence/journal"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/protocol"
	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
)

func main() {
	var (
		journalDir = flag.String("journal", "", "journal dir containing ticks-*.jsonl.zst")
		prefix     = flag.String("prefix", "ticks", "journal file prefix")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *journalDir == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}

	files, err := journal.ListFiles(*journalDir, *prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", *journalDir)
		os.Exit(1)
	}

	first, err := journal.Open(files[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "open journal:", err)
		os.Exit(1)
	}
	cfg := first.Header().Config
	first.Close()

	fmt.Printf("journal format=%d world=%s tick_rate=%d seed=%d files=%d\n",
		journal.FormatVersion, cfg.ID, cfg.TickRateHz, cfg.Seed, len(files))

	rp := &replayer{cfg: cfg, verifyFrom: *fromTick, toTick: *toTick}
	for _, path := range files {
		if err := rp.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if rp.done {
			break
		}
	}
	fmt.Printf("replay ok: checked=%d ticks, restarts=%d (final tick=%d)\n",
		rp.checked, rp.restarts, rp.w.CurrentTick())
}

type replayer struct {
	cfg        world.Config
	verifyFrom uint64
	toTick     uint64

	w        *world.World
	bootID   string
	checked  uint64
	restarts int
	done     bool
}

// takeover discards the current world and begins a new one at the
// marker the recording process started from. Entities never survive a
// process boundary, so an empty world plus the counters is the full
// state.
func (rp *replayer) takeover(h journal.Header) error {
	w, err := world.New(rp.cfg)
	if err != nil {
		return err
	}
	w.Restore(h.Resume)
	if rp.w != nil {
		rp.restarts++
	}
	rp.w = w
	rp.bootID = h.BootID
	return nil
}

func (rp *replayer) replayFile(path string) error {
	r, err := journal.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	defer r.Close()

	h := r.Header()
	if h.Config != rp.cfg {
		return fmt.Errorf("%s: world config differs from the first file", filepath.Base(path))
	}
	if rp.w == nil || (h.BootID != "" && h.BootID != rp.bootID) {
		if err := rp.takeover(h); err != nil {
			return err
		}
	}

	for {
		entry, restart, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if restart != nil && restart.BootID != rp.bootID {
			if restart.Config != rp.cfg {
				return fmt.Errorf("%s: config changed mid-file", filepath.Base(path))
			}
			if err := rp.takeover(*restart); err != nil {
				return err
			}
		}
		if rp.toTick != 0 && entry.Tick > rp.toTick {
			rp.done = true
			return nil
		}
		if entry.Tick != rp.w.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", rp.w.CurrentTick(), entry.Tick, filepath.Base(path))
		}

		joins := make([]world.JoinRequest, 0, len(entry.Joins))
		for _, j := range entry.Joins {
			joins = append(joins, world.JoinRequest{Name: j.Name})
		}
		inputs := make([]world.InputEnvelope, 0, len(entry.Inputs))
		for _, in := range entry.Inputs {
			inputs = append(inputs, world.InputEnvelope{
				EntityID: in.EntityID,
				Msg:      protocol.InputMsg{Commands: in.Commands},
			})
		}
		claims := make([]world.ClaimEnvelope, 0, len(entry.Claims))
		for _, c := range entry.Claims {
			claims = append(claims, world.ClaimEnvelope{EntityID: c.EntityID, Claim: c.Claim})
		}

		tick, gotDigest := rp.w.StepOnce(joins, entry.Leaves, inputs, claims)

		// Sanity check: StepOnce should have stepped the same tick.
		if tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)", tick, entry.Tick, filepath.Base(path))
		}

		if tick >= rp.verifyFrom {
			rp.checked++
			if gotDigest != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
			}
		}
	}
}
