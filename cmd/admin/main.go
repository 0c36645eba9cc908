// Command admin inspects a server's recording index: run summary, raw
// tick entries, session lifecycles, and judged hit claims.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/persistence/indexdb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "tick":
			tickCmd(os.Args[2:])
			return
		case "sessions":
			sessionsCmd(os.Args[2:])
			return
		case "hits":
			hitsCmd(os.Args[2:])
			return
		case "diag":
			diagCmd(os.Args[2:])
			return
		}
	}
	infoCmd(os.Args[1:])
}

func addIndexFlags(fs *flag.FlagSet) (dataDir, worldID, dbPath *string) {
	dataDir = fs.String("data", "./data", "runtime data directory")
	worldID = fs.String("world", "", "world id (required unless -db)")
	dbPath = fs.String("db", "", "sqlite db path (optional)")
	return
}

func openIndex(dataDir, worldID, dbPath string) *indexdb.SQLiteIndex {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		if strings.TrimSpace(worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(dataDir, "worlds", worldID, "index.db")
	}
	// Opening creates a missing db; stat first so a typo'd path fails loudly.
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return idx
}

func infoCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir, worldID, dbPath := addIndexFlags(fs)
	_ = fs.Parse(args)

	idx := openIndex(*dataDir, *worldID, *dbPath)
	defer idx.Close()

	wid, err := idx.Meta("world_id")
	if err != nil {
		fmt.Fprintln(os.Stderr, "meta:", err)
		os.Exit(1)
	}
	digest, _ := idx.Meta("config_digest")
	indexedAt, _ := idx.Meta("indexed_at")
	lo, hi, n, err := idx.TickRange()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tick range:", err)
		os.Exit(1)
	}

	printJSON(struct {
		WorldID      string `json:"world_id"`
		ConfigDigest string `json:"config_digest"`
		IndexedAt    string `json:"indexed_at,omitempty"`
		FirstTick    uint64 `json:"first_tick"`
		LastTick     uint64 `json:"last_tick"`
		TicksIndexed int64  `json:"ticks_indexed"`
	}{wid, digest, indexedAt, lo, hi, n})
}

func tickCmd(args []string) {
	fs := flag.NewFlagSet("tick", flag.ExitOnError)
	dataDir, worldID, dbPath := addIndexFlags(fs)
	tick := fs.Uint64("tick", 0, "tick to fetch")
	_ = fs.Parse(args)

	idx := openIndex(*dataDir, *worldID, *dbPath)
	defer idx.Close()

	raw, err := idx.TickJSON(*tick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tick:", err)
		os.Exit(1)
	}
	fmt.Println(raw)
}

func sessionsCmd(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	dataDir, worldID, dbPath := addIndexFlags(fs)
	_ = fs.Parse(args)

	idx := openIndex(*dataDir, *worldID, *dbPath)
	defer idx.Close()

	rows, err := idx.Sessions()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sessions:", err)
		os.Exit(1)
	}
	for _, s := range rows {
		printJSON(struct {
			EntityID  string `json:"entity_id"`
			Name      string `json:"name"`
			JoinTick  uint64 `json:"join_tick"`
			LeaveTick uint64 `json:"leave_tick,omitempty"`
			Active    bool   `json:"active"`
		}{s.EntityID, s.Name, s.JoinTick, s.LeaveTick, s.Active})
	}
}

func hitsCmd(args []string) {
	fs := flag.NewFlagSet("hits", flag.ExitOnError)
	dataDir, worldID, dbPath := addIndexFlags(fs)
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	idx := openIndex(*dataDir, *worldID, *dbPath)
	defer idx.Close()

	rows, err := idx.RecentHits(*limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hits:", err)
		os.Exit(1)
	}
	for _, h := range rows {
		printJSON(struct {
			Tick       uint64 `json:"tick"`
			ClaimID    string `json:"claim_id"`
			Shooter    string `json:"shooter"`
			Hit        bool   `json:"hit"`
			Target     string `json:"target,omitempty"`
			RewindTick uint64 `json:"rewind_tick"`
			Code       string `json:"code,omitempty"`
		}{h.Tick, h.ClaimID, h.Shooter, h.Hit, h.Target, h.RewindTick, h.Code})
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
