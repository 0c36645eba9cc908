// Package indexdb maintains a queryable SQLite index over the tick
// journal. Writes are asynchronous and lossy by design: the JSONL
// journal is the source of truth, the index only serves lookups.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan world.TickLogEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: a slow disk must not back-pressure the tick loop.
		ch: make(chan world.TickLogEntry, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			inputs INTEGER NOT NULL,
			claims INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			entity_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			join_tick INTEGER NOT NULL,
			leave_tick INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS hits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			claim_id TEXT NOT NULL,
			shooter TEXT NOT NULL,
			hit INTEGER NOT NULL,
			target TEXT,
			rewind_tick INTEGER NOT NULL,
			code TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_hits_shooter_tick ON hits(shooter, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteTick queues a journal entry for indexing. It never blocks; when
// the indexer falls behind the entry is dropped.
func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- entry:
	default:
	}
	return nil
}

// RecordConfig stores provenance for the run: which world, which
// parameters. Called once at startup, synchronously.
func (s *SQLiteIndex) RecordConfig(cfg world.Config) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	rows := [][2]string{
		{"schema_version", "1"},
		{"world_id", cfg.ID},
		{"config_json", string(b)},
		{"config_digest", hex.EncodeToString(sum[:])},
		{"indexed_at", time.Now().UTC().Format(time.RFC3339Nano)},
	}
	for _, r := range rows {
		if _, err := stmt.Exec(r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,joins,leaves,inputs,claims,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(entity_id,name,join_tick,leave_tick) VALUES(?,?,?,NULL)`)
	closeSession, _ := s.db.Prepare(`UPDATE sessions SET leave_tick=? WHERE entity_id=? AND leave_tick IS NULL`)
	insertHit, _ := s.db.Prepare(`INSERT OR REPLACE INTO hits(tick,seq,claim_id,shooter,hit,target,rewind_tick,code) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertSession != nil {
			_ = insertSession.Close()
		}
		if closeSession != nil {
			_ = closeSession.Close()
		}
		if insertHit != nil {
			_ = insertHit.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	indexEntry := func(entry world.TickLogEntry) (int, error) {
		ops := 0
		if insertTick != nil {
			b, _ := json.Marshal(entry)
			if _, err := tx.Stmt(insertTick).Exec(
				int64(entry.Tick),
				entry.Digest,
				len(entry.Joins),
				len(entry.Leaves),
				len(entry.Inputs),
				len(entry.Claims),
				string(b),
			); err != nil {
				return ops, err
			}
			ops++
		}
		if insertSession != nil {
			for _, j := range entry.Joins {
				if _, err := tx.Stmt(insertSession).Exec(j.EntityID, j.Name, int64(entry.Tick)); err != nil {
					return ops, err
				}
				ops++
			}
		}
		if closeSession != nil {
			for _, id := range entry.Leaves {
				if _, err := tx.Stmt(closeSession).Exec(int64(entry.Tick), id); err != nil {
					return ops, err
				}
				ops++
			}
		}
		if insertHit != nil {
			for i, res := range entry.Hits {
				shooter := ""
				if i < len(entry.Claims) {
					shooter = entry.Claims[i].EntityID
				}
				hit := 0
				if res.Hit {
					hit = 1
				}
				if _, err := tx.Stmt(insertHit).Exec(
					int64(entry.Tick),
					i,
					res.ClaimID,
					shooter,
					hit,
					res.Target,
					int64(res.RewindTick),
					res.Code,
				); err != nil {
					return ops, err
				}
				ops++
			}
		}
		return ops, nil
	}

	for entry := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		ops, err := indexEntry(entry)
		opCount += ops
		if err != nil {
			rollback()
			continue
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
