package indexdb

import (
	"database/sql"
	"errors"
	"fmt"
)

type SessionRow struct {
	EntityID  string
	Name      string
	JoinTick  uint64
	LeaveTick uint64
	Active    bool
}

type HitRow struct {
	Tick       uint64
	Seq        int
	ClaimID    string
	Shooter    string
	Hit        bool
	Target     string
	RewindTick uint64
	Code       string
}

func (s *SQLiteIndex) Meta(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// TickRange reports the span of indexed ticks. count is 0 when the
// index is empty; lo and hi are meaningless then.
func (s *SQLiteIndex) TickRange() (lo, hi uint64, count int64, err error) {
	var l, h sql.NullInt64
	err = s.db.QueryRow(`SELECT MIN(tick), MAX(tick), COUNT(*) FROM ticks`).Scan(&l, &h, &count)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint64(l.Int64), uint64(h.Int64), count, nil
}

func (s *SQLiteIndex) TickJSON(tick uint64) (string, error) {
	var raw string
	err := s.db.QueryRow(`SELECT raw_json FROM ticks WHERE tick=?`, int64(tick)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("tick %d not indexed", tick)
	}
	return raw, err
}

func (s *SQLiteIndex) Sessions() ([]SessionRow, error) {
	rows, err := s.db.Query(`SELECT entity_id, name, join_tick, leave_tick FROM sessions ORDER BY join_tick, entity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var leave sql.NullInt64
		if err := rows.Scan(&r.EntityID, &r.Name, &r.JoinTick, &leave); err != nil {
			return nil, err
		}
		if leave.Valid {
			r.LeaveTick = uint64(leave.Int64)
		} else {
			r.Active = true
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) RecentHits(limit int) ([]HitRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT tick, seq, claim_id, shooter, hit, target, rewind_tick, code FROM hits ORDER BY tick DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HitRow
	for rows.Next() {
		var r HitRow
		var hit int
		if err := rows.Scan(&r.Tick, &r.Seq, &r.ClaimID, &r.Shooter, &hit, &r.Target, &r.RewindTick, &r.Code); err != nil {
			return nil, err
		}
		r.Hit = hit != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
