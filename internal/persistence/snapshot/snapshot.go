// Package snapshot persists the small piece of world state that must
// survive a restart: the tick counter, the entity id counter, and the
// config the world was built with. Entities are not saved; they are
// connection-bound and a restart disconnects everyone anyway. The format
// is a JSON header line followed by a gob body, zstd-compressed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// StateV1 is the on-disk resume marker. The config is stored next to the
// counters so a restart with different tuning refuses to continue the old
// tick sequence instead of silently diverging from the journal.
type StateV1 struct {
	Header        Header
	Config        world.Config
	NextEntityNum uint64
}

func Capture(w *world.World) StateV1 {
	m := w.ResumeMarker()
	return StateV1{
		Header:        Header{Version: Version, WorldID: w.ID(), Tick: m.Tick},
		Config:        w.Config(),
		NextEntityNum: m.NextEntityNum,
	}
}

func (s StateV1) Marker() world.ResumeMarker {
	return world.ResumeMarker{Tick: s.Header.Tick, NextEntityNum: s.NextEntityNum}
}

// Write replaces path atomically. A crash mid-write leaves the previous
// marker intact.
func Write(path string, st StateV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, st); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, st StateV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return err
	}
	bw := bufio.NewWriter(enc)

	hb, _ := json.Marshal(st.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&st); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Read(path string) (StateV1, error) {
	var st StateV1
	f, err := os.Open(path)
	if err != nil {
		return st, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return st, err
	}
	defer dec.Close()

	br := bufio.NewReader(dec)

	// Skip the header line; the gob body carries the same fields.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&st); err != nil {
		return st, fmt.Errorf("gob decode: %w", err)
	}
	if st.Header.Version != Version {
		return st, fmt.Errorf("unsupported state version %d", st.Header.Version)
	}
	return st, nil
}
