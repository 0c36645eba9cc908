// Package journal records everything the world consumed, tick by tick,
// as zstd-compressed JSONL. Each file opens with a header line carrying
// the world config, so a recording is enough on its own to rebuild an
// identical world and verify its digests.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Alihene/fast-paced-multiplayer-netcode/internal/sim/world"
)

const FormatVersion = 1

// Header is the first line of every journal file, and is written again
// mid-file when a restarted server appends to an existing segment.
// BootID changes with every process, so a reader can tell an hour
// rotation (same BootID, world carries on) from a restart (new BootID,
// world began empty at Resume).
type Header struct {
	Format      int                `json:"format"`
	Config      world.Config       `json:"config"`
	BootID      string             `json:"boot_id"`
	Resume      world.ResumeMarker `json:"resume"`
	CreatedAtMs int64              `json:"created_at_ms"`
}

// Writer appends tick entries to hour-rotated journal files. It is safe
// for use as the world's TickLogger; writes happen on the world loop
// goroutine but Close may come from elsewhere.
type Writer struct {
	baseDir  string
	prefix   string
	cfg      world.Config
	bootID   string
	onRetire func(path string)
	marker   func() world.ResumeMarker

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string, cfg world.Config) *Writer {
	return &Writer{
		baseDir: baseDir,
		prefix:  prefix,
		cfg:     cfg,
		bootID:  fmt.Sprintf("%016x", rand.New(rand.NewSource(time.Now().UnixNano())).Uint64()),
	}
}

// SetRetireHook registers a callback invoked with the path of every
// journal file once the writer is done with it, at hour rotation and on
// Close. Set it before the first write; it runs outside the writer lock.
func (w *Writer) SetRetireHook(fn func(path string)) { w.onRetire = fn }

// SetMarkerSource registers the counters stamped into each file header.
// With the world's ResumeMarker here, every segment records where its
// process started counting. Set it before the first write.
func (w *Writer) SetMarkerSource(fn func() world.ResumeMarker) { w.marker = fn }

func (w *Writer) WriteTick(entry world.TickLogEntry) error {
	retired, err := w.writeEntry(entry)
	if retired != "" && w.onRetire != nil {
		w.onRetire(retired)
	}
	return err
}

func (w *Writer) writeEntry(entry world.TickLogEntry) (retired string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if retired, err = w.rotateLocked(hour); err != nil {
			return retired, err
		}
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return retired, err
	}
	if _, err := w.w.Write(b); err != nil {
		return retired, err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return retired, err
	}
	return retired, w.w.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	retired := ""
	if w.f != nil {
		retired = w.f.Name()
	}
	err := w.closeLocked()
	w.mu.Unlock()
	if retired != "" && w.onRetire != nil {
		w.onRetire(retired)
	}
	return err
}

func (w *Writer) rotateLocked(hour string) (retired string, err error) {
	if w.f != nil {
		retired = w.f.Name()
	}
	if err := w.closeLocked(); err != nil {
		return retired, err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return retired, err
	}
	// Append so a restart within the hour keeps the old entries; the
	// reader skips the extra header line this writes.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return retired, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return retired, err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour

	h := Header{
		Format:      FormatVersion,
		Config:      w.cfg,
		BootID:      w.bootID,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if w.marker != nil {
		h.Resume = w.marker()
	}
	hb, err := json.Marshal(h)
	if err != nil {
		return retired, err
	}
	if _, err := w.w.Write(hb); err != nil {
		return retired, err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return retired, err
	}
	return retired, w.w.Flush()
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ListFiles returns the journal files under dir with the given prefix,
// oldest first. The hour layout in the name sorts lexicographically.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// Reader streams the tick entries of one journal file.
type Reader struct {
	f      *os.File
	dec    *zstd.Decoder
	sc     *bufio.Scanner
	header Header
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	if !sc.Scan() {
		dec.Close()
		_ = f.Close()
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: empty journal", filepath.Base(path))
	}
	var h Header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil || h.Format == 0 {
		dec.Close()
		_ = f.Close()
		return nil, fmt.Errorf("%s: missing journal header", filepath.Base(path))
	}
	if h.Format != FormatVersion {
		dec.Close()
		_ = f.Close()
		return nil, fmt.Errorf("%s: unsupported journal format %d", filepath.Base(path), h.Format)
	}
	return &Reader{f: f, dec: dec, sc: sc, header: h}, nil
}

func (r *Reader) Header() Header { return r.header }

// Next returns the following tick entry, io.EOF at the end. When a
// restarted server appended to this file, the entry after the takeover
// comes with the interior header it was written under; restart is nil
// for entries written by the same process as the previous one.
func (r *Reader) Next() (entry world.TickLogEntry, restart *Header, err error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var h Header
		if err := json.Unmarshal(line, &h); err == nil && h.Format != 0 {
			restart = &h
			continue
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			return world.TickLogEntry{}, nil, err
		}
		return entry, restart, nil
	}
	if err := r.sc.Err(); err != nil {
		return world.TickLogEntry{}, nil, err
	}
	return world.TickLogEntry{}, nil, io.EOF
}

func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
