package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time view of the upload pipeline for /metrics.
type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      uint64
	Dropped       uint64
	UploadOK      uint64
	UploadFailed  uint64
	LastOKUnix    int64
	LastErrUnix   int64
}

// Uploader ships retired journal segments to the bucket in the
// background. Object keys are the file paths relative to the data
// directory, so one bucket can hold many worlds without collisions.
type Uploader struct {
	client  *Client
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs        chan string
	enqueueWait time.Duration
	wg          sync.WaitGroup

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	uploadOK   atomic.Uint64
	uploadFail atomic.Uint64
	lastOK     atomic.Int64
	lastErr    atomic.Int64
}

func NewUploader(client *Client, dataDir, prefix string, workers, queueCapacity int, logger *log.Logger) *Uploader {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	u := &Uploader{
		client:      client,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		jobs:        make(chan string, queueCapacity),
		enqueueWait: 25 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			for p := range u.jobs {
				u.uploadOne(p)
			}
		}()
	}
	return u
}

// Enqueue schedules one local file for upload. It waits at most a few
// milliseconds on a full queue; callers sit close to the tick loop and
// must not stall behind a slow bucket.
func (u *Uploader) Enqueue(localPath string) {
	if u == nil || u.client == nil {
		return
	}
	u.enqueued.Add(1)

	select {
	case u.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(u.enqueueWait)
	defer timer.Stop()
	select {
	case u.jobs <- localPath:
	case <-timer.C:
		dropped := u.dropped.Add(1)
		u.printf("mirror drop path=%s dropped_total=%d", localPath, dropped)
	}
}

// Close drains the queue and waits for in-flight uploads.
func (u *Uploader) Close() {
	if u == nil {
		return
	}
	close(u.jobs)
	u.wg.Wait()
}

func (u *Uploader) Stats() Stats {
	if u == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(u.jobs),
		QueueCapacity: cap(u.jobs),
		Enqueued:      u.enqueued.Load(),
		Dropped:       u.dropped.Load(),
		UploadOK:      u.uploadOK.Load(),
		UploadFailed:  u.uploadFail.Load(),
		LastOKUnix:    u.lastOK.Load(),
		LastErrUnix:   u.lastErr.Load(),
	}
}

func (u *Uploader) uploadOne(localPath string) {
	key, err := u.objectKey(localPath)
	if err != nil {
		u.printf("mirror skip path=%s err=%v", localPath, err)
		return
	}
	if err := u.putWithRetry(key, localPath); err != nil {
		u.uploadFail.Add(1)
		u.lastErr.Store(time.Now().UTC().Unix())
		u.printf("mirror upload failed key=%s err=%v", key, err)
		return
	}
	u.uploadOK.Add(1)
	u.lastOK.Store(time.Now().UTC().Unix())
	u.printf("mirror uploaded key=%s", key)
}

func (u *Uploader) putWithRetry(key, localPath string) error {
	const attempts = 4
	var lastErr error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := u.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if i < attempts {
			time.Sleep(time.Duration(i*i) * 200 * time.Millisecond)
		}
	}
	return lastErr
}

// objectKey maps a local file to its bucket key: the path relative to
// the data dir, under the configured prefix. Paths outside the data dir
// are refused.
func (u *Uploader) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(u.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the data dir", absLocal)
	}
	if u.prefix != "" {
		rel = path.Join(u.prefix, rel)
	}
	return rel, nil
}

func (u *Uploader) printf(format string, args ...any) {
	if u.logger != nil {
		u.logger.Printf(format, args...)
	}
}
