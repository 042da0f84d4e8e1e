package objstore

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type uploader interface {
	Put(ctx context.Context, key, localPath string) error
}

type Stats struct {
	Queued   uint64
	Uploaded uint64
	Failed   uint64
}

// Mirror copies files under dataDir to the bucket, keyed by their path
// relative to dataDir. Uploads run on a small worker pool.
type Mirror struct {
	client  uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	attempts int
	backoff  time.Duration

	jobs chan string
	wg   sync.WaitGroup

	queued   atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

func NewMirror(client uploader, dataDir, prefix string, workers int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	m := &Mirror{
		client:   client,
		dataDir:  dataDir,
		prefix:   strings.Trim(filepath.ToSlash(prefix), "/"),
		logger:   logger,
		attempts: 4,
		backoff:  200 * time.Millisecond,
		jobs:     make(chan string, 256),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// EnqueueRun queues every regular file under runDir. It blocks while the
// queue is full.
func (m *Mirror) EnqueueRun(runDir string) (int, error) {
	n := 0
	err := filepath.WalkDir(runDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		m.queued.Add(1)
		m.jobs <- p
		n++
		return nil
	})
	return n, err
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	return Stats{Queued: m.queued.Load(), Uploaded: m.uploaded.Load(), Failed: m.failed.Load()}
}

func (m *Mirror) upload(local string) {
	key, err := m.key(local)
	if err != nil {
		m.failed.Add(1)
		m.printf("[objstore] skip %s: %v", local, err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.client.Put(ctx, key, local)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.printf("[objstore] uploaded %s", key)
			return
		}
		if attempt >= m.attempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * m.backoff)
	}
	m.failed.Add(1)
	m.printf("[objstore] upload %s failed: %v", key, err)
}

func (m *Mirror) key(local string) (string, error) {
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(local)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("outside data dir %s", base)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
