// Package watcher auto-captures agent transcripts: it watches project
// transcript directories and captures an agent-*.jsonl once writes to it
// go quiet.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/memclaw/internal/agentwork"
)

// quietPeriod is how long an agent transcript must stay unmodified before
// it is considered finished and captured.
const quietPeriod = 30 * time.Second

// Watcher debounces write events per transcript and hands finished ones to
// the capturer.
type Watcher struct {
	capturer *agentwork.Capturer
	log      *slog.Logger
	quiet    time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer

	fw   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

func New(capturer *agentwork.Capturer, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		capturer: capturer,
		log:      log,
		quiet:    quietPeriod,
		pending:  map[string]*time.Timer{},
		fw:       fw,
		done:     make(chan struct{}),
	}, nil
}

// Watch adds a directory. Each project's transcripts live flat in one
// directory, so there is no recursion.
func (w *Watcher) Watch(dir string) error {
	if err := w.fw.Add(dir); err != nil {
		return err
	}
	w.log.Info("watcher.watching", "dir", dir)
	return nil
}

// Start runs the event loop until Stop.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *Watcher) Stop() {
	close(w.done)
	w.fw.Close()
	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasPrefix(name, "agent-") || !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			w.touch(ctx, event.Name)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher.error", "error", err)
		}
	}
}

// touch resets the quiet timer for a transcript; when it fires the file has
// been stable for the full period.
func (w *Watcher) touch(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.quiet)
		return
	}
	w.pending[path] = time.AfterFunc(w.quiet, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.capture(ctx, path)
	})
}

func (w *Watcher) capture(ctx context.Context, path string) {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() < agentwork.MinTranscriptBytes {
		return
	}

	parent := parentSessionID(path)
	_, inserted, err := w.capturer.CaptureFile(ctx, path, parent, nil)
	if err != nil {
		w.log.Warn("watcher.capture_failed", "path", path, "error", err)
		return
	}
	if inserted {
		w.log.Info("watcher.captured", "path", path, "parent_session_id", parent)
	}
}

// parentSessionID guesses the parent session from the newest non-agent
// transcript in the same directory; those files are named by session id.
func parentSessionID(agentPath string) string {
	dir := filepath.Dir(agentPath)
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return "unknown"
	}
	best := ""
	var bestTime time.Time
	for _, m := range matches {
		name := filepath.Base(m)
		if strings.HasPrefix(name, "agent-") {
			continue
		}
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		if best == "" || fi.ModTime().After(bestTime) {
			best = strings.TrimSuffix(name, ".jsonl")
			bestTime = fi.ModTime()
		}
	}
	if best == "" {
		return "unknown"
	}
	return best
}
