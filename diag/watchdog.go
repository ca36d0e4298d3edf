// Package diag watches a running scan and writes diagnostic artifacts when it
// stops making progress. Raw stream reads and reparse queries can block inside
// the kernel on damaged or remote volumes; the goroutine dump shows which path
// each worker is stuck on.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"pscx/logger"
)

const artifactTimeFormat = "20060102-150405.000"

type stackDumper interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold is how long the progress counter may stay unchanged
	// before artifacts are written. Zero disables the watchdog.
	StallThreshold time.Duration
	Dir            string
	ProgressFn     func() int64
	NowFn          func() time.Time
	LookupFn       func(name string) stackDumper
}

// StallEvent is the JSON document written next to the goroutine dump.
type StallEvent struct {
	Event       string `json:"event"`
	Timestamp   string `json:"timestamp"`
	Progress    int64  `json:"files_recorded"`
	ThresholdMS int64  `json:"threshold_ms"`
	StalledMS   int64  `json:"stalled_ms"`
	Stacks      string `json:"goroutine_dump,omitempty"`
}

type Watchdog struct {
	threshold  time.Duration
	dir        string
	progressFn func() int64
	nowFn      func() time.Time
	lookupFn   func(name string) stackDumper

	mu             sync.Mutex
	lastProgress   int64
	lastProgressAt time.Time
	lastDumpAt     time.Time
	dumps          int

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWatchdog(opts Options) *Watchdog {
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	lookup := opts.LookupFn
	if lookup == nil {
		lookup = func(name string) stackDumper {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	return &Watchdog{
		threshold:  opts.StallThreshold,
		dir:        dir,
		progressFn: opts.ProgressFn,
		nowFn:      nowFn,
		lookupFn:   lookup,
	}
}

// Start polls the progress counter until ctx is done or Close is called. It
// is a no-op when the threshold is not positive or no counter was given.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.threshold <= 0 || w.progressFn == nil || w.stopCh != nil {
		return
	}

	w.mu.Lock()
	w.lastProgress = w.progressFn()
	w.lastProgressAt = w.nowFn()
	w.lastDumpAt = time.Time{}
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := w.threshold / 2
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.check(w.nowFn())
			}
		}
	}()
}

// Close stops the polling goroutine and waits for it to exit.
func (w *Watchdog) Close() {
	if w == nil || w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.stopCh = nil
	w.doneCh = nil
}

// Dumps reports how many stall events were written.
func (w *Watchdog) Dumps() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dumps
}

func (w *Watchdog) check(now time.Time) {
	progress := w.progressFn()

	w.mu.Lock()
	if progress != w.lastProgress {
		w.lastProgress = progress
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	stalled := now.Sub(w.lastProgressAt)
	// One dump per threshold window while the stall lasts.
	dump := stalled >= w.threshold &&
		(w.lastDumpAt.IsZero() || now.Sub(w.lastDumpAt) >= w.threshold)
	if dump {
		w.lastDumpAt = now
		w.dumps++
	}
	w.mu.Unlock()

	if !dump {
		return
	}
	logger.WithFields(map[string]interface{}{
		"files_recorded": progress,
		"stalled":        stalled.String(),
	}).Warn("Scan made no progress within the stall threshold")
	if err := w.writeArtifacts(now, progress, stalled); err != nil {
		logger.Warnf("Writing stall diagnostics failed: %v", err)
	}
}

func (w *Watchdog) writeArtifacts(now time.Time, progress int64, stalled time.Duration) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	ts := now.UTC().Format(artifactTimeFormat)
	event := StallEvent{
		Event:       "scan_stalled",
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		Progress:    progress,
		ThresholdMS: w.threshold.Milliseconds(),
		StalledMS:   stalled.Milliseconds(),
	}

	stacksPath := filepath.Join(w.dir, fmt.Sprintf("pscx-stall-goroutines-%s.txt", ts))
	if err := w.writeStacks(stacksPath); err != nil {
		logger.Warnf("Goroutine dump failed: %v", err)
	} else {
		event.Stacks = filepath.Base(stacksPath)
	}

	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, fmt.Sprintf("pscx-stall-%s.json", ts)), b, 0o600)
}

func (w *Watchdog) writeStacks(path string) error {
	profile := w.lookupFn("goroutine")
	if profile == nil {
		return fmt.Errorf("goroutine profile unavailable")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := profile.WriteTo(f, 2); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
