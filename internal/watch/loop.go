// Package watch implements the polling loop that drives watched files
// through the tagging state machine.
//
// The loop is single-threaded by design: one goroutine scans the
// directory, decides readiness, invokes the external tool, and mutates
// the state store. Because the tool call blocks the loop, at most one
// external process runs at a time and no locking is needed around the
// store. An fsnotify watcher only shortens the wait when a new file
// appears; readiness itself is always decided by the sampling state
// machine, never by filesystem events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mkvwatch/mkvtagd/internal/cleaner"
	"github.com/mkvwatch/mkvtagd/internal/history"
	"github.com/mkvwatch/mkvtagd/internal/lock"
	"github.com/mkvwatch/mkvtagd/internal/stability"
	"github.com/mkvwatch/mkvtagd/internal/state"
	"github.com/mkvwatch/mkvtagd/internal/tagger"
)

// Phase is the lifecycle state of the loop itself.
type Phase string

const (
	// PhaseRunning indicates the loop is scanning and tagging.
	PhaseRunning Phase = "running"

	// PhaseDraining indicates shutdown was requested: the in-flight
	// attempt finishes but no new ones start.
	PhaseDraining Phase = "draining"

	// PhaseStopped indicates the loop has exited. Terminal.
	PhaseStopped Phase = "stopped"
)

// Config holds loop configuration.
type Config struct {
	// PollInterval is the wait between cycle completions. All ready
	// files in a cycle are processed before sleeping.
	PollInterval time.Duration

	// LoopCount bounds the number of cycles; -1 means unbounded.
	LoopCount int

	// MaxAttempts caps tagging attempts per file.
	MaxAttempts int

	// Precheck enables skipping files that already carry statistics
	// tags. Requires the invoker to implement tagger.Prechecker.
	Precheck bool

	// Logger for loop activity.
	Logger *log.Logger

	// Journal, when set, records every tagging attempt. Best-effort:
	// journal errors are logged and never stop the pipeline.
	Journal *history.DB

	// Notify, when set, is called with a copy of each entry after a
	// state transition. Used by the dashboard broadcaster.
	Notify func(f *state.WatchedFile)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 30 * time.Second,
		LoopCount:    -1,
		MaxAttempts:  3,
		Logger:       log.New(os.Stderr, "[mkvtag] ", log.LstdFlags),
	}
}

// sample is one filesystem observation of a file.
type sample struct {
	size  int64
	mtime time.Time
}

// Loop owns the state store for one watched directory and drives each
// file through the tagging state machine.
type Loop struct {
	dir      string
	store    *state.Store
	invoker  tagger.Invoker
	precheck tagger.Prechecker // nil unless the invoker supports it
	cleaner  *cleaner.Cleaner
	tracker  *stability.Tracker
	config   *Config

	nudge chan struct{}
	phase Phase
}

// New creates a Loop for the given directory.
func New(dir string, store *state.Store, invoker tagger.Invoker, cl *cleaner.Cleaner, config *Config) (*Loop, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if invoker == nil {
		return nil, fmt.Errorf("invoker cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if cl == nil {
		var err error
		if cl, err = cleaner.New("", config.Logger); err != nil {
			return nil, err
		}
	}

	l := &Loop{
		dir:     dir,
		store:   store,
		invoker: invoker,
		cleaner: cl,
		tracker: stability.New(config.PollInterval),
		config:  config,
		nudge:   make(chan struct{}, 1),
		phase:   PhaseRunning,
	}

	if config.Precheck {
		pc, ok := invoker.(tagger.Prechecker)
		if !ok {
			return nil, fmt.Errorf("precheck enabled but invoker cannot inspect files")
		}
		l.precheck = pc
	}
	return l, nil
}

// Phase returns the loop's lifecycle state.
func (l *Loop) Phase() Phase {
	return l.phase
}

// Run acquires the instance lock and executes scan cycles until the
// loop budget is exhausted or ctx is cancelled, then drains and
// releases the lock.
//
// Run returns lock.ErrAlreadyRunning (wrapped) when another live
// instance owns the directory; that is fatal at startup by design.
func (l *Loop) Run(ctx context.Context) error {
	lk, err := lock.Acquire(l.dir, l.config.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			l.config.Logger.Printf("Error releasing lock: %v", err)
		}
		l.phase = PhaseStopped
	}()

	l.config.Logger.Printf("Watching directory: %s", l.dir)

	// Entries persisted mid-attempt by a crashed run must re-earn
	// stability before being tagged again.
	l.recoverInFlight()

	if watcher, err := l.startNudger(); err != nil {
		l.config.Logger.Printf("Warning: change notifications unavailable, polling only: %v", err)
	} else {
		defer watcher.Close()
	}

	remaining := l.config.LoopCount
	for {
		if remaining == 0 {
			l.drain("loop budget exhausted")
			return nil
		}

		l.cycle(ctx)

		if ctx.Err() != nil {
			l.drain("termination signal received")
			return nil
		}
		if remaining > 0 {
			remaining--
		}
		if remaining == 0 {
			continue // drain at the top without sleeping
		}

		timer := time.NewTimer(l.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.drain("termination signal received")
			return nil
		case <-l.nudge:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// drain transitions to Draining and logs why. The store is already
// persisted write-through and the lock release is deferred in Run, so
// nothing else remains to flush.
func (l *Loop) drain(reason string) {
	l.phase = PhaseDraining
	l.config.Logger.Printf("Draining: %s", reason)
}

// recoverInFlight demotes entries left in the tagging state by a
// previous run.
func (l *Loop) recoverInFlight() {
	for _, f := range l.store.Files() {
		if f.State != state.StateTagging {
			continue
		}
		l.config.Logger.Printf("Recovering interrupted attempt for %s", filepath.Base(f.Path))
		f.State = state.StateStabilizing
		f.StableSince = nil
		if err := l.store.Put(f); err != nil {
			l.config.Logger.Printf("Error persisting recovery for %s: %v", f.Path, err)
		}
	}
}

// startNudger begins watching the directory for new media files so a
// scan can start before the next tick. Only create events nudge; write
// events would defeat the polling cadence while an encoder streams.
func (l *Loop) startNudger() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) {
					continue
				}
				if !isMediaFile(event.Name) {
					continue
				}
				select {
				case l.nudge <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.config.Logger.Printf("Watcher error: %v", err)
			}
		}
	}()

	return watcher, nil
}

// cycle performs one full scan-and-process pass.
func (l *Loop) cycle(ctx context.Context) {
	samples, exists, ok := l.scan()
	if !ok {
		return
	}

	if err := l.store.Prune(exists); err != nil {
		l.config.Logger.Printf("Error pruning state store: %v", err)
	}

	now := time.Now()
	for _, f := range l.store.Files() {
		// Shutdown requested: finish nothing new. The attempt that
		// was in flight when the signal arrived has already returned.
		if ctx.Err() != nil {
			return
		}
		l.step(ctx, f, samples, now)
	}
}

// scan lists the directory's media files, merges unseen paths into the
// store, and returns the samples taken. A directory read failure is
// transient: it is logged and the cycle is skipped with all entries
// left unchanged.
func (l *Loop) scan() (map[string]sample, map[string]bool, bool) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.config.Logger.Printf("Error reading %s (will retry): %v", l.dir, err)
		return nil, nil, false
	}

	samples := make(map[string]sample)
	exists := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() || !isMediaFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			// Vanished between scan and stat. Leave any entry
			// untouched; the next cycle settles it.
			l.config.Logger.Printf("Error sampling %s (will retry): %v", path, err)
			exists[path] = true
			continue
		}

		samples[path] = sample{size: info.Size(), mtime: info.ModTime()}
		exists[path] = true

		if _, known := l.store.Get(path); !known {
			l.config.Logger.Printf("New file: %s (%d bytes)", entry.Name(), info.Size())
			f := &state.WatchedFile{
				Path:       path,
				Size:       info.Size(),
				ModifiedAt: info.ModTime(),
				State:      state.StatePending,
			}
			if err := l.store.Put(f); err != nil {
				l.config.Logger.Printf("Error recording %s: %v", path, err)
			}
		}
	}
	return samples, exists, true
}

// step advances one file through the state machine.
func (l *Loop) step(ctx context.Context, f *state.WatchedFile, samples map[string]sample, now time.Time) {
	switch f.State {
	case state.StateTagged, state.StateSkipped:
		// Terminal, unless the file was replaced on disk: a changed
		// size re-enters it into the pipeline from scratch.
		s, ok := samples[f.Path]
		if !ok || s.size == f.Size {
			return
		}
		l.config.Logger.Printf("File %s changed after tagging, re-entering", filepath.Base(f.Path))
		f.State = state.StatePending
		f.Size = s.size
		f.ModifiedAt = s.mtime
		f.StableSince = nil
		f.Attempts = 0
		f.LastError = ""
		f.TaggedAt = nil
		l.put(f)

	case state.StateFailed:
		// Terminal; surfaced to the operator via status and logs.
		return

	case state.StatePending:
		f.State = state.StateStabilizing
		l.put(f)

	case state.StateTagging:
		// Only reachable for entries restored mid-attempt; Run demotes
		// them before the first cycle, so this is unexpected.
		f.State = state.StateStabilizing
		f.StableSince = nil
		l.put(f)

	case state.StateStabilizing:
		s, ok := samples[f.Path]
		if !ok {
			return
		}
		if !l.tracker.Observe(f, s.size, s.mtime, now) {
			l.put(f)
			return
		}
		f.State = state.StateTagging
		l.put(f)
		l.tag(ctx, f)
	}
}

// tag runs one tagging attempt for a file in the tagging state and
// records the outcome.
func (l *Loop) tag(ctx context.Context, f *state.WatchedFile) {
	name := filepath.Base(f.Path)

	if l.precheck != nil {
		has, err := l.precheck.HasStatistics(ctx, f.Path)
		if err != nil {
			l.config.Logger.Printf("Precheck for %s failed, tagging anyway: %v", name, err)
		} else if has {
			l.config.Logger.Printf("File %s already has statistics tags, skipping", name)
			f.State = state.StateSkipped
			f.StableSince = nil
			l.put(f)
			return
		}
	}

	f.Attempts++
	l.config.Logger.Printf("Tagging %s (attempt %d of %d)", name, f.Attempts, l.config.MaxAttempts)

	started := time.Now()
	res := l.invoker.Tag(f.Path)
	l.journal(f, res, started)

	switch res.Outcome {
	case tagger.OutcomeSuccess:
		taggedAt := time.Now()
		f.State = state.StateTagged
		f.TaggedAt = &taggedAt
		f.LastError = ""
		f.StableSince = nil
		l.put(f)
		l.config.Logger.Printf("Tagged %s in %v", name, res.Duration.Round(time.Millisecond))

		if err := l.cleaner.Clean(l.store, f); err != nil {
			if errors.Is(err, cleaner.ErrTargetExists) {
				l.config.Logger.Printf("Skipping rename of %s: %v", name, err)
			} else {
				l.config.Logger.Printf("Error renaming %s: %v", name, err)
			}
		}

	case tagger.OutcomeRecoverable:
		f.LastError = res.Output
		if f.Attempts >= l.config.MaxAttempts {
			l.config.Logger.Printf("File %s failed %d times, giving up", name, f.Attempts)
			f.State = state.StateFailed
		} else {
			l.config.Logger.Printf("Tagging %s failed, will retry: %s", name, res.Output)
			f.State = state.StateStabilizing
			f.StableSince = nil
		}
		l.put(f)

	case tagger.OutcomePermanent:
		l.config.Logger.Printf("File %s cannot be tagged: %s", name, res.Output)
		f.LastError = res.Output
		f.State = state.StateFailed
		l.put(f)
	}
}

// put persists a mutated entry and notifies any transition listener.
func (l *Loop) put(f *state.WatchedFile) {
	if err := l.store.Put(f); err != nil {
		l.config.Logger.Printf("Error persisting %s: %v", f.Path, err)
	}
	if l.config.Notify != nil {
		l.config.Notify(f.Clone())
	}
}

// journal records an attempt row, best-effort. Uses a background
// context so the final attempt of a draining run is still recorded.
func (l *Loop) journal(f *state.WatchedFile, res tagger.Result, started time.Time) {
	if l.config.Journal == nil {
		return
	}
	err := l.config.Journal.Record(context.Background(), history.Attempt{
		Path:      f.Path,
		Attempt:   f.Attempts,
		Outcome:   string(res.Outcome),
		Output:    res.Output,
		Duration:  res.Duration,
		StartedAt: started,
	})
	if err != nil {
		l.config.Logger.Printf("Error journaling attempt for %s: %v", f.Path, err)
	}
}

// isMediaFile reports whether the name looks like a Matroska file.
func isMediaFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".mkv")
}
