// Package engine runs sync cycles between the local document store and
// the remote snapshot, on an interval when auto-sync is enabled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/merge"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/snapshot"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInterval   = time.Minute
	DefaultGCInterval = 30 * 24 * time.Hour
	DefaultMinCycle   = 300 * time.Millisecond
)

// Status is the engine's externally visible state.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusSyncing  Status = "syncing"
	StatusError    Status = "error"
)

// Config wires the engine to its stores and observers.
type Config struct {
	Local  LocalStorage
	Remote RemoteStorage

	// Conflicts, when set, receives every tie decided by strategy.
	Conflicts ConflictRecorder

	// Interval between scheduled pull cycles. Zero means DefaultInterval.
	Interval time.Duration
	// GCInterval is the tombstone retention. Zero means DefaultGCInterval.
	GCInterval time.Duration
	// MinCycle is the minimum wall time of a cycle, so status observers
	// do not see syncing flicker on fast no-op cycles. Zero disables it.
	MinCycle time.Duration

	// Device is stamped into pushed snapshot metadata.
	Device string

	// OnDataChanged fires after a cycle wrote to the local store.
	OnDataChanged func()
	// OnStatusChange fires on every status transition.
	OnStatusChange func(next, prev Status)

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Report summarizes one cycle.
type Report struct {
	Strategy   merge.Strategy `json:"strategy"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration_ns"`
	FastPath   bool           `json:"fast_path"`
	Upserted   int            `json:"upserted"`
	Removed    int            `json:"removed"`
	Conflicts  int            `json:"conflicts"`
	Pushed     bool           `json:"pushed"`
	LocalHash  string         `json:"local_hash,omitempty"`
	RemoteHash string         `json:"remote_hash,omitempty"`
	MergedHash string         `json:"merged_hash,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Engine reconciles local and remote state. One cycle runs at a time per
// engine; concurrent callers share the cycle already in flight.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	status  Status
	enabled bool
	stop    chan struct{}
	last    Report

	// nudges holds at most one pending cycle request for the scheduler.
	nudges chan merge.Strategy

	cycles singleflight.Group
}

// New creates an engine in the inactive state.
func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultGCInterval
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		cfg:    cfg,
		logger: logger,
		status: StatusInactive,
		nudges: make(chan merge.Strategy, 1),
	}
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

// AutoSyncEnabled reports whether the scheduler is running.
func (e *Engine) AutoSyncEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.enabled
}

// LastReport returns the report of the most recent completed cycle.
func (e *Engine) LastReport() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last
}

// EnableAutoSync starts the interval scheduler. Cycles started by the
// scheduler run under ctx. Calling it while enabled does nothing.
func (e *Engine) EnableAutoSync(ctx context.Context) {
	e.mu.Lock()
	if e.enabled {
		e.mu.Unlock()
		return
	}

	e.enabled = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	go e.schedule(ctx, stop)

	e.logger.Info("auto-sync enabled", slog.Duration("interval", e.cfg.Interval))
	e.transition(StatusActive, false)
}

// DisableAutoSync stops the scheduler. A cycle already running finishes
// but leaves the status inactive. Calling it while disabled does nothing.
func (e *Engine) DisableAutoSync() {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return
	}

	e.enabled = false
	close(e.stop)
	e.stop = nil
	e.mu.Unlock()

	e.logger.Info("auto-sync disabled")
	e.transition(StatusInactive, false)
}

// Run enables auto-sync, blocks until ctx is cancelled, then disables
// it. Suited to running under an errgroup.
func (e *Engine) Run(ctx context.Context) error {
	e.EnableAutoSync(ctx)
	e.Nudge(merge.StrategyPull)

	<-ctx.Done()
	e.DisableAutoSync()

	return ctx.Err()
}

// Nudge asks the scheduler for a cycle soon without blocking. A pending
// push request is never replaced by a pull. Ignored while disabled.
func (e *Engine) Nudge(strategy merge.Strategy) {
	if !e.AutoSyncEnabled() {
		return
	}

	select {
	case e.nudges <- strategy:
		return
	default:
	}

	if strategy != merge.StrategyPush {
		return
	}

	select {
	case <-e.nudges:
	default:
	}

	select {
	case e.nudges <- strategy:
	default:
	}
}

// Sync runs one cycle if auto-sync is enabled. Failures are not returned:
// they set the status to error and are recorded in the report.
func (e *Engine) Sync(ctx context.Context, strategy merge.Strategy) Report {
	if !e.AutoSyncEnabled() {
		e.logger.Debug("sync skipped, auto-sync disabled")
		return Report{Strategy: strategy}
	}

	rep, _ := e.RunOnce(ctx, strategy)

	return rep
}

// RunOnce runs one cycle regardless of auto-sync and returns its error.
// Used by one-shot commands.
func (e *Engine) RunOnce(ctx context.Context, strategy merge.Strategy) (Report, error) {
	if strategy == "" {
		strategy = merge.StrategyPull
	}

	v, err, shared := e.cycles.Do("cycle", func() (any, error) {
		return e.cycle(ctx, strategy)
	})
	if shared {
		e.logger.Debug("joined in-flight sync cycle")
	}

	return v.(Report), err
}

func (e *Engine) cycle(ctx context.Context, strategy merge.Strategy) (Report, error) {
	started := time.Now()

	e.transition(StatusSyncing, true)

	rep, err := e.runCycle(ctx, strategy)

	if wait := e.cfg.MinCycle - time.Since(started); wait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}

	rep.StartedAt = started
	rep.Duration = time.Since(started)

	if err != nil {
		rep.Error = err.Error()
		e.logger.Error("sync cycle failed",
			slog.String("strategy", string(strategy)),
			slog.String("error", err.Error()),
		)
		e.transition(StatusError, false)
	} else {
		e.logger.Info("sync cycle complete",
			slog.String("strategy", string(strategy)),
			slog.Bool("fast_path", rep.FastPath),
			slog.Int("upserted", rep.Upserted),
			slog.Int("removed", rep.Removed),
			slog.Int("conflicts", rep.Conflicts),
			slog.Bool("pushed", rep.Pushed),
			slog.Duration("duration", rep.Duration),
		)
		e.transition(StatusActive, true)
	}

	e.mu.Lock()
	e.last = rep
	e.mu.Unlock()

	return rep, err
}

// runCycle loads both sides, merges, applies local writes, and pushes
// when the merged state differs from what the remote holds.
func (e *Engine) runCycle(ctx context.Context, strategy merge.Strategy) (Report, error) {
	rep := Report{Strategy: strategy}

	local, err := e.cfg.Local.LoadAllDocs(ctx)
	if err != nil {
		return rep, fmt.Errorf("loading local docs: %w", err)
	}

	rep.LocalHash = snapshot.Hash(local)

	remote, err := e.cfg.Remote.LoadSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, syncerr.ErrMalformedSnapshot) {
			return rep, fmt.Errorf("loading remote snapshot: %w", err)
		}

		e.logger.Warn("remote snapshot is malformed, treating as absent", slog.String("error", err.Error()))
		remote = nil
	}

	var remoteDocs models.Docs
	if remote != nil {
		rep.RemoteHash = remote.Meta.Hash
		remoteDocs = remote.Docs

		if remote.Meta.Hash == rep.LocalHash {
			rep.FastPath = true
			rep.MergedHash = rep.LocalHash
			e.logger.Debug("local and remote hashes match", slog.String("hash", rep.LocalHash))

			return rep, nil
		}
	}

	now := e.cfg.Now()
	plan := merge.RemoteIntoLocal(local, remoteDocs, strategy, e.cfg.GCInterval, now)

	if len(plan.ToUpsert) > 0 {
		if err := e.cfg.Local.UpsertDocs(ctx, plan.ToUpsert); err != nil {
			return rep, fmt.Errorf("applying upserts: %w", err)
		}
	}

	rep.Upserted = len(plan.ToUpsert)

	if len(plan.ToRemove) > 0 {
		if err := e.cfg.Local.DeleteDocs(ctx, plan.ToRemove); err != nil {
			return rep, fmt.Errorf("purging tombstones: %w", err)
		}
	}

	rep.Removed = len(plan.ToRemove)
	rep.Conflicts = len(plan.Conflicts)

	if plan.Changes > 0 && e.cfg.OnDataChanged != nil {
		e.cfg.OnDataChanged()
	}

	if len(plan.Conflicts) > 0 && e.cfg.Conflicts != nil {
		if err := e.cfg.Conflicts.RecordConflicts(plan.Conflicts); err != nil {
			e.logger.Warn("recording conflicts", slog.String("error", err.Error()))
		}
	}

	rep.MergedHash = snapshot.Hash(plan.Merged)

	var push bool
	if remote == nil {
		push = plan.Merged.HasLiveData()
	} else {
		push = rep.MergedHash != remote.Meta.Hash
	}

	if !push {
		return rep, nil
	}

	snap := snapshot.Build(plan.Merged)
	snap.Meta.Device = e.cfg.Device
	snap.Meta.CreatedAt = models.Millis(now)

	if err := e.cfg.Remote.SaveSnapshot(ctx, snap); err != nil {
		return rep, fmt.Errorf("pushing snapshot: %w", err)
	}

	rep.Pushed = true

	return rep, nil
}

// schedule is the scheduler goroutine. Cycles it starts run one after
// another, never overlapping.
func (e *Engine) schedule(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			e.Sync(ctx, merge.StrategyPull)
		case strategy := <-e.nudges:
			e.Sync(ctx, strategy)
		}
	}
}

// transition moves to next and notifies the observer. With ifEnabled it
// only applies while auto-sync is on, so a cycle finishing after a
// disable leaves the status inactive.
func (e *Engine) transition(next Status, ifEnabled bool) {
	e.mu.Lock()
	if ifEnabled && !e.enabled {
		e.mu.Unlock()
		return
	}

	prev := e.status
	if prev == next {
		e.mu.Unlock()
		return
	}

	e.status = next
	e.mu.Unlock()

	e.logger.Debug("sync status changed", slog.String("from", string(prev)), slog.String("to", string(next)))

	if e.cfg.OnStatusChange != nil {
		e.cfg.OnStatusChange(next, prev)
	}
}
