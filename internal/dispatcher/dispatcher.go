package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"Postwing/internal/core/posts"
	"Postwing/internal/core/sessions"
)

const (
	// healthInterval is how often the watchdog verifies the tick loop
	// is still alive.
	healthInterval = 30 * time.Minute

	// stuckExecutingAfter is the watchdog timeout for posts abandoned
	// in EXECUTING by a crashed or cancelled run.
	stuckExecutingAfter = 10 * time.Minute

	// interBatchPause smooths outbound rate pressure between
	// sub-batches.
	interBatchPause = time.Second
)

// Options tune the scan loop. Zero values fall back to defaults.
type Options struct {
	TickInterval     time.Duration // default 60s
	BatchSize        int           // default 100
	SubBatchSize     int           // default 10
	ShutdownDeadline time.Duration // default 30s
}

func (o *Options) withDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 60 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.SubBatchSize <= 0 {
		o.SubBatchSize = 10
	}
	if o.ShutdownDeadline <= 0 {
		o.ShutdownDeadline = 30 * time.Second
	}
}

// StateSweeper evicts expired pending OAuth authorizations. The sweep
// rides the maintenance task instead of owning a timer.
type StateSweeper interface {
	SweepStates() int
}

// Dispatcher periodically discovers due posts and drives the post
// service. One logical instance runs per deployment; the CAS claim in
// the post service keeps concurrent instances safe, just wasteful.
type Dispatcher struct {
	svc          posts.Service
	repo         posts.PostRepository
	failures     posts.FailureRepository
	store        sessions.Store
	stateSweeper StateSweeper
	logger       *slog.Logger
	opts         Options

	isRunning  atomic.Bool
	lastTickAt atomic.Int64
	tickerDone chan struct{}

	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates a dispatcher. Start must be called before it does work.
func New(svc posts.Service, repo posts.PostRepository, failures posts.FailureRepository, store sessions.Store, opts Options, logger *slog.Logger) *Dispatcher {
	opts.withDefaults()
	return &Dispatcher{
		svc:      svc,
		repo:     repo,
		failures: failures,
		store:    store,
		logger:   logger,
		opts:     opts,
		stopped:  make(chan struct{}),
	}
}

// SetStateSweeper wires the OAuth state cache into the maintenance task.
// Call before Start.
func (d *Dispatcher) SetStateSweeper(s StateSweeper) {
	d.stateSweeper = s
}

// Start launches the tick loop, the health watchdog and the daily
// maintenance task. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.startTicker(ctx)

	d.wg.Add(2)
	go d.watchdogLoop(ctx)
	go d.maintenanceLoop(ctx)

	go func() {
		d.wg.Wait()
		close(d.stopped)
	}()

	d.logger.Info("dispatcher started",
		"tick_interval", d.opts.TickInterval,
		"batch_size", d.opts.BatchSize,
		"sub_batch_size", d.opts.SubBatchSize)
}

// Stop signals shutdown and waits for in-flight work to drain, bounded
// by the shutdown deadline.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()

	select {
	case <-d.stopped:
		d.logger.Info("dispatcher stopped")
	case <-time.After(d.opts.ShutdownDeadline):
		d.logger.Warn("dispatcher shutdown deadline exceeded, abandoning in-flight work")
	}
}

// LastTick returns when the most recent tick finished; zero before the
// first tick completes.
func (d *Dispatcher) LastTick() time.Time {
	ts := d.lastTickAt.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// TickInterval exposes the configured scan cadence for health reporting.
func (d *Dispatcher) TickInterval() time.Duration {
	return d.opts.TickInterval
}

// startTicker launches the tick goroutine and records its liveness
// channel for the watchdog.
func (d *Dispatcher) startTicker(ctx context.Context) {
	done := make(chan struct{})
	d.tickerDone = done

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)

		ticker := time.NewTicker(d.opts.TickInterval)
		defer ticker.Stop()

		// First scan right away so due posts do not wait a full tick.
		d.RunTick(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.RunTick(ctx)
			}
		}
	}()
}

// watchdogLoop restarts the ticker if it ever dies.
func (d *Dispatcher) watchdogLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-d.tickerDone:
				d.logger.Error("tick loop found dead, restarting")
				d.startTicker(ctx)
			default:
			}

			last := time.Unix(d.lastTickAt.Load(), 0)
			if since := time.Since(last); since > 3*d.opts.TickInterval {
				d.logger.Warn("no tick completed recently", "since", since)
			}
		}
	}
}

// RunTick performs one scan. Exposed so operators can trigger a scan
// out of band; re-entrant calls are rejected by the guard.
func (d *Dispatcher) RunTick(ctx context.Context) {
	if !d.isRunning.CompareAndSwap(false, true) {
		d.logger.Warn("tick skipped, previous tick still running")
		return
	}
	defer d.isRunning.Store(false)
	defer func() { d.lastTickAt.Store(time.Now().Unix()) }()

	// Soft deadline keeps a slow tick from overlapping the next one.
	deadline := d.opts.TickInterval - 5*time.Second
	if deadline <= 0 {
		deadline = d.opts.TickInterval
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	now := time.Now().UTC()

	// Posts abandoned in EXECUTING by a crashed run go back to PENDING
	// with their retry budget intact.
	if reclaimed, err := d.repo.ReclaimStuck(ctx, now.Add(-stuckExecutingAfter)); err != nil {
		d.logger.Error("failed to reclaim stuck posts", "error", err)
	} else if reclaimed > 0 {
		d.logger.Warn("reclaimed stuck posts", "count", reclaimed)
	}

	due, err := d.repo.FindDue(ctx, now, d.opts.BatchSize)
	if err != nil {
		d.logger.Error("failed to query due posts", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	d.logger.Info("dispatching due posts", "count", len(due))

	for start := 0; start < len(due); start += d.opts.SubBatchSize {
		if ctx.Err() != nil {
			d.logger.Warn("tick cancelled mid-batch", "dispatched", start, "total", len(due))
			return
		}

		end := start + d.opts.SubBatchSize
		if end > len(due) {
			end = len(due)
		}
		d.runSubBatch(ctx, due[start:end])

		if end < len(due) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interBatchPause):
			}
		}
	}
}

// runSubBatch executes up to SubBatchSize posts concurrently. Per-post
// errors are already recorded by the service; they never abort the
// batch.
func (d *Dispatcher) runSubBatch(ctx context.Context, batch []*posts.ScheduledPost) {
	var wg sync.WaitGroup
	for _, post := range batch {
		// Thread members ride along when their root executes.
		if post.ThreadRootID != "" && !post.IsThreadRoot {
			continue
		}

		wg.Add(1)
		go func(p *posts.ScheduledPost) {
			defer wg.Done()
			var err error
			if p.IsThreadRoot {
				err = d.svc.ExecuteThread(ctx, p)
			} else {
				err = d.svc.Execute(ctx, p)
			}
			if err != nil {
				d.logger.Debug("post execution did not complete",
					"post_id", p.ID, "error", err)
			}
		}(post)
	}
	wg.Wait()
}
