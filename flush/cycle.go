// Package flush runs periodic, non-overlapping pushes of queued mutations.
package flush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wwcpsync/domain"
	"wwcpsync/log"
)

// Default periods of the three adapter cycles.
const (
	DefaultDataAndStatusEvery = 31 * time.Second
	DefaultFastStatusEvery    = 3 * time.Second
	DefaultCDREvery           = 15 * time.Second
)

// State is how a single tick ended.
type State int

const (
	Busy State = iota
	Skipped
	Completed
	Failed
	Canceled
)

func (s State) String() string {
	switch s {
	case Busy:
		return "busy"
	case Skipped:
		return "skipped"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Run reports one tick. RunID, TrackingID, Start and End are zero for busy
// and skipped ticks.
type Run struct {
	Cycle      string                 `json:"cycle"`
	State      State                  `json:"state"`
	RunID      uint64                 `json:"run_id,omitempty"`
	TrackingID domain.EventTrackingID `json:"tracking_id,omitempty"`
	Start      time.Time              `json:"start,omitempty"`
	End        time.Time              `json:"end,omitempty"`
	Err        error                  `json:"-"`
}

func (r Run) Runtime() time.Duration { return r.End.Sub(r.Start) }

// Started, Finished and Failure carry the run's TrackingID, which is also
// the tracking id of everything its snapshot sends.
type Started struct {
	Cycle      string
	Start      time.Time
	Period     time.Duration
	RunID      uint64
	TrackingID domain.EventTrackingID
}

type Finished struct {
	Cycle      string
	Start      time.Time
	End        time.Time
	Runtime    time.Duration
	Period     time.Duration
	RunID      uint64
	TrackingID domain.EventTrackingID
}

// Failure carries the innermost cause of a failed run.
type Failure struct {
	Cycle      string
	Start      time.Time
	At         time.Time
	RunID      uint64
	TrackingID domain.EventTrackingID
	Err        error
}

// Emitter receives cycle lifecycle events.
type Emitter interface {
	EmitFlushStarted(Started)
	EmitFlushFinished(Finished)
	EmitFlushFailed(Failure)
}

type nopEmitter struct{}

func (nopEmitter) EmitFlushStarted(Started)   {}
func (nopEmitter) EmitFlushFinished(Finished) {}
func (nopEmitter) EmitFlushFailed(Failure)    {}

// Config describes a cycle. Snapshot takes the work out of the queues and
// Flush hands it to the partner; both run only while the cycle is held.
// Snapshot receives the tracking id of the run.
type Config[T any] struct {
	Name     string
	Period   time.Duration
	Timeout  time.Duration
	Skip     func() bool
	Snapshot func(tid domain.EventTrackingID) T
	Flush    func(ctx context.Context, snapshot T) error
	Emitter  Emitter
	Now      func() time.Time
}

// Stats are cumulative tick counters.
type Stats struct {
	Runs    uint64 `json:"runs"`
	Skipped uint64 `json:"skipped"`
	Busy    uint64 `json:"busy"`
	Failed  uint64 `json:"failed"`
	LastRun *Run   `json:"last_run,omitempty"`
}

// Cycle executes Flush at most once at a time. A tick that finds the cycle
// held returns immediately instead of waiting.
type Cycle[T any] struct {
	cfg Config[T]
	sem chan struct{}

	runID   atomic.Uint64
	skipped atomic.Uint64
	busy    atomic.Uint64
	failed  atomic.Uint64
	last    atomic.Pointer[Run]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New[T any](cfg Config[T]) *Cycle[T] {
	if cfg.Emitter == nil {
		cfg.Emitter = nopEmitter{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = func(domain.EventTrackingID) T {
			var zero T
			return zero
		}
	}
	return &Cycle[T]{cfg: cfg, sem: make(chan struct{}, 1)}
}

func (c *Cycle[T]) Name() string          { return c.cfg.Name }
func (c *Cycle[T]) Period() time.Duration { return c.cfg.Period }

// Tick performs one flush attempt.
func (c *Cycle[T]) Tick(ctx context.Context) Run {
	run := Run{Cycle: c.cfg.Name}

	select {
	case c.sem <- struct{}{}:
	default:
		c.busy.Add(1)
		run.State = Busy
		return run
	}
	defer func() { <-c.sem }()

	if c.shouldSkip(ctx) {
		c.skipped.Add(1)
		run.State = Skipped
		return run
	}

	run.RunID = c.runID.Add(1)
	run.TrackingID = domain.NewEventTrackingID()
	run.Start = c.cfg.Now()
	c.cfg.Emitter.EmitFlushStarted(Started{
		Cycle:      c.cfg.Name,
		Start:      run.Start,
		Period:     c.cfg.Period,
		RunID:      run.RunID,
		TrackingID: run.TrackingID,
	})

	err := c.execute(ctx, run.TrackingID)
	run.End = c.cfg.Now()

	switch {
	case err == nil:
		run.State = Completed
		c.cfg.Emitter.EmitFlushFinished(Finished{
			Cycle:      c.cfg.Name,
			Start:      run.Start,
			End:        run.End,
			Runtime:    run.End.Sub(run.Start),
			Period:     c.cfg.Period,
			RunID:      run.RunID,
			TrackingID: run.TrackingID,
		})
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		run.State = Canceled
		run.Err = err
		log.Ctx(ctx).InfoContext(ctx, "flush: run canceled", "cycle", c.cfg.Name, "run_id", run.RunID)
	default:
		cause := Innermost(err)
		run.State = Failed
		run.Err = cause
		c.failed.Add(1)
		log.Ctx(ctx).ErrorContext(ctx, "flush: run failed", "cycle", c.cfg.Name, "run_id", run.RunID, "error", cause)
		c.cfg.Emitter.EmitFlushFailed(Failure{
			Cycle:      c.cfg.Name,
			Start:      run.Start,
			At:         run.End,
			RunID:      run.RunID,
			TrackingID: run.TrackingID,
			Err:        cause,
		})
	}
	c.last.Store(&run)
	return run
}

func (c *Cycle[T]) shouldSkip(ctx context.Context) (skip bool) {
	if c.cfg.Skip == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).ErrorContext(ctx, "flush: skip check panicked", "cycle", c.cfg.Name, "panic", fmt.Sprint(r))
			skip = true
		}
	}()
	return c.cfg.Skip()
}

func (c *Cycle[T]) execute(ctx context.Context, tid domain.EventTrackingID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("flush %s: panic: %w", c.cfg.Name, e)
				return
			}
			err = fmt.Errorf("flush %s: panic: %v", c.cfg.Name, r)
		}
	}()
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	snapshot := c.cfg.Snapshot(tid)
	if c.cfg.Flush == nil {
		return nil
	}
	return c.cfg.Flush(ctx, snapshot)
}

// Start ticks the cycle every Period until ctx is done or Stop is called.
// Each tick runs on its own goroutine. A non-positive Period disables the
// timer.
func (c *Cycle[T]) Start(ctx context.Context) {
	if c.cfg.Period <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)
}

func (c *Cycle[T]) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.Tick(ctx)
			}()
		}
	}
}

// Stop cancels the timer and any running flush, and waits for them.
func (c *Cycle[T]) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Cycle[T]) Stats() Stats {
	s := Stats{
		Runs:    c.runID.Load(),
		Skipped: c.skipped.Load(),
		Busy:    c.busy.Load(),
		Failed:  c.failed.Load(),
	}
	if last := c.last.Load(); last != nil {
		r := *last
		s.LastRun = &r
	}
	return s
}

// Innermost follows the Unwrap chain of err to its end.
func Innermost(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return err
}
