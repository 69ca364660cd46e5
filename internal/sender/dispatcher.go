package sender

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"moonlander/internal/engine"
	"moonlander/internal/logging"
)

// DefaultMaxInFlight caps concurrent connections when no limit is configured.
const DefaultMaxInFlight = 16

// ErrSaturated is reported when a job is dropped because the in-flight limit is reached.
var ErrSaturated = errors.New("too many commands in flight")

// Deliverer is the part of Sender the Dispatcher needs.
type Deliverer interface {
	Send(ctx context.Context, target engine.Target, code engine.Code) error
}

// Job is one command to deliver. ID only correlates logs and state broadcasts.
type Job struct {
	ID     uuid.UUID
	Target engine.Target
	Engine engine.Engine
	Phase  engine.Phase
	Code   engine.Code
}

// NewJob resolves the command code for (e, p) and stamps a fresh ID.
func NewJob(target engine.Target, e engine.Engine, p engine.Phase) (Job, error) {
	code, err := engine.CodeFor(e, p)
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:     uuid.New(),
		Target: target,
		Engine: e,
		Phase:  p,
		Code:   code,
	}, nil
}

// Result is what happened to a dispatched job.
type Result struct {
	Job     Job
	Err     error
	Elapsed time.Duration
}

type DispatcherConfig struct {
	// MaxInFlight bounds concurrent sends. If zero, DefaultMaxInFlight is used.
	MaxInFlight int

	// OnResult, if set, is called from the send goroutine after every attempt.
	// It must not block.
	OnResult func(Result)
}

// Dispatcher delivers jobs fire-and-forget.
//
// Dispatch never waits for the network. Each accepted job gets its own
// goroutine and its own connection, so two jobs dispatched back to back may
// reach the lander in either order. When MaxInFlight sends are already running
// the job is dropped rather than queued.
type Dispatcher struct {
	ctx       context.Context
	deliverer Deliverer
	logger    *slog.Logger

	sem      *semaphore.Weighted
	limit    int64
	onResult func(Result)
}

// NewDispatcher creates a dispatcher whose sends are canceled together with ctx.
func NewDispatcher(ctx context.Context, d Deliverer, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	limit := int64(cfg.MaxInFlight)
	if limit <= 0 {
		limit = DefaultMaxInFlight
	}
	return &Dispatcher{
		ctx:       ctx,
		deliverer: d,
		logger:    logger,
		sem:       semaphore.NewWeighted(limit),
		limit:     limit,
		onResult:  cfg.OnResult,
	}
}

// Dispatch starts delivering job and returns immediately.
// It returns false if the job was dropped because the dispatcher is saturated.
func (d *Dispatcher) Dispatch(job Job) bool {
	if !d.sem.TryAcquire(1) {
		d.logger.Warn("dispatcher saturated, dropping command",
			"id", job.ID, "engine", job.Engine, "phase", job.Phase, "code", job.Code, "max_in_flight", d.limit)
		return false
	}

	go func() {
		defer d.sem.Release(1)

		start := time.Now()
		err := d.deliverer.Send(d.ctx, job.Target, job.Code)
		elapsed := time.Since(start)

		if err != nil {
			d.logger.Error("command delivery failed",
				"id", job.ID, "engine", job.Engine, "phase", job.Phase, "code", job.Code,
				"target", job.Target, logging.ErrAttr(err))
		} else {
			d.logger.Debug("command delivered",
				"id", job.ID, "engine", job.Engine, "phase", job.Phase, "code", job.Code,
				"target", job.Target, "elapsed", elapsed)
		}

		if d.onResult != nil {
			d.onResult(Result{Job: job, Err: err, Elapsed: elapsed})
		}
	}()

	return true
}

// Wait blocks until every in-flight send has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if err := d.sem.Acquire(ctx, d.limit); err != nil {
		return err
	}
	d.sem.Release(d.limit)
	return nil
}

// MaxInFlight returns the configured concurrency bound.
func (d *Dispatcher) MaxInFlight() int {
	return int(d.limit)
}
