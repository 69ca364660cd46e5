package main

import (
	"errors"
	"log/slog"
	"time"

	"moonlander/internal/logging"
	"moonlander/internal/sender"
)

// jobDispatcher is the part of *sender.Dispatcher the effects layer needs.
type jobDispatcher interface {
	Dispatch(job sender.Job) bool
}

// runEffect executes a single reducer-emitted Command and reports what happened via onEvent.
//
// Command sends are fire-and-forget: a successful Dispatch emits nothing here;
// the dispatcher result hook reports the outcome later through resultEvent.
//
// It must never call Reduce() directly.
func runEffect(
	dispatcher jobDispatcher,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		return
	}

	now := time.Now()

	switch c := cmd.(type) {
	case CmdSend:
		job, err := sender.NewJob(c.Target, c.Engine, c.Phase)
		if err != nil {
			logger.Error("cannot build command", "engine", c.Engine, "phase", c.Phase, logging.ErrAttr(err))
			onEvent(DeliveryFailed{Job: sender.Job{Target: c.Target, Engine: c.Engine, Phase: c.Phase}, Err: err, At: now})
			return
		}
		if dispatcher == nil {
			onEvent(DeliveryFailed{Job: job, Err: errNoDispatcher, At: now})
			return
		}
		logger.Debug("dispatching command", "id", job.ID, "engine", job.Engine, "phase", job.Phase, "code", job.Code, "target", job.Target)
		if !dispatcher.Dispatch(job) {
			onEvent(DeliveryFailed{Job: job, Err: sender.ErrSaturated, At: now})
		}

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the daemon loop on a requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}

var errNoDispatcher = errors.New("no command dispatcher")

// resultEvent converts a dispatcher result into the reducer event for it.
func resultEvent(r sender.Result) Event {
	now := time.Now()
	if r.Err != nil {
		return DeliveryFailed{Job: r.Job, Err: r.Err, At: now}
	}
	return DeliveryObserved{Job: r.Job, Elapsed: r.Elapsed, At: now}
}
