package main

import (
	"context"
	"log/slog"
	"time"

	"moonlander/internal/logging"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven "Daemon Brain"
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that executes side effects.
//   - Dispatch outcomes come back as Events and are fed into the reducer.
//   - Explicit event and command queues (no nested/re-entrant execution).
//
// ============================================================================

// runDaemon is the main daemon loop that:
//   - Receives Events from input devices, IPC, websocket and the dispatcher
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands and forwards broadcasts
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	dispatcher jobDispatcher,
	state *ControllerState,
	broadcasts chan<- StateBroadcast,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bcs []StateBroadcast) {
		if broadcasts == nil {
			return
		}
		for _, b := range bcs {
			select {
			case broadcasts <- b:
			default:
				logger.Warn("state broadcast queue full, dropping broadcast")
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev)
			if rr.State != nil {
				state = rr.State
			}
			if rr.Rejected != nil {
				logger.Warn("ignoring invalid request", logging.ErrAttr(rr.Rejected))
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(dispatcher, cmd, logger, enqueueEvent)

			// Synchronous outcomes (e.g. a dropped job) are reduced right away.
			flushEvents()
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			if ae, isAction := ev.(ActionEvent); isAction && ae.At.IsZero() {
				ae.At = time.Now()
				ev = ae
			}
			enqueueEvent(ev)
			flushEvents()
			flushCommands()
		}
	}
}

// postEvent offers ev to the daemon without blocking.
// It reports false if the queue is full.
func postEvent(events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	default:
		return false
	}
}
