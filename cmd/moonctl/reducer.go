package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"moonlander/internal/engine"
	"moonlander/internal/remote"
	"moonlander/internal/sender"
)

// This file implements the reducer-style architecture building blocks:
//
//   - Events: inputs to the reducer (user actions, snapshot requests, delivery results)
//   - Commands: side effects requested by the reducer (command byte sends, snapshot replies)
//   - Broadcasts: state changes to publish to websocket clients
//   - Reduce(): computes next state + commands + broadcasts, without performing I/O
//
// The daemon loop is responsible for executing Commands and feeding results back as Events.

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// ActionEvent wraps a front-end Action so it can be used as an Event.
type ActionEvent struct {
	Action remote.Action
	At     time.Time
}

func (ActionEvent) eventMarker() {}

// RequestStateSnapshot asks the reducer to publish a StateSnapshot on Reply.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// DeliveryObserved is emitted when a command byte was written and the connection closed.
type DeliveryObserved struct {
	Job     sender.Job
	Elapsed time.Duration
	At      time.Time
}

func (DeliveryObserved) eventMarker() {}

// DeliveryFailed is emitted when a command could not be delivered or was dropped.
type DeliveryFailed struct {
	Job sender.Job
	Err error
	At  time.Time
}

func (DeliveryFailed) eventMarker() {}

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdSend requests one command byte to be sent to Target.
type CmdSend struct {
	Target engine.Target
	Engine engine.Engine
	Phase  engine.Phase
}

func (CmdSend) commandMarker() {}
func (c CmdSend) String() string {
	return fmt.Sprintf("CmdSend(engine=%s, phase=%s, target=%s)", c.Engine, c.Phase, c.Target)
}

// CmdPublishStateSnapshot delivers a snapshot to a requester.
// The channel send happens in the effects layer to keep the reducer pure.
type CmdPublishStateSnapshot struct {
	Snapshot StateSnapshot
	Reply    chan<- StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// ==============================
// Broadcasts
// ==============================

// StateBroadcast is a state change worth telling websocket clients about.
type StateBroadcast interface {
	broadcastMarker()
}

type BroadcastSelectionChanged struct {
	Engine engine.Engine
	At     time.Time
}

func (BroadcastSelectionChanged) broadcastMarker() {}

type BroadcastTargetChanged struct {
	Target engine.Target
	At     time.Time
}

func (BroadcastTargetChanged) broadcastMarker() {}

type BroadcastCommandSent struct {
	JobID   uuid.UUID
	Engine  engine.Engine
	Phase   engine.Phase
	Code    engine.Code
	Target  engine.Target
	Elapsed time.Duration
	At      time.Time
}

func (BroadcastCommandSent) broadcastMarker() {}

type BroadcastDeliveryFailed struct {
	JobID  uuid.UUID
	Engine engine.Engine
	Phase  engine.Phase
	Code   engine.Code
	Target engine.Target
	Error  string
	At     time.Time
}

func (BroadcastDeliveryFailed) broadcastMarker() {}

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce().
//
// Rejected is set when an event was ignored because it was invalid (bad
// address, unknown engine). State is unchanged in that case; the daemon loop
// logs the reason.
type ReduceResult struct {
	State      *ControllerState
	Commands   []Command
	Broadcasts []StateBroadcast
	Rejected   error
}

// Reduce is the pure reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
func Reduce(s *ControllerState, e Event) ReduceResult {
	if s == nil {
		s = NewControllerState(engine.DefaultTarget())
	}

	rr := ReduceResult{State: s}

	switch ev := e.(type) {
	case ActionEvent:
		reduceAction(s, ev, &rr)

	case RequestStateSnapshot:
		rr.Commands = append(rr.Commands, CmdPublishStateSnapshot{
			Snapshot: s.Snapshot(),
			Reply:    ev.Reply,
		})

	case DeliveryObserved:
		s.Sent++
		s.LastDelivery = &DeliveryRecord{
			JobID:  ev.Job.ID,
			Engine: ev.Job.Engine,
			Phase:  ev.Job.Phase,
			Code:   ev.Job.Code,
			Target: ev.Job.Target,
			At:     ev.At,
		}
		rr.Broadcasts = append(rr.Broadcasts, BroadcastCommandSent{
			JobID:   ev.Job.ID,
			Engine:  ev.Job.Engine,
			Phase:   ev.Job.Phase,
			Code:    ev.Job.Code,
			Target:  ev.Job.Target,
			Elapsed: ev.Elapsed,
			At:      ev.At,
		})

	case DeliveryFailed:
		s.Failed++
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		s.LastDelivery = &DeliveryRecord{
			JobID:  ev.Job.ID,
			Engine: ev.Job.Engine,
			Phase:  ev.Job.Phase,
			Code:   ev.Job.Code,
			Target: ev.Job.Target,
			Err:    msg,
			At:     ev.At,
		}
		rr.Broadcasts = append(rr.Broadcasts, BroadcastDeliveryFailed{
			JobID:  ev.Job.ID,
			Engine: ev.Job.Engine,
			Phase:  ev.Job.Phase,
			Code:   ev.Job.Code,
			Target: ev.Job.Target,
			Error:  msg,
			At:     ev.At,
		})

	default:
		// Unknown event type: no-op.
	}

	return rr
}

func reduceAction(s *ControllerState, ev ActionEvent, rr *ReduceResult) {
	switch a := ev.Action.(type) {
	case remote.SelectEngine:
		if !a.Engine.Valid() {
			rr.Rejected = fmt.Errorf("select: %w: %d", engine.ErrUnknownEngine, int(a.Engine))
			return
		}
		selectEngine(s, a.Engine, ev.At, rr)

	case remote.ClearSelection:
		// Nothing selected means the bottom engine.
		selectEngine(s, engine.Default, ev.At, rr)

	case remote.EnginePress:
		e, err := resolveEngine(s, a.Engine)
		if err != nil {
			rr.Rejected = fmt.Errorf("press: %w", err)
			return
		}
		s.Engaged[e] = true
		rr.Commands = append(rr.Commands, CmdSend{Target: s.Target, Engine: e, Phase: engine.Press})

	case remote.EngineRelease:
		// Without an explicit engine, release goes to whatever is selected now,
		// which may differ from the engine that was pressed.
		e, err := resolveEngine(s, a.Engine)
		if err != nil {
			rr.Rejected = fmt.Errorf("release: %w", err)
			return
		}
		s.Engaged[e] = false
		rr.Commands = append(rr.Commands, CmdSend{Target: s.Target, Engine: e, Phase: engine.Release})

	case remote.SetTarget:
		addr, err := engine.ParseAddress(a.Address)
		if err != nil {
			rr.Rejected = fmt.Errorf("set target: %w", err)
			return
		}
		port := s.Target.Port
		if a.Port != 0 {
			if !engine.ValidPort(a.Port) {
				rr.Rejected = fmt.Errorf("set target: invalid port %d", a.Port)
				return
			}
			port = a.Port
		}
		next := engine.Target{Address: addr, Port: port}
		if next == s.Target {
			return
		}
		s.Target = next
		rr.Broadcasts = append(rr.Broadcasts, BroadcastTargetChanged{Target: next, At: ev.At})

	default:
		// no-op
	}
}

func selectEngine(s *ControllerState, e engine.Engine, at time.Time, rr *ReduceResult) {
	if s.Selected == e {
		return
	}
	s.Selected = e
	rr.Broadcasts = append(rr.Broadcasts, BroadcastSelectionChanged{Engine: e, At: at})
}

func resolveEngine(s *ControllerState, explicit *engine.Engine) (engine.Engine, error) {
	if explicit == nil {
		return s.Selected, nil
	}
	if !explicit.Valid() {
		return 0, fmt.Errorf("%w: %d", engine.ErrUnknownEngine, int(*explicit))
	}
	return *explicit, nil
}
