package main

import (
	"time"

	"github.com/google/uuid"

	"moonlander/internal/engine"
)

// ControllerState is the daemon-owned controller state.
//
// Only the daemon goroutine touches it. Other goroutines get copies through
// RequestStateSnapshot.
type ControllerState struct {
	// Selected is the engine driven by the engage key / engine_press without an engine.
	// Bottom when nothing has been selected.
	Selected engine.Engine

	// Target is where command bytes go.
	Target engine.Target

	// Engaged tracks which engines were last sent an "on" code.
	// This is what we sent, not what the lander did; there is no acknowledgement.
	Engaged [4]bool

	// Delivery counters, fed by dispatcher results.
	Sent   uint64
	Failed uint64

	LastDelivery *DeliveryRecord
}

// DeliveryRecord describes the most recent delivery attempt.
type DeliveryRecord struct {
	JobID  uuid.UUID
	Engine engine.Engine
	Phase  engine.Phase
	Code   engine.Code
	Target engine.Target
	Err    string
	At     time.Time
}

// NewControllerState returns the idle state: bottom engine selected, nothing engaged.
func NewControllerState(target engine.Target) *ControllerState {
	return &ControllerState{
		Selected: engine.Default,
		Target:   target,
	}
}

// StateSnapshot is an immutable copy of ControllerState for other goroutines.
type StateSnapshot struct {
	Selected     engine.Engine
	Target       engine.Target
	Engaged      []engine.Engine
	Sent         uint64
	Failed       uint64
	LastDelivery *DeliveryRecord
}

// Snapshot copies the state. Safe to call only from the daemon goroutine.
func (s *ControllerState) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Selected: s.Selected,
		Target:   s.Target,
		Engaged:  []engine.Engine{},
		Sent:     s.Sent,
		Failed:   s.Failed,
	}
	for _, e := range engine.All() {
		if s.Engaged[e] {
			snap.Engaged = append(snap.Engaged, e)
		}
	}
	if s.LastDelivery != nil {
		rec := *s.LastDelivery
		snap.LastDelivery = &rec
	}
	return snap
}
