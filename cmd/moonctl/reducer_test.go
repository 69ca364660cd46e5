package main

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"moonlander/internal/engine"
	"moonlander/internal/remote"
	"moonlander/internal/sender"
)

func act(a remote.Action) ActionEvent {
	return ActionEvent{Action: a, At: time.Unix(1000, 0).UTC()}
}

func singleSend(t *testing.T, rr ReduceResult) CmdSend {
	t.Helper()
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	cmd, ok := rr.Commands[0].(CmdSend)
	if !ok {
		t.Fatalf("expected CmdSend, got %T", rr.Commands[0])
	}
	return cmd
}

func TestReduce_NoSelectionFiresBottom(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())

	rr := Reduce(s, act(remote.EnginePress{}))
	cmd := singleSend(t, rr)
	if cmd.Engine != engine.Bottom || cmd.Phase != engine.Press {
		t.Fatalf("expected bottom press, got %s %s", cmd.Engine, cmd.Phase)
	}
	if code, _ := engine.CodeFor(cmd.Engine, cmd.Phase); code != 0x01 {
		t.Fatalf("expected code 0x01, got %s", code)
	}
	if !rr.State.Engaged[engine.Bottom] {
		t.Fatalf("expected bottom engaged after press")
	}

	rr = Reduce(rr.State, act(remote.EngineRelease{}))
	cmd = singleSend(t, rr)
	if code, _ := engine.CodeFor(cmd.Engine, cmd.Phase); code != 0x10 {
		t.Fatalf("expected code 0x10, got %s", code)
	}
	if rr.State.Engaged[engine.Bottom] {
		t.Fatalf("expected bottom released")
	}
}

func TestReduce_SelectLeftThenPressRelease(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())

	rr := Reduce(s, act(remote.SelectEngine{Engine: engine.Left}))
	if rr.State.Selected != engine.Left {
		t.Fatalf("expected left selected, got %s", rr.State.Selected)
	}
	if len(rr.Commands) != 0 {
		t.Fatalf("selection must not send anything, got %d commands", len(rr.Commands))
	}
	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(rr.Broadcasts))
	}
	if bc, ok := rr.Broadcasts[0].(BroadcastSelectionChanged); !ok || bc.Engine != engine.Left {
		t.Fatalf("expected selection_changed(left), got %#v", rr.Broadcasts[0])
	}

	rr = Reduce(rr.State, act(remote.EnginePress{}))
	press := singleSend(t, rr)
	if code, _ := engine.CodeFor(press.Engine, press.Phase); code != 0x02 {
		t.Fatalf("expected 0x02, got %s", code)
	}

	rr = Reduce(rr.State, act(remote.EngineRelease{}))
	release := singleSend(t, rr)
	if code, _ := engine.CodeFor(release.Engine, release.Phase); code != 0x20 {
		t.Fatalf("expected 0x20, got %s", code)
	}
}

func TestReduce_SelectSameEngineDoesNotBroadcast(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())

	rr := Reduce(s, act(remote.SelectEngine{Engine: engine.Bottom}))
	if len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no broadcast when selection is unchanged, got %d", len(rr.Broadcasts))
	}
}

func TestReduce_ReleaseUsesSelectionAtReleaseTime(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())

	rr := Reduce(s, act(remote.SelectEngine{Engine: engine.Right}))
	rr = Reduce(rr.State, act(remote.EnginePress{}))
	if cmd := singleSend(t, rr); cmd.Engine != engine.Right {
		t.Fatalf("expected right press, got %s", cmd.Engine)
	}

	// Selection changes while held.
	rr = Reduce(rr.State, act(remote.SelectEngine{Engine: engine.Top}))
	rr = Reduce(rr.State, act(remote.EngineRelease{}))

	cmd := singleSend(t, rr)
	if cmd.Engine != engine.Top || cmd.Phase != engine.Release {
		t.Fatalf("expected top release, got %s %s", cmd.Engine, cmd.Phase)
	}
	if !rr.State.Engaged[engine.Right] {
		t.Fatalf("right was never released and should still be engaged")
	}
}

func TestReduce_ExplicitEngineOverridesSelection(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())
	s.Selected = engine.Left

	rr := Reduce(s, act(remote.EnginePress{Engine: remote.EngineRef(engine.Top)}))
	cmd := singleSend(t, rr)
	if cmd.Engine != engine.Top {
		t.Fatalf("expected top, got %s", cmd.Engine)
	}
	if rr.State.Selected != engine.Left {
		t.Fatalf("explicit engine must not change the selection")
	}
}

func TestReduce_ClearSelectionFallsBackToBottom(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())
	s.Selected = engine.Top

	rr := Reduce(s, act(remote.ClearSelection{}))
	if rr.State.Selected != engine.Bottom {
		t.Fatalf("expected bottom after clear, got %s", rr.State.Selected)
	}
	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected selection_changed broadcast, got %d", len(rr.Broadcasts))
	}
}

func TestReduce_InvalidEngineRejected(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())

	rr := Reduce(s, act(remote.EnginePress{Engine: remote.EngineRef(engine.Engine(7))}))
	if rr.Rejected == nil || !errors.Is(rr.Rejected, engine.ErrUnknownEngine) {
		t.Fatalf("expected ErrUnknownEngine, got %v", rr.Rejected)
	}
	if len(rr.Commands) != 0 {
		t.Fatalf("rejected press must not send")
	}

	rr = Reduce(s, act(remote.SelectEngine{Engine: engine.Engine(-1)}))
	if rr.Rejected == nil {
		t.Fatalf("expected rejected selection")
	}
	if rr.State.Selected != engine.Bottom {
		t.Fatalf("selection changed by rejected event")
	}
}

func TestReduce_SetTarget(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())

	rr := Reduce(s, act(remote.SetTarget{Address: "10.0.0.9"}))
	if rr.Rejected != nil {
		t.Fatalf("unexpected rejection: %v", rr.Rejected)
	}
	want := engine.Target{Address: engine.Address{10, 0, 0, 9}, Port: engine.DefaultPort}
	if rr.State.Target != want {
		t.Fatalf("expected %s, got %s", want, rr.State.Target)
	}
	if len(rr.Broadcasts) != 1 {
		t.Fatalf("expected target_changed broadcast, got %d", len(rr.Broadcasts))
	}

	// Subsequent sends go to the new target.
	rr = Reduce(rr.State, act(remote.EnginePress{}))
	if cmd := singleSend(t, rr); cmd.Target != want {
		t.Fatalf("expected send to %s, got %s", want, cmd.Target)
	}

	rr = Reduce(rr.State, act(remote.SetTarget{Address: "10.0.0.9", Port: 9999}))
	if rr.State.Target.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", rr.State.Target.Port)
	}
}

func TestReduce_SetTargetInvalidIgnored(t *testing.T) {
	for _, tc := range []remote.SetTarget{
		{Address: "192.168.0.256"},
		{Address: "192.168.0"},
		{Address: "abc.def.ghi.jkl"},
		{Address: "192.168.0.1", Port: 70000},
		{Address: "192.168.0.1", Port: -1},
	} {
		s := NewControllerState(engine.DefaultTarget())
		rr := Reduce(s, act(tc))
		if rr.Rejected == nil {
			t.Fatalf("%+v: expected rejection", tc)
		}
		if rr.State.Target != engine.DefaultTarget() {
			t.Fatalf("%+v: target changed to %s", tc, rr.State.Target)
		}
		if len(rr.Broadcasts) != 0 {
			t.Fatalf("%+v: unexpected broadcast", tc)
		}
	}
}

func TestReduce_DeliveryCounters(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())
	job, err := sender.NewJob(s.Target, engine.Left, engine.Press)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Unix(2000, 0).UTC()

	rr := Reduce(s, DeliveryObserved{Job: job, Elapsed: 3 * time.Millisecond, At: at})
	if rr.State.Sent != 1 || rr.State.Failed != 0 {
		t.Fatalf("expected sent=1 failed=0, got sent=%d failed=%d", rr.State.Sent, rr.State.Failed)
	}
	bc, ok := rr.Broadcasts[0].(BroadcastCommandSent)
	if !ok || bc.JobID != job.ID || bc.Code != engine.CodeLeftOn || !bc.At.Equal(at) {
		t.Fatalf("unexpected broadcast %#v", rr.Broadcasts[0])
	}

	rr = Reduce(rr.State, DeliveryFailed{Job: job, Err: sender.ErrSaturated, At: at})
	if rr.State.Sent != 1 || rr.State.Failed != 1 {
		t.Fatalf("expected sent=1 failed=1, got sent=%d failed=%d", rr.State.Sent, rr.State.Failed)
	}
	if rr.State.LastDelivery == nil || rr.State.LastDelivery.Err != sender.ErrSaturated.Error() {
		t.Fatalf("expected last delivery to record the failure, got %#v", rr.State.LastDelivery)
	}
	if _, ok := rr.Broadcasts[0].(BroadcastDeliveryFailed); !ok {
		t.Fatalf("expected BroadcastDeliveryFailed, got %T", rr.Broadcasts[0])
	}
}

func TestReduce_RequestStateSnapshot(t *testing.T) {
	s := NewControllerState(engine.DefaultTarget())
	s.Selected = engine.Right
	s.Engaged[engine.Top] = true
	s.Sent = 4
	s.LastDelivery = &DeliveryRecord{JobID: uuid.New(), Engine: engine.Top}

	reply := make(chan StateSnapshot, 1)
	rr := Reduce(s, RequestStateSnapshot{Reply: reply})
	if len(rr.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(rr.Commands))
	}
	cmd, ok := rr.Commands[0].(CmdPublishStateSnapshot)
	if !ok {
		t.Fatalf("expected CmdPublishStateSnapshot, got %T", rr.Commands[0])
	}

	snap := cmd.Snapshot
	if snap.Selected != engine.Right || snap.Sent != 4 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}
	if len(snap.Engaged) != 1 || snap.Engaged[0] != engine.Top {
		t.Fatalf("expected engaged [top], got %v", snap.Engaged)
	}

	// The snapshot is a copy.
	s.LastDelivery.Engine = engine.Left
	if snap.LastDelivery.Engine != engine.Top {
		t.Fatalf("snapshot shares LastDelivery with state")
	}
}

func TestReduce_NilStateStartsIdle(t *testing.T) {
	rr := Reduce(nil, act(remote.EnginePress{}))
	cmd := singleSend(t, rr)
	if cmd.Engine != engine.Bottom || cmd.Target != engine.DefaultTarget() {
		t.Fatalf("expected bottom press to default target, got %s", cmd)
	}
}
