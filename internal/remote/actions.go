// Package remote defines the actions a controller front-end can send to the
// moonctl daemon and their line-delimited JSON encoding.
package remote

import (
	"encoding/json"
	"fmt"

	"moonlander/internal/engine"
)

// ============================================================================
// Action Types
// ============================================================================
// Actions represent user intent from any front-end (input devices, IPC,
// engine-ctl). The daemon loop consumes them and decides which command byte,
// if any, goes out.
// ============================================================================

// Action is a marker interface for all controller actions.
type Action interface {
	actionMarker()
}

// SelectEngine changes the engine driven by the engage control.
type SelectEngine struct {
	Engine engine.Engine `json:"engine"`
}

// ClearSelection is "nothing selected"; the controller falls back to the bottom engine.
type ClearSelection struct{}

// EnginePress is the engage control going down.
// With Engine unset the currently selected engine is used.
type EnginePress struct {
	Engine *engine.Engine `json:"engine,omitempty"`
}

// EngineRelease is the engage control going up.
// With Engine unset the engine selected at release time is used.
type EngineRelease struct {
	Engine *engine.Engine `json:"engine,omitempty"`
}

// SetTarget points the controller at a new lander address.
// Address is dotted-quad text exactly as typed; Port 0 keeps the current port.
type SetTarget struct {
	Address string `json:"address"`
	Port    int    `json:"port,omitempty"`
}

func (SelectEngine) actionMarker()   {}
func (ClearSelection) actionMarker() {}
func (EnginePress) actionMarker()    {}
func (EngineRelease) actionMarker()  {}
func (SetTarget) actionMarker()      {}

// EngineRef is a convenience for filling the optional Engine fields.
func EngineRef(e engine.Engine) *engine.Engine {
	return &e
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

const (
	TypeSelectEngine   = "select_engine"
	TypeClearSelection = "clear_selection"
	TypeEnginePress    = "engine_press"
	TypeEngineRelease  = "engine_release"
	TypeSetTarget      = "set_target"
)

// Envelope wraps an action with a type discriminator for JSON marshaling
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action
func UnmarshalAction(data []byte) (Action, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case TypeSelectEngine:
		var a SelectEngine
		if err := decodeData(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SelectEngine: %w", err)
		}
		return a, nil

	case TypeClearSelection:
		return ClearSelection{}, nil

	case TypeEnginePress:
		var a EnginePress
		if err := decodeOptionalData(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal EnginePress: %w", err)
		}
		return a, nil

	case TypeEngineRelease:
		var a EngineRelease
		if err := decodeOptionalData(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal EngineRelease: %w", err)
		}
		return a, nil

	case TypeSetTarget:
		var a SetTarget
		if err := decodeData(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetTarget: %w", err)
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown action type: %s", env.Type)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(data, v)
}

func decodeOptionalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// MarshalAction serializes an Action into a JSON action envelope
func MarshalAction(action Action) ([]byte, error) {
	var env Envelope

	switch a := action.(type) {
	case SelectEngine:
		env.Type = TypeSelectEngine
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal SelectEngine: %w", err)
		}
		env.Data = data

	case ClearSelection:
		env.Type = TypeClearSelection

	case EnginePress:
		env.Type = TypeEnginePress
		if a.Engine != nil {
			data, err := json.Marshal(a)
			if err != nil {
				return nil, fmt.Errorf("marshal EnginePress: %w", err)
			}
			env.Data = data
		}

	case EngineRelease:
		env.Type = TypeEngineRelease
		if a.Engine != nil {
			data, err := json.Marshal(a)
			if err != nil {
				return nil, fmt.Errorf("marshal EngineRelease: %w", err)
			}
			env.Data = data
		}

	case SetTarget:
		env.Type = TypeSetTarget
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal SetTarget: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unknown action type: %T", action)
	}

	return json.Marshal(env)
}
