// Package engine holds the controller's vocabulary: the four thrusters of the
// lander, the two phases of the engage control, and the single-byte command
// codes that travel on the wire.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Engine identifies one of the four thrusters.
// The numeric order matches the order of the selection control in every UI.
type Engine int

const (
	Bottom Engine = iota
	Left
	Right
	Top
)

// Default is the engine used when nothing has been selected.
const Default = Bottom

var engineNames = [...]string{"bottom", "left", "right", "top"}

var (
	ErrUnknownEngine = errors.New("unknown engine")
	ErrUnknownPhase  = errors.New("unknown phase")
	ErrUnknownCode   = errors.New("unknown command code")
)

// All returns the engines in selection order.
func All() []Engine {
	return []Engine{Bottom, Left, Right, Top}
}

// Valid reports whether e is one of the four thrusters.
func (e Engine) Valid() bool {
	return e >= Bottom && e <= Top
}

func (e Engine) String() string {
	if !e.Valid() {
		return fmt.Sprintf("engine(%d)", int(e))
	}
	return engineNames[e]
}

// ParseEngine accepts the lowercase name of an engine, case-insensitively.
func ParseEngine(s string) (Engine, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range engineNames {
		if n == name {
			return Engine(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (must be bottom, left, right or top)", ErrUnknownEngine, s)
}

// MarshalText encodes the engine by name so JSON and YAML carry "left" rather than 1.
func (e Engine) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEngine, int(e))
	}
	return []byte(engineNames[e]), nil
}

func (e *Engine) UnmarshalText(b []byte) error {
	v, err := ParseEngine(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Phase is the state transition of the engage control.
// Anything other than a press or a release is not a phase and never produces a command.
type Phase int

const (
	Press Phase = iota
	Release
)

func (p Phase) String() string {
	switch p {
	case Press:
		return "press"
	case Release:
		return "release"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ParsePhase accepts press|release and the on|off, down|up aliases.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "press", "on", "down":
		return Press, nil
	case "release", "off", "up":
		return Release, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be press or release)", ErrUnknownPhase, s)
	}
}

// ============================================================================
// Command codes
// ============================================================================
// One bit per (engine, phase). The low nibble turns an engine on, the high
// nibble turns it off. Exactly one bit is set in every code.
// ============================================================================

// Code is a single command byte.
type Code byte

const (
	CodeBottomOn  Code = 0b0000_0001
	CodeLeftOn    Code = 0b0000_0010
	CodeRightOn   Code = 0b0000_0100
	CodeTopOn     Code = 0b0000_1000
	CodeBottomOff Code = 0b0001_0000
	CodeLeftOff   Code = 0b0010_0000
	CodeRightOff  Code = 0b0100_0000
	CodeTopOff    Code = 0b1000_0000
)

var (
	onCodes  = [...]Code{CodeBottomOn, CodeLeftOn, CodeRightOn, CodeTopOn}
	offCodes = [...]Code{CodeBottomOff, CodeLeftOff, CodeRightOff, CodeTopOff}
)

// CodeFor returns the command byte for pressing or releasing engine e.
func CodeFor(e Engine, p Phase) (Code, error) {
	if !e.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownEngine, int(e))
	}
	switch p {
	case Press:
		return onCodes[e], nil
	case Release:
		return offCodes[e], nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownPhase, int(p))
	}
}

// Decode is the inverse of CodeFor.
func Decode(c Code) (Engine, Phase, error) {
	for i := range onCodes {
		if onCodes[i] == c {
			return Engine(i), Press, nil
		}
		if offCodes[i] == c {
			return Engine(i), Release, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: 0x%02x", ErrUnknownCode, byte(c))
}

// Valid reports whether c is one of the eight command codes.
func (c Code) Valid() bool {
	_, _, err := Decode(c)
	return err == nil
}

func (c Code) String() string {
	return fmt.Sprintf("0x%02x", byte(c))
}
