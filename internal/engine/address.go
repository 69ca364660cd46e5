package engine

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the port the lander listens on.
	DefaultPort = 8888

	// DefaultAddress is the lander address used when none is entered.
	DefaultAddress = "192.168.0.109"
)

var ErrInvalidAddress = errors.New("invalid address")

// Address is an IPv4 address as four octets.
type Address [4]byte

// ParseAddress parses a dotted quad such as "192.168.0.109".
//
// Surrounding whitespace is ignored. Each of the four segments must be a
// plain decimal number in [0,255] without sign or leading zeros; anything
// else is rejected instead of being truncated into a byte.
func ParseAddress(s string) (Address, error) {
	var a Address

	text := strings.TrimSpace(s)
	parts := strings.Split(text, ".")
	if len(parts) != 4 {
		return a, fmt.Errorf("%w: %q: want 4 segments, got %d", ErrInvalidAddress, s, len(parts))
	}

	for i, p := range parts {
		if p == "" {
			return a, fmt.Errorf("%w: %q: segment %d is empty", ErrInvalidAddress, s, i+1)
		}
		if len(p) > 3 {
			return a, fmt.Errorf("%w: %q: segment %d is too long", ErrInvalidAddress, s, i+1)
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return a, fmt.Errorf("%w: %q: segment %d is not a number", ErrInvalidAddress, s, i+1)
			}
		}
		if len(p) > 1 && p[0] == '0' {
			return a, fmt.Errorf("%w: %q: segment %d has a leading zero", ErrInvalidAddress, s, i+1)
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return a, fmt.Errorf("%w: %q: segment %d: %v", ErrInvalidAddress, s, i+1, err)
		}
		if v > 255 {
			return a, fmt.Errorf("%w: %q: segment %d out of range (%d > 255)", ErrInvalidAddress, s, i+1, v)
		}
		a[i] = byte(v)
	}

	return a, nil
}

// MustParseAddress is ParseAddress for constants; it panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return a.Addr().String()
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Addr converts to netip.Addr.
func (a Address) Addr() netip.Addr {
	return netip.AddrFrom4(a)
}

// Target is where command bytes are delivered.
type Target struct {
	Address Address `json:"address"`
	Port    int     `json:"port"`
}

// DefaultTarget returns 192.168.0.109:8888.
func DefaultTarget() Target {
	return Target{Address: MustParseAddress(DefaultAddress), Port: DefaultPort}
}

// ValidPort reports whether p is a usable TCP port.
func ValidPort(p int) bool {
	return p > 0 && p <= 65535
}

// HostPort returns the dial string for the target.
func (t Target) HostPort() string {
	return net.JoinHostPort(t.Address.String(), strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.HostPort()
}
