// Package sender delivers command bytes to the lander.
//
// Every command travels on its own TCP connection: dial, write one byte,
// close. Nothing is read back and nothing is retried.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"moonlander/internal/engine"
)

const (
	DefaultDialTimeout  = 2 * time.Second
	DefaultWriteTimeout = 1 * time.Second
)

// ErrDeliveryFailed is matched by every error Send returns for a valid code.
var ErrDeliveryFailed = errors.New("command delivery failed")

// DeliveryError describes a failed delivery attempt.
type DeliveryError struct {
	Op     string // "dial" or "write"
	Target engine.Target
	Code   engine.Code
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s %s to %s: %v", ErrDeliveryFailed, e.Op, e.Code, e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// Option configures a Sender.
type Option func(*Sender)

// WithDialTimeout bounds connection establishment. Non-positive values are ignored.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds the single write. Non-positive values are ignored.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Sender writes single command bytes over short-lived TCP connections.
// It holds no per-connection state and is safe for concurrent use.
type Sender struct {
	dialTimeout  time.Duration
	writeTimeout time.Duration
}

func New(opts ...Option) *Sender {
	s := &Sender{
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send connects to target, writes code and closes the connection.
func (s *Sender) Send(ctx context.Context, target engine.Target, code engine.Code) error {
	if !code.Valid() {
		return fmt.Errorf("send %s: %w", code, engine.ErrUnknownCode)
	}
	if !engine.ValidPort(target.Port) {
		return &DeliveryError{Op: "dial", Target: target, Code: code, Err: fmt.Errorf("invalid port %d", target.Port)}
	}

	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", target.HostPort())
	if err != nil {
		return &DeliveryError{Op: "dial", Target: target, Code: code, Err: err}
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return &DeliveryError{Op: "write", Target: target, Code: code, Err: err}
	}
	if _, err := conn.Write([]byte{byte(code)}); err != nil {
		return &DeliveryError{Op: "write", Target: target, Code: code, Err: err}
	}

	return nil
}
