package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultSocketPath is where the daemon listens unless configured otherwise.
const DefaultSocketPath = "/tmp/moonctl.sock"

// Protocol: line-delimited JSON over a Unix domain socket.
//   - Client sends: {"type": "engine_press", "data": {"engine": "left"}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}

// IPCResponse is the daemon's reply to one action line.
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // error message if status == "error"
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// SendAction delivers one action to the daemon and waits for its reply.
// An "ok" reply means the daemon queued the action, not that any command byte reached the lander.
func SendAction(ctx context.Context, socketPath string, action Action) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	data, err := MarshalAction(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return fmt.Errorf("send action: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != StatusOK {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}

	return nil
}
