package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moonlander/internal/engine"
)

// fakeDaemon answers every line with resp and forwards decoded actions.
func fakeDaemon(t *testing.T, resp IPCResponse) (string, <-chan Action) {
	t.Helper()

	dir, err := os.MkdirTemp("", "moonctl-ipc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	socketPath := filepath.Join(dir, "ipc.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan Action, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				sc := bufio.NewScanner(c)
				enc := json.NewEncoder(c)
				for sc.Scan() {
					if a, err := UnmarshalAction(sc.Bytes()); err == nil {
						got <- a
					}
					_ = enc.Encode(resp)
				}
			}(conn)
		}
	}()

	return socketPath, got
}

func TestSendAction_OK(t *testing.T) {
	socketPath, got := fakeDaemon(t, IPCResponse{Status: StatusOK})

	err := SendAction(context.Background(), socketPath, EnginePress{Engine: EngineRef(engine.Left)})
	require.NoError(t, err)

	select {
	case a := <-got:
		assert.Equal(t, EnginePress{Engine: EngineRef(engine.Left)}, a)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon never received the action")
	}
}

func TestSendAction_DaemonError(t *testing.T) {
	socketPath, _ := fakeDaemon(t, IPCResponse{Status: StatusError, Error: "event queue full"})

	err := SendAction(context.Background(), socketPath, ClearSelection{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event queue full")
}

func TestSendAction_NoDaemon(t *testing.T) {
	err := SendAction(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), ClearSelection{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to")
}
