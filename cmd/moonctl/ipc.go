package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"moonlander/internal/logging"
	"moonlander/internal/remote"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// engine-ctl and scripts send controller actions to the daemon here.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "engine_press", "data": {"engine": "left"}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//
// "ok" means the action was queued for the daemon loop.
// ============================================================================

// runIPCServer serves the Unix domain socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	// Remove a stale socket left by a previous run.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)
	defer listener.Close()

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", logging.ErrAttr(err))
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	// Drop the connection on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp remote.IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "status", resp.Status, logging.ErrAttr(err))
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		action, err := remote.UnmarshalAction(line)
		if err != nil {
			respond(remote.IPCResponse{
				Status: remote.StatusError,
				Error:  fmt.Sprintf("parse action: %v", err),
			})
			continue
		}

		if !postEvent(events, ActionEvent{Action: action, At: time.Now()}) {
			respond(remote.IPCResponse{
				Status: remote.StatusError,
				Error:  "event queue full",
			})
			continue
		}
		respond(remote.IPCResponse{Status: remote.StatusOK})
	}

	logger.Debug("IPC connection closed")
}
