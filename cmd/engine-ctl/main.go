package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"moonlander/internal/engine"
	"moonlander/internal/remote"
)

// ============================================================================
// engine-ctl - Command-line IPC Client
// ============================================================================
// Sends controller actions to a running moonctl daemon via IPC.
//
// Usage:
//   engine-ctl select left
//   engine-ctl press
//   engine-ctl release
//   engine-ctl tap top
//   engine-ctl target 192.168.0.42 8888
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/moonctl.sock)
//   -hold DURATION  How long "tap" holds the engine (default: 250ms)
// ============================================================================

const defaultHold = 250 * time.Millisecond

// step is one action to send, followed by an optional pause.
// A step marked always is sent even after the command was interrupted.
type step struct {
	action remote.Action
	pause  time.Duration
	always bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	socketPath := remote.DefaultSocketPath
	hold := defaultHold

	// Options come before the command.
	for len(args) > 0 {
		switch args[0] {
		case "-socket", "--socket":
			if len(args) < 2 {
				fmt.Fprintln(stderr, "error: -socket requires an argument")
				return 1
			}
			socketPath = args[1]
			args = args[2:]
			continue

		case "-hold", "--hold":
			if len(args) < 2 {
				fmt.Fprintln(stderr, "error: -hold requires an argument")
				return 1
			}
			d, err := time.ParseDuration(args[1])
			if err != nil || d < 0 {
				fmt.Fprintf(stderr, "error: invalid -hold %q\n", args[1])
				return 1
			}
			hold = d
			args = args[2:]
			continue
		}
		break
	}

	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stdout)
		return 0
	}

	steps, err := parseCommand(args, hold)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		printUsage(stderr)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, socketPath, steps); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "ok")
	return 0
}

// parseCommand turns a command line into the actions it sends.
func parseCommand(args []string, hold time.Duration) ([]step, error) {
	optionalEngine := func() (*engine.Engine, error) {
		if len(args) < 2 {
			return nil, nil
		}
		e, err := engine.ParseEngine(args[1])
		if err != nil {
			return nil, err
		}
		return &e, nil
	}

	switch args[0] {
	case "select", "sel":
		if len(args) < 2 {
			return nil, fmt.Errorf("select requires an engine")
		}
		e, err := engine.ParseEngine(args[1])
		if err != nil {
			return nil, err
		}
		return []step{{action: remote.SelectEngine{Engine: e}}}, nil

	case "clear":
		return []step{{action: remote.ClearSelection{}}}, nil

	case "press", "on":
		e, err := optionalEngine()
		if err != nil {
			return nil, err
		}
		return []step{{action: remote.EnginePress{Engine: e}}}, nil

	case "release", "off":
		e, err := optionalEngine()
		if err != nil {
			return nil, err
		}
		return []step{{action: remote.EngineRelease{Engine: e}}}, nil

	case "tap":
		e, err := optionalEngine()
		if err != nil {
			return nil, err
		}
		return []step{
			{action: remote.EnginePress{Engine: e}, pause: hold},
			{action: remote.EngineRelease{Engine: e}, always: true},
		}, nil

	case "target":
		if len(args) < 2 {
			return nil, fmt.Errorf("target requires an address")
		}
		if _, err := engine.ParseAddress(args[1]); err != nil {
			return nil, err
		}
		st := remote.SetTarget{Address: args[1]}
		if len(args) > 2 {
			port, err := strconv.Atoi(args[2])
			if err != nil || !engine.ValidPort(port) {
				return nil, fmt.Errorf("invalid port %q", args[2])
			}
			st.Port = port
		}
		return []step{{action: st}}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

// execute sends steps in order. Once ctx is done pauses end early and only
// steps marked always are still sent.
func execute(ctx context.Context, socketPath string, steps []step) error {
	for _, s := range steps {
		sendCtx := ctx
		if s.always {
			sendCtx = context.WithoutCancel(ctx)
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := remote.SendAction(sendCtx, socketPath, s.action); err != nil {
			return err
		}

		if s.pause > 0 {
			timer := time.NewTimer(s.pause)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `engine-ctl - Control a moonctl daemon via IPC

Usage:
  engine-ctl [options] <command> [args]

Options:
  -socket PATH      Unix domain socket path (default: %s)
  -hold DURATION    How long tap holds the engine (default: %s)

Commands:
  select, sel <engine>         Select bottom, left, right or top
  clear                        Clear the selection (bottom)
  press, on [engine]           Fire an engine (default: the selected one)
  release, off [engine]        Stop an engine (default: the selected one)
  tap [engine]                 Press, wait -hold, release
  target <address> [port]      Send commands to another lander
  help, -h, --help             Show this help message

Examples:
  engine-ctl select left
  engine-ctl -hold 1s tap top
  engine-ctl -socket /run/moonctl.sock target 192.168.0.42
`, remote.DefaultSocketPath, defaultHold)
}
