package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"moonlander/internal/config"
	"moonlander/internal/logging"
	"moonlander/internal/sender"
)

const version = "1.0.0"

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "moonctl v%s\n", version)
	fmt.Fprintln(w, "Remote engine controller for the moonlander game")
}

func printUsage(w io.Writer) {
	printVersion(w)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  moonctl [OPTIONS]")
	fmt.Fprintln(w, "  moonctl send [OPTIONS] <engine> [press|release|tap]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DESCRIPTION:")
	fmt.Fprintln(w, "  Daemon that turns key presses (Linux input devices) and IPC actions into")
	fmt.Fprintln(w, "  one-byte engine commands sent over TCP to the lander. Every press sends")
	fmt.Fprintln(w, "  the engine's \"on\" byte and every release its \"off\" byte, each on its own")
	fmt.Fprintln(w, "  short-lived connection. Nothing is acknowledged or retried.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprintln(w, "  -config string")
	fmt.Fprintln(w, "        YAML config file (optional)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -env-file string")
	fmt.Fprintln(w, "        File with MOONCTL_* variables (default \".env\" if present)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -addr string")
	fmt.Fprintf(w, "        Lander IPv4 address (default %q)\n", config.DefaultConfig().Target.Address)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -port int")
	fmt.Fprintf(w, "        Lander TCP port (default %d)\n", config.DefaultConfig().Target.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -input string")
	fmt.Fprintln(w, "        Linux input event device; repeat for several (default: none, IPC only)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -ipc-socket string")
	fmt.Fprintf(w, "        Unix domain socket path for IPC (default %q)\n", config.DefaultConfig().IPC.SocketPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -http-listen string")
	fmt.Fprintf(w, "        Listen address for the %s websocket; empty disables (default %q)\n", stateWSPath, config.DefaultConfig().HTTP.Listen)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -max-in-flight int")
	fmt.Fprintf(w, "        Concurrent command sends before new ones are dropped (default %d)\n", sender.DefaultMaxInFlight)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -log-level string")
	fmt.Fprintln(w, "        Log level: error, warn, info, debug (default \"info\")")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -version")
	fmt.Fprintln(w, "        Print version and exit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  -help")
	fmt.Fprintln(w, "        Print this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "KEYS:")
	fmt.Fprintln(w, "  Down/Left/Right/Up   fire bottom/left/right/top engine while held")
	fmt.Fprintln(w, "  1-4                  select bottom/left/right/top")
	fmt.Fprintln(w, "  Space                fire the selected engine while held")
	fmt.Fprintln(w, "  Backspace            clear selection (bottom)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ENVIRONMENT VARIABLES:")
	fmt.Fprintln(w, "  MOONCTL_TARGET_ADDRESS, MOONCTL_TARGET_PORT, MOONCTL_INPUT_DEVICES,")
	fmt.Fprintln(w, "  MOONCTL_IPC_SOCKET_PATH, MOONCTL_HTTP_LISTEN, MOONCTL_LOGGING_LEVEL, ...")
	fmt.Fprintln(w, "  Flags win over environment, environment wins over the config file.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAMPLES:")
	fmt.Fprintln(w, "  # Drive the lander at 10.0.0.5 from a keyboard")
	fmt.Fprintln(w, "  moonctl -addr 10.0.0.5 -input /dev/input/event3")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  # Fire the left engine for half a second")
	fmt.Fprintln(w, "  moonctl send -hold 500ms left tap")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "NOTES:")
	fmt.Fprintln(w, "  - Requires read access to input devices (run as root or add user to 'input' group)")
	fmt.Fprintln(w, "  - Use engine-ctl to send actions to a running daemon")
	fmt.Fprintln(w)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && args[0] == "send" {
		return runSendCommand(args[1:], os.Stdout, os.Stderr)
	}
	return runDaemonCommand(args)
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// commonFlags are the flags shared by the daemon and the send subcommand.
type commonFlags struct {
	configPath string
	envFile    string
	addr       string
	port       int
	logLevel   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.StringVar(&c.envFile, "env-file", "", "File with MOONCTL_* variables (default .env if present)")
	fs.StringVar(&c.addr, "addr", "", "Lander IPv4 address")
	fs.IntVar(&c.port, "port", 0, "Lander TCP port")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: error, warn, info, debug")
}

// overrides returns the flags the user actually set.
func (c *commonFlags) overrides(set map[string]bool) config.Overrides {
	var o config.Overrides
	if set["addr"] {
		o.TargetAddress = &c.addr
	}
	if set["port"] {
		o.TargetPort = &c.port
	}
	if set["log-level"] {
		o.LogLevel = &c.logLevel
	}
	return o
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.New(lvl), nil
}

func runDaemonCommand(args []string) int {
	fs := flag.NewFlagSet("moonctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		common      commonFlags
		inputs      stringList
		ipcSocket   = fs.String("ipc-socket", "", "Unix domain socket path for IPC")
		httpListen  = fs.String("http-listen", "", "Listen address for the state websocket; empty disables")
		maxInFlight = fs.Int("max-in-flight", 0, "Concurrent command sends before new ones are dropped")
		showVersion = fs.Bool("version", false, "Print version and exit")
		showHelp    = fs.Bool("help", false, "Print help message")
	)
	common.register(fs)
	fs.Var(&inputs, "input", "Linux input event device (repeatable)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout)
			return 0
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		printUsage(os.Stderr)
		return 2
	}
	if *showHelp {
		printUsage(os.Stdout)
		return 0
	}
	if *showVersion {
		printVersion(os.Stdout)
		return 0
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	set := visited(fs)
	overrides := common.overrides(set)
	if set["input"] {
		devices := []string(inputs)
		overrides.InputDevices = &devices
	}
	if set["ipc-socket"] {
		overrides.IPCSocketPath = ipcSocket
	}
	if set["http-listen"] {
		overrides.HTTPListen = httpListen
	}
	if set["max-in-flight"] {
		overrides.SenderMaxInFlight = maxInFlight
	}

	cfg, err := config.Load(common.configPath, common.envFile, overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("starting moonctl", "version", version)
	logger.Debug("configuration",
		"target", cfg.Target.Address,
		"port", cfg.Target.Port,
		"input_devices", cfg.Input.Devices,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_listen", cfg.HTTP.Listen,
		"dial_timeout", cfg.DialTimeout(),
		"write_timeout", cfg.WriteTimeout(),
		"max_in_flight", cfg.Sender.MaxInFlight)

	if err := runController(ctx, cfg, logger); err != nil {
		logger.Error("moonctl stopped", logging.ErrAttr(err))
		return 1
	}
	logger.Info("shut down")
	return 0
}

// runController wires the daemon loop, dispatcher, IPC, input devices and the
// state websocket, and runs them until ctx is canceled or one of them fails.
func runController(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	target, err := cfg.TargetValue()
	if err != nil {
		return err
	}

	events := make(chan Event, eventQueueSize)

	// Sends outlive ctx briefly so shutdown can drain them.
	sendCtx, cancelSends := context.WithCancel(context.Background())
	defer cancelSends()

	snd := sender.New(
		sender.WithDialTimeout(cfg.DialTimeout()),
		sender.WithWriteTimeout(cfg.WriteTimeout()),
	)
	dispatcher := sender.NewDispatcher(sendCtx, snd, logger, sender.DispatcherConfig{
		MaxInFlight: cfg.Sender.MaxInFlight,
		OnResult: func(r sender.Result) {
			if !postEvent(events, resultEvent(r)) {
				logger.Warn("event queue full, dropping delivery result", "id", r.Job.ID)
			}
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	var broadcasts chan StateBroadcast
	if cfg.HTTP.Listen != "" {
		broadcasts = make(chan StateBroadcast, broadcastQueueSize)

		ws := NewStateServer(logger, events, HubConfig{})
		mux := http.NewServeMux()
		ws.Register(mux, stateWSPath)

		g.Go(func() error {
			ws.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, ws.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Listen, mux, logger)
		})
	}

	g.Go(func() error {
		runDaemon(gctx, events, dispatcher, NewControllerState(target), broadcasts, logger)
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})
	if len(cfg.Input.Devices) > 0 {
		g.Go(func() error {
			return runInputs(gctx, cfg.Input.Devices, events, logger)
		})
	}

	logger.Info("listening",
		"target", target.String(),
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.Listen,
		"input_devices", len(cfg.Input.Devices))

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	if werr := dispatcher.Wait(drainCtx); werr != nil {
		logger.Warn("abandoning in-flight commands", logging.ErrAttr(werr))
	}

	return err
}
