package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moonlander/internal/config"
	"moonlander/internal/engine"
	"moonlander/internal/sender"
)

func printSendUsage(w io.Writer) {
	fmt.Fprintf(w, "moonctl send v%s\n", version)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  moonctl send [OPTIONS] <engine> [press|release|tap]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DESCRIPTION:")
	fmt.Fprintln(w, "  Sends engine commands straight to the lander without a running daemon.")
	fmt.Fprintln(w, "  engine is bottom, left, right or top. tap (the default) sends the \"on\"")
	fmt.Fprintln(w, "  byte, waits -hold, then sends the \"off\" byte. Exits non-zero if a")
	fmt.Fprintln(w, "  command could not be delivered.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprintln(w, "  -addr string      Lander IPv4 address")
	fmt.Fprintln(w, "  -port int         Lander TCP port")
	fmt.Fprintf(w, "  -hold duration    Tap duration (default %s)\n", defaultTapHold)
	fmt.Fprintln(w, "  -config string    YAML config file")
	fmt.Fprintln(w, "  -env-file string  File with MOONCTL_* variables")
	fmt.Fprintln(w, "  -log-level string Log level: error, warn, info, debug")
	fmt.Fprintln(w)
}

// sendMode is what "moonctl send" does with the engine.
type sendMode string

const (
	sendPress   sendMode = "press"
	sendRelease sendMode = "release"
	sendTap     sendMode = "tap"
)

func parseSendMode(s string) (sendMode, error) {
	if s == string(sendTap) {
		return sendTap, nil
	}
	p, err := engine.ParsePhase(s)
	if err != nil {
		return "", fmt.Errorf("%w (or tap)", err)
	}
	if p == engine.Press {
		return sendPress, nil
	}
	return sendRelease, nil
}

func runSendCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("moonctl send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var common commonFlags
	common.register(fs)
	hold := fs.Duration("hold", defaultTapHold, "Tap duration")
	showHelp := fs.Bool("help", false, "Print help message")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printSendUsage(stdout)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		printSendUsage(stderr)
		return 2
	}
	if *showHelp {
		printSendUsage(stdout)
		return 0
	}

	if fs.NArg() < 1 || fs.NArg() > 2 {
		printSendUsage(stderr)
		return 2
	}
	e, err := engine.ParseEngine(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}
	mode := sendTap
	if fs.NArg() == 2 {
		if mode, err = parseSendMode(fs.Arg(1)); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 2
		}
	}
	if *hold < 0 {
		fmt.Fprintln(stderr, "error: -hold must be >= 0")
		return 2
	}

	cfg, err := config.Load(common.configPath, common.envFile, common.overrides(visited(fs)))
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	target, err := cfg.TargetValue()
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := sender.New(sender.WithDialTimeout(cfg.DialTimeout()), sender.WithWriteTimeout(cfg.WriteTimeout()))

	logger.Debug("sending", "engine", e, "mode", mode, "target", target, "hold", *hold)
	if err := sendEngine(ctx, s, target, e, mode, *hold, stdout); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// sendEngine delivers the command(s) for mode synchronously.
//
// For a tap the "off" byte is sent even if ctx is canceled during the hold,
// so an interrupted tap does not leave the engine firing.
func sendEngine(ctx context.Context, d sender.Deliverer, target engine.Target, e engine.Engine, mode sendMode, hold time.Duration, out io.Writer) error {
	send := func(ctx context.Context, p engine.Phase) error {
		code, err := engine.CodeFor(e, p)
		if err != nil {
			return err
		}
		if err := d.Send(ctx, target, code); err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s %s (%s) to %s\n", e, p, code, target)
		return nil
	}

	switch mode {
	case sendPress:
		return send(ctx, engine.Press)

	case sendRelease:
		return send(ctx, engine.Release)

	case sendTap:
		if err := send(ctx, engine.Press); err != nil {
			return err
		}

		timer := time.NewTimer(hold)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}

		return send(context.WithoutCancel(ctx), engine.Release)

	default:
		return fmt.Errorf("unknown send mode %q", mode)
	}
}
