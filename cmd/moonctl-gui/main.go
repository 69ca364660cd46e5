package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"moonlander/internal/config"
	"moonlander/internal/logging"
	"moonlander/internal/sender"
)

const (
	appID = "moonlander.remote"

	shutdownDrainTimeout = 2 * time.Second
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		envFile    = flag.String("env-file", "", "File with MOONCTL_* variables (default .env if present)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile, config.Overrides{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	lvl, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := logging.New(lvl)

	fyneApp := app.NewWithID(appID)
	w := fyneApp.NewWindow("Moonlander Remote")

	status := widget.NewLabel("")
	status.Wrapping = fyne.TextWrapWord
	setStatus := func(s string) {
		fyne.Do(func() { status.SetText(s) })
	}

	var panel *controlPanel
	snd := sender.New(sender.WithDialTimeout(cfg.DialTimeout()), sender.WithWriteTimeout(cfg.WriteTimeout()))
	dispatcher, stopSends := newPanelDispatcher(snd, logger, sender.DispatcherConfig{
		MaxInFlight: cfg.Sender.MaxInFlight,
		OnResult:    func(r sender.Result) { panel.report(r) },
	})
	panel = newControlPanel(dispatcher, cfg.Target.Port, logger, setStatus)

	content, fire := buildContent(panel, cfg.Target.Address, status)
	w.SetContent(content)
	w.Resize(fyne.NewSize(360, 420))
	// A button still held when the window goes away gets its off byte.
	w.SetOnClosed(fire.Cancel)

	logger.Info("panel ready", "address", cfg.Target.Address, "port", cfg.Target.Port)
	w.ShowAndRun()

	if err := stopSends(shutdownDrainTimeout); err != nil {
		logger.Warn("abandoning in-flight commands", logging.ErrAttr(err))
	}
}

// newPanelDispatcher returns a dispatcher whose sends are not tied to the
// window. stop waits up to timeout for in-flight sends, then cancels the rest.
func newPanelDispatcher(d sender.Deliverer, logger *slog.Logger, cfg sender.DispatcherConfig) (*sender.Dispatcher, func(timeout time.Duration) error) {
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := sender.NewDispatcher(ctx, d, logger, cfg)

	stop := func(timeout time.Duration) error {
		defer cancel()
		drainCtx, done := context.WithTimeout(context.Background(), timeout)
		defer done()
		return dispatcher.Wait(drainCtx)
	}
	return dispatcher, stop
}

// buildContent lays out the address field, engine selector, fire button and
// status line. It returns the fire button so the caller can release it.
func buildContent(panel *controlPanel, address string, status *widget.Label) (fyne.CanvasObject, *holdButton) {
	addr := widget.NewEntry()
	addr.SetText(address)
	addr.SetPlaceHolder("192.168.0.109")

	selector := widget.NewSelect(engineOptions(), nil)
	selector.SetSelected(engineOptions()[0])

	fire := newHoldButton("FIRE",
		func() { panel.press(addr.Text, selector.Selected) },
		func() { panel.release(addr.Text, selector.Selected) },
	)

	form := widget.NewForm(
		widget.NewFormItem("Lander IP", addr),
		widget.NewFormItem("Engine", selector),
	)

	return container.NewBorder(form, status, nil, nil, container.NewPadded(fire)), fire
}
