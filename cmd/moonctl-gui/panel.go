package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"moonlander/internal/engine"
	"moonlander/internal/logging"
	"moonlander/internal/sender"
)

// jobDispatcher is the part of *sender.Dispatcher the panel needs.
type jobDispatcher interface {
	Dispatch(job sender.Job) bool
}

// controlPanel holds the panel's behavior, independent of the widgets.
//
// The address text and the selected engine are read at each press and each
// release, so a release after changing the selection turns off the newly
// selected engine.
type controlPanel struct {
	dispatcher jobDispatcher
	port       int
	logger     *slog.Logger

	// setStatus shows a one-line message. It may be called from any goroutine.
	setStatus func(string)
}

func newControlPanel(d jobDispatcher, port int, logger *slog.Logger, setStatus func(string)) *controlPanel {
	if setStatus == nil {
		setStatus = func(string) {}
	}
	return &controlPanel{dispatcher: d, port: port, logger: logger, setStatus: setStatus}
}

// engineOptions are the selector labels, in selection order.
func engineOptions() []string {
	var opts []string
	for _, e := range engine.All() {
		name := e.String()
		opts = append(opts, strings.ToUpper(name[:1])+name[1:])
	}
	return opts
}

func (p *controlPanel) press(addrText, engineLabel string) {
	p.fire(addrText, engineLabel, engine.Press)
}

func (p *controlPanel) release(addrText, engineLabel string) {
	p.fire(addrText, engineLabel, engine.Release)
}

func (p *controlPanel) fire(addrText, engineLabel string, phase engine.Phase) {
	addr, err := engine.ParseAddress(addrText)
	if err != nil {
		p.setStatus(fmt.Sprintf("Invalid address: %v", err))
		return
	}

	e := engine.Default
	if engineLabel != "" {
		if e, err = engine.ParseEngine(engineLabel); err != nil {
			p.setStatus(err.Error())
			return
		}
	}

	job, err := sender.NewJob(engine.Target{Address: addr, Port: p.port}, e, phase)
	if err != nil {
		p.setStatus(err.Error())
		return
	}

	if !p.dispatcher.Dispatch(job) {
		p.setStatus(fmt.Sprintf("%s %s dropped: %v", e, phase, sender.ErrSaturated))
	}
}

// report turns a dispatcher result into a status line.
func (p *controlPanel) report(r sender.Result) {
	j := r.Job
	if r.Err != nil {
		p.logger.Warn("command delivery failed", "engine", j.Engine, "phase", j.Phase, "target", j.Target, logging.ErrAttr(r.Err))

		var de *sender.DeliveryError
		if errors.As(r.Err, &de) {
			p.setStatus(fmt.Sprintf("%s %s failed (%s %s)", j.Engine, j.Phase, de.Op, j.Target))
			return
		}
		p.setStatus(fmt.Sprintf("%s %s failed: %v", j.Engine, j.Phase, r.Err))
		return
	}
	p.setStatus(fmt.Sprintf("%s %s sent (%s) to %s", j.Engine, j.Phase, j.Code, j.Target))
}
