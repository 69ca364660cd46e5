package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"moonlander/internal/engine"
	"moonlander/internal/remote"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// arrowEngines maps arrow keys to the engine they fire directly.
// Same layout as the lander game: down is the main engine.
var arrowEngines = map[uint16]engine.Engine{
	KEY_DOWN:  engine.Bottom,
	KEY_LEFT:  engine.Left,
	KEY_RIGHT: engine.Right,
	KEY_UP:    engine.Top,
}

// selectKeys maps number keys to engine selection, in selector order.
var selectKeys = map[uint16]engine.Engine{
	KEY_1: engine.Bottom,
	KEY_2: engine.Left,
	KEY_3: engine.Right,
	KEY_4: engine.Top,
}

// translateInput turns a raw key event into a controller action.
// Autorepeat and non-key events produce nothing.
func translateInput(ev inputEvent) (remote.Action, bool) {
	if ev.Type != EV_KEY {
		return nil, false
	}
	if ev.Value != evValuePress && ev.Value != evValueRelease {
		return nil, false
	}
	pressed := ev.Value == evValuePress

	if e, ok := arrowEngines[ev.Code]; ok {
		if pressed {
			return remote.EnginePress{Engine: remote.EngineRef(e)}, true
		}
		return remote.EngineRelease{Engine: remote.EngineRef(e)}, true
	}

	if e, ok := selectKeys[ev.Code]; ok {
		if !pressed {
			return nil, false
		}
		return remote.SelectEngine{Engine: e}, true
	}

	switch ev.Code {
	case KEY_SPACE:
		if pressed {
			return remote.EnginePress{}, true
		}
		return remote.EngineRelease{}, true

	case KEY_BACKSPACE:
		if pressed {
			return remote.ClearSelection{}, true
		}
	}

	return nil, false
}

// readInputEvents reads input events from one device and sends them to a channel.
// It blocks on read; closing f unblocks it.
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// runInputs opens every device, translates key events into actions and posts
// them to the daemon. It returns nil when ctx is canceled and an error when a
// device fails.
func runInputs(ctx context.Context, devices []string, events chan<- Event, logger *slog.Logger) error {
	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s (run as root or add user to 'input' group): %w", dev, err)
		}
		files = append(files, f)
	}

	raw := make(chan inputEvent, eventQueueSize)
	readErr := make(chan error, len(files))
	startDeviceReaders(ctx, files, raw, readErr)

	logger.Info("reading input devices", "devices", devices)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-raw:
			action, ok := translateInput(ev)
			if !ok {
				continue
			}
			logger.Debug("input action", "code", ev.Code, "value", ev.Value, "action", fmt.Sprintf("%T", action))
			if !postEvent(events, ActionEvent{Action: action, At: time.Now()}) {
				logger.Warn("event queue full, dropping input action", "code", ev.Code)
			}
		}
	}
}
