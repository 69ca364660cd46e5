package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_BACKSPACE = 14
	KEY_1         = 2
	KEY_2         = 3
	KEY_3         = 4
	KEY_4         = 5
	KEY_SPACE     = 57
	KEY_UP        = 103
	KEY_LEFT      = 105
	KEY_RIGHT     = 106
	KEY_DOWN      = 108
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

const (
	// Queue between input/IPC/dispatcher and the daemon loop.
	eventQueueSize = 64

	// Queue between the daemon loop and the websocket broadcaster.
	broadcastQueueSize = 128

	// How long shutdown waits for in-flight command sends.
	shutdownDrainTimeout = 2 * time.Second

	// Default press duration for "send ... tap".
	defaultTapHold = 250 * time.Millisecond

	stateWSPath = "/ws/state"
)
