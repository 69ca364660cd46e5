//go:build !linux

package main

import (
	"context"
	"os"
)

// startDeviceReaders starts one blocking reader per device.
// runInputs closes the files on shutdown, which unblocks the reads.
func startDeviceReaders(_ context.Context, files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	for _, f := range files {
		go readInputEvents(f, events, readErr)
	}
}
