// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls
//
// sysexconf - MIDI SysEx configuration protocol toolkit
//
// Emulates devices that speak the protocol and talks to real ones over
// serial, WebSocket or MIDI.

package main

import (
	"os"

	"github.com/shanteacontrols/sysex-conf-sub000/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
