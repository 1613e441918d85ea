// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

var defaultID = sysexconf.ManufacturerID{0x00, 0x53, 0x43}

func replyTo(t *testing.T, emu *emulator, req []byte) *sysexconf.Frame {
	t.Helper()
	var out bytes.Buffer
	emu.handle(&out, req)
	if out.Len() == 0 {
		t.Fatalf("no reply to %s", sysexconf.FormatBytes(req))
	}
	f, err := sysexconf.ParseFrame(out.Bytes(), sysexconf.ValueSize2)
	if err != nil {
		t.Fatalf("reply does not parse: %v", err)
	}
	return f
}

func TestEmulator_DefaultDevice(t *testing.T) {
	deviceConfig = ""
	emu, err := newEmulator()
	if err != nil {
		t.Fatalf("newEmulator failed: %v", err)
	}

	get, err := sysexconf.NewGetRequest(defaultID, 0, 0, 3, sysexconf.ValueSize2)
	if err != nil {
		t.Fatal(err)
	}
	if f := replyTo(t, emu, get); f.Status != sysexconf.StatusErrorConnection {
		t.Errorf("get before open: expected ERROR_CONNECTION, got %s", f.Status)
	}

	if f := replyTo(t, emu, sysexconf.NewSpecialRequest(defaultID, sysexconf.SpecialConnOpen)); f.Status != sysexconf.StatusAck {
		t.Fatalf("open: expected ACK, got %s", f.Status)
	}

	set, err := sysexconf.NewSetRequest(defaultID, 0, 0, 3, 42, sysexconf.ValueSize2)
	if err != nil {
		t.Fatal(err)
	}
	if f := replyTo(t, emu, set); f.Status != sysexconf.StatusAck {
		t.Fatalf("set: expected ACK, got %s", f.Status)
	}

	f := replyTo(t, emu, get)
	if f.Status != sysexconf.StatusAck || len(f.Values) != 2 || f.Values[1] != 42 {
		t.Errorf("get: expected ACK with value 42, got %s", sysexconf.FormatFrame(f))
	}

	over, err := sysexconf.NewSetRequest(defaultID, 0, 0, 3, 51, sysexconf.ValueSize2)
	if err != nil {
		t.Fatal(err)
	}
	if f := replyTo(t, emu, over); f.Status != sysexconf.StatusErrorNewValue {
		t.Errorf("set out of range: expected ERROR_NEW_VALUE, got %s", f.Status)
	}

	stats := emu.engine.Stats()
	if stats.Received != 5 {
		t.Errorf("expected 5 received, got %d", stats.Received)
	}
	if !emu.engine.IsConnectionOpen() {
		t.Error("session should be open")
	}
}

func TestEmulator_RoutesReplies(t *testing.T) {
	deviceConfig = ""
	emu, err := newEmulator()
	if err != nil {
		t.Fatalf("newEmulator failed: %v", err)
	}

	var first, second bytes.Buffer
	emu.handle(&first, sysexconf.NewSpecialRequest(defaultID, sysexconf.SpecialConnOpen))
	emu.handle(&second, sysexconf.NewSpecialRequest(defaultID, sysexconf.SpecialBytesPerValue))

	if first.Len() == 0 || second.Len() == 0 {
		t.Fatalf("expected a reply on each writer, got %d and %d bytes", first.Len(), second.Len())
	}
	f, err := sysexconf.ParseFrame(second.Bytes(), sysexconf.ValueSize2)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Values) != 1 || f.Values[0] != 2 {
		t.Errorf("expected value size 2, got %v", f.Values)
	}
}

func TestEmulator_TolerantAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.toml")
	content := `manufacturer_id = "00:53:43"
mode = "tolerant"
modal_flag = true

[[blocks]]
  [[blocks.sections]]
  parameters = 4
  read_only = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	deviceConfig = path
	t.Cleanup(func() { deviceConfig = "" })

	emu, err := newEmulator()
	if err != nil {
		t.Fatalf("newEmulator failed: %v", err)
	}

	set, err := sysexconf.NewSetRequest(defaultID, 0, 0, 1, 7, sysexconf.ValueSize2)
	if err != nil {
		t.Fatal(err)
	}

	for session := 1; session <= 2; session++ {
		if f := replyTo(t, emu, sysexconf.NewSpecialRequest(defaultID, sysexconf.SpecialConnOpen)); f.Status != sysexconf.StatusAck {
			t.Fatalf("session %d open: expected ACK, got %s", session, f.Status)
		}
		if f := replyTo(t, emu, set); f.Status != sysexconf.StatusAck {
			t.Errorf("session %d read-only set: expected ACK, got %s", session, f.Status)
		}
		replyTo(t, emu, sysexconf.NewSpecialRequest(defaultID, sysexconf.SpecialConnClose))
	}

	if got := emu.engine.Stats().Tolerated; got != 2 {
		t.Errorf("expected 2 tolerated failures, got %d", got)
	}
}
