// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/devicecfg"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/hostlink"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

// session is an open configuration session with a device
type session struct {
	client   *hostlink.Client
	connInfo string
	id       sysexconf.ManufacturerID
	caps     hostlink.Capabilities
	device   *devicecfg.Config
}

// protocolSettings resolves the manufacturer ID and value size from the
// device file when one is given, else from flags
func protocolSettings() (sysexconf.ManufacturerID, sysexconf.ValueSize, *devicecfg.Config, error) {
	if deviceConfig != "" {
		cfg, err := devicecfg.Load(deviceConfig)
		if err != nil {
			return sysexconf.ManufacturerID{}, 0, nil, err
		}
		ec, err := cfg.EngineConfig()
		if err != nil {
			return sysexconf.ManufacturerID{}, 0, nil, err
		}
		return ec.ManufacturerID, ec.ValueSize, &cfg, nil
	}

	id, err := sysexconf.ParseManufacturerID(manufacturerID)
	if err != nil {
		return id, 0, nil, err
	}
	size := sysexconf.ValueSize(valueSize)
	if !size.Valid() {
		return id, 0, nil, fmt.Errorf("invalid --value-size %d (use 1 or 2)", valueSize)
	}
	return id, size, nil, nil
}

// openSession connects, opens a session and queries the device capabilities
func openSession(ctx context.Context) (*session, error) {
	id, size, cfg, err := protocolSettings()
	if err != nil {
		return nil, err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	opts := hostlink.DefaultOptions()
	opts.ValueSize = size
	opts.Timeout = replyTimeout
	opts.Logger = logger
	opts.OnMessage = func(f *sysexconf.Frame) {
		logger.Info().Str("frame", sysexconf.FormatFrame(f)).Msg("device message")
	}
	client := hostlink.New(conn, id, opts)

	s := &session{client: client, connInfo: connInfo, id: id, device: cfg}
	open := client.Open
	if quietSession {
		open = client.OpenQuiet
	}
	if err := open(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	s.caps, err = client.Capabilities(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read capabilities: %w", err)
	}

	logger.Debug().
		Str("connection", connInfo).
		Stringer("id", id).
		Int("value_size", int(s.caps.ValueSize)).
		Int("params_per_message", s.caps.ParamsPerMessage).
		Bool("quiet", quietSession).
		Msg("session open")
	return s, nil
}

// close ends the session and the connection
func (s *session) close(ctx context.Context) {
	if err := s.client.CloseSession(ctx); err != nil {
		logger.Debug().Err(err).Msg("close session failed")
	}
	s.client.Close()
}

// parseUint parses a decimal or 0x-prefixed argument
func parseUint(name, raw string, max uint64) (uint64, error) {
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if v > max {
		return 0, fmt.Errorf("%s %d out of range (max %d)", name, v, max)
	}
	return v, nil
}

// parseAddress parses block and section arguments
func parseAddress(args []string) (block, section uint8, err error) {
	b, err := parseUint("block", args[0], sysexconf.Max7)
	if err != nil {
		return 0, 0, err
	}
	s, err := parseUint("section", args[1], sysexconf.Max7)
	if err != nil {
		return 0, 0, err
	}
	return uint8(b), uint8(s), nil
}

// sectionName returns the configured name of a section, if known
func (s *session) sectionName(block, section uint8) string {
	if s.device == nil || int(block) >= len(s.device.Blocks) {
		return ""
	}
	b := s.device.Blocks[block]
	if int(section) >= len(b.Sections) {
		return ""
	}
	name := b.Sections[section].Name
	if b.Name != "" && name != "" {
		return b.Name + "." + name
	}
	return name
}
