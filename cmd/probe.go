// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

var (
	probeLayout bool
	probeCustom []uint
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Open a session and report what the device supports",
	Long: `Open a configuration session and query the device capabilities.

Reports the value size and parameters per message. With --layout every block
and section is read to discover the parameter layout. Custom special requests
can be queried with --custom.

Examples:
  sysexconf probe --port /dev/ttyACM0
  sysexconf probe --midi-in "OpenDeck" --layout --custom 0x10,0x11

Exit codes:
  0 - Device answered
  1 - No session (connection failed, device silent or rejected the open)`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeLayout, "layout", false, "Walk every block and section")
	probeCmd.Flags().UintSliceVar(&probeCustom, "custom", nil, "Custom request IDs to query")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	id, _, _, err := protocolSettings()
	if err != nil {
		return err
	}

	fmt.Printf("sysexconf - Device Probe\n")
	fmt.Printf("Manufacturer ID: %s\n", id)
	fmt.Printf("Timeout: %s\n\n", replyTimeout)

	s, err := openSession(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "PROBE FAILED: %v\n", err)
		os.Exit(1)
	}
	defer s.close(ctx)

	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Session open\n")
	fmt.Printf("  Value size: %d byte(s), max value %d\n", s.caps.ValueSize, s.caps.ValueSize.MaxValue())
	fmt.Printf("  Parameters per message: %d\n", s.caps.ParamsPerMessage)
	fmt.Printf("  Quiet: %t\n", s.client.Quiet())

	for _, raw := range probeCustom {
		if raw > sysexconf.Max7 {
			return fmt.Errorf("custom request id %d does not fit in a data byte", raw)
		}
		req := sysexconf.SpecialRequest(raw)
		values, err := s.client.Custom(ctx, req)
		if err != nil {
			fmt.Printf("\nCustom %s: %v\n", req, err)
			continue
		}
		fmt.Printf("\nCustom %s: %v\n", req, values)
	}

	if !probeLayout {
		return nil
	}

	fmt.Printf("\nReading layout...\n")
	sections, err := s.client.Sections(ctx)
	if err != nil {
		return fmt.Errorf("layout walk failed: %w", err)
	}

	total := 0
	for _, sec := range sections {
		name := s.sectionName(sec.Block, sec.Section)
		if sec.Err != nil {
			fmt.Printf("  %3d/%-3d %-24s unreadable (%v)\n", sec.Block, sec.Section, name, sec.Err)
			continue
		}
		parts := (sec.Parameters + s.caps.ParamsPerMessage - 1) / s.caps.ParamsPerMessage
		fmt.Printf("  %3d/%-3d %-24s %5d parameters, %d part(s)\n", sec.Block, sec.Section, name, sec.Parameters, parts)
		total += sec.Parameters
	}

	fmt.Printf("\n--- Probe summary ---\n")
	fmt.Printf("Sections: %d\n", len(sections))
	fmt.Printf("Readable parameters: %d\n", total)
	return nil
}
