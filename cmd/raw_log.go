// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/hostlink"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

var (
	rawLogAll   bool
	rawLogBytes bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display SysEx traffic in human-readable format",
	Long: `Continuously decode and display configuration frames as they arrive.

Each frame is printed with a timestamp, status, wish, amount and the decoded
values. Frames carrying another manufacturer ID are hidden unless --all is
given. Frames that fail to parse are printed as raw bytes.

Supports serial, WebSocket and MIDI connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogAll, "all", false, "Show frames for every manufacturer ID")
	rawLogCmd.Flags().BoolVar(&rawLogBytes, "bytes", false, "Also print the raw bytes of every frame")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	id, size, _, err := protocolSettings()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("sysexconf - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Manufacturer ID: %s\n", id)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	err = hostlink.ReadFrames(conn, hostlink.DefaultOptions().MaxMessageSize, logger, func(raw []byte) {
		frame, perr := sysexconf.ParseFrame(raw, size)
		if perr != nil {
			fmt.Printf("[ERROR] %v: %s\n", perr, sysexconf.FormatBytes(raw))
			return
		}
		if !rawLogAll && frame.ManufacturerID != id {
			return
		}
		fmt.Println(sysexconf.FormatFrame(frame))
		if rawLogBytes {
			fmt.Printf("  bytes: %s\n", sysexconf.FormatBytes(raw))
		}
	})
	if err == nil || errors.Is(err, ErrConnectionClosed) {
		logger.Info().Msg("connection closed")
		return nil
	}
	return err
}
