// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/hostlink"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

var packetTestTimeout int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid SysEx frame",
	Long: `Wait for a valid configuration frame on the connection until timeout.

Bytes outside SysEx framing and frames that do not parse are ignored. Any
manufacturer ID is accepted.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "wait", 10, "Seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	_, size, _, err := protocolSettings()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("sysexconf - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid SysEx frame...\n\n")

	frameChan := make(chan *sysexconf.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		invalid := 0
		err := hostlink.ReadFrames(conn, hostlink.DefaultOptions().MaxMessageSize, logger, func(raw []byte) {
			frame, perr := sysexconf.ParseFrame(raw, size)
			if perr != nil {
				invalid++
				return
			}
			if invalid > 0 {
				fmt.Printf("(skipped %d invalid frames)\n", invalid)
				invalid = 0
			}
			select {
			case frameChan <- frame:
			default:
			}
		})
		if err == nil {
			err = ErrConnectionClosed
		}
		errChan <- err
	}()

	select {
	case frame := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Manufacturer ID: %s\n", frame.ManufacturerID)
		fmt.Printf("  Status: %s\n", frame.Status)
		if frame.Special {
			fmt.Printf("  Special: %s\n", frame.Request)
		} else {
			fmt.Printf("  Wish: %s, Amount: %s, Block: %d, Section: %d\n", frame.Wish, frame.Amount, frame.Block, frame.Section)
		}
		fmt.Printf("  Length: %d bytes\n", len(frame.Raw))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
