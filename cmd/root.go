// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// MIDI port flags
	midiIn  string
	midiOut string

	// Protocol flags
	manufacturerID string
	valueSize      int
	deviceConfig   string
	replyTimeout   time.Duration
	quietSession   bool

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "sysexconf",
	Short: "SysEx configuration protocol toolkit",
	Long: `sysexconf - Tools for devices configured over MIDI System Exclusive messages.

Reads and writes device parameters, takes and restores backups, watches
protocol traffic and emulates a device from a TOML or YAML description.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 31250]
  WebSocket: --url ws://host/path [--username user]
  MIDI:      --midi-in "Device MIDI 1" [--midi-out "Device MIDI 1"]

For WebSocket authentication, the password is read from the SYSEXCONF_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel)
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// MIDI port flags
	rootCmd.PersistentFlags().StringVar(&midiIn, "midi-in", "", "MIDI input port name (substring match)")
	rootCmd.PersistentFlags().StringVar(&midiOut, "midi-out", "", "MIDI output port name (defaults to --midi-in)")

	// Protocol flags
	rootCmd.PersistentFlags().StringVar(&manufacturerID, "id", "00:53:43", "Manufacturer ID (3 hex bytes)")
	rootCmd.PersistentFlags().IntVar(&valueSize, "value-size", 2, "Bytes per value (1 or 2)")
	rootCmd.PersistentFlags().StringVarP(&deviceConfig, "config", "c", "", "Device description file (.toml or .yaml)")
	rootCmd.PersistentFlags().DurationVar(&replyTimeout, "timeout", 2*time.Second, "Reply timeout")
	rootCmd.PersistentFlags().BoolVar(&quietSession, "quiet", false, "Open the session in quiet mode")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error); overrides "+EnvLogLevel)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
