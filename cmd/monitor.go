// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/hostlink"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

var (
	monitorShowAll bool
	monitorStats   int
	monitorTUI     bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch configuration traffic and track error replies",
	Long: `Passively watch SysEx traffic between a host and a device.

Every frame is parsed and counted by status, wish and special request.
Error replies and frames that fail to parse are highlighted immediately;
frames for other manufacturer IDs are counted but not shown.

By default only errors are displayed. Use --show-all to display every frame.
Statistics are summarized every --stats-interval seconds in text mode and
continuously in the terminal UI.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&monitorStats, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// trafficStats counts observed frames
type trafficStats struct {
	StartTime time.Time

	Total       uint64
	Valid       uint64
	ParseErrors uint64
	Foreign     uint64
	Requests    uint64
	Acks        uint64
	Errors      uint64
	Specials    uint64

	ByStatus map[sysexconf.Status]uint64
	ByWish   map[sysexconf.Wish]uint64

	// Rates (calculated)
	FrameRate float64
	ErrorRate float64
}

func newTrafficStats() *trafficStats {
	return &trafficStats{
		StartTime: time.Now(),
		ByStatus:  make(map[sysexconf.Status]uint64),
		ByWish:    make(map[sysexconf.Wish]uint64),
	}
}

// Update counts one observation
func (s *trafficStats) Update(obs observation) {
	s.Total++
	switch {
	case obs.err != nil:
		s.ParseErrors++
		return
	case obs.foreign:
		s.Foreign++
		return
	}

	f := obs.frame
	s.Valid++
	s.ByStatus[f.Status]++
	if f.Special {
		s.Specials++
	} else {
		s.ByWish[f.Wish]++
	}
	switch {
	case f.Status == sysexconf.StatusRequest:
		s.Requests++
	case f.Status == sysexconf.StatusAck:
		s.Acks++
	default:
		s.Errors++
	}
}

// CalculateRates calculates frame and error rates
func (s *trafficStats) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.Total) / elapsed
		s.ErrorRate = float64(s.Errors+s.ParseErrors) / elapsed
	}
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100.0 / float64(total)
}

// String returns a formatted statistics summary
func (s *trafficStats) String() string {
	s.CalculateRates()

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Frames:    %8d\n", s.Total)
	fmt.Fprintf(&b, "Valid Frames:    %8d (%.1f%%)\n", s.Valid, percent(s.Valid, s.Total))
	fmt.Fprintf(&b, "  Requests:        %6d\n", s.Requests)
	fmt.Fprintf(&b, "  Acks:            %6d\n", s.Acks)
	fmt.Fprintf(&b, "  Specials:        %6d\n", s.Specials)
	if s.Errors > 0 {
		fmt.Fprintf(&b, "Error Replies:   %8d (%.1f%%)\n", s.Errors, percent(s.Errors, s.Total))
		for _, st := range sortedStatuses(s.ByStatus) {
			if st.IsError() {
				fmt.Fprintf(&b, "  %-21s %6d\n", st.String()+":", s.ByStatus[st])
			}
		}
	}
	if s.ParseErrors > 0 {
		fmt.Fprintf(&b, "Parse Errors:    %8d (%.1f%%)\n", s.ParseErrors, percent(s.ParseErrors, s.Total))
	}
	if s.Foreign > 0 {
		fmt.Fprintf(&b, "Other IDs:       %8d\n", s.Foreign)
	}
	fmt.Fprintf(&b, "Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

func sortedStatuses(m map[sysexconf.Status]uint64) []sysexconf.Status {
	var out []sysexconf.Status
	for st := sysexconf.StatusRequest; st <= sysexconf.StatusErrorRead; st++ {
		if m[st] > 0 {
			out = append(out, st)
		}
	}
	return out
}

// observation is one frame seen on the wire
type observation struct {
	raw     []byte
	frame   *sysexconf.Frame
	err     error
	foreign bool
}

// observe parses a raw frame for the monitor
func observe(raw []byte, id sysexconf.ManufacturerID, size sysexconf.ValueSize) observation {
	obs := observation{raw: raw}
	obs.frame, obs.err = sysexconf.ParseFrame(raw, size)
	if obs.err == nil && obs.frame.ManufacturerID != id {
		obs.foreign = true
	}
	return obs
}

// isProblem reports whether an observation should always be shown
func (o observation) isProblem() bool {
	return o.err != nil || (!o.foreign && o.frame.Status.IsError())
}

// describe returns a one-line description without a timestamp
func (o observation) describe() string {
	if o.err != nil {
		return fmt.Sprintf("PARSE ERROR: %v [%s]", o.err, sysexconf.FormatBytes(o.raw))
	}
	f := o.frame
	if f.Special {
		return fmt.Sprintf("%s %s", f.Request, f.Status)
	}
	return fmt.Sprintf("%s/%s %d/%d part %s %s",
		f.Wish, f.Amount, f.Block, f.Section, sysexconf.FormatPart(f.Part), f.Status)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	id, size, _, err := protocolSettings()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if monitorTUI {
		return runMonitorTUI(conn, connInfo, id, size)
	}
	return runMonitorText(conn, connInfo, id, size)
}

// readObservations feeds parsed frames to fn until the connection ends
func readObservations(conn Connection, id sysexconf.ManufacturerID, size sysexconf.ValueSize, fn func(observation)) error {
	err := hostlink.ReadFrames(conn, hostlink.DefaultOptions().MaxMessageSize, logger, func(raw []byte) {
		fn(observe(raw, id, size))
	})
	if err == nil || errors.Is(err, ErrConnectionClosed) {
		return ErrConnectionClosed
	}
	return err
}

// runMonitorTUI runs the monitor in the terminal UI
func runMonitorTUI(conn Connection, connInfo string, id sysexconf.ManufacturerID, size sysexconf.ValueSize) error {
	m := newMonitorModel(connInfo, id, monitorShowAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		err := readObservations(conn, id, size, func(obs observation) {
			p.Send(frameMsg(obs))
		})
		p.Send(connEndMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runMonitorText prints problems as they arrive and periodic statistics
func runMonitorText(conn Connection, connInfo string, id sysexconf.ManufacturerID, size sysexconf.ValueSize) error {
	fmt.Printf("sysexconf - Traffic Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Manufacturer ID: %s\n", id)
	fmt.Printf("Statistics interval: %d seconds\n", monitorStats)
	if monitorShowAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := newTrafficStats()
	statsTicker := time.NewTicker(time.Duration(max(monitorStats, 1)) * time.Second)
	defer statsTicker.Stop()

	frames := make(chan observation, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- readObservations(conn, id, size, func(obs observation) {
			frames <- obs
		})
	}()

	for {
		select {
		case obs := <-frames:
			stats.Update(obs)
			timestamp := time.Now().Format("15:04:05.000")
			switch {
			case obs.err != nil:
				fmt.Printf("[%s] \033[1;31m%s\033[0m\n", timestamp, obs.describe())
			case obs.foreign:
			case obs.frame.Status.IsError():
				fmt.Printf("[%s] \033[1;33mERROR REPLY:\033[0m %s\n", timestamp, obs.describe())
			case monitorShowAll:
				fmt.Println(sysexconf.FormatFrame(obs.frame))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-errCh:
			fmt.Println()
			fmt.Print(stats.String())
			if errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return err
		}
	}
}
