// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shanteacontrols/sysex-conf-sub000/pkg/snapshot"
	"github.com/shanteacontrols/sysex-conf-sub000/pkg/sysexconf"
)

var (
	backupOutput  string
	restoreDryRun bool
)

var backupCmd = &cobra.Command{
	Use:   "backup [block/section...]",
	Short: "Save device configuration to a snapshot file",
	Long: `Read sections with backup requests and store the replayable frames in a
CBOR snapshot.

Without arguments every section is saved. The layout comes from --config when
given; otherwise the device is walked section by section and unreadable
sections are skipped. Read-only sections in a device file are skipped since
they cannot be restored.

Examples:
  sysexconf backup -o device.cbor --port /dev/ttyACM0
  sysexconf backup -o leds.cbor 2/0 2/1`,
	RunE: runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Write a snapshot file back to the device",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "backup.cbor", "Snapshot file to write")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Print the snapshot contents without writing")
}

type sectionAddr struct {
	block, section uint8
}

// parseSectionList parses block/section arguments
func parseSectionList(args []string) ([]sectionAddr, error) {
	var addrs []sectionAddr
	for _, arg := range args {
		b, s, ok := strings.Cut(arg, "/")
		if !ok {
			return nil, fmt.Errorf("invalid section %q (use block/section)", arg)
		}
		block, section, err := parseAddress([]string{b, s})
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, sectionAddr{block, section})
	}
	return addrs, nil
}

// backupTargets returns the sections to save
func (s *session) backupTargets(ctx context.Context) ([]sectionAddr, error) {
	var addrs []sectionAddr
	if s.device != nil {
		for b, block := range s.device.Blocks {
			for i, sec := range block.Sections {
				if sec.ReadOnly || sec.WriteOnly {
					logger.Debug().Int("block", b).Int("section", i).Msg("skipping section that cannot be restored")
					continue
				}
				addrs = append(addrs, sectionAddr{uint8(b), uint8(i)})
			}
		}
		return addrs, nil
	}

	sections, err := s.client.Sections(ctx)
	if err != nil {
		return nil, err
	}
	for _, sec := range sections {
		if sec.Err != nil {
			logger.Warn().Uint8("block", sec.Block).Uint8("section", sec.Section).Err(sec.Err).Msg("skipping unreadable section")
			continue
		}
		addrs = append(addrs, sectionAddr{sec.Block, sec.Section})
	}
	return addrs, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	targets, err := parseSectionList(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if len(targets) == 0 {
		targets, err = s.backupTargets(ctx)
		if err != nil {
			return fmt.Errorf("failed to read layout: %w", err)
		}
	}
	if len(targets) == 0 {
		return errors.New("no sections to back up")
	}

	name := ""
	if s.device != nil {
		name = s.device.Name
	}
	snap := snapshot.New(name, s.id, s.caps.ValueSize, s.caps.ParamsPerMessage)

	for _, t := range targets {
		if err := s.client.Backup(ctx, t.block, t.section, snap); err != nil {
			return fmt.Errorf("backup %d/%d: %w", t.block, t.section, err)
		}
		fmt.Printf("  %3d/%-3d %s\n", t.block, t.section, s.sectionName(t.block, t.section))
	}

	if err := snap.Save(backupOutput); err != nil {
		return err
	}
	fmt.Printf("Saved %d sections (%d frames) to %s\n", len(snap.Sections), len(snap.Frames()), backupOutput)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	snap, err := snapshot.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Snapshot: %s\n", args[0])
	if snap.Device != "" {
		fmt.Printf("Device: %s\n", snap.Device)
	}
	fmt.Printf("Manufacturer ID: %s\n", snap.ID())
	fmt.Printf("Created: %s\n", snap.Created.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Sections: %d, frames: %d\n", len(snap.Sections), len(snap.Frames()))

	if restoreDryRun {
		for _, sec := range snap.Sections {
			values, err := snap.Values(sec.Block, sec.Section)
			if err != nil {
				return err
			}
			fmt.Printf("\n%d/%d: %d values\n", sec.Block, sec.Section, len(values))
			printValues(values)
		}
		return nil
	}

	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if s.caps.ValueSize != sysexconf.ValueSize(snap.ValueSize) {
		return fmt.Errorf("device uses %d-byte values, snapshot has %d-byte values", s.caps.ValueSize, snap.ValueSize)
	}
	if err := s.client.Restore(ctx, snap); err != nil {
		return err
	}
	fmt.Printf("Restored %d sections\n", len(snap.Sections))
	return nil
}
