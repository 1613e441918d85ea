// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Shantea Controls

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <block> <section> [index]",
	Short: "Read one parameter or a whole section",
	Long: `Read a parameter value. Without an index every parameter of the section is
read with a multi-part transfer.

Numbers may be given in decimal or with a 0x prefix.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runGet,
}

var setCmd = &cobra.Command{
	Use:   "set <block> <section> <index> <value>",
	Short: "Write one parameter or a whole section",
	Long: `Write a parameter value. With --all the block and section arguments are
followed by nothing and every parameter of the section is written in parts.

Examples:
  sysexconf set 0 0 3 42
  sysexconf set 0 0 --all 1,2,3,4,5,6,7,8,9,10`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(setAllValues) > 0 {
			return cobra.ExactArgs(2)(cmd, args)
		}
		return cobra.ExactArgs(4)(cmd, args)
	},
	RunE: runSet,
}

var setAllValues []uint

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	setCmd.Flags().UintSliceVar(&setAllValues, "all", nil, "Write a whole section from a value list")
}

func runGet(cmd *cobra.Command, args []string) error {
	block, section, err := parseAddress(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	label := fmt.Sprintf("%d/%d", block, section)
	if name := s.sectionName(block, section); name != "" {
		label += " (" + name + ")"
	}

	if len(args) == 2 {
		values, err := s.client.GetAll(ctx, block, section)
		if err != nil {
			return fmt.Errorf("get %s: %w", label, err)
		}
		fmt.Printf("%s: %d values\n", label, len(values))
		printValues(values)
		return nil
	}

	index, err := parseUint("index", args[2], uint64(s.caps.ValueSize.MaxValue()))
	if err != nil {
		return err
	}
	value, err := s.client.Get(ctx, block, section, uint16(index))
	if err != nil {
		return fmt.Errorf("get %s[%d]: %w", label, index, err)
	}
	fmt.Printf("%s[%d] = %d\n", label, index, value)
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	block, section, err := parseAddress(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	limit := uint64(s.caps.ValueSize.MaxValue())

	if len(setAllValues) > 0 {
		values := make([]uint16, len(setAllValues))
		for i, v := range setAllValues {
			if uint64(v) > limit {
				return fmt.Errorf("value %d at position %d out of range (max %d)", v, i, limit)
			}
			values[i] = uint16(v)
		}
		if err := s.client.SetAll(ctx, block, section, values, s.caps.ParamsPerMessage); err != nil {
			return fmt.Errorf("set %d/%d: %w", block, section, err)
		}
		fmt.Printf("%d/%d: %d values written\n", block, section, len(values))
		return nil
	}

	index, err := parseUint("index", args[2], limit)
	if err != nil {
		return err
	}
	value, err := parseUint("value", args[3], limit)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, block, section, uint16(index), uint16(value)); err != nil {
		return fmt.Errorf("set %d/%d[%d]: %w", block, section, index, err)
	}
	fmt.Printf("%d/%d[%d] = %d\n", block, section, index, value)
	return nil
}

// printValues prints values eight to a line with the first index
func printValues(values []uint16) {
	var b strings.Builder
	for i, v := range values {
		if i%8 == 0 {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "  [%4d]", i)
		}
		fmt.Fprintf(&b, " %5d", v)
	}
	fmt.Println(b.String())
}
