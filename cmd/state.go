// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Dump and mutate live vehicle state",
}

var stateDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the live vehicle state snapshot",
	RunE:  runStateDump,
}

var stateSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set one live state field",
	Long: `Set a single live state field. Fields:

  drive-mode    drive mode selector
  assist-level  assist level
  cruise        cruise setpoint in cm/s (0 cancels cruise)
  brake         brake input (0 or 1); a press cancels cruise and any replay
  speed         speed override in cm/s (test firmware only)`,
	Args: cobra.ExactArgs(2),
	RunE: runStateSet,
}

var debugStateCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dump the versioned diagnostic snapshot",
	RunE:  runDebugState,
}

func init() {
	stateCmd.AddCommand(stateDumpCmd)
	stateCmd.AddCommand(stateSetCmd)
	stateCmd.AddCommand(debugStateCmd)
	rootCmd.AddCommand(stateCmd)
}

func runStateDump(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	s, err := c.State()
	if err != nil {
		return err
	}
	fmt.Println(vlink.FormatState(s))
	return nil
}

// stateFields maps field names to their wire selectors.
var stateFields = map[string]byte{
	"drive-mode":   vlink.FieldDriveMode,
	"assist-level": vlink.FieldAssistLevel,
	"cruise":       vlink.FieldCruiseCmS,
	"brake":        vlink.FieldBrake,
	"speed":        vlink.FieldSpeedCmS,
}

func runStateSet(cmd *cobra.Command, args []string) error {
	field, ok := stateFields[args[0]]
	if !ok {
		return fmt.Errorf("unknown field %q (see 'veloctl state set --help')", args[0])
	}
	value, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid value %q: %v", args[1], err)
	}

	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.SetState(field, uint32(value)); err != nil {
		return err
	}
	fmt.Printf("set %s = %d\n", args[0], value)
	return nil
}

func runDebugState(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	d, err := c.DebugState()
	if err != nil {
		return err
	}

	fmt.Printf("Debug state v%d\n", d.Version)
	fmt.Printf("  Reset reason:  0x%02X\n", d.ResetReason)
	fmt.Printf("  Boot count:    %d\n", d.BootCount)
	fmt.Printf("  Uptime:        %s\n", formatUptimeMs(d.UptimeMs))
	fmt.Printf("  Loop rate:     %d Hz\n", d.LoopHz)
	fmt.Printf("  Free stack:    %d bytes\n", d.FreeStack)
	if d.Version >= 2 {
		fmt.Printf("  PWM duty:      %d\n", d.PWMDuty)
		fmt.Printf("  Hall errors:   %d\n", d.HallErrors)
		fmt.Printf("  I2C errors:    %d\n", d.I2CErrors)
		fmt.Printf("  Cruise target: %d cm/s\n", d.CruiseSetpointCmS)
	}
	if d.Version >= 3 {
		fmt.Printf("  Boost active:  %d\n", d.BoostActive)
		fmt.Printf("  Boost budget:  %d J\n", d.BoostBudgetJ)
		fmt.Printf("  Boost cooldown:%d s\n", d.BoostCooldownS)
		fmt.Printf("  Throttle:      %d mV\n", d.ThrottleMV)
		fmt.Printf("  Assist curve:  %d\n", d.AssistCurveIdx)
	}
	return nil
}
