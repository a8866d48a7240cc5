// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var (
	busReset       bool
	busInjectBusID uint8
	busReplayCount uint8
	busReplayRate  uint16
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "Capture, inject and replay inter-device bus traffic",
	Long: `The firmware sniffs its internal inter-device bus (controller, display,
battery) into a capture ring. Frames can also be injected or replayed for
bench diagnosis; both are refused while the vehicle is moving.`,
}

var busSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show capture ring occupancy and arm state",
	RunE:  runBusSummary,
}

var busStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Enable bus capture",
	RunE:  runBusStart,
}

var busStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable bus capture",
	RunE:  runBusStop,
}

var busReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read captured bus frames",
	RunE:  runBusRead,
}

var busInjectCmd = &cobra.Command{
	Use:   "inject <hexbytes>",
	Short: "Inject one frame onto the bus (stationary only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runBusInject,
}

var busMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Peek the most recent captured frame",
	RunE:  runBusMonitor,
}

var busArmCmd = &cobra.Command{
	Use:   "arm [on|off]",
	Short: "Switch single-shot capture mode",
	Long: `An armed capture stops recording once the ring is full instead of
overwriting the oldest frames, preserving the start of a burst.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBusArm,
}

var busReplayCmd = &cobra.Command{
	Use:   "replay <offset>",
	Short: "Replay captured frames from an absolute offset (stationary only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runBusReplay,
}

func init() {
	busStartCmd.Flags().BoolVar(&busReset, "reset", false, "Reset the ring before starting")
	busInjectCmd.Flags().Uint8Var(&busInjectBusID, "bus", 1, "Bus ID to inject onto")
	busReplayCmd.Flags().Uint8Var(&busReplayCount, "count", 1, "Number of frames to replay")
	busReplayCmd.Flags().Uint16Var(&busReplayRate, "rate", 50, "Replay inter-frame rate in ms")
	busCmd.AddCommand(busSummaryCmd)
	busCmd.AddCommand(busStartCmd)
	busCmd.AddCommand(busStopCmd)
	busCmd.AddCommand(busReadCmd)
	busCmd.AddCommand(busInjectCmd)
	busCmd.AddCommand(busMonitorCmd)
	busCmd.AddCommand(busArmCmd)
	busCmd.AddCommand(busReplayCmd)
	rootCmd.AddCommand(busCmd)
}

func runBusSummary(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	sum, err := c.BusSummary()
	if err != nil {
		return err
	}
	fmt.Println(vlink.FormatRingSummary(sum.RingSummary))
	fmt.Printf("  Armed: %v, max record payload: %d bytes\n", sum.Armed, sum.MaxLen)
	return nil
}

func runBusStart(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.BusControl(true, busReset); err != nil {
		return err
	}
	fmt.Println("bus capture enabled")
	return nil
}

func runBusStop(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.BusControl(false, false); err != nil {
		return err
	}
	fmt.Println("bus capture disabled")
	return nil
}

func formatBusRecord(seq uint32, r vlink.BusCaptureRecord) string {
	var tags []string
	if r.Flags&vlink.BusFlagInjected != 0 {
		tags = append(tags, "injected")
	}
	if r.Flags&vlink.BusFlagReplayed != 0 {
		tags = append(tags, "replayed")
	}
	tag := ""
	if len(tags) > 0 {
		tag = " [" + strings.Join(tags, ",") + "]"
	}
	return fmt.Sprintf("#%d +%dms bus%d %s%s", seq, r.DtMs, r.BusID,
		strings.ToUpper(hex.EncodeToString(r.Data)), tag)
}

func runBusRead(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	sum, err := c.BusSummary()
	if err != nil {
		return err
	}

	offset := sum.OldestSeq()
	for offset < sum.Seq {
		recs, err := c.BusRead(offset, 10)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			break
		}
		for i, r := range recs {
			fmt.Println(formatBusRecord(offset+uint32(i), r))
		}
		offset += uint32(len(recs))
	}
	return nil
}

func runBusInject(cmd *cobra.Command, args []string) error {
	data, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex payload: %v", err)
	}

	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.BusInject(busInjectBusID, 0, data); err != nil {
		return err
	}
	fmt.Printf("injected %d bytes onto bus %d\n", len(data), busInjectBusID)
	return nil
}

func runBusMonitor(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	rec, err := c.BusMonitor()
	if err != nil {
		return err
	}
	fmt.Println(formatBusRecord(0, rec))
	return nil
}

func runBusArm(cmd *cobra.Command, args []string) error {
	arm := true
	if len(args) == 1 {
		switch args[0] {
		case "on":
			arm = true
		case "off":
			arm = false
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
	}

	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.BusArm(arm); err != nil {
		return err
	}
	if arm {
		fmt.Println("capture armed (single-shot)")
	} else {
		fmt.Println("capture disarmed (rolling)")
	}
	return nil
}

func runBusReplay(cmd *cobra.Command, args []string) error {
	offset, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid offset %q: %v", args[0], err)
	}

	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.BusReplay(uint32(offset), busReplayCount, busReplayRate); err != nil {
		return err
	}
	fmt.Printf("replaying %d frame(s) from offset %d at %d ms\n",
		busReplayCount, offset, busReplayRate)
	return nil
}
