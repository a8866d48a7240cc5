// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var (
	probeChannelArg string
	probePeriodMs   uint16
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Sample one signal channel into the probe ring",
	Long: `The signal probe samples a single selectable channel (speed, current,
battery, temp) at a fixed period into a firmware-side ring, giving a
cheap oscilloscope-style capture over the service link.`,
}

var probeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Select a channel and start sampling",
	RunE:  runProbeStart,
}

var probeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop sampling",
	RunE:  runProbeStop,
}

var probeSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show probe ring occupancy and selected channel",
	RunE:  runProbeSummary,
}

var probeReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read captured samples",
	RunE:  runProbeRead,
}

// probeChannels maps channel names to their wire selectors.
var probeChannels = map[string]byte{
	"speed":   vlink.ProbeSpeed,
	"current": vlink.ProbeCurrent,
	"battery": vlink.ProbeBattery,
	"temp":    vlink.ProbeTemp,
}

var probeChannelNames = map[byte]string{
	vlink.ProbeSpeed:   "speed",
	vlink.ProbeCurrent: "current",
	vlink.ProbeBattery: "battery",
	vlink.ProbeTemp:    "temp",
}

func init() {
	probeStartCmd.Flags().StringVar(&probeChannelArg, "channel", "speed", "Channel: speed, current, battery, temp")
	probeStartCmd.Flags().Uint16Var(&probePeriodMs, "period", 50, "Sampling period in ms")
	probeCmd.AddCommand(probeStartCmd)
	probeCmd.AddCommand(probeStopCmd)
	probeCmd.AddCommand(probeSummaryCmd)
	probeCmd.AddCommand(probeReadCmd)
	rootCmd.AddCommand(probeCmd)
}

func runProbeStart(cmd *cobra.Command, args []string) error {
	channel, ok := probeChannels[probeChannelArg]
	if !ok {
		return fmt.Errorf("unknown channel %q", probeChannelArg)
	}
	if probePeriodMs == 0 {
		return fmt.Errorf("--period must be nonzero")
	}

	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.ProbeSelect(channel, probePeriodMs, true); err != nil {
		return err
	}
	fmt.Printf("probing %s every %d ms\n", probeChannelArg, probePeriodMs)
	return nil
}

func runProbeStop(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	// Channel and period are retained, only sampling stops.
	sum, err := c.ProbeSummary()
	if err != nil {
		return err
	}
	if err := c.ProbeSelect(sum.Channel, 0, false); err != nil {
		return err
	}
	fmt.Println("probe stopped")
	return nil
}

func runProbeSummary(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	sum, err := c.ProbeSummary()
	if err != nil {
		return err
	}
	fmt.Println(vlink.FormatRingSummary(sum.RingSummary))
	name := probeChannelNames[sum.Channel]
	if name == "" {
		name = fmt.Sprintf("0x%02X", sum.Channel)
	}
	fmt.Printf("  Channel: %s\n", name)
	return nil
}

func runProbeRead(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	sum, err := c.ProbeSummary()
	if err != nil {
		return err
	}

	offset := sum.OldestSeq()
	for offset < sum.Seq {
		samples, err := c.ProbeRead(offset, 64)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			break
		}
		for i, s := range samples {
			fmt.Printf("#%d %d\n", offset+uint32(i), s)
		}
		offset += uint32(len(samples))
	}
	return nil
}
