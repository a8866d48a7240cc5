// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var (
	slogPeriodMs uint16
	slogReset    bool
	slogArchive  string
)

var streamlogCmd = &cobra.Command{
	Use:   "streamlog",
	Short: "Control and read the sampled telemetry ring",
	Long: `The stream log samples telemetry into a firmware-side ring independent of
the live push stream, so a ride can be reconstructed after the fact even
when no host was attached.`,
}

var streamlogSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show stream log occupancy and sampling period",
	RunE:  runStreamlogSummary,
}

var streamlogStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Enable periodic sampling",
	RunE:  runStreamlogStart,
}

var streamlogStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable periodic sampling",
	RunE:  runStreamlogStop,
}

var streamlogReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read sampled records",
	RunE:  runStreamlogRead,
}

func init() {
	streamlogStartCmd.Flags().Uint16Var(&slogPeriodMs, "period", 0, "Sampling period in ms (0 = committed config value)")
	streamlogStartCmd.Flags().BoolVar(&slogReset, "reset", false, "Reset the ring before starting")
	streamlogReadCmd.Flags().StringVar(&slogArchive, "archive", "", "Also write records to a CBOR archive file")
	streamlogCmd.AddCommand(streamlogSummaryCmd)
	streamlogCmd.AddCommand(streamlogStartCmd)
	streamlogCmd.AddCommand(streamlogStopCmd)
	streamlogCmd.AddCommand(streamlogReadCmd)
	rootCmd.AddCommand(streamlogCmd)
}

func runStreamlogSummary(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	sum, err := c.StreamLogSummary()
	if err != nil {
		return err
	}
	fmt.Println(vlink.FormatRingSummary(sum.RingSummary))
	fmt.Printf("  Period: %d ms\n", sum.PeriodMs)
	return nil
}

func runStreamlogStart(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.StreamLogControl(true, slogPeriodMs, slogReset); err != nil {
		return err
	}
	fmt.Println("stream log sampling enabled")
	return nil
}

func runStreamlogStop(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.StreamLogControl(false, 0, false); err != nil {
		return err
	}
	fmt.Println("stream log sampling disabled")
	return nil
}

func runStreamlogRead(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	var arch *vlink.ArchiveWriter
	if slogArchive != "" {
		f, err := createArchiveFile(slogArchive)
		if err != nil {
			return err
		}
		defer f.Close()
		arch, err = vlink.NewArchiveWriter(f, address)
		if err != nil {
			return err
		}
	}

	sum, err := c.StreamLogSummary()
	if err != nil {
		return err
	}

	offset := sum.OldestSeq()
	for offset < sum.Seq {
		recs, err := c.StreamLogRead(offset, 12)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			break
		}
		for _, r := range recs {
			fmt.Printf("[%10d ms] speed=%d cm/s batt=%d mV current=%d mA temp=%dC throttle=%d mV %s\n",
				r.TimestampMs, r.SpeedCmS, r.BatteryMV, r.MotorCurrentMA,
				r.ControllerTempC, r.ThrottleMV, vlink.FormatFlags(r.Flags))
			if arch != nil {
				if err := arch.WriteStreamLog(r); err != nil {
					return err
				}
			}
		}
		offset += uint32(len(recs))
	}
	if arch != nil {
		fmt.Printf("%d records archived to %s\n", arch.Count(), slogArchive)
	}
	return nil
}
