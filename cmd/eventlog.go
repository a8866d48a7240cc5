// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the persistent event log ring",
}

var eventsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show event log occupancy and producer sequence",
	RunE:  runEventsSummary,
}

var eventsReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read event records",
	Long: `Read event records from the firmware ring. By default only the records
still held are printed; reads use absolute producer offsets, so a ring that
wrapped between two reads shows up as a gap, never as repeated records.`,
	RunE: runEventsRead,
}

var eventsMarkCmd = &cobra.Command{
	Use:   "mark [type]",
	Short: "Append a marker event (default type 0x10)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEventsMark,
}

func init() {
	eventsCmd.AddCommand(eventsSummaryCmd)
	eventsCmd.AddCommand(eventsReadCmd)
	eventsCmd.AddCommand(eventsMarkCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runEventsSummary(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	sum, err := c.EventSummary()
	if err != nil {
		return err
	}
	fmt.Println(vlink.FormatRingSummary(sum))
	return nil
}

func runEventsRead(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	sum, err := c.EventSummary()
	if err != nil {
		return err
	}

	offset := sum.OldestSeq()
	for offset < sum.Seq {
		recs, err := c.EventRead(offset, 12)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			break
		}
		for _, r := range recs {
			fmt.Println(vlink.FormatEvent(r))
		}
		offset += uint32(len(recs))
	}
	return nil
}

func runEventsMark(cmd *cobra.Command, args []string) error {
	typ := uint64(vlink.EventMarker)
	if len(args) == 1 {
		var err error
		typ, err = strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid event type %q: %v", args[0], err)
		}
	}

	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.EventMark(byte(typ), 0); err != nil {
		return err
	}
	fmt.Printf("marker 0x%02X appended\n", typ)
	return nil
}
