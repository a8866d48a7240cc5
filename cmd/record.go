// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Work with CBOR session archives",
}

var recordDumpCmd = &cobra.Command{
	Use:   "dump <archive>",
	Short: "Print the contents of a session archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordDump,
}

func init() {
	recordCmd.AddCommand(recordDumpCmd)
	rootCmd.AddCommand(recordCmd)
}

// createArchiveFile creates an archive file, refusing to clobber an existing
// recording.
func createArchiveFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive file: %w", err)
	}
	return f, nil
}

func runRecordDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, entries, err := vlink.ReadArchive(f)
	if err != nil {
		return err
	}

	fmt.Printf("Archive v%d, recorded %s", hdr.Version, hdr.Created.Local().Format("2006-01-02 15:04:05"))
	if hdr.Address != "" {
		fmt.Printf(" from %s", hdr.Address)
	}
	fmt.Printf(", %d entries\n\n", len(entries))

	for _, e := range entries {
		ts := e.WallTime.Local().Format("15:04:05.000")
		switch {
		case e.Telemetry != nil:
			fmt.Printf("[%s] %s\n", ts, vlink.FormatTelemetry(*e.Telemetry))
		case e.Event != nil:
			fmt.Printf("[%s] %s\n", ts, vlink.FormatEvent(*e.Event))
		case e.StreamLog != nil:
			r := e.StreamLog
			fmt.Printf("[%s] slog speed=%d cm/s batt=%d mV current=%d mA\n",
				ts, r.SpeedCmS, r.BatteryMV, r.MotorCurrentMA)
		}
	}
	return nil
}
