// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display VLink frames as they arrive without
sending anything. Useful for watching a link between another host and the
firmware, or for verifying resynchronization on a noisy line.

Corrupt frames are reported and skipped; link statistics print on exit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	t, info, err := OpenTransport()
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Printf("veloctl - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	fr := vlink.NewFramer(t)
	for {
		select {
		case <-interrupt:
			fmt.Printf("\n%s\n", fr.Stats())
			return nil
		default:
		}

		f, err := fr.ReadFrame(500 * time.Millisecond)
		if err != nil {
			if errors.Is(err, vlink.ErrTimeout) {
				continue
			}
			if errors.Is(err, vlink.ErrChecksum) {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if errors.Is(err, ErrConnectionClosed) {
				fmt.Println("connection closed")
				fmt.Println(fr.Stats())
				return nil
			}
			return err
		}
		fmt.Print(vlink.FormatFrame(f))
	}
}
