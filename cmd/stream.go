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

var (
	streamPeriodMs uint16
	streamDuration time.Duration
	streamArchive  string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Enable telemetry streaming and print pushed frames",
	Long: `Switch the firmware into streaming mode and print unsolicited telemetry
push frames as they arrive. On exit the stream is stopped with a final
synchronous exchange; pushes still in flight during that exchange are
skipped, not treated as errors.

With --archive the session is also recorded to a CBOR archive file that
'veloctl record dump' can read back.`,
	RunE: runStream,
}

func init() {
	streamCmd.Flags().Uint16Var(&streamPeriodMs, "period", 200, "Push period in milliseconds")
	streamCmd.Flags().DurationVar(&streamDuration, "for", 0, "Stop after this duration (0 = until Ctrl+C)")
	streamCmd.Flags().StringVar(&streamArchive, "archive", "", "Record the session to a CBOR archive file")
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	if streamPeriodMs == 0 {
		return fmt.Errorf("--period must be nonzero")
	}

	c, t, info, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	var arch *vlink.ArchiveWriter
	if streamArchive != "" {
		f, err := createArchiveFile(streamArchive)
		if err != nil {
			return err
		}
		defer f.Close()
		arch, err = vlink.NewArchiveWriter(f, address)
		if err != nil {
			return err
		}
	}

	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Streaming at %d ms, Ctrl+C to stop\n\n", streamPeriodMs)

	if err := c.SetStreamPeriod(streamPeriodMs); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer func() {
		if err := c.SetStreamPeriod(0); err != nil {
			fmt.Fprintf(os.Stderr, "stop stream: %v\n", err)
			return
		}
		fmt.Println("stream stopped")
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	var until time.Time
	if streamDuration > 0 {
		until = time.Now().Add(streamDuration)
	}

	frames := 0
	for {
		select {
		case <-interrupt:
			fmt.Printf("\n%d frames received\n", frames)
			return nil
		default:
		}
		if !until.IsZero() && time.Now().After(until) {
			fmt.Printf("%d frames received\n", frames)
			return nil
		}

		tf, err := c.ReadStreamFrame(time.Duration(streamPeriodMs)*time.Millisecond*4 + time.Second)
		if err != nil {
			if errors.Is(err, vlink.ErrTimeout) {
				fmt.Fprintln(os.Stderr, "no push frame received, is the stream running?")
				continue
			}
			return err
		}
		frames++
		fmt.Println(vlink.FormatTelemetry(tf))
		if arch != nil {
			if err := arch.WriteTelemetry(tf); err != nil {
				return err
			}
		}
	}
}
