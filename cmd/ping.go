// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check link liveness and firmware uptime",
	Long: `Send ping requests and report the firmware protocol version, uptime and
round-trip time. Useful as the first check on a new connection.`,
	RunE: runPing,
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 1, "Number of pings to send")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	c, t, info, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Printf("Connection: %s\n", info)

	for i := 0; i < pingCount; i++ {
		start := time.Now()
		pi, err := c.Ping()
		if err != nil {
			return fmt.Errorf("ping %d/%d: %w", i+1, pingCount, err)
		}
		rtt := time.Since(start)

		fmt.Printf("ping %d/%d: protocol v%d, uptime %s, rtt %s\n",
			i+1, pingCount, pi.ProtoVersion, formatUptimeMs(pi.UptimeMs), rtt.Round(time.Microsecond))

		if pi.ProtoVersion != vlink.ProtocolVersion {
			fmt.Printf("  warning: firmware speaks protocol v%d, this tool expects v%d\n",
				pi.ProtoVersion, vlink.ProtocolVersion)
		}

		if i < pingCount-1 {
			time.Sleep(time.Second)
		}
	}
	return nil
}

// formatUptimeMs renders a millisecond uptime as h/m/s.
func formatUptimeMs(ms uint32) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
