// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Restart the firmware into its bootloader",
	Long: `Ask the firmware to restart into its bootloader. The acknowledgement
arrives before the restart, so a success here means the request landed,
not that the controller is back up.`,
	RunE: runReboot,
}

func init() {
	rootCmd.AddCommand(rebootCmd)
}

func runReboot(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.RebootToBootloader(); err != nil {
		return err
	}
	fmt.Println("reboot requested")
	return nil
}
