// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var abCmd = &cobra.Command{
	Use:   "ab",
	Short: "Inspect and stage A/B firmware slots",
}

var abStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active, pending and last-good slots",
	RunE:  runAbStatus,
}

var abSetCmd = &cobra.Command{
	Use:   "set <slot|none>",
	Short: "Stage a slot for activation on the next restart",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbSet,
}

func init() {
	abCmd.AddCommand(abStatusCmd)
	abCmd.AddCommand(abSetCmd)
	rootCmd.AddCommand(abCmd)
}

func runAbStatus(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	s, err := c.AbStatus()
	if err != nil {
		return err
	}
	fmt.Println(vlink.FormatAbStatus(s))
	return nil
}

func runAbSet(cmd *cobra.Command, args []string) error {
	slot := byte(vlink.AbSlotNone)
	if args[0] != "none" {
		v, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid slot %q (use 0, 1 or none)", args[0])
		}
		slot = byte(v)
	}

	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.AbSetPending(slot); err != nil {
		return err
	}
	if slot == vlink.AbSlotNone {
		fmt.Println("pending slot cleared")
	} else {
		fmt.Printf("slot %d staged; activates on the next restart\n", slot)
	}
	return nil
}
