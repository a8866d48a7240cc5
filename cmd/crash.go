// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var crashCmd = &cobra.Command{
	Use:   "crash",
	Short: "Read, clear and trigger the crash dump block",
}

var crashReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the crash dump block",
	Long: `Read the one-shot crash dump. Reading never consumes the dump; only an
explicit clear empties it. An absent dump (magic zero) is a normal result.
A dump whose CRC does not match is shown as present-but-invalid.`,
	RunE: runCrashRead,
}

var crashClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the crash dump block",
	RunE:  runCrashClear,
}

var crashTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Provoke a test fault (test firmware only)",
	RunE:  runCrashTrigger,
}

func init() {
	crashCmd.AddCommand(crashReadCmd)
	crashCmd.AddCommand(crashClearCmd)
	crashCmd.AddCommand(crashTriggerCmd)
	rootCmd.AddCommand(crashCmd)
}

func runCrashRead(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	d, err := c.CrashRead()
	if err != nil {
		return err
	}
	if !d.Present() {
		fmt.Println("no crash dump present")
		return nil
	}
	fmt.Println(vlink.FormatCrashDump(d))
	return nil
}

func runCrashClear(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.CrashClear(); err != nil {
		return err
	}
	fmt.Println("crash dump cleared")
	return nil
}

func runCrashTrigger(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	pc, err := c.CrashTrigger()
	if err != nil {
		return err
	}
	fmt.Printf("fault triggered near PC 0x%08X; read it back with 'veloctl crash read'\n", pc)
	return nil
}
