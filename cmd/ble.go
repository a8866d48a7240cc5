// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var bleCmd = &cobra.Command{
	Use:   "ble",
	Short: "BLE hacker-mode pass-through and MITM capture",
	Long: `The firmware exposes its BLE link for diagnosis: raw payloads can be
passed through a connected peer, and a MITM capture ring records
direction-tagged traffic for later inspection.`,
}

var bleExchangeCmd = &cobra.Command{
	Use:   "exchange <hexbytes>",
	Short: "Pass raw bytes through the connected peer",
	Args:  cobra.ExactArgs(1),
	RunE:  runBleExchange,
}

var bleMitmCmd = &cobra.Command{
	Use:   "mitm <off|advertise|scan|connect|disconnect>",
	Short: "Drive the MITM link state machine",
	Args:  cobra.ExactArgs(1),
	RunE:  runBleMitm,
}

var bleDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the MITM capture ring",
	RunE:  runBleDump,
}

func init() {
	bleCmd.AddCommand(bleExchangeCmd)
	bleCmd.AddCommand(bleMitmCmd)
	bleCmd.AddCommand(bleDumpCmd)
	rootCmd.AddCommand(bleCmd)
}

func runBleExchange(cmd *cobra.Command, args []string) error {
	data, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex payload: %v", err)
	}

	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	reply, err := c.BleExchange(data)
	if err != nil {
		return err
	}
	fmt.Printf("sent:  %s\n", strings.ToUpper(hex.EncodeToString(data)))
	fmt.Printf("reply: %s\n", strings.ToUpper(hex.EncodeToString(reply)))
	return nil
}

// mitmEvents maps command-line verbs to control events.
var mitmEvents = map[string]byte{
	"advertise":  vlink.MitmEvAdvertise,
	"scan":       vlink.MitmEvScan,
	"connect":    vlink.MitmEvConnect,
	"disconnect": vlink.MitmEvDisconnect,
}

func runBleMitm(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if args[0] == "off" {
		if err := c.MitmControl(false, vlink.MitmEvOff, nil); err != nil {
			return err
		}
		fmt.Println("mitm disabled")
		return nil
	}

	event, ok := mitmEvents[args[0]]
	if !ok {
		return fmt.Errorf("unknown mitm verb %q", args[0])
	}
	if err := c.MitmControl(true, event, nil); err != nil {
		return err
	}
	fmt.Printf("mitm: %s\n", args[0])
	return nil
}

func runBleDump(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	offset := uint32(0)
	total := 0
	for {
		cap, err := c.MitmRead(offset, 10)
		if err != nil {
			return err
		}
		if cap.Magic != vlink.MitmCaptureMagic {
			return fmt.Errorf("unexpected capture magic 0x%04X", cap.Magic)
		}
		if len(cap.Records) == 0 {
			break
		}
		for _, r := range cap.Records {
			dir := "C->P"
			if r.Dir == vlink.DirPeripheralToCentral {
				dir = "P->C"
			}
			fmt.Printf("+%5dms %s %s\n", r.DtMs, dir, strings.ToUpper(hex.EncodeToString(r.Data)))
		}
		total += len(cap.Records)
		offset = cap.Base + uint32(len(cap.Records))
	}
	fmt.Printf("%d records\n", total)
	return nil
}
