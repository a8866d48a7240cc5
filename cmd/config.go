// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/velobahn/veloctl/pkg/vlink"
)

var (
	configCommitFlag bool
	configRebootFlag bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and update the committed configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the committed configuration blob",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <field=value>...",
	Short: "Stage configuration changes (and optionally commit)",
	Long: `Fetch the committed configuration, apply field changes, bump the sequence
number and stage the result. Nothing becomes durable until an explicit
commit; --commit performs it in the same run.

Fields:
  wheel-mm, units, profile, theme, street, pin, max-current,
  max-speed, log-period-ms, boost-budget, boost-gain, curve

The assist curve is given as x1:y1,x2:y2,... with strictly increasing x.
Setting a PIN prompts for the current PIN when one is already set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConfigSet,
}

var configCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit the staged configuration",
	RunE:  runConfigCommit,
}

func init() {
	configSetCmd.Flags().BoolVar(&configCommitFlag, "commit", false, "Commit after staging")
	configSetCmd.Flags().BoolVar(&configRebootFlag, "reboot", false, "Reboot after commit (implies --commit)")
	configCommitCmd.Flags().BoolVar(&configRebootFlag, "reboot", false, "Reboot after the commit lands")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configCommitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	blob, err := c.ConfigGet()
	if err != nil {
		return err
	}
	fmt.Println(vlink.FormatConfig(blob))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	blob, err := c.ConfigGet()
	if err != nil {
		return fmt.Errorf("fetch committed config: %w", err)
	}

	pinChanged := false
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected field=value, got %q", arg)
		}
		changedPIN, err := applyConfigField(&blob, name, value)
		if err != nil {
			return err
		}
		pinChanged = pinChanged || changedPIN
	}

	// Changing the PIN requires proving knowledge of the current one.
	if pinChanged && blobHasPIN(c) {
		if err := verifyCurrentPIN(c); err != nil {
			return err
		}
	}

	blob.Sequence++
	if err := c.ConfigStage(blob); err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	fmt.Printf("staged configuration at sequence %d\n", blob.Sequence)

	if configCommitFlag || configRebootFlag {
		if err := c.ConfigCommit(configRebootFlag); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		fmt.Println("committed")
	} else {
		fmt.Println("not committed; run 'veloctl config commit' to make it durable")
	}
	return nil
}

func runConfigCommit(cmd *cobra.Command, args []string) error {
	c, t, _, err := openClient()
	if err != nil {
		return err
	}
	defer t.Close()

	if err := c.ConfigCommit(configRebootFlag); err != nil {
		return err
	}
	fmt.Println("committed")
	return nil
}

// applyConfigField mutates one blob field from its textual form. The second
// return reports whether the PIN was changed.
func applyConfigField(blob *vlink.ConfigBlob, name, value string) (bool, error) {
	parse := func(bits int) (uint64, error) {
		v, err := strconv.ParseUint(value, 0, bits)
		if err != nil {
			return 0, fmt.Errorf("field %s: invalid value %q: %v", name, value, err)
		}
		return v, nil
	}

	switch name {
	case "wheel-mm":
		v, err := parse(16)
		if err != nil {
			return false, err
		}
		blob.WheelCircMM = uint16(v)
	case "units":
		v, err := parse(8)
		if err != nil {
			return false, err
		}
		blob.Units = uint8(v)
	case "profile":
		v, err := parse(8)
		if err != nil {
			return false, err
		}
		blob.ActiveProfile = uint8(v)
	case "theme":
		v, err := parse(8)
		if err != nil {
			return false, err
		}
		blob.UITheme = uint8(v)
	case "street":
		v, err := parse(8)
		if err != nil {
			return false, err
		}
		blob.StreetMode = uint8(v)
	case "pin":
		v, err := parse(16)
		if err != nil {
			return false, err
		}
		blob.PIN = uint16(v)
		return true, nil
	case "max-current":
		v, err := parse(8)
		if err != nil {
			return false, err
		}
		blob.MaxCurrentA = uint8(v)
	case "max-speed":
		v, err := parse(8)
		if err != nil {
			return false, err
		}
		blob.MaxSpeedKmh = uint8(v)
	case "log-period-ms":
		v, err := parse(16)
		if err != nil {
			return false, err
		}
		blob.LogPeriodMs = uint16(v)
	case "boost-budget":
		v, err := parse(16)
		if err != nil {
			return false, err
		}
		blob.BoostBudgetJ = uint16(v)
	case "boost-gain":
		v, err := parse(8)
		if err != nil {
			return false, err
		}
		blob.BoostGainPct = uint8(v)
	case "curve":
		return false, parseCurve(blob, value)
	default:
		return false, fmt.Errorf("unknown field %q", name)
	}
	return false, nil
}

// parseCurve parses x1:y1,x2:y2,... into the assist curve points.
func parseCurve(blob *vlink.ConfigBlob, value string) error {
	points := strings.Split(value, ",")
	if len(points) > vlink.MaxCurvePoints {
		return fmt.Errorf("curve: at most %d points", vlink.MaxCurvePoints)
	}
	var parsed [vlink.MaxCurvePoints]vlink.CurvePoint
	for i, p := range points {
		xs, ys, ok := strings.Cut(p, ":")
		if !ok {
			return fmt.Errorf("curve: expected x:y, got %q", p)
		}
		x, err := strconv.ParseUint(xs, 10, 8)
		if err != nil {
			return fmt.Errorf("curve point %d: %v", i, err)
		}
		y, err := strconv.ParseUint(ys, 10, 8)
		if err != nil {
			return fmt.Errorf("curve point %d: %v", i, err)
		}
		parsed[i] = vlink.CurvePoint{X: uint8(x), Y: uint8(y)}
	}
	blob.CurvePointCount = uint8(len(points))
	blob.CurvePoints = parsed
	return nil
}

// blobHasPIN reports whether the committed config carries a nonzero PIN.
func blobHasPIN(c *vlink.Client) bool {
	blob, err := c.ConfigGet()
	return err == nil && blob.PIN != 0
}

// verifyCurrentPIN prompts for the current PIN and compares it against the
// committed blob. The comparison is client-side convenience, not a security
// boundary: anyone with the serial link can read the blob anyway.
func verifyCurrentPIN(c *vlink.Client) error {
	fmt.Fprint(os.Stderr, "Current PIN: ")
	entered, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read PIN: %v", err)
	}
	pin, err := strconv.ParseUint(strings.TrimSpace(string(entered)), 10, 16)
	if err != nil {
		return fmt.Errorf("invalid PIN")
	}
	blob, err := c.ConfigGet()
	if err != nil {
		return err
	}
	if uint16(pin) != blob.PIN {
		return fmt.Errorf("PIN mismatch")
	}
	return nil
}
