// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Connection flags
	address     string
	baudRate    int
	cmdTimeout  time.Duration
	wsUsername  string
	wsNoVerify  bool
	settingsArg string
)

// settings mirrors the optional config file. Flags given on the command line
// win over file values.
type settings struct {
	Address  string        `yaml:"address"`
	Baud     int           `yaml:"baud"`
	Timeout  time.Duration `yaml:"timeout"`
	Username string        `yaml:"username"`
}

var rootCmd = &cobra.Command{
	Use:   "veloctl",
	Short: "VLink vehicle-control service tool",
	Long: `veloctl - service and diagnostics tool for Velobahn vehicle controllers.

Talks the VLink framed serial protocol to a controller over a serial port,
a TCP bridge, or a WebSocket byte bridge. The connection target is chosen
by address syntax:

  Serial:    --addr /dev/ttyUSB0 [--baud 115200]
  TCP:       --addr 192.168.4.1:7700
  WebSocket: --addr ws://bridge.local/vlink [--username user]

For WebSocket authentication, the password is read from the VELOCTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell
history.

Defaults can be stored in ~/.config/veloctl/config.yaml.`,
	Version:           "1.3.0",
	PersistentPreRunE: loadSettings,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&address, "addr", "a", "", "Connection address (device path, host:port, or ws:// URL)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().DurationVarP(&cmdTimeout, "timeout", "t", 2*time.Second, "Per-exchange timeout")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth (WebSocket only)")
	rootCmd.PersistentFlags().BoolVar(&wsNoVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	rootCmd.PersistentFlags().StringVar(&settingsArg, "config-file", "", "Settings file (default ~/.config/veloctl/config.yaml)")
}

// loadSettings fills in flag defaults from the settings file. Missing file is
// fine; a malformed one is an error so typos do not silently fall back.
func loadSettings(cmd *cobra.Command, args []string) error {
	path := settingsArg
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".config", "veloctl", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && settingsArg == "" {
			return nil
		}
		return fmt.Errorf("settings file: %w", err)
	}

	var s settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("settings file %s: %w", path, err)
	}

	flags := cmd.Flags()
	if !flags.Changed("addr") && s.Address != "" {
		address = s.Address
	}
	if !flags.Changed("baud") && s.Baud != 0 {
		baudRate = s.Baud
	}
	if !flags.Changed("timeout") && s.Timeout != 0 {
		cmdTimeout = s.Timeout
	}
	if !flags.Changed("username") && s.Username != "" {
		wsUsername = s.Username
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
