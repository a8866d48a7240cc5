// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Velobahn Labs

package cmd

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/velobahn/veloctl/pkg/firmware"
	"github.com/velobahn/veloctl/pkg/vlink"
)

var (
	simListen  string
	simBuildID uint64
	simDebug   bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the firmware simulator",
	Long: `Run the firmware-side protocol engine with a simulated vehicle model,
listening on a TCP port. Point any other veloctl command at it:

  veloctl sim --listen :7700 &
  veloctl --addr 127.0.0.1:7700 ping

One client is served at a time; the vehicle state survives reconnects.`,
	RunE: runSim,
}

func init() {
	simCmd.Flags().StringVar(&simListen, "listen", "127.0.0.1:7700", "TCP listen address")
	simCmd.Flags().Uint64Var(&simBuildID, "build-id", 0x56454C4F32303236, "Reported firmware build id")
	simCmd.Flags().BoolVar(&simDebug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(simCmd)
}

func runSim(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if simDebug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	ln, err := net.Listen("tcp", simListen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	engine := firmware.New(firmware.Options{
		Log:     log,
		BuildID: simBuildID,
	})
	log.Info().Str("addr", ln.Addr().String()).Msg("firmware simulator listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		log.Info().Str("peer", conn.RemoteAddr().String()).Msg("client connected")

		err = engine.Serve(vlink.NewNetTransport(conn))
		conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Info().Err(err).Msg("client disconnected")
		}
	}
}
