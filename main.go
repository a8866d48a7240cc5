// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Velobahn Labs
//
// veloctl - VLink vehicle-control service tool
//
// A CLI tool for talking to Velobahn vehicle-control firmware over the
// VLink serial protocol: live state, configuration, diagnostic rings,
// crash dumps and the firmware simulator.

package main

import (
	"os"

	"github.com/velobahn/veloctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
