// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Whitebeet - EV/EVSE charging session driver
//
// A CLI tool that drives a Whitebeet communication controller through
// ISO 15118 / DIN 70121 charging sessions, records frame traces and keeps
// a history of finished sessions.

package main

import (
	"os"

	"github.com/Thermoquad/whitebeet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		cmd.PrintError(os.Stderr, err)
		os.Exit(cmd.ExitCode(err))
	}
}
