// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works
//
// Asyncloader - serial bootloader for 32-bit targets
//
// A CLI tool and library for loading RAM images and programming the
// EEPROM of a target microcontroller over its boot ROM serial protocol.

package main

import (
	"os"

	"github.com/kestrelworks/asyncloader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
