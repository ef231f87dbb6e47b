// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var programRun bool

var programCmd = &cobra.Command{
	Use:   "program <image.bin>",
	Short: "Program an image into the target's EEPROM",
	Long: `Resets the target, loads the binary image into RAM, and commands the
boot ROM to program it into the external EEPROM and verify it. By
default the target runs the image afterwards; with --run=false it shuts
down.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := readImage(args[0])
		if err != nil {
			return err
		}

		l, description, err := newLoader()
		if err != nil {
			return err
		}
		if !isTerminal() {
			fmt.Println(description)
		}
		return runImageAction(l, func() error {
			return l.ProgramEEPROM(image, programRun)
		})
	},
}

func init() {
	programCmd.Flags().BoolVar(&programRun, "run", true, "Run the image after programming")
	rootCmd.AddCommand(programCmd)
}
