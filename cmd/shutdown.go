// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Reset the target and command the boot ROM to shut down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, description, err := newLoader()
		if err != nil {
			return err
		}
		fmt.Println(description)
		return runQuickAction(l, l.Shutdown)
	},
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
}
