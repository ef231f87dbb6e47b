// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Reset the target so it boots from EEPROM",
	Long: `Toggles the reset line and leaves the target alone. The boot ROM will
time out waiting for a host and run whatever is in the EEPROM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, description, err := newLoader()
		if err != nil {
			return err
		}
		fmt.Println(description)
		return runQuickAction(l, l.Restart)
	},
}

func init() {
	rootCmd.AddCommand(restartCmd)
}
