// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/asyncloader/pkg/hostport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports on this machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := hostport.ListPorts()
		if err != nil {
			return fmt.Errorf("listing serial ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found.")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
