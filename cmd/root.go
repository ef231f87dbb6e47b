// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// Connection flags
	portName  string
	bridgeURL string
	baudRate  uint32

	// Reset flags
	resetLineName string
	resetDuration time.Duration
	bootWait      time.Duration

	verbose bool

	log logr.Logger
)

var rootCmd = &cobra.Command{
	Use:   "asyncloader",
	Short: "Serial bootloader for 32-bit targets",
	Long: `Asyncloader - programs and controls a 32-bit microcontroller's boot ROM
over a serial link.

It can restart or shut down the target, load a RAM image, and program and
verify the external EEPROM. The target is reset through DTR or RTS and
driven through the boot ROM's pulse-encoded serial protocol.

Connection modes:
  Serial: --port /dev/ttyUSB0 [--baud 115200]
  Bridge: --url ws://host/path (serial bridge on another machine)

Defaults for --port, --baud, and the reset flags may be placed in
$HOME/.asyncloader.yaml or given as ASYNCLOADER_* environment variables.`,
	Version:           "1.2.0",
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().StringVarP(&bridgeURL, "url", "u", "", "Serial bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().Uint32VarP(&baudRate, "baud", "b", 115200, "Baud rate (max 115200)")
	rootCmd.PersistentFlags().StringVar(&resetLineName, "reset-line", "dtr", "Reset line: dtr, rts")
	rootCmd.PersistentFlags().DurationVar(&resetDuration, "reset-duration", 10*time.Millisecond, "Reset pulse duration (1ms-100ms)")
	rootCmd.PersistentFlags().DurationVar(&bootWait, "boot-wait", 100*time.Millisecond, "Wait after reset before talking to the boot ROM (50ms-150ms)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	viper.SetConfigName(".asyncloader")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.SetEnvPrefix("asyncloader")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, name := range []string{"port", "url", "baud", "reset-line", "reset-duration", "boot-wait"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// setup loads config-file defaults into unset flags and builds the
// logger. Flags beat environment variables beat the config file.
func setup(cmd *cobra.Command, args []string) error {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	portName = viper.GetString("port")
	bridgeURL = viper.GetString("url")
	baudRate = viper.GetUint32("baud")
	resetLineName = viper.GetString("reset-line")
	resetDuration = viper.GetDuration("reset-duration")
	bootWait = viper.GetDuration("boot-wait")

	zapLog, err := buildZapLogger()
	if err != nil {
		return err
	}
	log = zapr.NewLogger(zapLog)
	return nil
}

func buildZapLogger() (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
