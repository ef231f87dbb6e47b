// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/asyncloader/pkg/loader"
)

var loadCmd = &cobra.Command{
	Use:   "load <image.bin>",
	Short: "Load a RAM image into the target and run it",
	Long: `Resets the target, authenticates the boot ROM, and loads the binary
image into RAM, where the target runs it. The image is lost at the next
power cycle; use "program" to make it permanent.`,
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
			return l.LoadRAM(image)
		})
	},
}

// readImage loads and size-checks a binary image file.
func readImage(path string) ([]byte, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if len(image) < loader.MinImageSize {
		return nil, fmt.Errorf("image %s is empty", path)
	}
	if len(image) > loader.MaxImageSize {
		return nil, fmt.Errorf("image %s is %d bytes; the target's RAM holds %d",
			path, len(image), loader.MaxImageSize)
	}
	return image, nil
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
