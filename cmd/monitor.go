// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/kestrelworks/asyncloader/pkg/loader"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Faint(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// isTerminal reports whether stdout is an interactive terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// finishResult is the outcome of one action, as delivered to the
// monitor's finish callback.
type finishResult struct {
	Code    loader.ErrorCode
	Details string
	Summary loader.ActionSummary
}

// consoleMonitor prints progress lines and hands the final result back
// over a channel. Used for non-interactive output and for the quick
// actions that have no progress bar.
type consoleMonitor struct {
	styled bool
	done   chan finishResult
}

func newConsoleMonitor() *consoleMonitor {
	return &consoleMonitor{
		styled: isTerminal(),
		done:   make(chan finishResult, 1),
	}
}

func (m *consoleMonitor) LoaderWillBegin(_ *loader.Loader, action loader.Action, _, estimated float64) {
	line := fmt.Sprintf("%s (estimated %.1fs)", action, estimated)
	if m.styled {
		line = headerStyle.Render(line)
	}
	fmt.Println(line)
}

func (m *consoleMonitor) LoaderUpdate(_ *loader.Loader, status loader.Status, taken, estimated float64) {
	line := fmt.Sprintf("  %s... (%.1f/%.1fs)", status, taken, estimated)
	if m.styled {
		line = statusStyle.Render(line)
	}
	fmt.Println(line)
}

func (m *consoleMonitor) LoaderHasFinished(_ *loader.Loader, code loader.ErrorCode, details string, summary loader.ActionSummary) {
	m.done <- finishResult{Code: code, Details: details, Summary: summary}
}

// wait blocks until the action has finished.
func (m *consoleMonitor) wait() finishResult {
	return <-m.done
}

// printResult renders the outcome and summary. Returns a non-nil error
// when the action failed so commands can exit non-zero.
func printResult(res finishResult) error {
	s := res.Summary
	if res.Code == loader.ErrorNone {
		line := fmt.Sprintf("done in %.2fs", s.TotalTime)
		if isTerminal() {
			line = okStyle.Render(line)
		}
		fmt.Println(line)
	} else {
		line := fmt.Sprintf("failed: %s", res.Code)
		if res.Details != "" {
			line += " (" + res.Details + ")"
		}
		if isTerminal() {
			line = errStyle.Render(line)
		}
		fmt.Println(line)
	}

	if verbose {
		fmt.Printf("  baudrate:        %d\n", s.Baudrate)
		if s.ImageSize > 0 {
			fmt.Printf("  image:           %d bytes (%d encoded, %.3fs to encode)\n",
				s.ImageSize, s.EncodedImageSize, s.EncodingTime)
		}
		fmt.Printf("  preparation:     %.3fs\n", s.Stage1Time)
		fmt.Printf("  reset and wait:  %.3fs\n", s.Stage2Time)
		if s.Stage3Time > 0 {
			fmt.Printf("  handshake:       %.3fs\n", s.Stage3Time)
		}
		if s.Stage4Time > 0 {
			fmt.Printf("  command + image: %.3fs\n", s.Stage4Time)
		}
		if s.Stage5Time > 0 {
			fmt.Printf("  checksum wait:   %.3fs\n", s.Stage5Time)
		}
		if s.Stage6Time > 0 {
			fmt.Printf("  EEPROM program:  %.3fs\n", s.Stage6Time)
		}
		if s.Stage7Time > 0 {
			fmt.Printf("  EEPROM verify:   %.3fs\n", s.Stage7Time)
		}
	}

	if res.Code != loader.ErrorNone {
		return fmt.Errorf("%s", res.Code)
	}
	return nil
}

// runQuickAction drives an action that needs no progress bar: start it,
// wait, report.
func runQuickAction(l *loader.Loader, start func() error) error {
	mon := newConsoleMonitor()
	l.SetStatusMonitor(mon)
	defer l.Close()

	if err := start(); err != nil {
		return err
	}
	return printResult(mon.wait())
}
