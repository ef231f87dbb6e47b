// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kestrelworks/asyncloader/pkg/loader"
)

// Messages from the monitor callbacks into the bubbletea program.
type (
	beginMsg struct {
		action    loader.Action
		estimated float64
	}
	updateMsg struct {
		status    loader.Status
		taken     float64
		estimated float64
	}
	finishMsg struct {
		result finishResult
	}
	tickMsg time.Time
)

// teaMonitor forwards loader callbacks into a running bubbletea program.
type teaMonitor struct {
	program *tea.Program
	done    chan finishResult
}

func (m *teaMonitor) LoaderWillBegin(_ *loader.Loader, action loader.Action, _, estimated float64) {
	m.program.Send(beginMsg{action: action, estimated: estimated})
}

func (m *teaMonitor) LoaderUpdate(_ *loader.Loader, status loader.Status, taken, estimated float64) {
	m.program.Send(updateMsg{status: status, taken: taken, estimated: estimated})
}

func (m *teaMonitor) LoaderHasFinished(_ *loader.Loader, code loader.ErrorCode, details string, summary loader.ActionSummary) {
	res := finishResult{Code: code, Details: details, Summary: summary}
	m.done <- res
	m.program.Send(finishMsg{result: res})
}

// progressModel renders one action as a progress bar with the current
// stage underneath. Progress is wall-clock against the loader's running
// estimate, which firms up as stages complete.
type progressModel struct {
	bar       progress.Model
	action    string
	status    string
	estimated float64
	started   time.Time
	finished  bool
	cancelled bool
	cancel    func()
}

func newProgressModel(cancel func()) progressModel {
	return progressModel{
		bar:     progress.New(progress.WithDefaultGradient()),
		status:  "starting",
		started: time.Now(),
		cancel:  cancel,
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m progressModel) Init() tea.Cmd {
	return tick()
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case beginMsg:
		m.action = msg.action.String()
		m.estimated = msg.estimated
		return m, nil
	case updateMsg:
		m.status = msg.status.String()
		m.estimated = msg.estimated
		return m, nil
	case finishMsg:
		m.finished = true
		return m, tea.Quit
	case tickMsg:
		if m.finished {
			return m, nil
		}
		return m, tick()
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.cancelled {
				m.cancelled = true
				m.status = "cancelling"
				m.cancel()
			}
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 8
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}
		return m, nil
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.finished {
		return ""
	}
	percent := 0.0
	if m.estimated > 0 {
		percent = time.Since(m.started).Seconds() / m.estimated
	}
	if percent > 0.99 {
		percent = 0.99
	}
	header := m.action
	if header == "" {
		header = "starting"
	}
	return fmt.Sprintf("\n  %s\n  %s\n  %s\n\n  %s\n",
		headerStyle.Render(header),
		m.bar.ViewAs(percent),
		statusStyle.Render(m.status+"..."),
		statusStyle.Render("q or ctrl+c to cancel"))
}

// runImageAction drives an image-carrying action with the interactive
// progress bar when stdout is a terminal, falling back to plain console
// lines otherwise.
func runImageAction(l *loader.Loader, start func() error) error {
	defer l.Close()

	if !isTerminal() {
		mon := newConsoleMonitor()
		l.SetStatusMonitor(mon)
		if err := start(); err != nil {
			return err
		}
		return printResult(mon.wait())
	}

	mon := &teaMonitor{done: make(chan finishResult, 1)}
	program := tea.NewProgram(newProgressModel(l.Cancel))
	mon.program = program
	l.SetStatusMonitor(mon)

	if err := start(); err != nil {
		return err
	}
	if _, err := program.Run(); err != nil {
		// The display failed, not the action; keep waiting for it.
		log.Error(err, "progress display failed")
	}
	return printResult(<-mon.done)
}
