// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

// Package loader drives a 32-bit target microcontroller's boot ROM over a
// serial link: resetting the chip, authenticating it, pushing a RAM
// image, and optionally programming and verifying an external EEPROM.
//
// All work happens on a worker goroutine, one per action, so callers are
// never blocked; progress and completion are reported through a
// StatusMonitor. A Loader holds a shared port and at most one action is
// in flight at a time.
package loader

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/kestrelworks/asyncloader/pkg/hostport"
	"github.com/kestrelworks/asyncloader/pkg/threebit"
)

// Loader programs and controls one target over one serial port.
//
// Settings may be changed at any time; an action snapshots them when it
// starts and runs on the snapshot. All exported methods are safe for
// concurrent use.
type Loader struct {
	shared *hostport.SharedPort
	log    logr.Logger

	// Mutable settings, guarded by settingsMu.
	settingsMu       sync.Mutex
	baudrate         uint32
	resetLine        ResetLine
	resetCallback    ResetFunc
	resetDuration    time.Duration
	bootWaitDuration time.Duration
	monitor          StatusMonitor

	// mu guards admission, counter, and done. callbackMu serializes
	// LoaderHasFinished of one action before LoaderWillBegin of the
	// next.
	mu         sync.Mutex
	counter    uint64
	done       chan struct{}
	callbackMu sync.Mutex

	// Read without mu by IsBusy, currentActivity, and the worker.
	action         atomic.Int32
	cancelled      atomic.Bool
	lastCheckpoint atomic.Value // string

	// Snapshot for the in-flight action. Written under mu at admission,
	// then read only by the worker.
	snap snapshot

	// Worker buffers, reused across actions.
	encodedImage []byte
	imageLongs   int
	scratch      []byte

	// Drain deadline for the bytes buffered during stage 4.
	stage4Drain time.Time
}

// snapshot is the settings an action runs with, locked in at admission.
type snapshot struct {
	baudrate         uint32
	resetLine        ResetLine
	resetCallback    ResetFunc
	resetDuration    time.Duration
	bootWaitDuration time.Duration
	monitor          StatusMonitor
}

// Option configures a Loader at construction.
type Option func(*Loader)

// WithLogger gives the loader a logger for stage-level diagnostics.
// Stage transitions log at V(1); failures at error level.
func WithLogger(log logr.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// New creates a Loader bound to the given shared port. The port stays
// untouched until the first action runs.
func New(shared *hostport.SharedPort, opts ...Option) *Loader {
	l := &Loader{
		shared:           shared,
		log:              logr.Discard(),
		baudrate:         MaxBaudrate,
		resetLine:        ResetLineDTR,
		resetDuration:    10 * time.Millisecond,
		bootWaitDuration: 100 * time.Millisecond,
		encodedImage:     make([]byte, 0, worstCaseEncodedSize),
	}
	l.lastCheckpoint.Store("")
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewDevice creates a Loader with its own shared port over the named
// local serial device.
func NewDevice(deviceName string, opts ...Option) *Loader {
	return New(hostport.OpenShared(deviceName), opts...)
}

// Close cancels any in-flight action, waits indefinitely for the worker
// to finish, and relinquishes the port.
func (l *Loader) Close() error {
	if err := l.CancelAndWait(0); err != nil {
		return err
	}
	l.shared.Detach(l)
	return nil
}

// ControllerType implements hostport.Controller.
func (l *Loader) ControllerType() string {
	return "bootloader"
}

// WillMakeInactive implements hostport.Controller: the loader refuses to
// give up the port while an action is in flight.
func (l *Loader) WillMakeInactive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.IsBusy() {
		return fmt.Errorf("the loader is busy. %s", l.currentActivity())
	}
	return nil
}

// Restart toggles the reset line so the target reboots and eventually
// tries to run from its EEPROM. No boot ROM interaction takes place.
func (l *Loader) Restart() error {
	return l.startAction(ActionRestart, nil)
}

// Shutdown resets the target and commands the boot ROM to shut down.
func (l *Loader) Shutdown() error {
	return l.startAction(ActionShutdown, nil)
}

// LoadRAM resets the target and loads image into its RAM, where it runs.
func (l *Loader) LoadRAM(image []byte) error {
	return l.startAction(ActionLoadRAM, image)
}

// ProgramEEPROM resets the target and programs image into the external
// EEPROM. If runAfterwards is true the target runs the image when
// programming and verification succeed; otherwise it shuts down.
func (l *Loader) ProgramEEPROM(image []byte, runAfterwards bool) error {
	if runAfterwards {
		return l.startAction(ActionProgramEEPROMThenRun, image)
	}
	return l.startAction(ActionProgramEEPROMThenShutdown, image)
}

// IsBusy reports whether an action is in flight.
func (l *Loader) IsBusy() bool {
	return Action(l.action.Load()) != ActionNone
}

// Cancel requests cancellation of the in-flight action, if any. The
// action stops at its next checkpoint and finishes with ErrorCancelled.
// Cancel is safe to call from monitor callbacks and is a no-op when the
// loader is idle.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Setting the flag when idle is meaningless but not harmful; it is
	// cleared at the next admission.
	l.cancelled.Store(true)
}

// CancelAndWait cancels the in-flight action and waits for it to finish.
// A timeout of zero or less means wait indefinitely; otherwise a
// TimeoutError is returned if the action outlives the timeout (the
// action itself continues). Must not be called from a monitor callback.
func (l *Loader) CancelAndWait(timeout time.Duration) error {
	// Cancelling and capturing the wait handle happen under one lock so
	// the action being waited on is the one just cancelled.
	l.mu.Lock()
	if !l.IsBusy() {
		l.mu.Unlock()
		return nil
	}
	l.cancelled.Store(true)
	done := l.done
	l.mu.Unlock()
	return waitDone(done, timeout)
}

// WaitUntilFinished waits for the in-flight action to finish, if any.
// Timeout semantics match CancelAndWait. Must not be called from a
// monitor callback.
func (l *Loader) WaitUntilFinished(timeout time.Duration) error {
	l.mu.Lock()
	if !l.IsBusy() {
		l.mu.Unlock()
		return nil
	}
	done := l.done
	l.mu.Unlock()
	return waitDone(done, timeout)
}

func waitDone(done chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		<-done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return &TimeoutError{Timeout: timeout}
	}
}

// Baudrate returns the configured baudrate.
func (l *Loader) Baudrate() uint32 {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	return l.baudrate
}

// SetBaudrate sets the baudrate for future actions. Rates above
// MaxBaudrate are rejected.
func (l *Loader) SetBaudrate(baudrate uint32) error {
	if baudrate > MaxBaudrate {
		return fmt.Errorf("baudrate may not exceed %d", MaxBaudrate)
	}
	if baudrate == 0 {
		return fmt.Errorf("baudrate may not be zero")
	}
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	l.baudrate = baudrate
	return nil
}

// ResetLine returns the configured reset line.
func (l *Loader) ResetLine() ResetLine {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	return l.resetLine
}

// SetResetLine selects how future actions reset the target. With
// ResetLineCallback a reset callback must also be set.
func (l *Loader) SetResetLine(line ResetLine) error {
	if !line.valid() {
		return fmt.Errorf("invalid reset line value: %d", line)
	}
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	l.resetLine = line
	return nil
}

// ResetCallback returns the configured reset callback, or nil.
func (l *Loader) ResetCallback() ResetFunc {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	return l.resetCallback
}

// SetResetCallback sets the function used to reset the target when the
// reset line is ResetLineCallback.
func (l *Loader) SetResetCallback(fn ResetFunc) {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	l.resetCallback = fn
}

// ResetDuration returns the configured reset pulse duration.
func (l *Loader) ResetDuration() time.Duration {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	return l.resetDuration
}

// SetResetDuration sets how long the reset line is held. Valid range is
// 1 to 100 milliseconds.
func (l *Loader) SetResetDuration(d time.Duration) error {
	if d < time.Millisecond {
		return fmt.Errorf("reset duration may not be less than 1 ms")
	}
	if d > 100*time.Millisecond {
		return fmt.Errorf("reset duration may not be greater than 100 ms")
	}
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	l.resetDuration = d
	return nil
}

// BootWaitDuration returns the configured boot wait duration.
func (l *Loader) BootWaitDuration() time.Duration {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	return l.bootWaitDuration
}

// SetBootWaitDuration sets how long the loader waits after reset for the
// boot ROM to come up. Valid range is 50 to 150 milliseconds.
func (l *Loader) SetBootWaitDuration(d time.Duration) error {
	if d < 50*time.Millisecond {
		return fmt.Errorf("boot wait duration may not be less than 50 ms")
	}
	if d > 150*time.Millisecond {
		return fmt.Errorf("boot wait duration may not be greater than 150 ms")
	}
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	l.bootWaitDuration = d
	return nil
}

// StatusMonitor returns the configured monitor, or nil.
func (l *Loader) StatusMonitor() StatusMonitor {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	return l.monitor
}

// SetStatusMonitor sets the observer for future actions.
func (l *Loader) SetStatusMonitor(m StatusMonitor) {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	l.monitor = m
}

// snapshotSettings locks in the current settings for a starting action.
func (l *Loader) snapshotSettings() snapshot {
	l.settingsMu.Lock()
	defer l.settingsMu.Unlock()
	return snapshot{
		baudrate:         l.baudrate,
		resetLine:        l.resetLine,
		resetCallback:    l.resetCallback,
		resetDuration:    l.resetDuration,
		bootWaitDuration: l.bootWaitDuration,
		monitor:          l.monitor,
	}
}

// startAction validates, admits, and launches one action.
func (l *Loader) startAction(action Action, image []byte) error {
	if !action.valid() {
		return fmt.Errorf("invalid action specified (%d)", action)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.IsBusy() {
		return &BusyError{Activity: l.currentActivity()}
	}

	l.snap = l.snapshotSettings()

	prof := &profiler{}
	prof.start(action, l.snap.baudrate, l.snap.resetDuration, l.snap.bootWaitDuration)

	if action.RequiresImage() {
		prof.willStartEncodingImage(len(image))
		numLongs, encoded, err := verifyAndEncodeImage(image, l.encodedImage)
		if err != nil {
			return err
		}
		l.encodedImage = encoded
		l.imageLongs = numLongs
		prof.finishedEncodingImage(len(encoded))
	} else {
		l.encodedImage = l.encodedImage[:0]
		l.imageLongs = 0
	}

	// The action will proceed; no failures past this point. Marking the
	// loader busy before the worker touches the port means that once
	// the controller is made active it stays active until the action
	// finishes (see WillMakeInactive).
	l.counter++
	l.cancelled.Store(false)
	l.lastCheckpoint.Store("launching worker")
	l.action.Store(int32(action))
	l.done = make(chan struct{})

	l.log.V(1).Info("action starting", "action", action.String(), "counter", l.counter,
		"imageSize", len(image), "encodedSize", len(l.encodedImage))

	go l.actionWorker(action, prof, l.done)
	return nil
}

// verifyAndEncodeImage validates the image and encodes it in 3BP into
// buf's backing array, returning the number of longs and the encoded
// bytes.
func verifyAndEncodeImage(image, buf []byte) (int, []byte, error) {
	if len(image) < MinImageSize {
		return 0, nil, fmt.Errorf("image is too small to be valid")
	}
	if len(image) > MaxImageSize {
		return 0, nil, fmt.Errorf("image size (%d) exceeds the target's RAM size (%d)", len(image), MaxImageSize)
	}
	enc := threebit.NewEncoder(buf)
	numLongs := enc.EncodeBytesAsLongs(image)
	return numLongs, enc.Bytes(), nil
}

// currentActivity describes what the loader is doing, for error details.
func (l *Loader) currentActivity() string {
	action := Action(l.action.Load())
	if action == ActionNone {
		return "Loader is idle."
	}
	checkpoint, _ := l.lastCheckpoint.Load().(string)
	if checkpoint == "" {
		checkpoint = "unknown"
	}
	return fmt.Sprintf("Action: %s. Last checkpoint: %s.", action, checkpoint)
}

// LastCheckpoint returns a short description of the most recent
// checkpoint the worker passed. Useful in logs while an action runs.
func (l *Loader) LastCheckpoint() string {
	s, _ := l.lastCheckpoint.Load().(string)
	return s
}
