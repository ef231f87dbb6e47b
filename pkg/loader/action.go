// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package loader

import (
	"bytes"
	"errors"
	"time"

	"github.com/kestrelworks/asyncloader/pkg/hostport"
	"github.com/kestrelworks/asyncloader/pkg/threebit"
)

// actionWorker runs one action to completion. Every failure path funnels
// into actionWillFinish so user code sees exactly one finish callback.
func (l *Loader) actionWorker(action Action, prof *profiler, done chan struct{}) {
	var aerr *ActionError

	func() {
		defer func() {
			if r := recover(); r != nil {
				aerr = actionErrorf(ErrorUnhandledPanic, "%s Panic: %v.", l.currentActivity(), r)
			}
		}()
		l.actionWillBegin(prof, action)
		if err := l.performAction(prof, action); err != nil {
			if !errors.As(err, &aerr) {
				// Worker errors should already be ActionErrors.
				aerr = actionErrorf(ErrorUnhandledPanic, "%s Error: %v.", l.currentActivity(), err)
			}
		}
	}()

	if aerr == nil {
		l.actionWillFinish(prof, ErrorNone, "", done)
	} else {
		l.actionWillFinish(prof, aerr.Code, aerr.Details, done)
	}
}

// actionWillBegin reports the begin callback. Taking callbackMu blocks
// this worker until the previous action's LoaderHasFinished has
// returned.
func (l *Loader) actionWillBegin(prof *profiler, action Action) {
	l.callbackMu.Lock()
	defer l.callbackMu.Unlock()
	if l.snap.monitor != nil {
		l.snap.monitor.LoaderWillBegin(l, action, prof.summary.TotalTime, prof.estimatedTotalTime())
	}
}

// actionWillFinish closes the profiler, releases the loader, and reports
// the finish callback. callbackMu is held over both so LoaderWillBegin
// of the next action cannot run until LoaderHasFinished returns.
func (l *Loader) actionWillFinish(prof *profiler, code ErrorCode, details string, done chan struct{}) {
	if code == ErrorNone {
		prof.endOK()
		l.log.V(1).Info("action finished", "action", prof.summary.Action.String(),
			"totalSeconds", prof.summary.TotalTime)
	} else {
		prof.endWithError(code)
		l.log.Error(&ActionError{Code: code, Details: details}, "action failed",
			"action", prof.summary.Action.String())
	}

	// A new action may begin the moment the loader is released, so copy
	// what the callback needs first.
	monitor := l.snap.monitor
	summary := prof.summary

	l.callbackMu.Lock()
	defer l.callbackMu.Unlock()

	l.finishAction(done)

	if monitor != nil {
		monitor.LoaderHasFinished(l, code, details, summary)
	}
}

// finishAction releases the loader and unblocks waiters.
func (l *Loader) finishAction(done chan struct{}) {
	l.mu.Lock()
	l.lastCheckpoint.Store("finished")
	l.action.Store(int32(ActionNone))
	l.mu.Unlock()
	close(done)
}

// performAction drives the stages of one action. A nil return means
// success; failures are ActionErrors.
func (l *Loader) performAction(prof *profiler, action Action) error {
	// Stage 1: preparation.
	if err := l.stage1Preparation(prof); err != nil {
		return err
	}

	// Stage 2: reset and boot wait.
	l.reportUpdate(prof, StatusResetting)
	if err := l.stage2aReset(prof); err != nil {
		return err
	}
	if action == ActionRestart {
		return nil
	}
	if err := l.stage2bWaitAfterReset(prof); err != nil {
		return err
	}

	// Stage 3: establish communications.
	l.reportUpdate(prof, StatusEstablishingCommunications)
	if err := l.stage3EstablishComms(prof); err != nil {
		return err
	}

	// Stage 4: send command and image.
	l.reportUpdate(prof, StatusSendingCommandAndImage)
	if err := l.stage4aSendCommand(prof, action); err != nil {
		return err
	}
	if action == ActionShutdown {
		return nil
	}
	if err := l.stage4bSendImage(prof); err != nil {
		return err
	}

	// Stage 5: wait for checksum status.
	l.reportUpdate(prof, StatusWaitingForChecksumStatus)
	if err := l.stage5WaitForChecksumStatus(prof); err != nil {
		return err
	}
	if action == ActionLoadRAM {
		return nil
	}

	// Stage 6: wait for EEPROM programming status.
	l.reportUpdate(prof, StatusWaitingForEEPROMProgrammingStatus)
	if err := l.stage6WaitForEEPROMProgrammingStatus(prof); err != nil {
		return err
	}

	// Stage 7: wait for EEPROM verification status.
	l.reportUpdate(prof, StatusWaitingForEEPROMVerificationStatus)
	return l.stage7WaitForEEPROMVerificationStatus(prof)
}

func (l *Loader) stage1Preparation(prof *profiler) error {
	if err := l.checkpoint("obtaining serial port access"); err != nil {
		return err
	}
	if err := l.shared.MakeActive(l); err != nil {
		return actionErrorf(ErrorFailedToObtainPortAccess, "%v", err)
	}

	if err := l.checkpoint("opening port"); err != nil {
		return err
	}
	port := l.shared.Port()
	if err := port.Open(); err != nil {
		return actionErrorf(ErrorFailedToOpenPort, "%v", err)
	}

	if err := l.checkpoint("flushing output buffer"); err != nil {
		return err
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return actionErrorf(ErrorFailedToFlushOutput, "%v", err)
	}

	if err := l.checkpoint("updating port settings"); err != nil {
		return err
	}
	if err := port.SetBaudrate(int(l.snap.baudrate)); err != nil {
		return actionErrorf(ErrorFailedToSetBaudrate, "%v", err)
	}
	if err := port.SetReadTimeout(CancellationCheckInterval); err != nil {
		return actionErrorf(ErrorFailedToSetTimeout, "%v", err)
	}
	if err := port.SetBytesize(8); err != nil {
		return actionErrorf(ErrorFailedToSetBytesize, "%v", err)
	}
	if err := port.SetParity(hostport.NoParity); err != nil {
		return actionErrorf(ErrorFailedToSetParity, "%v", err)
	}
	if err := port.SetStopbits(hostport.OneStopBit); err != nil {
		return actionErrorf(ErrorFailedToSetStopbits, "%v", err)
	}
	if err := port.SetFlowcontrol(hostport.NoFlowControl); err != nil {
		return actionErrorf(ErrorFailedToSetFlowcontrol, "%v", err)
	}

	prof.endStage1()
	return nil
}

func (l *Loader) stage2aReset(prof *profiler) error {
	if err := l.checkpoint("resetting the target"); err != nil {
		return err
	}
	if err := l.doReset(); err != nil {
		return err
	}
	prof.endStage2a()
	return nil
}

func (l *Loader) stage2bWaitAfterReset(prof *profiler) error {
	if err := l.checkpoint("waiting for target to boot up"); err != nil {
		return err
	}

	// The maximum boot wait is around 150 ms, so this sleep is not
	// broken into cancellation-check chunks.
	time.Sleep(l.snap.bootWaitDuration)

	if err := l.checkpoint("flushing input buffer"); err != nil {
		return err
	}
	if err := l.shared.Port().ResetInputBuffer(); err != nil {
		return actionErrorf(ErrorFailedToFlushInput, "%v", err)
	}

	prof.endStage2b()
	return nil
}

func (l *Loader) stage3EstablishComms(prof *profiler) error {
	if err := l.checkpoint("sending initial bytes"); err != nil {
		return err
	}

	// Calibration, host auth, and the prompts that clock out the
	// target's auth and chip version.
	drain, err := l.sendBytes(initBytes, ErrorFailedToSendInitialBytes)
	if err != nil {
		return err
	}

	if err := l.checkpoint("authenticating target"); err != nil {
		return err
	}

	// The auth bytes and version should be available right after the
	// drain time for initBytes, plus some margin.
	deadline := drain.Add(InitBytesTimeout)

	auth, err := l.receiveBytes(len(targetAuthBytes), deadline, ErrorFailedToReceiveTargetAuthentication)
	if err != nil {
		return err
	}
	if !bytes.Equal(auth, targetAuthBytes) {
		return actionErrorf(ErrorFailedToAuthenticateTarget, "unexpected bytes received from target")
	}

	if err := l.checkpoint("verifying target chip version"); err != nil {
		return err
	}

	raw, err := l.receiveBytes(4, deadline, ErrorFailedToReceiveChipVersion)
	if err != nil {
		return err
	}
	version, err := threebit.DecodeByte(bytes.NewReader(raw))
	if err != nil {
		return actionErrorf(ErrorFailedToDecodeChipVersion, "%v", err)
	}
	if version != supportedChipVersion {
		return actionErrorf(ErrorUnsupportedChipVersion, "unrecognized chip version: %d", version)
	}

	prof.endStage3()
	return nil
}

func (l *Loader) stage4aSendCommand(prof *profiler, action Action) error {
	if err := l.checkpoint("sending command"); err != nil {
		return err
	}

	encodedCommand := encodedCommandForAction(action)
	if encodedCommand == nil {
		// Program logic prevents commandless actions reaching here.
		return actionErrorf(ErrorFailedToSendCommand, "the action %s is invalid at this stage", action)
	}

	// Sending for stage 4 starts with this call; the drain time is
	// recorded here and advanced as further bytes are sent.
	drain, err := l.sendBytes(encodedCommand, ErrorFailedToSendCommand)
	if err != nil {
		return err
	}
	l.stage4Drain = drain

	prof.endStage4a()
	return nil
}

func (l *Loader) stage4bSendImage(prof *profiler) error {
	if err := l.checkpoint("sending image size"); err != nil {
		return err
	}

	enc := threebit.NewEncoder(l.scratch)
	enc.EncodeLong(uint32(l.imageLongs))
	l.scratch = enc.Bytes()

	if _, err := l.sendBytes(l.scratch, ErrorFailedToSendImageSize); err != nil {
		return err
	}

	if err := l.checkpoint("sending image"); err != nil {
		return err
	}
	if _, err := l.sendBytes(l.encodedImage, ErrorFailedToSendImage); err != nil {
		return err
	}

	// stage4Drain was recorded when the command was sent; add the
	// transit of the image size and the image to get the true drain
	// time for everything buffered this stage.
	l.stage4Drain = l.stage4Drain.Add(l.transitDuration(len(l.scratch) + len(l.encodedImage)))

	// Hold here until most of the image has left the wire. Advancing
	// too early would buffer an excessive number of status prompts.
	if err := l.waitUntil(l.stage4Drain.Add(-EarlyStage4Return)); err != nil {
		return err
	}

	prof.endStage4b()
	return nil
}

func (l *Loader) stage5WaitForChecksumStatus(prof *profiler) error {
	if err := l.checkpoint("waiting for checksum status"); err != nil {
		return err
	}
	failed, err := l.receiveStatus(ChecksumStatusTimeout, ErrorFailedToReceiveChecksumStatus)
	if err != nil {
		return err
	}

	if err := l.checkpoint("checking checksum status"); err != nil {
		return err
	}
	if failed {
		return actionErrorf(ErrorTargetReportsChecksumError, "data may have been corrupted in transmission")
	}

	prof.endStage5()
	return nil
}

func (l *Loader) stage6WaitForEEPROMProgrammingStatus(prof *profiler) error {
	if err := l.checkpoint("waiting for EEPROM programming status"); err != nil {
		return err
	}
	failed, err := l.receiveStatus(EEPROMProgrammingStatusTimeout, ErrorFailedToReceiveEEPROMProgrammingStatus)
	if err != nil {
		return err
	}

	if err := l.checkpoint("checking EEPROM programming status"); err != nil {
		return err
	}
	if failed {
		return actionErrorf(ErrorTargetReportsEEPROMProgrammingError, "EEPROM may be absent or incorrectly connected")
	}

	prof.endStage6()
	return nil
}

func (l *Loader) stage7WaitForEEPROMVerificationStatus(prof *profiler) error {
	if err := l.checkpoint("waiting for EEPROM verification status"); err != nil {
		return err
	}
	failed, err := l.receiveStatus(EEPROMVerificationStatusTimeout, ErrorFailedToReceiveEEPROMVerificationStatus)
	if err != nil {
		return err
	}

	if err := l.checkpoint("checking EEPROM verification status"); err != nil {
		return err
	}
	if failed {
		return actionErrorf(ErrorTargetReportsEEPROMVerificationError, "EEPROM may be read-only or malfunctioning")
	}

	if err := l.checkpoint("finishing up"); err != nil {
		return err
	}

	prof.endStage7()
	return nil
}

// doReset toggles the configured reset line, or defers to the user's
// callback.
func (l *Loader) doReset() error {
	port := l.shared.Port()
	switch l.snap.resetLine {
	case ResetLineDTR:
		if err := port.SetDTR(true); err != nil {
			return actionErrorf(ErrorFailedToReset, "%v", err)
		}
		time.Sleep(l.snap.resetDuration)
		if err := port.SetDTR(false); err != nil {
			return actionErrorf(ErrorFailedToReset, "%v", err)
		}
	case ResetLineRTS:
		if err := port.SetRTS(true); err != nil {
			return actionErrorf(ErrorFailedToReset, "%v", err)
		}
		time.Sleep(l.snap.resetDuration)
		if err := port.SetRTS(false); err != nil {
			return actionErrorf(ErrorFailedToReset, "%v", err)
		}
	case ResetLineCallback:
		if l.snap.resetCallback == nil {
			return actionErrorf(ErrorFailedToReset, "reset callback option selected, but no callback provided")
		}
		if err := l.callResetCallback(); err != nil {
			return err
		}
	default:
		return actionErrorf(ErrorFailedToReset, "invalid reset line specified (%d)", l.snap.resetLine)
	}
	return nil
}

// callResetCallback invokes the user reset function, capturing panics so
// they abort only the action.
func (l *Loader) callResetCallback() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = actionErrorf(ErrorFailedToReset, "reset callback panicked: %v", r)
		}
	}()
	if cbErr := l.snap.resetCallback(l.snap.resetDuration); cbErr != nil {
		return actionErrorf(ErrorFailedToReset, "%v", cbErr)
	}
	return nil
}

// sendBytes writes data in a loop, checking cancellation between writes
// and enforcing a responsiveness deadline. It returns the drain time:
// when the last byte will have left the wire assuming immediate,
// uninterrupted transmission.
func (l *Loader) sendBytes(data []byte, potentialError ErrorCode) (time.Time, error) {
	if len(data) == 0 {
		return time.Time{}, actionErrorf(potentialError, "BUG: sendBytes called with no data")
	}

	transit := l.transitDuration(len(data))
	now := time.Now()
	drain := now.Add(transit)
	respDeadline := now.Add(l.responsivenessTimeout(transit))

	sent := 0
	port := l.shared.Port()
	for {
		if err := l.throwIfCancelled(); err != nil {
			return drain, err
		}

		n, err := port.Write(data[sent:])
		if err != nil {
			return drain, actionErrorf(potentialError, "writing to the port failed: %v", err)
		}
		sent += n

		if sent >= len(data) {
			return drain, nil
		}
		if time.Now().After(respDeadline) {
			return drain, actionErrorf(potentialError, "the port was unresponsive")
		}
	}
}

// receiveBytes reads exactly count bytes into the loader's scratch
// buffer, looping on the port's read timeout until the deadline passes.
// The returned slice is valid until the next receiveBytes call.
func (l *Loader) receiveBytes(count int, deadline time.Time, potentialError ErrorCode) ([]byte, error) {
	if count == 0 {
		return nil, actionErrorf(potentialError, "BUG: receiveBytes called with zero count")
	}

	if cap(l.scratch) < count {
		l.scratch = make([]byte, count)
	}
	l.scratch = l.scratch[:count]

	received := 0
	port := l.shared.Port()
	for {
		if err := l.throwIfCancelled(); err != nil {
			return nil, err
		}

		n, err := port.Read(l.scratch[received:])
		if err != nil {
			return nil, actionErrorf(potentialError, "reading from the port failed: %v", err)
		}
		received += n

		if received >= count {
			return l.scratch, nil
		}

		// This check runs no more often than the port read timeout, so
		// the deadline may be overshot by about that much.
		if time.Now().After(deadline) {
			return nil, actionErrorf(potentialError, "timeout occurred")
		}
	}
}

// receiveStatus prompts the target for a status byte until one arrives
// or the stage timeout passes. It returns true if the target reported
// failure, false on success.
//
// Extra-byte policy: exactly one byte is read per poll; any value other
// than the two status bytes is an error carrying the raw value, and
// anything the target sends beyond the first status byte is ignored.
func (l *Loader) receiveStatus(timeout time.Duration, potentialError ErrorCode) (bool, error) {
	deadline := time.Now().Add(timeout)
	port := l.shared.Port()
	prompt := [1]byte{statusPromptByte}
	var status [1]byte

	for {
		if err := l.throwIfCancelled(); err != nil {
			return false, err
		}

		if _, err := port.Write(prompt[:]); err != nil {
			return false, actionErrorf(potentialError, "writing to the port failed: %v", err)
		}

		time.Sleep(StatusPromptInterval)

		numAvailable, err := port.Available()
		if err != nil {
			return false, actionErrorf(potentialError, "getting available bytes failed: %v", err)
		}

		if numAvailable > 0 {
			n, err := port.Read(status[:])
			if err != nil {
				return false, actionErrorf(potentialError, "reading from the port failed: %v", err)
			}
			if n != 1 {
				// The read presumably hit its timeout, and by then the
				// target may have rebooted already.
				return false, actionErrorf(potentialError, "port reported bytes available but returned none")
			}
			switch status[0] {
			case statusFailureByte:
				return true, nil
			case statusSuccessByte:
				return false, nil
			default:
				return false, actionErrorf(potentialError, "received unexpected byte: 0x%02X", status[0])
			}
		}

		if time.Now().After(deadline) {
			return false, actionErrorf(potentialError, "timeout occurred")
		}
	}
}

// reportUpdate delivers a status update to the monitor, if one is set.
func (l *Loader) reportUpdate(prof *profiler, status Status) {
	l.log.V(1).Info("status", "status", status.String())
	if l.snap.monitor != nil {
		l.snap.monitor.LoaderUpdate(l, status, prof.summary.TotalTime, prof.estimatedTotalTime())
	}
}

// checkpoint aborts if cancellation was requested, and otherwise records
// the description for error details and logs.
func (l *Loader) checkpoint(description string) error {
	if err := l.throwIfCancelled(); err != nil {
		return err
	}
	l.lastCheckpoint.Store(description)
	return nil
}

func (l *Loader) throwIfCancelled() error {
	if l.cancelled.Load() {
		return &ActionError{Code: ErrorCancelled, Details: l.currentActivity()}
	}
	return nil
}

// waitUntil sleeps until the given time, in cancellation-check chunks.
func (l *Loader) waitUntil(t time.Time) error {
	for {
		remaining := time.Until(t)
		if remaining <= 0 {
			return nil
		}

		if err := l.throwIfCancelled(); err != nil {
			return err
		}

		if remaining < CancellationCheckInterval {
			time.Sleep(remaining)
			return l.throwIfCancelled()
		}
		time.Sleep(CancellationCheckInterval)
	}
}

// transitDuration is how long numBytes take to cross the wire at the
// action's baudrate, one start bit, eight data bits, and one stop bit
// per byte. Never less than a microsecond.
func (l *Loader) transitDuration(numBytes int) time.Duration {
	d := time.Duration(float64(numBytes) * 10 / float64(l.snap.baudrate) * float64(time.Second))
	if d < time.Microsecond {
		d = time.Microsecond
	}
	return d
}

// responsivenessTimeout converts a transit duration into the deadline by
// which the port must have accepted a write.
func (l *Loader) responsivenessTimeout(transit time.Duration) time.Duration {
	d := time.Duration(ResponsivenessMultiplier * float64(transit))
	if d < MinResponsivenessTimeout {
		d = MinResponsivenessTimeout
	}
	return d
}
