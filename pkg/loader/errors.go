// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package loader

import (
	"fmt"
	"time"
)

// ErrorCode identifies the primary reason an action failed. One code per
// failure site; the accompanying detail string carries the specifics.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorCancelled

	// Stage 1: preparation.
	ErrorFailedToObtainPortAccess // another controller holds the port and refuses to release it
	ErrorFailedToOpenPort
	ErrorFailedToFlushOutput
	ErrorFailedToSetBaudrate
	ErrorFailedToSetTimeout // the port's read timeout
	ErrorFailedToSetBytesize
	ErrorFailedToSetParity
	ErrorFailedToSetStopbits
	ErrorFailedToSetFlowcontrol

	// Stage 2: reset and boot wait.
	ErrorFailedToReset
	ErrorFailedToFlushInput

	// Stage 3: establishing communications.
	ErrorFailedToSendInitialBytes
	ErrorFailedToReceiveTargetAuthentication // the authentication data was not received
	ErrorFailedToAuthenticateTarget          // the authentication data was received but was not correct
	ErrorFailedToReceiveChipVersion
	ErrorFailedToDecodeChipVersion // the chip version was received but was not valid 3BP
	ErrorUnsupportedChipVersion

	// Stage 4: command and image.
	ErrorFailedToSendCommand
	ErrorFailedToEncodeImageSize
	ErrorFailedToSendImageSize
	ErrorFailedToSendImage

	// Stages 5-7: status waits.
	ErrorFailedToSendStatusPrompt
	ErrorFailedToReceiveChecksumStatus
	ErrorTargetReportsChecksumError
	ErrorFailedToReceiveEEPROMProgrammingStatus
	ErrorTargetReportsEEPROMProgrammingError
	ErrorFailedToReceiveEEPROMVerificationStatus
	ErrorTargetReportsEEPROMVerificationError

	// ErrorUnhandledPanic indicates a bug in the loader itself.
	ErrorUnhandledPanic
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorCancelled:
		return "cancelled"
	case ErrorFailedToObtainPortAccess:
		return "failed to obtain port access"
	case ErrorFailedToOpenPort:
		return "failed to open port"
	case ErrorFailedToFlushOutput:
		return "failed to flush output"
	case ErrorFailedToSetBaudrate:
		return "failed to set baudrate"
	case ErrorFailedToSetTimeout:
		return "failed to set timeout"
	case ErrorFailedToSetBytesize:
		return "failed to set bytesize"
	case ErrorFailedToSetParity:
		return "failed to set parity"
	case ErrorFailedToSetStopbits:
		return "failed to set stopbits"
	case ErrorFailedToSetFlowcontrol:
		return "failed to set flowcontrol"
	case ErrorFailedToReset:
		return "failed to reset"
	case ErrorFailedToFlushInput:
		return "failed to flush input"
	case ErrorFailedToSendInitialBytes:
		return "failed to send initial bytes"
	case ErrorFailedToReceiveTargetAuthentication:
		return "failed to receive target authentication"
	case ErrorFailedToAuthenticateTarget:
		return "failed to authenticate target"
	case ErrorFailedToReceiveChipVersion:
		return "failed to receive chip version"
	case ErrorFailedToDecodeChipVersion:
		return "failed to decode chip version"
	case ErrorUnsupportedChipVersion:
		return "unsupported chip version"
	case ErrorFailedToSendCommand:
		return "failed to send command"
	case ErrorFailedToEncodeImageSize:
		return "failed to encode image size"
	case ErrorFailedToSendImageSize:
		return "failed to send image size"
	case ErrorFailedToSendImage:
		return "failed to send image"
	case ErrorFailedToSendStatusPrompt:
		return "failed to send status prompt"
	case ErrorFailedToReceiveChecksumStatus:
		return "failed to receive checksum status"
	case ErrorTargetReportsChecksumError:
		return "target reports checksum error"
	case ErrorFailedToReceiveEEPROMProgrammingStatus:
		return "failed to receive EEPROM programming status"
	case ErrorTargetReportsEEPROMProgrammingError:
		return "target reports EEPROM programming error"
	case ErrorFailedToReceiveEEPROMVerificationStatus:
		return "failed to receive EEPROM verification status"
	case ErrorTargetReportsEEPROMVerificationError:
		return "target reports EEPROM verification error"
	case ErrorUnhandledPanic:
		return "BUG: unhandled panic"
	default:
		return "unknown"
	}
}

// ActionError aborts an action on the worker goroutine. It reaches user
// code as the code and details arguments of LoaderHasFinished.
type ActionError struct {
	Code    ErrorCode
	Details string
}

func (e *ActionError) Error() string {
	if e.Details == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Details)
}

// actionErrorf builds an ActionError with a formatted detail string.
func actionErrorf(code ErrorCode, format string, args ...interface{}) *ActionError {
	return &ActionError{Code: code, Details: fmt.Sprintf(format, args...)}
}

// BusyError is returned synchronously when an action is requested while
// another is in flight.
type BusyError struct {
	// Activity describes what the loader was doing at the time.
	Activity string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("the loader is busy. %s", e.Activity)
}

// TimeoutError is returned by WaitUntilFinished and CancelAndWait when
// the action does not finish within the caller's timeout. The action
// itself continues.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout occurred after %s while waiting for the action to finish", e.Timeout)
}
