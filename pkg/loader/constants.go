// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package loader

import (
	"time"

	"github.com/kestrelworks/asyncloader/pkg/threebit"
)

// MaxBaudrate is the fastest baudrate the loader accepts. The boot ROM
// cannot reliably receive 3BP pulses above this rate.
const MaxBaudrate = threebit.MaxBaudrate

// Image size limits, in bytes. The upper bound is the target's hub RAM
// size.
const (
	MinImageSize = 1
	MaxImageSize = 32768
)

// worstCaseEncodedSize is the size of MaxImageSize bytes of encoded
// zeroes, the densest stream EncodeBytesAsLongs can produce. The encoded
// image buffer is grown to this capacity up front.
const worstCaseEncodedSize = 87382

// supportedChipVersion is the only chip version the loader knows how to
// drive.
const supportedChipVersion = 1

// Wire bytes exchanged with the boot ROM outside of 3BP-encoded payloads.
const (
	// initPromptByte clocks out target authentication and version bits
	// during the handshake.
	initPromptByte = 0xAD

	// statusPromptByte clocks out one status bit while waiting for
	// checksum or EEPROM results.
	statusPromptByte = 0x29

	// statusSuccessByte and statusFailureByte are the target's two
	// possible answers to a status prompt.
	statusSuccessByte = 0xFE
	statusFailureByte = 0xFF
)

// Timing constants for the action state machine.
const (
	// CancellationCheckInterval is approximately how often the worker
	// checks the cancellation flag during long sleeps and blocking port
	// calls. It doubles as the port read timeout; no write timeout is set
	// on the port.
	CancellationCheckInterval = 100 * time.Millisecond

	// InitBytesTimeout is the slack allowed past the InitBytes drain
	// time for the target's authentication and version bytes to arrive.
	InitBytesTimeout = 1000 * time.Millisecond

	// EarlyStage4Return is how far before the image drain time the
	// image-sending stage hands over to the checksum wait. The OS write
	// returns once bytes are buffered, not transmitted; starting the
	// status prompts too early would queue an excessive number of them
	// behind the image.
	EarlyStage4Return = 100 * time.Millisecond

	// StatusPromptInterval is the pause between status prompts. The
	// target aborts a serial load if it waits much more than 100 ms for
	// a prompt once it is ready to answer.
	StatusPromptInterval = 10 * time.Millisecond

	// ChecksumStatusTimeout bounds the wait for the RAM checksum status.
	ChecksumStatusTimeout = 1500 * time.Millisecond

	// EEPROMProgrammingStatusTimeout bounds the wait for the EEPROM
	// programming status.
	EEPROMProgrammingStatusTimeout = 6000 * time.Millisecond

	// EEPROMVerificationStatusTimeout bounds the wait for the EEPROM
	// verification status.
	EEPROMVerificationStatusTimeout = 2500 * time.Millisecond

	// MinResponsivenessTimeout is the floor for the write
	// responsiveness deadline.
	MinResponsivenessTimeout = 1000 * time.Millisecond
)

// ResponsivenessMultiplier scales a write's transit duration into its
// responsiveness deadline: if the port cannot keep pace with the baudrate
// by this margin, the write fails.
const ResponsivenessMultiplier = 1.5

// initBytes opens communications with the boot ROM: the two calibration
// pulses, the 250 encoded host authentication bits, and the transmission
// prompts that clock out the target's 250 authentication bits and 8
// version bits.
//
// This data must not be transmitted faster than MaxBaudrate.
var initBytes = []byte{
	0xF9, 0x4A, 0x25, 0xD5, 0x4A, 0xD5, 0x92, 0x95, 0x4A, 0x92, 0xD5, 0x92,
	0xCA, 0xCA, 0x4A, 0x95, 0xCA, 0xD2, 0x92, 0xA5, 0xA9, 0xC9, 0x4A, 0x49,
	0x49, 0x2A, 0x25, 0x49, 0xA5, 0x4A, 0xAA, 0x2A, 0xA9, 0xCA, 0xAA, 0x55,
	0x52, 0xAA, 0xA9, 0x29, 0x92, 0x92, 0x29, 0x25, 0x2A, 0xAA, 0x92, 0x92,
	0x55, 0xCA, 0x4A, 0xCA, 0xCA, 0x92, 0xCA, 0x92, 0x95, 0x55, 0xA9, 0x92,
	0x2A, 0xD2, 0x52, 0x92, 0x52, 0xCA, 0xD2, 0xCA, 0x2A, 0xFF, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,
	0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD,}

// targetAuthBytes is the encoded authentication response the target must
// return after initBytes. It is followed on the wire by four more bytes
// encoding the chip version.
var targetAuthBytes = []byte{
	0xEE, 0xCE, 0xCE, 0xCF, 0xEF, 0xCF, 0xEE, 0xEF, 0xCF, 0xCF, 0xEF, 0xEF,
	0xCF, 0xCE, 0xEF, 0xCF, 0xEE, 0xEE, 0xCE, 0xEE, 0xEF, 0xCF, 0xCE, 0xEE,
	0xCE, 0xCF, 0xEE, 0xEE, 0xEF, 0xCF, 0xEE, 0xCE, 0xEE, 0xCE, 0xEE, 0xCF,
	0xEF, 0xEE, 0xEF, 0xCE, 0xEE, 0xEE, 0xCF, 0xEE, 0xCF, 0xEE, 0xEE, 0xCF,
	0xEF, 0xCE, 0xCF, 0xEE, 0xEF, 0xEE, 0xEE, 0xEE, 0xEE, 0xEF, 0xEE, 0xCF,
	0xCF, 0xEF, 0xEE, 0xCE, 0xEF, 0xEF, 0xEF, 0xEF, 0xCE, 0xEF, 0xEE, 0xEF,
	0xCF, 0xEF, 0xCF, 0xCF, 0xCE, 0xCE, 0xCE, 0xCF, 0xCF, 0xEF, 0xCE, 0xEE,
	0xCF, 0xEE, 0xEF, 0xCE, 0xCE, 0xCE, 0xEF, 0xEF, 0xCF, 0xCF, 0xEE, 0xEE,
	0xEE, 0xCE, 0xCF, 0xCE, 0xCE, 0xCF, 0xCE, 0xEE, 0xEF, 0xEE, 0xEF, 0xEF,
	0xCF, 0xEF, 0xCE, 0xCE, 0xEF, 0xCE, 0xEE, 0xCE, 0xEF, 0xCE, 0xCE, 0xEE,
	0xCF, 0xCF, 0xCE, 0xCF, 0xCF,}

// Pre-encoded command longs, one per boot ROM command. Equivalent to
// encoding commandForAction with a threebit.Encoder; kept literal so the
// exact wire bytes are visible here.
var (
	encodedShutdown = []byte{0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0xF2}
	encodedLoadRAM  = []byte{0xC9, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0xF2}

	encodedProgramEEPROMThenShutdown = []byte{0xCA, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0xF2}
	encodedProgramEEPROMThenRun      = []byte{0x25, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0x92, 0xFE}
)
