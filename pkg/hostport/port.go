// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

// Package hostport provides the serial port contract driven by the loader,
// a go.bug.st/serial backed implementation, a WebSocket-bridged remote
// implementation, and arbitration that lets several controllers share one
// physical port.
package hostport

import "time"

// Parity settings for a port.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits settings for a port.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// FlowControl settings for a port.
type FlowControl int

const (
	NoFlowControl FlowControl = iota
	HardwareFlowControl
)

// Port is the contract the loader drives. Implementations are not required
// to be safe for concurrent use; the loader serializes all calls on its
// worker goroutine.
//
// The setters are granular so a caller can attribute a configuration
// failure to the specific parameter that could not be applied.
type Port interface {
	// Name identifies the underlying device, for error messages.
	Name() string

	// Open opens the port if it is closed. Opening an open port is a
	// no-op.
	Open() error

	// IsOpen reports whether the port is open.
	IsOpen() bool

	// Close closes the port. Closing a closed port is a no-op.
	Close() error

	// SetBaudrate applies a new baudrate.
	SetBaudrate(baud int) error

	// SetReadTimeout bounds how long a single Read call may block when no
	// data is available.
	SetReadTimeout(d time.Duration) error

	// SetBytesize sets the number of data bits per character.
	SetBytesize(databits int) error

	// SetParity sets the parity mode.
	SetParity(parity Parity) error

	// SetStopbits sets the number of stop bits.
	SetStopbits(stopbits StopBits) error

	// SetFlowcontrol sets the flow control mode.
	SetFlowcontrol(flow FlowControl) error

	// Read reads available bytes into p. It returns 0, nil when the read
	// timeout expires with nothing received.
	Read(p []byte) (int, error)

	// Write writes bytes from p, returning the number accepted by the
	// driver. Bytes may still be in transit when Write returns.
	Write(p []byte) (int, error)

	// ResetInputBuffer discards unread received bytes.
	ResetInputBuffer() error

	// ResetOutputBuffer discards buffered bytes not yet transmitted.
	ResetOutputBuffer() error

	// Available reports the number of received bytes that can be read
	// without blocking.
	Available() (int, error)

	// SetDTR drives the DTR control line.
	SetDTR(asserted bool) error

	// SetRTS drives the RTS control line.
	SetRTS(asserted bool) error
}
