// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package hostport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialPort implements Port on top of a local serial device.
type SerialPort struct {
	name        string
	port        serial.Port
	mode        serial.Mode
	readTimeout time.Duration
	pending     []byte
}

// NewSerialPort creates a closed SerialPort for the named device
// (e.g. "/dev/ttyUSB0" or "COM3"). The port defaults to 115200 8-N-1.
func NewSerialPort(name string) *SerialPort {
	return &SerialPort{
		name: name,
		mode: serial.Mode{
			BaudRate: 115200,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		readTimeout: serial.NoTimeout,
	}
}

// ListPorts returns the serial port device names present on this system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (s *SerialPort) Name() string {
	return s.name
}

func (s *SerialPort) Open() error {
	if s.port != nil {
		return nil
	}
	port, err := serial.Open(s.name, &s.mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.name, err)
	}
	s.port = port
	s.pending = nil
	if s.readTimeout != serial.NoTimeout {
		if err := port.SetReadTimeout(s.readTimeout); err != nil {
			port.Close()
			s.port = nil
			return fmt.Errorf("failed to apply read timeout on %s: %w", s.name, err)
		}
	}
	return nil
}

func (s *SerialPort) IsOpen() bool {
	return s.port != nil
}

func (s *SerialPort) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.pending = nil
	return err
}

// applyMode pushes the cached mode to an open port. Mode changes on a
// closed port take effect at Open.
func (s *SerialPort) applyMode() error {
	if s.port == nil {
		return nil
	}
	return s.port.SetMode(&s.mode)
}

func (s *SerialPort) SetBaudrate(baud int) error {
	s.mode.BaudRate = baud
	return s.applyMode()
}

func (s *SerialPort) SetReadTimeout(d time.Duration) error {
	s.readTimeout = d
	if s.port == nil {
		return nil
	}
	return s.port.SetReadTimeout(d)
}

func (s *SerialPort) SetBytesize(databits int) error {
	s.mode.DataBits = databits
	return s.applyMode()
}

func (s *SerialPort) SetParity(parity Parity) error {
	switch parity {
	case NoParity:
		s.mode.Parity = serial.NoParity
	case OddParity:
		s.mode.Parity = serial.OddParity
	case EvenParity:
		s.mode.Parity = serial.EvenParity
	default:
		return fmt.Errorf("invalid parity value: %d", parity)
	}
	return s.applyMode()
}

func (s *SerialPort) SetStopbits(stopbits StopBits) error {
	switch stopbits {
	case OneStopBit:
		s.mode.StopBits = serial.OneStopBit
	case TwoStopBits:
		s.mode.StopBits = serial.TwoStopBits
	default:
		return fmt.Errorf("invalid stop bits value: %d", stopbits)
	}
	return s.applyMode()
}

func (s *SerialPort) SetFlowcontrol(flow FlowControl) error {
	// go.bug.st/serial opens ports without flow control; hardware flow
	// control is not offered through its Mode.
	if flow != NoFlowControl {
		return fmt.Errorf("unsupported flow control value: %d", flow)
	}
	return nil
}

func (s *SerialPort) Read(p []byte) (int, error) {
	if s.port == nil {
		return 0, fmt.Errorf("port %s is not open", s.name)
	}
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	return s.port.Read(p)
}

func (s *SerialPort) Write(p []byte) (int, error) {
	if s.port == nil {
		return 0, fmt.Errorf("port %s is not open", s.name)
	}
	return s.port.Write(p)
}

func (s *SerialPort) ResetInputBuffer() error {
	if s.port == nil {
		return fmt.Errorf("port %s is not open", s.name)
	}
	s.pending = nil
	return s.port.ResetInputBuffer()
}

func (s *SerialPort) ResetOutputBuffer() error {
	if s.port == nil {
		return fmt.Errorf("port %s is not open", s.name)
	}
	return s.port.ResetOutputBuffer()
}

// Available drains whatever the driver has buffered into an internal
// pending buffer using a non-blocking read, then reports its size. The
// serial stack has no portable byte-count query, so this is how we ask
// "is there anything to read" without blocking.
func (s *SerialPort) Available() (int, error) {
	if s.port == nil {
		return 0, fmt.Errorf("port %s is not open", s.name)
	}
	if len(s.pending) > 0 {
		return len(s.pending), nil
	}
	if err := s.port.SetReadTimeout(0); err != nil {
		return 0, err
	}
	var buf [64]byte
	n, err := s.port.Read(buf[:])
	if terr := s.port.SetReadTimeout(s.readTimeout); terr != nil && err == nil {
		err = terr
	}
	if n > 0 {
		s.pending = append(s.pending, buf[:n]...)
	}
	if err != nil {
		return len(s.pending), err
	}
	return len(s.pending), nil
}

func (s *SerialPort) SetDTR(asserted bool) error {
	if s.port == nil {
		return fmt.Errorf("port %s is not open", s.name)
	}
	return s.port.SetDTR(asserted)
}

func (s *SerialPort) SetRTS(asserted bool) error {
	if s.port == nil {
		return fmt.Errorf("port %s is not open", s.name)
	}
	return s.port.SetRTS(asserted)
}
