// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package hostport

import (
	"fmt"
	"sync"
)

// Controller is anything that wants exclusive use of a shared port.
// Controllers are asked before losing that exclusivity and may refuse.
type Controller interface {
	// ControllerType names the controller kind, for error messages.
	ControllerType() string

	// WillMakeInactive is called before the controller loses active
	// status. Returning an error vetoes the transition; the controller
	// stays active and the caller's MakeActive fails.
	WillMakeInactive() error
}

// SharedPort wraps one Port so that several controllers can take turns
// using it. At most one controller is active at a time; only the active
// controller should touch the Port.
//
// SharedPort methods are safe for concurrent use.
type SharedPort struct {
	port Port

	mu     sync.Mutex
	active Controller
}

// NewSharedPort wraps port for shared access.
func NewSharedPort(port Port) *SharedPort {
	return &SharedPort{port: port}
}

// OpenShared creates a shared port over the named local serial device.
// The device is not opened until the active controller opens it.
func OpenShared(deviceName string) *SharedPort {
	return NewSharedPort(NewSerialPort(deviceName))
}

// Port returns the underlying port. Callers must hold active status while
// using it.
func (s *SharedPort) Port() Port {
	return s.port
}

// Name returns the underlying device name.
func (s *SharedPort) Name() string {
	return s.port.Name()
}

// MakeActive gives c exclusive use of the port. If another controller is
// active it is first asked to stand down via WillMakeInactive; a veto
// fails the transition and the incumbent stays active.
func (s *SharedPort) MakeActive(c Controller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == c {
		return nil
	}
	if s.active != nil {
		if err := s.active.WillMakeInactive(); err != nil {
			return fmt.Errorf("controller %q refuses to release port %s: %w",
				s.active.ControllerType(), s.port.Name(), err)
		}
	}
	s.active = c
	return nil
}

// IsActive reports whether c currently has exclusive use of the port.
func (s *SharedPort) IsActive(c Controller) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == c
}

// Detach removes c from the shared port without asking it. Controllers
// call this on teardown, after finishing any in-flight work. Detaching a
// controller that is not active is a no-op.
func (s *SharedPort) Detach(c Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == c {
		s.active = nil
	}
}
