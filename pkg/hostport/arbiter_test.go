// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package hostport

import (
	"errors"
	"testing"
	"time"
)

// fakeController vetoes inactivation while busy is set.
type fakeController struct {
	name string
	busy bool
}

func (c *fakeController) ControllerType() string { return c.name }

func (c *fakeController) WillMakeInactive() error {
	if c.busy {
		return errors.New("controller is busy")
	}
	return nil
}

// nullPort is the minimal Port for arbitration tests.
type nullPort struct{}

func (nullPort) Name() string                        { return "null" }
func (nullPort) Open() error                         { return nil }
func (nullPort) IsOpen() bool                        { return false }
func (nullPort) Close() error                        { return nil }
func (nullPort) SetBaudrate(int) error               { return nil }
func (nullPort) SetReadTimeout(time.Duration) error  { return nil }
func (nullPort) SetBytesize(int) error               { return nil }
func (nullPort) SetParity(Parity) error              { return nil }
func (nullPort) SetStopbits(StopBits) error          { return nil }
func (nullPort) SetFlowcontrol(FlowControl) error    { return nil }
func (nullPort) Read([]byte) (int, error)            { return 0, nil }
func (nullPort) Write(p []byte) (int, error)         { return len(p), nil }
func (nullPort) ResetInputBuffer() error             { return nil }
func (nullPort) ResetOutputBuffer() error            { return nil }
func (nullPort) Available() (int, error)             { return 0, nil }
func (nullPort) SetDTR(bool) error                   { return nil }
func (nullPort) SetRTS(bool) error                   { return nil }

func TestSharedPort_MakeActive(t *testing.T) {
	shared := NewSharedPort(nullPort{})
	a := &fakeController{name: "a"}
	b := &fakeController{name: "b"}

	if err := shared.MakeActive(a); err != nil {
		t.Fatalf("MakeActive(a): %v", err)
	}
	if !shared.IsActive(a) {
		t.Error("a should be active")
	}

	// Idempotent for the incumbent.
	if err := shared.MakeActive(a); err != nil {
		t.Fatalf("MakeActive(a) again: %v", err)
	}

	// An idle incumbent yields.
	if err := shared.MakeActive(b); err != nil {
		t.Fatalf("MakeActive(b): %v", err)
	}
	if shared.IsActive(a) || !shared.IsActive(b) {
		t.Error("b should have taken over from a")
	}
}

func TestSharedPort_BusyControllerRefuses(t *testing.T) {
	shared := NewSharedPort(nullPort{})
	a := &fakeController{name: "a", busy: true}
	b := &fakeController{name: "b"}

	if err := shared.MakeActive(a); err != nil {
		t.Fatalf("MakeActive(a): %v", err)
	}
	if err := shared.MakeActive(b); err == nil {
		t.Fatal("MakeActive(b) should fail while a is busy")
	}
	if !shared.IsActive(a) {
		t.Error("a should remain active after the refused transition")
	}
}

func TestSharedPort_Detach(t *testing.T) {
	shared := NewSharedPort(nullPort{})
	a := &fakeController{name: "a", busy: true}
	b := &fakeController{name: "b"}

	if err := shared.MakeActive(a); err != nil {
		t.Fatalf("MakeActive(a): %v", err)
	}

	// Detach does not ask; even a busy controller is removed.
	shared.Detach(a)
	if shared.IsActive(a) {
		t.Error("a should no longer be active after Detach")
	}

	// Detaching a non-active controller is a no-op.
	shared.Detach(b)

	if err := shared.MakeActive(b); err != nil {
		t.Fatalf("MakeActive(b) after detach: %v", err)
	}
}
