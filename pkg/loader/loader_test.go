// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package loader

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kestrelworks/asyncloader/pkg/hostport"
)

// lineEvent records one control line transition on the mock port.
type lineEvent struct {
	line     string
	asserted bool
	at       time.Time
}

// mockPort is a scripted stand-in for the target. It answers the init
// sequence when it has seen all of initBytes, and answers status prompts
// from a queue of canned replies, one per status stage.
type mockPort struct {
	mu sync.Mutex

	open        bool
	readTimeout time.Duration

	written      bytes.Buffer
	toRead       bytes.Buffer
	lineEvents   []lineEvent
	promptWrites int

	// Script.
	authReply     []byte
	versionReply  []byte
	statusReplies []byte
	initSeen      bool

	// Failure injection.
	openErr  error
	writeErr error
}

func newMockPort() *mockPort {
	return &mockPort{readTimeout: CancellationCheckInterval}
}

// scriptHandshake arms the mock with the expected authentication
// response and the given four version bytes.
func (m *mockPort) scriptHandshake(version []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authReply = append([]byte{}, targetAuthBytes...)
	m.versionReply = append([]byte{}, version...)
}

func (m *mockPort) scriptStatus(replies ...byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusReplies = append(m.statusReplies, replies...)
}

func (m *mockPort) Name() string { return "mock" }

func (m *mockPort) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.open = true
	return nil
}

func (m *mockPort) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *mockPort) SetBaudrate(int) error { return nil }

func (m *mockPort) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = d
	return nil
}

func (m *mockPort) SetBytesize(int) error             { return nil }
func (m *mockPort) SetParity(hostport.Parity) error   { return nil }
func (m *mockPort) SetStopbits(hostport.StopBits) error { return nil }
func (m *mockPort) SetFlowcontrol(hostport.FlowControl) error { return nil }

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	timeout := m.readTimeout
	m.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		if m.toRead.Len() > 0 {
			n, _ := m.toRead.Read(p)
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.written.Write(p)

	if len(p) == 1 && p[0] == statusPromptByte {
		m.promptWrites++
		if m.toRead.Len() == 0 && len(m.statusReplies) > 0 {
			m.toRead.WriteByte(m.statusReplies[0])
			m.statusReplies = m.statusReplies[1:]
		}
	}

	if !m.initSeen && m.authReply != nil && bytes.Contains(m.written.Bytes(), initBytes) {
		m.initSeen = true
		m.toRead.Write(m.authReply)
		m.toRead.Write(m.versionReply)
	}
	return len(p), nil
}

func (m *mockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toRead.Reset()
	return nil
}

func (m *mockPort) ResetOutputBuffer() error { return nil }

func (m *mockPort) Available() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toRead.Len(), nil
}

func (m *mockPort) SetDTR(asserted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineEvents = append(m.lineEvents, lineEvent{line: "DTR", asserted: asserted, at: time.Now()})
	return nil
}

func (m *mockPort) SetRTS(asserted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineEvents = append(m.lineEvents, lineEvent{line: "RTS", asserted: asserted, at: time.Now()})
	return nil
}

func (m *mockPort) writtenBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte{}, m.written.Bytes()...)
}

func (m *mockPort) prompts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.promptWrites
}

func (m *mockPort) lines() []lineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]lineEvent{}, m.lineEvents...)
}

// finishRecord captures one LoaderHasFinished call.
type finishRecord struct {
	code    ErrorCode
	details string
	summary ActionSummary
}

// recordingMonitor collects callbacks and signals each finish.
type recordingMonitor struct {
	mu       sync.Mutex
	events   []string
	begins   []Action
	updates  []Status
	finishes []finishRecord
	finished chan struct{}
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{finished: make(chan struct{}, 16)}
}

func (r *recordingMonitor) LoaderWillBegin(_ *Loader, action Action, _, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "begin "+action.String())
	r.begins = append(r.begins, action)
}

func (r *recordingMonitor) LoaderUpdate(_ *Loader, status Status, _, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "update "+status.String())
	r.updates = append(r.updates, status)
}

func (r *recordingMonitor) LoaderHasFinished(_ *Loader, code ErrorCode, details string, summary ActionSummary) {
	r.mu.Lock()
	r.events = append(r.events, "finish "+code.String())
	r.finishes = append(r.finishes, finishRecord{code: code, details: details, summary: summary})
	r.mu.Unlock()
	r.finished <- struct{}{}
}

// waitFinished blocks until the next LoaderHasFinished call.
func (r *recordingMonitor) waitFinished(t *testing.T) finishRecord {
	t.Helper()
	select {
	case <-r.finished:
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for LoaderHasFinished")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishes[len(r.finishes)-1]
}

func newTestLoader(t *testing.T) (*Loader, *mockPort, *recordingMonitor) {
	t.Helper()
	port := newMockPort()
	l := New(hostport.NewSharedPort(port))
	mon := newRecordingMonitor()
	l.SetStatusMonitor(mon)
	return l, port, mon
}

// goodVersion decodes to chip version 1.
var goodVersion = []byte{0xCF, 0xCE, 0xCE, 0xCE}

func TestRestart_Happy(t *testing.T) {
	l, port, mon := newTestLoader(t)

	if err := l.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorNone {
		t.Fatalf("finish code = %v, want none (details: %s)", fin.code, fin.details)
	}
	if !fin.summary.WasSuccessful || fin.summary.Action != ActionRestart {
		t.Errorf("summary = %+v", fin.summary)
	}

	// The reset is a DTR pulse of about the reset duration; nothing is
	// transmitted.
	events := port.lines()
	if len(events) != 2 || !events[0].asserted || events[1].asserted {
		t.Fatalf("line events = %+v, want assert then deassert", events)
	}
	if held := events[1].at.Sub(events[0].at); held < 10*time.Millisecond {
		t.Errorf("reset held for %v, want >= 10ms", held)
	}
	if got := port.writtenBytes(); len(got) != 0 {
		t.Errorf("restart transmitted %d bytes, want 0", len(got))
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()
	if len(mon.begins) != 1 || mon.begins[0] != ActionRestart {
		t.Errorf("begins = %v", mon.begins)
	}
	if len(mon.updates) != 1 || mon.updates[0] != StatusResetting {
		t.Errorf("updates = %v", mon.updates)
	}
}

func TestShutdown_Happy(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)

	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorNone {
		t.Fatalf("finish code = %v, want none (details: %s)", fin.code, fin.details)
	}

	want := append(append([]byte{}, initBytes...), encodedShutdown...)
	if got := port.writtenBytes(); !bytes.Equal(got, want) {
		t.Errorf("wire traffic mismatch: got %d bytes, want initBytes then the shutdown command", len(got))
	}
}

func TestShutdown_VersionMismatch(t *testing.T) {
	l, port, mon := newTestLoader(t)
	// Four zero-pair tokens decode to chip version 0.
	port.scriptHandshake([]byte{0xCE, 0xCE, 0xCE, 0xCE})

	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorUnsupportedChipVersion {
		t.Fatalf("finish code = %v, want unsupported chip version", fin.code)
	}
	if !strings.Contains(fin.details, "0") {
		t.Errorf("details = %q, want the rejected version in it", fin.details)
	}
}

func TestShutdown_AuthMismatch(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)
	// Flip one byte of the authentication response.
	port.mu.Lock()
	port.authReply[40] ^= 0x01
	port.mu.Unlock()

	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorFailedToAuthenticateTarget {
		t.Fatalf("finish code = %v, want failed to authenticate target", fin.code)
	}
}

func TestLoadRAM_Happy(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)
	port.scriptStatus(statusSuccessByte)

	image := make([]byte, 32)
	for i := range image {
		image[i] = byte(i)
	}
	if err := l.LoadRAM(image); err != nil {
		t.Fatalf("LoadRAM: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorNone {
		t.Fatalf("finish code = %v, want none (details: %s)", fin.code, fin.details)
	}
	if fin.summary.ImageSize != 32 {
		t.Errorf("ImageSize = %d, want 32", fin.summary.ImageSize)
	}
	if fin.summary.EncodedImageSize == 0 {
		t.Error("EncodedImageSize should be non-zero")
	}

	// The command, the encoded word count, and the encoded image follow
	// the init sequence.
	got := port.writtenBytes()
	if !bytes.HasPrefix(got, initBytes) {
		t.Fatal("wire traffic should start with initBytes")
	}
	rest := got[len(initBytes):]
	if !bytes.HasPrefix(rest, encodedLoadRAM) {
		t.Errorf("expected the load RAM command after initBytes, got % X", rest[:11])
	}
}

func TestLoadRAM_ChecksumFailure(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)
	port.scriptStatus(statusFailureByte)

	if err := l.LoadRAM(make([]byte, 32)); err != nil {
		t.Fatalf("LoadRAM: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorTargetReportsChecksumError {
		t.Fatalf("finish code = %v, want target reports checksum error", fin.code)
	}
	if fin.summary.Stage5Time >= ChecksumStatusTimeout.Seconds() {
		t.Errorf("Stage5Time = %v, want < %v", fin.summary.Stage5Time, ChecksumStatusTimeout.Seconds())
	}
}

func TestProgramEEPROM_Happy(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)
	// Checksum, programming, and verification all succeed.
	port.scriptStatus(statusSuccessByte, statusSuccessByte, statusSuccessByte)

	if err := l.ProgramEEPROM(make([]byte, 16), true); err != nil {
		t.Fatalf("ProgramEEPROM: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorNone {
		t.Fatalf("finish code = %v, want none (details: %s)", fin.code, fin.details)
	}
	if fin.summary.Action != ActionProgramEEPROMThenRun {
		t.Errorf("Action = %v", fin.summary.Action)
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()
	wantStatuses := []Status{
		StatusResetting,
		StatusEstablishingCommunications,
		StatusSendingCommandAndImage,
		StatusWaitingForChecksumStatus,
		StatusWaitingForEEPROMProgrammingStatus,
		StatusWaitingForEEPROMVerificationStatus,
	}
	if len(mon.updates) != len(wantStatuses) {
		t.Fatalf("updates = %v, want %v", mon.updates, wantStatuses)
	}
	for i, want := range wantStatuses {
		if mon.updates[i] != want {
			t.Errorf("update %d = %v, want %v", i, mon.updates[i], want)
		}
	}
}

func TestProgramEEPROM_ProgrammingFailure(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)
	port.scriptStatus(statusSuccessByte, statusFailureByte)

	if err := l.ProgramEEPROM(make([]byte, 16), false); err != nil {
		t.Fatalf("ProgramEEPROM: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorTargetReportsEEPROMProgrammingError {
		t.Fatalf("finish code = %v, want target reports EEPROM programming error", fin.code)
	}
}

func TestCancel_DuringImageSend(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)

	// A full-size image keeps stage 4b in its drain wait for seconds.
	if err := l.LoadRAM(make([]byte, MaxImageSize)); err != nil {
		t.Fatalf("LoadRAM: %v", err)
	}

	// Let the action get into the image send, then cancel.
	for i := 0; i < 2000; i++ {
		if l.LastCheckpoint() == "sending image" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	l.Cancel()

	fin := mon.waitFinished(t)
	if fin.code != ErrorCancelled {
		t.Fatalf("finish code = %v, want cancelled (details: %s)", fin.code, fin.details)
	}
	if !strings.Contains(fin.details, "sending image") {
		t.Errorf("details = %q, want the last checkpoint in it", fin.details)
	}
	if port.prompts() != 0 {
		t.Errorf("%d status prompts were sent after cancellation, want 0", port.prompts())
	}
}

func TestCancel_BeforeFirstStage(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)

	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	l.Cancel()
	fin := mon.waitFinished(t)

	if fin.code != ErrorCancelled {
		t.Fatalf("finish code = %v, want cancelled", fin.code)
	}
	// Cancelling this early may beat stage 1 entirely; either way the
	// wire must stay quiet once the cancel lands.
	if got := port.writtenBytes(); len(got) != 0 && !bytes.Equal(got, initBytes) {
		t.Errorf("unexpected partial traffic: %d bytes", len(got))
	}
}

func TestBusyRejection(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)

	if err := l.LoadRAM(make([]byte, MaxImageSize)); err != nil {
		t.Fatalf("LoadRAM: %v", err)
	}

	err := l.Shutdown()
	var busy *BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("second action returned %v, want BusyError", err)
	}

	if err := l.CancelAndWait(0); err != nil {
		t.Fatalf("CancelAndWait: %v", err)
	}
	fin := mon.waitFinished(t)
	if fin.code != ErrorCancelled {
		t.Errorf("finish code = %v, want cancelled", fin.code)
	}

	// Exactly one action's callbacks fired.
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if len(mon.begins) != 1 || len(mon.finishes) != 1 {
		t.Errorf("begins = %d, finishes = %d, want 1 and 1", len(mon.begins), len(mon.finishes))
	}
}

func TestCallbackOrdering_AcrossActions(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)

	if err := l.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	mon.waitFinished(t)

	port.mu.Lock()
	port.initSeen = false
	port.mu.Unlock()

	if err := l.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	mon.waitFinished(t)

	mon.mu.Lock()
	defer mon.mu.Unlock()
	var sequence []string
	for _, e := range mon.events {
		if strings.HasPrefix(e, "begin") || strings.HasPrefix(e, "finish") {
			sequence = append(sequence, e)
		}
	}
	want := []string{"begin restart", "finish none", "begin shutdown", "finish none"}
	if len(sequence) != len(want) {
		t.Fatalf("sequence = %v, want %v", sequence, want)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, sequence[i], want[i])
		}
	}
}

func TestWaitUntilFinished_Timeout(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)

	if err := l.LoadRAM(make([]byte, MaxImageSize)); err != nil {
		t.Fatalf("LoadRAM: %v", err)
	}

	err := l.WaitUntilFinished(50 * time.Millisecond)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("WaitUntilFinished returned %v, want TimeoutError", err)
	}

	if err := l.CancelAndWait(0); err != nil {
		t.Fatalf("CancelAndWait: %v", err)
	}
	mon.waitFinished(t)
}

func TestWaitUntilFinished_Idle(t *testing.T) {
	l, _, _ := newTestLoader(t)
	if err := l.WaitUntilFinished(0); err != nil {
		t.Fatalf("WaitUntilFinished on idle loader: %v", err)
	}
	if err := l.CancelAndWait(0); err != nil {
		t.Fatalf("CancelAndWait on idle loader: %v", err)
	}
}

func TestResetLine_RTS(t *testing.T) {
	l, port, mon := newTestLoader(t)
	if err := l.SetResetLine(ResetLineRTS); err != nil {
		t.Fatalf("SetResetLine: %v", err)
	}

	if err := l.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	mon.waitFinished(t)

	events := port.lines()
	if len(events) != 2 || events[0].line != "RTS" || events[1].line != "RTS" {
		t.Fatalf("line events = %+v, want two RTS transitions", events)
	}
}

func TestResetLine_Callback(t *testing.T) {
	l, _, mon := newTestLoader(t)
	if err := l.SetResetLine(ResetLineCallback); err != nil {
		t.Fatalf("SetResetLine: %v", err)
	}

	var gotDuration time.Duration
	l.SetResetCallback(func(d time.Duration) error {
		gotDuration = d
		return nil
	})

	if err := l.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorNone {
		t.Fatalf("finish code = %v, want none", fin.code)
	}
	if gotDuration != 10*time.Millisecond {
		t.Errorf("callback duration = %v, want 10ms", gotDuration)
	}
}

func TestResetLine_CallbackMissing(t *testing.T) {
	l, _, mon := newTestLoader(t)
	if err := l.SetResetLine(ResetLineCallback); err != nil {
		t.Fatalf("SetResetLine: %v", err)
	}

	if err := l.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorFailedToReset {
		t.Fatalf("finish code = %v, want failed to reset", fin.code)
	}
}

func TestResetLine_CallbackPanics(t *testing.T) {
	l, _, mon := newTestLoader(t)
	if err := l.SetResetLine(ResetLineCallback); err != nil {
		t.Fatalf("SetResetLine: %v", err)
	}
	l.SetResetCallback(func(time.Duration) error {
		panic("wired to the wrong pin")
	})

	if err := l.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	fin := mon.waitFinished(t)

	if fin.code != ErrorFailedToReset {
		t.Fatalf("finish code = %v, want failed to reset", fin.code)
	}
	if !strings.Contains(fin.details, "wrong pin") {
		t.Errorf("details = %q, want the panic value in it", fin.details)
	}
}

func TestSettings_Validation(t *testing.T) {
	l, _, _ := newTestLoader(t)

	if err := l.SetBaudrate(MaxBaudrate + 1); err == nil {
		t.Error("SetBaudrate above the cap should fail")
	}
	if err := l.SetBaudrate(0); err == nil {
		t.Error("SetBaudrate(0) should fail")
	}
	if err := l.SetBaudrate(57600); err != nil {
		t.Errorf("SetBaudrate(57600): %v", err)
	}

	if err := l.SetResetDuration(500 * time.Microsecond); err == nil {
		t.Error("sub-millisecond reset duration should fail")
	}
	if err := l.SetResetDuration(101 * time.Millisecond); err == nil {
		t.Error("reset duration above 100ms should fail")
	}
	if err := l.SetResetDuration(20 * time.Millisecond); err != nil {
		t.Errorf("SetResetDuration(20ms): %v", err)
	}

	if err := l.SetBootWaitDuration(10 * time.Millisecond); err == nil {
		t.Error("boot wait below 50ms should fail")
	}
	if err := l.SetBootWaitDuration(200 * time.Millisecond); err == nil {
		t.Error("boot wait above 150ms should fail")
	}
	if err := l.SetBootWaitDuration(60 * time.Millisecond); err != nil {
		t.Errorf("SetBootWaitDuration(60ms): %v", err)
	}

	if err := l.SetResetLine(ResetLine(42)); err == nil {
		t.Error("invalid reset line should fail")
	}
}

func TestImageValidation(t *testing.T) {
	l, _, mon := newTestLoader(t)

	if err := l.LoadRAM(nil); err == nil {
		t.Error("empty image should be rejected")
	}
	if err := l.LoadRAM(make([]byte, MaxImageSize+1)); err == nil {
		t.Error("oversized image should be rejected")
	}

	// Validation failures are synchronous; no callbacks fire.
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if len(mon.events) != 0 {
		t.Errorf("events = %v, want none", mon.events)
	}
	if l.IsBusy() {
		t.Error("loader should be idle after rejected actions")
	}
}

func TestWillMakeInactive_RefusedWhileBusy(t *testing.T) {
	port := newMockPort()
	shared := hostport.NewSharedPort(port)
	l := New(shared)
	mon := newRecordingMonitor()
	l.SetStatusMonitor(mon)
	port.scriptHandshake(goodVersion)

	if err := l.LoadRAM(make([]byte, MaxImageSize)); err != nil {
		t.Fatalf("LoadRAM: %v", err)
	}

	// Give the worker time to claim the port.
	for i := 0; i < 2000 && !shared.IsActive(l); i++ {
		time.Sleep(time.Millisecond)
	}
	if !shared.IsActive(l) {
		t.Fatal("loader never became the active controller")
	}

	other := &idleController{}
	if err := shared.MakeActive(other); err == nil {
		t.Error("another controller should not displace a busy loader")
	}

	if err := l.CancelAndWait(0); err != nil {
		t.Fatalf("CancelAndWait: %v", err)
	}
	mon.waitFinished(t)

	// Idle now; the takeover succeeds.
	if err := shared.MakeActive(other); err != nil {
		t.Errorf("MakeActive after finish: %v", err)
	}
}

type idleController struct{}

func (idleController) ControllerType() string   { return "test" }
func (idleController) WillMakeInactive() error  { return nil }

func TestClose_Idle(t *testing.T) {
	l, _, _ := newTestLoader(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClose_CancelsInFlight(t *testing.T) {
	l, port, mon := newTestLoader(t)
	port.scriptHandshake(goodVersion)

	if err := l.LoadRAM(make([]byte, MaxImageSize)); err != nil {
		t.Fatalf("LoadRAM: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fin := mon.waitFinished(t)
	if fin.code != ErrorCancelled {
		t.Errorf("finish code = %v, want cancelled", fin.code)
	}
	if l.IsBusy() {
		t.Error("loader should be idle after Close")
	}
}
