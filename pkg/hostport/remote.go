// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package hostport

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Bridge frame operations. A bridge relays each control operation to the
// serial device it fronts; data frames carry raw bytes in both directions.
const (
	opData        = 1
	opDTR         = 2
	opRTS         = 3
	opBaudrate    = 4
	opDataBits    = 5
	opParity      = 6
	opStopBits    = 7
	opFlushInput  = 8
	opFlushOutput = 9
)

// bridgeFrame is the CBOR wire format spoken with a serial bridge.
// Integer keys keep frames small enough not to disturb the timing of the
// byte stream they wrap.
type bridgeFrame struct {
	Op   uint8  `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint,omitempty"`
	Flag bool   `cbor:"3,keyasint,omitempty"`
	Arg  int64  `cbor:"4,keyasint,omitempty"`
}

// RemotePort implements Port over a WebSocket connection to a serial
// bridge, so a loader can drive a target attached to another machine.
// Control-line changes and flushes are relayed as control frames; the
// bridge applies them to its local device in arrival order, which
// preserves the loader's sequencing.
type RemotePort struct {
	url  string
	conn *websocket.Conn

	readTimeout time.Duration
	pending     []byte
	rx          chan []byte

	closeOnce sync.Once
	closeErr  error
}

// NewRemotePort creates a closed RemotePort for a bridge at url
// (ws:// or wss://).
func NewRemotePort(url string) *RemotePort {
	return &RemotePort{
		url:         url,
		readTimeout: -1,
	}
}

func (r *RemotePort) Name() string {
	return r.url
}

func (r *RemotePort) Open() error {
	if r.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(r.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to serial bridge %s: %w", r.url, err)
	}
	r.conn = conn
	r.pending = nil
	r.rx = make(chan []byte, 64)
	r.closeOnce = sync.Once{}
	go r.readLoop(conn, r.rx)
	return nil
}

func (r *RemotePort) IsOpen() bool {
	return r.conn != nil
}

func (r *RemotePort) Close() error {
	if r.conn == nil {
		return nil
	}
	conn := r.conn
	r.conn = nil
	r.pending = nil
	r.closeOnce.Do(func() {
		r.closeErr = conn.Close()
	})
	return r.closeErr
}

// readLoop decodes incoming frames and forwards data payloads until the
// connection dies. It owns the receive side of conn.
func (r *RemotePort) readLoop(conn *websocket.Conn, rx chan<- []byte) {
	defer close(rx)
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var frame bridgeFrame
		if err := cbor.Unmarshal(payload, &frame); err != nil {
			continue
		}
		if frame.Op == opData && len(frame.Data) > 0 {
			rx <- frame.Data
		}
	}
}

// sendFrame marshals and transmits one frame.
func (r *RemotePort) sendFrame(frame bridgeFrame) error {
	if r.conn == nil {
		return fmt.Errorf("bridge %s is not connected", r.url)
	}
	payload, err := cbor.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode bridge frame: %w", err)
	}
	if err := r.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("failed to send to bridge %s: %w", r.url, err)
	}
	return nil
}

func (r *RemotePort) SetBaudrate(baud int) error {
	return r.sendFrame(bridgeFrame{Op: opBaudrate, Arg: int64(baud)})
}

// SetReadTimeout bounds Read on the client side; the bridge itself always
// forwards bytes as soon as it has them.
func (r *RemotePort) SetReadTimeout(d time.Duration) error {
	r.readTimeout = d
	return nil
}

func (r *RemotePort) SetBytesize(databits int) error {
	return r.sendFrame(bridgeFrame{Op: opDataBits, Arg: int64(databits)})
}

func (r *RemotePort) SetParity(parity Parity) error {
	return r.sendFrame(bridgeFrame{Op: opParity, Arg: int64(parity)})
}

func (r *RemotePort) SetStopbits(stopbits StopBits) error {
	return r.sendFrame(bridgeFrame{Op: opStopBits, Arg: int64(stopbits)})
}

func (r *RemotePort) SetFlowcontrol(flow FlowControl) error {
	if flow != NoFlowControl {
		return fmt.Errorf("unsupported flow control value: %d", flow)
	}
	return nil
}

func (r *RemotePort) Read(p []byte) (int, error) {
	if r.conn == nil {
		return 0, fmt.Errorf("bridge %s is not connected", r.url)
	}
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}

	if r.readTimeout < 0 {
		data, ok := <-r.rx
		if !ok {
			return 0, fmt.Errorf("bridge %s connection lost", r.url)
		}
		n := copy(p, data)
		r.pending = data[n:]
		return n, nil
	}

	timer := time.NewTimer(r.readTimeout)
	defer timer.Stop()
	select {
	case data, ok := <-r.rx:
		if !ok {
			return 0, fmt.Errorf("bridge %s connection lost", r.url)
		}
		n := copy(p, data)
		r.pending = data[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (r *RemotePort) Write(p []byte) (int, error) {
	if err := r.sendFrame(bridgeFrame{Op: opData, Data: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (r *RemotePort) ResetInputBuffer() error {
	r.pending = nil
	for {
		select {
		case data, ok := <-r.rx:
			if !ok {
				return fmt.Errorf("bridge %s connection lost", r.url)
			}
			_ = data
		default:
			return r.sendFrame(bridgeFrame{Op: opFlushInput})
		}
	}
}

func (r *RemotePort) ResetOutputBuffer() error {
	return r.sendFrame(bridgeFrame{Op: opFlushOutput})
}

func (r *RemotePort) Available() (int, error) {
	if r.conn == nil {
		return 0, fmt.Errorf("bridge %s is not connected", r.url)
	}
	for {
		select {
		case data, ok := <-r.rx:
			if !ok {
				return len(r.pending), nil
			}
			r.pending = append(r.pending, data...)
		default:
			return len(r.pending), nil
		}
	}
}

func (r *RemotePort) SetDTR(asserted bool) error {
	return r.sendFrame(bridgeFrame{Op: opDTR, Flag: asserted})
}

func (r *RemotePort) SetRTS(asserted bool) error {
	return r.sendFrame(bridgeFrame{Op: opRTS, Flag: asserted})
}
