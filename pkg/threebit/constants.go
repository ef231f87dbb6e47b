// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

// Package threebit implements the 3-Bit-Protocol (3BP) pulse encoding used
// by the target microcontroller's boot ROM.
//
// In 3BP a 1 is a short low pulse (~1 bit period) and a 0 is a long low
// pulse (~2 bit periods); the line idles high. The boot ROM classifies a
// pulse by counting loops while the rx line is low, against a threshold set
// by two calibration pulses sent at the start of communications.
//
// The encoder packs pulses into bytes for standard 8-N-1 asynchronous
// serial transmission. The UART start bit is inherently low and supplies
// each pulse's leading edge; the encoder controls pulse width with the data
// bits that follow and keeps the required high idle between pulses. Longs
// (four-byte values) get a wider idle gap because the boot ROM does extra
// work after receiving a long.
package threebit

// MaxBaudrate is the fastest baudrate at which data produced by Encoder may
// be transmitted to the boot ROM.
//
// The boot ROM measures pulses by loop counting on an RCFAST clock
// (8-20 MHz). Above roughly 133 kbps a short pulse may be misread as a
// long one, and the inter-pulse work budget caps reliable reception near
// 150 kbps. 115200 is the fastest commonly supported rate under both
// limits.
const MaxBaudrate = 115200

// Idle requirements after an encoded pulse, in UART bit periods.
const (
	// intraLongIdleTime separates pulses within one long.
	intraLongIdleTime = 1

	// interLongIdleTime separates the last pulse of a long from the first
	// pulse of the next. Must be 2+ to support 115200 bps.
	interLongIdleTime = 2
)

// frameSlots is the number of bit slots in one 8-N-1 frame: start bit,
// eight data bits, stop bit.
const frameSlots = 10

// Decoder tokens. The target answers each transmission prompt with one of
// these four bytes, each carrying two data bits.
const (
	token00 = 0xCE
	token01 = 0xCF
	token10 = 0xEE
	token11 = 0xEF
)
