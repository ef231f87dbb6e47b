// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package threebit

import (
	"fmt"
	"io"
)

// DecodeByte decodes one byte of 3BP data sent by the target in response to
// four transmission prompts.
//
// It consumes four bytes from r, each contributing two bits, accumulated
// LSB first. It is used for decoding the chip version during the
// communication handshake.
func DecodeByte(r io.ByteReader) (byte, error) {
	var decoded byte
	for i := 0; i < 4; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("insufficient bytes: %w", err)
		}
		decoded >>= 2
		switch b {
		case token00:
		case token01:
			decoded |= 0x40
		case token10:
			decoded |= 0x80
		case token11:
			decoded |= 0xC0
		default:
			return 0, fmt.Errorf("unexpected byte: 0x%02X", b)
		}
	}
	return decoded, nil
}
