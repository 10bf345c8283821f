// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package shardcodec pads and splits a message into k equal-size pieces
// ahead of Reed-Solomon encoding, and reverses the operation after decode.
package shardcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// lengthPrefixSize is the little-endian u32 prefix prepended when padding
// is enabled.
const lengthPrefixSize = 4

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("shardcodec: k must be positive")
	// ErrMessageTooShort is returned by Join when the buffer is shorter
	// than the recorded length prefix.
	ErrMessageTooShort = errors.New("shardcodec: message shorter than recorded length")
	// ErrNotDivisible is returned by Join when the piece lengths don't
	// agree, i.e. the pieces were not produced by Split.
	ErrNotDivisible = errors.New("shardcodec: pieces are not equal length")
)

// Split pads (if pad) message with a little-endian u32 length prefix and
// zero bytes until the total length is a multiple of 2k, then divides it
// into k equal pieces. The factor of 2 keeps every piece length even;
// tooling built on top of Propeller assumes piece lengths are even.
func Split(message []byte, k int, pad bool) ([][]byte, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}

	var buf []byte
	if pad {
		buf = make([]byte, lengthPrefixSize+len(message))
		binary.LittleEndian.PutUint32(buf, uint32(len(message)))
		copy(buf[lengthPrefixSize:], message)
	} else {
		buf = append([]byte(nil), message...)
	}

	factor := 2 * k
	if rem := len(buf) % factor; rem != 0 {
		buf = append(buf, make([]byte, factor-rem)...)
	}
	if len(buf) == 0 {
		buf = make([]byte, factor)
	}

	pieceLen := len(buf) / k
	pieces := make([][]byte, k)
	for i := 0; i < k; i++ {
		pieces[i] = buf[i*pieceLen : (i+1)*pieceLen]
	}
	return pieces, nil
}

// Join concatenates pieces in order and, if pad, strips the length prefix
// and trailing zero padding added by Split.
func Join(pieces [][]byte, pad bool) ([]byte, error) {
	if len(pieces) == 0 {
		return nil, ErrInvalidK
	}
	pieceLen := len(pieces[0])
	total := 0
	for _, p := range pieces {
		if len(p) != pieceLen {
			return nil, ErrNotDivisible
		}
		total += len(p)
	}

	buf := make([]byte, 0, total)
	for _, p := range pieces {
		buf = append(buf, p...)
	}
	if !pad {
		return buf, nil
	}
	if len(buf) < lengthPrefixSize {
		return nil, ErrMessageTooShort
	}
	n := binary.LittleEndian.Uint32(buf[:lengthPrefixSize])
	end := lengthPrefixSize + int(n)
	if end < lengthPrefixSize || end > len(buf) {
		return nil, fmt.Errorf("%w: recorded length %d exceeds buffer of %d bytes", ErrMessageTooShort, n, len(buf)-lengthPrefixSize)
	}
	return buf[lengthPrefixSize:end], nil
}
