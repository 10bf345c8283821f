// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the Propeller frame codec: a length-prefixed
// (u32 big-endian) PropellerUnitBatch, itself a protobuf-wire-compatible
// encoding of repeated PropellerUnit messages. The schema is hand-encoded
// with google.golang.org/protobuf/encoding/protowire rather than generated
// from a .proto file, since the core ships no codegen step.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for PropellerUnit.
const (
	fieldShard     = protowire.Number(1)
	fieldIndex     = protowire.Number(2)
	fieldRoot      = protowire.Number(3)
	fieldProof     = protowire.Number(4)
	fieldPublisher = protowire.Number(5)
	fieldSignature = protowire.Number(6)
	fieldChannel   = protowire.Number(7)
)

// fieldUnits is PropellerUnitBatch's sole field: repeated PropellerUnit.
const fieldUnits = protowire.Number(1)

// frameLengthSize is the size of the u32 big-endian frame length prefix.
const frameLengthSize = 4

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// the configured maximum.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	// ErrDecodeError wraps any malformed-wire-data condition.
	ErrDecodeError = errors.New("wire: malformed frame")
)

// Unit is the in-memory form of PropellerUnit.
type Unit struct {
	Shard     []byte
	Index     uint64
	Root      [32]byte
	Proof     [][32]byte
	Publisher []byte
	Signature []byte
	Channel   uint32
}

// EncodeUnit serializes one Unit in protobuf wire format.
func EncodeUnit(u *Unit) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldShard, protowire.BytesType)
	b = protowire.AppendBytes(b, u.Shard)

	b = protowire.AppendTag(b, fieldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, u.Index)

	b = protowire.AppendTag(b, fieldRoot, protowire.BytesType)
	b = protowire.AppendBytes(b, u.Root[:])

	for _, sib := range u.Proof {
		b = protowire.AppendTag(b, fieldProof, protowire.BytesType)
		b = protowire.AppendBytes(b, sib[:])
	}

	b = protowire.AppendTag(b, fieldPublisher, protowire.BytesType)
	b = protowire.AppendBytes(b, u.Publisher)

	b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, u.Signature)

	b = protowire.AppendTag(b, fieldChannel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(u.Channel))
	return b
}

// DecodeUnit parses one protobuf-wire-encoded PropellerUnit message.
func DecodeUnit(data []byte) (*Unit, error) {
	u := &Unit{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag: %v", ErrDecodeError, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldShard:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			u.Shard = v
			data = data[m:]
		case fieldIndex:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			u.Index = v
			data = data[m:]
		case fieldRoot:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			if len(v) != 32 {
				return nil, fmt.Errorf("%w: root must be 32 bytes, got %d", ErrDecodeError, len(v))
			}
			copy(u.Root[:], v)
			data = data[m:]
		case fieldProof:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			if len(v) != 32 {
				return nil, fmt.Errorf("%w: proof sibling must be 32 bytes, got %d", ErrDecodeError, len(v))
			}
			var sib [32]byte
			copy(sib[:], v)
			u.Proof = append(u.Proof, sib)
			data = data[m:]
		case fieldPublisher:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			u.Publisher = v
			data = data[m:]
		case fieldSignature:
			v, m, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			u.Signature = v
			data = data[m:]
		case fieldChannel:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			u.Channel = uint32(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("%w: unknown field %d: %v", ErrDecodeError, num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return u, nil
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: expected bytes wire type", ErrDecodeError)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: bytes: %v", ErrDecodeError, protowire.ParseError(n))
	}
	return append([]byte(nil), v...), n, nil
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: expected varint wire type", ErrDecodeError)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: varint: %v", ErrDecodeError, protowire.ParseError(n))
	}
	return v, n, nil
}

// EncodeBatch serializes units as a PropellerUnitBatch message.
func EncodeBatch(units []*Unit) []byte {
	var b []byte
	for _, u := range units {
		b = protowire.AppendTag(b, fieldUnits, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeUnit(u))
	}
	return b
}

// DecodeBatch parses a PropellerUnitBatch message into its units.
func DecodeBatch(data []byte) ([]*Unit, error) {
	var units []*Unit
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag: %v", ErrDecodeError, protowire.ParseError(n))
		}
		data = data[n:]

		if num != fieldUnits {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("%w: unknown field %d: %v", ErrDecodeError, num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}

		raw, m, err := consumeBytes(data, typ)
		if err != nil {
			return nil, err
		}
		data = data[m:]

		u, err := DecodeUnit(raw)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// EncodeFrame prepends a u32 big-endian length prefix to an encoded batch.
func EncodeFrame(units []*Unit) []byte {
	payload := EncodeBatch(units)
	frame := make([]byte, frameLengthSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameLengthSize:], payload)
	return frame
}

// DecodeFrame reads one length-prefixed frame from the front of data,
// returning the decoded units, the number of bytes consumed, and an error.
// maxSize bounds the accepted payload length; data may contain a partial
// frame, in which case consumed is 0 and err is nil (caller should buffer
// more bytes and retry).
func DecodeFrame(data []byte, maxSize uint32) (units []*Unit, consumed int, err error) {
	if len(data) < frameLengthSize {
		return nil, 0, nil
	}
	size := binary.BigEndian.Uint32(data)
	if size > maxSize {
		return nil, 0, fmt.Errorf("%w: %d bytes > max %d", ErrFrameTooLarge, size, maxSize)
	}
	total := frameLengthSize + int(size)
	if len(data) < total {
		return nil, 0, nil
	}

	units, err = DecodeBatch(data[frameLengthSize:total])
	if err != nil {
		return nil, 0, err
	}
	return units, total, nil
}
