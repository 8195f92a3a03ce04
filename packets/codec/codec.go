// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the primitive field encodings shared by all
// MQTT control packets: big-endian integers, length-prefixed byte fields
// and Variable Byte Integers.
package codec

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrMaxLengthExceeded indicates a Variable Byte Integer longer than the
// four bytes the protocol permits.
var ErrMaxLengthExceeded = errors.New("max length value exceeded")

// A Variable Byte Integer carries at most four bytes, seven payload bits
// each, so the final group is shifted by at most 21.
const maxVBIShift = 21

func DecodeByte(r io.Reader) (byte, error) {
	b := make([]byte, 1)
	if _, err := io.ReadAtLeast(r, b, 1); err != nil {
		return 0, err
	}
	return b[0], nil
}

func DecodeUint16(r io.Reader) (uint16, error) {
	num := make([]byte, 2)
	if _, err := io.ReadAtLeast(r, num, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(num), nil
}

func DecodeBytes(r io.Reader) ([]byte, error) {
	fieldLength, err := DecodeUint16(r)
	if err != nil {
		return nil, err
	}

	field := make([]byte, fieldLength)
	if _, err := io.ReadAtLeast(r, field, int(fieldLength)); err != nil {
		return nil, err
	}

	return field, nil
}

func DecodeString(r io.Reader) (string, error) {
	buf, err := DecodeBytes(r)
	return string(buf), err
}

// DecodeVBI decodes a Variable Byte Integer as used for remaining-length
// fields.
func DecodeVBI(r io.Reader) (int, error) {
	var vbi uint32
	var shift uint32
	b := make([]byte, 1)

	for {
		if _, err := io.ReadAtLeast(r, b, 1); err != nil {
			return 0, err
		}
		digit := b[0]
		vbi |= uint32(digit&0x7F) << shift
		if (digit & 0x80) == 0 {
			break
		}
		shift += 7
		if shift > maxVBIShift {
			return 0, ErrMaxLengthExceeded
		}
	}
	return int(vbi), nil
}

func EncodeBytes(field []byte) []byte {
	v := len(field)
	b := []byte{byte(v >> 8), byte(v)}
	return append(b, field...)
}

func EncodeUint16(num uint16) []byte {
	return []byte{byte(num >> 8), byte(num)}
}

func EncodeString(field string) []byte {
	return EncodeBytes([]byte(field))
}

func EncodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// EncodeVBI encodes a Variable Byte Integer.
func EncodeVBI(num int) []byte {
	var x int
	ret := [4]byte{}
	v := uint32(num)
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		ret[x] = b
		x++
		if v == 0 {
			return ret[:x]
		}
	}
}
