// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVBIRoundTrip(t *testing.T) {
	// Boundary values of the 1..4 byte encodings.
	for _, v := range []int{0, 127, 128, 16383, 16384, 2097151, 2097152, 268435455} {
		got, err := DecodeVBI(bytes.NewReader(EncodeVBI(v)))
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
	}
}

func TestVBIOverlongRejected(t *testing.T) {
	// Five continuation bytes exceed the four-byte protocol limit.
	_, err := DecodeVBI(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x01}))
	assert.ErrorIs(t, err, ErrMaxLengthExceeded)
}

func TestStringRoundTrip(t *testing.T) {
	got, err := DecodeString(bytes.NewReader(EncodeString("devices/42/state")))
	require.NoError(t, err)
	assert.Equal(t, "devices/42/state", got)
}

func TestDecodeBytesShortInput(t *testing.T) {
	// Length prefix promises more bytes than the reader holds.
	_, err := DecodeBytes(bytes.NewReader([]byte{0x00, 0x05, 'a', 'b'}))
	assert.Error(t, err)
}
