// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package core provides the packet-framed transport wrapper shared by all
// listeners. It sits between a raw net.Conn (plain TCP or TLS) and the
// per-connection link.
package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/absmach/mqttd/packets"
)

// ErrConnectionAborted is the designated clean-close condition: the peer
// shut the transport down without a protocol-level DISCONNECT. Callers
// treat it as an intentional close rather than a read fault.
var ErrConnectionAborted = errors.New("connection aborted by peer")

// ErrPayloadTooLarge is returned when an inbound packet exceeds the
// configured payload limit.
var ErrPayloadTooLarge = errors.New("payload size limit exceeded")

// Network wraps a transport connection with MQTT packet framing and an
// inbound payload cap. It is owned by exactly one link; no method is safe
// for concurrent use with itself.
type Network struct {
	conn           net.Conn
	maxPayloadSize int
}

// NewNetwork wraps conn. maxPayloadSize bounds the remaining length of
// inbound packets; zero means no bound.
func NewNetwork(conn net.Conn, maxPayloadSize int) *Network {
	return &Network{
		conn:           conn,
		maxPayloadSize: maxPayloadSize,
	}
}

// ReadPacket reads the next control packet. A transport torn down by the
// peer surfaces as ErrConnectionAborted.
func (n *Network) ReadPacket() (packets.ControlPacket, error) {
	var fh packets.FixedHeader
	b := make([]byte, 1)

	if _, err := io.ReadFull(n.conn, b); err != nil {
		return nil, closeKind(err)
	}
	if err := fh.Decode(b[0], n.conn); err != nil {
		return nil, closeKind(err)
	}

	if n.maxPayloadSize > 0 && fh.RemainingLength > n.maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, fh.RemainingLength)
	}

	pkt, err := packets.NewControlPacketWithHeader(fh)
	if err != nil {
		return nil, err
	}

	body := make([]byte, fh.RemainingLength)
	if _, err := io.ReadFull(n.conn, body); err != nil {
		return nil, closeKind(err)
	}
	if err := pkt.Unpack(bytes.NewReader(body)); err != nil {
		return nil, err
	}
	return pkt, nil
}

// WritePacket writes one control packet to the transport.
func (n *Network) WritePacket(pkt packets.ControlPacket) error {
	if pkt == nil {
		return errors.New("cannot encode nil packet")
	}
	if err := pkt.Pack(n.conn); err != nil {
		return closeKind(err)
	}
	return nil
}

// SetReadDeadline bounds the next ReadPacket call.
func (n *Network) SetReadDeadline(t time.Time) error {
	return n.conn.SetReadDeadline(t)
}

// RemoteAddr returns the remote network address.
func (n *Network) RemoteAddr() net.Addr {
	return n.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (n *Network) Close() error {
	return n.conn.Close()
}

// closeKind maps transport-teardown errors onto the single designated
// clean-close condition. Everything else passes through untouched.
func closeKind(err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return ErrConnectionAborted
	default:
		return err
	}
}
