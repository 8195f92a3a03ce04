// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"io"
)

// PingReq is an internal representation of the fields of the PINGREQ MQTT packet.
type PingReq struct {
	FixedHeader
}

func (pkt *PingReq) Type() byte { return PingReqType }

func (pkt *PingReq) String() string { return pkt.FixedHeader.String() }

func (pkt *PingReq) Pack(w io.Writer) error {
	_, err := w.Write(pkt.FixedHeader.Encode())
	return err
}

func (pkt *PingReq) Unpack(r io.Reader) error { return nil }

// PingResp is an internal representation of the fields of the PINGRESP MQTT packet.
type PingResp struct {
	FixedHeader
}

func (pkt *PingResp) Type() byte { return PingRespType }

func (pkt *PingResp) String() string { return pkt.FixedHeader.String() }

func (pkt *PingResp) Pack(w io.Writer) error {
	_, err := w.Write(pkt.FixedHeader.Encode())
	return err
}

func (pkt *PingResp) Unpack(r io.Reader) error { return nil }

// Disconnect is an internal representation of the fields of the DISCONNECT MQTT packet.
type Disconnect struct {
	FixedHeader
}

func (pkt *Disconnect) Type() byte { return DisconnectType }

func (pkt *Disconnect) String() string { return pkt.FixedHeader.String() }

func (pkt *Disconnect) Pack(w io.Writer) error {
	_, err := w.Write(pkt.FixedHeader.Encode())
	return err
}

func (pkt *Disconnect) Unpack(r io.Reader) error { return nil }
