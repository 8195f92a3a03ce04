// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"fmt"
	"io"

	"github.com/absmach/mqttd/packets/codec"
)

// PubAck is an internal representation of the fields of the PUBACK MQTT packet.
type PubAck struct {
	FixedHeader
	ID uint16
}

func (pkt *PubAck) Type() byte { return PubAckType }

func (pkt *PubAck) String() string {
	return fmt.Sprintf("%s id: %d", pkt.FixedHeader, pkt.ID)
}

func (pkt *PubAck) Pack(w io.Writer) error {
	pkt.RemainingLength = 2
	out := append(pkt.FixedHeader.Encode(), codec.EncodeUint16(pkt.ID)...)
	_, err := w.Write(out)
	return err
}

func (pkt *PubAck) Unpack(r io.Reader) error {
	var err error
	pkt.ID, err = codec.DecodeUint16(r)
	return err
}

// SubAck is an internal representation of the fields of the SUBACK MQTT packet.
type SubAck struct {
	FixedHeader
	ID          uint16
	ReturnCodes []byte
}

func (pkt *SubAck) Type() byte { return SubAckType }

func (pkt *SubAck) String() string {
	return fmt.Sprintf("%s id: %d return_codes: %v", pkt.FixedHeader, pkt.ID, pkt.ReturnCodes)
}

func (pkt *SubAck) Pack(w io.Writer) error {
	pkt.RemainingLength = 2 + len(pkt.ReturnCodes)
	out := append(pkt.FixedHeader.Encode(), codec.EncodeUint16(pkt.ID)...)
	out = append(out, pkt.ReturnCodes...)
	_, err := w.Write(out)
	return err
}

func (pkt *SubAck) Unpack(r io.Reader) error {
	var err error
	if pkt.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	pkt.ReturnCodes = make([]byte, pkt.RemainingLength-2)
	_, err = io.ReadFull(r, pkt.ReturnCodes)
	return err
}
