// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"fmt"
	"io"

	"github.com/absmach/mqttd/packets/codec"
)

// ConnackReturnCodes maps CONNACK return codes to string representations.
var ConnackReturnCodes = map[uint8]string{
	0: "Connection Accepted",
	1: "Connection Refused: Bad Protocol Version",
	2: "Connection Refused: Client Identifier Rejected",
	3: "Connection Refused: Server Unavailable",
	4: "Connection Refused: Username or Password in unknown format",
	5: "Connection Refused: Not Authorised",
}

// ConnAck is an internal representation of the fields of the CONNACK MQTT packet.
type ConnAck struct {
	FixedHeader
	SessionPresent bool
	ReturnCode     byte
}

func (pkt *ConnAck) Type() byte { return ConnAckType }

func (pkt *ConnAck) String() string {
	return fmt.Sprintf("%s session_present: %t return_code: %d", pkt.FixedHeader, pkt.SessionPresent, pkt.ReturnCode)
}

func (pkt *ConnAck) Pack(w io.Writer) error {
	pkt.RemainingLength = 2
	out := pkt.FixedHeader.Encode()
	out = append(out, codec.EncodeBool(pkt.SessionPresent), pkt.ReturnCode)
	_, err := w.Write(out)
	return err
}

func (pkt *ConnAck) Unpack(r io.Reader) error {
	flags, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	pkt.SessionPresent = 1&flags > 0
	pkt.ReturnCode, err = codec.DecodeByte(r)
	return err
}
