// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"fmt"
	"io"

	"github.com/absmach/mqttd/packets/codec"
)

// Subscribe is an internal representation of the fields of the SUBSCRIBE MQTT packet.
type Subscribe struct {
	FixedHeader
	ID     uint16
	Topics []string
	QoSs   []byte
}

func (pkt *Subscribe) Type() byte { return SubscribeType }

func (pkt *Subscribe) String() string {
	return fmt.Sprintf("%s id: %d topics: %v", pkt.FixedHeader, pkt.ID, pkt.Topics)
}

func (pkt *Subscribe) Pack(w io.Writer) error {
	body := getBody()
	defer putBody(body)

	body.Write(codec.EncodeUint16(pkt.ID))
	for i, topic := range pkt.Topics {
		body.Write(codec.EncodeString(topic))
		var qos byte
		if i < len(pkt.QoSs) {
			qos = pkt.QoSs[i]
		}
		body.WriteByte(qos)
	}

	pkt.RemainingLength = body.Len()
	out := append(pkt.FixedHeader.Encode(), body.Bytes()...)
	_, err := w.Write(out)
	return err
}

func (pkt *Subscribe) Unpack(r io.Reader) error {
	var err error
	if pkt.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	payloadLength := pkt.RemainingLength - 2
	for payloadLength > 0 {
		topic, err := codec.DecodeString(r)
		if err != nil {
			return err
		}
		qos, err := codec.DecodeByte(r)
		if err != nil {
			return err
		}
		pkt.Topics = append(pkt.Topics, topic)
		pkt.QoSs = append(pkt.QoSs, qos)
		payloadLength -= 2 + len(topic) + 1
	}
	return nil
}
