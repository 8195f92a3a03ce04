// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"errors"
	"fmt"
	"io"

	"github.com/absmach/mqttd/packets/codec"
)

// ErrPublishInvalidLength represents an invalid length of a PUBLISH packet.
var ErrPublishInvalidLength = errors.New("error unpacking publish, payload length < 0")

// Publish is an internal representation of the fields of the PUBLISH MQTT packet.
type Publish struct {
	FixedHeader
	TopicName string
	ID        uint16
	Payload   []byte
}

func (pkt *Publish) Type() byte { return PublishType }

func (pkt *Publish) String() string {
	return fmt.Sprintf("%s topic: %s id: %d payload_len: %d", pkt.FixedHeader, pkt.TopicName, pkt.ID, len(pkt.Payload))
}

func (pkt *Publish) Pack(w io.Writer) error {
	body := getBody()
	defer putBody(body)

	body.Write(codec.EncodeString(pkt.TopicName))
	if pkt.QoS > 0 {
		body.Write(codec.EncodeUint16(pkt.ID))
	}
	body.Write(pkt.Payload)

	pkt.RemainingLength = body.Len()
	out := append(pkt.FixedHeader.Encode(), body.Bytes()...)
	_, err := w.Write(out)
	return err
}

func (pkt *Publish) Unpack(r io.Reader) error {
	var err error
	if pkt.TopicName, err = codec.DecodeString(r); err != nil {
		return err
	}

	payloadLength := pkt.RemainingLength - len(pkt.TopicName) - 2
	if pkt.QoS > 0 {
		if pkt.ID, err = codec.DecodeUint16(r); err != nil {
			return err
		}
		payloadLength -= 2
	}
	if payloadLength < 0 {
		return ErrPublishInvalidLength
	}

	pkt.Payload = make([]byte, payloadLength)
	_, err = io.ReadFull(r, pkt.Payload)
	return err
}
