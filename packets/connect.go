// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"fmt"
	"io"

	"github.com/absmach/mqttd/packets/codec"
)

// CONNACK return codes.
const (
	Accepted                        = 0x00
	ErrRefusedBadProtocolVersion    = 0x01
	ErrRefusedIDRejected            = 0x02
	ErrRefusedServerUnavailable     = 0x03
	ErrRefusedBadUsernameOrPassword = 0x04
	ErrRefusedNotAuthorized         = 0x05
)

// Connect is an internal representation of the fields of the MQTT CONNECT packet.
type Connect struct {
	FixedHeader
	ProtocolName    string
	ProtocolVersion byte
	CleanSession    bool
	WillFlag        bool
	WillQoS         byte
	WillRetain      bool
	UsernameFlag    bool
	PasswordFlag    bool
	ReservedBit     byte
	KeepAlive       uint16

	ClientIdentifier string
	WillTopic        string
	WillMessage      []byte
	Username         string
	Password         []byte
}

func (pkt *Connect) Type() byte { return ConnectType }

func (pkt *Connect) String() string {
	return fmt.Sprintf("%s protocol_version: %d clean_session: %t client_id: %s",
		pkt.FixedHeader, pkt.ProtocolVersion, pkt.CleanSession, pkt.ClientIdentifier)
}

func (pkt *Connect) Pack(w io.Writer) error {
	body := getBody()
	defer putBody(body)

	body.Write(codec.EncodeString(pkt.ProtocolName))
	body.WriteByte(pkt.ProtocolVersion)
	body.WriteByte(codec.EncodeBool(pkt.CleanSession)<<1 |
		codec.EncodeBool(pkt.WillFlag)<<2 | pkt.WillQoS<<3 |
		codec.EncodeBool(pkt.WillRetain)<<5 |
		codec.EncodeBool(pkt.PasswordFlag)<<6 |
		codec.EncodeBool(pkt.UsernameFlag)<<7)
	body.Write(codec.EncodeUint16(pkt.KeepAlive))
	body.Write(codec.EncodeString(pkt.ClientIdentifier))
	if pkt.WillFlag {
		body.Write(codec.EncodeString(pkt.WillTopic))
		body.Write(codec.EncodeBytes(pkt.WillMessage))
	}
	if pkt.UsernameFlag {
		body.Write(codec.EncodeString(pkt.Username))
	}
	if pkt.PasswordFlag {
		body.Write(codec.EncodeBytes(pkt.Password))
	}

	pkt.RemainingLength = body.Len()
	out := append(pkt.FixedHeader.Encode(), body.Bytes()...)
	_, err := w.Write(out)
	return err
}

func (pkt *Connect) Unpack(r io.Reader) error {
	var err error
	if pkt.ProtocolName, err = codec.DecodeString(r); err != nil {
		return err
	}
	if pkt.ProtocolVersion, err = codec.DecodeByte(r); err != nil {
		return err
	}
	options, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	pkt.ReservedBit = 1 & options
	pkt.CleanSession = 1&(options>>1) > 0
	pkt.WillFlag = 1&(options>>2) > 0
	pkt.WillQoS = 3 & (options >> 3)
	pkt.WillRetain = 1&(options>>5) > 0
	pkt.PasswordFlag = 1&(options>>6) > 0
	pkt.UsernameFlag = 1&(options>>7) > 0
	if pkt.KeepAlive, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	if pkt.ClientIdentifier, err = codec.DecodeString(r); err != nil {
		return err
	}
	if pkt.WillFlag {
		if pkt.WillTopic, err = codec.DecodeString(r); err != nil {
			return err
		}
		if pkt.WillMessage, err = codec.DecodeBytes(r); err != nil {
			return err
		}
	}
	if pkt.UsernameFlag {
		if pkt.Username, err = codec.DecodeString(r); err != nil {
			return err
		}
	}
	if pkt.PasswordFlag {
		if pkt.Password, err = codec.DecodeBytes(r); err != nil {
			return err
		}
	}
	return nil
}
