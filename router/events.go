// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"github.com/absmach/mqttd/packets"
)

// ConnectionID identifies one registered connection. IDs are assigned at
// registration and never reused while the connection remains registered.
type ConnectionID int

// Message is one unit on the router channel: an event keyed by the
// connection that produced it. Connect events carry ID 0 because the ID
// is assigned by the router itself.
type Message struct {
	ID    ConnectionID
	Event Event
}

// Event is implemented by every router event variant.
type Event interface {
	eventName() string
}

// Will is the message published on a client's behalf when it terminates
// with ExecuteWill set.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Connect registers a new connection with the router. The router replies
// on Ack and delivers matched publishes on Outgoing for the connection's
// lifetime.
type Connect struct {
	ClientID string
	Clean    bool
	Will     *Will
	Ack      chan ConnectionAck
	Outgoing chan packets.Publish
}

// ConnectionAck is the router's reply to a Connect event.
type ConnectionAck struct {
	ID             ConnectionID
	SessionPresent bool
	Pending        []packets.Publish
	// Err is non-nil when registration was refused, e.g. at the
	// connection limit.
	Err error
}

// Data carries one inbound publish from a link.
type Data struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Subscribe adds topic filters for a connection.
type Subscribe struct {
	Topics []string
}

// Disconnect reports the end of a connection's lifetime. Produced exactly
// once per registered connection.
type Disconnect struct {
	ClientID    string
	ExecuteWill bool
	Clean       bool
	Pending     []packets.Publish
}

func (Connect) eventName() string    { return "connect" }
func (Data) eventName() string       { return "data" }
func (Subscribe) eventName() string  { return "subscribe" }
func (Disconnect) eventName() string { return "disconnect" }
