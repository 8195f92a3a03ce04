// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package link

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/absmach/mqttd/packets"
	"github.com/absmach/mqttd/router"
)

// ErrNotConnected is returned by local link operations before Connect.
var ErrNotConnected = errors.New("local link not connected")

// Local is an in-process link for embedded clients. It bypasses the
// network listeners entirely and talks straight to the router channel,
// with the same registration contract a remote link has.
type Local struct {
	clientID string
	routerTx router.Sender

	id       router.ConnectionID
	outgoing chan packets.Publish
}

// NewLocal creates an unconnected local link. An empty clientID gets a
// generated one.
func NewLocal(clientID string, routerTx router.Sender, queueLen int) *Local {
	if clientID == "" {
		clientID = "local-" + uuid.NewString()
	}
	if queueLen < 1 {
		queueLen = 100
	}
	return &Local{
		clientID: clientID,
		routerTx: routerTx,
		outgoing: make(chan packets.Publish, queueLen),
	}
}

// ClientID returns the link's client identifier.
func (l *Local) ClientID() string {
	return l.clientID
}

// Connect registers the link with the router. Local links are always
// clean sessions without a will.
func (l *Local) Connect() error {
	ackCh := make(chan router.ConnectionAck, 1)
	ev := router.Connect{
		ClientID: l.clientID,
		Clean:    true,
		Ack:      ackCh,
		Outgoing: l.outgoing,
	}
	if err := l.routerTx.Send(0, ev); err != nil {
		return err
	}
	ack := <-ackCh
	if ack.Err != nil {
		return fmt.Errorf("router refused connection: %w", ack.Err)
	}
	l.id = ack.ID
	return nil
}

// Publish routes one message through the router.
func (l *Local) Publish(topic string, payload []byte) error {
	if l.id == 0 {
		return ErrNotConnected
	}
	return l.routerTx.Send(l.id, router.Data{Topic: topic, Payload: payload})
}

// Subscribe adds topic filters for this link.
func (l *Local) Subscribe(topics ...string) error {
	if l.id == 0 {
		return ErrNotConnected
	}
	return l.routerTx.Send(l.id, router.Subscribe{Topics: topics})
}

// Recv returns the channel of publishes routed to this link.
func (l *Local) Recv() <-chan packets.Publish {
	return l.outgoing
}

// Disconnect deregisters the link. Exactly one disconnect event is sent.
func (l *Local) Disconnect() error {
	if l.id == 0 {
		return ErrNotConnected
	}
	ev := router.Disconnect{ClientID: l.clientID, ExecuteWill: false, Clean: true}
	err := l.routerTx.Send(l.id, ev)
	l.id = 0
	return err
}
