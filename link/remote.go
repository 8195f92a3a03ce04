// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package link implements the per-connection protocol state machine. A
// remote link owns one network connection from MQTT handshake to
// termination; a local link serves in-process clients over the same router
// channel without a network transport.
package link

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/core"
	"github.com/absmach/mqttd/packets"
	"github.com/absmach/mqttd/router"
)

var (
	// ErrDisconnect reports a protocol-level disconnect requested by the
	// client. It is the only termination the connector maps to
	// execute_will = false.
	ErrDisconnect = errors.New("client requested disconnect")

	// ErrWrongPacket reports a packet that is invalid at this point of the
	// session, e.g. a first packet that is not CONNECT.
	ErrWrongPacket = errors.New("unexpected packet type")

	// ErrClientIDTooLong reports a client identifier over the configured
	// limit.
	ErrClientIDTooLong = errors.New("client id too long")

	// ErrNotAuthorized reports failed username/password authentication.
	ErrNotAuthorized = errors.New("bad username or password")
)

// Remote drives one network connection after a successful handshake.
type Remote struct {
	settings *config.ConnectionSettings
	routerTx router.Sender
	network  *core.Network
	logger   *slog.Logger

	id       router.ConnectionID
	clientID string
	state    *State
	outgoing chan packets.Publish
}

// NewRemote performs the MQTT handshake on network and registers the
// connection with the router. It returns the negotiated client identifier,
// the router-assigned connection ID and the runnable link. On any failure
// the caller owes no disconnect event: either the connection never
// registered, or NewRemote released the registration itself.
func NewRemote(settings *config.ConnectionSettings, routerTx router.Sender, network *core.Network, logger *slog.Logger) (string, router.ConnectionID, *Remote, error) {
	if logger == nil {
		logger = slog.Default()
	}

	connect, err := readConnect(network, time.Duration(settings.ConnectionTimeout))
	if err != nil {
		return "", 0, nil, err
	}

	if len(connect.ClientIdentifier) > settings.MaxClientIDLen {
		refuse(network, packets.ErrRefusedIDRejected)
		return "", 0, nil, fmt.Errorf("%w: %d bytes", ErrClientIDTooLong, len(connect.ClientIdentifier))
	}
	if !authorized(settings, connect) {
		refuse(network, packets.ErrRefusedBadUsernameOrPassword)
		return "", 0, nil, ErrNotAuthorized
	}

	var will *router.Will
	if connect.WillFlag {
		will = &router.Will{
			Topic:   connect.WillTopic,
			Payload: connect.WillMessage,
			QoS:     connect.WillQoS,
			Retain:  connect.WillRetain,
		}
	}

	ackCh := make(chan router.ConnectionAck, 1)
	outgoing := make(chan packets.Publish, settings.MaxInflightCount)
	ev := router.Connect{
		ClientID: connect.ClientIdentifier,
		Clean:    connect.CleanSession,
		Will:     will,
		Ack:      ackCh,
		Outgoing: outgoing,
	}
	if err := routerTx.Send(0, ev); err != nil {
		return "", 0, nil, fmt.Errorf("router registration: %w", err)
	}
	ack := <-ackCh
	if ack.Err != nil {
		refuse(network, packets.ErrRefusedServerUnavailable)
		return "", 0, nil, fmt.Errorf("router refused connection: %w", ack.Err)
	}

	l := &Remote{
		settings: settings,
		routerTx: routerTx,
		network:  network,
		logger:   logger,
		id:       ack.ID,
		clientID: connect.ClientIdentifier,
		state:    newState(connect.CleanSession, ack.Pending),
		outgoing: outgoing,
	}

	connack := &packets.ConnAck{
		FixedHeader:    packets.FixedHeader{PacketType: packets.ConnAckType},
		SessionPresent: ack.SessionPresent,
		ReturnCode:     packets.Accepted,
	}
	if err := network.WritePacket(connack); err != nil {
		// The registration is already live and must be released here, or
		// the router would hold the entry forever. The client never saw
		// the CONNACK, so this counts as abnormal termination.
		_ = routerTx.Send(ack.ID, router.Disconnect{
			ClientID:    connect.ClientIdentifier,
			ExecuteWill: true,
			Clean:       l.state.Clean(),
			Pending:     l.state.Pending(),
		})
		return "", 0, nil, fmt.Errorf("connack: %w", err)
	}

	return connect.ClientIdentifier, ack.ID, l, nil
}

// State returns the link's session state. Callable after Run returns
// regardless of how the link terminated.
func (l *Remote) State() *State {
	return l.state
}

// Run executes the session until the connection ends. The returned error
// classifies the termination: ErrDisconnect for a client-requested
// disconnect, core.ErrConnectionAborted for a transport-level close, any
// other error for a genuine fault.
func (l *Remote) Run() error {
	inbound := make(chan packets.ControlPacket)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			pkt, err := l.network.ReadPacket()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- pkt:
			case <-done:
				return
			}
		}
	}()

	for {
		if err := l.flushPending(); err != nil {
			return err
		}

		select {
		case pkt := <-inbound:
			if err := l.handleInbound(pkt); err != nil {
				return err
			}
		case err := <-readErr:
			return err
		case pub := <-l.outgoing:
			l.state.queue(pub)
		}
	}
}

func (l *Remote) handleInbound(pkt packets.ControlPacket) error {
	switch p := pkt.(type) {
	case *packets.Publish:
		ev := router.Data{Topic: p.TopicName, Payload: p.Payload, QoS: p.QoS, Retain: p.Retain}
		if err := l.routerTx.Send(l.id, ev); err != nil {
			return fmt.Errorf("router send: %w", err)
		}
		if p.QoS == 1 {
			ack := &packets.PubAck{FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType}, ID: p.ID}
			if err := l.network.WritePacket(ack); err != nil {
				return err
			}
		}
		if delay := time.Duration(l.settings.ThrottleDelay); delay > 0 {
			time.Sleep(delay)
		}
		return nil

	case *packets.Subscribe:
		ev := router.Subscribe{Topics: p.Topics}
		if err := l.routerTx.Send(l.id, ev); err != nil {
			return fmt.Errorf("router send: %w", err)
		}
		codes := make([]byte, len(p.Topics))
		for i := range p.Topics {
			if i < len(p.QoSs) && p.QoSs[i] <= 1 {
				codes[i] = p.QoSs[i]
			}
		}
		ack := &packets.SubAck{FixedHeader: packets.FixedHeader{PacketType: packets.SubAckType}, ID: p.ID, ReturnCodes: codes}
		return l.network.WritePacket(ack)

	case *packets.PubAck:
		l.state.ack(p.ID)
		return nil

	case *packets.PingReq:
		resp := &packets.PingResp{FixedHeader: packets.FixedHeader{PacketType: packets.PingRespType}}
		return l.network.WritePacket(resp)

	case *packets.Disconnect:
		return ErrDisconnect

	default:
		return fmt.Errorf("%w: %s", ErrWrongPacket, pkt.String())
	}
}

// flushPending writes queued publishes out within the inflight window.
func (l *Remote) flushPending() error {
	for {
		pub, ok := l.state.nextOutgoing(l.settings.MaxInflightCount, l.settings.MaxInflightSize)
		if !ok {
			return nil
		}
		if err := l.network.WritePacket(&pub); err != nil {
			// Undelivered after all: keep it for the disconnect event,
			// ahead of anything queued behind it.
			l.state.ack(pub.ID)
			l.state.requeue(pub)
			return err
		}
	}
}

// readConnect reads and validates the first packet under the handshake
// deadline.
func readConnect(network *core.Network, timeout time.Duration) (*packets.Connect, error) {
	if err := network.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer network.SetReadDeadline(time.Time{})

	pkt, err := network.ReadPacket()
	if err != nil {
		return nil, fmt.Errorf("waiting for connect: %w", err)
	}
	connect, ok := pkt.(*packets.Connect)
	if !ok {
		return nil, fmt.Errorf("%w: %s, want CONNECT", ErrWrongPacket, pkt.String())
	}
	return connect, nil
}

func authorized(settings *config.ConnectionSettings, connect *packets.Connect) bool {
	if settings.Username == "" {
		return true
	}
	userOK := subtle.ConstantTimeCompare([]byte(connect.Username), []byte(settings.Username)) == 1
	passOK := subtle.ConstantTimeCompare(connect.Password, []byte(settings.Password)) == 1
	return userOK && passOK
}

// refuse writes a CONNACK with the given return code, ignoring write
// failures: the connection is going away either way.
func refuse(network *core.Network, code byte) {
	connack := &packets.ConnAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.ConnAckType},
		ReturnCode:  code,
	}
	_ = network.WritePacket(connack)
}
