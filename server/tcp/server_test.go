// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/packets"
	"github.com/absmach/mqttd/router"
)

// startBroker runs a router and one listener on an ephemeral port, and
// returns a dialable 127.0.0.1 address.
func startBroker(t *testing.T, settings config.ServerSettings) string {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, tx := router.New(config.RouterConfig{
		MaxConnections:       100,
		OutgoingQueueLen:     100,
		MaxPendingPerSession: 100,
	}, logger)
	go rt.Run()
	t.Cleanup(rt.Close)

	srv := New("test", settings, tx, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = srv.Listen(ctx)
	}()

	require.Eventually(t, func() bool {
		return srv.Addr() != nil
	}, 5*time.Second, 10*time.Millisecond, "listener never bound")

	_, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	return net.JoinHostPort("127.0.0.1", port)
}

// handshake sends the CONNECT and asserts an accepting CONNACK.
func handshake(t *testing.T, conn net.Conn, connect *packets.Connect) {
	t.Helper()

	require.NoError(t, connect.Pack(conn))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	pkt, err := packets.ReadPacket(conn)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Time{}))

	connack, ok := pkt.(*packets.ConnAck)
	require.True(t, ok, "expected CONNACK, got %s", pkt.String())
	require.Equal(t, byte(packets.Accepted), connack.ReturnCode)
}

func newConnect(clientID string) *packets.Connect {
	return &packets.Connect{
		FixedHeader:      packets.FixedHeader{PacketType: packets.ConnectType},
		ProtocolName:     "MQTT",
		ProtocolVersion:  4,
		CleanSession:     true,
		KeepAlive:        30,
		ClientIdentifier: clientID,
	}
}

func TestAcceptDelaySpacing(t *testing.T) {
	const delay = 40 * time.Millisecond
	addr := startBroker(t, config.ServerSettings{
		NextConnectionDelay: config.Duration(delay),
		Connections:         config.DefaultConnectionSettings(),
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer conn.Close()
		handshake(t, conn, newConnect(fmt.Sprintf("spaced-%d", i)))
	}
	elapsed := time.Since(start)

	// Three admissions through a one-per-delay throttle take at least two
	// full delay periods.
	assert.GreaterOrEqual(t, elapsed, 2*delay, "accepts were not spaced out")
}

func TestPahoPubSub(t *testing.T) {
	addr := startBroker(t, config.ServerSettings{
		Connections: config.DefaultConnectionSettings(),
	})

	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID("paho-e2e").
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	defer client.Disconnect(100)

	received := make(chan mqtt.Message, 1)
	token = client.Subscribe("alpha/metrics", 1, func(_ mqtt.Client, m mqtt.Message) {
		received <- m
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	token = client.Publish("alpha/metrics", 1, false, "42")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	select {
	case m := <-received:
		assert.Equal(t, "alpha/metrics", m.Topic())
		assert.Equal(t, []byte("42"), m.Payload())
	case <-time.After(5 * time.Second):
		t.Fatal("published message never delivered")
	}
}

func TestMutualTLSRejectsAndContinues(t *testing.T) {
	certs := generateTestCerts(t)
	addr := startBroker(t, config.ServerSettings{
		CertPath:    certs.ServerCertFile,
		KeyPath:     certs.ServerKeyFile,
		CAPath:      certs.CAFile,
		Connections: config.DefaultConnectionSettings(),
	})

	// A client without a certificate must not get past the handshake. With
	// TLS 1.3 the rejection can surface on the first read instead.
	conn, err := tls.Dial("tcp", addr, clientTLSConfig(t, certs, false))
	if err == nil {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, err = conn.Read(make([]byte, 1))
		conn.Close()
	}
	assert.Error(t, err, "handshake without client cert should fail")

	// The listener keeps accepting: a certified client completes the MQTT
	// handshake right after.
	authed, err := tls.Dial("tcp", addr, clientTLSConfig(t, certs, true))
	require.NoError(t, err)
	defer authed.Close()
	handshake(t, authed, newConnect("mtls-client"))
}

func TestWillPublishedOnAbruptClose(t *testing.T) {
	addr := startBroker(t, config.ServerSettings{
		Connections: config.DefaultConnectionSettings(),
	})

	received := subscribePaho(t, addr, "devices/state")

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	connect := newConnect("doomed")
	connect.WillFlag = true
	connect.WillTopic = "devices/state"
	connect.WillMessage = []byte("gone")
	handshake(t, conn, connect)

	// Sever the transport without a DISCONNECT.
	require.NoError(t, conn.Close())

	select {
	case m := <-received:
		assert.Equal(t, []byte("gone"), m.Payload())
	case <-time.After(5 * time.Second):
		t.Fatal("will was not published after abrupt close")
	}
}

func TestNoWillOnCleanDisconnect(t *testing.T) {
	addr := startBroker(t, config.ServerSettings{
		Connections: config.DefaultConnectionSettings(),
	})

	received := subscribePaho(t, addr, "devices/state")

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	connect := newConnect("polite")
	connect.WillFlag = true
	connect.WillTopic = "devices/state"
	connect.WillMessage = []byte("gone")
	handshake(t, conn, connect)

	disconnect := &packets.Disconnect{FixedHeader: packets.FixedHeader{PacketType: packets.DisconnectType}}
	require.NoError(t, disconnect.Pack(conn))
	require.NoError(t, conn.Close())

	select {
	case m := <-received:
		t.Fatalf("unexpected will after clean disconnect: %q", m.Payload())
	case <-time.After(300 * time.Millisecond):
	}
}

// subscribePaho connects a paho client subscribed to topic and returns its
// delivery channel. The client disconnects on test cleanup.
func subscribePaho(t *testing.T, addr, topic string) <-chan mqtt.Message {
	t.Helper()

	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID("paho-sub-" + topic).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	received := make(chan mqtt.Message, 1)
	token = client.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		received <- m
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	return received
}
