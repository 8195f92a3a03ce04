// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/core"
	"github.com/absmach/mqttd/packets"
	"github.com/absmach/mqttd/router"
)

// runLink drives one connection through the connector over an in-memory
// pipe and completes the MQTT handshake on the client side.
func runLink(t *testing.T, c *connector, clientID string, clean bool) (net.Conn, *packets.ConnAck, chan error) {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	done := make(chan error, 1)
	go func() {
		done <- c.handleConnection(core.NewNetwork(server, 4096))
	}()

	connect := newConnect(clientID)
	connect.CleanSession = clean
	require.NoError(t, connect.Pack(client))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	pkt, err := packets.ReadPacket(client)
	require.NoError(t, err)
	require.NoError(t, client.SetReadDeadline(time.Time{}))
	connack, ok := pkt.(*packets.ConnAck)
	require.True(t, ok, "expected CONNACK, got %s", pkt.String())
	require.Equal(t, byte(packets.Accepted), connack.ReturnCode)

	return client, connack, done
}

// TestConnectorCleanTracksSessionState exercises every termination path
// with both session modes. The disconnect event's Clean flag decides
// whether the router retains the session, so a reconnect's SessionPresent
// flag observes exactly what the connector reported.
func TestConnectorCleanTracksSessionState(t *testing.T) {
	terminations := []struct {
		desc      string
		terminate func(t *testing.T, conn net.Conn)
	}{
		{
			desc: "client disconnect",
			terminate: func(t *testing.T, conn net.Conn) {
				pkt := &packets.Disconnect{FixedHeader: packets.FixedHeader{PacketType: packets.DisconnectType}}
				require.NoError(t, pkt.Pack(conn))
			},
		},
		{
			desc: "abrupt close",
			terminate: func(t *testing.T, conn net.Conn) {
				require.NoError(t, conn.Close())
			},
		},
		{
			desc: "protocol violation",
			terminate: func(t *testing.T, conn net.Conn) {
				// A second CONNECT is invalid mid-session.
				require.NoError(t, newConnect("again").Pack(conn))
			},
		},
	}

	for _, clean := range []bool{true, false} {
		for _, tc := range terminations {
			desc := tc.desc
			if clean {
				desc = "clean session " + desc
			} else {
				desc = "persistent session " + desc
			}
			t.Run(desc, func(t *testing.T) {
				logger := slog.New(slog.NewTextHandler(io.Discard, nil))
				rt, tx := router.New(config.RouterConfig{
					MaxConnections:       100,
					OutgoingQueueLen:     16,
					MaxPendingPerSession: 100,
				}, logger)
				go rt.Run()
				t.Cleanup(rt.Close)

				settings := config.DefaultConnectionSettings()
				c := newConnector(&settings, tx, logger)

				conn, connack, done := runLink(t, c, "c1", clean)
				assert.False(t, connack.SessionPresent)

				tc.terminate(t, conn)
				require.NoError(t, <-done)
				require.Eventually(t, func() bool {
					return rt.Stats().Connections == 0
				}, time.Second, 5*time.Millisecond, "connection never deregistered")

				// A persistent session survives any termination path, a
				// clean one never does.
				_, connack, _ = runLink(t, c, "c1", false)
				assert.Equal(t, !clean, connack.SessionPresent)
			})
		}
	}
}
