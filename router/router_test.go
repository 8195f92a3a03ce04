// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/packets"
)

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		MaxConnections:       100,
		OutgoingQueueLen:     16,
		MaxPendingPerSession: 100,
	}
}

func startRouter(t *testing.T, cfg config.RouterConfig) (*Router, Sender) {
	t.Helper()
	rt, tx := New(cfg, nil)
	go rt.Run()
	t.Cleanup(rt.Close)
	return rt, tx
}

func connect(t *testing.T, tx Sender, clientID string, clean bool, will *Will) (ConnectionID, chan packets.Publish, ConnectionAck) {
	t.Helper()
	ack := make(chan ConnectionAck, 1)
	outgoing := make(chan packets.Publish, 16)
	require.NoError(t, tx.Send(0, Connect{
		ClientID: clientID,
		Clean:    clean,
		Will:     will,
		Ack:      ack,
		Outgoing: outgoing,
	}))

	select {
	case a := <-ack:
		require.NoError(t, a.Err)
		return a.ID, outgoing, a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection ack")
		return 0, nil, ConnectionAck{}
	}
}

func TestConnectAssignsDistinctIDs(t *testing.T) {
	_, tx := startRouter(t, testRouterConfig())

	id1, _, _ := connect(t, tx, "c1", true, nil)
	id2, _, _ := connect(t, tx, "c2", true, nil)
	id3, _, _ := connect(t, tx, "c3", true, nil)

	assert.NotEqual(t, id1, id2)
	assert.NotEqual(t, id2, id3)
	assert.NotEqual(t, id1, id3)
}

func TestConnectionLimit(t *testing.T) {
	cfg := testRouterConfig()
	cfg.MaxConnections = 1
	_, tx := startRouter(t, cfg)

	connect(t, tx, "c1", true, nil)

	ack := make(chan ConnectionAck, 1)
	require.NoError(t, tx.Send(0, Connect{
		ClientID: "c2",
		Clean:    true,
		Ack:      ack,
		Outgoing: make(chan packets.Publish, 1),
	}))
	a := <-ack
	assert.Error(t, a.Err)
}

func TestPublishReachesSubscriber(t *testing.T) {
	_, tx := startRouter(t, testRouterConfig())

	pubID, _, _ := connect(t, tx, "publisher", true, nil)
	subID, outgoing, _ := connect(t, tx, "subscriber", true, nil)

	require.NoError(t, tx.Send(subID, Subscribe{Topics: []string{"a/b"}}))
	require.NoError(t, tx.Send(pubID, Data{Topic: "a/b", Payload: []byte("hi")}))

	select {
	case pkt := <-outgoing:
		assert.Equal(t, "a/b", pkt.TopicName)
		assert.Equal(t, []byte("hi"), pkt.Payload)
	case <-time.After(time.Second):
		t.Fatal("publish never delivered")
	}
}

func TestDisconnectWithWillPublishes(t *testing.T) {
	_, tx := startRouter(t, testRouterConfig())

	will := &Will{Topic: "wills/c1", Payload: []byte("gone"), QoS: 0}
	id, _, _ := connect(t, tx, "c1", true, will)
	subID, outgoing, _ := connect(t, tx, "watcher", true, nil)
	require.NoError(t, tx.Send(subID, Subscribe{Topics: []string{"wills/c1"}}))

	require.NoError(t, tx.Send(id, Disconnect{ClientID: "c1", ExecuteWill: true, Clean: true}))

	select {
	case pkt := <-outgoing:
		assert.Equal(t, "wills/c1", pkt.TopicName)
		assert.Equal(t, []byte("gone"), pkt.Payload)
	case <-time.After(time.Second):
		t.Fatal("will never published")
	}
}

func TestCleanDisconnectSkipsWill(t *testing.T) {
	rt, tx := startRouter(t, testRouterConfig())

	will := &Will{Topic: "wills/c1", Payload: []byte("gone")}
	id, _, _ := connect(t, tx, "c1", true, will)
	subID, outgoing, _ := connect(t, tx, "watcher", true, nil)
	require.NoError(t, tx.Send(subID, Subscribe{Topics: []string{"wills/c1"}}))

	require.NoError(t, tx.Send(id, Disconnect{ClientID: "c1", ExecuteWill: false, Clean: true}))

	// Drain until the disconnect has been processed, then check nothing
	// was routed.
	require.Eventually(t, func() bool {
		return rt.Stats().Connections == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case pkt := <-outgoing:
		t.Fatalf("unexpected publish: %s", pkt.String())
	default:
	}
	assert.Equal(t, int64(0), rt.Stats().WillsPublished)
}

func TestNonCleanSessionRetainsPending(t *testing.T) {
	_, tx := startRouter(t, testRouterConfig())

	id, _, _ := connect(t, tx, "c1", false, nil)
	require.NoError(t, tx.Send(id, Subscribe{Topics: []string{"a/b"}}))

	pending := []packets.Publish{{TopicName: "a/b", Payload: []byte("undelivered")}}
	require.NoError(t, tx.Send(id, Disconnect{ClientID: "c1", ExecuteWill: false, Clean: false, Pending: pending}))

	// A publish while the session is offline queues on the session.
	pubID, _, _ := connect(t, tx, "publisher", true, nil)
	require.NoError(t, tx.Send(pubID, Data{Topic: "a/b", Payload: []byte("offline")}))

	_, _, ack := connect(t, tx, "c1", false, nil)
	assert.True(t, ack.SessionPresent)
	require.Len(t, ack.Pending, 2)
	assert.Equal(t, []byte("undelivered"), ack.Pending[0].Payload)
	assert.Equal(t, []byte("offline"), ack.Pending[1].Payload)
}

func TestIDNotReusedWhileRegistered(t *testing.T) {
	_, tx := startRouter(t, testRouterConfig())

	seen := make(map[ConnectionID]bool)
	for i := 0; i < 50; i++ {
		id, _, _ := connect(t, tx, "c", true, nil)
		assert.False(t, seen[id], "id %d handed out twice while registered", id)
		seen[id] = true
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	rt, tx := New(testRouterConfig(), nil)
	go rt.Run()
	rt.Close()

	assert.ErrorIs(t, tx.Send(1, Data{Topic: "a"}), ErrClosed)
}

func TestQueueConcurrentProducersExactlyOnce(t *testing.T) {
	const producers = 16
	const perProducer = 500

	q := newQueue()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.push(Message{ID: ConnectionID(p*perProducer + i)}))
			}
		}(p)
	}

	go func() {
		wg.Wait()
		q.close()
	}()

	seen := make(map[ConnectionID]int)
	for {
		m, ok := q.pop()
		if !ok {
			break
		}
		seen[m.ID]++
	}

	require.Len(t, seen, producers*perProducer)
	for id, n := range seen {
		require.Equal(t, 1, n, "message %d observed %d times", id, n)
	}
}
