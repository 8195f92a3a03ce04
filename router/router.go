// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package router implements the central routing engine and the message
// channel every connection reports through. Router state is owned by a
// single goroutine; all other goroutines reach it exclusively via the
// Sender handle.
package router

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/packets"
)

// Stats is a point-in-time snapshot of router activity, safe to read from
// any goroutine.
type Stats struct {
	Connections     int64 `json:"connections"`
	EventsProcessed int64 `json:"events_processed"`
	WillsPublished  int64 `json:"wills_published"`
}

type connection struct {
	clientID string
	clean    bool
	will     *Will
	outgoing chan packets.Publish
	topics   map[string]struct{}
}

// session holds state retained for a disconnected non-clean session.
type session struct {
	pending []packets.Publish
	topics  map[string]struct{}
}

// Router owns subscription routing and session state. It processes the
// inbound queue sequentially on the goroutine that calls Run; no other
// goroutine touches its maps.
type Router struct {
	config config.RouterConfig
	logger *slog.Logger
	queue  *queue

	nextID      ConnectionID
	freeIDs     []ConnectionID
	connections map[ConnectionID]*connection
	sessions    map[string]*session

	liveConns atomic.Int64
	processed atomic.Int64
	wills     atomic.Int64
}

// New creates a router and the send handle onto its inbound queue.
func New(cfg config.RouterConfig, logger *slog.Logger) (*Router, Sender) {
	if logger == nil {
		logger = slog.Default()
	}
	q := newQueue()
	r := &Router{
		config:      cfg,
		logger:      logger,
		queue:       q,
		nextID:      1,
		connections: make(map[ConnectionID]*connection),
		sessions:    make(map[string]*session),
	}
	return r, Sender{q: q}
}

// Run processes events until Close is called and the queue drains. It must
// run on a dedicated goroutine; the broker gives it one.
func (r *Router) Run() {
	for {
		msg, ok := r.queue.pop()
		if !ok {
			return
		}
		r.processed.Add(1)

		switch ev := msg.Event.(type) {
		case Connect:
			r.handleConnect(ev)
		case Data:
			r.handleData(msg.ID, ev)
		case Subscribe:
			r.handleSubscribe(msg.ID, ev)
		case Disconnect:
			r.handleDisconnect(msg.ID, ev)
		default:
			r.logger.Warn("dropping unknown router event", "id", int(msg.ID))
		}
	}
}

// Close stops the router once already-queued events are drained. Sends
// after Close fail with ErrClosed.
func (r *Router) Close() {
	r.queue.close()
}

// Stats returns a snapshot of router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Connections:     r.liveConns.Load(),
		EventsProcessed: r.processed.Load(),
		WillsPublished:  r.wills.Load(),
	}
}

func (r *Router) handleConnect(ev Connect) {
	if len(r.connections) >= r.config.MaxConnections {
		ev.Ack <- ConnectionAck{Err: fmt.Errorf("connection limit %d reached", r.config.MaxConnections)}
		return
	}

	id := r.allocateID()
	conn := &connection{
		clientID: ev.ClientID,
		clean:    ev.Clean,
		will:     ev.Will,
		outgoing: ev.Outgoing,
		topics:   make(map[string]struct{}),
	}

	ack := ConnectionAck{ID: id}
	if sess, ok := r.sessions[ev.ClientID]; ok && !ev.Clean {
		ack.SessionPresent = true
		ack.Pending = sess.pending
		conn.topics = sess.topics
	}
	delete(r.sessions, ev.ClientID)

	r.connections[id] = conn
	r.liveConns.Store(int64(len(r.connections)))
	r.logger.Debug("connection registered", "client_id", ev.ClientID, "id", int(id))
	ev.Ack <- ack
}

func (r *Router) handleData(id ConnectionID, ev Data) {
	if _, ok := r.connections[id]; !ok {
		r.logger.Warn("data from unregistered connection", "id", int(id))
		return
	}
	r.publish(ev.Topic, ev.Payload, ev.QoS, ev.Retain)
}

func (r *Router) handleSubscribe(id ConnectionID, ev Subscribe) {
	conn, ok := r.connections[id]
	if !ok {
		r.logger.Warn("subscribe from unregistered connection", "id", int(id))
		return
	}
	for _, topic := range ev.Topics {
		conn.topics[topic] = struct{}{}
	}
}

func (r *Router) handleDisconnect(id ConnectionID, ev Disconnect) {
	conn, ok := r.connections[id]
	if !ok {
		r.logger.Warn("disconnect for unregistered connection", "id", int(id), "client_id", ev.ClientID)
		return
	}

	if ev.ExecuteWill && conn.will != nil {
		r.wills.Add(1)
		r.publish(conn.will.Topic, conn.will.Payload, conn.will.QoS, conn.will.Retain)
	}

	if !ev.Clean {
		pending := ev.Pending
		if max := r.config.MaxPendingPerSession; max > 0 && len(pending) > max {
			pending = pending[len(pending)-max:]
		}
		r.sessions[ev.ClientID] = &session{
			pending: pending,
			topics:  conn.topics,
		}
	}

	delete(r.connections, id)
	r.freeIDs = append(r.freeIDs, id)
	r.liveConns.Store(int64(len(r.connections)))
	r.logger.Debug("connection deregistered", "client_id", ev.ClientID, "id", int(id), "execute_will", ev.ExecuteWill)
}

// publish fans a message out to every connection subscribed to its exact
// topic. Offline non-clean sessions queue it as pending.
func (r *Router) publish(topic string, payload []byte, qos byte, retain bool) {
	pkt := packets.Publish{
		FixedHeader: packets.FixedHeader{PacketType: packets.PublishType, QoS: qos, Retain: retain},
		TopicName:   topic,
		Payload:     payload,
	}

	for id, conn := range r.connections {
		if _, ok := conn.topics[topic]; !ok {
			continue
		}
		select {
		case conn.outgoing <- pkt:
		default:
			r.logger.Warn("outgoing queue full, dropping publish", "id", int(id), "client_id", conn.clientID, "topic", topic)
		}
	}

	for _, sess := range r.sessions {
		if _, ok := sess.topics[topic]; !ok {
			continue
		}
		if max := r.config.MaxPendingPerSession; max > 0 && len(sess.pending) >= max {
			sess.pending = sess.pending[1:]
		}
		sess.pending = append(sess.pending, pkt)
	}
}

// allocateID hands out the lowest free ID. IDs return to the free list
// only at deregistration, so an outstanding connection never shares one.
func (r *Router) allocateID() ConnectionID {
	if n := len(r.freeIDs); n > 0 {
		id := r.freeIDs[n-1]
		r.freeIDs = r.freeIDs[:n-1]
		return id
	}
	id := r.nextID
	r.nextID++
	return id
}
