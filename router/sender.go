// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send after the router has shut down.
var ErrClosed = errors.New("router channel closed")

// Sender is a cloneable handle onto the router's inbound queue. Sends
// never block: the queue is unbounded, so backpressure comes from
// connection-level limits, not from the channel. Any number of goroutines
// may send concurrently; the router observes messages in arrival order,
// each exactly once.
type Sender struct {
	q *queue
}

// Clone returns an independently usable handle onto the same queue.
func (s Sender) Clone() Sender {
	return Sender{q: s.q}
}

// Send enqueues one event keyed by connection ID.
func (s Sender) Send(id ConnectionID, ev Event) error {
	return s.q.push(Message{ID: id, Event: ev})
}

// queue is an unbounded MPSC queue: many senders, one router.
type queue struct {
	mu     sync.Mutex
	items  []Message
	signal chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{
		signal: make(chan struct{}, 1),
	}
}

func (q *queue) push(m Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks until a message is available or the queue is closed and
// drained.
func (q *queue) pop() (Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Message{}, false
		}
		<-q.signal
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
