// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package link

import (
	"github.com/absmach/mqttd/packets"
)

// State tracks the session-level bookkeeping of one link: the clean-session
// flag negotiated at CONNECT, messages routed to the client but not yet
// written out, and the inflight window toward the client. It belongs to a
// single link goroutine and may be inspected after the run loop returns.
type State struct {
	clean    bool
	pending  []packets.Publish
	inflight map[uint16]int // packet ID -> payload size
	size     int
	nextID   uint16
}

func newState(clean bool, pending []packets.Publish) *State {
	return &State{
		clean:    clean,
		pending:  pending,
		inflight: make(map[uint16]int),
		nextID:   1,
	}
}

// Clean reports whether the session leaves no state behind: a clean-session
// connection with nothing pending.
func (s *State) Clean() bool {
	return s.clean && len(s.pending) == 0 && len(s.inflight) == 0
}

// Pending returns the messages that were queued for the client but never
// delivered. Valid after the link's run loop has returned.
func (s *State) Pending() []packets.Publish {
	return s.pending
}

func (s *State) queue(pkt packets.Publish) {
	s.pending = append(s.pending, pkt)
}

// requeue puts an undelivered publish back at the head of the pending
// queue so the disconnect snapshot keeps arrival order.
func (s *State) requeue(pkt packets.Publish) {
	s.pending = append([]packets.Publish{pkt}, s.pending...)
}

// nextOutgoing pops the head of the pending queue, respecting the inflight
// window. Returns false when nothing may be sent right now.
func (s *State) nextOutgoing(maxCount, maxSize int) (packets.Publish, bool) {
	if len(s.pending) == 0 || len(s.inflight) >= maxCount {
		return packets.Publish{}, false
	}
	head := s.pending[0]
	if len(s.inflight) > 0 && s.size+len(head.Payload) > maxSize {
		return packets.Publish{}, false
	}

	s.pending = s.pending[1:]
	if head.QoS > 0 {
		head.ID = s.nextID
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		s.inflight[head.ID] = len(head.Payload)
		s.size += len(head.Payload)
	}
	return head, true
}

// ack releases the inflight slot held by the given packet ID.
func (s *State) ack(id uint16) {
	if sz, ok := s.inflight[id]; ok {
		delete(s.inflight, id)
		s.size -= sz
	}
}
