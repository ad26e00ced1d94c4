// Package transport provides the rank-to-rank communicator used by collective
// transfers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"sync"
)

type (
	// messages are matched by (communicator, source world rank, tag)
	mkey struct {
		comm string
		src  int
		tag  int
	}
	result struct {
		err error
		b   []byte
	}
	// per-key FIFO: either queued messages or queued receivers, never both
	slot struct {
		msgs    [][]byte
		waiters []chan result
	}
	mailbox struct {
		slots map[mkey]*slot
		err   error
		mu    sync.Mutex
	}
)

func newMailbox() *mailbox { return &mailbox{slots: make(map[mkey]*slot, 16)} }

func (mb *mailbox) slot(k mkey) *slot {
	s, ok := mb.slots[k]
	if !ok {
		s = &slot{}
		mb.slots[k] = s
	}
	return s
}

// deliver takes ownership of b
func (mb *mailbox) deliver(k mkey, b []byte) {
	mb.mu.Lock()
	if mb.err != nil {
		mb.mu.Unlock()
		return
	}
	s := mb.slot(k)
	if len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		mb.gc(k, s)
		mb.mu.Unlock()
		ch <- result{b: b}
		return
	}
	s.msgs = append(s.msgs, b)
	mb.mu.Unlock()
}

// take reserves the next message for k; the receiver's place in line is fixed
// at the time of the call.
func (mb *mailbox) take(k mkey) <-chan result {
	ch := make(chan result, 1)
	mb.mu.Lock()
	if mb.err != nil {
		ch <- result{err: mb.err}
		mb.mu.Unlock()
		return ch
	}
	s := mb.slot(k)
	if len(s.msgs) > 0 {
		b := s.msgs[0]
		s.msgs[0] = nil
		s.msgs = s.msgs[1:]
		mb.gc(k, s)
		ch <- result{b: b}
	} else {
		s.waiters = append(s.waiters, ch)
	}
	mb.mu.Unlock()
	return ch
}

func (mb *mailbox) gc(k mkey, s *slot) {
	if len(s.msgs) == 0 && len(s.waiters) == 0 {
		delete(mb.slots, k)
	}
}

// abort fails all current and future receives
func (mb *mailbox) abort(err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.err != nil {
		return
	}
	mb.err = err
	for k, s := range mb.slots {
		for _, ch := range s.waiters {
			ch <- result{err: err}
		}
		delete(mb.slots, k)
	}
}

func (mb *mailbox) pending() (n int) {
	mb.mu.Lock()
	for _, s := range mb.slots {
		n += len(s.msgs)
	}
	mb.mu.Unlock()
	return
}
