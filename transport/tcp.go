// Package transport provides the rank-to-rank communicator used by collective
// transfers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"io"
	"net"
	"sync"
	ratomic "sync/atomic"
	"time"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/memsys"
	"github.com/NVIDIA/obsxfer/stats"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
	"golang.org/x/sync/errgroup"
)

const (
	dialRetry   = 100 * time.Millisecond
	dialTimeout = 3 * time.Second
)

type (
	// Node is one rank of a TCP world: every rank listens on its own address
	// and keeps one outbound connection to every peer.
	Node struct {
		ln      net.Listener
		mb      *mailbox
		g       *errgroup.Group
		peers   []*peer
		inbound []net.Conn
		addrs   []string
		seen    []bool // inbound hello received, by src
		rank    int
		mu      sync.Mutex
		closed  ratomic.Bool
		aborted ratomic.Bool
	}
	peer struct {
		conn net.Conn
		w    *msgp.Writer
		mu   sync.Mutex
	}
)

// NewNode connects rank to all other ranks in addrs (one address per rank).
// It returns once every outbound connection is established and every peer
// has connected back, or when ctx is done.
func NewNode(ctx context.Context, rank int, addrs []string) (*Node, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, errors.Errorf("rank %d out of range [0, %d)", rank, len(addrs))
	}
	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, errors.Wrapf(err, "rank %d: listen", rank)
	}
	n := &Node{
		ln:    ln,
		mb:    newMailbox(),
		g:     &errgroup.Group{},
		peers: make([]*peer, len(addrs)),
		addrs: addrs,
		seen:  make([]bool, len(addrs)),
		rank:  rank,
	}
	accepted := make(chan error, len(addrs))
	n.g.Go(func() error { return n.acceptLoop(accepted) })

	for dst := range addrs {
		if dst == rank {
			continue
		}
		if err := n.dial(ctx, dst); err != nil {
			n.Close()
			return nil, err
		}
	}
	for range len(addrs) - 1 {
		select {
		case err := <-accepted:
			if err != nil {
				n.Close()
				return nil, err
			}
		case <-ctx.Done():
			n.Close()
			return nil, errors.Wrapf(ctx.Err(), "rank %d: waiting for peers", rank)
		}
	}
	nlog.Infof("rank %d: connected to %d peer%s", rank, len(addrs)-1, cos.Plural(len(addrs)-1))
	return n, nil
}

func (n *Node) dial(ctx context.Context, dst int) error {
	d := net.Dialer{Timeout: dialTimeout}
	for {
		conn, err := d.DialContext(ctx, "tcp", n.addrs[dst])
		if err == nil {
			p := &peer{conn: conn, w: msgp.NewWriterSize(conn, memsys.DefaultBufSize)}
			hello := frame{comm: worldID, src: n.rank, tag: tagHello}
			if err := p.send(&hello); err != nil {
				conn.Close()
				return errors.Wrapf(err, "rank %d: hello to %d", n.rank, dst)
			}
			n.peers[dst] = p
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(err, "rank %d: dial %d (%s)", n.rank, dst, n.addrs[dst])
		case <-time.After(dialRetry):
		}
	}
}

func (n *Node) acceptLoop(accepted chan<- error) error {
	for range len(n.addrs) - 1 {
		conn, err := n.ln.Accept()
		if err != nil {
			if n.closed.Load() {
				return nil
			}
			n.mb.abort(err)
			return err
		}
		n.mu.Lock()
		n.inbound = append(n.inbound, conn)
		n.mu.Unlock()
		n.g.Go(func() error { return n.recvLoop(conn, accepted) })
	}
	return nil
}

func (n *Node) recvLoop(conn net.Conn, accepted chan<- error) error {
	defer conn.Close()
	var (
		r     = msgp.NewReaderSize(conn, memsys.DefaultBufSize)
		hello frame
	)
	if err := hello.DecodeMsg(r); err != nil || hello.tag != tagHello {
		if err == nil {
			err = errors.Errorf("rank %d: expected hello, got tag %d", n.rank, hello.tag)
		}
		n.mb.abort(err)
		accepted <- err
		return err
	}
	if err := n.admit(hello.src); err != nil {
		n.mb.abort(err)
		accepted <- err
		return err
	}
	accepted <- nil
	for {
		var f frame
		if err := f.DecodeMsg(r); err != nil {
			if n.closed.Load() || errors.Is(err, io.EOF) {
				return nil
			}
			err = errors.Wrapf(err, "rank %d: receive from %d", n.rank, hello.src)
			n.mb.abort(err)
			return err
		}
		// the connection, not the frame, identifies the sender
		if f.tag == tagAbort {
			n.aborted.Store(true)
			n.mb.abort(abortErr(hello.src, string(f.body)))
			return nil
		}
		n.mb.deliver(mkey{comm: f.comm, src: hello.src, tag: f.tag}, f.body)
	}
}

// admit accepts the first inbound connection of every peer rank
func (n *Node) admit(src int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case src < 0 || src >= len(n.addrs):
		return errors.Errorf("rank %d: hello from rank %d out of range [0, %d)", n.rank, src, len(n.addrs))
	case src == n.rank:
		return errors.Errorf("rank %d: hello from self", n.rank)
	case n.seen[src]:
		return errors.Errorf("rank %d: duplicate connection from rank %d", n.rank, src)
	}
	n.seen[src] = true
	return nil
}

func (p *peer) send(f *frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := f.EncodeMsg(p.w); err != nil {
		return err
	}
	return p.w.Flush()
}

func (n *Node) box() *mailbox { return n.mb }

func (n *Node) route(dst int, k mkey, b []byte) error {
	if dst == n.rank {
		n.mb.deliver(k, b)
		return nil
	}
	if dst < 0 || dst >= len(n.peers) || n.peers[dst] == nil {
		return errors.Errorf("rank %d: no connection to %d", n.rank, dst)
	}
	err := n.peers[dst].send(&frame{comm: k.comm, src: k.src, tag: k.tag, body: b})
	memsys.PageMM().Free(b)
	return err
}

// abort tells every peer that rank failed, then fails local receives.
// Only the first abort (local or remote) is broadcast.
func (n *Node) abort(rank int, cause error) {
	if !n.aborted.CompareAndSwap(false, true) {
		n.mb.abort(abortErr(rank, cause))
		return
	}
	msg := cause.Error()
	for dst, p := range n.peers {
		if p == nil {
			continue
		}
		f := frame{comm: worldID, src: n.rank, tag: tagAbort, body: []byte(msg)}
		if err := p.send(&f); err != nil {
			nlog.Warningf("rank %d: abort to %d: %v", n.rank, dst, err)
		}
	}
	n.mb.abort(abortErr(rank, cause))
}

// Comm returns the world communicator of this node.
func (n *Node) Comm(tracker stats.Tracker) Comm {
	ranks := make([]int, len(n.addrs))
	for i := range ranks {
		ranks[i] = i
	}
	return newComm(n, tracker, worldID, ranks, n.rank)
}

func (n *Node) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := n.ln.Close()
	for _, p := range n.peers {
		if p != nil {
			p.conn.Close()
		}
	}
	n.mu.Lock()
	for _, conn := range n.inbound {
		conn.Close()
	}
	n.mu.Unlock()
	n.mb.abort(ErrAborted)
	if e := n.g.Wait(); e != nil && err == nil {
		err = e
	}
	return err
}
