// Package transport provides the rank-to-rank communicator used by collective
// transfers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/debug"
	"github.com/NVIDIA/obsxfer/memsys"
	"github.com/NVIDIA/obsxfer/stats"

	"github.com/pkg/errors"
)

// router moves a message to the mailbox of world rank dst
type router interface {
	route(dst int, k mkey, b []byte) error
	box() *mailbox
	abort(rank int, cause error)
}

type comm struct {
	r       router
	tracker stats.Tracker
	id      string
	ranks   []int // comm rank => world rank
	rank    int
	seq     int
	splits  int
}

// interface guard
var _ Comm = (*comm)(nil)

func newComm(r router, tracker stats.Tracker, id string, ranks []int, rank int) *comm {
	if tracker == nil {
		tracker = (*stats.Prom)(nil)
	}
	return &comm{r: r, tracker: tracker, id: id, ranks: ranks, rank: rank}
}

func (c *comm) Rank() int              { return c.rank }
func (c *comm) Size() int              { return len(c.ranks) }
func (c *comm) WorldRank(rank int) int { return c.ranks[rank] }
func (c *comm) String() string         { return fmt.Sprintf("comm[%s r%d/%d]", c.id, c.rank, len(c.ranks)) }

func (c *comm) Abort(cause error) { c.r.abort(c.ranks[c.rank], cause) }

func (c *comm) check(peer int) error {
	if peer < 0 || peer >= len(c.ranks) {
		return errors.Errorf("%s: invalid peer rank %d", c, peer)
	}
	return nil
}

func (c *comm) key(src, tag int) mkey { return mkey{comm: c.id, src: c.ranks[src], tag: tag} }

func (c *comm) Isend(buf []byte, dst, tag int) *Request {
	if err := c.check(dst); err != nil {
		return completed(0, err)
	}
	// the router owns b; Irecv (or a remote send) returns it to the slabs
	b := memsys.PageMM().AllocSize(len(buf))
	copy(b, buf)
	k := mkey{comm: c.id, src: c.ranks[c.rank], tag: tag}
	if err := c.r.route(c.ranks[dst], k, b); err != nil {
		return completed(0, errors.Wrapf(err, "%s: send %dB to %d, tag %d", c, len(buf), dst, tag))
	}
	c.tracker.Add(stats.BytesSent, int64(len(buf)))
	c.tracker.Inc(stats.NumMsgs)
	return completed(len(buf), nil)
}

func (c *comm) Send(buf []byte, dst, tag int) error {
	_, err := c.Isend(buf, dst, tag).Wait()
	return err
}

func (c *comm) Irecv(buf []byte, src, tag int) *Request {
	if err := c.check(src); err != nil {
		return completed(0, err)
	}
	var (
		ch  = c.r.box().take(c.key(src, tag))
		req = &Request{done: make(chan struct{})}
	)
	go func() {
		res := <-ch
		switch {
		case res.err != nil:
			req.err = res.err
		case len(res.b) > len(buf):
			req.err = cos.NewErrSizeMismatch(fmt.Sprintf("%s: receive buffer (from %d, tag %d)", c, src, tag),
				len(res.b), len(buf))
		default:
			req.n = copy(buf, res.b)
			memsys.PageMM().Free(res.b)
			c.tracker.Add(stats.BytesRecv, int64(req.n))
		}
		close(req.done)
	}()
	return req
}

func (c *comm) Recv(src, tag int) ([]byte, error) {
	if err := c.check(src); err != nil {
		return nil, err
	}
	res := <-c.r.box().take(c.key(src, tag))
	if res.err != nil {
		return nil, res.err
	}
	c.tracker.Add(stats.BytesRecv, int64(len(res.b)))
	return res.b, nil
}

//
// collectives: built on point-to-point with negative (reserved) tags
//

func (c *comm) collTag() int {
	c.seq++
	return -c.seq
}

func (c *comm) Bcast(buf []byte, root int) ([]byte, error) {
	if err := c.check(root); err != nil {
		return nil, err
	}
	tag := c.collTag()
	if c.rank != root {
		return c.Recv(root, tag)
	}
	for i := range c.ranks {
		if i == root {
			continue
		}
		if err := c.Send(buf, i, tag); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (c *comm) Gather(own []byte, root int) ([][]byte, error) {
	if err := c.check(root); err != nil {
		return nil, err
	}
	tag := c.collTag()
	if c.rank != root {
		return nil, c.Send(own, root, tag)
	}
	out := make([][]byte, len(c.ranks))
	for i := range c.ranks {
		if i == root {
			out[i] = own
			continue
		}
		b, err := c.Recv(i, tag)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (c *comm) AllGather(own []byte) ([][]byte, error) {
	tag := c.collTag()
	for i := range c.ranks {
		if i == c.rank {
			continue
		}
		if err := c.Send(own, i, tag); err != nil {
			return nil, err
		}
	}
	out := make([][]byte, len(c.ranks))
	for i := range c.ranks {
		if i == c.rank {
			out[i] = own
			continue
		}
		b, err := c.Recv(i, tag)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (c *comm) Barrier() error {
	_, err := c.AllGather(nil)
	return err
}

func (c *comm) AllGatherInt(val int) ([]int, error) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(int64(val)))
	parts, err := c.AllGather(b[:])
	if err != nil {
		return nil, err
	}
	out := make([]int, len(parts))
	for i, p := range parts {
		if len(p) != 8 {
			return nil, cos.NewErrSizeMismatch("allgather int from rank "+fmt.Sprint(i), 8, len(p))
		}
		out[i] = int(int64(binary.LittleEndian.Uint64(p)))
	}
	return out, nil
}

func (c *comm) AllReduceMax(val int64) (int64, error) {
	vals, err := c.AllGatherInt(int(val))
	if err != nil {
		return 0, err
	}
	m := val
	for _, v := range vals {
		m = max(m, int64(v))
	}
	return m, nil
}

func (c *comm) Split(color, key int) (Comm, error) {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(int64(color)))
	binary.LittleEndian.PutUint64(b[8:], uint64(int64(key)))
	parts, err := c.AllGather(b[:])
	if err != nil {
		return nil, err
	}
	seq := c.splits
	c.splits++
	if color == Undefined {
		return nil, nil
	}
	type member struct{ key, rank int }
	var members []member
	for i, p := range parts {
		debug.Assert(len(p) == 16, len(p))
		if int(int64(binary.LittleEndian.Uint64(p[:8]))) == color {
			members = append(members, member{int(int64(binary.LittleEndian.Uint64(p[8:]))), i})
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].key != members[j].key {
			return members[i].key < members[j].key
		}
		return members[i].rank < members[j].rank
	})
	var (
		ranks   = make([]int, len(members))
		newRank = -1
	)
	for i, m := range members {
		ranks[i] = c.ranks[m.rank]
		if m.rank == c.rank {
			newRank = i
		}
	}
	debug.Assert(newRank >= 0)
	id := fmt.Sprintf("%s.%d.%d", c.id, seq, color)
	return newComm(c.r, c.tracker, id, ranks, newRank), nil
}
