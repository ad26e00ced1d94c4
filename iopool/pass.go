// Package iopool runs collective transfer passes between all ranks and the
// I/O pool.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package iopool

import (
	"context"
	"fmt"
	"time"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/stats"
	"github.com/NVIDIA/obsxfer/transport"

	"github.com/pkg/errors"
)

// pass kinds (stats.PassLatency label)
const (
	KindWrite = "write"
	KindRead  = "read"
)

// ErrPeerFailed is returned by ranks that agreed to abort a pass because
// some other rank failed.
var ErrPeerFailed = errors.New("transfer pass aborted: failure on another rank")

type (
	// Stats summarizes one pass on one rank.
	Stats struct {
		PassID   string        `json:"pass_id"`
		Kind     string        `json:"kind"`
		Vars     int           `json:"vars"`
		Own      int           `json:"own"`
		Total    int           `json:"total"`
		Global   int           `json:"global"`
		PoolRank int           `json:"pool_rank"`
		Grown    int           `json:"scratch_grown"`
		Elapsed  time.Duration `json:"elapsed"`
	}

	// pass state shared by the writer and the reader
	pass struct {
		c       transport.Comm
		config  *cmn.Config
		tracker stats.Tracker
		stats   Stats
		started time.Time
	}
)

func (s *Stats) String() string {
	return fmt.Sprintf("%s pass %s: %d vars, own %d, total %d, global %d, %v",
		s.Kind, s.PassID, s.Vars, s.Own, s.Total, s.Global, s.Elapsed)
}

func newPass(c transport.Comm, config *cmn.Config, tracker stats.Tracker, kind string) *pass {
	if config == nil {
		config = cmn.DefaultConfig()
	}
	if tracker == nil {
		tracker = (*stats.Prom)(nil)
	}
	return &pass{c: c, config: config, tracker: tracker, stats: Stats{Kind: kind, PoolRank: -1}}
}

// begin is collective: rank 0 names the pass.
func (p *pass) begin() error {
	p.started = time.Now()
	var id []byte
	if p.c.Rank() == 0 {
		id = []byte(cmn.GenPassID())
	}
	id, err := p.c.Bcast(id, 0)
	if err != nil {
		return errors.Wrap(err, "begin pass")
	}
	p.stats.PassID = string(id)
	return nil
}

func (p *pass) end() {
	p.stats.Elapsed = time.Since(p.started)
	p.tracker.ObservePass(p.stats.Kind, p.stats.Elapsed)
	switch {
	case nlog.V(4):
		nlog.Infoln(cos.MustMarshalToString(&p.stats))
	case p.c.Rank() == 0:
		nlog.Infoln(p.stats.String())
	}
}

func (p *pass) checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "%s pass %s", p.stats.Kind, p.stats.PassID)
	}
	return nil
}

// failure every rank has already seen, so no peer is left waiting
type agreedErr struct{ error }

func (e *agreedErr) Unwrap() error { return e.error }

// agree is collective: when err is non-nil on any rank, every rank fails,
// the failing ones with their own error and the others with ErrPeerFailed.
func agree(c transport.Comm, err error) error {
	var flag int64
	if err != nil {
		flag = 1
	}
	failed, cerr := c.AllReduceMax(flag)
	switch {
	case cerr != nil:
		return cerr
	case err != nil:
		return &agreedErr{err}
	case failed != 0:
		return &agreedErr{ErrPeerFailed}
	}
	return nil
}

// fail aborts the world on a failure the peers have not agreed on: they may
// be blocked on a message from this rank or about to commit a partial pass.
func (p *pass) fail(err error) error {
	if err == nil {
		return nil
	}
	var ae *agreedErr
	if !errors.As(err, &ae) {
		nlog.Errorf("%s pass %s: rank %d: %v", p.stats.Kind, p.stats.PassID, p.c.Rank(), err)
		p.c.Abort(err)
	}
	return err
}
