// Package transport provides the rank-to-rank communicator used by collective
// transfers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"context"
	"fmt"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/stats"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const worldID = "w"

type (
	// World is an in-process set of ranks, one goroutine each.
	World struct {
		boxes []*mailbox
	}
	// rank-local view of the World
	local struct {
		w    *World
		rank int
	}
)

func NewWorld(size int) *World {
	w := &World{boxes: make([]*mailbox, size)}
	for i := range w.boxes {
		w.boxes[i] = newMailbox()
	}
	return w
}

func (w *World) Size() int { return len(w.boxes) }

// Comm returns the world communicator of the given rank.
func (w *World) Comm(rank int, tracker stats.Tracker) Comm {
	ranks := make([]int, len(w.boxes))
	for i := range ranks {
		ranks[i] = i
	}
	return newComm(&local{w: w, rank: rank}, tracker, worldID, ranks, rank)
}

// Abort fails every pending and future receive on every rank.
func (w *World) Abort(err error) {
	for _, mb := range w.boxes {
		mb.abort(err)
	}
}

// Pending is the number of delivered but never received messages (diagnostics).
func (w *World) Pending() (n int) {
	for _, mb := range w.boxes {
		n += mb.pending()
	}
	return
}

func (l *local) box() *mailbox { return l.w.boxes[l.rank] }

func (l *local) abort(rank int, cause error) { l.w.Abort(abortErr(rank, cause)) }

func (l *local) route(dst int, k mkey, b []byte) error {
	if dst < 0 || dst >= len(l.w.boxes) {
		return errors.Errorf("no such rank %d (world size %d)", dst, len(l.w.boxes))
	}
	l.w.boxes[dst].deliver(k, b)
	return nil
}

// Run executes fn on size ranks concurrently and returns the first error.
// A failing rank aborts the world so that its peers do not block forever.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c Comm) error) error {
	return RunTracked(ctx, size, nil, fn)
}

// RunTracked is Run with a per-rank stats tracker (nil trackers allowed).
func RunTracked(ctx context.Context, size int, trackers []stats.Tracker, fn func(ctx context.Context, c Comm) error) error {
	w := NewWorld(size)
	g, ctx := errgroup.WithContext(ctx)
	for rank := range size {
		var tracker stats.Tracker
		if rank < len(trackers) {
			tracker = trackers[rank]
		}
		c := w.Comm(rank, tracker)
		g.Go(func() error {
			if err := fn(ctx, c); err != nil {
				w.Abort(abortErr(rank, err))
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			return nil
		})
	}
	go func() {
		<-ctx.Done()
		w.Abort(ErrAborted)
	}()
	err := g.Wait()
	if n := w.Pending(); n > 0 && err == nil {
		nlog.Warningf("world of %d: %d undelivered message%s", size, n, cos.Plural(n))
	}
	return err
}
