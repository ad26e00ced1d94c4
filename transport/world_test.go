// Package transport_test tests in-process and TCP worlds
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package transport_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/stats"
	"github.com/NVIDIA/obsxfer/transport"

	"github.com/cespare/xxhash/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tinylib/msgp/msgp"
)

// collectives checks every collective on c and returns the first failure.
func collectives(c transport.Comm) error {
	var (
		rank = c.Rank()
		size = c.Size()
	)
	var own []byte
	if rank == 2%size {
		own = []byte("hello")
	}
	b, err := c.Bcast(own, 2%size)
	if err != nil {
		return err
	}
	if string(b) != "hello" {
		return fmt.Errorf("bcast: got %q", b)
	}

	ints, err := c.AllGatherInt(rank * 10)
	if err != nil {
		return err
	}
	for i, v := range ints {
		if v != i*10 {
			return fmt.Errorf("allgather int: [%d] = %d", i, v)
		}
	}

	m, err := c.AllReduceMax(int64(rank))
	if err != nil {
		return err
	}
	if m != int64(size-1) {
		return fmt.Errorf("allreduce max: %d", m)
	}

	parts, err := c.Gather([]byte(strconv.Itoa(rank)), 0)
	if err != nil {
		return err
	}
	if rank == 0 {
		for i, p := range parts {
			if string(p) != strconv.Itoa(i) {
				return fmt.Errorf("gather: [%d] = %q", i, p)
			}
		}
	} else if parts != nil {
		return errors.New("gather: non-root got parts")
	}
	return c.Barrier()
}

// ring sends rank to the next rank, tagged, and receives from the previous.
func ring(c transport.Comm) error {
	var (
		next = (c.Rank() + 1) % c.Size()
		prev = (c.Rank() + c.Size() - 1) % c.Size()
		buf  = make([]byte, 16)
	)
	req := c.Irecv(buf, prev, 7)
	if err := c.Send([]byte(strconv.Itoa(c.Rank())), next, 7); err != nil {
		return err
	}
	n, err := req.Wait()
	if err != nil {
		return err
	}
	if string(buf[:n]) != strconv.Itoa(prev) {
		return fmt.Errorf("ring: rank %d got %q from %d", c.Rank(), buf[:n], prev)
	}
	return nil
}

var _ = Describe("World", func() {
	ctx := context.Background()

	It("should run collectives", func() {
		err := transport.Run(ctx, 4, func(_ context.Context, c transport.Comm) error {
			return collectives(c)
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should deliver tagged point-to-point messages", func() {
		err := transport.Run(ctx, 5, func(_ context.Context, c transport.Comm) error {
			return ring(c)
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should keep per-tag order between a pair of ranks", func() {
		err := transport.Run(ctx, 2, func(_ context.Context, c transport.Comm) error {
			if c.Rank() == 0 {
				for i := range 10 {
					if err := c.Send([]byte{byte(i)}, 1, 3); err != nil {
						return err
					}
				}
				return c.Send([]byte("other"), 1, 4)
			}
			b, err := c.Recv(0, 4)
			if err != nil || string(b) != "other" {
				return fmt.Errorf("tag 4: %q, %v", b, err)
			}
			for i := range 10 {
				b, err := c.Recv(0, 3)
				if err != nil {
					return err
				}
				if b[0] != byte(i) {
					return fmt.Errorf("message %d out of order: %d", i, b[0])
				}
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should split into ordered sub-communicators", func() {
		var (
			mu    sync.Mutex
			sizes = make(map[int]int)
		)
		err := transport.Run(ctx, 6, func(_ context.Context, c transport.Comm) error {
			color := c.Rank() % 2
			if c.Rank() == 5 {
				color = transport.Undefined
			}
			sub, err := c.Split(color, -c.Rank())
			if err != nil {
				return err
			}
			if color == transport.Undefined {
				if sub != nil {
					return errors.New("undefined color must not join")
				}
				return nil
			}
			// keys are negated ranks: highest world rank first
			if sub.WorldRank(0) < sub.WorldRank(sub.Size()-1) {
				return fmt.Errorf("order: %d before %d", sub.WorldRank(0), sub.WorldRank(sub.Size()-1))
			}
			if sub.WorldRank(sub.Rank()) != c.Rank() {
				return fmt.Errorf("world rank %d vs %d", sub.WorldRank(sub.Rank()), c.Rank())
			}
			mu.Lock()
			sizes[color] = sub.Size()
			mu.Unlock()
			return collectives(sub)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(sizes).To(Equal(map[int]int{0: 3, 1: 2}))
	})

	It("should reject receive buffers that are too small", func() {
		err := transport.Run(ctx, 2, func(_ context.Context, c transport.Comm) error {
			if c.Rank() == 0 {
				return c.Send(make([]byte, 8), 1, 1)
			}
			_, err := c.Irecv(make([]byte, 4), 0, 1).Wait()
			if !cos.IsErrSizeMismatch(err) {
				return fmt.Errorf("expected size mismatch, got %v", err)
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should abort blocked peers when a rank fails", func() {
		boom := errors.New("boom")
		err := transport.Run(ctx, 3, func(_ context.Context, c transport.Comm) error {
			if c.Rank() == 1 {
				return boom
			}
			_, err := c.Recv(1, 9)
			return err
		})
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, boom) || errors.Is(err, transport.ErrAborted)).To(BeTrue())
	})

	It("should unblock every rank when one of them aborts", func() {
		boom := errors.New("boom")
		err := transport.Run(ctx, 3, func(_ context.Context, c transport.Comm) error {
			sub, err := c.Split(c.Rank()%2, 0)
			if err != nil {
				return err
			}
			if c.Rank() == 2 {
				sub.Abort(boom)
				return nil
			}
			_, err = c.Recv(2, 9)
			return err
		})
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, transport.ErrAborted)).To(BeTrue())
		Expect(errors.Is(err, boom)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("rank 2 failed: boom")))
	})

	It("should count traffic", func() {
		trackers := make([]stats.Tracker, 2)
		for i := range trackers {
			p, err := stats.NewProm(nil, i)
			Expect(err).NotTo(HaveOccurred())
			trackers[i] = p
		}
		err := transport.RunTracked(ctx, 2, trackers, func(_ context.Context, c transport.Comm) error {
			if c.Rank() == 0 {
				return c.Send(make([]byte, 100), 1, 1)
			}
			_, err := c.Recv(0, 1)
			return err
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(trackers[0].Get(stats.BytesSent)).To(Equal(int64(100)))
		Expect(trackers[0].Get(stats.NumMsgs)).To(Equal(int64(1)))
		Expect(trackers[1].Get(stats.BytesRecv)).To(Equal(int64(100)))
	})
})

func freeAddrs(n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addrs[i] = ln.Addr().String()
		ln.Close()
	}
	return addrs
}

var _ = Describe("TCP", func() {
	It("should connect a world and run collectives", func() {
		const size = 3
		var (
			addrs = freeAddrs(size)
			wg    sync.WaitGroup
			errs  = make([]error, size)
		)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for rank := range size {
			wg.Add(1)
			go func() {
				defer wg.Done()
				node, err := transport.NewNode(ctx, rank, addrs)
				if err != nil {
					errs[rank] = err
					return
				}
				defer node.Close()
				c := node.Comm(nil)
				if err := collectives(c); err != nil {
					errs[rank] = err
					return
				}
				if err := ring(c); err != nil {
					errs[rank] = err
					return
				}
				errs[rank] = c.Barrier()
			}()
		}
		wg.Wait()
		for rank, err := range errs {
			Expect(err).NotTo(HaveOccurred(), "rank %d", rank)
		}
	})

	It("should unblock a remote peer when a rank aborts", func() {
		var (
			addrs = freeAddrs(2)
			wg    sync.WaitGroup
			errs  = make([]error, 2)
		)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for rank := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				node, err := transport.NewNode(ctx, rank, addrs)
				if err != nil {
					errs[rank] = err
					return
				}
				defer node.Close()
				c := node.Comm(nil)
				if err := c.Barrier(); err != nil {
					errs[rank] = err
					return
				}
				if rank == 0 {
					c.Abort(errors.New("disk full"))
					return
				}
				_, errs[rank] = c.Recv(0, 5)
			}()
		}
		wg.Wait()
		Expect(errs[0]).NotTo(HaveOccurred())
		Expect(errors.Is(errs[1], transport.ErrAborted)).To(BeTrue(), "%v", errs[1])
		Expect(errs[1]).To(MatchError(ContainSubstring("rank 0 failed: disk full")))
	})

	DescribeTable("should refuse a connection with an invalid hello",
		func(src int, expected string) {
			// rank 1 is a bare listener; rank 0 is the node under test
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer ln.Close()
			go func() {
				for {
					conn, err := ln.Accept()
					if err != nil {
						return
					}
					defer conn.Close()
				}
			}()
			addrs := []string{freeAddrs(1)[0], ln.Addr().String()}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			done := make(chan error, 1)
			go func() {
				node, err := transport.NewNode(ctx, 0, addrs)
				if err == nil {
					node.Close()
				}
				done <- err
			}()

			var conn net.Conn
			Eventually(func() error {
				conn, err = net.Dial("tcp", addrs[0])
				return err
			}, 10*time.Second, 50*time.Millisecond).Should(Succeed())
			defer conn.Close()
			w := msgp.NewWriter(conn)
			Expect(w.WriteArrayHeader(5)).To(Succeed())
			Expect(w.WriteString("w")).To(Succeed())
			Expect(w.WriteInt(src)).To(Succeed())
			Expect(w.WriteInt(-1 << 30)).To(Succeed())
			Expect(w.WriteUint64(xxhash.Sum64(nil))).To(Succeed())
			Expect(w.WriteBytes(nil)).To(Succeed())
			Expect(w.Flush()).To(Succeed())

			var nerr error
			Eventually(done, 20*time.Second).Should(Receive(&nerr))
			Expect(nerr).To(MatchError(ContainSubstring(expected)))
		},
		Entry("out of range", 7, "out of range"),
		Entry("negative", -1, "out of range"),
		Entry("self", 0, "hello from self"),
	)

	It("should reject an out-of-range rank", func() {
		_, err := transport.NewNode(context.Background(), 2, []string{"127.0.0.1:0"})
		Expect(err).To(HaveOccurred())
	})
})
