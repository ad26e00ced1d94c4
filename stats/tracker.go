// Package stats provides methods and functionality to register, track, log,
// and export transfer metrics: "counter" and "latency" kinds.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"fmt"
	ratomic "sync/atomic"
	"time"

	"github.com/NVIDIA/obsxfer/cmn/nlog"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "obsxfer"

// metric names
const (
	BytesSent   = "bytes_sent_total"
	BytesRecv   = "bytes_recv_total"
	NumMsgs     = "msgs_total"
	NumVars     = "vars_total"
	PassLatency = "pass_seconds"
)

type (
	// Tracker is what transfers report into; a nil *Prom is a valid no-op.
	Tracker interface {
		Add(name string, val int64)
		Inc(name string)
		ObservePass(kind string, d time.Duration)
		Get(name string) int64
	}

	statsValue struct {
		counter prometheus.Counter
		Value   int64
	}

	// Prom tracks values locally (atomics) and mirrors them into Prometheus.
	Prom struct {
		values  map[string]*statsValue
		latency *prometheus.HistogramVec
		passes  int64
		passNs  int64
	}
)

// interface guard
var _ Tracker = (*Prom)(nil)

// NewProm registers all metrics with reg; a nil reg keeps them unregistered
// (tests, multiple in-process ranks).
func NewProm(reg prometheus.Registerer, rank int) (*Prom, error) {
	var (
		p      = &Prom{values: make(map[string]*statsValue, 4)}
		labels = prometheus.Labels{"rank": fmt.Sprint(rank)}
	)
	for name, help := range map[string]string{
		BytesSent: "payload bytes sent to peer ranks",
		BytesRecv: "payload bytes received from peer ranks",
		NumMsgs:   "point-to-point messages sent",
		NumVars:   "variables transferred",
	} {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		p.values[name] = &statsValue{counter: c}
		if reg != nil {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	p.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        PassLatency,
		Help:        "duration of write and read passes",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"kind"})
	if reg != nil {
		if err := reg.Register(p.latency); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prom) Add(name string, val int64) {
	if p == nil {
		return
	}
	v, ok := p.values[name]
	if !ok {
		nlog.Warningln("stats: unknown metric", name)
		return
	}
	ratomic.AddInt64(&v.Value, val)
	v.counter.Add(float64(val))
}

func (p *Prom) Inc(name string) { p.Add(name, 1) }

func (p *Prom) Get(name string) int64 {
	if p == nil {
		return 0
	}
	if v, ok := p.values[name]; ok {
		return ratomic.LoadInt64(&v.Value)
	}
	return 0
}

func (p *Prom) ObservePass(kind string, d time.Duration) {
	if p == nil {
		return
	}
	ratomic.AddInt64(&p.passes, 1)
	ratomic.AddInt64(&p.passNs, int64(d))
	p.latency.WithLabelValues(kind).Observe(d.Seconds())
}

// Log writes a one-line summary.
func (p *Prom) Log(prefix string) {
	if p == nil {
		return
	}
	passes := ratomic.LoadInt64(&p.passes)
	nlog.Infof("%s: passes %d (%v), msgs %d, sent %dB, recv %dB, vars %d", prefix, passes,
		time.Duration(ratomic.LoadInt64(&p.passNs)), p.Get(NumMsgs), p.Get(BytesSent), p.Get(BytesRecv), p.Get(NumVars))
}
