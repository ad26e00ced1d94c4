// Package cli implements the obsxfer commands.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/cmn/nlog"
	"github.com/NVIDIA/obsxfer/stats"
	"github.com/NVIDIA/obsxfer/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
)

const connectTimeout = time.Minute

var nodeCmd = cli.Command{
	Name: "node",
	Usage: "run one rank of a TCP world (start one process per address); " +
		"every pool rank writes its own output file",
	Flags: append(append([]cli.Flag{rankFlag, addrsFlag, metricsFlag}, genFlags...), xferFlags...),
	Action: func(c *cli.Context) error {
		if c.NArg() > 0 {
			return incorrectUsageMsg(c, "", c.Args()[0])
		}
		return nodeHandler(c)
	},
}

func nodeHandler(c *cli.Context) error {
	addrs := splitCsv(parseStrFlag(c, addrsFlag))
	if len(addrs) == 0 {
		return missingArgumentsError(c, addrsFlag.Name)
	}
	rank := parseIntFlag(c, rankFlag)
	if rank < 0 || rank >= len(addrs) {
		return incorrectUsageMsg(c, "rank %d out of range [0, %d)", rank, len(addrs))
	}
	config, err := loadConfig(c, len(addrs))
	if err != nil {
		return err
	}
	if config.IoPool.PoolFile == "" {
		return missingArgumentsError(c, fl1n(outFlag.Name))
	}
	nlog.SetRank(rank)
	cmn.InitShortid(uint64(rank))

	reg := prometheus.NewRegistry()
	tracker, err := stats.NewProm(reg, rank)
	if err != nil {
		return err
	}
	if addr := parseStrFlag(c, metricsFlag); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				nlog.Errorln("metrics:", err)
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	node, err := transport.NewNode(ctx, rank, addrs)
	cancel()
	if err != nil {
		return err
	}
	defer node.Close()

	started := time.Now()
	sess := newSession(config, genOpts(c), true /*separate processes cannot share a file*/)
	res, err := sess.run(context.Background(), node.Comm(tracker), tracker)
	if err != nil {
		return err
	}
	tracker.Log("node")
	if rank != 0 {
		return nil
	}
	return printResults(c.App.Writer, []*result{res}, len(addrs)*sess.gen.Nlocs, time.Since(started))
}
