// Package cli implements the obsxfer commands.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/NVIDIA/obsxfer/cmn"
	"github.com/NVIDIA/obsxfer/stats"
	"github.com/NVIDIA/obsxfer/tools/obsgen"
	"github.com/NVIDIA/obsxfer/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
)

var (
	genFlags = []cli.Flag{
		nlocsFlag,
		channelsFlag,
		stationsFlag,
		fillEveryFlag,
	}
	xferFlags = []cli.Flag{
		configFlag,
		poolSizeFlag,
		multipleFlag,
		distFlag,
		groupByFlag,
		outFlag,
	}

	runCmd = cli.Command{
		Name:  "run",
		Usage: "write synthetic observations of N in-process ranks through the I/O pool, then read them back",
		Flags: append(append([]cli.Flag{ranksFlag}, genFlags...), xferFlags...),
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return incorrectUsageMsg(c, "", c.Args()[0])
			}
			return runHandler(c)
		},
	}
)

func genOpts(c *cli.Context) obsgen.Opts {
	return obsgen.Opts{
		Nlocs:     parseIntFlag(c, nlocsFlag),
		Channels:  parseIntFlag(c, channelsFlag),
		Stations:  parseIntFlag(c, stationsFlag),
		FillEvery: parseIntFlag(c, fillEveryFlag),
	}
}

func runHandler(c *cli.Context) error {
	size := parseIntFlag(c, ranksFlag)
	if size < 1 {
		return incorrectUsageMsg(c, "invalid number of ranks %d", size)
	}
	config, err := loadConfig(c, size)
	if err != nil {
		return err
	}
	cmn.InitShortid(uint64(time.Now().UnixNano()))

	var (
		reg      = prometheus.NewRegistry()
		trackers = make([]stats.Tracker, size)
		results  = make([]*result, size)
		sess     = newSession(config, genOpts(c), false)
	)
	for rank := range size {
		if trackers[rank], err = stats.NewProm(reg, rank); err != nil {
			return err
		}
	}
	started := time.Now()
	err = transport.RunTracked(context.Background(), size, trackers, func(ctx context.Context, comm transport.Comm) error {
		res, err := sess.run(ctx, comm, trackers[comm.Rank()])
		results[comm.Rank()] = res
		return err
	})
	if err != nil {
		return err
	}
	for rank, t := range trackers {
		t.(*stats.Prom).Log(fmt.Sprintf("rank %d", rank))
	}
	return printResults(c.App.Writer, results, size*sess.gen.Nlocs, time.Since(started))
}

func printResults(w io.Writer, results []*result, global int, elapsed time.Duration) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, fbold("RANK\tPOOL RANK\tOWN\tWRITTEN\tLOADED\tMISMATCHES"))
	var loaded, bad int
	for _, r := range results {
		poolRank := "-"
		if r.Write.PoolRank >= 0 {
			poolRank = fmt.Sprint(r.Write.PoolRank)
		}
		written := "-"
		if r.Write.PoolRank >= 0 {
			written = fmt.Sprint(r.Write.Total)
		}
		mismatches := fgreen("0")
		if r.Mismatches > 0 {
			mismatches = fred(r.Mismatches)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%d\t%s\n", r.Rank, poolRank, r.Write.Own, written, r.Loaded, mismatches)
		loaded += r.Loaded
		bad += r.Mismatches
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %d locations written, %d loaded (%d read pass%s) in %v\n", fcyan("Summary:"),
		global, loaded, len(results[0].Reads), plural(len(results[0].Reads), "es"), elapsed)
	if bad > 0 {
		return fmt.Errorf("%d loaded value%s differ from the source", bad, plural(bad, "s"))
	}
	return nil
}

func plural(n int, suffix string) string {
	if n == 1 {
		return ""
	}
	return suffix
}
