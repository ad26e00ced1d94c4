// Package cli implements the obsxfer commands.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"strings"

	"github.com/NVIDIA/obsxfer/cmn"

	"github.com/urfave/cli"
)

var (
	noColorFlag    = cli.BoolFlag{Name: "no-color", Usage: "disable colored output"}
	verbosityFlag  = cli.IntFlag{Name: "v", Usage: "log verbosity level (4: per-variable)"}
	logDirFlag     = cli.StringFlag{Name: "log-dir", Usage: "log to files in this directory instead of stderr"}
	alsoStderrFlag = cli.BoolFlag{Name: "alsologtostderr", Usage: "with --log-dir, log to standard error as well"}

	configFlag = cli.StringFlag{Name: "config, c", Usage: "YAML or JSON configuration file"}

	// world
	ranksFlag = cli.IntFlag{Name: "ranks, n", Value: 4, Usage: "number of in-process ranks"}
	rankFlag  = cli.IntFlag{Name: "rank", Value: -1, Usage: "this node's rank (index into --addrs)"}
	addrsFlag = cli.StringFlag{Name: "addrs", Usage: "comma-separated host:port of every rank, in rank order"}

	// synthetic data
	nlocsFlag     = cli.IntFlag{Name: "nlocs", Value: 10, Usage: "locations per rank"}
	channelsFlag  = cli.IntFlag{Name: "channels", Value: 3, Usage: "channels of the two-dimensional variable (0: none)"}
	stationsFlag  = cli.IntFlag{Name: "stations", Value: 4, Usage: "distinct station identifiers"}
	fillEveryFlag = cli.IntFlag{Name: "fill-every", Value: 7, Usage: "every n-th air temperature is the fill value (0: never)"}

	// pool and transfer
	poolSizeFlag  = cli.IntFlag{Name: "pool-size", Usage: "maximum I/O pool size (overrides configuration)"}
	multipleFlag  = cli.BoolFlag{Name: "multiple-files", Usage: "one output file per pool rank"}
	distFlag      = cli.StringFlag{Name: "distribution", Usage: "RoundRobin, Hash or Halo (overrides configuration)"}
	groupByFlag   = cli.StringFlag{Name: "group-by", Usage: "comma-separated MetaData grouping variables, e.g. \"stationIdentification\""}
	outFlag       = cli.StringFlag{Name: "out, o", Usage: "output file; in-memory when omitted"}
	metricsFlag   = cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address while running"}
	yamlFlag      = cli.BoolFlag{Name: "yaml", Usage: "YAML output (default: JSON)"}
	recursiveFlag = cli.BoolFlag{Name: "recursive, r", Usage: "descend into subdirectories"}
)

// return the first name
func fl1n(flagName string) string {
	if i := strings.IndexByte(flagName, ','); i >= 0 {
		return strings.TrimSpace(flagName[:i])
	}
	return flagName
}

func flagIsSet(c *cli.Context, flag cli.Flag) (v bool) {
	name := fl1n(flag.GetName()) // take the first of multiple names
	switch flag.(type) {
	case cli.BoolFlag:
		v = c.Bool(name) || c.GlobalBool(name)
	default:
		v = c.GlobalIsSet(name) || c.IsSet(name)
	}
	return
}

// Returns the value of a string flag (either parent or local scope)
func parseStrFlag(c *cli.Context, flag cli.Flag) string {
	flagName := fl1n(flag.GetName())
	if c.GlobalIsSet(flagName) {
		return c.GlobalString(flagName)
	}
	return c.String(flagName)
}

// Returns the value of an int flag (either parent or local scope)
func parseIntFlag(c *cli.Context, flag cli.IntFlag) int {
	flagName := fl1n(flag.GetName())
	if c.GlobalIsSet(flagName) {
		return c.GlobalInt(flagName)
	}
	return c.Int(flagName)
}

func splitCsv(s string) (out []string) {
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return
}

// loadConfig: defaults, then the file (if any), then command-line overrides.
func loadConfig(c *cli.Context, worldSize int) (config *cmn.Config, err error) {
	if path := parseStrFlag(c, configFlag); path != "" {
		if config, err = cmn.LoadConfig(path); err != nil {
			return nil, err
		}
	} else {
		config = cmn.DefaultConfig()
	}
	if flagIsSet(c, poolSizeFlag) {
		config.IoPool.MaxPoolSize = parseIntFlag(c, poolSizeFlag)
	}
	if flagIsSet(c, multipleFlag) {
		config.IoPool.WriteMultipleFiles = true
	}
	if flagIsSet(c, distFlag) {
		config.Obs.Distribution.Name = parseStrFlag(c, distFlag)
	}
	if flagIsSet(c, groupByFlag) {
		config.Obs.GroupingVars = splitCsv(parseStrFlag(c, groupByFlag))
	}
	if flagIsSet(c, outFlag) {
		config.IoPool.PoolFile = parseStrFlag(c, outFlag)
	}
	if err := config.Validate(worldSize); err != nil {
		return nil, err
	}
	return config, nil
}
