// Package main is the obsxfer command-line tool: synthetic write/read
// passes over in-process and TCP worlds, and inspection of output files.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/NVIDIA/obsxfer/cmd/obsxfer/cli"
)

var (
	build     string
	buildtime string
)

func dispatchInterruptHandler() {
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt)
	go func() {
		<-stopCh
		os.Exit(0)
	}()
}

func main() {
	dispatchInterruptHandler()

	if err := cli.Run(cli.Version+"."+build, buildtime, os.Args); err != nil {
		exitf("%v", err)
	}
}

func exitf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
