// Package cli implements the obsxfer commands.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/NVIDIA/obsxfer/cmn/nlog"

	"github.com/fatih/color"
	"github.com/urfave/cli"
)

const (
	Version = "1.0"

	cliName = "obsxfer"
)

type acli struct {
	app       *cli.App
	outWriter io.Writer
	errWriter io.Writer
}

// color
var (
	fred, fcyan, fgreen, fbold func(a ...any) string
)

func Run(version, buildtime string, args []string) error {
	a := acli{app: cli.NewApp(), outWriter: os.Stdout, errWriter: os.Stderr}
	a.init(version, buildtime)
	err := a.app.Run(args)
	nlog.Flush()
	return a.formatErr(err)
}

func redErr(err error) error {
	msg := strings.TrimRight(err.Error(), "\n")
	return errors.New(fred("Error: ") + msg)
}

func (*acli) formatErr(err error) error {
	if err == nil {
		return nil
	}
	var eu *errUsage
	if errors.As(err, &eu) {
		return err
	}
	return redErr(err)
}

func onBeforeCommand(c *cli.Context) error {
	// only disable: the library already turns coloring off for dumb
	// terminals and redirected output
	if flagIsSet(c, noColorFlag) {
		color.NoColor = true
	}
	nlog.SetVerbosity(parseIntFlag(c, verbosityFlag))
	if dir := parseStrFlag(c, logDirFlag); dir != "" {
		nlog.SetLogDir(dir)
		nlog.SetAlsoToStderr(flagIsSet(c, alsoStderrFlag))
	}
	nlog.SetTitle(cliName + " " + strings.Join(os.Args[1:], " "))
	return nil
}

func (a *acli) init(version, buildtime string) {
	app := a.app

	fcyan = color.New(color.FgHiCyan).SprintFunc()
	fred = color.New(color.FgHiRed).SprintFunc()
	fgreen = color.New(color.FgHiGreen).SprintFunc()
	fbold = color.New(color.Bold).SprintFunc()

	app.Name = cliName
	app.Usage = "collective transfer of distributed observation data through an I/O pool"
	app.Version = version
	if buildtime != "" {
		app.Version += " (build " + buildtime + ")"
	}
	app.HideHelp = true
	app.Flags = []cli.Flag{cli.HelpFlag, noColorFlag, verbosityFlag, logDirFlag, alsoStderrFlag}
	app.Writer = a.outWriter
	app.ErrWriter = a.errWriter
	app.Before = onBeforeCommand
	app.OnUsageError = incorrectUsageHandler
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version, V",
		Usage: "print only the version",
	}
	app.Commands = []cli.Command{
		runCmd,
		nodeCmd,
		showCmd,
		lsCmd,
	}
	setupCommandHelp(app.Commands)
}

func setupCommandHelp(commands []cli.Command) {
	for i := range commands {
		command := &commands[i]
		command.HideHelp = true
		command.Flags = append(command.Flags, cli.HelpFlag)
		command.OnUsageError = incorrectUsageHandler
	}
}
