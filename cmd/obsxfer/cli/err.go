// Package cli implements the obsxfer commands.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli"
)

type errUsage struct {
	context *cli.Context
	message string
}

func (e *errUsage) Error() string {
	if e.context != nil && e.context.Command.Name != "" {
		return fmt.Sprintf("Incorrect '%s %s' usage: %s.\nSee '%s %s --help'.",
			e.context.App.Name, e.context.Command.Name, e.message, e.context.App.Name, e.context.Command.Name)
	}
	return fmt.Sprintf("Incorrect usage: %s.", e.message)
}

func incorrectUsageMsg(c *cli.Context, fmtString string, args ...any) *errUsage {
	const incorrectUsageFmt = "too many arguments or unrecognized (or misplaced) option '%+v'"
	if fmtString == "" {
		fmtString = incorrectUsageFmt
	}
	return &errUsage{context: c, message: fmt.Sprintf(fmtString, args...)}
}

func missingArgumentsError(c *cli.Context, missingArgs ...string) *errUsage {
	var msg string
	if len(missingArgs) == 1 {
		msg = fmt.Sprintf("missing %q argument", missingArgs[0])
	} else {
		msg = fmt.Sprintf("missing arguments %q", strings.Join(missingArgs, ", "))
	}
	return &errUsage{context: c, message: msg}
}

func incorrectUsageHandler(c *cli.Context, err error, _ bool) error {
	if err == nil {
		return nil
	}
	return incorrectUsageMsg(c, "%v", err)
}
