// Package cli implements the obsxfer commands.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/grouping"
	"github.com/NVIDIA/obsxfer/iopool"
	"github.com/NVIDIA/obsxfer/obsfile"

	"github.com/karrick/godirwalk"
	"github.com/urfave/cli"
)

const fileArgument = "FILE"

var (
	showCmd = cli.Command{
		Name:      "show",
		Usage:     "show the structure (groups, attributes, variables, dimension scales) of an output file",
		ArgsUsage: fileArgument,
		Flags:     []cli.Flag{yamlFlag},
		Action:    showHandler,
	}
	lsCmd = cli.Command{
		Name:      "ls",
		Usage:     "list output files and their location counts",
		ArgsUsage: "DIRECTORY",
		Flags:     []cli.Flag{recursiveFlag},
		Action:    lsHandler,
	}
)

func showHandler(c *cli.Context) error {
	if c.NArg() == 0 {
		return missingArgumentsError(c, fileArgument)
	}
	if c.NArg() > 1 {
		return incorrectUsageMsg(c, "", c.Args()[1])
	}
	g, err := obsfile.Load(c.Args().First())
	if err != nil {
		return err
	}
	s, err := iopool.Describe(g)
	if err != nil {
		return err
	}
	var b []byte
	if flagIsSet(c, yamlFlag) {
		b, err = s.Marshal()
	} else {
		b = cos.MustMarshalIndent(s)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(b))
	return err
}

func lsHandler(c *cli.Context) error {
	root := "."
	if c.NArg() > 0 {
		root = c.Args().First()
	}
	var (
		recursive = flagIsSet(c, recursiveFlag)
		tw        = tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
		cnt       int
	)
	fmt.Fprintln(tw, fbold("FILE\tSIZE\tLOCATIONS\tVARIABLES"))
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(pathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if pathname != root && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(de.Name(), obsfile.Ext) {
				return nil
			}
			cnt++
			return lsFile(tw, pathname)
		},
		ErrorCallback: func(pathname string, err error) godirwalk.ErrorAction {
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", pathname, err)
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if cnt == 0 {
		fmt.Fprintf(c.App.Writer, "no %s files in %s\n", obsfile.Ext, root)
	}
	return nil
}

func lsFile(tw *tabwriter.Writer, pathname string) error {
	finfo, err := os.Stat(pathname)
	if err != nil {
		return err
	}
	g, err := obsfile.Load(pathname)
	if err != nil {
		fmt.Fprintf(tw, "%s\t%d\t%s\t\n", pathname, finfo.Size(), fred(err))
		return nil
	}
	nlocs, err := grouping.SourceNlocs(g)
	if err != nil {
		fmt.Fprintf(tw, "%s\t%d\t%s\t\n", pathname, finfo.Size(), fred(err))
		return nil
	}
	nvars := len(g.List(core.ObjVariable, true))
	fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", pathname, finfo.Size(), fcyan(nlocs), nvars)
	return nil
}
