// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newShellCommand(c *ctl) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively over one connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.client(cmd); err != nil {
				return err
			}
			return c.shellLoop(cmd)
		},
	}
}

func (c *ctl) shellLoop(cmd *cobra.Command) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       filepath.Join(os.TempDir(), "graph-ctl.history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := c.runShellLine(cmd, line); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		}
	}
}

// runShellLine runs one shell line as a graph-ctl command line. The client
// of the shell is reused, connection flags on the line are ignored.
func (c *ctl) runShellLine(cmd *cobra.Command, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return errors.WithStack(err)
	}
	if len(args) == 0 {
		return nil
	}
	if args[0] == "shell" {
		return errors.New("already in a shell")
	}
	sub := *c
	root := newRootCommand(&sub)
	// Flags of the shell itself are the defaults of its lines.
	sub.output, sub.timeout = c.output, c.timeout
	root.SetArgs(args)
	root.SetOut(cmd.OutOrStdout())
	root.SetErr(cmd.ErrOrStderr())
	return root.Execute()
}
