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
	"context"
	"fmt"
	"strings"

	"github.com/pingcap-incubator/tinygraph/client"
	"github.com/pingcap-incubator/tinygraph/pkg/version"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newQueryCommand(c *ctl) *cobra.Command {
	var (
		rdf        bool
		bestEffort bool
		vars       []string
	)
	m := &cobra.Command{
		Use:   "query <query>",
		Short: "Run a query in a read-only transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			varMap, err := parseVars(vars)
			if err != nil {
				return err
			}
			cli, err := c.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := c.cmdContext()
			defer cancel()

			txn := cli.NewReadOnlyTxn()
			if bestEffort {
				txn = cli.NewBestEffortTxn()
			}
			defer txn.Discard(ctx)
			var resp *graphpb.Response
			if rdf {
				resp, err = txn.QueryRDFWithVars(ctx, args[0], varMap)
			} else {
				resp, err = txn.QueryWithVars(ctx, args[0], varMap)
			}
			if err != nil {
				return err
			}
			printSummary(cmd.ErrOrStderr(), resp)
			if rdf {
				_, err = cmd.OutOrStdout().Write(resp.GetRdf())
				return errors.WithStack(err)
			}
			return c.printRaw(cmd, resp.GetJson())
		},
	}
	m.Flags().BoolVar(&rdf, "rdf", false, "Return the result as RDF")
	m.Flags().BoolVar(&bestEffort, "best-effort", false, "Allow the server to answer from a possibly stale snapshot")
	m.Flags().StringArrayVar(&vars, "var", nil, "Query variable with name=value, repeatable")
	return m
}

func parseVars(vars []string) (map[string]string, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(vars))
	for _, v := range vars {
		seps := strings.SplitN(v, "=", 2)
		if len(seps) != 2 {
			return nil, errors.Errorf("bad variable: `%s`, expected format `name=value`", v)
		}
		name := seps[0]
		if !strings.HasPrefix(name, "$") {
			name = "$" + name
		}
		m[name] = seps[1]
	}
	return m, nil
}

func newMutateCommand(c *ctl) *cobra.Command {
	var (
		mu    graphpb.Mutation
		set   string
		del   string
		setNQ string
		delNQ string
		query string
	)
	m := &cobra.Command{
		Use:   "mutate",
		Short: "Apply a mutation in its own transaction, retried on conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mu.SetJson, mu.DeleteJson = []byte(set), []byte(del)
			mu.SetNquads, mu.DelNquads = []byte(setNQ), []byte(delNQ)
			if mu.IsEmpty() {
				return errors.New("nothing to mutate, use one of --set-json, --delete-json, --set-nquads, --del-nquads")
			}
			mu.CommitNow = true
			cli, err := c.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := c.cmdContext()
			defer cancel()

			var resp *graphpb.Response
			err = client.Retry(ctx, cli.RetryPolicy(), "mutate", func(ctx context.Context) (err error) {
				txn := cli.NewTxn()
				defer txn.Close()
				resp, err = txn.Do(ctx, &graphpb.Request{
					Query:     query,
					Mutations: []*graphpb.Mutation{&mu},
				})
				return err
			})
			if err != nil {
				return err
			}
			printSummary(cmd.ErrOrStderr(), resp)
			out := map[string]interface{}{"uids": resp.GetUids()}
			if txn := resp.GetTxn(); txn != nil {
				out["commit_ts"] = txn.CommitTs
			}
			return c.print(cmd, out)
		},
	}
	m.Flags().StringVar(&set, "set-json", "", "JSON object to set")
	m.Flags().StringVar(&del, "delete-json", "", "JSON object to delete")
	m.Flags().StringVar(&setNQ, "set-nquads", "", "N-Quads to set")
	m.Flags().StringVar(&delNQ, "del-nquads", "", "N-Quads to delete")
	m.Flags().StringVar(&mu.Cond, "cond", "", "Condition of an upsert, evaluated against --query")
	m.Flags().StringVar(&query, "query", "", "Query block of an upsert")
	return m
}

func newAlterCommand(c *ctl) *cobra.Command {
	var (
		op      graphpb.Operation
		dropAll bool
	)
	m := &cobra.Command{
		Use:   "alter [schema]",
		Short: "Alter the schema or drop data",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				op.Schema = args[0]
			}
			cli, err := c.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := c.cmdContext()
			defer cancel()

			switch {
			case dropAll:
				err = cli.DropAll(ctx)
			case len(op.Schema) != 0 && len(op.DropAttr) == 0:
				err = cli.SetSchema(ctx, op.Schema)
			case len(op.Schema) == 0 && len(op.DropAttr) == 0:
				return errors.New("nothing to alter, give a schema, --drop-attr or --drop-all")
			default:
				err = cli.Alter(ctx, &op)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Alter ok")
			return nil
		},
	}
	m.Flags().BoolVar(&dropAll, "drop-all", false, "Drop all data and schema")
	m.Flags().StringVar(&op.DropAttr, "drop-attr", "", "Drop a predicate")
	m.Flags().BoolVar(&op.RunInBackground, "background", false, "Build indexes in the background")
	return m
}

func newVersionCommand(c *ctl) *cobra.Command {
	var minVersion string
	m := &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := c.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := c.cmdContext()
			defer cancel()

			tag, err := cli.CheckVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tag)
			if len(minVersion) == 0 {
				return nil
			}
			ok, err := version.AtLeast(tag, minVersion)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("server version %s is older than %s", tag, minVersion)
			}
			return nil
		},
	}
	m.Flags().StringVar(&minVersion, "min", "", "Fail unless the server is at least this version")
	return m
}

func newLoginCommand(c *ctl) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check the credentials given by --user and --password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if len(cfg.Auth.User) == 0 {
				return errors.New("login requires --user")
			}
			if c.cli == nil {
				// Connecting logs in with the configured credentials.
				if _, err := c.client(cmd); err != nil {
					return err
				}
			} else {
				ctx, cancel := c.cmdContext()
				defer cancel()
				if err := c.cli.Login(ctx, cfg.Auth.User, cfg.Auth.Password, cfg.Auth.Namespace); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Login as %s ok\n", cfg.Auth.User)
			return nil
		},
	}
}
