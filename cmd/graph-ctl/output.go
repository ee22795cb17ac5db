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
	"time"

	"github.com/docker/go-units"
	"github.com/ghodss/yaml"
	jsoniter "github.com/json-iterator/go"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// printRaw prints a JSON document in the selected output format.
func (c *ctl) printRaw(cmd *cobra.Command, data []byte) error {
	w := cmd.OutOrStdout()
	switch c.output {
	case outputYAML:
		out, err := yaml.JSONToYAML(data)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = w.Write(out)
		return errors.WithStack(err)
	case outputJSON:
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return errors.WithStack(err)
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return errors.WithStack(err)
	}
	return errors.Errorf("unknown output format %q", c.output)
}

// print marshals v and prints it in the selected output format.
func (c *ctl) print(cmd *cobra.Command, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}
	return c.printRaw(cmd, data)
}

// printSummary writes the size and server latency of a response to the
// error stream, keeping the output stream parsable.
func printSummary(w io.Writer, resp *graphpb.Response) {
	size := len(resp.GetJson()) + len(resp.GetRdf())
	fmt.Fprintf(w, "Received %s", units.HumanSize(float64(size)))
	if lat := resp.Latency; lat != nil && lat.TotalNs != 0 {
		fmt.Fprintf(w, ", server took %s", time.Duration(lat.TotalNs))
	}
	if txn := resp.GetTxn(); txn != nil && txn.StartTs != 0 {
		fmt.Fprintf(w, " (start ts %d)", txn.StartTs)
	}
	fmt.Fprintln(w)
}
