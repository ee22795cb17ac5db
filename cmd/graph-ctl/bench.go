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
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/tinygraph/client"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
)

type benchOptions struct {
	txns        int
	concurrency int
	keys        int
	predicate   string
}

// benchResult is what one bench run reports. Latencies are in milliseconds.
type benchResult struct {
	Txns     int     `json:"txns"`
	Failed   int64   `json:"failed"`
	Attempts int64   `json:"attempts"`
	Elapsed  string  `json:"elapsed"`
	TPS      float64 `json:"tps"`
	MeanMs   float64 `json:"mean_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
	MaxMs    float64 `json:"max_ms"`
}

func newBenchCommand(c *ctl) *cobra.Command {
	opts := benchOptions{}
	m := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent upsert transactions and report their latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.txns <= 0 || opts.concurrency <= 0 || opts.keys <= 0 {
				return errors.New("--txns, --concurrency and --keys must be positive")
			}
			cli, err := c.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := c.cmdContext()
			defer cancel()

			res, err := runBench(ctx, cli, opts)
			if err != nil {
				return err
			}
			return c.print(cmd, res)
		},
	}
	m.Flags().IntVar(&opts.txns, "txns", 1000, "Number of transactions")
	m.Flags().IntVar(&opts.concurrency, "concurrency", 8, "Number of concurrent workers")
	m.Flags().IntVar(&opts.keys, "keys", 100, "Number of distinct nodes written, fewer keys mean more conflicts")
	m.Flags().StringVar(&opts.predicate, "predicate", "bench", "Predicate written by the transactions")
	return m
}

// runBench runs opts.txns read-modify-write transactions over opts.keys nodes.
// Each transaction is retried as a whole when it conflicts.
func runBench(ctx context.Context, cli client.Client, opts benchOptions) (*benchResult, error) {
	var (
		mu        sync.Mutex
		latencies = make(stats.Float64Data, 0, opts.txns)
		failed    atomic.Int64
		attempts  atomic.Int64
		next      atomic.Int64
		wg        sync.WaitGroup
	)
	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := next.Inc() - 1
				if i >= int64(opts.txns) || ctx.Err() != nil {
					return
				}
				begin := time.Now()
				err := client.Retry(ctx, cli.RetryPolicy(), "bench", func(ctx context.Context) error {
					attempts.Inc()
					return benchTxn(ctx, cli, opts.predicate, int(i)%opts.keys)
				})
				if err != nil {
					failed.Inc()
					continue
				}
				mu.Lock()
				latencies = append(latencies, float64(time.Since(begin))/float64(time.Millisecond))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	res := &benchResult{
		Txns:     opts.txns,
		Failed:   failed.Load(),
		Attempts: attempts.Load(),
		Elapsed:  units.HumanDuration(elapsed),
	}
	if len(latencies) == 0 {
		return res, nil
	}
	res.TPS = float64(len(latencies)) / elapsed.Seconds()
	res.MeanMs, _ = stats.Mean(latencies)
	res.P50Ms, _ = stats.Percentile(latencies, 50)
	res.P95Ms, _ = stats.Percentile(latencies, 95)
	res.P99Ms, _ = stats.Percentile(latencies, 99)
	res.MaxMs, _ = stats.Max(latencies)
	return res, nil
}

// benchTxn reads one node and writes it back in a single transaction.
func benchTxn(ctx context.Context, cli client.Client, pred string, key int) error {
	txn := cli.NewTxn()
	defer txn.Close()
	q := fmt.Sprintf(`{ q(func: eq(%s, %d)) { uid %s } }`, pred, key, pred)
	if _, err := txn.Query(ctx, q); err != nil {
		return err
	}
	mu := &graphpb.Mutation{
		SetNquads: []byte(fmt.Sprintf(`_:n%d <%s> "%d" .`, key, pred, key)),
	}
	if _, err := txn.Mutate(ctx, mu); err != nil {
		return err
	}
	return txn.Commit(ctx)
}
