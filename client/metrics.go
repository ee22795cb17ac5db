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

package client

import "github.com/prometheus/client_golang/prometheus"

var (
	cmdDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "graph_client",
			Subsystem: "cmd",
			Name:      "handle_cmds_duration_seconds",
			Help:      "Bucketed histogram of processing time (s) of handled success cmds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 13),
		}, []string{"type"})

	cmdFailedDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "graph_client",
			Subsystem: "cmd",
			Name:      "handle_failed_cmds_duration_seconds",
			Help:      "Bucketed histogram of processing time (s) of failed handled cmds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 13),
		}, []string{"type"})

	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graph_client",
			Subsystem: "txn",
			Name:      "state_total",
			Help:      "Counter of transactions by the state they moved to.",
		}, []string{"state"})

	retryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graph_client",
			Subsystem: "retry",
			Name:      "backoff_total",
			Help:      "Counter of retried attempts by error class.",
		}, []string{"class"})

	authRefreshCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graph_client",
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Counter of access token refreshes by result.",
		}, []string{"result"})
)

var (
	// WithLabelValues is a heavy operation, define variable to avoid call it every time.
	txnCounterCommitted = txnCounter.WithLabelValues("committed")
	txnCounterAborted   = txnCounter.WithLabelValues("aborted")
	txnCounterError     = txnCounter.WithLabelValues("error")

	// A failed commit stays committed, its outcome is unknown.
	txnCounterCommitFailed = txnCounter.WithLabelValues("commit_failed")

	authRefreshOK     = authRefreshCounter.WithLabelValues("ok")
	authRefreshFailed = authRefreshCounter.WithLabelValues("failed")
)

func init() {
	prometheus.MustRegister(cmdDuration)
	prometheus.MustRegister(cmdFailedDuration)
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(retryCounter)
	prometheus.MustRegister(authRefreshCounter)
}
