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

import (
	"time"

	"github.com/pingcap-incubator/tinygraph/config"
	"golang.org/x/time/rate"
)

// Option configures a client.
type Option func(*client)

// WithRoundRobin makes the client cycle through its channels instead of
// picking one at random.
func WithRoundRobin() Option {
	return func(c *client) { c.roundRobin = true }
}

// WithRateLimit caps the number of calls per second. A non-positive limit
// disables the cap.
func WithRateLimit(limit float64, burst int) Option {
	return func(c *client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithRequestTimeout bounds every call whose context has no deadline.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *client) { c.requestTimeout = timeout }
}

// WithDiscardTimeout bounds the background discard of closed transactions.
func WithDiscardTimeout(timeout time.Duration) Option {
	return func(c *client) {
		if timeout > 0 {
			c.discardTimeout = timeout
		}
	}
}

// WithRetryPolicy sets the policy of retryable transactions.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *client) { c.retry = policy }
}

// OptionsFromConfig translates cfg into client options.
func OptionsFromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithRequestTimeout(cfg.RequestTimeout.Duration),
		WithDiscardTimeout(cfg.DiscardTimeout.Duration),
		WithRetryPolicy(RetryPolicyFromConfig(cfg.Retry)),
		WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	}
	if cfg.Balancer == config.BalancerRoundRobin {
		opts = append(opts, WithRoundRobin())
	}
	return opts
}
