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
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pingcap-incubator/tinygraph/config"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RetryPolicy is an exponential backoff whose budget depends on the class of
// the last failure. Budgets count retries, so an operation runs at most
// budget+1 times.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	// MaxDelay caps the delay between two attempts.
	MaxDelay time.Duration
	// MaxRetries is the budget for aborted transactions and unavailable
	// servers.
	MaxRetries int
	// AuthMaxRetries is the budget for authentication failures, which rarely
	// heal on their own.
	AuthMaxRetries int
	// OtherMaxRetries is the budget for every other failure.
	OtherMaxRetries int
}

// DefaultRetryPolicy starts at 200ms and triples the delay on every retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay:    200 * time.Millisecond,
		Multiplier:      3,
		MaxDelay:        10 * time.Second,
		MaxRetries:      50,
		AuthMaxRetries:  5,
		OtherMaxRetries: 80,
	}
}

// RetryPolicyFromConfig converts the retry section of a config.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		InitialDelay:    cfg.InitialDelay.Duration,
		Multiplier:      cfg.Multiplier,
		MaxDelay:        cfg.MaxDelay.Duration,
		MaxRetries:      cfg.MaxRetries,
		AuthMaxRetries:  cfg.AuthMaxRetries,
		OtherMaxRetries: cfg.OtherMaxRetries,
	}
}

func (p RetryPolicy) budget(class errorClass) int {
	switch class {
	case classUnauthenticated:
		return p.AuthMaxRetries
	case classTransient:
		return p.MaxRetries
	}
	return p.OtherMaxRetries
}

// newBackOff returns the delay schedule of p. It never stops on its own, the
// budgets end the loop.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = math.MaxInt64
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// backoffSleep waits for d or until ctx is done.
var backoffSleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs op until it succeeds, the budget for the class of its last
// failure is spent, or ctx is done. A spent budget is reported as
// *RetryExhaustedError. Failures that cannot change on a second attempt,
// such as ErrTxnNotOK, end the loop at once.
//
// Retrying the calls of one transaction never revives it: after a failed
// mutation the transaction is in TxnError and the next attempt fails with
// ErrTxnNotOK. To retry a whole unit of work, start a new transaction
// inside op.
func Retry(ctx context.Context, policy RetryPolicy, name string, op func(ctx context.Context) error) error {
	bo := policy.newBackOff()
	var lastErr error
	for retries := 0; ; retries++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			if lastErr != nil {
				return errors.WithMessagef(err, "%s gave up after %d attempts, previous failure: %v", name, retries+1, lastErr)
			}
			return err
		}
		lastErr = err

		class := classify(err)
		if retries >= policy.budget(class) {
			log.Error("[graph] retry budget exhausted",
				zap.String("op", name),
				zap.Stringer("class", class),
				zap.Int("attempts", retries+1),
				zap.Error(err))
			return errors.WithStack(&RetryExhaustedError{Op: name, Attempts: retries + 1, Last: err})
		}

		delay := bo.NextBackOff()
		fields := []zap.Field{
			zap.String("op", name),
			zap.Stringer("class", class),
			zap.Int("attempt", retries+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		}
		if class == classOther {
			log.Error("[graph] unexpected failure, retrying", fields...)
		} else {
			log.Warn("[graph] retrying", fields...)
		}
		retryCounter.WithLabelValues(class.String()).Inc()

		if err := backoffSleep(ctx, delay); err != nil {
			return errors.WithMessagef(err, "%s interrupted after %d attempts, last failure: %v", name, retries+1, lastErr)
		}
	}
}

// RetryableTxn is a read-write transaction whose calls are retried with a
// RetryPolicy. Each retry repeats the same call on the same transaction.
type RetryableTxn struct {
	*Txn
	policy RetryPolicy
}

// MutateWithRetry runs req until it succeeds or the policy gives up.
func (t *RetryableTxn) MutateWithRetry(ctx context.Context, req *graphpb.Request) (*graphpb.Response, error) {
	var resp *graphpb.Response
	err := Retry(ctx, t.policy, "mutate", func(ctx context.Context) (err error) {
		resp, err = t.Do(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// QueryWithRetry runs q until it succeeds or the policy gives up.
func (t *RetryableTxn) QueryWithRetry(ctx context.Context, q string) (*graphpb.Response, error) {
	var resp *graphpb.Response
	err := Retry(ctx, t.policy, "query", func(ctx context.Context) (err error) {
		resp, err = t.Query(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
