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
	"time"

	"github.com/pingcap-incubator/tinygraph/pkg/mock/mockgraph"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	. "github.com/pingcap/check"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ = Suite(&testRetrySuite{})

type testRetrySuite struct {
	baseSuite
	sleeps []time.Duration
	orig   func(context.Context, time.Duration) error
}

func (s *testRetrySuite) SetUpTest(c *C) {
	s.baseSuite.SetUpTest(c)
	s.sleeps = nil
	s.orig = backoffSleep
	backoffSleep = func(ctx context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return ctx.Err()
	}
}

func (s *testRetrySuite) TearDownTest(c *C) {
	backoffSleep = s.orig
	s.baseSuite.TearDownTest(c)
}

func rpcErr(code codes.Code, msg string) error {
	return errors.WithStack(&RPCError{Op: "query", Cause: status.Error(code, msg)})
}

func failingOp(errs ...error) (func(context.Context) error, *int) {
	attempts := new(int)
	return func(context.Context) error {
		*attempts++
		if *attempts <= len(errs) {
			return errs[*attempts-1]
		}
		return nil
	}, attempts
}

func (s *testRetrySuite) TestSucceedsAfterAborted(c *C) {
	op, attempts := failingOp(rpcErr(codes.Aborted, "conflict"), rpcErr(codes.Aborted, "conflict"))
	err := Retry(context.Background(), DefaultRetryPolicy(), "mutate", op)
	c.Assert(err, IsNil)
	c.Assert(*attempts, Equals, 3)
	c.Assert(s.sleeps, DeepEquals, []time.Duration{200 * time.Millisecond, 600 * time.Millisecond})
}

func (s *testRetrySuite) TestSuccessReturnsImmediately(c *C) {
	op, attempts := failingOp()
	c.Assert(Retry(context.Background(), DefaultRetryPolicy(), "query", op), IsNil)
	c.Assert(*attempts, Equals, 1)
	c.Assert(s.sleeps, HasLen, 0)
}

func (s *testRetrySuite) TestBudgets(c *C) {
	policy := RetryPolicy{
		InitialDelay:    time.Millisecond,
		Multiplier:      2,
		MaxRetries:      4,
		AuthMaxRetries:  1,
		OtherMaxRetries: 6,
	}
	cases := []struct {
		err      error
		attempts int
	}{
		{rpcErr(codes.Unauthenticated, "token expired"), 2},
		{rpcErr(codes.Aborted, "conflict"), 5},
		{rpcErr(codes.Unavailable, "restarting"), 5},
		{rpcErr(codes.Internal, "boom"), 7},
		{errors.New("Unavailable: connection refused"), 5},
		{errors.New("something odd"), 7},
	}
	for _, t := range cases {
		s.sleeps = nil
		attempts := 0
		err := Retry(context.Background(), policy, "query", func(context.Context) error {
			attempts++
			return t.err
		})
		var exhausted *RetryExhaustedError
		c.Assert(errors.As(err, &exhausted), IsTrue, Commentf("%v", t.err))
		c.Assert(exhausted.Attempts, Equals, t.attempts)
		c.Assert(exhausted.Last, Equals, t.err)
		c.Assert(attempts, Equals, t.attempts)
		c.Assert(s.sleeps, HasLen, t.attempts-1)
	}
}

func (s *testRetrySuite) TestDelayGrowsAndIsCapped(c *C) {
	policy := RetryPolicy{
		InitialDelay:    100 * time.Millisecond,
		Multiplier:      3,
		MaxDelay:        time.Second,
		MaxRetries:      5,
		AuthMaxRetries:  5,
		OtherMaxRetries: 5,
	}
	err := Retry(context.Background(), policy, "query", func(context.Context) error {
		return rpcErr(codes.Unavailable, "restarting")
	})
	c.Assert(err, NotNil)
	c.Assert(s.sleeps, DeepEquals, []time.Duration{
		100 * time.Millisecond,
		300 * time.Millisecond,
		900 * time.Millisecond,
		time.Second,
		time.Second,
	})
}

func (s *testRetrySuite) TestLifecycleErrorsNotRetried(c *C) {
	for _, e := range []error{ErrTxnNotOK, ErrReadOnly, ErrMalformed, ErrTxnClosed, ErrClientClosed} {
		op, attempts := failingOp(errors.WithStack(e), errors.WithStack(e))
		err := Retry(context.Background(), DefaultRetryPolicy(), "mutate", op)
		c.Assert(errors.Is(err, e), IsTrue)
		c.Assert(*attempts, Equals, 1)
	}
	c.Assert(s.sleeps, HasLen, 0)
}

func (s *testRetrySuite) TestCancelDuringBackoff(c *C) {
	backoffSleep = s.orig
	ctx, cancel := context.WithCancel(context.Background())
	policy := DefaultRetryPolicy()
	policy.InitialDelay = time.Hour

	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, policy, "query", func(context.Context) error {
		return rpcErr(codes.Aborted, "conflict")
	})
	c.Assert(errors.Is(err, context.Canceled), IsTrue)
	c.Assert(time.Since(start), Less, time.Minute)
}

func (s *testRetrySuite) TestClassify(c *C) {
	c.Assert(classify(rpcErr(codes.Unauthenticated, "")), Equals, classUnauthenticated)
	c.Assert(classify(rpcErr(codes.Aborted, "")), Equals, classTransient)
	c.Assert(classify(rpcErr(codes.Unavailable, "")), Equals, classTransient)
	c.Assert(classify(errors.WithStack(ErrAborted)), Equals, classTransient)
	c.Assert(classify(rpcErr(codes.InvalidArgument, "")), Equals, classOther)
	c.Assert(classify(errors.New("rpc: Unauthenticated")), Equals, classUnauthenticated)
	c.Assert(classify(errors.New("Transaction has been Aborted")), Equals, classTransient)
	c.Assert(classify(errors.New("bad query")), Equals, classOther)
}

func (s *testRetrySuite) TestQueryWithRetry(c *C) {
	s.srv.FailNext(mockgraph.Query,
		status.Error(codes.Unavailable, "alpha is restarting"),
		status.Error(codes.Unavailable, "alpha is restarting"))
	txn := s.client.NewRetryableTxn()
	resp, err := txn.QueryWithRetry(context.Background(), testQuery)
	c.Assert(err, IsNil)
	c.Assert(len(resp.GetJson()), Greater, 0)
	c.Assert(s.srv.Calls(mockgraph.Query), Equals, 3)
	c.Assert(s.sleeps, HasLen, 2)
	c.Assert(txn.State(), Equals, TxnOpen)
}

func (s *testRetrySuite) TestMutateWithRetry(c *C) {
	ctx := context.Background()
	txn := s.client.NewRetryableTxn()
	resp, err := txn.MutateWithRetry(ctx, &graphpb.Request{Mutations: []*graphpb.Mutation{setAlice()}})
	c.Assert(err, IsNil)
	c.Assert(resp.GetUids(), HasLen, 1)
	c.Assert(txn.Commit(ctx), IsNil)

	// A failed mutation ends the transaction, the next attempt cannot revive it.
	s.srv.FailNext(mockgraph.Query, status.Error(codes.Aborted, "conflict"))
	txn = s.client.NewRetryableTxn()
	_, err = txn.MutateWithRetry(ctx, &graphpb.Request{Mutations: []*graphpb.Mutation{setAlice()}})
	c.Assert(errors.Is(err, ErrTxnNotOK), IsTrue)
	c.Assert(txn.State(), Equals, TxnError)
	c.Assert(s.srv.Calls(mockgraph.Query), Equals, 2)
	c.Assert(s.sleeps, HasLen, 1)
}

func (s *testRetrySuite) TestRetryWholeTransaction(c *C) {
	s.srv.FailNext(mockgraph.CommitOrAbort, status.Error(codes.Aborted, "conflict"))
	attempts := 0
	err := Retry(context.Background(), s.client.RetryPolicy(), "transfer", func(ctx context.Context) error {
		attempts++
		txn := s.client.NewTxn()
		defer txn.Close()
		if _, err := txn.Mutate(ctx, setAlice()); err != nil {
			return err
		}
		return txn.Commit(ctx)
	})
	c.Assert(err, IsNil)
	c.Assert(attempts, Equals, 2)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 2)
}

func (s *testRetrySuite) TestRetryAfterWriteConflict(c *C) {
	attempts := 0
	err := Retry(context.Background(), s.client.RetryPolicy(), "upsert", func(ctx context.Context) error {
		attempts++
		txn := s.client.NewTxn()
		defer txn.Close()
		if _, err := txn.Mutate(ctx, setAlice()); err != nil {
			return err
		}
		if attempts == 1 {
			// A concurrent writer commits the same key first.
			rival := s.client.NewTxn()
			mu := setAlice()
			mu.CommitNow = true
			if _, err := rival.Mutate(ctx, mu); err != nil {
				return err
			}
		}
		return txn.Commit(ctx)
	})
	c.Assert(err, IsNil)
	c.Assert(attempts, Equals, 2)
	c.Assert(s.sleeps, HasLen, 1)
}
