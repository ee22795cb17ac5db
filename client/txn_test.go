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

	"github.com/pingcap-incubator/tinygraph/pkg/mock/mockgraph"
	"github.com/pingcap-incubator/tinygraph/pkg/testutil"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	. "github.com/pingcap/check"
	"github.com/pkg/errors"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ = Suite(&testTxnSuite{})

type testTxnSuite struct {
	baseSuite
}

const testQuery = `{ q(func: eq(name, "Alice")) { uid name } }`

func setAlice() *graphpb.Mutation {
	return &graphpb.Mutation{SetJson: []byte(`{"name":"Alice"}`)}
}

func (s *testTxnSuite) TestQueryMergesContext(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	c.Assert(txn.StartTs(), Equals, uint64(0))

	resp, err := txn.Query(ctx, testQuery)
	c.Assert(err, IsNil)
	c.Assert(len(resp.GetJson()), Greater, 0)
	startTs := txn.StartTs()
	c.Assert(startTs, Not(Equals), uint64(0))

	_, err = txn.QueryWithVars(ctx, testQuery, map[string]string{"$a": "1"})
	c.Assert(err, IsNil)
	c.Assert(txn.StartTs(), Equals, startTs)
	c.Assert(txn.State(), Equals, TxnOpen)

	reqs := s.srv.Requests()
	c.Assert(reqs, HasLen, 2)
	c.Assert(reqs[0].StartTs, Equals, uint64(0))
	c.Assert(reqs[1].StartTs, Equals, startTs)
	c.Assert(reqs[1].Hash, Equals, txn.Context().Hash)
	c.Assert(reqs[1].Vars, DeepEquals, map[string]string{"$a": "1"})
}

func (s *testTxnSuite) TestQueryRDF(c *C) {
	txn := s.client.NewReadOnlyTxn()
	resp, err := txn.QueryRDF(context.Background(), testQuery)
	c.Assert(err, IsNil)
	c.Assert(len(resp.GetRdf()), Greater, 0)
	c.Assert(s.srv.Requests()[0].RespFormat, Equals, graphpb.Request_RDF)
}

func (s *testTxnSuite) TestRequestFlags(c *C) {
	ctx := context.Background()
	_, err := s.client.NewBestEffortTxn().Query(ctx, testQuery)
	c.Assert(err, IsNil)
	_, err = s.client.NewTxn().Query(ctx, testQuery)
	c.Assert(err, IsNil)

	reqs := s.srv.Requests()
	c.Assert(reqs[0].ReadOnly, IsTrue)
	c.Assert(reqs[0].BestEffort, IsTrue)
	c.Assert(reqs[1].ReadOnly, IsFalse)
	c.Assert(reqs[1].BestEffort, IsFalse)
}

func (s *testTxnSuite) TestEmptyRequest(c *C) {
	txn := s.client.NewTxn()
	resp, err := txn.Do(context.Background(), &graphpb.Request{})
	c.Assert(err, IsNil)
	c.Assert(resp, NotNil)
	c.Assert(s.srv.Calls(mockgraph.Query), Equals, 0)
	c.Assert(txn.State(), Equals, TxnOpen)
}

func (s *testTxnSuite) TestEmptyQuerySent(c *C) {
	ctx := context.Background()
	txn := s.client.NewReadOnlyTxn()
	resp, err := txn.Query(ctx, "")
	c.Assert(err, IsNil)
	c.Assert(resp.GetTxn(), NotNil)
	c.Assert(s.srv.Calls(mockgraph.Query), Equals, 1)
	c.Assert(txn.StartTs(), Not(Equals), uint64(0))
	c.Assert(txn.State(), Equals, TxnOpen)

	_, err = txn.QueryRDFWithVars(ctx, "", nil)
	c.Assert(err, IsNil)
	c.Assert(s.srv.Calls(mockgraph.Query), Equals, 2)
	c.Assert(s.srv.Requests()[1].StartTs, Equals, txn.StartTs())
}

func (s *testTxnSuite) TestReadOnly(c *C) {
	ctx := context.Background()
	txn := s.client.NewReadOnlyTxn()
	_, err := txn.Mutate(ctx, setAlice())
	c.Assert(errors.Is(err, ErrReadOnly), IsTrue)
	c.Assert(errors.Is(txn.Commit(ctx), ErrReadOnly), IsTrue)
	c.Assert(s.srv.Calls(mockgraph.Query), Equals, 0)
	c.Assert(txn.State(), Equals, TxnOpen)

	c.Assert(txn.Discard(ctx), IsNil)
	c.Assert(txn.State(), Equals, TxnAborted)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 0)
}

func (s *testTxnSuite) TestMutateThenCommit(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	resp, err := txn.Mutate(ctx, setAlice())
	c.Assert(err, IsNil)
	c.Assert(resp.GetUids(), HasLen, 1)
	c.Assert(txn.State(), Equals, TxnOpen)
	c.Assert(txn.Context().Keys, HasLen, 1)
	c.Assert(txn.Context().Preds, DeepEquals, []string{"name"})

	c.Assert(txn.Commit(ctx), IsNil)
	c.Assert(txn.State(), Equals, TxnCommitted)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 1)
	committed := s.srv.Txns()[0]
	c.Assert(committed.Aborted, IsFalse)
	c.Assert(committed.StartTs, Equals, txn.StartTs())
	c.Assert(committed.Keys, DeepEquals, txn.Context().Keys)

	err = txn.Commit(ctx)
	c.Assert(errors.Is(err, ErrTxnNotOK), IsTrue)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 1)
}

func (s *testTxnSuite) TestCommitNow(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	mu := setAlice()
	mu.CommitNow = true
	_, err := txn.Mutate(ctx, mu)
	c.Assert(err, IsNil)
	c.Assert(txn.State(), Equals, TxnCommitted)
	c.Assert(s.srv.Requests()[0].CommitNow, IsTrue)

	c.Assert(errors.Is(txn.Commit(ctx), ErrTxnNotOK), IsTrue)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 0)
}

func (s *testTxnSuite) TestMixedCommitNow(c *C) {
	txn := s.client.NewTxn()
	now := setAlice()
	now.CommitNow = true
	_, err := txn.Do(context.Background(), &graphpb.Request{
		Mutations: []*graphpb.Mutation{now, setAlice()},
	})
	c.Assert(errors.Is(err, ErrMalformed), IsTrue)
	c.Assert(s.srv.Calls(mockgraph.Query), Equals, 0)
	c.Assert(txn.State(), Equals, TxnOpen)
}

func (s *testTxnSuite) TestNoMutationNoCommitRPC(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	_, err := txn.Query(ctx, testQuery)
	c.Assert(err, IsNil)
	c.Assert(txn.Commit(ctx), IsNil)
	c.Assert(txn.State(), Equals, TxnCommitted)

	txn = s.client.NewTxn()
	_, err = txn.Query(ctx, testQuery)
	c.Assert(err, IsNil)
	c.Assert(txn.Discard(ctx), IsNil)
	c.Assert(txn.State(), Equals, TxnAborted)

	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 0)
}

func (s *testTxnSuite) TestDiscard(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	_, err := txn.Mutate(ctx, setAlice())
	c.Assert(err, IsNil)

	c.Assert(txn.Discard(ctx), IsNil)
	c.Assert(txn.Discard(ctx), IsNil)
	c.Assert(txn.State(), Equals, TxnAborted)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 1)
	c.Assert(s.srv.Txns()[0].Aborted, IsTrue)

	committed := s.client.NewTxn()
	_, err = committed.Mutate(ctx, setAlice())
	c.Assert(err, IsNil)
	c.Assert(committed.Commit(ctx), IsNil)
	c.Assert(committed.Discard(ctx), IsNil)
	c.Assert(committed.State(), Equals, TxnCommitted)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 2)
}

func (s *testTxnSuite) TestFailedMutation(c *C) {
	ctx := context.Background()
	s.srv.FailNext(mockgraph.Query, status.Error(codes.Aborted, "Transaction has been aborted"))
	txn := s.client.NewTxn()
	_, err := txn.Mutate(ctx, setAlice())
	c.Assert(Code(err), Equals, codes.Aborted)
	c.Assert(txn.State(), Equals, TxnError)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 1)
	c.Assert(s.srv.Txns()[0].Aborted, IsTrue)
}

func (s *testTxnSuite) TestFailedQueryKeepsState(c *C) {
	s.srv.FailNext(mockgraph.Query, status.Error(codes.Unavailable, "alpha is restarting"))
	txn := s.client.NewTxn()
	_, err := txn.Query(context.Background(), testQuery)
	c.Assert(Code(err), Equals, codes.Unavailable)
	c.Assert(txn.State(), Equals, TxnOpen)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 0)
}

func (s *testTxnSuite) TestTerminalStates(c *C) {
	ctx := context.Background()

	committed := s.client.NewTxn()
	c.Assert(committed.Commit(ctx), IsNil)

	aborted := s.client.NewTxn()
	c.Assert(aborted.Discard(ctx), IsNil)

	failed := s.client.NewTxn()
	s.srv.FailNext(mockgraph.Query, status.Error(codes.Internal, "boom"))
	_, err := failed.Mutate(ctx, setAlice())
	c.Assert(err, NotNil)

	readOnlyAborted := s.client.NewReadOnlyTxn()
	c.Assert(readOnlyAborted.Discard(ctx), IsNil)

	for _, txn := range []*Txn{committed, aborted, failed, readOnlyAborted} {
		calls := s.srv.Calls(mockgraph.Query) + s.srv.Calls(mockgraph.CommitOrAbort)
		_, err := txn.Query(ctx, testQuery)
		c.Assert(errors.Is(err, ErrTxnNotOK), IsTrue, Commentf("state %s", txn.State()))
		_, err = txn.Mutate(ctx, setAlice())
		c.Assert(errors.Is(err, ErrTxnNotOK), IsTrue)
		_, err = txn.Do(ctx, &graphpb.Request{Query: testQuery})
		c.Assert(errors.Is(err, ErrTxnNotOK), IsTrue)
		c.Assert(errors.Is(txn.Commit(ctx), ErrTxnNotOK), IsTrue)
		c.Assert(txn.Discard(ctx), IsNil)
		c.Assert(s.srv.Calls(mockgraph.Query)+s.srv.Calls(mockgraph.CommitOrAbort), Equals, calls)
	}
}

func (s *testTxnSuite) TestCommitAborted(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	_, err := txn.Mutate(ctx, setAlice())
	c.Assert(err, IsNil)

	s.srv.FailNext(mockgraph.CommitOrAbort, status.Error(codes.Aborted, "Transaction has been aborted. Please retry"))
	err = txn.Commit(ctx)
	c.Assert(errors.Is(err, ErrAborted), IsTrue)
	c.Assert(Code(err), Equals, codes.Aborted)
	c.Assert(txn.State(), Equals, TxnCommitted)
}

func (s *testTxnSuite) TestOutcomeMetrics(c *C) {
	ctx := context.Background()
	count := func() (committed, commitFailed, aborted, failed float64) {
		return promtestutil.ToFloat64(txnCounterCommitted), promtestutil.ToFloat64(txnCounterCommitFailed),
			promtestutil.ToFloat64(txnCounterAborted), promtestutil.ToFloat64(txnCounterError)
	}

	// A failed mutation only counts as an error.
	committed, commitFailed, aborted, failed := count()
	txn := s.client.NewTxn()
	s.srv.FailNext(mockgraph.Query, status.Error(codes.Internal, "boom"))
	_, err := txn.Mutate(ctx, setAlice())
	c.Assert(err, NotNil)
	c1, cf1, a1, f1 := count()
	c.Assert(f1-failed, Equals, float64(1))
	c.Assert(a1-aborted, Equals, float64(0))
	c.Assert(c1-committed, Equals, float64(0))
	c.Assert(cf1-commitFailed, Equals, float64(0))

	// A failed commit is not counted as committed.
	txn = s.client.NewTxn()
	_, err = txn.Mutate(ctx, setAlice())
	c.Assert(err, IsNil)
	s.srv.FailNext(mockgraph.CommitOrAbort, status.Error(codes.Unavailable, "down"))
	c.Assert(txn.Commit(ctx), NotNil)
	c2, cf2, _, _ := count()
	c.Assert(c2-c1, Equals, float64(0))
	c.Assert(cf2-cf1, Equals, float64(1))

	txn = s.client.NewTxn()
	_, err = txn.Mutate(ctx, &graphpb.Mutation{SetNquads: []byte(`_:b <name> "Bob" .`)})
	c.Assert(err, IsNil)
	c.Assert(txn.Commit(ctx), IsNil)
	c3, cf3, _, _ := count()
	c.Assert(c3-c2, Equals, float64(1))
	c.Assert(cf3-cf2, Equals, float64(0))
}

func (s *testTxnSuite) TestWriteConflict(c *C) {
	ctx := context.Background()
	first, second := s.client.NewTxn(), s.client.NewTxn()
	_, err := first.Mutate(ctx, setAlice())
	c.Assert(err, IsNil)
	_, err = second.Mutate(ctx, setAlice())
	c.Assert(err, IsNil)
	c.Assert(second.StartTs(), Greater, first.StartTs())

	c.Assert(first.Commit(ctx), IsNil)
	err = second.Commit(ctx)
	c.Assert(errors.Is(err, ErrAborted), IsTrue)
	c.Assert(IsRetryable(err), IsTrue)
	c.Assert(s.srv.CommittedKeys(), DeepEquals, []string{mockgraph.ConflictKey(setAlice())})

	// Disjoint writes do not conflict.
	other := s.client.NewTxn()
	_, err = other.Mutate(ctx, &graphpb.Mutation{SetNquads: []byte(`_:b <name> "Bob" .`)})
	c.Assert(err, IsNil)
	third := s.client.NewTxn()
	_, err = third.Mutate(ctx, &graphpb.Mutation{SetNquads: []byte(`_:c <name> "Carol" .`)})
	c.Assert(err, IsNil)
	c.Assert(third.Commit(ctx), IsNil)
	c.Assert(other.Commit(ctx), IsNil)
}

func (s *testTxnSuite) TestStartTsMismatch(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	_, err := txn.Query(ctx, testQuery)
	c.Assert(err, IsNil)

	s.srv.SetQueryHandler(func(req *graphpb.Request) (*graphpb.Response, error) {
		return &graphpb.Response{Txn: &graphpb.TxnContext{StartTs: req.StartTs + 100}}, nil
	})
	resp, err := txn.Query(ctx, testQuery)
	c.Assert(errors.Is(err, ErrStartTsMismatch), IsTrue)
	c.Assert(resp, IsNil)
}

func (s *testTxnSuite) TestMergeContext(c *C) {
	txn := s.client.NewTxn()
	c.Assert(txn.mergeContext(nil), IsNil)
	c.Assert(txn.StartTs(), Equals, uint64(0))

	c.Assert(txn.mergeContext(&graphpb.TxnContext{StartTs: 7, Hash: "a", Keys: []string{"k1", "k2"}, Preds: []string{"p"}}), IsNil)
	c.Assert(txn.mergeContext(&graphpb.TxnContext{StartTs: 7, Hash: "b", Keys: []string{"k2", "k3"}, Preds: []string{"p"}}), IsNil)
	ctx := txn.Context()
	c.Assert(ctx.StartTs, Equals, uint64(7))
	c.Assert(ctx.Hash, Equals, "b")
	c.Assert(ctx.Keys, DeepEquals, []string{"k1", "k2", "k3"})
	c.Assert(ctx.Preds, DeepEquals, []string{"p"})

	err := txn.mergeContext(&graphpb.TxnContext{StartTs: 8})
	c.Assert(errors.Is(err, ErrStartTsMismatch), IsTrue)
	c.Assert(txn.StartTs(), Equals, uint64(7))
}

func (s *testTxnSuite) TestCloseDiscardsInBackground(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	_, err := txn.Mutate(ctx, setAlice())
	c.Assert(err, IsNil)

	txn.Close()
	txn.Close()
	testutil.WaitUntil(c, func(c *C) bool {
		return s.srv.Calls(mockgraph.CommitOrAbort) == 1
	})
	c.Assert(txn.State(), Equals, TxnAborted)
	c.Assert(s.srv.Txns()[0].Aborted, IsTrue)

	_, err = txn.Query(ctx, testQuery)
	c.Assert(errors.Is(err, ErrTxnClosed), IsTrue)
	c.Assert(errors.Is(txn.Commit(ctx), ErrTxnClosed), IsTrue)
	c.Assert(txn.Discard(ctx), IsNil)
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 1)
}

func (s *testTxnSuite) TestContextAfterClose(c *C) {
	txn := s.client.NewTxn()
	_, err := txn.Mutate(context.Background(), setAlice())
	c.Assert(err, IsNil)
	startTs := txn.StartTs()

	txn.Close()
	// The context stays readable while the discard runs in the background.
	testutil.WaitUntil(c, func(c *C) bool {
		return txn.Context().Aborted
	})
	testutil.WaitUntil(c, func(c *C) bool {
		return s.srv.Calls(mockgraph.CommitOrAbort) == 1
	})
	got := s.srv.Txns()[0]
	c.Assert(got.Aborted, IsTrue)
	c.Assert(got.StartTs, Equals, startTs)
	c.Assert(txn.Context().StartTs, Equals, startTs)
}

func (s *testTxnSuite) TestCloseAfterQuery(c *C) {
	txn := s.client.NewTxn()
	_, err := txn.Query(context.Background(), testQuery)
	c.Assert(err, IsNil)

	txn.Close()
	testutil.WaitUntil(c, func(c *C) bool {
		return txn.State() == TxnAborted
	})
	// Nothing was written, so nothing is sent.
	c.Assert(s.srv.Calls(mockgraph.CommitOrAbort), Equals, 0)
}

func (s *testTxnSuite) TestCloseFinished(c *C) {
	ctx := context.Background()
	txn := s.client.NewTxn()
	c.Assert(txn.Commit(ctx), IsNil)
	txn.Close()
	_, err := txn.Query(ctx, testQuery)
	c.Assert(errors.Is(err, ErrTxnNotOK), IsTrue)
	c.Assert(errors.Is(err, ErrTxnClosed), IsFalse)
}
