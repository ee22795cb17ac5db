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
	"sync"

	"github.com/google/uuid"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

// TxnState is the lifecycle state of a transaction. A transaction leaves
// TxnOpen at most once and never comes back.
type TxnState int32

const (
	TxnOpen TxnState = iota
	TxnCommitted
	TxnAborted
	TxnError
)

func (s TxnState) String() string {
	switch s {
	case TxnOpen:
		return "Open"
	case TxnCommitted:
		return "Committed"
	case TxnAborted:
		return "Aborted"
	case TxnError:
		return "Error"
	}
	return "Unknown"
}

// Txn is a transaction created by a Client. It is not safe for concurrent
// use and cannot be reused once it left TxnOpen. The accessors may be called
// at any time, also while a closed transaction is discarded in the
// background.
type Txn struct {
	id         string
	client     *client
	readOnly   bool
	bestEffort bool

	state  atomic.Int32
	closed atomic.Bool

	mutated bool

	// mu guards ctx.
	mu  sync.Mutex
	ctx *graphpb.TxnContext
}

func newTxn(c *client, readOnly, bestEffort bool) *Txn {
	return &Txn{
		id:         uuid.NewString(),
		client:     c,
		readOnly:   readOnly,
		bestEffort: bestEffort,
		ctx:        &graphpb.TxnContext{},
	}
}

// ID identifies the transaction in logs and traces only.
func (t *Txn) ID() string { return t.id }

// State returns the current state.
func (t *Txn) State() TxnState { return TxnState(t.state.Load()) }

// ReadOnly reports whether the transaction rejects mutations.
func (t *Txn) ReadOnly() bool { return t.readOnly }

// BestEffort reports whether queries may skip the timestamp round trip.
func (t *Txn) BestEffort() bool { return t.bestEffort }

// StartTs is the start timestamp assigned by the server, 0 before the first
// response.
func (t *Txn) StartTs() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx.StartTs
}

// Context returns a copy of the accumulated transaction context.
func (t *Txn) Context() *graphpb.TxnContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Txn) snapshot() *graphpb.TxnContext {
	return &graphpb.TxnContext{
		StartTs:  t.ctx.StartTs,
		CommitTs: t.ctx.CommitTs,
		Aborted:  t.ctx.Aborted,
		Keys:     append([]string(nil), t.ctx.Keys...),
		Preds:    append([]string(nil), t.ctx.Preds...),
		Hash:     t.ctx.Hash,
	}
}

// Query runs q within the transaction.
func (t *Txn) Query(ctx context.Context, q string) (*graphpb.Response, error) {
	return t.QueryWithVars(ctx, q, nil)
}

// QueryWithVars runs q with the variables bound. The request is always sent,
// even for an empty q, and never changes the state.
func (t *Txn) QueryWithVars(ctx context.Context, q string, vars map[string]string) (*graphpb.Response, error) {
	return t.query(ctx, &graphpb.Request{Query: q, Vars: vars})
}

// QueryRDF runs q and asks for the result as RDF.
func (t *Txn) QueryRDF(ctx context.Context, q string) (*graphpb.Response, error) {
	return t.QueryRDFWithVars(ctx, q, nil)
}

// QueryRDFWithVars runs q with the variables bound and asks for the result
// as RDF.
func (t *Txn) QueryRDFWithVars(ctx context.Context, q string, vars map[string]string) (*graphpb.Response, error) {
	return t.query(ctx, &graphpb.Request{Query: q, Vars: vars, RespFormat: graphpb.Request_RDF})
}

func (t *Txn) query(ctx context.Context, req *graphpb.Request) (*graphpb.Response, error) {
	if t.closed.Load() {
		return nil, errors.WithStack(ErrTxnClosed)
	}
	if state := t.State(); state != TxnOpen {
		return nil, notOK(state)
	}
	return t.run(ctx, req)
}

// Mutate runs a single mutation. If mu.CommitNow is set the transaction is
// committed by the same call.
func (t *Txn) Mutate(ctx context.Context, mu *graphpb.Mutation) (*graphpb.Response, error) {
	return t.Do(ctx, &graphpb.Request{
		Mutations: []*graphpb.Mutation{mu},
		CommitNow: mu.GetCommitNow(),
	})
}

// Do runs a query followed by mutations in one round trip. req is stamped
// with the transaction context before it is sent.
//
// If the request carries mutations and fails, the transaction is discarded
// and moves to TxnError; the original failure is returned.
func (t *Txn) Do(ctx context.Context, req *graphpb.Request) (*graphpb.Response, error) {
	if t.closed.Load() {
		return nil, errors.WithStack(ErrTxnClosed)
	}
	if state := t.State(); state != TxnOpen {
		return nil, notOK(state)
	}
	if len(req.Query) == 0 && len(req.Mutations) == 0 {
		return &graphpb.Response{}, nil
	}
	if len(req.Mutations) > 0 {
		if t.readOnly {
			return nil, errors.WithStack(ErrReadOnly)
		}
		commitNow, err := mutationsCommitNow(req.Mutations)
		if err != nil {
			return nil, err
		}
		req.CommitNow = req.CommitNow || commitNow
		t.mutated = true
	}
	return t.run(ctx, req)
}

// run stamps req with the transaction context and sends it. A request
// without mutations never commits.
func (t *Txn) run(ctx context.Context, req *graphpb.Request) (*graphpb.Response, error) {
	if len(req.Mutations) == 0 {
		req.CommitNow = false
	}
	t.mu.Lock()
	req.StartTs = t.ctx.StartTs
	req.Hash = t.ctx.Hash
	t.mu.Unlock()
	req.ReadOnly = t.readOnly
	req.BestEffort = t.bestEffort

	if span := opentracing.SpanFromContext(ctx); span != nil {
		span = opentracing.StartSpan("graphclient.Txn.Do", opentracing.ChildOf(span.Context()))
		span.SetTag("txn", t.id)
		defer span.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span)
	}

	var resp *graphpb.Response
	err := t.client.execute(ctx, "query", func(ctx context.Context, stub graphpb.DgraphClient) (err error) {
		resp, err = stub.Query(ctx, req)
		return err
	})
	if err != nil {
		if len(req.Mutations) > 0 {
			t.abandon(ctx)
		}
		return nil, err
	}
	if req.CommitNow {
		t.state.Store(int32(TxnCommitted))
		txnCounterCommitted.Inc()
	}
	if err := t.mergeContext(resp.GetTxn()); err != nil {
		log.Error("[graph] merge transaction context failed", zap.String("txn", t.id), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// mutationsCommitNow returns the commit-now flag shared by all mutations.
func mutationsCommitNow(mus []*graphpb.Mutation) (bool, error) {
	commitNow := mus[0].GetCommitNow()
	for _, mu := range mus[1:] {
		if mu.GetCommitNow() != commitNow {
			return false, errors.WithStack(ErrMalformed)
		}
	}
	return commitNow, nil
}

// abandon marks the transaction failed after a failed mutation and asks the
// server to drop its writes. The abort result is only logged.
func (t *Txn) abandon(ctx context.Context) {
	if !t.state.CompareAndSwap(int32(TxnOpen), int32(TxnError)) {
		return
	}
	txnCounterError.Inc()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.client.discardTimeout)
	defer cancel()
	if err := t.abort(ctx); err != nil {
		log.Warn("[graph] discard after failed mutation failed", zap.String("txn", t.id), zap.Error(err))
	}
}

// Commit commits the mutations of the transaction. A transaction that never
// mutated commits without a round trip. On failure the transaction stays
// TxnCommitted and must not be retried, its effects are unknown.
func (t *Txn) Commit(ctx context.Context) error {
	if t.closed.Load() {
		return errors.WithStack(ErrTxnClosed)
	}
	if state := t.State(); state != TxnOpen {
		return notOK(state)
	}
	if t.readOnly {
		return errors.WithStack(ErrReadOnly)
	}
	if !t.state.CompareAndSwap(int32(TxnOpen), int32(TxnCommitted)) {
		return notOK(t.State())
	}
	if !t.mutated {
		txnCounterCommitted.Inc()
		return nil
	}
	t.mu.Lock()
	txn := t.snapshot()
	t.mu.Unlock()
	if err := t.commitOrAbort(ctx, txn); err != nil {
		txnCounterCommitFailed.Inc()
		if Code(err) == codes.Aborted {
			return multierr.Combine(errors.WithStack(ErrAborted), err)
		}
		return err
	}
	txnCounterCommitted.Inc()
	return nil
}

// Discard aborts the transaction. It is a no-op once the transaction left
// TxnOpen or was closed, so it is safe to defer.
func (t *Txn) Discard(ctx context.Context) error {
	if t.closed.Load() {
		return nil
	}
	return t.discard(ctx)
}

func (t *Txn) discard(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(TxnOpen), int32(TxnAborted)) {
		return nil
	}
	txnCounterAborted.Inc()
	return t.abort(ctx)
}

// abort sends the abort of a transaction that wrote something.
func (t *Txn) abort(ctx context.Context) error {
	if !t.mutated {
		return nil
	}
	t.mu.Lock()
	t.ctx.Aborted = true
	txn := t.snapshot()
	t.mu.Unlock()
	return t.commitOrAbort(ctx, txn)
}

// commitOrAbort sends txn, a snapshot of the context, so the request is never
// encoded while the context changes.
func (t *Txn) commitOrAbort(ctx context.Context, txn *graphpb.TxnContext) error {
	if span := opentracing.SpanFromContext(ctx); span != nil {
		span = opentracing.StartSpan("graphclient.Txn.CommitOrAbort", opentracing.ChildOf(span.Context()))
		span.SetTag("txn", t.id)
		span.SetTag("aborted", txn.Aborted)
		defer span.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span)
	}
	return t.client.execute(ctx, "commit_or_abort", func(ctx context.Context, stub graphpb.DgraphClient) error {
		_, err := stub.CommitOrAbort(ctx, txn)
		return err
	})
}

// Close releases the transaction. An open transaction is discarded in the
// background; the discard is attempted but may not complete, the server
// reclaims abandoned transactions on its own. Closing a finished
// transaction does nothing. After Close every call but Discard fails with
// ErrTxnClosed.
func (t *Txn) Close() {
	if t.State() != TxnOpen || !t.closed.CompareAndSwap(false, true) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.client.discardTimeout)
		defer cancel()
		if err := t.discard(ctx); err != nil {
			log.Warn("[graph] background discard failed", zap.String("txn", t.id), zap.Error(err))
		}
	}()
}

// mergeContext folds the context of a response into the local one. The
// first response fixes the start timestamp.
func (t *Txn) mergeContext(src *graphpb.TxnContext) error {
	if src == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.StartTs == 0 {
		t.ctx.StartTs = src.StartTs
	}
	if t.ctx.StartTs != src.StartTs {
		return errors.Wrapf(ErrStartTsMismatch, "local %d, response %d", t.ctx.StartTs, src.StartTs)
	}
	t.ctx.Hash = src.Hash
	t.ctx.Keys = mergeStrings(t.ctx.Keys, src.Keys)
	t.ctx.Preds = mergeStrings(t.ctx.Preds, src.Preds)
	return nil
}

func mergeStrings(dst, src []string) []string {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
