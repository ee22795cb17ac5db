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
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrTxnNotOK is returned when an operation is attempted on a transaction
	// that already reached a terminal state.
	ErrTxnNotOK = errors.New("[graph] cannot perform action when transaction is not open")
	// ErrReadOnly is returned when a read-only transaction is asked to mutate
	// or commit.
	ErrReadOnly = errors.New("[graph] readonly transaction cannot run mutations or be committed")
	// ErrMalformed is returned when the mutations of one request disagree on
	// whether to commit immediately.
	ErrMalformed = errors.New("[graph] mutations of one request must agree on commit-now")
	// ErrStartTsMismatch is returned when two responses of one transaction
	// report different start timestamps.
	ErrStartTsMismatch = errors.New("[graph] start ts mismatch")
	// ErrAborted is returned when the server aborted the transaction on commit.
	ErrAborted = errors.New("[graph] transaction has been aborted, please retry")
	// ErrTxnClosed is returned by any operation on a transaction after Close.
	ErrTxnClosed = errors.New("[graph] transaction already closed")
	// ErrClientClosed is returned by any call made after the client was closed.
	ErrClientClosed = errors.New("[graph] client already closed")
	// ErrNoRefreshToken is returned by RefreshLogin when no login happened.
	ErrNoRefreshToken = errors.New("[graph] no refresh token, login first")
	// ErrNoEndpoints is returned when a client is built without any channel.
	ErrNoEndpoints = errors.New("[graph] at least one endpoint is required")
)

func notOK(state TxnState) error {
	return errors.Wrapf(ErrTxnNotOK, "state %s", state)
}

// RPCError is a transport level failure of one RPC. Cause is the error
// returned by gRPC, usually carrying a status.
type RPCError struct {
	Op    string
	Cause error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("[graph] %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the gRPC error.
func (e *RPCError) Unwrap() error { return e.Cause }

// Code is the gRPC status code of the failure.
func (e *RPCError) Code() codes.Code { return status.Code(e.Cause) }

// RetryExhaustedError is returned once a retry budget is spent. Last is the
// failure of the final attempt.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("[graph] %s failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// Code returns the gRPC status code carried anywhere in err's chain, or
// codes.Unknown when err is not a gRPC failure.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code()
	}
	if s, ok := status.FromError(errors.Cause(err)); ok {
		return s.Code()
	}
	return codes.Unknown
}

// IsRetryable reports whether err is worth another attempt. Client side
// rejections are deterministic and never are.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTxnNotOK),
		errors.Is(err, ErrReadOnly),
		errors.Is(err, ErrMalformed),
		errors.Is(err, ErrTxnClosed),
		errors.Is(err, ErrClientClosed):
		return false
	}
	return true
}

// errorClass buckets failures for the retry budget.
type errorClass int

const (
	classOther errorClass = iota
	classUnauthenticated
	classTransient
)

func (c errorClass) String() string {
	switch c {
	case classUnauthenticated:
		return "unauthenticated"
	case classTransient:
		return "transient"
	}
	return "other"
}

func classify(err error) errorClass {
	if errors.Is(err, ErrAborted) {
		return classTransient
	}
	switch Code(err) {
	case codes.Unauthenticated:
		return classUnauthenticated
	case codes.Aborted, codes.Unavailable:
		return classTransient
	}
	// Errors produced by a server that reports its status in the message only.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Unauthenticated"):
		return classUnauthenticated
	case strings.Contains(msg, "Aborted"), strings.Contains(msg, "Unavailable"):
		return classTransient
	}
	return classOther
}
