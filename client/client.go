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
	"math/rand"
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pingcap-incubator/tinygraph/config"
	"github.com/pingcap-incubator/tinygraph/pkg/grpcutil"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Client is a graph database client. It owns a set of channels to alpha
// nodes and runs the calls of every transaction it creates on one of them.
// It should not be used after calling Close().
type Client interface {
	// NewTxn starts a read-write transaction.
	NewTxn() *Txn
	// NewReadOnlyTxn starts a transaction that can only run queries.
	NewReadOnlyTxn() *Txn
	// NewBestEffortTxn starts a read-only transaction whose queries may be
	// answered without waiting for the latest timestamp.
	NewBestEffortTxn() *Txn
	// NewRetryableTxn starts a read-write transaction that retries its calls
	// with the client's retry policy.
	NewRetryableTxn() *RetryableTxn
	// Login exchanges credentials for a token pair. The access token is
	// attached to every later call and refreshed when it expires.
	Login(ctx context.Context, user, password string, namespace uint64) error
	// RefreshLogin renews the token pair with the stored refresh token.
	RefreshLogin(ctx context.Context) error
	// Alter changes the schema or drops data, outside of any transaction.
	Alter(ctx context.Context, op *graphpb.Operation) error
	// SetSchema alters the schema.
	SetSchema(ctx context.Context, schema string) error
	// DropAll removes all data and the schema.
	DropAll(ctx context.Context) error
	// CheckVersion returns the version tag of the server.
	CheckVersion(ctx context.Context) (string, error)
	// RetryPolicy returns the policy used by retryable transactions.
	RetryPolicy() RetryPolicy
	// Close closes every channel. Calls made afterwards fail with
	// ErrClientClosed.
	Close()
}

const (
	accessJwtHeader       = "accessjwt"
	defaultDiscardTimeout = 5 * time.Second
)

type callFunc func(ctx context.Context, stub graphpb.DgraphClient) error

type client struct {
	connMu struct {
		sync.RWMutex
		conns []*grpc.ClientConn
		stubs []graphpb.DgraphClient
	}
	closed    atomic.Bool
	closeOnce sync.Once

	roundRobin bool
	next       atomic.Uint64

	limiter        *rate.Limiter
	requestTimeout time.Duration
	discardTimeout time.Duration
	retry          RetryPolicy

	jwtMu sync.RWMutex
	jwt   graphpb.Jwt
}

// NewClient dials every endpoint of cfg and logs in when cfg carries user
// credentials.
func NewClient(ctx context.Context, cfg *config.Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	security := grpcutil.SecurityOption{
		CAPath:   cfg.Security.CAPath,
		CertPath: cfg.Security.CertPath,
		KeyPath:  cfg.Security.KeyPath,
	}
	conns := make([]*grpc.ClientConn, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		cc, err := grpcutil.GetClientConn(ep, security, cfg.Auth.APIKey)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, errors.WithMessagef(err, "dial %s", ep)
		}
		conns = append(conns, cc)
	}
	c, err := newClient(conns, OptionsFromConfig(cfg)...)
	if err != nil {
		return nil, err
	}
	log.Info("[graph] init client",
		zap.Strings("endpoints", cfg.Endpoints),
		zap.String("balancer", cfg.Balancer),
		zap.Bool("tls", security.Enabled()))

	if len(cfg.Auth.User) != 0 {
		if err := c.Login(ctx, cfg.Auth.User, cfg.Auth.Password, cfg.Auth.Namespace); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewClientWithConns creates a client over already established connections.
// The client takes ownership of them.
func NewClientWithConns(conns []*grpc.ClientConn, opts ...Option) (Client, error) {
	return newClient(conns, opts...)
}

func newClient(conns []*grpc.ClientConn, opts ...Option) (*client, error) {
	if len(conns) == 0 {
		return nil, errors.WithStack(ErrNoEndpoints)
	}
	c := &client{
		discardTimeout: defaultDiscardTimeout,
		retry:          DefaultRetryPolicy(),
	}
	c.connMu.conns = conns
	c.connMu.stubs = make([]graphpb.DgraphClient, 0, len(conns))
	for _, cc := range conns {
		c.connMu.stubs = append(c.connMu.stubs, graphpb.NewDgraphClient(cc))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *client) NewTxn() *Txn {
	return newTxn(c, false, false)
}

func (c *client) NewReadOnlyTxn() *Txn {
	return newTxn(c, true, false)
}

func (c *client) NewBestEffortTxn() *Txn {
	return newTxn(c, true, true)
}

func (c *client) NewRetryableTxn() *RetryableTxn {
	return &RetryableTxn{Txn: c.NewTxn(), policy: c.retry}
}

func (c *client) RetryPolicy() RetryPolicy {
	return c.retry
}

// pick selects the channel for one call. It must be called with connMu held.
func (c *client) pick() graphpb.DgraphClient {
	stubs := c.connMu.stubs
	if len(stubs) == 1 {
		return stubs[0]
	}
	if c.roundRobin {
		return stubs[(c.next.Inc()-1)%uint64(len(stubs))]
	}
	return stubs[rand.Intn(len(stubs))]
}

func (c *client) accessJwt() string {
	c.jwtMu.RLock()
	defer c.jwtMu.RUnlock()
	return c.jwt.AccessJwt
}

func (c *client) refreshJwt() string {
	c.jwtMu.RLock()
	defer c.jwtMu.RUnlock()
	return c.jwt.RefreshJwt
}

func (c *client) setJwt(jwt *graphpb.Jwt) {
	c.jwtMu.Lock()
	defer c.jwtMu.Unlock()
	c.jwt.AccessJwt = jwt.GetAccessJwt()
	c.jwt.RefreshJwt = jwt.GetRefreshJwt()
}

// invoke runs call on stub with the request timeout and the access token
// applied.
func (c *client) invoke(ctx context.Context, stub graphpb.DgraphClient, call callFunc) error {
	if c.requestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
		}
	}
	if jwt := c.accessJwt(); len(jwt) != 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, accessJwtHeader, jwt)
	}
	return call(ctx, stub)
}

// execute runs call on one channel. An expired access token is refreshed
// once and the call repeated once.
func (c *client) execute(ctx context.Context, op string, call callFunc) error {
	return c.do(ctx, op, true, call)
}

func (c *client) do(ctx context.Context, op string, refresh bool, call callFunc) error {
	if c.closed.Load() {
		return errors.WithStack(ErrClientClosed)
	}
	if span := opentracing.SpanFromContext(ctx); span != nil {
		span = opentracing.StartSpan("graphclient."+op, opentracing.ChildOf(span.Context()))
		defer span.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span)
	}

	// Close takes the write lock, so it waits for every call already past
	// this point.
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.closed.Load() {
		return errors.WithStack(ErrClientClosed)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.WithStack(err)
		}
	}

	start := time.Now()
	stub := c.pick()
	err := c.invoke(ctx, stub, call)
	if err != nil && refresh && status.Code(err) == codes.Unauthenticated && len(c.refreshJwt()) != 0 {
		log.Info("[graph] access token expired, refreshing", zap.String("op", op))
		if refreshErr := c.refresh(ctx, stub); refreshErr != nil {
			authRefreshFailed.Inc()
			cmdFailedDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
			log.Warn("[graph] refresh access token failed", zap.String("op", op), zap.Error(refreshErr))
			return multierr.Combine(errors.WithStack(&RPCError{Op: op, Cause: err}), refreshErr)
		}
		authRefreshOK.Inc()
		err = c.invoke(ctx, stub, call)
	}
	if err != nil {
		cmdFailedDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		return errors.WithStack(&RPCError{Op: op, Cause: err})
	}
	cmdDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return nil
}

// refresh exchanges the refresh token on the channel that reported the
// expiry. It runs under the read lock held by do.
func (c *client) refresh(ctx context.Context, stub graphpb.DgraphClient) error {
	req := &graphpb.LoginRequest{RefreshToken: c.refreshJwt()}
	var resp *graphpb.Response
	err := c.invoke(ctx, stub, func(ctx context.Context, stub graphpb.DgraphClient) (err error) {
		resp, err = stub.Login(ctx, req)
		return err
	})
	if err != nil {
		return errors.WithStack(&RPCError{Op: "login", Cause: err})
	}
	return c.setJwtFrom(resp)
}

func (c *client) Login(ctx context.Context, user, password string, namespace uint64) error {
	req := &graphpb.LoginRequest{Userid: user, Password: password, Namespace: namespace}
	if err := c.login(ctx, req); err != nil {
		return err
	}
	log.Info("[graph] login", zap.String("user", user), zap.Uint64("namespace", namespace))
	return nil
}

func (c *client) RefreshLogin(ctx context.Context) error {
	rt := c.refreshJwt()
	if len(rt) == 0 {
		return errors.WithStack(ErrNoRefreshToken)
	}
	return c.login(ctx, &graphpb.LoginRequest{RefreshToken: rt})
}

func (c *client) login(ctx context.Context, req *graphpb.LoginRequest) error {
	var resp *graphpb.Response
	err := c.do(ctx, "login", false, func(ctx context.Context, stub graphpb.DgraphClient) (err error) {
		resp, err = stub.Login(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	return c.setJwtFrom(resp)
}

// setJwtFrom stores the token pair carried by a Login response.
func (c *client) setJwtFrom(resp *graphpb.Response) error {
	jwt, err := graphpb.UnmarshalJwt(resp.GetJson())
	if err != nil {
		return err
	}
	c.setJwt(jwt)
	return nil
}

func (c *client) Alter(ctx context.Context, op *graphpb.Operation) error {
	return c.execute(ctx, "alter", func(ctx context.Context, stub graphpb.DgraphClient) error {
		_, err := stub.Alter(ctx, op)
		return err
	})
}

func (c *client) SetSchema(ctx context.Context, schema string) error {
	return c.Alter(ctx, &graphpb.Operation{Schema: schema})
}

func (c *client) DropAll(ctx context.Context) error {
	return c.Alter(ctx, &graphpb.Operation{DropAll: true, DropOp: graphpb.Operation_ALL})
}

func (c *client) CheckVersion(ctx context.Context) (string, error) {
	var version *graphpb.Version
	err := c.execute(ctx, "check_version", func(ctx context.Context, stub graphpb.DgraphClient) (err error) {
		version, err = stub.CheckVersion(ctx, &graphpb.Check{})
		return err
	})
	if err != nil {
		return "", err
	}
	return version.GetTag(), nil
}

func (c *client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.connMu.Lock()
		defer c.connMu.Unlock()
		for _, cc := range c.connMu.conns {
			if err := cc.Close(); err != nil {
				log.Error("[graph] failed close grpc clientConn", zap.Error(err))
			}
		}
		log.Info("[graph] client closed", zap.Int("channels", len(c.connMu.conns)))
	})
}
