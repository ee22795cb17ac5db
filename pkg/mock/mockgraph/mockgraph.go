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

// Package mockgraph provides an in-process graph server for tests.
package mockgraph

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/google/btree"
	"github.com/pingcap-incubator/tinygraph/proto/pkg/graphpb"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// Method names accepted by FailNext and Calls.
const (
	Login         = "Login"
	Query         = "Query"
	Alter         = "Alter"
	CommitOrAbort = "CommitOrAbort"
	CheckVersion  = "CheckVersion"
)

// Version is the tag returned by CheckVersion.
const Version = "v0.0.0-mock"

const bufSize = 1 << 20

// keyItem is the last commit of a conflict key.
type keyItem struct {
	key      string
	commitTs uint64
}

var _ btree.Item = &keyItem{}

// Less orders items by key.
func (k *keyItem) Less(other btree.Item) bool {
	return k.key < other.(*keyItem).key
}

// ConflictKey is the key the server reports for a mutation. Two mutations
// carrying the same payload conflict with each other.
func ConflictKey(mu *graphpb.Mutation) string {
	var buf []byte
	buf = append(buf, mu.SetJson...)
	buf = append(buf, mu.DeleteJson...)
	buf = append(buf, mu.SetNquads...)
	buf = append(buf, mu.DelNquads...)
	return fmt.Sprintf("%016x", farm.Fingerprint64(buf))
}

// QueryHandler replaces the default Query behavior. Returning a nil
// response with a nil error makes the server answer with its default.
type QueryHandler func(req *graphpb.Request) (*graphpb.Response, error)

// Server is an in-memory api.Dgraph service used to test clients. It hands out
// start timestamps, records every call and can be told to fail.
type Server struct {
	graphpb.UnimplementedDgraphServer

	mu         sync.Mutex
	nextTs     uint64
	calls      map[string]int
	failures   map[string][]error
	requests   []*graphpb.Request
	txns       []*graphpb.TxnContext
	ops        []*graphpb.Operation
	handler    QueryHandler
	apiKeys    []string
	users      map[string]string
	requireJwt bool
	accessJwt  map[string]struct{}
	refreshJwt map[string]struct{}
	tokenSeq   int
	committed  *btree.BTree

	lis *bufconn.Listener
	srv *grpc.Server
}

// NewServer creates a server. It has to be started before use.
func NewServer() *Server {
	return &Server{
		nextTs:     1,
		calls:      make(map[string]int),
		failures:   make(map[string][]error),
		users:      make(map[string]string),
		accessJwt:  make(map[string]struct{}),
		refreshJwt: make(map[string]struct{}),
		committed:  btree.New(2),
	}
}

// Start serves the api.Dgraph service on an in-memory listener.
func (s *Server) Start() {
	s.lis = bufconn.Listen(bufSize)
	s.srv = grpc.NewServer()
	graphpb.RegisterDgraphServer(s.srv, s)
	go s.srv.Serve(s.lis)
}

// Stop stops the server and closes its listener.
func (s *Server) Stop() {
	if s.srv != nil {
		s.srv.Stop()
	}
}

// Dial returns a connection to the server.
func (s *Server) Dial(opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return s.lis.DialContext(ctx)
	}
	opts = append([]grpc.DialOption{
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	cc, err := grpc.NewClient("passthrough:///bufnet", opts...)
	return cc, errors.WithStack(err)
}

// FailNext makes the next calls of method fail with errs, in order.
func (s *Server) FailNext(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], errs...)
}

// SetQueryHandler overrides how Query answers.
func (s *Server) SetQueryHandler(h QueryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// AddUser registers credentials accepted by Login.
func (s *Server) AddUser(user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user] = password
}

// RequireLogin makes every call but Login and CheckVersion check the access
// token.
func (s *Server) RequireLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireJwt = true
}

// ExpireAccessToken invalidates every access token issued so far. Refresh
// tokens stay valid.
func (s *Server) ExpireAccessToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessJwt = make(map[string]struct{})
}

// ExpireRefreshToken invalidates every refresh token issued so far.
func (s *Server) ExpireRefreshToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshJwt = make(map[string]struct{})
}

// Calls returns how many times method was called, failed calls included.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Requests returns the query requests received so far.
func (s *Server) Requests() []*graphpb.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*graphpb.Request(nil), s.requests...)
}

// Txns returns the contexts received by CommitOrAbort so far.
func (s *Server) Txns() []*graphpb.TxnContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*graphpb.TxnContext(nil), s.txns...)
}

// Operations returns the operations received by Alter so far.
func (s *Server) Operations() []*graphpb.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*graphpb.Operation(nil), s.ops...)
}

// APIKeys returns the API keys seen on incoming calls.
func (s *Server) APIKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.apiKeys...)
}

// CommittedKeys returns the keys written by committed transactions, in
// order.
func (s *Server) CommittedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	s.committed.Ascend(func(i btree.Item) bool {
		keys = append(keys, i.(*keyItem).key)
		return true
	})
	return keys
}

// commit checks the keys of a transaction against the writes committed after
// it started and, when none overlaps, records them at a new commit ts. It must
// be called with mu held.
func (s *Server) commit(startTs uint64, keys []string) (uint64, error) {
	for _, key := range keys {
		item := s.committed.Get(&keyItem{key: key})
		if item != nil && item.(*keyItem).commitTs > startTs {
			return 0, status.Errorf(codes.Aborted, "Transaction has been aborted. Please retry: conflict on %s", key)
		}
	}
	commitTs := s.nextTs
	s.nextTs++
	for _, key := range keys {
		s.committed.ReplaceOrInsert(&keyItem{key: key, commitTs: commitTs})
	}
	return commitTs, nil
}

// enter records a call and returns the scripted failure, if any. It must be
// called with mu held.
func (s *Server) enter(ctx context.Context, method string, checkJwt bool) error {
	s.calls[method]++
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		s.apiKeys = append(s.apiKeys, md.Get("dg-auth")...)
	}
	if errs := s.failures[method]; len(errs) > 0 {
		s.failures[method] = errs[1:]
		return errs[0]
	}
	if checkJwt && s.requireJwt {
		var token string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("accessjwt"); len(v) > 0 {
				token = v[0]
			}
		}
		if _, ok := s.accessJwt[token]; !ok {
			return status.Error(codes.Unauthenticated, "Unauthenticated: access token is invalid or expired")
		}
	}
	return nil
}

func (s *Server) issueTokens() (*graphpb.Response, error) {
	s.tokenSeq++
	jwt := &graphpb.Jwt{
		AccessJwt:  fmt.Sprintf("access-%d", s.tokenSeq),
		RefreshJwt: fmt.Sprintf("refresh-%d", s.tokenSeq),
	}
	// Like signed tokens, every issued token stays valid until it expires.
	s.accessJwt[jwt.AccessJwt] = struct{}{}
	s.refreshJwt[jwt.RefreshJwt] = struct{}{}
	data, err := graphpb.MarshalJwt(jwt)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &graphpb.Response{Json: data}, nil
}

// Login implements graphpb.DgraphServer.
func (s *Server) Login(ctx context.Context, req *graphpb.LoginRequest) (*graphpb.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, Login, false); err != nil {
		return nil, err
	}
	if len(req.RefreshToken) != 0 {
		if _, ok := s.refreshJwt[req.RefreshToken]; !ok {
			return nil, status.Error(codes.Unauthenticated, "Unauthenticated: refresh token is invalid or expired")
		}
		return s.issueTokens()
	}
	if password, ok := s.users[req.Userid]; !ok || password != req.Password {
		return nil, status.Error(codes.Unauthenticated, "Unauthenticated: invalid username or password")
	}
	return s.issueTokens()
}

// Query implements graphpb.DgraphServer.
func (s *Server) Query(ctx context.Context, req *graphpb.Request) (*graphpb.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, Query, true); err != nil {
		return nil, err
	}
	s.requests = append(s.requests, req)
	if s.handler != nil {
		resp, err := s.handler(req)
		if err != nil || resp != nil {
			return resp, err
		}
	}

	startTs := req.StartTs
	if startTs == 0 {
		startTs = s.nextTs
		s.nextTs++
	}
	txn := &graphpb.TxnContext{
		StartTs: startTs,
		Hash:    fmt.Sprintf("hash-%d", startTs),
	}
	resp := &graphpb.Response{Txn: txn}
	if len(req.Query) != 0 {
		if req.RespFormat == graphpb.Request_RDF {
			resp.Rdf = []byte("<0x1> <name> \"mock\" .\n")
		} else {
			resp.Json = []byte(`{"q":[{"uid":"0x1","name":"mock"}]}`)
		}
	}
	for i, mu := range req.Mutations {
		txn.Keys = append(txn.Keys, ConflictKey(mu))
		txn.Preds = append(txn.Preds, "name")
		if len(mu.SetJson) != 0 || len(mu.SetNquads) != 0 {
			if resp.Uids == nil {
				resp.Uids = make(map[string]string)
			}
			resp.Uids[fmt.Sprintf("blank-%d", i)] = fmt.Sprintf("0x%x", s.nextTs*1000+uint64(i))
		}
	}
	if req.CommitNow && len(req.Mutations) > 0 {
		commitTs, err := s.commit(startTs, txn.Keys)
		if err != nil {
			return nil, err
		}
		txn.CommitTs = commitTs
	}
	return resp, nil
}

// Alter implements graphpb.DgraphServer.
func (s *Server) Alter(ctx context.Context, op *graphpb.Operation) (*graphpb.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, Alter, true); err != nil {
		return nil, err
	}
	s.ops = append(s.ops, op)
	return &graphpb.Payload{Data: []byte("Success")}, nil
}

// CommitOrAbort implements graphpb.DgraphServer.
func (s *Server) CommitOrAbort(ctx context.Context, txn *graphpb.TxnContext) (*graphpb.TxnContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, CommitOrAbort, true); err != nil {
		return nil, err
	}
	s.txns = append(s.txns, txn)
	out := &graphpb.TxnContext{StartTs: txn.StartTs, Aborted: txn.Aborted}
	if !txn.Aborted {
		commitTs, err := s.commit(txn.StartTs, txn.Keys)
		if err != nil {
			return nil, err
		}
		out.CommitTs = commitTs
	}
	return out, nil
}

// CheckVersion implements graphpb.DgraphServer.
func (s *Server) CheckVersion(ctx context.Context, _ *graphpb.Check) (*graphpb.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, CheckVersion, false); err != nil {
		return nil, err
	}
	return &graphpb.Version{Tag: Version}, nil
}
