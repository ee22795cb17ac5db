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

package grpcutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/url"
	"os"
	"strings"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	otgrpc "github.com/opentracing-contrib/go-grpc"
	"github.com/opentracing/opentracing-go"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// APIKeyHeader is the metadata key hosted endpoints read the API key from.
const APIKeyHeader = "dg-auth"

// ClientMetrics counts and times every RPC sent through a connection built
// by GetClientConn.
var ClientMetrics = grpcprom.NewClientMetrics(
	grpcprom.WithClientHandlingTimeHistogram(
		grpcprom.WithHistogramBuckets(prometheus.ExponentialBuckets(0.0005, 2, 13)),
	),
)

func init() {
	prometheus.MustRegister(ClientMetrics)
}

// SecurityOption records options about tls
type SecurityOption struct {
	CAPath   string
	CertPath string
	KeyPath  string
}

// Enabled reports whether a CA is configured.
func (s SecurityOption) Enabled() bool {
	return len(s.CAPath) != 0
}

// ToTLSConfig loads the certificates. It returns nil when TLS is not enabled.
func (s SecurityOption) ToTLSConfig() (*tls.Config, error) {
	if !s.Enabled() {
		return nil, nil
	}
	var certificates []tls.Certificate
	if len(s.CertPath) != 0 && len(s.KeyPath) != 0 {
		// Load the client certificates from disk
		certificate, err := tls.LoadX509KeyPair(s.CertPath, s.KeyPath)
		if err != nil {
			return nil, errors.Errorf("could not load client key pair: %s", err)
		}
		certificates = append(certificates, certificate)
	}

	// Create a certificate pool from the certificate authority
	certPool := x509.NewCertPool()
	ca, err := os.ReadFile(s.CAPath)
	if err != nil {
		return nil, errors.Errorf("could not read ca certificate: %s", err)
	}

	// Append the certificates from the CA
	if !certPool.AppendCertsFromPEM(ca) {
		return nil, errors.New("failed to append ca certs")
	}

	return &tls.Config{
		Certificates: certificates,
		RootCAs:      certPool,
	}, nil
}

// apiKeyCredentials attaches a static API key to every call.
type apiKeyCredentials struct {
	key        string
	requireTLS bool
}

// NewAPIKeyCredentials returns per-RPC credentials sending key under
// APIKeyHeader.
func NewAPIKeyCredentials(key string, requireTLS bool) credentials.PerRPCCredentials {
	return apiKeyCredentials{key: key, requireTLS: requireTLS}
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{APIKeyHeader: a.key}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}

// UnaryClientInterceptor chains tracing, metrics and debug logging of every
// unary call.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return grpc_middleware.ChainUnaryClient(
		otgrpc.OpenTracingClientInterceptor(opentracing.GlobalTracer()),
		ClientMetrics.UnaryClientInterceptor(),
		grpc_zap.UnaryClientInterceptor(log.L()),
	)
}

// DialOptions returns the options used for every graph channel.
func DialOptions(security SecurityOption, apiKey string) ([]grpc.DialOption, error) {
	tlsCfg, err := security.ToTLSConfig()
	if err != nil {
		return nil, err
	}
	opts := []grpc.DialOption{grpc.WithUnaryInterceptor(UnaryClientInterceptor())}
	if tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if len(apiKey) != 0 {
		opts = append(opts, grpc.WithPerRPCCredentials(NewAPIKeyCredentials(apiKey, tlsCfg != nil)))
	}
	return opts, nil
}

// GetClientConn returns a gRPC client connection. The connection is
// established lazily on the first call.
func GetClientConn(addr string, security SecurityOption, apiKey string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	target, err := NormalizeAddr(addr)
	if err != nil {
		return nil, err
	}
	opts, err := DialOptions(security, apiKey)
	if err != nil {
		return nil, err
	}
	cc, err := grpc.NewClient(target, append(opts, extra...)...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return cc, nil
}

// NormalizeAddr turns "host:port", "http://host:port" or
// "https://host:port/path" into a dial target.
func NormalizeAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if len(addr) == 0 {
		return "", errors.New("empty address")
	}
	if !strings.Contains(addr, "://") {
		return addr, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", errors.WithStack(err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		// Leave resolver schemes such as dns:/// or passthrough:/// alone.
		return addr, nil
	}
	if len(u.Host) == 0 {
		return "", errors.Errorf("address %q has no host", addr)
	}
	return u.Host, nil
}
