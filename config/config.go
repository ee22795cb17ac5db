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

// Package config holds the settings of a graph client: where to connect, how
// to authenticate, how to retry and how to log.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/tinygraph/pkg/typeutil"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Balancer names accepted by Config.Balancer.
const (
	BalancerRandom     = "random"
	BalancerRoundRobin = "round-robin"
)

const (
	defaultEndpoint        = "127.0.0.1:9080"
	defaultRequestTimeout  = 10 * time.Second
	defaultDiscardTimeout  = 5 * time.Second
	defaultInitialDelay    = 200 * time.Millisecond
	defaultMultiplier      = 3
	defaultMaxDelay        = 10 * time.Second
	defaultMaxRetries      = 50
	defaultAuthMaxRetries  = 5
	defaultOtherMaxRetries = 80
)

// Config is the graph client configuration.
type Config struct {
	// Endpoints are the alpha addresses, one channel is opened per entry.
	Endpoints []string `toml:"endpoints" json:"endpoints"`
	// Balancer picks a channel per call, "random" or "round-robin".
	Balancer string `toml:"balancer" json:"balancer"`

	// RequestTimeout bounds every RPC that has no deadline of its own. Zero
	// disables it.
	RequestTimeout typeutil.Duration `toml:"request-timeout" json:"request-timeout"`
	// DiscardTimeout bounds the background discard issued when an open
	// transaction is closed.
	DiscardTimeout typeutil.Duration `toml:"discard-timeout" json:"discard-timeout"`

	// RateLimit is the number of requests per second the client may issue,
	// zero means unlimited.
	RateLimit float64 `toml:"rate-limit" json:"rate-limit"`
	RateBurst int     `toml:"rate-burst" json:"rate-burst"`

	Security SecurityConfig `toml:"security" json:"security"`
	Auth     AuthConfig     `toml:"auth" json:"auth"`
	Retry    RetryConfig    `toml:"retry" json:"retry"`

	Log log.Config `toml:"log" json:"log"`

	logger   *zap.Logger
	logProps *log.ZapProperties
}

// SecurityConfig is the TLS setting of every channel.
type SecurityConfig struct {
	CAPath   string `toml:"cacert-path" json:"cacert-path"`
	CertPath string `toml:"cert-path" json:"cert-path"`
	KeyPath  string `toml:"key-path" json:"key-path"`
}

// AuthConfig holds credentials. APIKey is sent with every call, used by
// hosted deployments. User and Password, when set, are used for an initial
// login.
type AuthConfig struct {
	APIKey    string `toml:"api-key" json:"-"`
	User      string `toml:"user" json:"user"`
	Password  string `toml:"password" json:"-"`
	Namespace uint64 `toml:"namespace" json:"namespace"`
}

// RetryConfig is the backoff policy of retried transactions.
type RetryConfig struct {
	InitialDelay    typeutil.Duration `toml:"initial-delay" json:"initial-delay"`
	Multiplier      float64           `toml:"multiplier" json:"multiplier"`
	MaxDelay        typeutil.Duration `toml:"max-delay" json:"max-delay"`
	MaxRetries      int               `toml:"max-retries" json:"max-retries"`
	AuthMaxRetries  int               `toml:"auth-max-retries" json:"auth-max-retries"`
	OtherMaxRetries int               `toml:"other-max-retries" json:"other-max-retries"`
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

// NewDefaultConfig returns the configuration of a client talking to a local
// alpha.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoints:      []string{defaultEndpoint},
		Balancer:       BalancerRandom,
		RequestTimeout: typeutil.NewDuration(defaultRequestTimeout),
		DiscardTimeout: typeutil.NewDuration(defaultDiscardTimeout),
		Retry:          defaultRetryConfig(),
		Log:            log.Config{Level: getLogLevel()},
	}
}

// NewTestConfig returns a configuration with short timeouts and delays.
func NewTestConfig() *Config {
	return &Config{
		Balancer:       BalancerRandom,
		RequestTimeout: typeutil.NewDuration(3 * time.Second),
		DiscardTimeout: typeutil.NewDuration(time.Second),
		Retry: RetryConfig{
			InitialDelay:    typeutil.NewDuration(time.Millisecond),
			Multiplier:      2,
			MaxDelay:        typeutil.NewDuration(10 * time.Millisecond),
			MaxRetries:      defaultMaxRetries,
			AuthMaxRetries:  defaultAuthMaxRetries,
			OtherMaxRetries: defaultOtherMaxRetries,
		},
		Log: log.Config{Level: getLogLevel()},
	}
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay:    typeutil.NewDuration(defaultInitialDelay),
		Multiplier:      defaultMultiplier,
		MaxDelay:        typeutil.NewDuration(defaultMaxDelay),
		MaxRetries:      defaultMaxRetries,
		AuthMaxRetries:  defaultAuthMaxRetries,
		OtherMaxRetries: defaultOtherMaxRetries,
	}
}

// LoadFile reads a TOML file on top of the default configuration. Keys the
// file defines but Config does not know are an error.
func LoadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		errInfo := "config contains undefined item: "
		for i, key := range undecoded {
			if i > 0 {
				errInfo += ", "
			}
			errInfo += key.String()
		}
		return nil, errors.New(errInfo)
	}
	cfg.Adjust()
	return cfg, nil
}

func adjustDuration(v *typeutil.Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

// Adjust fills zero values with defaults.
func (c *Config) Adjust() {
	if c.Balancer == "" {
		c.Balancer = BalancerRandom
	}
	adjustDuration(&c.DiscardTimeout, defaultDiscardTimeout)
	adjustDuration(&c.Retry.InitialDelay, defaultInitialDelay)
	adjustDuration(&c.Retry.MaxDelay, defaultMaxDelay)
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = defaultMultiplier
	}
	adjustInt(&c.Retry.MaxRetries, defaultMaxRetries)
	adjustInt(&c.Retry.AuthMaxRetries, defaultAuthMaxRetries)
	adjustInt(&c.Retry.OtherMaxRetries, defaultOtherMaxRetries)
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}
}

// Validate is used to validate if some configurations are right.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for _, ep := range c.Endpoints {
		if ep == "" {
			return errors.New("endpoint must not be empty")
		}
	}
	if c.Balancer != BalancerRandom && c.Balancer != BalancerRoundRobin {
		return errors.Errorf("unknown balancer %q", c.Balancer)
	}
	if c.Retry.Multiplier < 1 {
		return errors.Errorf("retry multiplier must be at least 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.MaxRetries <= 0 || c.Retry.AuthMaxRetries <= 0 || c.Retry.OtherMaxRetries <= 0 {
		return errors.New("retry budgets must be greater than 0")
	}
	if c.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if (c.Security.CertPath == "") != (c.Security.KeyPath == "") {
		return errors.New("cert-path and key-path must be set together")
	}
	return nil
}

// SetupLogger setup the logger.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return errors.WithStack(err)
	}
	c.logger = lg
	c.logProps = p
	log.ReplaceGlobals(lg, p)
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

// GetZapLogProperties gets properties of the zap logger.
func (c *Config) GetZapLogProperties() *log.ZapProperties {
	return c.logProps
}
