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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/tinygraph/client"
	"github.com/pingcap-incubator/tinygraph/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newGraphClient is replaced in tests.
var newGraphClient = client.NewClient

// ctl holds the global flags and the client shared by every command of one
// process, shell sessions included.
type ctl struct {
	configPath string
	endpoints  []string
	balancer   string
	user       string
	password   string
	namespace  uint64
	apiKey     string
	caPath     string
	certPath   string
	keyPath    string
	logLevel   string
	output     string
	timeout    time.Duration

	ctx context.Context
	cli client.Client
}

func newRootCommand(c *ctl) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "graph-ctl",
		Short:         "Graph database client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	fs := rootCmd.PersistentFlags()
	fs.StringVarP(&c.configPath, "config", "C", "", "Config file path")
	fs.StringSliceVarP(&c.endpoints, "endpoints", "e", nil, "Alpha addresses, comma separated")
	fs.StringVar(&c.balancer, "balancer", config.BalancerRandom, "Channel balancer, random or round-robin")
	fs.StringVarP(&c.user, "user", "u", "", "User to login as")
	fs.StringVarP(&c.password, "password", "p", "", "Password of user")
	fs.Uint64Var(&c.namespace, "namespace", 0, "Namespace to login into")
	fs.StringVar(&c.apiKey, "api-key", "", "API key of a hosted endpoint")
	fs.StringVar(&c.caPath, "cacert", "", "Path of file that contains list of trusted SSL CAs")
	fs.StringVar(&c.certPath, "cert", "", "Path of file that contains X509 certificate in PEM format")
	fs.StringVar(&c.keyPath, "key", "", "Path of file that contains X509 key in PEM format")
	fs.StringVar(&c.logLevel, "log-level", "warn", "Log level")
	fs.StringVarP(&c.output, "output", "o", outputJSON, "Output format, json or yaml")
	fs.DurationVar(&c.timeout, "timeout", 0, "Timeout of the whole command, zero means none")

	rootCmd.AddCommand(
		newQueryCommand(c),
		newMutateCommand(c),
		newAlterCommand(c),
		newVersionCommand(c),
		newLoginCommand(c),
		newBenchCommand(c),
		newShellCommand(c),
	)
	return rootCmd
}

// loadConfig builds the client configuration from the config file, if any,
// and the flags explicitly set on the command line.
func (c *ctl) loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if len(c.configPath) != 0 {
		var err error
		if cfg, err = config.LoadFile(c.configPath); err != nil {
			return nil, err
		}
	}
	if fs.Changed("endpoints") {
		cfg.Endpoints = c.endpoints
	}
	if fs.Changed("balancer") {
		cfg.Balancer = c.balancer
	}
	if fs.Changed("user") {
		cfg.Auth.User = c.user
	}
	if fs.Changed("password") {
		cfg.Auth.Password = c.password
	}
	if fs.Changed("namespace") {
		cfg.Auth.Namespace = c.namespace
	}
	if fs.Changed("api-key") {
		cfg.Auth.APIKey = c.apiKey
	}
	if fs.Changed("cacert") {
		cfg.Security.CAPath = c.caPath
	}
	if fs.Changed("cert") {
		cfg.Security.CertPath = c.certPath
	}
	if fs.Changed("key") {
		cfg.Security.KeyPath = c.keyPath
	}
	if fs.Changed("log-level") || len(c.configPath) == 0 {
		cfg.Log.Level = c.logLevel
	}
	cfg.Adjust()
	return cfg, cfg.Validate()
}

// client returns the shared client, connecting on first use.
func (c *ctl) client(cmd *cobra.Command) (client.Client, error) {
	if c.cli != nil {
		return c.cli, nil
	}
	cfg, err := c.loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.SetupLogger(); err != nil {
		return nil, err
	}
	cli, err := newGraphClient(c.ctx, cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "connect")
	}
	c.cli = cli
	return cli, nil
}

// cmdContext returns the context of one command, bounded by --timeout.
func (c *ctl) cmdContext() (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(c.ctx, c.timeout)
	}
	return context.WithCancel(c.ctx)
}

func (c *ctl) close() {
	if c.cli != nil {
		c.cli.Close()
		c.cli = nil
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sc
		fmt.Fprintf(os.Stderr, "\nGot signal [%v] to exit.\n", sig)
		cancel()
		<-sc
		os.Exit(1)
	}()

	c := &ctl{ctx: ctx}
	rootCmd := newRootCommand(c)
	cobra.EnablePrefixMatching = true
	err := rootCmd.Execute()
	c.close()
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
