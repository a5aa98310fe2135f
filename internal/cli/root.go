/*
 * Copyright 2024 the urpc project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cli is the webservice command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/urpc/webservice"
	"github.com/urpc/webservice/internal/buildinfo"
	"github.com/urpc/webservice/internal/config"
	"github.com/urpc/webservice/internal/logger"
	"go.uber.org/zap"
)

func Execute() {
	cmd := newRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	debug      bool

	// port and ready exist for tests.
	port  int
	ready func(srv *webservice.Server)
}

func newRootCmd() *cobra.Command {
	opts := rootOptions{port: webservice.DefaultPort}

	cmd := &cobra.Command{
		Use:           "webservice",
		Short:         "Hello world web service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML settings file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
			return err
		},
	}
}

// run serves until ctx is done. Startup failures are logged and returned.
func run(ctx context.Context, opts rootOptions, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if nil != err {
		_, _ = fmt.Fprintln(stderr, "webservice:", err)
		return err
	}

	if opts.debug {
		cfg.Log.Level = "debug"
	}

	log, cleanup, err := logger.Setup(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Output:     stderr,
	})
	if nil != err {
		_, _ = fmt.Fprintln(stderr, "webservice:", err)
		return err
	}
	defer func() { _ = cleanup() }()

	callLevel, err := logger.ParseLevel(cfg.Server.CallLogLevel)
	if nil != err {
		log.Error("config.invalid", zap.Error(err))
		return err
	}

	module := webservice.NewModule(log, webservice.WithCallLogLevel(callLevel))
	srv := webservice.NewServer(module,
		webservice.WithLogger(log),
		webservice.WithReusePort(cfg.Server.ReusePort),
		webservice.WithNoDelay(cfg.Server.NoDelay),
		webservice.WithKeepAlive(time.Duration(cfg.Server.KeepAliveSeconds)*time.Second),
		webservice.WithMaxBufferSize(cfg.Server.MaxBufferSize),
	)

	if err = srv.Listen(opts.port); nil != err {
		var bindErr *webservice.BindError
		if errors.As(err, &bindErr) {
			log.Error("server.bind", zap.Int("port", bindErr.Port), zap.Error(bindErr.Err))
		}
		return err
	}

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve()
	}()

	if nil != opts.ready {
		opts.ready(srv)
	}

	select {
	case err = <-served:
		return err
	case <-ctx.Done():
		log.Info("server.shutdown", zap.NamedError("reason", context.Cause(ctx)))
		_ = srv.Close()
		return <-served
	}
}
