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

package webservice

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/urpc/webservice/internal/uhttp"
	"go.uber.org/zap"
)

// BindError reports a port that could not be bound.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("webservice: bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

type options struct {
	logger        *zap.Logger
	host          string
	reusePort     bool
	noDelay       bool
	keepAlive     time.Duration
	maxBufferSize int
}

type Option func(o *options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHost binds a single interface instead of all of them.
func WithHost(host string) Option {
	return func(o *options) {
		o.host = host
	}
}

// WithReusePort sets SO_REUSEPORT; a busy port then no longer fails to bind.
func WithReusePort(reusePort bool) Option {
	return func(o *options) {
		o.reusePort = reusePort
	}
}

func WithNoDelay(noDelay bool) Option {
	return func(o *options) {
		o.noDelay = noDelay
	}
}

func WithKeepAlive(period time.Duration) Option {
	return func(o *options) {
		o.keepAlive = period
	}
}

func WithMaxBufferSize(size int) Option {
	return func(o *options) {
		o.maxBufferSize = size
	}
}

func collectOptions(opts []Option) options {
	o := options{noDelay: true}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = nopIfNil(o.logger)
	return o
}

// Server serves a Module over HTTP/1.x.
type Server struct {
	logger *zap.Logger
	host   string
	srv    *uhttp.Server
}

func NewServer(module *Module, opts ...Option) *Server {
	o := collectOptions(opts)
	return &Server{
		logger: o.logger,
		srv: &uhttp.Server{
			Handler:         module,
			Logger:          o.logger,
			ReusePort:       o.reusePort,
			NoDelay:         o.noDelay,
			KeepAlivePeriod: o.keepAlive,
			MaxBufferSize:   o.maxBufferSize,
		},
		host: o.host,
	}
}

// Listen binds port, 0 picks a free one.
func (s *Server) Listen(port int) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(port))
	if err := s.srv.Listen(addr); nil != err {
		return &BindError{Port: port, Err: err}
	}

	s.logger.Info("server.listening", zap.Stringer("addr", s.Addr()))
	return nil
}

// Serve blocks serving the bound port. It returns nil once Close is called.
func (s *Server) Serve() error {
	err := s.srv.Serve()
	s.logger.Info("server.stopped", zap.Error(err))
	return err
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	addrs := s.srv.Addrs()
	if 0 == len(addrs) {
		return nil
	}
	return addrs[0]
}

// Close releases the port and closes open connections.
func (s *Server) Close() error {
	return s.srv.Close()
}
