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

package uhttp

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/urpc/webservice/internal/netio"
	"go.uber.org/zap"
)

// ErrServerClosed is the close reason of connections open at Close.
var ErrServerClosed = errors.New("uhttp: server closed")

// Server serves HTTP/1.x on the netio engine. Settings are read on the
// first Listen or Serve call.
type Server struct {
	// Handler answers every request, http.DefaultServeMux when nil.
	Handler http.Handler

	// Logger receives connection lifecycle events, a no-op logger when nil.
	Logger *zap.Logger

	// ReusePort sets SO_REUSEPORT on listeners.
	ReusePort bool

	// NoDelay disables Nagle's algorithm on accepted connections.
	NoDelay bool

	// KeepAlivePeriod enables tcp keep-alive probes when greater than 0.
	KeepAlivePeriod time.Duration

	// MaxBufferSize is the size of a single socket read, 4KB by default.
	MaxBufferSize int

	// OnStart fires once listeners are bound, before accepting.
	OnStart func(addrs []net.Addr)

	events netio.Events
	once   sync.Once
}

func (s *Server) init() {
	s.once.Do(func() {
		if nil == s.Logger {
			s.Logger = zap.NewNop()
		}

		s.events.ReusePort = s.ReusePort
		s.events.NoDelay = s.NoDelay
		s.events.KeepAlivePeriod = s.KeepAlivePeriod
		s.events.MaxBufferSize = s.MaxBufferSize

		s.events.OnOpen = func(c netio.Conn) {
			s.Logger.Debug("conn.open", zap.Stringer("remote", c.RemoteAddr()))
			c.SetContext(NewHttpConn(c))
		}

		s.events.OnData = func(c netio.Conn) error {
			hConn := c.Context().(*HttpConn)
			return hConn.ServeHTTP(s.Handler)
		}

		s.events.OnClose = func(c netio.Conn, err error) {
			if isBenignClose(err) {
				s.Logger.Debug("conn.close", zap.Stringer("remote", c.RemoteAddr()), zap.NamedError("reason", err))
				return
			}
			s.Logger.Warn("conn.close", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
		}

		s.events.OnStart = func(ev *netio.Events) {
			if nil != s.OnStart {
				s.OnStart(ev.Listeners())
			}
		}
	})
}

// Listen binds addrs without serving them.
func (s *Server) Listen(addrs ...string) error {
	s.init()
	return s.events.Listen(addrs...)
}

// Serve binds any pending addrs and blocks serving until Close.
func (s *Server) Serve(addrs ...string) error {
	s.init()
	return s.events.Serve(addrs...)
}

// Close stops accepting, closes open connections and waits for them.
func (s *Server) Close() error {
	s.init()
	return s.events.Close(ErrServerClosed)
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []net.Addr {
	return s.events.Listeners()
}

// ListenAndServe serves handler on addr until the process exits.
func ListenAndServe(addr string, handler http.Handler) error {
	srv := &Server{Handler: handler}
	return srv.Serve(addr)
}

func isBenignClose(err error) bool {
	switch {
	case nil == err,
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, netio.ErrConnClosed),
		errors.Is(err, ErrConnectionClose),
		errors.Is(err, ErrServerClosed):
		return true
	}
	return false
}
