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
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/urpc/webservice/internal/buildinfo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Route is a method and path pair served by the module.
type Route struct {
	Method string
	Path   string
}

type moduleOptions struct {
	callLogLevel zapcore.Level
	headers      http.Header
}

type ModuleOption func(o *moduleOptions)

// WithCallLogLevel sets the level of the per-request call log line.
func WithCallLogLevel(level zapcore.Level) ModuleOption {
	return func(o *moduleOptions) {
		o.callLogLevel = level
	}
}

// WithDefaultHeader adds a header stamped on every response.
func WithDefaultHeader(key, value string) ModuleOption {
	return func(o *moduleOptions) {
		o.headers.Add(key, value)
	}
}

// Module is the application: a routing table and the interceptors run
// around it. It is built once by NewModule and never changes afterwards.
type Module struct {
	logger       *zap.Logger
	routes       []Route
	interceptors []Interceptor
	handler      http.Handler
}

// NewModule registers the routes and interceptors.
func NewModule(logger *zap.Logger, opts ...ModuleOption) *Module {
	o := moduleOptions{
		callLogLevel: zapcore.InfoLevel,
		headers:      http.Header{"Server": {buildinfo.ServerHeader()}},
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Module{logger: nopIfNil(logger)}

	table := []struct {
		route   Route
		handler http.HandlerFunc
	}{
		{Route{Method: http.MethodGet, Path: "/"}, m.hello},
	}

	router := chi.NewRouter()
	router.NotFound(notFound)
	router.MethodNotAllowed(notFound)
	for _, entry := range table {
		router.Method(entry.route.Method, entry.route.Path, entry.handler)
		m.routes = append(m.routes, entry.route)
	}

	// ordered outermost first.
	m.interceptors = []Interceptor{
		Recover(m.logger),
		DefaultHeaders(o.headers),
		CallLogging(m.logger, o.callLogLevel),
	}
	m.handler = Chain(router, m.interceptors...)
	return m
}

func (m *Module) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

// Routes returns a copy of the routing table.
func (m *Module) Routes() []Route {
	return append([]Route(nil), m.routes...)
}

func (m *Module) hello(w http.ResponseWriter, _ *http.Request) {
	m.logger.Debug("GET /")

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, Greeting)
}

// notFound answers unknown paths and known paths with another method.
func notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}
