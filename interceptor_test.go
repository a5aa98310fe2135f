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
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Interceptor {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mark("a"), mark("b"), mark("c"))

	serve(h, http.MethodGet, "/")
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestDefaultHeaders(t *testing.T) {
	headers := http.Header{"Server": {"test/1"}}
	h := Chain(http.NotFoundHandler(), DefaultHeaders(headers))

	// later changes to the source map do not leak in.
	headers.Set("Server", "mutated")

	rec := serve(h, http.MethodGet, "/x")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "test/1", rec.Header().Get("Server"))
	assert.NotEmpty(t, rec.Header().Get("Date"))
}

func TestDefaultHeadersKeepsDate(t *testing.T) {
	h := Chain(http.NotFoundHandler(), DefaultHeaders(http.Header{"Date": {"fixed"}}))

	rec := serve(h, http.MethodGet, "/")
	assert.Equal(t, "fixed", rec.Header().Get("Date"))
}

func TestCallLoggingDoesNotChangeResponse(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("body"))
	})

	plain := serve(inner, http.MethodPut, "/thing")
	logged := serve(Chain(inner, CallLogging(zap.New(core), zapcore.InfoLevel)), http.MethodPut, "/thing")

	assert.Equal(t, plain.Code, logged.Code)
	assert.Equal(t, plain.Body.String(), logged.Body.String())
	assert.Equal(t, plain.Header(), logged.Header())

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "PUT", entry.ContextMap()["method"])
	assert.Equal(t, "/thing", entry.ContextMap()["path"])
}

func TestCallLoggingBelowLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := Chain(http.NotFoundHandler(), CallLogging(zap.New(core), zapcore.DebugLevel))

	serve(h, http.MethodGet, "/")
	assert.Zero(t, logs.Len())
}

func TestRecover(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	logger := zap.New(core)

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), Recover(logger), DefaultHeaders(http.Header{"Server": {"test/1"}}))

	rec := serve(h, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error\n", rec.Body.String())
	assert.Equal(t, "test/1", rec.Header().Get("Server"))

	entries := logs.FilterMessage("handler.panic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["panic"])
	assert.Equal(t, "/panic", entries[0].ContextMap()["path"])
}

func TestRecoverAbortHandler(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}), Recover(nil))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(h, http.MethodGet, "/")
	})
}
