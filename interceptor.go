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

	"github.com/urpc/webservice/internal/uhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Interceptor wraps request dispatch.
type Interceptor func(next http.Handler) http.Handler

// Chain wraps h so that interceptors run in order, the first one outermost.
func Chain(h http.Handler, interceptors ...Interceptor) http.Handler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		h = interceptors[i](h)
	}
	return h
}

// DefaultHeaders sets headers on every response before dispatch, plus a
// Date header when none is set.
func DefaultHeaders(headers http.Header) Interceptor {
	headers = headers.Clone()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for key, values := range headers {
				h[key] = append([]string(nil), values...)
			}
			if "" == h.Get("Date") {
				h.Set("Date", uhttp.NowRFC1123String())
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallLogging logs method and path of each request before dispatch.
func CallLogging(logger *zap.Logger, level zapcore.Level) Interceptor {
	logger = nopIfNil(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ce := logger.Check(level, "call"); nil != ce {
				ce.Write(
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recover turns a handler panic into a 500 response.
// http.ErrAbortHandler is re-raised so the connection is dropped.
func Recover(logger *zap.Logger) Interceptor {
	logger = nopIfNil(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if nil == v {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				logger.Error("handler.panic",
					zap.Any("panic", v),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
