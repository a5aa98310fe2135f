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

// Package webservice is a hello world HTTP service. It answers GET / with
// a fixed greeting, 404 for everything else, and stamps default headers
// and a call log line on every exchange.
//
//	if err := webservice.Start(webservice.DefaultPort); nil != err {
//		log.Fatal(err)
//	}
package webservice

import (
	"go.uber.org/zap"
)

const (
	// DefaultPort is the port the service listens on.
	DefaultPort = 8080

	// Greeting is the body of GET /.
	Greeting = "Hello, world!"

	// ContentType is the content type of GET /.
	ContentType = "text/plain; charset=utf-8"
)

// Start serves the default module on port and blocks until the server is
// closed or fails. A port that cannot be bound yields a *BindError.
func Start(port int, opts ...Option) error {
	o := collectOptions(opts)

	srv := NewServer(NewModule(o.logger), opts...)
	if err := srv.Listen(port); nil != err {
		return err
	}
	return srv.Serve()
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if nil == logger {
		return zap.NewNop()
	}
	return logger
}
