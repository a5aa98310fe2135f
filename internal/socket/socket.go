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

// Package socket tunes accepted tcp connections.
package socket

import (
	"net"
	"time"
)

// Options are the per-connection socket settings.
type Options struct {
	// NoDelay disables Nagle's algorithm.
	NoDelay bool

	// KeepAlive enables keep-alive probes with this period when greater than 0.
	// Periods below one second are rounded up to one second.
	KeepAlive time.Duration
}

// Tune applies opts to conn.
func Tune(conn *net.TCPConn, opts Options) error {
	return tune(conn, opts)
}

func keepAliveSecs(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
