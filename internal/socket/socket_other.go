//go:build !linux

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

package socket

import (
	"net"
	"time"
)

func tune(conn *net.TCPConn, opts Options) error {
	if err := conn.SetNoDelay(opts.NoDelay); nil != err {
		return err
	}

	if opts.KeepAlive > 0 {
		if err := conn.SetKeepAlive(true); nil != err {
			return err
		}

		period := time.Duration(keepAliveSecs(opts.KeepAlive)) * time.Second
		if err := conn.SetKeepAlivePeriod(period); nil != err {
			_ = conn.SetKeepAlive(false)
			return err
		}
	}
	return nil
}
