//go:build linux

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
	"os"

	"golang.org/x/sys/unix"
)

func tune(conn *net.TCPConn, opts Options) error {
	rc, err := conn.SyscallConn()
	if nil != err {
		return err
	}

	var serr error
	err = rc.Control(func(fd uintptr) {
		if serr = SetNoDelay(int(fd), opts.NoDelay); nil != serr {
			return
		}
		if opts.KeepAlive > 0 {
			serr = SetKeepAlivePeriod(int(fd), keepAliveSecs(opts.KeepAlive))
		}
	})

	if nil != err {
		return err
	}
	return serr
}

// SetNoDelay controls TCP_NODELAY on fd.
func SetNoDelay(fd int, nodelay bool) error {
	var value int
	if nodelay {
		value = 1
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, value))
}

// SetKeepAlivePeriod sets period between keep-alives.
func SetKeepAlivePeriod(fd int, secs int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); nil != err {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}
