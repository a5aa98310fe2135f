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

package netio

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/libp2p/go-reuseport"
	"github.com/urpc/webservice/internal/socket"
)

type listener struct {
	addr string       // configured address
	path string       // unix socket path
	ln   net.Listener // tcp/unix listener
}

type acceptor struct {
	listeners map[string]*listener
	events    *Events
}

func (ld *acceptor) bound(addr string) bool {
	_, ok := ld.listeners[addr]
	return ok
}

func (ld *acceptor) addListen(addr string) (err error) {
	if nil == ld.listeners {
		ld.listeners = make(map[string]*listener)
	}

	var l *listener
	if l, err = ld.listen(addr, ld.events.ReusePort); nil != err {
		if nil != l {
			ld.closeListener(l)
		}
		return err
	}

	ld.listeners[addr] = l
	return nil
}

func (ld *acceptor) listen(addr string, reusePort bool) (*listener, error) {

	// default scheme is tcp protocol.
	raw := addr
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	// parse url scheme.
	u, err := url.Parse(raw)
	if nil != err {
		return nil, err
	}

	l := &listener{addr: addr}

	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		if reusePort {
			l.ln, err = reuseport.Listen(u.Scheme, u.Host)
		} else {
			l.ln, err = net.Listen(u.Scheme, u.Host)
		}
	case "unix":
		if err = os.RemoveAll(u.Path); nil == err || os.IsNotExist(err) {
			l.path = u.Path
			l.ln, err = net.Listen(u.Scheme, u.Path)
		}
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", u.Scheme)
	}

	if nil != err {
		return nil, err
	}
	return l, nil
}

// serve runs the accept loop of l until the listener is closed.
func (ld *acceptor) serve(l *listener) {
	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := l.ln.Accept()
		if nil != err {
			if errors.Is(err, net.ErrClosed) || ld.events.isClosed() {
				return
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if maxDelay := 1 * time.Second; tempDelay > maxDelay {
					tempDelay = maxDelay
				}
				time.Sleep(tempDelay)
				continue
			}

			ld.events.fail(err)
			return
		}
		tempDelay = 0

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			opts := socket.Options{
				NoDelay:   ld.events.NoDelay,
				KeepAlive: ld.events.KeepAlivePeriod,
			}
			if err = socket.Tune(tcpConn, opts); nil != err {
				_ = conn.Close()
				continue
			}
		}

		fdc := &fdConn{}
		fdc.conn = conn
		fdc.events = ld.events
		fdc.localAddr = conn.LocalAddr()
		fdc.remoteAddr = conn.RemoteAddr()

		ld.events.addConn(fdc)
	}
}

// snapshot returns the listeners ordered by configured address.
func (ld *acceptor) snapshot() []*listener {
	keys := make([]string, 0, len(ld.listeners))
	for addr := range ld.listeners {
		keys = append(keys, addr)
	}
	sort.Strings(keys)

	listeners := make([]*listener, 0, len(keys))
	for _, addr := range keys {
		listeners = append(listeners, ld.listeners[addr])
	}
	return listeners
}

func (ld *acceptor) closeListener(l *listener) {
	if l.ln != nil {
		_ = l.ln.Close()
	}

	if l.path != "" {
		_ = os.RemoveAll(l.path)
	}
}

func (ld *acceptor) close() {
	for addr, l := range ld.listeners {
		delete(ld.listeners, addr)
		ld.closeListener(l)
	}
}
