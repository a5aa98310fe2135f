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

// Package netio is the connection engine: it binds listeners, accepts
// connections and drives one read loop per connection, handing buffered
// inbound bytes to the OnData callback.
package netio

import (
	"errors"
	"net"
	"sync"
	"time"
)

var (
	// ErrEventsClosed is returned by Listen and Serve after Close.
	ErrEventsClosed = errors.New("netio: events closed")

	// ErrNoListeners is returned by Serve when no address was given.
	ErrNoListeners = errors.New("netio: no listen address")
)

type Events struct {
	acceptor  *acceptor            // bound listeners
	conns     map[*fdConn]struct{} // live connections
	done      chan struct{}        // closed on shutdown
	serveErr  error                // fatal accept error
	closed    bool                 // shutdown flag
	waitGroup sync.WaitGroup       // accept loops and connection loops
	mux       sync.Mutex

	// Addrs is the listening addr list for a server.
	Addrs []string

	// ReusePort indicates whether to set up the SO_REUSEPORT socket option.
	// The default value is false, so a second bind on a busy port fails.
	ReusePort bool

	// NoDelay disables Nagle's algorithm on accepted tcp connections.
	NoDelay bool

	// KeepAlivePeriod enables tcp keep-alive probes with the given period when greater than 0.
	KeepAlivePeriod time.Duration

	// MaxBufferSize is the maximum number of bytes read from the remote in one read call.
	// The default value is 4KB.
	MaxBufferSize int

	// OnOpen fires when a new connection has been opened.
	OnOpen func(c Conn)

	// OnData fires when a socket receives data from the remote.
	// Returning an error closes the connection with that error.
	OnData func(c Conn) error

	// OnClose fires when a connection has been closed.
	OnClose func(c Conn, err error)

	// OnStart it triggers once all listeners are bound, before accepting.
	OnStart func(ev *Events)

	// OnStop it triggers when Serve returns.
	OnStop func(ev *Events)
}

// Listen binds every configured address plus addrs. Addresses already bound
// are skipped. On failure every listener bound so far is released and a
// *ListenError naming the failing address is returned.
func (ev *Events) Listen(addrs ...string) error {
	ev.mux.Lock()
	defer ev.mux.Unlock()

	if ev.closed {
		return ErrEventsClosed
	}

	ev.Addrs = append(ev.Addrs, addrs...)
	ev.initConfig()

	for _, addr := range ev.Addrs {
		if ev.acceptor.bound(addr) {
			continue
		}

		if err := ev.acceptor.addListen(addr); nil != err {
			ev.acceptor.close()
			return &ListenError{Addr: addr, Err: err}
		}
	}

	return nil
}

// Serve binds any pending address and accepts connections until Close is
// called. It returns nil after Close, or the error that stopped accepting.
func (ev *Events) Serve(addrs ...string) error {
	if ev.isClosed() {
		return nil
	}

	if err := ev.Listen(addrs...); nil != err {
		// closed between the check above and Listen.
		if errors.Is(err, ErrEventsClosed) {
			return nil
		}
		return err
	}

	ev.mux.Lock()
	listeners := ev.acceptor.snapshot()
	done := ev.done
	ev.mux.Unlock()

	if 0 == len(listeners) {
		return ErrNoListeners
	}

	// trigger OnStart event.
	if ev.OnStart != nil {
		ev.OnStart(ev)
	}

	defer func() {
		// trigger OnStop event.
		if ev.OnStop != nil {
			ev.OnStop(ev)
		}
	}()

	ev.mux.Lock()
	if ev.closed {
		ev.mux.Unlock()
		return nil
	}
	for _, l := range listeners {
		ev.waitGroup.Add(1)
		go func(l *listener) {
			defer ev.waitGroup.Done()
			ev.acceptor.serve(l)
		}(l)
	}
	ev.mux.Unlock()

	<-done

	// waiting for all accept loops and connections exited.
	ev.waitGroup.Wait()

	ev.mux.Lock()
	defer ev.mux.Unlock()
	return ev.serveErr
}

// Close releases all listeners, closes live connections with err and waits
// for every goroutine started by Serve.
func (ev *Events) Close(err error) error {
	ev.shutdown(err)

	// waiting for all loops exited.
	ev.waitGroup.Wait()
	return nil
}

// Listeners returns the bound listener addresses.
func (ev *Events) Listeners() []net.Addr {
	ev.mux.Lock()
	defer ev.mux.Unlock()

	if nil == ev.acceptor {
		return nil
	}

	var addrs []net.Addr
	for _, l := range ev.acceptor.snapshot() {
		addrs = append(addrs, l.ln.Addr())
	}
	return addrs
}

func (ev *Events) initConfig() {
	if nil == ev.acceptor {
		ev.acceptor = &acceptor{events: ev}
	}

	if nil == ev.conns {
		ev.conns = make(map[*fdConn]struct{}, 64)
	}

	if nil == ev.done {
		ev.done = make(chan struct{})
	}

	if ev.MaxBufferSize <= 0 {
		ev.MaxBufferSize = 1024 * 4
	}
}

// shutdown stops accepting and closes connections without waiting, so an
// accept loop may call it for itself.
func (ev *Events) shutdown(err error) {
	ev.mux.Lock()
	if ev.closed {
		ev.mux.Unlock()
		return
	}

	ev.closed = true
	ev.initConfig()

	// close all listeners
	ev.acceptor.close()

	conns := make([]*fdConn, 0, len(ev.conns))
	for fdc := range ev.conns {
		conns = append(conns, fdc)
	}
	close(ev.done)
	ev.mux.Unlock()

	if nil == err {
		err = ErrEventsClosed
	}

	for _, fdc := range conns {
		ev.closeConn(fdc, err)
	}
}

// fail records a fatal accept error and shuts the engine down.
func (ev *Events) fail(err error) {
	ev.mux.Lock()
	if !ev.closed && nil == ev.serveErr {
		ev.serveErr = err
	}
	ev.mux.Unlock()

	ev.shutdown(err)
}

func (ev *Events) isClosed() bool {
	ev.mux.Lock()
	defer ev.mux.Unlock()
	return ev.closed
}

func (ev *Events) addConn(fdc *fdConn) {
	ev.mux.Lock()
	if ev.closed {
		ev.mux.Unlock()
		_ = fdc.conn.Close()
		return
	}
	ev.conns[fdc] = struct{}{}
	ev.waitGroup.Add(1)
	ev.mux.Unlock()

	// fire on-open event callback
	if nil != ev.OnOpen {
		ev.OnOpen(fdc)
	}

	go func() {
		defer ev.waitGroup.Done()
		fdc.serve()
	}()
}

func (ev *Events) closeConn(fdc *fdConn, err error) {

	// close socket and release resource.
	if fdc.fdClose(err) {
		ev.mux.Lock()
		delete(ev.conns, fdc)
		ev.mux.Unlock()

		// fire on-close event.
		if nil != ev.OnClose {
			ev.OnClose(fdc, err)
		}
	}
}

func (ev *Events) onData(fdc *fdConn) error {
	if nil != ev.OnData {
		return ev.OnData(fdc)
	}
	// discard all received bytes if not set OnData.
	//
	_, _ = fdc.Discard(-1)
	return nil
}
