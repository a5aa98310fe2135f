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
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// ErrConnClosed is the close reason of a connection closed by Conn.Close.
var ErrConnClosed = errors.New("netio: connection closed")

// Conn is an interface of underlying connection.
type Conn interface {
	// LocalAddr is the connection's local socket address.
	LocalAddr() net.Addr

	// RemoteAddr is the connection's remote address.
	RemoteAddr() net.Addr

	// Context returns a user-defined context, it's not concurrency-safe.
	Context() interface{}

	// SetContext sets a user-defined context, it's not concurrency-safe.
	SetContext(ctx interface{})

	// Peek returns the next len(b) bytes without advancing the inbound buffer.
	// it's not concurrency-safe.
	Peek(b []byte) []byte

	// Discard advances the inbound buffer with next n bytes, returning the number of bytes discarded.
	// A negative n discards everything.
	// it's not concurrency-safe.
	Discard(n int) (int, error)

	// AvailableReadBytes returns a receive buffer data length.
	// it's not concurrency-safe.
	AvailableReadBytes() int

	// Write writes p to the socket, blocking until written or failed.
	io.Writer

	// Close closes the connection, OnClose fires with ErrConnClosed.
	io.Closer
}

type fdConn struct {
	conn        net.Conn                   // underlying socket
	localAddr   net.Addr                   // local address
	remoteAddr  net.Addr                   // remote address
	events      *Events                    // events
	closed      int32                      // closed flag
	err         error                      // close error
	ctx         interface{}                // user-defined data
	mux         sync.Mutex                 // write and close mutex
	inbound     *bytebufferpool.ByteBuffer // bytes left unread by OnData
	inboundTail []byte                     // bytes of the current read
}

func (fc *fdConn) LocalAddr() net.Addr        { return fc.localAddr }
func (fc *fdConn) RemoteAddr() net.Addr       { return fc.remoteAddr }
func (fc *fdConn) Context() interface{}       { return fc.ctx }
func (fc *fdConn) SetContext(ctx interface{}) { fc.ctx = ctx }

func (fc *fdConn) Peek(b []byte) []byte {
	// inbound buffer size
	inboundLen := fc.inboundLen()
	inboundTailLen := len(fc.inboundTail)

	if 0 == len(b) || 0 == (inboundLen+inboundTailLen) {
		return nil
	}

	var n int
	if inboundLen > 0 {
		n = copy(b, fc.inbound.B)
	}

	if n < len(b) {
		n += copy(b[n:], fc.inboundTail)
	}

	return b[:n]
}

func (fc *fdConn) Discard(n int) (int, error) {

	// inbound buffer size
	inboundLen := fc.inboundLen()
	inboundTailLen := len(fc.inboundTail)

	// discard all inbound buffer
	if n < 0 || n > (inboundLen+inboundTailLen) {
		n = inboundLen + inboundTailLen
	}

	if 0 == n {
		return 0, nil
	}

	if 0 == inboundLen {
		fc.inboundTail = fc.inboundTail[n:]
		return n, nil
	}

	if n <= inboundLen {
		fc.inbound.B = fc.inbound.B[:copy(fc.inbound.B, fc.inbound.B[n:])]
		return n, nil
	}

	fc.inbound.Reset()
	fc.inboundTail = fc.inboundTail[n-inboundLen:]
	return n, nil
}

func (fc *fdConn) AvailableReadBytes() int {
	return fc.inboundLen() + len(fc.inboundTail)
}

func (fc *fdConn) Write(p []byte) (int, error) {
	fc.mux.Lock()
	defer fc.mux.Unlock()

	if 0 != atomic.LoadInt32(&fc.closed) {
		return 0, fc.err
	}
	return fc.conn.Write(p)
}

func (fc *fdConn) Close() error {
	fc.events.closeConn(fc, ErrConnClosed)
	return nil
}

func (fc *fdConn) inboundLen() int {
	if nil == fc.inbound {
		return 0
	}
	return fc.inbound.Len()
}

// fdClose closes the socket once, reporting whether this call did it.
func (fc *fdConn) fdClose(err error) bool {
	fc.mux.Lock()
	defer fc.mux.Unlock()

	if !atomic.CompareAndSwapInt32(&fc.closed, 0, 1) {
		return false
	}

	fc.err = err
	_ = fc.conn.Close()
	return true
}

// serve is the connection read loop. The inbound buffer belongs to this
// goroutine and is released when it exits.
func (fc *fdConn) serve() {
	fc.inbound = bytebufferpool.Get()
	defer func() {
		fc.inboundTail = nil
		bytebufferpool.Put(fc.inbound)
		fc.inbound = nil
	}()

	var buffer = make([]byte, fc.events.MaxBufferSize)
	for {
		n, err := fc.conn.Read(buffer)
		if n > 0 {
			fc.inboundTail = buffer[:n]

			// fire data callback.
			if derr := fc.events.onData(fc); nil != derr {
				fc.events.closeConn(fc, derr)
				return
			}

			// keep unread tail bytes for the next round.
			if len(fc.inboundTail) > 0 {
				_, _ = fc.inbound.Write(fc.inboundTail)
				fc.inboundTail = fc.inboundTail[:0]
			}
		}

		if nil != err {
			// close on error.
			fc.events.closeConn(fc, err)
			return
		}

		if 0 != atomic.LoadInt32(&fc.closed) {
			return
		}
	}
}
