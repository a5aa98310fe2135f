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

// Package uhttp is an HTTP/1.x codec on top of the netio connection
// engine. Requests are parsed incrementally from a connection's inbound
// buffer and dispatched to a standard http.Handler in arrival order.
package uhttp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/antlabs/httparser"
	"github.com/urpc/webservice/internal/netio"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"
)

// MaxRequestBytes bounds the size of a single request, headers and body.
const MaxRequestBytes = 1 << 20

var (
	// ErrRequestTooLarge closes a connection whose request exceeds MaxRequestBytes.
	ErrRequestTooLarge = errors.New("uhttp: request too large")

	// ErrUnsupportedMethod closes a connection whose method token could not
	// be recovered.
	ErrUnsupportedMethod = errors.New("uhttp: unsupported method")

	// ErrConnectionClose is the close reason after answering a request
	// that asked for Connection: close.
	ErrConnectionClose = errors.New("uhttp: connection close requested")
)

var bufWriterPool = sync.Pool{
	New: func() interface{} {
		return bufio.NewWriterSize(nil, 1024)
	},
}

type HttpConn struct {
	conn         netio.Conn
	remoteAddr   string
	handler      http.Handler
	parser       *httparser.Parser
	buffer       []byte
	request      *http.Request
	body         bytebufferpool.ByteBuffer
	writer       *httpResponseWriter
	lastHeader   string
	headerValue  string
	lastValue    bool
	method       string
	inMessage    bool
	messageBytes int
	closing      bool
	err          error
}

func NewHttpConn(conn netio.Conn) *HttpConn {

	hConn := &HttpConn{
		conn:    conn,
		parser:  httparser.New(httparser.REQUEST),
		buffer:  make([]byte, 1024),
		request: &http.Request{Header: make(http.Header), Body: http.NoBody},
		writer:  &httpResponseWriter{},
	}
	if addr := conn.RemoteAddr(); nil != addr {
		hConn.remoteAddr = addr.String()
	}
	hConn.parser.SetUserData(hConn)
	return hConn
}

// ServeHTTP parses every complete request buffered on the connection and
// answers each with handler. A returned error means the connection must be
// closed.
func (hc *HttpConn) ServeHTTP(handler http.Handler) error {

	// fallback to default server mux
	if nil == handler {
		handler = http.DefaultServeMux
	}
	hc.handler = handler

	for nil == hc.err && !hc.closing {
		available := hc.conn.AvailableReadBytes()
		if 0 == available {
			break
		}

		if available > len(hc.buffer) {
			hc.buffer = make([]byte, available)
		}

		// peek unread bytes from inbound buffer.
		buffer := hc.conn.Peek(hc.buffer[:available])

		// the parser only names well known methods, keep the raw token.
		if !hc.inMessage {
			hc.method = requestMethod(buffer)
		}

		// parse http request, complete messages are handled by the parser callbacks.
		parsedBytes, err := hc.parser.Execute(httpParserSettings, buffer)
		if nil != err {
			hc.fail(http.StatusBadRequest, err)
			break
		}

		// advance parsed bytes offset.
		if parsedBytes > 0 {
			_, _ = hc.conn.Discard(parsedBytes)
		}

		if hc.inMessage {
			hc.messageBytes += parsedBytes
			if hc.messageBytes+hc.conn.AvailableReadBytes() > MaxRequestBytes {
				hc.fail(http.StatusRequestEntityTooLarge, ErrRequestTooLarge)
				break
			}
		} else {
			// reset parser state for next request.
			hc.messageBytes = 0
			hc.parser.Reset()
		}

		// wait for more bytes to continue.
		if 0 == parsedBytes {
			break
		}
	}

	if nil != hc.err {
		return hc.err
	}

	if hc.closing {
		return ErrConnectionClose
	}

	return nil
}

// complete runs once the parser finished a request.
func (hc *HttpConn) complete() {
	hc.inMessage = false

	// requests pipelined after a close request are dropped.
	if nil != hc.err || hc.closing {
		return
	}

	request := hc.request
	if "" == request.Method {
		request.Method = hc.method
	}
	hc.method = ""

	// a second request parsed from the same read has no token.
	if "" == request.Method {
		hc.fail(http.StatusNotImplemented, ErrUnsupportedMethod)
		return
	}

	rawurl := request.RequestURI

	// CONNECT requests carry just the authority section of a URL,
	// "CONNECT www.google.com:443 HTTP/1.1", which goes in req.URL.Host.
	justAuthority := request.Method == http.MethodConnect && !strings.HasPrefix(rawurl, "/")
	if justAuthority {
		rawurl = "http://" + rawurl
	}

	var err error
	if request.URL, err = url.ParseRequestURI(rawurl); nil != err {
		hc.fail(http.StatusBadRequest, err)
		return
	}

	if justAuthority {
		// Strip the bogus "http://" back off.
		request.URL.Scheme = ""
	}

	// fill remote addr, body and close flag.
	request.RemoteAddr = hc.remoteAddr
	request.Close = shouldClose(request.ProtoMajor, request.ProtoMinor, request.Header, false)
	if n := hc.body.Len(); n > 0 {
		request.Body = io.NopCloser(bytes.NewReader(hc.body.B))
		request.ContentLength = int64(n)
	}

	if err = hc.Handle(); nil != err {
		hc.err = err
		return
	}

	if request.Close {
		hc.closing = true
	}
}

// Handle answers the current request with the connection's handler.
func (hc *HttpConn) Handle() (err error) {

	handler := hc.handler
	if nil == handler {
		handler = http.DefaultServeMux
	}

	hc.writer.protoMajor = byte(hc.request.ProtoMajor)
	hc.writer.protoMinor = byte(hc.request.ProtoMinor)
	hc.writer.method = hc.request.Method

	// handle request.
	if err = hc.serveHandler(handler); nil != err {
		return err
	}

	if hc.writer.wantsClose() {
		hc.request.Close = true
	}

	// drop any unread http body data.
	if nil != hc.request.Body && hc.request.Body != http.NoBody {
		_, _ = io.Copy(io.Discard, hc.request.Body)
		_ = hc.request.Body.Close()
	}

	// merge multi write to one.
	bw := bufWriterPool.Get().(*bufio.Writer)
	bw.Reset(hc.conn)

	// write response: fast version.
	if err = hc.writer.writeFastResponse(hc.request, bw); nil == err {
		err = bw.Flush()
	}

	// reset and put to buffer pool.
	bw.Reset(nil)
	bufWriterPool.Put(bw)

	return err
}

// serveHandler turns a handler panic into an error; the connection is
// closed without a response.
func (hc *HttpConn) serveHandler(handler http.Handler) (err error) {
	defer func() {
		if r := recover(); nil != r {
			err = fmt.Errorf("uhttp: panic serving %s: %v", hc.remoteAddr, r)
		}
	}()

	handler.ServeHTTP(hc.writer, hc.request)
	return nil
}

// fail answers with a bare status response and marks the connection broken.
func (hc *HttpConn) fail(status int, err error) {
	hc.err = err

	text := strconv.Itoa(status) + " " + http.StatusText(status)
	_, _ = io.WriteString(hc.conn, "HTTP/1.1 "+text+"\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"Connection: close\r\n"+
		"Content-Length: "+strconv.Itoa(len(text))+"\r\n"+
		"\r\n"+text)
}

// requestMethod returns the method token of the request line at the head
// of buf, "" when it is incomplete or not a token.
func requestMethod(buf []byte) string {
	buf = bytes.TrimLeft(buf, "\r\n")
	end := bytes.IndexByte(buf, ' ')
	if end <= 0 {
		return ""
	}

	token := string(buf[:end])
	if !httpguts.ValidHeaderFieldName(token) {
		return ""
	}
	return token
}

// Determine whether to hang up after sending a request and body, or
// receiving a response and body
// 'header' is the request headers.
func shouldClose(major, minor int, header http.Header, removeCloseHeader bool) bool {
	if major < 1 {
		return true
	}

	conv := header["Connection"]
	hasClose := httpguts.HeaderValuesContainsToken(conv, "close")
	if major == 1 && minor == 0 {
		return hasClose || !httpguts.HeaderValuesContainsToken(conv, "keep-alive")
	}

	if hasClose && removeCloseHeader {
		header.Del("Connection")
	}

	return hasClose
}
