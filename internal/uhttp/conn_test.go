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

package uhttp

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn is an in-memory netio.Conn.
type memConn struct {
	in  []byte
	out bytes.Buffer
	ctx interface{}
}

func (m *memConn) LocalAddr() net.Addr        { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080} }
func (m *memConn) RemoteAddr() net.Addr       { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000} }
func (m *memConn) Context() interface{}       { return m.ctx }
func (m *memConn) SetContext(ctx interface{}) { m.ctx = ctx }
func (m *memConn) AvailableReadBytes() int    { return len(m.in) }
func (m *memConn) Write(p []byte) (int, error) {
	return m.out.Write(p)
}
func (m *memConn) Close() error { return nil }

func (m *memConn) Peek(b []byte) []byte {
	n := copy(b, m.in)
	if 0 == n {
		return nil
	}
	return b[:n]
}

func (m *memConn) Discard(n int) (int, error) {
	if n < 0 || n > len(m.in) {
		n = len(m.in)
	}
	m.in = m.in[n:]
	return n, nil
}

func (m *memConn) feed(s string) {
	m.in = append(m.in, s...)
}

func (m *memConn) responses(t *testing.T, methods ...string) []*http.Response {
	t.Helper()

	reader := bufio.NewReader(bytes.NewReader(m.out.Bytes()))
	var resps []*http.Response
	for _, method := range methods {
		resp, err := http.ReadResponse(reader, &http.Request{Method: method})
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resps = append(resps, resp)
	}

	_, err := reader.ReadByte()
	assert.ErrorIs(t, err, io.EOF, "unexpected trailing bytes")
	return resps
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Path", r.URL.Path)
		w.Header().Set("X-Host", r.Host)
		w.Header().Set("X-Remote", r.RemoteAddr)
		_, _ = w.Write([]byte("echo:" + string(body)))
	})
}

func TestHttpConnGet(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET /hello?x=1 HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n")
	require.NoError(t, hc.ServeHTTP(echoHandler()))
	assert.Zero(t, conn.AvailableReadBytes())

	resps := conn.responses(t, http.MethodGet)
	resp := resps[0]
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HTTP/1.1", resp.Proto)
	assert.Equal(t, "echo:", readBody(t, resp))
	assert.Equal(t, int64(5), resp.ContentLength)
	assert.Equal(t, "GET", resp.Header.Get("X-Method"))
	assert.Equal(t, "/hello", resp.Header.Get("X-Path"))
	assert.Equal(t, "example.com", resp.Header.Get("X-Host"))
	assert.Equal(t, "127.0.0.1:40000", resp.Header.Get("X-Remote"))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("Date"))
	assert.False(t, resp.Close)
}

func TestHttpConnPostBody(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("POST /submit HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello")
	require.NoError(t, hc.ServeHTTP(echoHandler()))

	resp := conn.responses(t, http.MethodPost)[0]
	assert.Equal(t, "POST", resp.Header.Get("X-Method"))
	assert.Equal(t, "echo:hello", readBody(t, resp))
}

func TestHttpConnPipelined(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET /one HTTP/1.1\r\nHost: x\r\n\r\nGET /two HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, hc.ServeHTTP(echoHandler()))

	resps := conn.responses(t, http.MethodGet, http.MethodGet)
	assert.Equal(t, "/one", resps[0].Header.Get("X-Path"))
	assert.Equal(t, "/two", resps[1].Header.Get("X-Path"))
}

func TestHttpConnSplitRequest(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET /split HTTP/1.1\r\n")
	require.NoError(t, hc.ServeHTTP(echoHandler()))
	assert.Zero(t, conn.out.Len())

	conn.feed("Host: x\r\n\r\n")
	require.NoError(t, hc.ServeHTTP(echoHandler()))

	resp := conn.responses(t, http.MethodGet)[0]
	assert.Equal(t, "/split", resp.Header.Get("X-Path"))
}

func TestHttpConnKeepAliveReuse(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	for _, path := range []string{"/a", "/b", "/c"} {
		conn.out.Reset()
		conn.feed("GET " + path + " HTTP/1.1\r\nHost: x\r\n\r\n")
		require.NoError(t, hc.ServeHTTP(echoHandler()))

		resp := conn.responses(t, http.MethodGet)[0]
		assert.Equal(t, path, resp.Header.Get("X-Path"))
	}
}

func TestHttpConnConnectionClose(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	assert.ErrorIs(t, hc.ServeHTTP(echoHandler()), ErrConnectionClose)

	resp := conn.responses(t, http.MethodGet)[0]
	assert.True(t, resp.Close)
}

func TestHttpConnHTTP10(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET / HTTP/1.0\r\n\r\n")
	assert.ErrorIs(t, hc.ServeHTTP(echoHandler()), ErrConnectionClose)

	resp := conn.responses(t, http.MethodGet)[0]
	assert.Equal(t, "HTTP/1.0", resp.Proto)
	assert.True(t, resp.Close)
}

func TestHttpConnHTTP10KeepAlive(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	require.NoError(t, hc.ServeHTTP(echoHandler()))
	assert.Contains(t, conn.out.String(), "Connection: keep-alive\r\n")

	resp := conn.responses(t, http.MethodGet)[0]
	assert.Equal(t, "HTTP/1.0", resp.Proto)
	assert.False(t, resp.Close)
}

func TestHttpConnPatch(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("PATCH /item HTTP/1.1\r\nHost: x\r\nContent-Length: 2\r\n\r\nhi")
	require.NoError(t, hc.ServeHTTP(echoHandler()))

	resp := conn.responses(t, http.MethodPatch)[0]
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.MethodPatch, resp.Header.Get("X-Method"))
	assert.Equal(t, "echo:hi", readBody(t, resp))
}

func TestRequestMethod(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"GET / HTTP/1.1\r\n", "GET"},
		{"PATCH /x HTTP/1.1\r\n", "PATCH"},
		{"\r\nPURGE / HTTP/1.1\r\n", "PURGE"},
		{"PAT", ""},
		{" / HTTP/1.1\r\n", ""},
		{"G(T / HTTP/1.1\r\n", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, requestMethod([]byte(c.in)), "%q", c.in)
	}
}

func TestHttpConnHandlerRequestsClose(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	err := hc.ServeHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
	}))
	assert.ErrorIs(t, err, ErrConnectionClose)

	resp := conn.responses(t, http.MethodGet)[0]
	assert.True(t, resp.Close)
}

func TestHttpConnHead(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("HEAD / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, hc.ServeHTTP(echoHandler()))

	resp := conn.responses(t, http.MethodHead)[0]
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HEAD", resp.Header.Get("X-Method"))
	assert.Empty(t, readBody(t, resp))
}

func TestHttpConnBadRequest(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET %zz HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Error(t, hc.ServeHTTP(echoHandler()))

	resp := conn.responses(t, http.MethodGet)[0]
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, resp.Close)
	assert.Equal(t, "400 Bad Request", readBody(t, resp))
}

func TestHttpConnHandlerPanic(t *testing.T) {
	conn := &memConn{}
	hc := NewHttpConn(conn)

	conn.feed("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	err := hc.ServeHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Zero(t, conn.out.Len())
}

func TestShouldClose(t *testing.T) {
	cases := []struct {
		major, minor int
		connection   string
		want         bool
	}{
		{0, 9, "", true},
		{1, 0, "", true},
		{1, 0, "keep-alive", false},
		{1, 0, "close", true},
		{1, 1, "", false},
		{1, 1, "close", true},
		{1, 1, "Keep-Alive, Close", true},
	}
	for _, c := range cases {
		header := http.Header{}
		if c.connection != "" {
			header.Set("Connection", c.connection)
		}
		assert.Equal(t, c.want, shouldClose(c.major, c.minor, header, false), "%d.%d %q", c.major, c.minor, c.connection)
	}
}
