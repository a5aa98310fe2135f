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
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"
)

type responseWriter interface {
	io.Writer
	io.ByteWriter
	io.StringWriter
}

// httpResponseWriter buffers a whole response; it is written to the
// connection once the handler returns.
type httpResponseWriter struct {
	protoMajor, protoMinor byte
	method                 string
	statusCode             int
	header                 http.Header
	body                   bytebufferpool.ByteBuffer
}

func (h *httpResponseWriter) Header() http.Header {
	if nil == h.header {
		h.header = make(http.Header)
	}
	return h.header
}

func (h *httpResponseWriter) Write(b []byte) (int, error) {
	if 0 == h.statusCode {
		h.WriteHeader(http.StatusOK)
	}
	if !bodyAllowedForStatus(h.statusCode) {
		return 0, http.ErrBodyNotAllowed
	}
	return h.body.Write(b)
}

func (h *httpResponseWriter) WriteString(s string) (int, error) {
	return h.Write([]byte(s))
}

// WriteHeader records the first status code, later calls are ignored.
func (h *httpResponseWriter) WriteHeader(statusCode int) {
	if 0 != h.statusCode {
		return
	}
	h.statusCode = statusCode
}

func (h *httpResponseWriter) reset() {
	h.protoMajor = 0
	h.protoMinor = 0
	h.method = ""
	h.statusCode = 0
	h.body.Reset()
	clear(h.header)
}

// wantsClose reports whether the handler asked to close the connection.
func (h *httpResponseWriter) wantsClose() bool {
	return httpguts.HeaderValuesContainsToken(h.header["Connection"], "close")
}

func (h *httpResponseWriter) writeFastResponse(request *http.Request, w responseWriter) error {

	if 0 == h.statusCode {
		h.WriteHeader(http.StatusOK)
	}

	var contentLength = h.body.Len()
	var withBody = bodyAllowedForStatus(h.statusCode) && h.method != http.MethodHead

	// Status line
	text := http.StatusText(h.statusCode)
	if text == "" {
		text = "status code " + strconv.Itoa(h.statusCode)
	}

	// HTTP/1.1 200 OK\r\n
	{
		if _, err := w.WriteString("HTTP/"); nil != err {
			return err
		}

		if err := w.WriteByte('0' + h.protoMajor); nil != err {
			return err
		}

		if err := w.WriteByte('.'); nil != err {
			return err
		}

		if err := w.WriteByte('0' + h.protoMinor); nil != err {
			return err
		}

		if err := w.WriteByte(' '); nil != err {
			return err
		}

		if _, err := w.WriteString(strconv.Itoa(h.statusCode)); nil != err {
			return err
		}

		if err := w.WriteByte(' '); nil != err {
			return err
		}

		if _, err := w.WriteString(text); nil != err {
			return err
		}

		if _, err := w.WriteString("\r\n"); nil != err {
			return err
		}
	}

	// Header: Value\r\n
	{
		// Connection: close
		if request.Close {
			if _, err := w.WriteString("Connection: close\r\n"); nil != err {
				return err
			}
		} else if 1 == h.protoMajor && 0 == h.protoMinor {
			// HTTP/1.0 closes unless told otherwise.
			if _, err := w.WriteString("Connection: keep-alive\r\n"); nil != err {
				return err
			}
		}

		// Content-Length: 1024
		if bodyAllowedForStatus(h.statusCode) && (withBody || contentLength > 0) {
			if err := writeHeaderLine(w, "Content-Length", strconv.Itoa(contentLength)); nil != err {
				return err
			}
		}

		if contentLength > 0 && (nil == h.header || h.header.Get("Content-Type") == "") {
			if _, err := w.WriteString("Content-Type: text/plain; charset=utf-8\r\n"); err != nil {
				return err
			}
		}

		if nil == h.header || h.header.Get("Date") == "" {
			if err := writeHeaderLine(w, "Date", NowRFC1123String()); nil != err {
				return err
			}
		}

		keys := make([]string, 0, len(h.header))
		for key := range h.header {
			switch http.CanonicalHeaderKey(key) {
			case "Connection", "Content-Length", "Transfer-Encoding":
				// framing headers are owned by the server.
				continue
			}
			if httpguts.ValidHeaderFieldName(key) {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)

		for _, key := range keys {
			for _, value := range h.header[key] {
				if !httpguts.ValidHeaderFieldValue(value) {
					continue
				}
				if err := writeHeaderLine(w, key, value); nil != err {
					return err
				}
			}
		}
	}

	// End-of-header
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}

	// write body
	if withBody && contentLength > 0 {
		if _, err := h.body.WriteTo(w); nil != err {
			return err
		}
	}

	return nil
}

func writeHeaderLine(w responseWriter, key, value string) error {
	if _, err := w.WriteString(key); nil != err {
		return err
	}

	if _, err := w.WriteString(": "); nil != err {
		return err
	}

	if _, err := w.WriteString(value); nil != err {
		return err
	}

	_, err := w.WriteString("\r\n")
	return err
}

// bodyAllowedForStatus reports whether a given response status code
// permits a body. See RFC 7230, section 3.3.
func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == 204:
		return false
	case status == 304:
		return false
	}
	return true
}
