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
	"net/http"
	"strings"

	"github.com/antlabs/httparser"
)

var emptyRequest = http.Request{}

func resetHttpRequest(req *http.Request) *http.Request {
	var header = req.Header
	clear(header)

	*req = emptyRequest
	req.Header = header
	req.Body = http.NoBody
	return req
}

var httpParserSettings = &httparser.Setting{
	MessageBegin: func(p *httparser.Parser, _ int) {
		hConn := p.GetUserData().(*HttpConn)
		hConn.request = resetHttpRequest(hConn.request)
		hConn.writer.reset()
		hConn.body.Reset()
		hConn.lastHeader = ""
		hConn.lastValue = false
		hConn.inMessage = true
	},
	URL: func(p *httparser.Parser, buf []byte, _ int) {
		// the url may arrive in more than one piece.
		hConn := p.GetUserData().(*HttpConn)
		hConn.request.RequestURI += string(buf)
	},
	Status: func(p *httparser.Parser, buf []byte, _ int) {
		// response only
	},
	HeaderField: func(p *httparser.Parser, buf []byte, _ int) {
		hConn := p.GetUserData().(*HttpConn)
		if hConn.lastValue {
			hConn.flushHeader()
		}
		hConn.lastHeader += string(buf)
	},
	HeaderValue: func(p *httparser.Parser, buf []byte, _ int) {
		hConn := p.GetUserData().(*HttpConn)
		hConn.lastValue = true
		hConn.headerValue += string(buf)
	},
	HeadersComplete: func(p *httparser.Parser, _ int) {
		hConn := p.GetUserData().(*HttpConn)
		if hConn.lastValue {
			hConn.flushHeader()
		}
	},
	Body: func(p *httparser.Parser, buf []byte, _ int) {
		// Content-Length or chunked data
		hConn := p.GetUserData().(*HttpConn)
		_, _ = hConn.body.Write(buf)
	},
	MessageComplete: func(p *httparser.Parser, _ int) {
		var sb strings.Builder
		sb.WriteString("HTTP/")
		sb.WriteByte('0' + p.Major)
		sb.WriteByte('.')
		sb.WriteByte('0' + p.Minor)

		hConn := p.GetUserData().(*HttpConn)
		hConn.request.Method = getMethod(p.Method)
		hConn.request.Proto = sb.String()
		hConn.request.ProtoMajor = int(p.Major)
		hConn.request.ProtoMinor = int(p.Minor)
		hConn.complete()
	},
}

// flushHeader stores the pending header field and value.
func (hc *HttpConn) flushHeader() {
	if strings.EqualFold("Host", hc.lastHeader) {
		hc.request.Host = hc.headerValue
	} else {
		hc.request.Header.Add(hc.lastHeader, hc.headerValue)
	}
	hc.lastHeader = ""
	hc.headerValue = ""
	hc.lastValue = false
}

var methods = map[httparser.Method]string{
	httparser.GET:     http.MethodGet,
	httparser.HEAD:    http.MethodHead,
	httparser.POST:    http.MethodPost,
	httparser.PUT:     http.MethodPut,
	httparser.DELETE:  http.MethodDelete,
	httparser.CONNECT: http.MethodConnect,
	httparser.OPTIONS: http.MethodOptions,
	httparser.TRACE:   http.MethodTrace,
}

// getMethod returns "" for methods the server does not know.
func getMethod(m httparser.Method) string {
	return methods[m]
}
