package decoder

import (
	"bytes"

	"firestige.xyz/pcapminer/internal/core"
)

// requestMethods are the request-line verbs recognised at the start of a TCP payload.
var requestMethods = [][]byte{
	[]byte("GET"), []byte("POST"), []byte("HEAD"), []byte("PUT"), []byte("DELETE"),
	[]byte("CONNECT"), []byte("OPTIONS"), []byte("TRACE"), []byte("PATCH"),
}

var (
	crlf         = []byte("\r\n")
	httpVersion  = []byte("HTTP/1.")
	userAgentKey = []byte("user-agent:")
)

// ParseHTTPRequest extracts the request line and User-Agent header from a
// TCP payload. It returns nil when the payload does not start with an
// HTTP/1.x request line. Headers cut off by segmentation are tolerated.
func ParseHTTPRequest(payload []byte) *core.HTTPRequest {
	line, rest, _ := bytes.Cut(payload, crlf)

	method, after, ok := bytes.Cut(line, []byte(" "))
	if !ok || !isRequestMethod(method) {
		return nil
	}
	target, version, ok := bytes.Cut(after, []byte(" "))
	if !ok || len(target) == 0 || !bytes.HasPrefix(version, httpVersion) {
		return nil
	}

	req := &core.HTTPRequest{
		Method:   string(method),
		Endpoint: string(target),
	}
	for len(rest) > 0 {
		var header []byte
		header, rest, _ = bytes.Cut(rest, crlf)
		if len(header) == 0 {
			break
		}
		if len(header) > len(userAgentKey) && bytes.EqualFold(header[:len(userAgentKey)], userAgentKey) {
			req.UserAgent = string(bytes.TrimSpace(header[len(userAgentKey):]))
			break
		}
	}
	return req
}

func isRequestMethod(m []byte) bool {
	for _, candidate := range requestMethods {
		if bytes.Equal(m, candidate) {
			return true
		}
	}
	return false
}
