// Package handshake implements the RFC 6455 §4 opening handshake
// (component E): building the client GET request, parsing the server's 101
// response, and validating Sec-WebSocket-Accept. Grounded on the teacher's
// own hand-rolled handshake validation
// (internal/server/websocket/handler.go's wsClientHandshake /
// validateSecWebSocketKey), mirrored here for the client's side of the
// exchange instead of the server's.
package handshake

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SHA-1 is mandated by RFC 6455 §1.3, not used for security
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/duskline/wsclient/internal/wserr"
)

// guid is the fixed magic value RFC 6455 §1.3 defines for computing
// Sec-WebSocket-Accept.
const guid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const secWebSocketVersion = "13"

// GenerateKey returns a fresh base64-encoded 16-byte nonce suitable for
// Sec-WebSocket-Key.
func GenerateKey() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("handshake: generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(nonce), nil
}

// ExpectedAccept computes base64(SHA1(key || guid)) — the value the server
// must echo back in Sec-WebSocket-Accept. Verified against the RFC 6455
// §1.3 test vector in handshake_test.go (spec.md §8 "Accept computation").
func ExpectedAccept(key string) string {
	h := sha1.New() //nolint:gosec // see package doc
	h.Write([]byte(key))
	h.Write([]byte(guid))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Request holds the parameters needed to build the opening HTTP/1.1 Upgrade
// request (spec.md §4.E).
type Request struct {
	Scheme  string // "ws" or "wss"
	Host    string
	Port    int
	Path    string
	Key     string
	Headers map[string]string // extra headers (e.g. Authorization), may be nil
}

// Build serialises req into the exact wire form spec.md §4.E specifies.
func Build(req Request) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", req.Path)

	hostHeader := req.Host
	if !isStandardPort(req.Scheme, req.Port) {
		hostHeader = fmt.Sprintf("%s:%d", req.Host, req.Port)
	}
	fmt.Fprintf(&b, "Host: %s\r\n", hostHeader)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", req.Key)
	fmt.Fprintf(&b, "Sec-WebSocket-Version: %s\r\n", secWebSocketVersion)
	fmt.Fprintf(&b, "Origin: %s://%s\r\n", req.Scheme, req.Host)

	for k, v := range req.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}

	b.WriteString("\r\n")
	return []byte(b.String())
}

func isStandardPort(scheme string, port int) bool {
	switch scheme {
	case "ws":
		return port == 80
	case "wss":
		return port == 443
	default:
		return false
	}
}

// headerTerminator marks the end of the HTTP response headers.
var headerTerminator = []byte("\r\n\r\n")

// Response is the parsed server handshake response.
type Response struct {
	StatusCode int
	Headers    map[string]string // lower-cased keys
}

// ParseResponse looks for "\r\n\r\n" in buf. If not yet present, it returns
// (nil, 0, false) so the caller knows to wait for more bytes — it is not an
// error, mirroring ErrIncomplete in the frame codec. Once the terminator is
// found, it returns the parsed Response and the number of bytes the header
// block (including the terminator) occupied so the caller can retain any
// residual bytes as the first bytes of the frame stream (spec.md §4.E).
func ParseResponse(buf []byte) (resp *Response, consumed int, complete bool, err error) {
	idx := indexOf(buf, headerTerminator)
	if idx < 0 {
		return nil, 0, false, nil
	}
	headerBlock := string(buf[:idx])
	consumed = idx + len(headerTerminator)

	lines := strings.Split(headerBlock, "\r\n")
	if len(lines) == 0 {
		return nil, consumed, true, wserr.New(wserr.CodeParseHandshake, "empty handshake response")
	}

	statusLine := lines[0]
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/1.1") {
		return nil, consumed, true, wserr.New(wserr.CodeParseHandshake, "malformed status line: "+statusLine)
	}

	var status int
	if _, scanErr := fmt.Sscanf(parts[1], "%d", &status); scanErr != nil {
		return nil, consumed, true, wserr.New(wserr.CodeParseHandshake, "non-numeric status code: "+parts[1])
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		sep := strings.Index(line, ":")
		if sep < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:sep]))
		val := strings.TrimSpace(line[sep+1:])
		headers[key] = val
	}

	return &Response{StatusCode: status, Headers: headers}, consumed, true, nil
}

// Validate checks resp against spec.md §4.E's requirements: status 101,
// Upgrade: websocket, Connection: Upgrade, and a byte-exact
// Sec-WebSocket-Accept match. It returns the first violation found, as a
// *wserr.Error carrying the right Code (and HTTPStatus for CodeNot101).
func Validate(resp *Response, expectedAccept string) *wserr.Error {
	if resp.StatusCode != 101 {
		return wserr.New(wserr.CodeNot101, "server did not upgrade the connection").WithHTTPStatus(resp.StatusCode)
	}
	if !strings.EqualFold(resp.Headers["upgrade"], "websocket") {
		return wserr.New(wserr.CodeParseHandshake, "missing or invalid Upgrade header")
	}
	if !headerContainsToken(resp.Headers["connection"], "upgrade") {
		return wserr.New(wserr.CodeParseHandshake, "missing or invalid Connection header")
	}
	accept, ok := resp.Headers["sec-websocket-accept"]
	if !ok || accept == "" {
		return wserr.New(wserr.CodeMissingSecAccept, "Sec-WebSocket-Accept header absent")
	}
	if accept != expectedAccept {
		return wserr.New(wserr.CodeBadSecAccept, "Sec-WebSocket-Accept mismatch")
	}
	return nil
}

func headerContainsToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

func indexOf(haystack, needle []byte) int {
	n, m := len(haystack), len(needle)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if string(haystack[i:i+m]) == string(needle) {
			return i
		}
	}
	return -1
}
