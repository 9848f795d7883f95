package handshake

import (
	"strings"
	"testing"

	"github.com/duskline/wsclient/internal/wserr"
)

// TestExpectedAcceptVector checks the RFC 6455 §1.3 test vector reproduced
// in spec.md §8.
func TestExpectedAcceptVector(t *testing.T) {
	t.Parallel()

	got := ExpectedAccept("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildIncludesRequiredHeaders(t *testing.T) {
	t.Parallel()

	raw := Build(Request{
		Scheme: "ws",
		Host:   "example.com",
		Port:   8080,
		Path:   "/chat",
		Key:    "dGhlIHNhbXBsZSBub25jZQ==",
	})
	s := string(raw)

	if !strings.HasPrefix(s, "GET /chat HTTP/1.1\r\n") {
		t.Fatalf("bad request line: %q", s)
	}
	for _, want := range []string{
		"Host: example.com:8080\r\n",
		"Upgrade: websocket\r\n",
		"Connection: Upgrade\r\n",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n",
		"Sec-WebSocket-Version: 13\r\n",
		"Origin: ws://example.com\r\n",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("missing header %q in:\n%s", want, s)
		}
	}
	if !strings.HasSuffix(s, "\r\n\r\n") {
		t.Fatalf("request not terminated by blank line: %q", s)
	}
}

func TestBuildOmitsPortForStandardScheme(t *testing.T) {
	t.Parallel()

	raw := Build(Request{Scheme: "ws", Host: "example.com", Port: 80, Path: "/", Key: "k"})
	if !strings.Contains(string(raw), "Host: example.com\r\n") {
		t.Fatalf("expected bare host for standard port, got:\n%s", raw)
	}
}

func TestParseResponseIncomplete(t *testing.T) {
	t.Parallel()

	resp, _, complete, err := ParseResponse([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if complete {
		t.Fatalf("expected incomplete, got complete response %+v", resp)
	}
}

func TestParseAndValidateHappyPath(t *testing.T) {
	t.Parallel()

	key := "dGhlIHNhbXBsZSBub25jZQ=="
	expected := ExpectedAccept(key)
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + expected + "\r\n\r\n" +
		"residual-frame-bytes"

	resp, consumed, complete, err := ParseResponse([]byte(raw))
	if err != nil || !complete {
		t.Fatalf("parse failed: err=%v complete=%v", err, complete)
	}
	if raw[consumed:] != "residual-frame-bytes" {
		t.Fatalf("residual bytes mismatch: got %q", raw[consumed:])
	}
	if verr := Validate(resp, expected); verr != nil {
		t.Fatalf("unexpected validation error: %v", verr)
	}
}

func TestValidateNot101(t *testing.T) {
	t.Parallel()

	resp := &Response{StatusCode: 404, Headers: map[string]string{}}
	err := Validate(resp, "anything")
	if err == nil || err.Code != wserr.CodeNot101 {
		t.Fatalf("got %v, want CodeNot101", err)
	}
	if err.HTTPStatus == nil || *err.HTTPStatus != 404 {
		t.Fatalf("HTTPStatus = %v, want 404", err.HTTPStatus)
	}
}

func TestValidateBadAccept(t *testing.T) {
	t.Parallel()

	resp := &Response{
		StatusCode: 101,
		Headers: map[string]string{
			"upgrade":              "websocket",
			"connection":           "Upgrade",
			"sec-websocket-accept": "not-the-right-value",
		},
	}
	err := Validate(resp, ExpectedAccept("dGhlIHNhbXBsZSBub25jZQ=="))
	if err == nil || err.Code != wserr.CodeBadSecAccept {
		t.Fatalf("got %v, want CodeBadSecAccept", err)
	}
}

func TestValidateMissingAccept(t *testing.T) {
	t.Parallel()

	resp := &Response{
		StatusCode: 101,
		Headers: map[string]string{
			"upgrade":    "websocket",
			"connection": "Upgrade",
		},
	}
	err := Validate(resp, "x")
	if err == nil || err.Code != wserr.CodeMissingSecAccept {
		t.Fatalf("got %v, want CodeMissingSecAccept", err)
	}
}
