package wstest

import (
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestEchoServerRoundTrip dials the EchoServer's hijacked socket directly
// (bypassing wsclient) to confirm the raw upgrade and TEXT echo behavior
// this fixture promises to wsconn/wsclient integration tests. PING/PONG
// handling is not exercised here.
func TestEchoServerRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(NewEchoServer(nil).Handler())
	defer srv.Close()

	addr := srv.Listener.Addr().(*net.TCPAddr)
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := "GET / HTTP/1.1\r\n" +
		"Host: 127.0.0.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write upgrade request: %v", err)
	}

	resp := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(resp)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if got := string(resp[:n]); !strings.Contains(got, "101 Switching Protocols") {
		t.Fatalf("unexpected handshake response: %q", got)
	}
	if !strings.Contains(string(resp[:n]), "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Fatalf("unexpected accept value in: %q", string(resp[:n]))
	}

	masked := maskFrame(0x1, []byte("ping"), [4]byte{1, 2, 3, 4})
	if _, err := conn.Write(masked); err != nil {
		t.Fatalf("write masked text frame: %v", err)
	}

	echoed := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = conn.Read(echoed)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if echoed[0] != 0x81 { // FIN + TEXT, server frames are unmasked
		t.Fatalf("got opcode/fin byte %x, want 0x81", echoed[0])
	}
	if string(echoed[2:n]) != "ping" {
		t.Fatalf("echoed payload = %q, want %q", echoed[2:n], "ping")
	}
}

func maskFrame(opcode byte, payload []byte, key [4]byte) []byte {
	out := []byte{0x80 | opcode, 0x80 | byte(len(payload))}
	out = append(out, key[:]...)
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	return append(out, masked...)
}
