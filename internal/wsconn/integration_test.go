package wsconn

import (
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/duskline/wsclient/internal/frame"
	"github.com/duskline/wsclient/internal/wstest"
)

func startEchoServer(t *testing.T) *wstest.Server {
	t.Helper()
	srv, err := wstest.Listen(nil)
	if err != nil {
		t.Fatalf("start echo server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	u, err := url.Parse("ws://" + addr)
	if err != nil {
		t.Fatalf("parse addr %q: %v", addr, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port from %q: %v", addr, err)
	}
	return u.Hostname(), port
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestConnHandshakeAndTextRoundTrip(t *testing.T) {
	t.Parallel()

	srv := startEchoServer(t)
	host, port := hostPort(t, srv.Addr())

	var mu sync.Mutex
	var received []string
	connected := false

	c := New(Config{
		Scheme:      "ws",
		Host:        host,
		Port:        port,
		Path:        "/",
		DialTimeout: 2 * time.Second,
		Callbacks: Callbacks{
			OnConnected: func() {
				mu.Lock()
				connected = true
				mu.Unlock()
			},
			OnReceivedText: func(text []byte) {
				mu.Lock()
				received = append(received, string(text))
				mu.Unlock()
			},
		},
	})
	c.Start()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connected
	})
	if !c.IsConnected() {
		t.Fatalf("expected IsConnected to be true after on_connected fired")
	}

	c.EnqueueSend(frame.OpText, []byte("hello"))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	mu.Lock()
	got := received[0]
	mu.Unlock()
	if got != "hello" {
		t.Fatalf("echoed text = %q, want %q", got, "hello")
	}

	c.RequestDisconnect(1000)
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("worker did not reach END after RequestDisconnect")
	}
	if c.IsConnected() {
		t.Fatalf("expected IsConnected false after disconnect")
	}
}

func TestConnLargeMessageFragmentsAndReassembles(t *testing.T) {
	t.Parallel()

	srv := startEchoServer(t)
	host, port := hostPort(t, srv.Addr())

	var mu sync.Mutex
	var received []byte
	done := make(chan struct{})

	c := New(Config{
		Scheme:      "ws",
		Host:        host,
		Port:        port,
		Path:        "/",
		DialTimeout: 2 * time.Second,
		Callbacks: Callbacks{
			OnReceivedBin: func(data []byte) {
				mu.Lock()
				received = append([]byte{}, data...)
				mu.Unlock()
				close(done)
			},
		},
	})
	c.Start()

	waitFor(t, 2*time.Second, c.IsConnected)

	payload := make([]byte, sendFragmentSize*3+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	c.EnqueueSend(frame.OpBinary, payload)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("binary echo not received in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != len(payload) {
		t.Fatalf("received %d bytes, want %d", len(received), len(payload))
	}
	for i := range payload {
		if received[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %x want %x", i, received[i], payload[i])
		}
	}

	c.RequestDisconnect(1000)
	<-c.Done()
}

func TestConnConnectFailureReportsError(t *testing.T) {
	t.Parallel()

	c := New(Config{
		Scheme:      "ws",
		Host:        "127.0.0.1",
		Port:        1, // nothing listening
		Path:        "/",
		DialTimeout: 300 * time.Millisecond,
	})
	c.Start()

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("worker did not reach END after a failed dial")
	}
	if c.IsConnected() {
		t.Fatalf("expected IsConnected false after failed dial")
	}
	if c.LastError() == nil {
		t.Fatalf("expected LastError to be set after failed dial")
	}
}

func TestConnRequestDisconnectBeforeConnectGoesStraightToEnd(t *testing.T) {
	t.Parallel()

	c := New(Config{
		Scheme:      "ws",
		Host:        "192.0.2.1", // TEST-NET-1, guaranteed unroutable
		Port:        80,
		Path:        "/",
		DialTimeout: 5 * time.Second,
	})
	c.Start()
	c.RequestDisconnect(1000)

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("worker did not reach END after early RequestDisconnect")
	}
}
