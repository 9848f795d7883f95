// Package wstest is test/demo tooling only: a minimal RFC 6455 echo server
// used as the loopback peer for wsconn/wsclient integration tests and for
// the cmd/wsecho demo binary. It is grounded on
// internal/server/websocket/handler.go (hijack-based upgrade, hand-rolled
// frame I/O) and internal/server/rest/router.go (chi router, middleware
// stack), adapted from "discard client frames, broadcast server messages"
// to "echo every TEXT/BINARY frame back, answer PING with PONG".
//
// The wsclient library itself never imports chi — only this package and
// cmd/wsecho do, keeping the server role out of the library's import graph
// per the Non-goals in SPEC_FULL.md.
package wstest

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // SHA-1 is mandated by RFC 6455 §4.1, not used for security
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const maxFrameSize = 1 << 20 // 1 MiB; generous for test fixtures

// EchoServer is an http.Handler that upgrades every request to WebSocket and
// echoes back every TEXT/BINARY frame it receives, answering PING with
// PONG. One EchoServer instance may serve many concurrent connections.
type EchoServer struct {
	logger *slog.Logger
}

// NewEchoServer builds the chi-routed http.Handler. A nil logger defaults to
// slog.Default().
func NewEchoServer(logger *slog.Logger) *EchoServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoServer{logger: logger}
}

// Handler returns the chi.Router serving the echo endpoint at "/" and a
// liveness probe at "/healthz", mirroring router.go's middleware stack.
func (s *EchoServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/*", s.serveUpgrade)

	return r
}

func (s *EchoServer) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "server does not support hijacking", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		s.logger.Error("wstest: hijack failed", slog.Any("error", err))
		return
	}

	accept := computeAcceptKey(key)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	if _, err := bufrw.WriteString(resp); err != nil || bufrw.Flush() != nil {
		conn.Close()
		return
	}

	connID := uuid.NewString()
	s.logger.Info("wstest: client connected", slog.String("conn_id", connID))
	s.echoLoop(conn, bufrw.Reader, connID)
}

func (s *EchoServer) echoLoop(conn net.Conn, r *bufio.Reader, connID string) {
	defer conn.Close()

	for {
		opcode, payload, err := readServerFrame(r)
		if err != nil {
			return
		}
		switch opcode {
		case 0x9: // PING
			if err := writeServerFrame(conn, 0xA, payload); err != nil {
				return
			}
		case 0xA: // PONG
			// ignored
		case 0x8: // CLOSE
			_ = writeServerFrame(conn, 0x8, payload)
			return
		case 0x1, 0x2: // TEXT, BINARY
			if err := writeServerFrame(conn, opcode, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func computeAcceptKey(key string) string {
	h := sha1.New() //nolint:gosec // see package doc
	h.Write([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// writeServerFrame writes a single, unfragmented, unmasked frame (server ->
// client frames must not be masked, RFC 6455 §5.1).
func writeServerFrame(conn net.Conn, opcode byte, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	n := len(payload)
	var header []byte
	switch {
	case n < 126:
		header = []byte{0x80 | opcode, byte(n)}
	case n < 65536:
		header = []byte{0x80 | opcode, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = 0x80 | opcode
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}
	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("wstest: write header: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("wstest: write payload: %w", err)
	}
	return nil
}

// readServerFrame reads a single frame from the client, unmasking its
// payload (clients always mask per RFC 6455 §5.1).
func readServerFrame(r *bufio.Reader) (opcode byte, payload []byte, err error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	b1, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	opcode = b0 & 0x0F
	masked := (b1 & 0x80) != 0
	length := int64(b1 & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return 0, nil, err
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return 0, nil, err
		}
		rawLen := binary.BigEndian.Uint64(ext[:])
		if rawLen > maxFrameSize {
			return 0, nil, fmt.Errorf("wstest: frame too large: %d", rawLen)
		}
		length = int64(rawLen)
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return 0, nil, err
		}
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return opcode, payload, nil
}
