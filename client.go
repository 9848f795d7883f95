// Package wsclient is a client-side RFC 6455 WebSocket library: create a
// [Client], configure it with [Option] values, call [Client.Connect], and
// send/receive over the callbacks supplied at construction time.
//
// # Usage
//
//	c := wsclient.NewClient(
//		wsclient.WithHost("example.com"),
//		wsclient.WithPort(443),
//		wsclient.WithScheme("wss"),
//		wsclient.WithPath("/chat"),
//		wsclient.WithOnReceivedText(func(text string) { fmt.Println(text) }),
//	)
//	if err := c.Connect(); err != nil {
//		log.Fatal(err)
//	}
//	defer c.DisconnectAndRelease(1000)
//	c.SendText("hello")
//
// # Prometheus metrics
//
// Attach a [metrics.Metrics] value to collect operational counters:
//
//	m := metrics.New()
//	c := wsclient.NewClient(wsclient.WithMetrics(m), ...)
//	http.Handle("/metrics", m.Handler())
//
// # Durable outbox and event journal
//
// [WithOutboxPath] persists outbound frames to a WAL-mode SQLite database so
// they survive a process restart; any frames left over from a prior process
// are replayed on the next successful [Client.Connect]. [WithJournalPath]
// records a tamper-evident, hash-chained log of connection lifecycle events
// (dial attempts, handshake outcome, disconnect reason).
//
// # Lifecycle
//
// A Client connects at most once. [Client.DisconnectAndRelease] requests
// teardown and returns without waiting for the worker to finish; once its
// internal goroutine exits, the durable outbox and journal (if configured)
// are closed automatically.
package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/duskline/wsclient/internal/auth"
	"github.com/duskline/wsclient/internal/frame"
	"github.com/duskline/wsclient/internal/journal"
	"github.com/duskline/wsclient/internal/metrics"
	"github.com/duskline/wsclient/internal/queue"
	"github.com/duskline/wsclient/internal/transport"
	"github.com/duskline/wsclient/internal/wsconn"
	"github.com/duskline/wsclient/internal/wserr"
)

// Option is a functional option for [NewClient] that customises [Client]
// configuration before [Client.Connect] is called.
type Option func(*Client)

// WithScheme sets the URL scheme, "ws" or "wss". Defaults to "ws".
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

// WithHost sets the target host. Required.
func WithHost(host string) Option {
	return func(c *Client) { c.host = host }
}

// WithPort sets the target TCP port. Required.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithPath sets the HTTP request path sent in the opening handshake.
// Defaults to "/".
func WithPath(path string) Option {
	return func(c *Client) { c.path = path }
}

// WithURL is shorthand for setting scheme, host, port, and path together.
func WithURL(scheme, host string, port int, path string) Option {
	return func(c *Client) {
		c.scheme = scheme
		c.host = host
		c.port = port
		c.path = path
	}
}

// WithDialTimeout bounds the TCP connect + TLS handshake window. Defaults to
// 10s. The WebSocket upgrade request/response exchange that follows is not
// bounded by it.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithTLS attaches client certificate/CA material for a "wss" target.
func WithTLS(cfg transport.TLSConfig) Option {
	return func(c *Client) { c.tls = &cfg }
}

// WithBearerToken attaches token as an Authorization header on the
// handshake request, after confirming it has not already expired.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// WithLogger overrides the default (slog.Default()) logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics wires m into the client so that connection events are
// recorded as Prometheus-compatible counters and gauges. If omitted, the
// client runs without instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithJournalPath enables a tamper-evident event journal at path.
func WithJournalPath(path string) Option {
	return func(c *Client) { c.journalPath = path }
}

// WithOutboxPath enables a durable send outbox backed by a SQLite database
// at path, so outbound frames survive a process restart.
func WithOutboxPath(path string) Option {
	return func(c *Client) { c.outboxPath = path }
}

// WithOnConnected registers the callback invoked once the opening handshake
// completes successfully.
func WithOnConnected(fn func()) Option {
	return func(c *Client) { c.onConnected = fn }
}

// WithOnDisconnected registers the callback invoked exactly once when the
// connection tears down, for any reason.
func WithOnDisconnected(fn func()) Option {
	return func(c *Client) { c.onDisconnected = fn }
}

// WithOnReceivedText registers the callback invoked for each fully
// reassembled, UTF-8-validated text message.
func WithOnReceivedText(fn func(text string)) Option {
	return func(c *Client) { c.onReceivedText = fn }
}

// WithOnReceivedBin registers the callback invoked for each fully
// reassembled binary message.
func WithOnReceivedBin(fn func(data []byte)) Option {
	return func(c *Client) { c.onReceivedBin = fn }
}

// WithUserObject attaches an opaque caller-owned value retrievable later via
// [Client.UserObject].
func WithUserObject(v any) Option {
	return func(c *Client) { c.userObject.Store(&v) }
}

// Client is a single WebSocket connection handle (spec component H). Create
// one with [NewClient]; it connects at most once.
type Client struct {
	scheme      string
	host        string
	port        int
	path        string
	dialTimeout time.Duration
	tls         *transport.TLSConfig
	bearerToken string

	logger      *slog.Logger
	metrics     *metrics.Metrics
	journalPath string
	outboxPath  string

	onConnected    func()
	onDisconnected func()
	onReceivedText func(string)
	onReceivedBin  func([]byte)

	userObject atomic.Pointer[any]

	connID string

	conn    atomic.Pointer[wsconn.Conn]
	outbox  *queue.Outbox
	journal *journal.Journal
}

// NewClient allocates a Client in its unconnected state, applying every opt
// in order. It performs no I/O.
func NewClient(opts ...Option) *Client {
	c := &Client{
		scheme:      "ws",
		path:        "/",
		dialTimeout: 10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserObject returns the value last attached via [WithUserObject], or nil.
func (c *Client) UserObject() any {
	if p := c.userObject.Load(); p != nil {
		return *p
	}
	return nil
}

// SetUserObject attaches an opaque caller-owned value, replacing any
// previous one.
func (c *Client) SetUserObject(v any) {
	c.userObject.Store(&v)
}

// validate reports only the first missing or invalid field, in field order
// (host, port, scheme, path), so the returned error is deterministic rather
// than depending on which fields happen to be unset together.
func (c *Client) validate() error {
	if c.host == "" {
		return wserr.New(wserr.CodeMissingParameter, "host is required")
	}
	if c.port <= 0 {
		return wserr.New(wserr.CodeMissingParameter, "port is required")
	}
	if c.scheme != "ws" && c.scheme != "wss" {
		return wserr.New(wserr.CodeMissingParameter, `scheme must be "ws" or "wss"`)
	}
	if c.path == "" {
		return wserr.New(wserr.CodeMissingParameter, "path is required")
	}
	return nil
}

// Connect validates the configuration, opens any configured durable outbox
// and event journal, and spawns the worker goroutine that drives the
// handshake and steady-state read/send loop. It returns immediately; use
// [WithOnConnected] / [WithOnDisconnected] to observe the outcome, or poll
// [Client.IsConnected] and [Client.LastError].
//
// Connect fails fast, without starting a worker, if a required field is
// unset (spec component H: "connect fails fast ... with missing_parameter").
func (c *Client) Connect() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("wsclient: %w", err)
	}
	if c.bearerToken != "" {
		if err := auth.CheckExpiry(c.bearerToken); err != nil {
			return fmt.Errorf("wsclient: %w", err)
		}
	}
	if c.conn.Load() != nil {
		return fmt.Errorf("wsclient: Connect called more than once")
	}

	c.connID = uuid.NewString()

	if c.outboxPath != "" {
		ob, err := queue.Open(c.outboxPath)
		if err != nil {
			return fmt.Errorf("wsclient: open outbox: %w", err)
		}
		c.outbox = ob
	}
	if c.journalPath != "" {
		j, err := journal.Open(c.journalPath)
		if err != nil {
			if c.outbox != nil {
				_ = c.outbox.Close()
			}
			return fmt.Errorf("wsclient: open journal: %w", err)
		}
		c.journal = j
	}

	conn := wsconn.New(wsconn.Config{
		Scheme:      c.scheme,
		Host:        c.host,
		Port:        c.port,
		Path:        c.path,
		DialTimeout: c.dialTimeout,
		TLS:         c.tls,
		BearerToken: c.bearerToken,
		Callbacks: wsconn.Callbacks{
			OnConnected:    c.dispatchConnected,
			OnDisconnected: c.dispatchDisconnected,
			OnReceivedText: c.dispatchReceivedText,
			OnReceivedBin:  c.onReceivedBin,
		},
		Logger:  c.logger,
		Metrics: c.metrics,
		Journal: c.journal,
		ConnID:  c.connID,
	})
	c.conn.Store(conn)
	conn.Start()

	go c.closeResourcesOnExit(conn)

	return nil
}

func (c *Client) dispatchConnected() {
	if c.outbox != nil {
		c.replayOutbox()
	}
	if c.onConnected != nil {
		c.onConnected()
	}
}

func (c *Client) dispatchDisconnected() {
	if c.onDisconnected != nil {
		c.onDisconnected()
	}
}

func (c *Client) dispatchReceivedText(b []byte) {
	if c.onReceivedText != nil {
		c.onReceivedText(string(b))
	}
}

func (c *Client) closeResourcesOnExit(conn *wsconn.Conn) {
	<-conn.Done()
	if c.outbox != nil {
		if err := c.outbox.Close(); err != nil {
			c.logger.Warn("wsclient: close outbox", slog.Any("error", err))
		}
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			c.logger.Warn("wsclient: close journal", slog.Any("error", err))
		}
	}
}

// SendText enqueues a UTF-8 text message for the worker to frame, mask, and
// fragment (spec.md §4.G's send-path MTU). It returns an error only if text
// is not valid UTF-8 or Connect has not been called yet; text sent before the
// handshake completes is queued and written once the connection is up.
func (c *Client) SendText(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("wsclient: SendText: %w", wserr.New(wserr.CodeProtocol, "text is not valid UTF-8"))
	}
	return c.enqueue(frame.OpText, []byte(text))
}

// SendBinary enqueues a binary message for the worker to frame, mask, and
// fragment.
func (c *Client) SendBinary(data []byte) error {
	return c.enqueue(frame.OpBinary, data)
}

func (c *Client) enqueue(opcode frame.Opcode, payload []byte) error {
	conn := c.conn.Load()
	if conn == nil {
		return fmt.Errorf("wsclient: send before Connect")
	}
	if c.outbox != nil {
		c.persistOutbound(conn, opcode, payload)
		return nil
	}
	conn.EnqueueSend(opcode, payload)
	return nil
}

// persistOutbound logs payload to the durable outbox for crash-recovery
// purposes, hands it to conn's in-memory send queue, and then acks the row.
// The outbox's delivery window covers a process crash between Push and that
// enqueue, not acknowledgement from the peer (spec.md has no such
// end-to-end ack concept for this transport).
func (c *Client) persistOutbound(conn *wsconn.Conn, opcode frame.Opcode, payload []byte) {
	id, err := c.outbox.Push(context.Background(), byte(opcode), payload)
	if err != nil {
		c.logger.Warn("wsclient: outbox push failed", slog.Any("error", err))
		conn.EnqueueSend(opcode, payload)
		return
	}
	conn.EnqueueSend(opcode, payload)
	if err := c.outbox.Ack(context.Background(), []int64{id}); err != nil {
		c.logger.Warn("wsclient: outbox ack failed", slog.Any("error", err))
	}
}

// replayOutbox re-enqueues any frames left over from a prior process's
// outbox rows that were never acked (e.g. the process crashed between Push
// and the in-memory enqueue).
func (c *Client) replayOutbox() {
	pending, err := c.outbox.Pending(context.Background(), 1000)
	if err != nil {
		c.logger.Warn("wsclient: outbox replay query failed", slog.Any("error", err))
		return
	}
	if len(pending) == 0 {
		return
	}
	conn := c.conn.Load()
	ids := make([]int64, 0, len(pending))
	for _, pf := range pending {
		conn.EnqueueSend(frame.Opcode(pf.Opcode), pf.Payload)
		ids = append(ids, pf.ID)
	}
	if err := c.outbox.Ack(context.Background(), ids); err != nil {
		c.logger.Warn("wsclient: outbox replay ack failed", slog.Any("error", err))
	}
}

// IsConnected reports whether the handshake has completed and no disconnect
// has been observed yet.
func (c *Client) IsConnected() bool {
	conn := c.conn.Load()
	if conn == nil {
		return false
	}
	return conn.IsConnected()
}

// LastError returns the most recently recorded error, or nil if none has
// occurred yet.
func (c *Client) LastError() *wserr.Error {
	conn := c.conn.Load()
	if conn == nil {
		return nil
	}
	return conn.LastError()
}

// DisconnectAndRelease requests that the connection close with closeCode
// (0 defaults to 1000, normal closure) and returns immediately without
// waiting for teardown to finish (spec.md §5: "flips command, and returns
// without waiting"). If Connect was never called, this is a no-op.
func (c *Client) DisconnectAndRelease(closeCode uint16) {
	conn := c.conn.Load()
	if conn == nil {
		return
	}
	conn.RequestDisconnect(closeCode)
}
