// Package wsconn implements the connection state machine and worker loop
// (component G): the single goroutine that drives the transport, the
// handshake, and the steady-state read/dispatch/send tick, mirroring
// spec.md §4.G and §5's concurrency model. It is grounded on the cadence
// and tick-sleep style of the teacher's transport.Client.Run reconnect
// loop, adapted from a gRPC stream loop to a raw frame codec loop.
package wsconn

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duskline/wsclient/internal/frame"
	"github.com/duskline/wsclient/internal/journal"
	"github.com/duskline/wsclient/internal/metrics"
	"github.com/duskline/wsclient/internal/transport"
	"github.com/duskline/wsclient/internal/wsbuf"
	"github.com/duskline/wsclient/internal/wserr"
)

// pollSleep is the idle-tick backoff spec.md §4.G/§9 calls for: the worker
// sleeps this long between ticks that made no read/write progress, and
// resumes immediately on any tick that did.
const pollSleep = 10 * time.Millisecond

// sendFragmentSize is the MTU spec.md §4.G's send path fragments outbound
// messages at.
const sendFragmentSize = 32 * 1024

// disconnectTimeout bounds how long DISCONNECT waits for the peer's CLOSE
// echo before giving up and closing the transport anyway (spec.md §4.G:
// "timeout (≥ 1 s)").
const disconnectTimeout = 1500 * time.Millisecond

// Callbacks are the caller-supplied notification slots spec.md §3/§6
// describes. All are invoked on the worker goroutine; none may block for
// long or call back into RequestDisconnect synchronously.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnReceivedText func(text []byte)
	OnReceivedBin  func(data []byte)
}

// Config configures one Conn. All fields are read once at New and are not
// safe to mutate afterwards.
type Config struct {
	Scheme string // "ws" or "wss"
	Host   string
	Port   int
	Path   string

	DialTimeout time.Duration
	TLS         *transport.TLSConfig
	BearerToken string // pre-validated by internal/auth; attached as a header

	Callbacks Callbacks
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Journal   *journal.Journal
	ConnID    string
}

// Conn is one connection's worker state. Create it with New, start the
// worker with Start, and observe its lifecycle via IsConnected, LastError,
// and Done.
type Conn struct {
	cfg Config

	logger *slog.Logger
	rng    *rand.Rand

	command atomic.Int32

	sendMu    sync.Mutex
	sendQueue frame.Queue

	isConnected atomic.Bool
	closeCode   atomic.Int32

	lastErr atomic.Pointer[wserr.Error]

	dialCancel atomic.Pointer[context.CancelFunc]

	done chan struct{}

	// worker-owned; touched only by the goroutine started in Start.
	transportAdapter *transport.Adapter
	recvBuf          wsbuf.Buffer
	writeBuf         []byte
	handshakeKey     string
	expectedAccept   string
	nextMessage      reassembly
	sentClose        bool
	disconnectDone   sync.Once
}

type reassembly struct {
	active  bool
	opcode  frame.Opcode
	payload []byte
}

// New allocates a Conn in its initial NONE state. The worker is not started
// until Start is called.
func New(cfg Config) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	transport.IgnoreSIGPIPE()

	c := &Conn{
		cfg:    cfg,
		logger: cfg.Logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // mask key only needs to be unpredictable to caches, not cryptographically secure
		done:   make(chan struct{}),
	}
	c.closeCode.Store(1000)
	return c
}

// Start spawns the worker goroutine, which immediately begins
// CONNECT_TO_HOST. Start must be called at most once.
func (c *Conn) Start() {
	c.command.Store(int32(CmdConnectToHost))
	go c.run()
}

// IsConnected reports whether the handshake has completed and no disconnect
// has been observed yet.
func (c *Conn) IsConnected() bool {
	return c.isConnected.Load()
}

// LastError returns the most recently recorded error, or nil if none has
// occurred. It is safe to call at any time but is only meaningful once
// Done() has fired or OnDisconnected has been invoked (spec.md §5: "undefined
// to read during operation").
func (c *Conn) LastError() *wserr.Error {
	return c.lastErr.Load()
}

// Done returns a channel closed once the worker reaches END.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// EnqueueSend fragments payload into frames of at most sendFragmentSize and
// pushes them, in order, onto the send queue. It never blocks and performs
// no I/O; the worker drains the queue on its next tick.
func (c *Conn) EnqueueSend(opcode frame.Opcode, payload []byte) {
	frames := fragment(opcode, payload)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for _, f := range frames {
		c.sendQueue.PushBack(f)
	}
}

func fragment(opcode frame.Opcode, payload []byte) []*frame.Frame {
	if len(payload) == 0 {
		return []*frame.Frame{{Fin: true, Opcode: opcode, Payload: payload}}
	}

	var frames []*frame.Frame
	for offset := 0; offset < len(payload); offset += sendFragmentSize {
		end := offset + sendFragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		op := opcode
		if offset > 0 {
			op = frame.OpContinuation
		}
		fin := end == len(payload)
		frames = append(frames, &frame.Frame{Fin: fin, Opcode: op, Payload: payload[offset:end]})
	}
	return frames
}

// RequestDisconnect asks the worker to close the connection. If the
// connection is in IDLE, it transitions to DISCONNECT with closeCode as the
// status to send. If the connection has not completed its handshake yet, it
// is signalled straight to END without attempting a close handshake,
// matching spec.md §5's cancellation rule. A connection already tearing
// down or ended ignores the request.
func (c *Conn) RequestDisconnect(closeCode uint16) {
	if closeCode == 0 {
		closeCode = 1000
	}
	for {
		cur := Command(c.command.Load())
		switch cur {
		case CmdIdle:
			c.closeCode.Store(int32(closeCode))
			if c.command.CompareAndSwap(int32(cur), int32(CmdDisconnect)) {
				return
			}
		case CmdNone, CmdConnectToHost, CmdSendHandshake, CmdWaitHandshakeResponse:
			if c.command.CompareAndSwap(int32(cur), int32(CmdEnd)) {
				if cancel := c.dialCancel.Load(); cancel != nil {
					(*cancel)()
				}
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) getCommand() Command {
	return Command(c.command.Load())
}

// setCommand moves the state machine to cmd unless it has already reached
// END, which is terminal: a RequestDisconnect that landed on END while the
// worker was mid-step is never overwritten.
func (c *Conn) setCommand(cmd Command) {
	for {
		cur := c.command.Load()
		if Command(cur) == CmdEnd {
			return
		}
		if c.command.CompareAndSwap(cur, int32(cmd)) {
			return
		}
	}
}

func (c *Conn) setError(err *wserr.Error) {
	c.lastErr.Store(err)
}

func (c *Conn) dialCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.cfg.DialTimeout)
}
