package wsconn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/duskline/wsclient/internal/frame"
	"github.com/duskline/wsclient/internal/handshake"
	"github.com/duskline/wsclient/internal/journal"
	"github.com/duskline/wsclient/internal/transport"
	"github.com/duskline/wsclient/internal/wserr"
)

// run is the worker goroutine's entry point: one tick loop over the command
// state machine (spec.md §4.G), started by Start and exited when the
// command reaches END.
func (c *Conn) run() {
	defer close(c.done)

	for {
		switch c.getCommand() {
		case CmdConnectToHost:
			c.stepConnect()
		case CmdSendHandshake:
			c.stepSendHandshake()
		case CmdWaitHandshakeResponse:
			c.stepWaitHandshakeResponse()
		case CmdIdle:
			if !c.stepIdleTick() {
				sleepPoll()
			}
		case CmdDisconnect:
			c.stepDisconnect()
		case CmdInformDisconnected:
			c.stepInformDisconnected()
		case CmdEnd:
			// A disconnect requested before IDLE jumps here directly; release
			// the transport and fire on_disconnected (a no-op if it already
			// fired in INFORM_DISCONNECTED).
			if c.transportAdapter != nil {
				_ = c.transportAdapter.Close()
			}
			c.isConnected.Store(false)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.Connected.Store(0)
			}
			c.stepInformDisconnected()
			return
		default:
			return
		}
	}
}

func sleepPoll() {
	time.Sleep(pollSleep)
}

func (c *Conn) recordEvent(kind journal.EventKind, detail string) {
	if c.cfg.Journal == nil {
		return
	}
	if err := c.cfg.Journal.Record(c.cfg.ConnID, kind, detail); err != nil {
		c.logger.Warn("wsconn: journal write failed", slog.Any("error", err))
	}
}

// stepConnect implements CONNECT_TO_HOST: open the transport; on success
// move to SEND_HANDSHAKE, on failure record connect_failed and go straight
// to INFORM_DISCONNECTED (spec.md §4.G).
func (c *Conn) stepConnect() {
	if c.getCommand() == CmdEnd {
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.HandshakeAttempts.Add(1)
	}
	c.recordEvent(journal.EventDialAttempt, fmt.Sprintf("%s://%s:%d%s", c.cfg.Scheme, c.cfg.Host, c.cfg.Port, c.cfg.Path))

	ctx, cancel := c.dialCtx()
	c.dialCancel.Store(&cancel)
	defer func() {
		cancel()
		c.dialCancel.Store(nil)
	}()
	if c.getCommand() == CmdEnd {
		return
	}

	adapter, err := transport.Dial(ctx, c.cfg.Host, c.cfg.Port, c.cfg.TLS)
	if err != nil {
		if c.getCommand() == CmdEnd {
			return
		}
		c.logger.Warn("wsconn: connect failed", slog.String("host", c.cfg.Host), slog.Any("error", err))
		c.recordEvent(journal.EventDialFailed, err.Error())
		c.setError(wserr.Wrap(wserr.CodeConnectFailed, "dial failed", err))
		c.setCommand(CmdInformDisconnected)
		return
	}

	c.transportAdapter = adapter

	key, err := handshake.GenerateKey()
	if err != nil {
		c.setError(wserr.Wrap(wserr.CodeMemory, "generate handshake key", err))
		c.setCommand(CmdInformDisconnected)
		return
	}
	c.handshakeKey = key
	c.expectedAccept = handshake.ExpectedAccept(key)

	headers := map[string]string{}
	if c.cfg.BearerToken != "" {
		headers["Authorization"] = "Bearer " + c.cfg.BearerToken
	}
	c.writeBuf = handshake.Build(handshake.Request{
		Scheme:  c.cfg.Scheme,
		Host:    c.cfg.Host,
		Port:    c.cfg.Port,
		Path:    c.cfg.Path,
		Key:     key,
		Headers: headers,
	})

	c.setCommand(CmdSendHandshake)
}

// stepSendHandshake implements SEND_HANDSHAKE: flush c.writeBuf, resuming
// across ticks on WouldBlock, then move to WAIT_HANDSHAKE_RESPONSE.
func (c *Conn) stepSendHandshake() {
	if len(c.writeBuf) == 0 {
		c.setCommand(CmdWaitHandshakeResponse)
		return
	}

	n, err := c.transportAdapter.Write(c.writeBuf)
	if n > 0 {
		c.writeBuf = c.writeBuf[n:]
	}
	if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
		c.setError(wserr.Wrap(wserr.CodeSendFailed, "write handshake request", err))
		c.setCommand(CmdInformDisconnected)
		return
	}
	if len(c.writeBuf) == 0 {
		c.recordEvent(journal.EventHandshakeSent, "")
		c.setCommand(CmdWaitHandshakeResponse)
	}
}

// stepWaitHandshakeResponse implements WAIT_HANDSHAKE_RESPONSE: accumulate
// bytes until "\r\n\r\n", validate the response, and either move to IDLE
// (dispatching on_connected) or INFORM_DISCONNECTED with the error set.
func (c *Conn) stepWaitHandshakeResponse() {
	buf := make([]byte, 4096)
	n, err := c.transportAdapter.Read(buf)
	if n > 0 {
		c.recvBuf.Append(buf[:n])
	}
	if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
		c.setError(wserr.Wrap(wserr.CodeRecvFailed, "read handshake response", err))
		c.setCommand(CmdInformDisconnected)
		return
	}

	resp, consumed, complete, perr := handshake.ParseResponse(c.recvBuf.Bytes())
	if perr != nil {
		c.setError(wserr.Wrap(wserr.CodeParseHandshake, "parse handshake response", perr))
		c.setCommand(CmdInformDisconnected)
		return
	}
	if !complete {
		return
	}

	if verr := handshake.Validate(resp, c.expectedAccept); verr != nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.HandshakeFailures.Add(1)
		}
		c.recordEvent(journal.EventHandshakeReject, verr.Error())
		c.setError(verr)
		c.setCommand(CmdInformDisconnected)
		return
	}

	c.recvBuf.Discard(consumed)
	c.isConnected.Store(true)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Connected.Store(1)
	}
	c.recordEvent(journal.EventHandshakeAccept, "")

	if c.cfg.Callbacks.OnConnected != nil {
		c.cfg.Callbacks.OnConnected()
	}
	c.setCommand(CmdIdle)
}

// stepIdleTick implements one IDLE tick (spec.md §4.G): read, decode+
// dispatch, drain+send. It returns true if the tick made I/O progress, so
// the caller can skip the poll sleep.
func (c *Conn) stepIdleTick() bool {
	progressed := false

	readBuf := make([]byte, 16*1024)
	n, err := c.transportAdapter.Read(readBuf)
	if n > 0 {
		c.recvBuf.Append(readBuf[:n])
		progressed = true
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.BytesReceived.Add(int64(n))
		}
	}
	if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
		c.setError(wserr.Wrap(wserr.CodeRecvFailed, "read frame stream", err))
		c.closeCode.Store(frame.StatusProtocolError)
		c.setCommand(CmdDisconnect)
		return true
	}

	for {
		f, consumed, derr := frame.Decode(c.recvBuf.Bytes())
		if errors.Is(derr, frame.ErrIncomplete) {
			break
		}
		if errors.Is(derr, frame.ErrMalformed) {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ProtocolErrors.Add(1)
			}
			c.setError(wserr.New(wserr.CodeFrameParse, "malformed frame"))
			c.closeCode.Store(frame.StatusProtocolError)
			c.requestClose()
			return true
		}
		c.recvBuf.Discard(consumed)
		progressed = true
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.FramesReceived.Add(1)
		}
		if !c.dispatch(f) {
			return true
		}
	}

	if c.flushSendQueue() {
		progressed = true
	}

	return progressed
}

// flushSendQueue drains the send queue and writes every frame to the
// transport, requeuing at the head on a partial write (spec.md §4.G step 3).
func (c *Conn) flushSendQueue() bool {
	progressed := false

	if len(c.writeBuf) > 0 {
		n, err := c.transportAdapter.Write(c.writeBuf)
		if n > 0 {
			c.writeBuf = c.writeBuf[n:]
			progressed = true
		}
		if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
			c.setError(wserr.Wrap(wserr.CodeSendFailed, "write frame", err))
			c.closeCode.Store(frame.StatusProtocolError)
			c.setCommand(CmdDisconnect)
			return true
		}
		if len(c.writeBuf) > 0 {
			return progressed
		}
	}

	c.sendMu.Lock()
	pending := c.sendQueue.DrainAll()
	c.sendMu.Unlock()

	for _, f := range pending {
		c.writeBuf = append(c.writeBuf, frame.Encode(f.Fin, f.Opcode, f.Payload, c.maskKey())...)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.FramesSent.Add(1)
			c.cfg.Metrics.BytesSent.Add(int64(len(f.Payload)))
		}
	}
	if len(c.writeBuf) == 0 {
		return progressed
	}

	n, err := c.transportAdapter.Write(c.writeBuf)
	if n > 0 {
		c.writeBuf = c.writeBuf[n:]
		progressed = true
	}
	if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
		c.setError(wserr.Wrap(wserr.CodeSendFailed, "write frame", err))
		c.closeCode.Store(frame.StatusProtocolError)
		c.setCommand(CmdDisconnect)
		return true
	}
	return progressed
}

func (c *Conn) maskKey() [4]byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], c.rng.Uint32())
	return key
}

// requestClose is the worker's own path to DISCONNECT (as opposed to the
// caller-facing RequestDisconnect): used when the worker itself decides the
// connection must end, e.g. on a protocol violation.
func (c *Conn) requestClose() {
	c.setCommand(CmdDisconnect)
}

// stepDisconnect implements DISCONNECT: send the close frame if one hasn't
// gone out yet, wait (best-effort) for the peer's echo or a timeout, close
// the transport, and move to INFORM_DISCONNECTED.
func (c *Conn) stepDisconnect() {
	if !c.sentClose && c.transportAdapter != nil {
		code := uint16(c.closeCode.Load())
		payload := make([]byte, 2)
		binary.BigEndian.PutUint16(payload, code)
		wire := frame.Encode(true, frame.OpClose, payload, c.maskKey())
		_, _ = writeFullBestEffort(c.transportAdapter, wire)
		c.sentClose = true
		c.recordEvent(journal.EventCloseCode, fmt.Sprintf("%d", code))
	}

	deadline := time.Now().Add(disconnectTimeout)
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := c.transportAdapter.Read(buf)
		if n > 0 {
			c.recvBuf.Append(buf[:n])
			for {
				f, consumed, derr := frame.Decode(c.recvBuf.Bytes())
				if derr != nil {
					break
				}
				c.recvBuf.Discard(consumed)
				if f.Opcode == frame.OpClose {
					goto closeTransport
				}
			}
		}
		if err != nil && !errors.Is(err, transport.ErrWouldBlock) {
			break
		}
		if err == nil && n == 0 {
			break
		}
		sleepPoll()
	}

closeTransport:
	if c.transportAdapter != nil {
		_ = c.transportAdapter.Close()
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Connected.Store(0)
	}
	c.isConnected.Store(false)
	c.setCommand(CmdInformDisconnected)
}

// stepInformDisconnected implements INFORM_DISCONNECTED: dispatch
// on_disconnected exactly once, then move to END.
func (c *Conn) stepInformDisconnected() {
	c.disconnectDone.Do(func() {
		c.recordEvent(journal.EventDisconnectReason, disconnectDetail(c.lastErr.Load()))
		if c.cfg.Callbacks.OnDisconnected != nil {
			c.cfg.Callbacks.OnDisconnected()
		}
	})
	c.setCommand(CmdEnd)
}

func disconnectDetail(err *wserr.Error) string {
	if err == nil {
		return "normal"
	}
	return err.Error()
}

// writeFullBestEffort attempts to write all of buf, tolerating WouldBlock up
// to a handful of short retries — used only for the outbound close frame,
// where losing a byte or two to a slow peer is acceptable.
func writeFullBestEffort(a *transport.Adapter, buf []byte) (int, error) {
	total := 0
	for attempt := 0; attempt < 50 && total < len(buf); attempt++ {
		n, err := a.Write(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				continue
			}
			return total, err
		}
	}
	return total, nil
}
