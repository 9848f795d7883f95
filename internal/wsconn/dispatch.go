package wsconn

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/duskline/wsclient/internal/frame"
	"github.com/duskline/wsclient/internal/wserr"
)

// dispatch handles one decoded frame during an IDLE tick (spec.md §4.G /
// §3's control-frame and fragmentation rules). It returns false if the
// connection is being torn down as a result (so the caller should stop
// decoding further frames this tick), true otherwise.
func (c *Conn) dispatch(f *frame.Frame) bool {
	switch {
	case f.Opcode == frame.OpPing:
		c.replyPong(f.Payload)
		return true

	case f.Opcode == frame.OpPong:
		return true

	case f.Opcode == frame.OpClose:
		c.handlePeerClose(f.Payload)
		return false

	case f.Opcode == frame.OpText, f.Opcode == frame.OpBinary, f.Opcode == frame.OpContinuation:
		return c.dispatchDataFrame(f)

	default:
		c.protocolViolation("unknown opcode")
		return false
	}
}

// replyPong answers a PING with a PONG carrying the identical payload,
// queued ahead of any pending application data (spec.md §3: "control frames
// take priority over queued data frames").
func (c *Conn) replyPong(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.sendQueue.PushFront(&frame.Frame{Fin: true, Opcode: frame.OpPong, Payload: payload})
}

// handlePeerClose answers a peer-initiated CLOSE by echoing its status code
// (or 1000 if none was sent) and moving straight to DISCONNECT; stepDisconnect
// will see sentClose still false and perform the actual write.
func (c *Conn) handlePeerClose(payload []byte) {
	code := uint16(frame.StatusNormal)
	if len(payload) >= 2 {
		code = binary.BigEndian.Uint16(payload[:2])
	}
	c.closeCode.Store(int32(code))
	c.setError(wserr.New(wserr.CodePeerClosed, "peer sent close frame"))
	c.setCommand(CmdDisconnect)
}

func (c *Conn) protocolViolation(detail string) {
	c.protocolViolationWithStatus(detail, frame.StatusProtocolError)
}

func (c *Conn) protocolViolationWithStatus(detail string, status int) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ProtocolErrors.Add(1)
	}
	c.setError(wserr.New(wserr.CodeProtocol, detail))
	c.closeCode.Store(int32(status))
	c.setCommand(CmdDisconnect)
}

// dispatchDataFrame feeds one TEXT/BINARY/CONTINUATION frame into the
// in-flight reassembly buffer (spec.md §3's fragmentation rule: an initial
// TEXT or BINARY frame starts a message, zero or more CONTINUATION frames
// extend it, and the frame with Fin=1 completes it). It returns false if a
// protocol violation ended the connection.
func (c *Conn) dispatchDataFrame(f *frame.Frame) bool {
	if f.Opcode == frame.OpContinuation {
		if !c.nextMessage.active {
			c.protocolViolation("continuation frame with no active message")
			return false
		}
	} else {
		if c.nextMessage.active {
			c.protocolViolation("new data frame while a fragmented message is in progress")
			return false
		}
		c.nextMessage.active = true
		c.nextMessage.opcode = f.Opcode
		c.nextMessage.payload = c.nextMessage.payload[:0]
	}

	c.nextMessage.payload = append(c.nextMessage.payload, f.Payload...)

	if !f.Fin {
		return true
	}

	opcode := c.nextMessage.opcode
	payload := c.nextMessage.payload
	c.nextMessage = reassembly{}

	if opcode == frame.OpText && !utf8.Valid(payload) {
		c.protocolViolationWithStatus("invalid UTF-8 in text message", frame.StatusInvalidPayload)
		return false
	}

	switch opcode {
	case frame.OpText:
		if c.cfg.Callbacks.OnReceivedText != nil {
			c.cfg.Callbacks.OnReceivedText(payload)
		}
	case frame.OpBinary:
		if c.cfg.Callbacks.OnReceivedBin != nil {
			c.cfg.Callbacks.OnReceivedBin(payload)
		}
	}
	return true
}
