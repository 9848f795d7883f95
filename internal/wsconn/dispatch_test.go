package wsconn

import (
	"testing"

	"github.com/duskline/wsclient/internal/frame"
)

func newTestConn() *Conn {
	return New(Config{Scheme: "ws", Host: "example.invalid", Port: 80, Path: "/"})
}

func TestDispatchPingQueuesPongAtHead(t *testing.T) {
	t.Parallel()

	c := newTestConn()
	c.sendQueue.PushBack(&frame.Frame{Fin: true, Opcode: frame.OpText, Payload: []byte("queued")})

	if !c.dispatch(&frame.Frame{Fin: true, Opcode: frame.OpPing, Payload: []byte("ping-data")}) {
		t.Fatalf("dispatch(PING) should not signal teardown")
	}

	front := c.sendQueue.PopFront()
	if front.Opcode != frame.OpPong || string(front.Payload) != "ping-data" {
		t.Fatalf("expected PONG echoing ping-data at head, got %+v", front)
	}
}

func TestDispatchCloseMovesToDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConn()
	c.setCommand(CmdIdle)

	ok := c.dispatch(&frame.Frame{Fin: true, Opcode: frame.OpClose, Payload: []byte{0x03, 0xE9}}) // 1001
	if ok {
		t.Fatalf("dispatch(CLOSE) should signal teardown")
	}
	if c.getCommand() != CmdDisconnect {
		t.Fatalf("command = %s, want DISCONNECT", c.getCommand())
	}
	if c.closeCode.Load() != 1001 {
		t.Fatalf("closeCode = %d, want 1001", c.closeCode.Load())
	}
}

func TestDispatchReassemblesFragmentedText(t *testing.T) {
	t.Parallel()

	var got string
	c := newTestConn()
	c.cfg.Callbacks.OnReceivedText = func(text []byte) { got = string(text) }

	if !c.dispatch(&frame.Frame{Fin: false, Opcode: frame.OpText, Payload: []byte("hel")}) {
		t.Fatalf("first fragment should not signal teardown")
	}
	if !c.dispatch(&frame.Frame{Fin: false, Opcode: frame.OpContinuation, Payload: []byte("lo ")}) {
		t.Fatalf("middle fragment should not signal teardown")
	}
	if !c.dispatch(&frame.Frame{Fin: true, Opcode: frame.OpContinuation, Payload: []byte("world")}) {
		t.Fatalf("final fragment should not signal teardown")
	}
	if got != "hello world" {
		t.Fatalf("reassembled text = %q, want %q", got, "hello world")
	}
	if c.nextMessage.active {
		t.Fatalf("reassembly state should be cleared after Fin")
	}
}

func TestDispatchInvalidUTF8ClosesWithProtocolError(t *testing.T) {
	t.Parallel()

	c := newTestConn()
	ok := c.dispatch(&frame.Frame{Fin: true, Opcode: frame.OpText, Payload: []byte{0xff, 0xfe, 0xfd}})
	if ok {
		t.Fatalf("invalid UTF-8 should signal teardown")
	}
	if c.getCommand() != CmdDisconnect {
		t.Fatalf("command = %s, want DISCONNECT", c.getCommand())
	}
	if c.closeCode.Load() != frame.StatusInvalidPayload && c.closeCode.Load() != frame.StatusProtocolError {
		t.Fatalf("closeCode = %d, want an invalid-payload or protocol-error status", c.closeCode.Load())
	}
}

func TestDispatchContinuationWithoutStartIsProtocolError(t *testing.T) {
	t.Parallel()

	c := newTestConn()
	ok := c.dispatch(&frame.Frame{Fin: true, Opcode: frame.OpContinuation, Payload: []byte("orphan")})
	if ok {
		t.Fatalf("orphan continuation should signal teardown")
	}
	if c.getCommand() != CmdDisconnect {
		t.Fatalf("command = %s, want DISCONNECT", c.getCommand())
	}
	if c.LastError() == nil {
		t.Fatalf("expected LastError to be set")
	}
}

func TestDispatchPongIsIgnored(t *testing.T) {
	t.Parallel()

	c := newTestConn()
	if !c.dispatch(&frame.Frame{Fin: true, Opcode: frame.OpPong, Payload: []byte("x")}) {
		t.Fatalf("dispatch(PONG) should not signal teardown")
	}
	if c.sendQueue.Len() != 0 {
		t.Fatalf("PONG should not enqueue anything, queue len = %d", c.sendQueue.Len())
	}
}
