package wsconn

import (
	"testing"

	"github.com/duskline/wsclient/internal/frame"
)

func TestFragmentSmallPayloadIsSingleFrame(t *testing.T) {
	t.Parallel()

	frames := fragment(frame.OpText, []byte("hi"))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !frames[0].Fin || frames[0].Opcode != frame.OpText {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
}

func TestFragmentEmptyPayloadIsSingleFinFrame(t *testing.T) {
	t.Parallel()

	frames := fragment(frame.OpClose, nil)
	if len(frames) != 1 || !frames[0].Fin || frames[0].Opcode != frame.OpClose {
		t.Fatalf("unexpected frames for empty payload: %+v", frames)
	}
}

func TestFragmentLargePayloadSplitsWithContinuation(t *testing.T) {
	t.Parallel()

	payload := make([]byte, sendFragmentSize*2+5)
	frames := fragment(frame.OpBinary, payload)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if frames[0].Opcode != frame.OpBinary || frames[0].Fin {
		t.Fatalf("first fragment wrong: %+v", frames[0])
	}
	for _, f := range frames[1:2] {
		if f.Opcode != frame.OpContinuation || f.Fin {
			t.Fatalf("middle fragment wrong: %+v", f)
		}
	}
	last := frames[len(frames)-1]
	if last.Opcode != frame.OpContinuation || !last.Fin {
		t.Fatalf("last fragment wrong: %+v", last)
	}

	total := 0
	for _, f := range frames {
		total += len(f.Payload)
	}
	if total != len(payload) {
		t.Fatalf("reassembled length %d, want %d", total, len(payload))
	}
}

func TestRequestDisconnectFromIdleSetsCloseCode(t *testing.T) {
	t.Parallel()

	c := New(Config{Scheme: "ws", Host: "example.invalid", Port: 80, Path: "/"})
	c.setCommand(CmdIdle)

	c.RequestDisconnect(4001)

	if got := c.getCommand(); got != CmdDisconnect {
		t.Fatalf("command = %s, want DISCONNECT", got)
	}
	if got := c.closeCode.Load(); got != 4001 {
		t.Fatalf("closeCode = %d, want 4001", got)
	}
}

func TestRequestDisconnectDefaultsCloseCode(t *testing.T) {
	t.Parallel()

	c := New(Config{Scheme: "ws", Host: "example.invalid", Port: 80, Path: "/"})
	c.setCommand(CmdIdle)

	c.RequestDisconnect(0)

	if got := c.closeCode.Load(); got != 1000 {
		t.Fatalf("closeCode = %d, want default 1000", got)
	}
}

func TestRequestDisconnectIgnoredAfterEnd(t *testing.T) {
	t.Parallel()

	c := New(Config{Scheme: "ws", Host: "example.invalid", Port: 80, Path: "/"})
	c.setCommand(CmdEnd)

	c.RequestDisconnect(1000)

	if got := c.getCommand(); got != CmdEnd {
		t.Fatalf("command = %s, want unchanged END", got)
	}
}

func TestCommandStringCoversAllValues(t *testing.T) {
	t.Parallel()

	cmds := []Command{
		CmdNone, CmdConnectToHost, CmdSendHandshake, CmdWaitHandshakeResponse,
		CmdIdle, CmdDisconnect, CmdInformDisconnected, CmdEnd,
	}
	seen := map[string]bool{}
	for _, cmd := range cmds {
		s := cmd.String()
		if s == "UNKNOWN" || s == "" {
			t.Fatalf("command %d stringified to %q", cmd, s)
		}
		seen[s] = true
	}
	if len(seen) != len(cmds) {
		t.Fatalf("expected %d distinct names, got %d", len(cmds), len(seen))
	}
}
