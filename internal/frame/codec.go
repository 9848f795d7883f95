package frame

import (
	"encoding/binary"
	"errors"
	"math"
)

// Bitmasks for the first two header bytes, named the way the teacher's own
// raw frame parser names them (internal/server/websocket/handler.go).
const (
	finBit  = byte(0x80)
	rsvBits = byte(0x70)
	opMask  = byte(0x0F)
	maskBit = byte(0x80)
	len7Bit = byte(0x7F)
)

// ErrIncomplete is returned by Decode when buf does not yet contain a full
// frame. The caller should wait for more bytes from the transport and retry
// — it is not a protocol violation.
var ErrIncomplete = errors.New("frame: incomplete")

// ErrMalformed is returned by Decode when buf contains bytes that can never
// form a valid frame (bad RSV bits, an oversized or fragmented control
// frame, or an unrecognised opcode).
var ErrMalformed = errors.New("frame: malformed")

// Encode serialises fin/opcode/payload into a fully masked client frame
// using maskKey, per spec.md §4.C. Control frames (ping/pong/close) must
// have fin=true and len(payload) <= MaxControlPayload; Encode panics if that
// invariant is violated since it indicates a bug in the caller (the codec is
// never handed attacker-controlled outbound data — the library itself
// constructs every outbound control frame).
func Encode(fin bool, opcode Opcode, payload []byte, maskKey [4]byte) []byte {
	if opcode.IsControl() && (!fin || len(payload) > MaxControlPayload) {
		panic("frame: invalid control frame")
	}

	out := make([]byte, 0, 14+len(payload))

	b0 := byte(opcode) & opMask
	if fin {
		b0 |= finBit
	}
	out = append(out, b0)

	n := len(payload)
	switch {
	case n <= 125:
		out = append(out, maskBit|byte(n))
	case n <= math.MaxUint16:
		out = append(out, maskBit|126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		out = append(out, ext[:]...)
	default:
		out = append(out, maskBit|127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		out = append(out, ext[:]...)
	}

	out = append(out, maskKey[:]...)

	masked := make([]byte, n)
	for i, c := range payload {
		masked[i] = c ^ maskKey[i%4]
	}
	out = append(out, masked...)
	return out
}

// Decode parses one frame from the head of buf. On success it returns the
// frame and the number of bytes consumed from buf. ErrIncomplete means buf
// holds a valid-so-far prefix that needs more bytes; ErrMalformed means buf
// can never be completed into a valid frame and the connection must be
// failed.
func Decode(buf []byte) (f *Frame, consumed int, err error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}

	b0, b1 := buf[0], buf[1]
	if b0&rsvBits != 0 {
		return nil, 0, ErrMalformed
	}

	fin := b0&finBit != 0
	opcode := Opcode(b0 & opMask)
	switch opcode {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
	default:
		return nil, 0, ErrMalformed
	}

	masked := b1&maskBit != 0
	payloadLen := uint64(b1 & len7Bit)
	off := 2

	switch payloadLen {
	case 126:
		if len(buf) < off+2 {
			return nil, 0, ErrIncomplete
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[off:]))
		off += 2
		if payloadLen <= 125 {
			return nil, 0, ErrMalformed
		}
	case 127:
		if len(buf) < off+8 {
			return nil, 0, ErrIncomplete
		}
		payloadLen = binary.BigEndian.Uint64(buf[off:])
		off += 8
		if payloadLen <= math.MaxUint16 {
			return nil, 0, ErrMalformed
		}
		if payloadLen > math.MaxInt64 {
			return nil, 0, ErrMalformed
		}
	}

	if opcode.IsControl() && (!fin || payloadLen > MaxControlPayload) {
		return nil, 0, ErrMalformed
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < off+4 {
			return nil, 0, ErrIncomplete
		}
		copy(maskKey[:], buf[off:off+4])
		off += 4
	}

	if uint64(len(buf)-off) < payloadLen {
		return nil, 0, ErrIncomplete
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[off:uint64(off)+payloadLen])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	off += int(payloadLen)

	return &Frame{Fin: fin, Opcode: opcode, Payload: payload}, off, nil
}
