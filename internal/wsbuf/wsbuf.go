// Package wsbuf implements the growable receive buffer the worker
// accumulates raw TCP bytes into before the frame codec can parse complete
// frames out of it. It is a thin wrapper around a byte slice rather than a
// straight bytes.Buffer because the worker needs to peek at and discard
// arbitrary prefixes (a parsed frame, or the consumed bytes of an HTTP
// response) without the read/write-cursor semantics of bytes.Buffer getting
// in the way.
package wsbuf

// Buffer is a growable byte accumulator. The zero value is ready to use.
// Not safe for concurrent use — per spec.md §5 it is owned exclusively by
// the connection worker goroutine.
type Buffer struct {
	data []byte
}

// Len returns the number of unconsumed bytes currently buffered.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the unconsumed bytes. The returned slice is only valid until
// the next call to Append or Discard.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Append copies p onto the end of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Discard removes the first n bytes from the buffer. It panics if n exceeds
// Len — callers are expected to only discard bytes they have already
// accounted for (a decoded frame's consumed length, or a parsed handshake's
// header length).
func (b *Buffer) Discard(n int) {
	if n > len(b.data) {
		panic("wsbuf: discard exceeds buffered length")
	}
	if n == len(b.data) {
		b.data = b.data[:0]
		return
	}
	copy(b.data, b.data[n:])
	b.data = b.data[:len(b.data)-n]
}

// Reset empties the buffer without releasing its backing array.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Index returns the offset of the first occurrence of sep in the buffered
// bytes, or -1 if sep has not been fully received yet.
func (b *Buffer) Index(sep []byte) int {
	return indexBytes(b.data, sep)
}

func indexBytes(haystack, needle []byte) int {
	n, m := len(haystack), len(needle)
	if m == 0 {
		return 0
	}
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if string(haystack[i:i+m]) == string(needle) {
			return i
		}
	}
	return -1
}

// CloneBytes returns an owned copy of p — used whenever a frame payload or
// buffered slice must outlive the buffer it was carved from (e.g. handed to
// a user callback or stored in next_message).
func CloneBytes(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
