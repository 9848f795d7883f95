//go:build !windows

package transport

import (
	"os/signal"
	"syscall"
)

// ignoreSIGPIPEPlatform ignores SIGPIPE process-wide so a write to a socket
// the peer has already reset surfaces as an EPIPE error on the failing
// Write call instead of terminating the process — the same reasoning
// librws's rws_socketpub.c documents for installing a SIG_IGN handler
// before the first connect.
func ignoreSIGPIPEPlatform() {
	signal.Ignore(syscall.SIGPIPE)
}
