//go:build windows

package transport

// ignoreSIGPIPEPlatform is a no-op on Windows: there is no SIGPIPE signal to
// ignore, and net.Conn write errors already surface as ordinary errors.
func ignoreSIGPIPEPlatform() {}
