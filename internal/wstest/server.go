package wstest

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

// Server wraps an EchoServer bound to a loopback listener, for use from
// integration tests that need a real TCP address to dial.
type Server struct {
	ln  net.Listener
	srv *http.Server
}

// Listen starts an EchoServer on a random loopback port and returns once it
// is accepting connections. Call Close to shut it down.
func Listen(logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	echo := NewEchoServer(logger)
	httpSrv := &http.Server{Handler: echo.Handler()}

	go func() {
		_ = httpSrv.Serve(ln)
	}()

	return &Server{ln: ln, srv: httpSrv}, nil
}

// Addr returns the "host:port" the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Hostname returns the loopback host portion of Addr, for callers that need
// to pass host and port to a dialer separately.
func (s *Server) Hostname() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the TCP port portion of Addr.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Close shuts the server down, closing in-flight connections.
func (s *Server) Close() error {
	return s.srv.Shutdown(context.Background())
}
