// Command wsecho runs the test/demo echo WebSocket server used to exercise
// wsclient against a real peer: it upgrades every request, echoes TEXT and
// BINARY messages back verbatim, and answers PING with PONG.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duskline/wsclient/internal/wstest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8765", "address to listen on")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	echo := wstest.NewEchoServer(logger)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      echo.Handler(),
		ReadTimeout:  0, // long-lived upgraded connections
		WriteTimeout: 0,
	}

	go func() {
		logger.Info("wsecho listening", slog.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown error", slog.Any("error", err))
	}

	logger.Info("wsecho exited cleanly")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
