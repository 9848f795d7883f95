// Command wsclient-probe connects to a single WebSocket endpoint described
// by a YAML configuration file, logs every lifecycle event and received
// message, and exits cleanly on SIGTERM or SIGINT.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/duskline/wsclient/internal/config"
	"github.com/duskline/wsclient/internal/metrics"
	"github.com/duskline/wsclient/internal/transport"
	"github.com/duskline/wsclient"
)

func main() {
	configPath := flag.String("config", "/etc/wsclient/probe.yaml", "path to the wsclient-probe YAML configuration file")
	sendText := flag.String("send", "", "optional text message to send once connected")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsclient-probe: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	u, err := url.Parse(cfg.URL)
	if err != nil {
		logger.Error("invalid url", slog.String("url", cfg.URL), slog.Any("error", err))
		os.Exit(1)
	}
	host, port, err := splitHostPort(u)
	if err != nil {
		logger.Error("invalid url", slog.String("url", cfg.URL), slog.Any("error", err))
		os.Exit(1)
	}

	m := metrics.New()

	var tlsCfg transport.TLSConfig
	if cfg.TLS.CertPath != "" || cfg.TLS.CAPath != "" || cfg.TLS.Insecure {
		tlsCfg = transport.TLSConfig{
			CertFile: cfg.TLS.CertPath,
			KeyFile:  cfg.TLS.KeyPath,
			CAFile:   cfg.TLS.CAPath,
			Insecure: cfg.TLS.Insecure,
		}
	}

	opts := []wsclient.Option{
		wsclient.WithScheme(u.Scheme),
		wsclient.WithHost(host),
		wsclient.WithPort(port),
		wsclient.WithPath(requestPath(u)),
		wsclient.WithDialTimeout(cfg.DialTimeout),
		wsclient.WithLogger(logger),
		wsclient.WithMetrics(m),
		wsclient.WithOnConnected(func() { logger.Info("connected", slog.String("url", cfg.URL)) }),
		wsclient.WithOnDisconnected(func() { logger.Info("disconnected") }),
		wsclient.WithOnReceivedText(func(text string) { logger.Info("received text", slog.String("text", text)) }),
		wsclient.WithOnReceivedBin(func(data []byte) { logger.Info("received binary", slog.Int("bytes", len(data))) }),
	}
	if cfg.BearerToken != "" {
		opts = append(opts, wsclient.WithBearerToken(cfg.BearerToken))
	}
	if cfg.OutboxPath != "" {
		opts = append(opts, wsclient.WithOutboxPath(cfg.OutboxPath))
	}
	if cfg.JournalPath != "" {
		opts = append(opts, wsclient.WithJournalPath(cfg.JournalPath))
	}
	if tlsCfg != (transport.TLSConfig{}) {
		opts = append(opts, wsclient.WithTLS(tlsCfg))
	}

	c := wsclient.NewClient(opts...)
	if err := c.Connect(); err != nil {
		logger.Error("connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      m.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	if *sendText != "" {
		go func() {
			for !c.IsConnected() {
				time.Sleep(20 * time.Millisecond)
			}
			if err := c.SendText(*sendText); err != nil {
				logger.Warn("send failed", slog.Any("error", err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	c.DisconnectAndRelease(1000)
	_ = metricsServer.Close()

	logger.Info("wsclient-probe exited cleanly")
}

func splitHostPort(u *url.URL) (string, int, error) {
	host := u.Hostname()
	portStr := u.Port()
	if portStr == "" {
		switch u.Scheme {
		case "wss":
			portStr = "443"
		default:
			portStr = "80"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

func requestPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
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
