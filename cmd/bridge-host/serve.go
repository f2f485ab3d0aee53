// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Query-farm/native-bridge/bridge"
	bridgeprom "github.com/Query-farm/native-bridge/bridge/prom"
	"github.com/Query-farm/native-bridge/demo"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 5 * time.Second
	metricsPath     = "/__metrics"
)

type serveFlags struct {
	host        string
	httpPorts   string
	socketPorts string
	origin      string
	cookieName  string
	cookieToken string
	enforce     bool
	compression bool
	logLevel    string
	logFormat   string
	tracing     string
	metrics     bool
}

func serveCmd(configPath *string) *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge transports",
		Long: `Start the HTTP call transport and the WebSocket push transport.

Both listeners bind to the first free port of their range. The chosen
URLs are printed to stdout as HTTP:<url> and SOCKET:<url> lines.

Examples:
  bridge-host serve
  bridge-host serve --http-ports=0 --socket-ports=0
  bridge-host serve --cookie-name=bridge --cookie-token=s3cret --enforce-cookie`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.host, "host", "H", "", "Host to bind to (default from config)")
	fl.StringVar(&f.httpPorts, "http-ports", "", "HTTP port range, e.g. 8400-8419, or 0 for any")
	fl.StringVar(&f.socketPorts, "socket-ports", "", "WebSocket port range, e.g. 8420-8439, or 0 for any")
	fl.StringVar(&f.origin, "origin", "", "Allowed CORS origin (default *)")
	fl.StringVar(&f.cookieName, "cookie-name", "", "Authorization cookie name")
	fl.StringVar(&f.cookieToken, "cookie-token", "", "Authorization cookie token")
	fl.BoolVar(&f.enforce, "enforce-cookie", false, "Reject calls failing the cookie check")
	fl.BoolVar(&f.compression, "compress", false, "Gzip responses")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	fl.StringVar(&f.tracing, "tracing", "", "Trace exporter: none or stdout")
	fl.BoolVar(&f.metrics, "metrics", false, "Serve Prometheus metrics at "+metricsPath)

	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *Config) error {
	fl := cmd.Flags()
	if fl.Changed("host") {
		cfg.Host = f.host
	}
	if fl.Changed("http-ports") {
		r, err := parsePortRange(f.httpPorts)
		if err != nil {
			return fmt.Errorf("--http-ports: %w", err)
		}
		cfg.HTTP = r
	}
	if fl.Changed("socket-ports") {
		r, err := parsePortRange(f.socketPorts)
		if err != nil {
			return fmt.Errorf("--socket-ports: %w", err)
		}
		cfg.Socket = r
	}
	if fl.Changed("origin") {
		cfg.Origin = f.origin
	}
	if fl.Changed("cookie-name") {
		cfg.Cookie.Name = f.cookieName
	}
	if fl.Changed("cookie-token") {
		cfg.Cookie.Token = f.cookieToken
	}
	if fl.Changed("enforce-cookie") {
		cfg.Cookie.Enforce = f.enforce
	}
	if fl.Changed("compress") {
		cfg.Compression = f.compression
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if fl.Changed("tracing") {
		cfg.Tracing = f.tracing
	}
	if fl.Changed("metrics") {
		cfg.Metrics = f.metrics
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBridge creates the dispatcher with the demo handlers registered.
func newBridge(cfg *Config, logger *slog.Logger) (*bridge.Server, error) {
	server := bridge.NewServer()
	id := cfg.ServerID
	if id == "" {
		id = "bridge-host-" + uuid.NewString()[:8]
	}
	server.SetServerID(id)
	server.SetLogger(logger)

	delay, err := cfg.ScanDelay()
	if err != nil {
		return nil, err
	}
	err = demo.Register(server, demo.Options{
		ScanCodes:   cfg.Demo.ScanCodes,
		ScanDelay:   delay,
		FrameWidth:  cfg.Demo.FrameWidth,
		FrameHeight: cfg.Demo.FrameHeight,
	})
	if err != nil {
		server.Close()
		return nil, err
	}
	return server, nil
}

func runServe(ctx context.Context, cfg *Config, stdout io.Writer) error {
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	server, err := newBridge(cfg, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	shutdownTelemetry, err := setupTelemetry(server, cfg.Tracing, os.Stderr)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	httpTransport := bridge.NewHttpServer(server)
	httpTransport.SetAuthorizer(&bridge.Authorizer{
		Name:    cfg.Cookie.Name,
		Token:   cfg.Cookie.Token,
		Origin:  cfg.Origin,
		Enforce: cfg.Cookie.Enforce,
	})
	httpTransport.SetCompression(cfg.Compression)
	httpTransport.SetTitle(server.ServerID())

	if cfg.Metrics {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		bridgeprom.Instrument(server, bridgeprom.WithRegistry(registry))
		httpTransport.Mount(metricsPath, bridgeprom.Handler(registry))
	}

	socketListener, err := bridge.ListenLocal(cfg.Host, cfg.Socket.First, cfg.Socket.Last)
	if err != nil {
		return fmt.Errorf("socket transport: %w", err)
	}
	httpListener, err := bridge.ListenLocal(cfg.Host, cfg.HTTP.First, cfg.HTTP.Last)
	if err != nil {
		socketListener.Close()
		return fmt.Errorf("http transport: %w", err)
	}

	socketTransport := bridge.NewSocketServer(server)
	// Connect calls may arrive as soon as the HTTP listener is up.
	server.SetSocketURL(socketURL(socketListener))

	errCh := make(chan error, 2)
	go func() { errCh <- socketTransport.Serve(socketListener) }()
	go func() { errCh <- httpTransport.Serve(httpListener) }()

	fmt.Fprintf(stdout, "HTTP:http://%s\n", httpListener.Addr())
	fmt.Fprintf(stdout, "SOCKET:%s\n", socketURL(socketListener))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("transport stopped", "err", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = errors.Join(
		serveErr,
		httpTransport.Shutdown(shutdownCtx),
		socketTransport.Shutdown(shutdownCtx),
		shutdownTelemetry(shutdownCtx),
	)
	return err
}

func socketURL(l net.Listener) string {
	return "ws://" + l.Addr().String()
}
