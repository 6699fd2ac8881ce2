// SPDX-License-Identifier: Apache-2.0

// relay-broker accepts credential requests from page agents over a websocket
// and relays each one to a freshly started credential-helper process. A
// request that the helper does not answer within the timeout fails and the
// helper is killed.
//
// Usage:
//
//	relay-broker [flags]
//
// Flags:
//
//	--listen          addr      Listen address (default: 127.0.0.1:47615)
//	--helper-path     path      Path to credential-helper (default: auto-discover)
//	--timeout         duration  Per-request deadline (default: 10s)
//	--allowed-origin  origin    Accepted agent origin; repeatable ("*" for any)
//
// Endpoints:
//
//	/messages  websocket carrying {id, request} / {id, response} envelopes
//	/healthz   pings the helper; 200 when it answers, 503 otherwise
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/akihiro/login-autofill/internal/broker"
	"github.com/akihiro/login-autofill/internal/channel"
	"github.com/akihiro/login-autofill/internal/config"
	"github.com/akihiro/login-autofill/internal/logging"
	"github.com/akihiro/login-autofill/internal/protocol"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay-broker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("relay-broker", pflag.ContinueOnError)
	flags.StringVar(&cfg.Broker.Listen, "listen", cfg.Broker.Listen, "listen address")
	flags.StringVar(&cfg.Broker.HelperPath, "helper-path", cfg.Broker.HelperPath, "path to credential-helper (auto-discovered if empty)")
	flags.DurationVar(&cfg.Broker.Timeout, "timeout", cfg.Broker.Timeout, "per-request deadline")
	flags.StringSliceVar(&cfg.Broker.AllowedOrigins, "allowed-origin", cfg.Broker.AllowedOrigins, "accepted agent origin")
	flags.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger, err := logging.New("relay-broker", cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	connector, err := broker.NewProcessConnector(cfg.Broker.HelperPath, cfg.Broker.HelperArgs, logger)
	if err != nil {
		return err
	}
	b := broker.New(connector, broker.WithTimeout(cfg.Broker.Timeout), broker.WithLogger(logger))

	mux := http.NewServeMux()
	mux.Handle("/messages", channel.NewServer(b, cfg.Broker.AllowedOrigins, logger.Named("channel")))
	mux.HandleFunc("GET /healthz", healthz(b))

	srv := &http.Server{
		Addr:              cfg.Broker.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Broker.Listen),
			zap.String("helper", connector.Path),
			zap.Duration("timeout", cfg.Broker.Timeout),
			zap.Strings("allowed_origins", cfg.Broker.AllowedOrigins))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Int("active_sessions", b.Active()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// Websocket connections are hijacked and outlive srv.Shutdown; aborting
	// the sessions kills any helper still running.
	b.Shutdown()
	return nil
}

func healthz(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := b.Respond(r.Context(), protocol.Request{Action: protocol.ActionPing})
		w.Header().Set("Content-Type", "application/json")
		if !resp.Success {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
