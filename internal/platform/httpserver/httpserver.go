// Package httpserver runs the webhook listener.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/config"
)

// New builds the server from cfg. Connection-level errors (bad TLS
// handshakes, malformed requests) are logged at warn. Request contexts
// derive from base, so cancelling it signals in-flight handlers.
func New(base context.Context, cfg config.ServerConfig, handler http.Handler, log *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: orDefault(cfg.ReadHeaderTimeout, config.DefaultReadHeaderTimeout),
		ReadTimeout:       orDefault(cfg.ReadTimeout, config.DefaultReadTimeout),
		WriteTimeout:      orDefault(cfg.WriteTimeout, config.DefaultWriteTimeout),
		IdleTimeout:       orDefault(cfg.IdleTimeout, config.DefaultIdleTimeout),
		MaxHeaderBytes:    orDefault(cfg.MaxHeaderBytes, config.DefaultMaxHeaderBytes),
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return base },
	}
}

// Start serves srv on ln in the background. The channel carries at most
// one error and is closed once the server stops; a graceful Shutdown
// closes it without an error.
func Start(srv *http.Server, ln net.Listener, log *slog.Logger) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		log.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	return errc
}

// Listen opens the TCP listener for cfg.Addr so bind errors surface
// before any background work starts.
func Listen(cfg config.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", cfg.Addr)
}

func orDefault[T int | ~int64](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
