package httpserver

import (
	"net/http"
	"time"

	"smartattend/internal/platform/config"
)

// New builds the process HTTP server from the configured timeouts. A zero
// ReadHeaderTimeout still gets a floor so a slow-header client cannot hold a
// connection open indefinitely.
func New(addr string, handler http.Handler, cfg config.HTTPConfig) *http.Server {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
