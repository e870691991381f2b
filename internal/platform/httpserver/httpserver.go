// Package httpserver builds the HTTP server with sane defaults for this
// project.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

const shutdownGrace = 15 * time.Second

// New builds an HTTP server. Write timeout stays generous because a forced
// reconciliation waits on the deposit service's compute step.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

// Shutdown drains in-flight requests with a bounded grace period.
func Shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}
