package httpserver

import (
	"context"
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Shutdown blocks until ctx is cancelled, then drains the server within
// timeout.
func Shutdown(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	<-ctx.Done()
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(drainCtx)
}
