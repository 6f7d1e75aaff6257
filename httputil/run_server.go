package httputil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// NewServer returns http.Server with reasonable timeouts
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// RunServer serves on srv.Addr until ctx is cancelled, then shuts down
// gracefully, waiting at most shutdownTimeout for in-flight requests
func RunServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, srv, ln, shutdownTimeout)
}

// Serve is RunServer on an existing listener
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	chErr := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		// mute error caused by Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		chErr <- err
	}()

	select {
	case err := <-chErr:
		return err
	case <-ctx.Done():
	}

	// ctx is already done, Shutdown needs a fresh one
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = srv.Close()
	}
	if errServe := <-chErr; err == nil {
		err = errServe
	}
	return err
}
