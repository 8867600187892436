package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer listens until the server is shut down. http.ErrServerClosed
// is not reported as an error.
func StartServer(server *http.Server, logger *slog.Logger) error {
	logger.Info("http.listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting
// active requests, waiting up to timeout.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("http.shutdown_started")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http.shutdown_failed", "err", err)
		return err
	}

	logger.Info("http.shutdown_completed")
	return nil
}
