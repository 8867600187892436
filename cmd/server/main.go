package main

import (
	"context"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func main() {
	// A missing .env file is fine outside development.
	envErr := godotenv.Load()

	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(cfg.Log.Format, cfg.Log.Level, os.Stdout)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("config.no_env_file", "err", envErr)
	}
	cfg.Sanitize(logger)

	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
		MaxConns:    cfg.Store.MaxConns,
		SQLitePath:  cfg.Store.SQLitePath,
	}, logger)
	if err != nil {
		logger.Error("store.open_failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	logger.Info("store.opened", "driver", cfg.Store.Driver)

	srv, err := server.New(cfg, st, logger)
	if err != nil {
		logger.Error("server.init_failed", "err", err)
		_ = st.Close()
		os.Exit(1)
	}
	srv.Start()

	httpServer := server.CreateServer(cfg.Port, srv.Routes())
	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Error("http.serve_failed", "err", err)
			os.Exit(1)
		}
	}()

	// Operations run concurrently; each one waits for what it depends on.
	httpDone := make(chan struct{})
	hubDone := make(chan struct{})
	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(context.Context) error {
				defer close(httpDone)
				return server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)
			},
			"hub": func(ctx context.Context) error {
				defer close(hubDone)
				select {
				case <-httpDone:
				case <-ctx.Done():
				}
				return srv.Shutdown(cfg.ShutdownTimeout)
			},
			"store": func(ctx context.Context) error {
				select {
				case <-hubDone:
				case <-ctx.Done():
				}
				return st.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("server.exited", "code", exitCode)
	os.Exit(exitCode)
}
