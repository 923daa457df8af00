package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"duck-sandbox/internal/app"
	"duck-sandbox/internal/config"
	internaldb "duck-sandbox/internal/db"
	"duck-sandbox/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file (if present)
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Warn("could not load .env", "error", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	// Open the DuckDB warehouse; an empty path is an in-memory database.
	duckDB, err := sql.Open("duckdb", cfg.DuckDBPath)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer duckDB.Close() //nolint:errcheck

	// writeDB: single-connection pool for serialized writes.
	// readDB:  pooled connections for concurrent reads.
	logger.Info("opening metastore", "path", cfg.MetaDBPath)
	writeDB, readDB, err := internaldb.OpenMetastore(ctx, cfg.MetaDBPath, 4)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer writeDB.Close() //nolint:errcheck
	defer readDB.Close()  //nolint:errcheck

	application, err := app.New(ctx, app.Deps{
		Cfg:     cfg,
		DuckDB:  duckDB,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Metrics: observability.NewMetrics(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer application.Close() //nolint:errcheck
	if err := application.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           application.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "tls", cfg.TLSCertFile != "")
		logger.Info("try: curl " + healthURL(cfg.ListenAddr, cfg.TLSCertFile != ""))
		if cfg.TLSCertFile != "" {
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// healthURL is the /health URL a local client can reach for listenAddr.
// Wildcard binds are reported as localhost.
func healthURL(listenAddr string, tls bool) string {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	hostPort := strings.TrimSpace(listenAddr)
	if hostPort == "" {
		hostPort = ":8080"
	}
	if host, port, err := net.SplitHostPort(hostPort); err == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		hostPort = net.JoinHostPort(host, port)
	}
	return scheme + "://" + hostPort + "/health"
}
