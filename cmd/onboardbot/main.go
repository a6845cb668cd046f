// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// onboardbot is the HR onboarding assistant: a messenger bot that renders
// the content base as a navigable menu tree, collects feedback forms, and
// answers phone-book lookups.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/olegiv/onboardbot/internal/access"
	"github.com/olegiv/onboardbot/internal/broadcast"
	"github.com/olegiv/onboardbot/internal/cache"
	"github.com/olegiv/onboardbot/internal/config"
	"github.com/olegiv/onboardbot/internal/engine"
	"github.com/olegiv/onboardbot/internal/logging"
	"github.com/olegiv/onboardbot/internal/model"
	"github.com/olegiv/onboardbot/internal/nav"
	"github.com/olegiv/onboardbot/internal/scheduler"
	"github.com/olegiv/onboardbot/internal/seatable"
	"github.com/olegiv/onboardbot/internal/server"
	"github.com/olegiv/onboardbot/internal/store"
	"github.com/olegiv/onboardbot/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "onboardbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.IsDevelopment(),
	}))
	slog.SetDefault(logger)

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	slog.Info("initializing database", "path", cfg.DBPath)
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready")

	// Upgrade logger to also write WARN and ERROR logs to the event log
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.IsDevelopment(),
	})
	logger = slog.New(logging.NewEventLogHandler(textHandler, db))
	slog.SetDefault(logger)

	ctx := context.Background()

	// Shared cache backend: Redis when configured, in-process otherwise.
	cacheBackend, err := cache.New(ctx, cache.Config{
		RedisURL:   cfg.RedisURL,
		Prefix:     cfg.CachePrefix,
		DefaultTTL: time.Duration(cfg.CacheTTL) * time.Second,
		MaxSize:    cfg.CacheMaxSize,
	})
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}
	slog.Info("cache ready", "redis", cfg.UseRedisCache())
	defer func() {
		if err := cacheBackend.Close(); err != nil {
			slog.Error("error closing cache", "error", err)
		}
	}()

	// Content store clients
	hrClient := seatable.New(cfg.SeaTableURL, cfg.HRAPIToken, logger)
	users := seatable.NewUsers(hrClient, cfg.UsersTable)

	var directorySource engine.RawSource = hrClient
	if cfg.DirectoryEnabled() {
		directorySource = seatable.New(cfg.SeaTableURL, cfg.ATSAPIToken, logger)
	}

	root := model.MenuScreen(cfg.MainMenuTable)
	gate := access.New(access.Options{
		Lookup:  users,
		Backend: cacheBackend,
		TTL:     time.Duration(cfg.CacheTTL) * time.Second,
		Root:    root,
	})

	sessions := nav.NewManager(nav.ManagerOptions{
		Root:    root,
		TTL:     time.Duration(cfg.SessionTTL) * time.Second,
		MaxSize: cfg.SessionMax,
	})
	defer sessions.Stop()

	sender := transport.NewTelegram(cfg.BotToken, logger, transport.TelegramOptions{})

	eng := engine.New(engine.Options{
		Sender:          sender,
		Content:         hrClient,
		Directory:       directorySource,
		Saver:           hrClient,
		Registrar:       users,
		Gate:            gate,
		Sessions:        sessions,
		RowCache:        cacheBackend,
		RowTTL:          time.Duration(cfg.RowCacheTTL) * time.Second,
		RootTable:       cfg.MainMenuTable,
		DirectoryMarker: cfg.DirectoryMarker,
		Logger:          logger,
	})

	queries := store.New(db)
	broadcaster := broadcast.New(broadcast.Options{
		Sender:  sender,
		Users:   users,
		Queries: queries,
		Logger:  logger,
	})

	// Periodic jobs
	var sched *scheduler.Scheduler
	if cfg.SyncEnabled() {
		sched = scheduler.New(scheduler.Options{
			DB:          db,
			Sync:        scheduler.NewSync(hrClient, cfg.HiresTable, cfg.UsersTable, logger),
			Logger:      logger,
			SyncSpec:    cfg.SyncSpec,
			CleanupSpec: cfg.CleanupSpec,
		})
		if err := sched.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()
	}

	if cfg.WebhookURL != "" {
		if err := sender.SetWebhook(ctx, cfg.WebhookURL); err != nil {
			return fmt.Errorf("registering webhook: %w", err)
		}
		slog.Info("webhook registered", "url", cfg.WebhookURL)
	}

	srv := &http.Server{
		Addr: cfg.ServerAddr(),
		Handler: server.New(server.Options{
			Engine:      eng,
			Broadcaster: broadcaster,
			Queries:     queries,
			Logger:      logger,
			AdminToken:  cfg.AdminToken,
		}).Router(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
