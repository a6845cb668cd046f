// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package server exposes the webhook endpoint the Bot API delivers updates
// to, plus health and admin surfaces.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/olegiv/onboardbot/internal/broadcast"
	"github.com/olegiv/onboardbot/internal/store"
	"github.com/olegiv/onboardbot/internal/transport"
)

// maxUpdateBytes bounds a webhook request body.
const maxUpdateBytes = 1 << 20

// UpdateHandler is the engine surface the server dispatches into.
type UpdateHandler interface {
	HandleStart(ctx context.Context, userID int64) error
	HandleCallback(ctx context.Context, userID int64, callbackID, data string) error
	HandleText(ctx context.Context, userID int64, text string) error
	HandleContact(ctx context.Context, userID int64, phone string) error
}

// Server routes webhook updates into the engine.
type Server struct {
	engine      UpdateHandler
	broadcaster *broadcast.Broadcaster
	queries     *store.Queries
	logger      *slog.Logger
	adminToken  string
}

// Options configures the server.
type Options struct {
	Engine      UpdateHandler
	Broadcaster *broadcast.Broadcaster
	Queries     *store.Queries
	Logger      *slog.Logger
	// AdminToken authorizes the admin endpoints; empty disables them.
	AdminToken string
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		engine:      opts.Engine,
		broadcaster: opts.Broadcaster,
		queries:     opts.Queries,
		logger:      opts.Logger,
		adminToken:  opts.AdminToken,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)

	if s.adminToken != "" {
		if s.broadcaster != nil {
			r.Post("/admin/broadcast", s.handleBroadcast)
		}
		if s.queries != nil {
			r.Get("/admin/broadcast/{id}", s.handleBroadcastStatus)
			r.Get("/admin/events", s.handleEvents)
		}
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleWebhook decodes one update and dispatches it. The Bot API retries
// on non-200 responses, so handler errors are logged and swallowed: a
// poison update must not wedge the queue.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update transport.Update
	body := io.LimitReader(r.Body, maxUpdateBytes)
	if err := json.NewDecoder(body).Decode(&update); err != nil {
		s.logger.Warn("undecodable update", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.dispatch(r.Context(), update); err != nil {
		s.logger.Error("update handling failed", "update_id", update.UpdateID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

// dispatch routes an update to the matching engine entry point.
func (s *Server) dispatch(ctx context.Context, update transport.Update) error {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		return s.engine.HandleCallback(ctx, cb.From.ID, cb.ID, cb.Data)

	case update.Message != nil && update.Message.Contact != nil:
		msg := update.Message
		return s.engine.HandleContact(ctx, msg.Chat.ID, msg.Contact.PhoneNumber)

	case update.Message != nil && strings.HasPrefix(update.Message.Text, "/start"):
		return s.engine.HandleStart(ctx, update.Message.Chat.ID)

	case update.Message != nil && update.Message.Text != "":
		return s.engine.HandleText(ctx, update.Message.Chat.ID, update.Message.Text)
	}

	// Joins, edits, stickers and the like are ignored.
	return nil
}

// broadcastRequest is the admin broadcast body.
type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	report, err := s.broadcaster.Send(r.Context(), req.Message)
	if err != nil {
		s.logger.Error("broadcast failed", "error", err)
		http.Error(w, "broadcast failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":        report.ID,
		"total":     report.Total,
		"delivered": report.Delivered,
		"failed":    report.Failed,
	})
}

// handleBroadcastStatus reports one run's stored state plus live per-user
// delivery counts, so an in-flight run shows progress before its final
// counters land.
func (s *Server) handleBroadcastStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	b, err := s.queries.GetBroadcast(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("loading broadcast failed", "id", id, "error", err)
		http.Error(w, "loading broadcast failed", http.StatusInternalServerError)
		return
	}

	sent, err := s.queries.CountDeliveries(r.Context(), id, store.DeliveryStatusSent)
	if err != nil {
		s.logger.Error("counting deliveries failed", "id", id, "error", err)
		http.Error(w, "counting deliveries failed", http.StatusInternalServerError)
		return
	}
	failed, err := s.queries.CountDeliveries(r.Context(), id, store.DeliveryStatusFailed)
	if err != nil {
		s.logger.Error("counting deliveries failed", "id", id, "error", err)
		http.Error(w, "counting deliveries failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     b.ID,
		"status": b.Status,
		"total":  b.Total,
		"sent":   sent,
		"failed": failed,
	})
}

// eventEntry is one admin event-log line.
type eventEntry struct {
	ID        int64  `json:"id"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	UserID    int64  `json:"user_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	events, err := s.queries.ListRecentEvents(r.Context(), 100)
	if err != nil {
		s.logger.Error("listing events failed", "error", err)
		http.Error(w, "listing events failed", http.StatusInternalServerError)
		return
	}

	out := make([]eventEntry, 0, len(events))
	for _, e := range events {
		entry := eventEntry{
			ID:        e.ID,
			Level:     e.Level,
			Category:  e.Category,
			Message:   e.Message,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if e.UserID.Valid {
			entry.UserID = e.UserID.Int64
		}
		out = append(out, entry)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == s.adminToken && auth != ""
}
