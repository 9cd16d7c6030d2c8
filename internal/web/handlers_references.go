package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/JonMunkholm/imoveis/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) handleListReferences(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListReferences(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.ReferenceEntry{}
	}
	writeJSON(w, map[string]any{"entries": entries})
}

// handleResolveReference runs the resolver for ?name= and reports the id,
// or null when the name resolves to unset. Resolution may synthesize the
// category default, so this is not a pure read.
func (s *Server) handleResolveReference(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	name := r.URL.Query().Get("name")

	id, err := s.service.ResolveReference(r.Context(), category, name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"category": category,
		"name":     strings.TrimSpace(name),
		"id":       id,
	})
}

// handleDependents lists the tables a record deletion touches.
func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	deps, err := s.service.DiscoverDependents(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if deps == nil {
		deps = []core.Dependent{}
	}
	writeJSON(w, map[string]any{"table": core.RecordsTable, "dependents": deps})
}

// reconnectRequest carries optional pool overrides. Omitted fields keep
// the current settings.
type reconnectRequest struct {
	URL      string `json:"url"`
	MaxConns int    `json:"maxConns"`
	MinConns int    `json:"minConns"`
}

// handleReconnect swaps the connection pool. Operations already running
// finish on the old pool.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var req reconnectRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "REQ002", "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	err := s.db.Reconfigure(ctx, database.Settings{
		URL:      strings.TrimSpace(req.URL),
		MaxConns: req.MaxConns,
		MinConns: req.MinConns,
	})
	if err != nil {
		slog.Error("database reconnect failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "DB004", "reconnect failed; the previous pool is still in use")
		return
	}

	name := s.db.DatabaseName()
	s.service.RecordAudit(WithRequestMetadata(r.Context(), r), core.AuditLogParams{
		Action:  core.ActionDatabaseReconnect,
		Details: map[string]any{"database": name, "urlChanged": req.URL != ""},
	})
	writeJSON(w, map[string]string{"status": "reconnected", "database": name})
}
