package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/go-chi/chi/v5"
)

// MaxBodySize bounds a record payload.
const MaxBodySize = 1 << 20

// decodeJSON reads at most MaxBodySize bytes of JSON into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeRecord reads a RecordInput from the request body.
func decodeRecord(w http.ResponseWriter, r *http.Request) (core.RecordInput, bool) {
	var in core.RecordInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "REQ002", "invalid request body")
		return in, false
	}
	return in, true
}

// handleCreateRecord creates a record and returns its id.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.CreateRecord(ctx, in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/records/"+result.ID)
	writeJSONStatus(w, http.StatusCreated, result)
}

// handleUpdateRecord overwrites a record.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	ctx := WithRequestMetadata(r.Context(), r)
	if err := s.service.UpdateRecord(ctx, id, in); err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, map[string]string{"id": id, "status": "updated"})
}

// handleDeleteRecord deletes a record. Pass cascade=true to delete its
// children too; without it a record with children answers 409 listing them.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	cascade, err := parseBoolParam(r, "cascade")
	if err != nil {
		writeError(w, http.StatusBadRequest, "REQ002", "cascade must be true or false")
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.DeleteRecord(ctx, chi.URLParam(r, "id"), cascade)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, struct {
		core.DeleteResult
		Total int64 `json:"total"`
	}{result, result.Total()})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, rec)
}

// handleListRecords lists record summaries.
// Query: matricula (prefix), parentId, principal=true, limit, offset.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principal, err := parseBoolParam(r, "principal")
	if err != nil {
		writeError(w, http.StatusBadRequest, "REQ002", "principal must be true or false")
		return
	}

	list, err := s.service.ListRecords(r.Context(), core.RecordFilter{
		MatriculaPrefix: q.Get("matricula"),
		ParentID:        q.Get("parentId"),
		PrincipalOnly:   principal,
		Limit:           parseIntParam(r, "limit", core.DefaultListLimit),
		Offset:          parseOffsetParam(r),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []core.RecordSummary{}
	}
	writeJSON(w, map[string]any{"records": list, "count": len(list)})
}

func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	h, err := s.service.GetHierarchy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, h)
}

// handleRecordAudit returns the audit trail of one record.
func (s *Server) handleRecordAudit(w http.ResponseWriter, r *http.Request) {
	s.writeAudit(w, r, chi.URLParam(r, "id"))
}

// handleAuditLog returns the audit trail, optionally filtered by action.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	s.writeAudit(w, r, r.URL.Query().Get("recordId"))
}

func (s *Server) writeAudit(w http.ResponseWriter, r *http.Request, recordID string) {
	entries, err := s.service.AuditLog(r.Context(), core.AuditLogOptions{
		RecordID: recordID,
		Action:   core.AuditAction(r.URL.Query().Get("action")),
		Limit:    parseIntParam(r, "limit", core.DefaultAuditLimit),
		Offset:   parseOffsetParam(r),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.AuditEntry{}
	}
	writeJSON(w, map[string]any{"entries": entries, "count": len(entries)})
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func parseOffsetParam(r *http.Request) int {
	i, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || i < 0 {
		return 0
	}
	return i
}

// parseBoolParam parses a boolean query parameter; absent means false.
func parseBoolParam(r *http.Request, name string) (bool, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return false, nil
	}
	return strconv.ParseBool(val)
}
