package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged server-side with the request ID and returned to the
// client as JSON with a user-friendly message and a support code. The HTTP
// status follows the error kind reported by the core package.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/imoveis/internal/core"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code, Kind) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error    string              `json:"error"`
	Message  string              `json:"message"`
	Action   string              `json:"action,omitempty"`
	Code     string              `json:"code"`
	Kind     core.ErrorKind      `json:"kind,omitempty"`
	Details  string              `json:"details,omitempty"`
	Children []core.ChildSummary `json:"children,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindInvalidReference:
		return http.StatusUnprocessableEntity
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindDuplicateKey, core.KindConflictHasChildren:
		return http.StatusConflict
	case core.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the JSON error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	resp := ErrorResponse{
		Error:    userMsg.Message,
		Message:  userMsg.Message,
		Action:   userMsg.Action,
		Code:     userMsg.Code,
		Kind:     core.KindOf(err),
		Children: core.ChildrenOf(err),
	}
	// Client errors carry the domain message verbatim.
	if status < http.StatusInternalServerError && resp.Kind != "" {
		resp.Details = err.Error()
	}
	writeJSONStatus(w, status, resp)
}

// writeError writes a JSON error response for failures detected in the
// web layer itself, before any service call.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSONStatus(w, status, ErrorResponse{Error: message, Message: message, Code: code})
}

// writeJSON encodes v as JSON with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
