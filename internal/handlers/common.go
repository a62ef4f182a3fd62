// Package handlers exposes the analysis pipeline over HTTP.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/pipeline"
	"github.com/civilworks/drainscan/internal/storage"
)

type Handler struct {
	store        storage.Store
	orchestrator *pipeline.Orchestrator
}

func New(store storage.Store, orchestrator *pipeline.Orchestrator) *Handler {
	return &Handler{
		store:        store,
		orchestrator: orchestrator,
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	http.Error(w, message, code)
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, sessionID string) (*models.AnalysisSession, bool) {
	session, exists := h.store.GetSession(sessionID)
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

// sessionPath splits "/api/sessions/{id}" or "/api/sessions/{id}/{action}"
// into the session ID and the remaining action path.
func sessionPath(urlPath string) (string, string) {
	rest := strings.TrimPrefix(urlPath, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func (h *Handler) HandleHealthcheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}
