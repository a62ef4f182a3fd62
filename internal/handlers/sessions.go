package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/civilworks/drainscan/internal/models"
)

func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, h.store.ListSessions())
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSessionDetail dispatches /api/sessions/{id} and its sub-resources:
// validate, verify, result, symbols and images/{key}.
func (h *Handler) HandleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sessionID, action := sessionPath(r.URL.Path)
	session, ok := h.getSessionOrError(w, sessionID)
	if !ok {
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.writeJSON(w, session)
	case action == "symbols" && r.Method == http.MethodGet:
		h.handleSymbols(w, sessionID)
	case action == "validate" && r.Method == http.MethodPost:
		h.handleValidate(w, r, sessionID)
	case action == "verify" && r.Method == http.MethodPost:
		h.handleVerify(w, r, sessionID)
	case action == "result" && r.Method == http.MethodGet:
		h.handleResult(w, sessionID)
	case strings.HasPrefix(action, "images/") && r.Method == http.MethodGet:
		h.handleImage(w, sessionID, strings.TrimPrefix(action, "images/"))
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSymbols(w http.ResponseWriter, sessionID string) {
	symbols, ok := h.store.GetSymbols(sessionID)
	if !ok {
		h.writeError(w, "Symbols not available yet", http.StatusNotFound)
		return
	}
	h.writeJSON(w, symbols)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request, sessionID string) {
	var request struct {
		Decisions map[string]bool `json:"decisions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.orchestrator.SubmitValidation(r.Context(), sessionID, request.Decisions); err != nil {
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	}
	session, _ := h.store.GetSession(sessionID)
	h.writeJSON(w, session)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request, sessionID string) {
	var request struct {
		Confirmed []string `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.orchestrator.SubmitVerification(r.Context(), sessionID, request.Confirmed); err != nil {
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	}
	session, _ := h.store.GetSession(sessionID)
	h.writeJSON(w, session)
}

func (h *Handler) handleResult(w http.ResponseWriter, sessionID string) {
	result, ok := h.store.GetResult(sessionID)
	if !ok {
		session, _ := h.store.GetSession(sessionID)
		if session != nil && session.Stage != models.StageCompleted {
			h.writeError(w, "Analysis not complete", http.StatusConflict)
			return
		}
		h.writeError(w, "Result not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, result)
}

func (h *Handler) handleImage(w http.ResponseWriter, sessionID, key string) {
	key, err := url.PathUnescape(key)
	if err != nil {
		h.writeError(w, "Invalid image key", http.StatusBadRequest)
		return
	}
	data, ok := h.store.GetImage(sessionID, key)
	if !ok {
		h.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	if _, err := w.Write(data); err != nil {
		return
	}
}
