package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
)

// maxUploadSize bounds uploaded documents at 32MB; scanned drawings run
// large.
const maxUploadSize = 32 * 1024 * 1024

// HandleUpload accepts a drainage-plan PDF as multipart form field "file"
// and starts the background analysis. The optional "labels" field is a
// comma-separated list of structure tags restricting guided detection
// (e.g. "S-1,S-2"). Responds 202 with the new session.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(data) >= maxUploadSize {
		h.writeError(w, "File too large (max 32MB)", http.StatusBadRequest)
		return
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		h.writeError(w, "Only PDF documents are accepted", http.StatusBadRequest)
		return
	}

	var allow []string
	if raw := r.FormValue("labels"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				allow = append(allow, tag)
			}
		}
	}

	session, err := h.store.CreateSession(header.Filename, data)
	if err != nil {
		h.writeError(w, "Failed to create session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Analysis outlives the request.
	h.orchestrator.Start(context.Background(), session.ID, allow)

	w.WriteHeader(http.StatusAccepted)
	h.writeJSON(w, session)
}
