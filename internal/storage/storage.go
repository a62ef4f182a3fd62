// Package storage persists sessions and their intermediate pipeline
// artifacts. The interface is injected into the orchestrator and the
// handlers so the core stays testable in isolation.
package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/ocr"
)

// Store is the session and artifact store contract. Updates are
// last-writer-wins; artifact writes before a later failure are kept and
// reused, never rolled back.
type Store interface {
	CreateSession(filename string, pdf []byte) (*models.AnalysisSession, error)
	GetSession(id string) (*models.AnalysisSession, bool)
	ListSessions() []*models.AnalysisSession
	UpdateSession(id string, stage models.Stage, status models.Status, progress int, message string) error
	AdvanceSession(id string, from, to models.Stage, status models.Status, progress int, message string) error
	SetTextOnly(id string) error

	GetDocument(id string) ([]byte, bool)
	PutImage(id, key string, data []byte)
	GetImage(id, key string) ([]byte, bool)
	PutOCR(id string, result *ocr.Result)
	GetOCR(id string) (*ocr.Result, bool)
	PutSymbols(id string, symbols []models.DetectedSymbol)
	GetSymbols(id string) ([]models.DetectedSymbol, bool)
	PutResult(id string, result *models.AnalysisResult) error
	GetResult(id string) (*models.AnalysisResult, bool)

	Cleanup(maxAge time.Duration) int
}

// MemoryStore keeps everything in process behind a single RWMutex.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.AnalysisSession
	documents map[string][]byte
	images    map[string][]byte // keyed "<session>/<key>"
	ocr       map[string]*ocr.Result
	symbols   map[string][]models.DetectedSymbol
	results   map[string]*models.AnalysisResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*models.AnalysisSession),
		documents: make(map[string][]byte),
		images:    make(map[string][]byte),
		ocr:       make(map[string]*ocr.Result),
		symbols:   make(map[string][]models.DetectedSymbol),
		results:   make(map[string]*models.AnalysisResult),
	}
}

// CreateSession stores the uploaded document and opens a new session in
// StageUploaded.
func (s *MemoryStore) CreateSession(filename string, pdf []byte) (*models.AnalysisSession, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	now := time.Now()
	session := &models.AnalysisSession{
		ID:        uuid.NewString(),
		Filename:  filename,
		Stage:     models.StageUploaded,
		Status:    models.StatusProcessing,
		Message:   "upload received",
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	s.documents[session.ID] = pdf
	return session, nil
}

func (s *MemoryStore) GetSession(id string) (*models.AnalysisSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	copied := *session
	return &copied, true
}

func (s *MemoryStore) ListSessions() []*models.AnalysisSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AnalysisSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		copied := *session
		out = append(out, &copied)
	}
	return out
}

// UpdateSession advances the session, validating the move against the
// stage transition table.
func (s *MemoryStore) UpdateSession(id string, stage models.Stage, status models.Status, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	if !session.Stage.CanTransition(stage) {
		return &models.ErrInvalidTransition{From: session.Stage, To: stage}
	}
	session.Stage = stage
	session.Status = status
	session.Progress = progress
	session.Message = message
	session.UpdatedAt = time.Now()
	return nil
}

// AdvanceSession is a compare-and-swap update: it moves the session out
// of the expected current stage, so of two concurrent resume calls at a
// human gate only one passes.
func (s *MemoryStore) AdvanceSession(id string, from, to models.Stage, status models.Status, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	if session.Stage != from {
		return fmt.Errorf("session %s is in stage %s, not %s", id, session.Stage, from)
	}
	if !session.Stage.CanTransition(to) {
		return &models.ErrInvalidTransition{From: session.Stage, To: to}
	}
	session.Stage = to
	session.Status = status
	session.Progress = progress
	session.Message = message
	session.UpdatedAt = time.Now()
	return nil
}

// SetTextOnly flags a session whose OCR fell back to plain text, so
// clients know geometry checks were skipped.
func (s *MemoryStore) SetTextOnly(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	session.TextOnly = true
	session.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetDocument(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	return doc, ok
}

func (s *MemoryStore) PutImage(id, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[id+"/"+key] = data
}

func (s *MemoryStore) GetImage(id, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.images[id+"/"+key]
	return data, ok
}

func (s *MemoryStore) PutOCR(id string, result *ocr.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ocr[id] = result
}

func (s *MemoryStore) GetOCR(id string) (*ocr.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.ocr[id]
	return result, ok
}

func (s *MemoryStore) PutSymbols(id string, symbols []models.DetectedSymbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[id] = symbols
}

func (s *MemoryStore) GetSymbols(id string) ([]models.DetectedSymbol, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols, ok := s.symbols[id]
	return symbols, ok
}

// PutResult stores the final aggregate. Results are immutable: a second
// write for the same session is rejected.
func (s *MemoryStore) PutResult(id string, result *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[id]; exists {
		return fmt.Errorf("result for session %s already stored", id)
	}
	s.results[id] = result
	return nil
}

func (s *MemoryStore) GetResult(id string) (*models.AnalysisResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	return result, ok
}

// Cleanup drops sessions (and their artifacts) idle longer than maxAge.
// Returns the number of sessions reclaimed.
func (s *MemoryStore) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.UpdatedAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		delete(s.documents, id)
		delete(s.ocr, id)
		delete(s.symbols, id)
		delete(s.results, id)
		for key := range s.images {
			if len(key) > len(id) && key[:len(id)] == id && key[len(id)] == '/' {
				delete(s.images, key)
			}
		}
		removed++
	}
	return removed
}
