// Package models holds the entities shared between the pipeline stages,
// the session store and the HTTP handlers.
package models

import (
	"fmt"
	"time"

	"github.com/civilworks/drainscan/internal/geometry"
)

// Stage is the orchestrator's current phase in the analysis pipeline.
type Stage string

const (
	StageUploaded             Stage = "uploaded"
	StageOCRExtracting        Stage = "ocr_extracting"
	StageSymbolDetecting      Stage = "symbol_detecting"
	StageAwaitingValidation   Stage = "awaiting_validation"
	StageAnalyzing            Stage = "analyzing"
	StageAwaitingVerification Stage = "awaiting_verification"
	StageCompleted            Stage = "completed"
	StageError                Stage = "error"
)

// stageTransitions is the closed transition table. Every non-terminal
// stage may also move to StageError.
var stageTransitions = map[Stage][]Stage{
	StageUploaded:             {StageOCRExtracting},
	StageOCRExtracting:        {StageSymbolDetecting},
	StageSymbolDetecting:      {StageAwaitingValidation},
	StageAwaitingValidation:   {StageAnalyzing},
	StageAnalyzing:            {StageAwaitingVerification, StageCompleted},
	StageAwaitingVerification: {StageAnalyzing},
	StageCompleted:            {},
	StageError:                {},
}

// CanTransition reports whether moving from s to next is legal.
func (s Stage) CanTransition(next Stage) bool {
	if next == s {
		return true
	}
	if next == StageError {
		return !s.Terminal()
	}
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the session is finished.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// Status is the human-facing session state.
type Status string

const (
	StatusProcessing                 Status = "processing"
	StatusReadyForValidation         Status = "ready_for_validation"
	StatusAwaitingModuleVerification Status = "awaiting_module_verification"
	StatusCompleted                  Status = "completed"
	StatusError                      Status = "error"
)

// AnalysisSession tracks one uploaded drawing through the pipeline.
// Only the orchestrator mutates it, through the session store.
type AnalysisSession struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	TextOnly  bool      `json:"text_only,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SymbolKind is the closed set of structure symbols the detector reports.
type SymbolKind string

const (
	SymbolDoubleRectangle SymbolKind = "double_rectangle"
	SymbolCircleGrid      SymbolKind = "circle_with_grid"
	SymbolOval            SymbolKind = "oval"
	SymbolUnknown         SymbolKind = "unknown"
)

// ParseSymbolKind maps a detector class name onto the closed kind set.
func ParseSymbolKind(class string) SymbolKind {
	switch class {
	case "double_rectangle", "rectangle", "catch_basin":
		return SymbolDoubleRectangle
	case "circle_with_grid", "circle", "manhole":
		return SymbolCircleGrid
	case "oval", "ellipse":
		return SymbolOval
	default:
		return SymbolUnknown
	}
}

// DetectedSymbol is one shape-detector candidate. Created by the guided
// detector, refined by the filter and deduplicator, validated once by a
// human, then associated with a structure label.
type DetectedSymbol struct {
	ID           string        `json:"id"`
	Kind         SymbolKind    `json:"kind"`
	Box          geometry.BBox `json:"box"`
	Confidence   float64       `json:"confidence"`
	SourceLabel  string        `json:"source_label,omitempty"`
	NearestLabel string        `json:"nearest_label,omitempty"`
	Validated    *bool         `json:"validated,omitempty"`
	CropKey      string        `json:"crop_key,omitempty"`
}

// LineMarkerLabel is one OCR word matched as a repeating pipe-run marker.
// Immutable once extracted.
type LineMarkerLabel struct {
	Text       string         `json:"text"`
	Box        geometry.BBox  `json:"box"`
	Center     geometry.Point `json:"center"`
	Confidence float64        `json:"confidence"`
}

// Pipe is a reconstructed pipe run: a fitted segment plus the markers
// that produced it.
type Pipe struct {
	ID            string            `json:"id"`
	Segment       geometry.Segment  `json:"segment"`
	Markers       []LineMarkerLabel `json:"markers"`
	Confidence    float64           `json:"confidence"`
	Specification string            `json:"specification,omitempty"`
	Verified      bool              `json:"verified"`
}

// Module is a human-confirmed structure: symbol plus its structure label.
type Module struct {
	Symbol   DetectedSymbol `json:"symbol"`
	Label    string         `json:"label,omitempty"`
	Location geometry.Point `json:"location"`
}

// AnalysisResult is the immutable aggregate stored once per session.
type AnalysisResult struct {
	Modules          []Module         `json:"modules"`
	Pipes            []Pipe           `json:"pipes"`
	Ambiguities      []DetectedSymbol `json:"ambiguities,omitempty"`
	ModuleConfidence float64          `json:"module_confidence"`
	PipeConfidence   float64          `json:"pipe_confidence"`
}

// ErrInvalidTransition is returned by the store when an update would
// violate the stage table.
type ErrInvalidTransition struct {
	From, To Stage
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid stage transition %s -> %s", e.From, e.To)
}
