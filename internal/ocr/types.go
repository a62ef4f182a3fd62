// Package ocr models the text-recognition output for a rendered drawing
// and extracts the structure labels and pipe-run markers that drive
// guided symbol detection.
package ocr

import (
	"strings"

	"github.com/civilworks/drainscan/internal/geometry"
)

// Word is a single recognized token with its position.
type Word struct {
	Text       string        `json:"text"`
	Box        geometry.BBox `json:"bbox"`
	Confidence float64       `json:"confidence"`
}

// Line is a recognized text line.
type Line struct {
	Text       string        `json:"text"`
	Box        geometry.BBox `json:"bbox"`
	Confidence float64       `json:"confidence"`
	Words      []Word        `json:"words"`
}

// Page is one recognized page of the document.
type Page struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Lines  []Line  `json:"lines"`
}

// Result is the structured recognition output for a document. TextOnly
// marks results rebuilt from plain text extraction: word confidences are
// placeholders and bounding boxes are empty, so geometry-based filtering
// must be skipped downstream.
type Result struct {
	Pages    []Page `json:"pages"`
	TextOnly bool   `json:"text_only,omitempty"`
}

// Words flattens all pages into a single word list.
func (r *Result) Words() []Word {
	var words []Word
	for _, page := range r.Pages {
		for _, line := range page.Lines {
			words = append(words, line.Words...)
		}
	}
	return words
}

// placeholderConfidence is assigned to words recovered from plain text,
// where the extractor reports no per-word score.
const placeholderConfidence = 0.5

// FromPlainText wraps raw extracted text into a degraded one-page Result.
// Every whitespace-separated token becomes a word with an empty bounding
// box and a placeholder confidence.
func FromPlainText(text string) *Result {
	page := Page{}
	for _, lineText := range strings.Split(text, "\n") {
		line := Line{Text: lineText, Confidence: placeholderConfidence}
		for _, tok := range strings.Fields(lineText) {
			line.Words = append(line.Words, Word{Text: tok, Confidence: placeholderConfidence})
		}
		if len(line.Words) > 0 {
			page.Lines = append(page.Lines, line)
		}
	}
	return &Result{Pages: []Page{page}, TextOnly: true}
}
