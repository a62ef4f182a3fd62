package ocr

import (
	"regexp"
	"strings"

	"github.com/civilworks/drainscan/internal/geometry"
	"github.com/civilworks/drainscan/internal/models"
)

// DefaultMarkerToken is the recurring text token printed along pipe runs
// on typical drainage drawings.
const DefaultMarkerToken = "VU"

// structureTagPattern matches structure tags like S-12, M7 or KB-3: one
// or two letters, an optional hyphen, then up to three digits.
var structureTagPattern = regexp.MustCompile(`^[A-Za-z]{1,2}-?\d{1,3}$`)

// StructureLabel is an OCR word recognized as a structure tag.
type StructureLabel struct {
	Text       string        `json:"text"`
	Normalized string        `json:"normalized"`
	Box        geometry.BBox `json:"box"`
	Confidence float64       `json:"confidence"`
}

// MaterialWord is a marker-token-plus-digits word such as VU100, used to
// annotate pipe material and diameter.
type MaterialWord struct {
	Text string        `json:"text"`
	Box  geometry.BBox `json:"box"`
}

// NormalizeTag upper-cases a structure tag and drops the hyphen so that
// S-12, s12 and S12 all compare equal.
func NormalizeTag(tag string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(tag)), "-", "")
}

// ExtractStructureLabels returns every word matching the structure-tag
// pattern. Words whose letter prefix is the marker token (VU100 and the
// like) are material annotations, not structure tags, and are skipped so
// the two vocabularies stay disjoint. Empty input yields an empty slice.
func ExtractStructureLabels(result *Result, markerToken string) []StructureLabel {
	var labels []StructureLabel
	if result == nil {
		return labels
	}
	for _, w := range result.Words() {
		text := strings.TrimSpace(w.Text)
		if !IsStructureTag(text, markerToken) {
			continue
		}
		labels = append(labels, StructureLabel{
			Text:       text,
			Normalized: NormalizeTag(text),
			Box:        w.Box,
			Confidence: w.Confidence,
		})
	}
	return labels
}

// ExtractLineMarkers returns every word equal to the marker token
// (case-insensitive, surrounding punctuation ignored) as a pipe-run
// marker, and every token-plus-digits word (e.g. VU100) as a material
// annotation.
func ExtractLineMarkers(result *Result, token string) ([]models.LineMarkerLabel, []MaterialWord) {
	var markers []models.LineMarkerLabel
	var materials []MaterialWord
	if result == nil {
		return markers, materials
	}
	if token == "" {
		token = DefaultMarkerToken
	}
	token = strings.ToUpper(token)
	materialPattern := regexp.MustCompile(`^` + regexp.QuoteMeta(token) + `\d{2,4}$`)

	for _, w := range result.Words() {
		text := strings.ToUpper(strings.Trim(w.Text, " .,:;()"))
		switch {
		case text == token:
			markers = append(markers, models.LineMarkerLabel{
				Text:       w.Text,
				Box:        w.Box,
				Center:     w.Box.Center(),
				Confidence: w.Confidence,
			})
		case materialPattern.MatchString(text):
			materials = append(materials, MaterialWord{Text: text, Box: w.Box})
		}
	}
	return markers, materials
}

// IsStructureTag reports whether a word is a structure tag: it matches
// the tag pattern and its letter prefix is not the marker token. Used by
// the filter's text-overlap stage to avoid rejecting candidates that sit
// next to their own label.
func IsStructureTag(text, markerToken string) bool {
	text = strings.TrimSpace(text)
	if !structureTagPattern.MatchString(text) {
		return false
	}
	if markerToken == "" {
		markerToken = DefaultMarkerToken
	}
	return !strings.EqualFold(letterPrefix(text), markerToken)
}

func letterPrefix(text string) string {
	for i, r := range text {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return text[:i]
		}
	}
	return text
}
