// Package detect implements guided symbol detection: expanding structure
// labels into search windows for the external shape detector, filtering
// the raw candidates, deduplicating overlapping detections and
// associating validated symbols with their labels.
package detect

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings collects every detection threshold under a name so the
// pipeline stays tunable without touching code. Distances are in pixels
// of the rendered page.
type Settings struct {
	// Search windows around structure labels.
	SearchMargin       float64 `yaml:"search_margin"`
	SearchMarginStrict float64 `yaml:"search_margin_strict"`
	DetectWorkers      int     `yaml:"detect_workers"`

	// Candidate filter.
	MinConfidence          float64 `yaml:"min_confidence"`
	MinConfidenceNoLabels  float64 `yaml:"min_confidence_no_labels"`
	MinSymbolSize          float64 `yaml:"min_symbol_size"`
	MaxSymbolSize          float64 `yaml:"max_symbol_size"`
	MaxSymbolSizeStrict    float64 `yaml:"max_symbol_size_strict"`
	MinSymbolArea          float64 `yaml:"min_symbol_area"`
	MaxSymbolArea          float64 `yaml:"max_symbol_area"`
	MinAspectRatio         float64 `yaml:"min_aspect_ratio"`
	MaxAspectRatio         float64 `yaml:"max_aspect_ratio"`
	CompactAreaFloor       float64 `yaml:"compact_area_floor"`
	MinCompactness         float64 `yaml:"min_compactness"`
	TextExclusionRadius    float64 `yaml:"text_exclusion_radius"`
	NoiseTokenRadius       float64 `yaml:"noise_token_radius"`
	MaxTextOverlap         float64 `yaml:"max_text_overlap"`
	MinSymbolSpacing       float64 `yaml:"min_symbol_spacing"`
	MaxLabelDistance       float64 `yaml:"max_label_distance"`
	MaxLabelDistanceStrict float64 `yaml:"max_label_distance_strict"`
	ProximityBoost         float64 `yaml:"proximity_boost"`
	MaxSymbols             int     `yaml:"max_symbols"`

	// Deduplication.
	DedupeCenterDistance float64 `yaml:"dedupe_center_distance"`
	DedupeAreaRatio      float64 `yaml:"dedupe_area_ratio"`

	// Module-label association.
	MaxAssociationDistance float64 `yaml:"max_association_distance"`
	AssociationBoost       float64 `yaml:"association_boost"`

	// Pipe reconstruction.
	MarkerToken        string  `yaml:"marker_token"`
	CollinearTolerance float64 `yaml:"collinear_tolerance"`
	VerticalEpsilon    float64 `yaml:"vertical_epsilon"`
	SegmentExtension   float64 `yaml:"segment_extension"`
	ShortRunLength     float64 `yaml:"short_run_length"`
	MaxShortRun        float64 `yaml:"max_short_run"`
	ConnectionDistance float64 `yaml:"connection_distance"`
	AngleTolerance     float64 `yaml:"angle_tolerance"`
	EndpointTolerance  float64 `yaml:"endpoint_tolerance"`
}

// DefaultSettings returns thresholds tuned for 1:100 drainage plans
// rendered at roughly 150 dpi.
func DefaultSettings() Settings {
	return Settings{
		SearchMargin:       120,
		SearchMarginStrict: 80,
		DetectWorkers:      4,

		MinConfidence:          0.80,
		MinConfidenceNoLabels:  0.90,
		MinSymbolSize:          10,
		MaxSymbolSize:          150,
		MaxSymbolSizeStrict:    100,
		MinSymbolArea:          120,
		MaxSymbolArea:          22500,
		MinAspectRatio:         0.25,
		MaxAspectRatio:         4.0,
		CompactAreaFloor:       6000,
		MinCompactness:         0.55,
		TextExclusionRadius:    15,
		NoiseTokenRadius:       30,
		MaxTextOverlap:         0.4,
		MinSymbolSpacing:       40,
		MaxLabelDistance:       150,
		MaxLabelDistanceStrict: 100,
		ProximityBoost:         0.10,
		MaxSymbols:             50,

		DedupeCenterDistance: 20,
		DedupeAreaRatio:      0.30,

		MaxAssociationDistance: 200,
		AssociationBoost:       0.10,

		MarkerToken:        "VU",
		CollinearTolerance: 10,
		VerticalEpsilon:    1.0,
		SegmentExtension:   30,
		ShortRunLength:     40,
		MaxShortRun:        60,
		ConnectionDistance: 30,
		AngleTolerance:     10,
		EndpointTolerance:  50,
	}
}

// LoadSettings overlays a YAML file onto the defaults. An empty path
// returns the defaults unchanged.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return settings, nil
}
