package detect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettingsDefaults(t *testing.T) {
	settings, err := LoadSettings("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.MinConfidence != 0.80 {
		t.Errorf("MinConfidence = %v, want 0.80", settings.MinConfidence)
	}
	if settings.MarkerToken != "VU" {
		t.Errorf("MarkerToken = %q, want VU", settings.MarkerToken)
	}
}

func TestLoadSettingsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "min_confidence: 0.7\nmarker_token: HP\nmax_symbols: 10\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.MinConfidence != 0.7 {
		t.Errorf("MinConfidence = %v, want 0.7", settings.MinConfidence)
	}
	if settings.MarkerToken != "HP" {
		t.Errorf("MarkerToken = %q, want HP", settings.MarkerToken)
	}
	if settings.MaxSymbols != 10 {
		t.Errorf("MaxSymbols = %d, want 10", settings.MaxSymbols)
	}
	// Untouched fields keep their defaults.
	if settings.MaxLabelDistance != 150 {
		t.Errorf("MaxLabelDistance = %v, want default 150", settings.MaxLabelDistance)
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	if _, err := LoadSettings("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
