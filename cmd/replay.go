package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/civilworks/drainscan/internal/detect"
	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/network"
	"github.com/civilworks/drainscan/internal/ocr"
)

// replayReport is the YAML document replay prints: enough to see which
// filter stage ate a candidate and what the reconstructor made of the
// markers.
type replayReport struct {
	Labels      []ocr.StructureLabel    `yaml:"labels"`
	Markers     int                     `yaml:"markers"`
	Materials   int                     `yaml:"materials"`
	Diagnostics detect.Diagnostics      `yaml:"diagnostics"`
	Symbols     []models.DetectedSymbol `yaml:"symbols"`
	Pipes       []models.Pipe           `yaml:"pipes"`
}

func newReplayCmd() *cobra.Command {
	var candidatesPath string
	var settingsPath string
	var marker string

	cmd := &cobra.Command{
		Use:   "replay <ocr-result.json>",
		Short: "Re-run filtering and reconstruction on captured service output",
		Long: `Replay re-runs the candidate filter and pipe reconstruction offline,
from a captured OCR result and (optionally) captured detector candidates.

Use it to tune thresholds: the report shows per-stage rejection counts,
so lowering a threshold in the settings file and replaying shows exactly
which candidates it recovers.`,
		Example: `  # Inspect label and marker extraction only
  drainscan replay session-ocr.json

  # Replay the full filter with tuned thresholds
  drainscan replay session-ocr.json --candidates detections.json --settings thresholds.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(settingsPath)
			if err != nil {
				return err
			}
			if marker != "" {
				settings.MarkerToken = marker
			}

			var result ocr.Result
			if err := readJSON(args[0], &result); err != nil {
				return fmt.Errorf("failed to read OCR result: %w", err)
			}

			var candidates []models.DetectedSymbol
			if candidatesPath != "" {
				if err := readJSON(candidatesPath, &candidates); err != nil {
					return fmt.Errorf("failed to read candidates: %w", err)
				}
			}

			labels := ocr.ExtractStructureLabels(&result, settings.MarkerToken)
			markers, materials := ocr.ExtractLineMarkers(&result, settings.MarkerToken)

			report := replayReport{
				Labels:    labels,
				Markers:   len(markers),
				Materials: len(materials),
			}

			if len(candidates) > 0 {
				opts := detect.FilterOptions{
					Labels:           labels,
					Words:            result.Words(),
					RequireProximity: len(labels) > 0,
					SkipGeometry:     result.TextOnly,
				}
				accepted, diags := detect.Filter(candidates, opts, settings)
				report.Symbols = detect.Deduplicate(accepted, settings)
				report.Diagnostics = diags
			}

			report.Pipes = network.New(settings).Reconstruct(markers, nil, materials)

			out, err := yaml.Marshal(report)
			if err != nil {
				return fmt.Errorf("failed to render report: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&candidatesPath, "candidates", "", "JSON file of captured detector candidates")
	cmd.Flags().StringVar(&settingsPath, "settings", "", "YAML file overriding detection thresholds")
	cmd.Flags().StringVar(&marker, "marker", "", "Pipe-run marker token (default VU)")

	return cmd
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
