package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/civilworks/drainscan/internal/detect"
	"github.com/civilworks/drainscan/internal/handlers"
	"github.com/civilworks/drainscan/internal/ocr"
	"github.com/civilworks/drainscan/internal/pipeline"
	"github.com/civilworks/drainscan/internal/storage"
	"github.com/civilworks/drainscan/internal/vision"
)

// defaultRetention is how long finished sessions are kept in memory
// before the cleanup sweep drops them. Override with
// DRAINSCAN_RETENTION_HOURS.
const defaultRetention = 24 * time.Hour

func newServeCmd() *cobra.Command {
	var port string
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the drainage-plan analysis server",
		Long: `Starts the analysis API on the specified port.

Uploaded plans are processed in the background; progress, validation and
verification all go through /api/sessions. The shape detector, image-ops
and OCR collaborators are located via DETECTOR_SERVICE_URL,
IMAGE_SERVICE_URL and OCR_SERVICE_URL.`,
		Example: `  # Start server on default port 8888
  drainscan serve

  # Start server on custom port with tuned thresholds
  drainscan serve --port 3000 --settings thresholds.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(settingsPath)
			if err != nil {
				return err
			}

			store := storage.NewMemoryStore()
			ops := vision.NewImageOps(os.Getenv("IMAGE_SERVICE_URL"))
			detector := vision.NewDetector(os.Getenv("DETECTOR_SERVICE_URL"))
			recognizer := ocr.NewService(ocr.NewClient(os.Getenv("OCR_SERVICE_URL")), ops)
			finder := detect.NewGuidedDetector(ops, detector, settings)
			orchestrator := pipeline.New(store, recognizer, finder, ops, settings)
			handler := handlers.New(store, orchestrator)

			// Set up routes
			mux := http.NewServeMux()
			mux.HandleFunc("/api/upload", handler.HandleUpload)
			mux.HandleFunc("/api/sessions", handler.HandleSessions)
			mux.HandleFunc("/api/sessions/", handler.HandleSessionDetail)
			mux.HandleFunc("/healthcheck", handler.HandleHealthcheck)

			addr := ":" + port
			server := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			// Drop expired sessions in the background.
			cleanupDone := make(chan struct{})
			go func() {
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-cleanupDone:
						return
					case <-ticker.C:
						if n := store.Cleanup(retention()); n > 0 {
							slog.Info("Dropped expired sessions", "count", n)
						}
					}
				}
			}()
			defer close(cleanupDone)

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Drainscan API available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().StringVar(&settingsPath, "settings", "", "YAML file overriding detection thresholds")

	return cmd
}

func loadSettings(path string) (detect.Settings, error) {
	if path == "" {
		path = os.Getenv("DRAINSCAN_SETTINGS")
	}
	if path == "" {
		return detect.DefaultSettings(), nil
	}
	return detect.LoadSettings(path)
}

func retention() time.Duration {
	raw := os.Getenv("DRAINSCAN_RETENTION_HOURS")
	if raw == "" {
		return defaultRetention
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		slog.Warn("Invalid DRAINSCAN_RETENTION_HOURS, using default", "value", raw)
		return defaultRetention
	}
	return time.Duration(hours) * time.Hour
}
