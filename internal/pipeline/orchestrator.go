// Package pipeline sequences one analysis session through its stages:
// OCR, guided symbol detection, the human validation gate, module
// association, the module verification gate and pipe-network
// reconstruction. The pipeline suspends at the two human gates by
// returning; an explicit Submit call re-enters at the next stage.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/civilworks/drainscan/internal/detect"
	"github.com/civilworks/drainscan/internal/geometry"
	"github.com/civilworks/drainscan/internal/models"
	"github.com/civilworks/drainscan/internal/network"
	"github.com/civilworks/drainscan/internal/ocr"
	"github.com/civilworks/drainscan/internal/storage"
)

// pageImageKey is the storage key of the rendered first page.
const pageImageKey = "page"

// Recognizer runs the text-recognition fallback chain.
type Recognizer interface {
	Extract(ctx context.Context, pageImage, pdf []byte) (*ocr.Result, error)
}

// SymbolFinder produces raw symbol candidates, guided or whole-image.
type SymbolFinder interface {
	Detect(ctx context.Context, page []byte, imgW, imgH float64, labels []ocr.StructureLabel, allow []string) ([]models.DetectedSymbol, error)
	DetectWholeImage(ctx context.Context, page []byte) ([]models.DetectedSymbol, error)
}

// ImageService is the slice of the image-ops collaborator the
// orchestrator uses directly.
type ImageService interface {
	RenderPage(ctx context.Context, pdf []byte, pageNum int) ([]byte, error)
	Crop(ctx context.Context, img []byte, box geometry.BBox) ([]byte, error)
	DetectLines(ctx context.Context, img []byte) []geometry.Segment
}

// Orchestrator owns the session lifecycle. All collaborators are
// injected; there is no global state.
type Orchestrator struct {
	store      storage.Store
	recognizer Recognizer
	finder     SymbolFinder
	images     ImageService
	settings   detect.Settings
}

// New wires an orchestrator.
func New(store storage.Store, recognizer Recognizer, finder SymbolFinder, images ImageService, settings detect.Settings) *Orchestrator {
	return &Orchestrator{
		store:      store,
		recognizer: recognizer,
		finder:     finder,
		images:     images,
		settings:   settings,
	}
}

// Start launches the detached background task for a freshly created
// session. Allow restricts guided detection to the given structure tags
// (matched ignoring case and hyphens); nil means all labels.
func (o *Orchestrator) Start(ctx context.Context, sessionID string, allow []string) {
	go func() {
		if err := o.runDetection(ctx, sessionID, allow); err != nil {
			o.fail(sessionID, err)
		}
	}()
}

// runDetection covers upload through the validation gate.
func (o *Orchestrator) runDetection(ctx context.Context, sessionID string, allow []string) error {
	pdf, ok := o.store.GetDocument(sessionID)
	if !ok {
		return fmt.Errorf("document for session %s missing", sessionID)
	}

	if err := o.update(sessionID, models.StageOCRExtracting, models.StatusProcessing, 10, "extracting text"); err != nil {
		return err
	}

	page, err := o.images.RenderPage(ctx, pdf, 1)
	if err != nil {
		// Recognition can still run on the raw document.
		slog.Warn("Page rendering failed, continuing without image", "session", sessionID, "err", err)
		page = nil
	} else {
		o.store.PutImage(sessionID, pageImageKey, page)
	}

	result, err := o.recognizer.Extract(ctx, page, pdf)
	if err != nil {
		return fmt.Errorf("text extraction failed: %w", err)
	}
	o.store.PutOCR(sessionID, result)
	if result.TextOnly {
		if err := o.store.SetTextOnly(sessionID); err != nil {
			return err
		}
		slog.Info("Session degraded to text-only, geometry checks will be skipped", "session", sessionID)
	}

	if err := o.update(sessionID, models.StageSymbolDetecting, models.StatusProcessing, 40, "detecting symbols"); err != nil {
		return err
	}

	symbols := o.detectSymbols(ctx, sessionID, page, result, allow)
	o.store.PutSymbols(sessionID, symbols)

	message := fmt.Sprintf("%d candidate symbols await validation", len(symbols))
	if len(symbols) == 0 {
		// Not an error: the operator may proceed without symbols.
		message = "no symbols detected; validate to proceed without symbols"
	}
	if result.TextOnly {
		message += " (text positions unavailable; geometry checks skipped)"
	}
	return o.update(sessionID, models.StageAwaitingValidation, models.StatusReadyForValidation, 60, message)
}

// detectSymbols runs the guided pass, falling back to one whole-image
// pass when there are no labels or the guided pass accepts nothing.
// Detector outages yield an empty candidate list, never a session error.
func (o *Orchestrator) detectSymbols(ctx context.Context, sessionID string, page []byte, result *ocr.Result, allow []string) []models.DetectedSymbol {
	if page == nil {
		slog.Warn("No page image, skipping symbol detection", "session", sessionID)
		return nil
	}
	imgW, imgH := imageBounds(page)
	if imgW == 0 || imgH == 0 {
		// Search windows cannot be clamped without bounds.
		slog.Warn("Page image unreadable, skipping symbol detection", "session", sessionID)
		return nil
	}
	labels := ocr.ExtractStructureLabels(result, o.settings.MarkerToken)
	words := result.Words()

	opts := detect.FilterOptions{
		Labels:           labels,
		Words:            words,
		RequireProximity: true,
		Strict:           len(allow) > 0,
		SkipGeometry:     result.TextOnly,
	}

	candidates, err := o.finder.Detect(ctx, page, imgW, imgH, labels, allow)
	switch {
	case errors.Is(err, detect.ErrNoLabels):
		slog.Info("Guided detection unavailable, scanning whole image", "session", sessionID)
		return o.wholeImagePass(ctx, sessionID, page, opts)
	case err != nil:
		slog.Warn("Guided detection failed", "session", sessionID, "err", err)
		return nil
	}

	accepted, diags := detect.Filter(candidates, opts, o.settings)
	accepted = detect.Deduplicate(accepted, o.settings)
	slog.Info("Guided pass filtered", "session", sessionID, "input", diags.Input, "accepted", len(accepted))

	if len(accepted) == 0 {
		slog.Info("Guided pass accepted nothing, scanning whole image once", "session", sessionID)
		return o.wholeImagePass(ctx, sessionID, page, opts)
	}
	return accepted
}

// wholeImagePass substitutes confidence-based filtering for
// proximity-based filtering.
func (o *Orchestrator) wholeImagePass(ctx context.Context, sessionID string, page []byte, opts detect.FilterOptions) []models.DetectedSymbol {
	candidates, err := o.finder.DetectWholeImage(ctx, page)
	if err != nil {
		slog.Warn("Whole-image detection failed", "session", sessionID, "err", err)
		return nil
	}
	opts.RequireProximity = false
	opts.Strict = false
	accepted, diags := detect.Filter(candidates, opts, o.settings)
	accepted = detect.Deduplicate(accepted, o.settings)
	slog.Info("Whole-image pass filtered", "session", sessionID, "input", diags.Input, "accepted", len(accepted))
	return accepted
}

// SubmitValidation re-enters the pipeline after the human marked
// candidates as real structures. decisions maps symbol IDs to keep or
// discard; missing symbols stay unvalidated. The session moves to the
// module verification gate.
func (o *Orchestrator) SubmitValidation(ctx context.Context, sessionID string, decisions map[string]bool) error {
	// Compare-and-swap out of the gate so only one resume call proceeds.
	if err := o.store.AdvanceSession(sessionID, models.StageAwaitingValidation, models.StageAnalyzing, models.StatusProcessing, 70, "associating modules"); err != nil {
		return err
	}

	symbols, _ := o.store.GetSymbols(sessionID)
	for i := range symbols {
		if verdict, ok := decisions[symbols[i].ID]; ok {
			v := verdict
			symbols[i].Validated = &v
		}
	}

	validated := make([]models.DetectedSymbol, 0, len(symbols))
	for _, sym := range symbols {
		if sym.Validated != nil && *sym.Validated {
			validated = append(validated, sym)
		}
	}

	result, _ := o.store.GetOCR(sessionID)
	labels := ocr.ExtractStructureLabels(result, o.settings.MarkerToken)
	modules, _ := detect.Associate(validated, labels, o.settings)

	// Write association and crops back onto the stored symbols. Symbols
	// that lost the greedy assignment get their provisional NearestLabel
	// (stamped by the filter's proximity stage) cleared, so verification
	// reports them as ambiguities instead of duplicating a label.
	byID := make(map[string]models.Module, len(modules))
	for _, m := range modules {
		byID[m.Symbol.ID] = m
	}
	page, havePage := o.store.GetImage(sessionID, pageImageKey)
	var imgW, imgH float64
	if havePage {
		imgW, imgH = imageBounds(page)
	}
	for i := range symbols {
		if symbols[i].Validated == nil || !*symbols[i].Validated {
			continue
		}
		if m, ok := byID[symbols[i].ID]; ok {
			symbols[i].NearestLabel = m.Label
			symbols[i].Confidence = m.Symbol.Confidence
		} else {
			symbols[i].NearestLabel = ""
		}
		if havePage && imgW > 0 && symbols[i].Box.Valid() {
			crop, err := o.images.Crop(ctx, page, symbols[i].Box.Expand(10, imgW, imgH))
			if err != nil {
				slog.Warn("Failed to crop module image", "session", sessionID, "symbol", symbols[i].ID, "err", err)
				continue
			}
			key := "crop:" + symbols[i].ID
			o.store.PutImage(sessionID, key, crop)
			symbols[i].CropKey = key
		}
	}
	o.store.PutSymbols(sessionID, symbols)

	return o.update(sessionID, models.StageAwaitingVerification, models.StatusAwaitingModuleVerification, 80,
		fmt.Sprintf("%d modules await verification", len(validated)))
}

// SubmitVerification re-enters the pipeline after the human reviewed the
// module crops. confirmed lists the symbol IDs to keep; nil keeps every
// validated symbol. Finishes the session with the stored result.
func (o *Orchestrator) SubmitVerification(ctx context.Context, sessionID string, confirmed []string) error {
	if err := o.store.AdvanceSession(sessionID, models.StageAwaitingVerification, models.StageAnalyzing, models.StatusProcessing, 85, "reconstructing pipe network"); err != nil {
		return err
	}

	symbols, _ := o.store.GetSymbols(sessionID)
	keep := func(models.DetectedSymbol) bool { return true }
	if confirmed != nil {
		confirmedSet := make(map[string]bool, len(confirmed))
		for _, id := range confirmed {
			confirmedSet[id] = true
		}
		keep = func(sym models.DetectedSymbol) bool { return confirmedSet[sym.ID] }
	}

	var modules []models.Module
	var ambiguities []models.DetectedSymbol
	for _, sym := range symbols {
		if sym.Validated == nil || !*sym.Validated || !keep(sym) {
			continue
		}
		if sym.NearestLabel == "" {
			ambiguities = append(ambiguities, sym)
			continue
		}
		modules = append(modules, models.Module{
			Symbol:   sym,
			Label:    sym.NearestLabel,
			Location: sym.Box.Center(),
		})
	}

	ocrResult, _ := o.store.GetOCR(sessionID)
	markers, materials := ocr.ExtractLineMarkers(ocrResult, o.settings.MarkerToken)

	var rasterLines []geometry.Segment
	if page, ok := o.store.GetImage(sessionID, pageImageKey); ok {
		rasterLines = o.images.DetectLines(ctx, page)
	}
	pipes := network.New(o.settings).Reconstruct(markers, rasterLines, materials)

	result := &models.AnalysisResult{
		Modules:          modules,
		Pipes:            pipes,
		Ambiguities:      ambiguities,
		ModuleConfidence: meanModuleConfidence(modules),
		PipeConfidence:   meanPipeConfidence(pipes),
	}
	if err := o.store.PutResult(sessionID, result); err != nil {
		return err
	}
	return o.update(sessionID, models.StageCompleted, models.StatusCompleted, 100,
		fmt.Sprintf("analysis complete: %d modules, %d pipes", len(modules), len(pipes)))
}

func (o *Orchestrator) update(sessionID string, stage models.Stage, status models.Status, progress int, message string) error {
	return o.store.UpdateSession(sessionID, stage, status, progress, message)
}

// fail moves the session to its terminal error state. Partial artifacts
// stay stored.
func (o *Orchestrator) fail(sessionID string, cause error) {
	slog.Error("Session failed", "session", sessionID, "err", cause)
	if err := o.store.UpdateSession(sessionID, models.StageError, models.StatusError, 0, cause.Error()); err != nil {
		slog.Error("Unable to record session failure", "session", sessionID, "err", err)
	}
}

func imageBounds(img []byte) (float64, float64) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return 0, 0
	}
	return float64(cfg.Width), float64(cfg.Height)
}

func meanModuleConfidence(modules []models.Module) float64 {
	if len(modules) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range modules {
		sum += m.Symbol.Confidence
	}
	return sum / float64(len(modules))
}

func meanPipeConfidence(pipes []models.Pipe) float64 {
	if len(pipes) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range pipes {
		sum += p.Confidence
	}
	return sum / float64(len(pipes))
}
