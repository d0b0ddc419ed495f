package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/academicdocflow/internal/config"
	"github.com/Lllllllleong/academicdocflow/internal/models"
	"github.com/Lllllllleong/academicdocflow/internal/store"
)

// Output file names at the workspace root.
const (
	FinalDocumentName = "document.md"
	// PartialDocumentName holds the diagnostic partial of an aborted run.
	PartialDocumentName = "document.partial.md"
)

// RunRecorder receives run lifecycle events. The Firestore-backed registry
// implements it; runs work identically with the no-op recorder.
type RunRecorder interface {
	RunStarted(ctx context.Context, source, sourceHash string, pageCount int) error
	RunState(ctx context.Context, state models.RunState, errDetails string) error
}

// NopRecorder discards all run events.
type NopRecorder struct{}

func (NopRecorder) RunStarted(context.Context, string, string, int) error { return nil }
func (NopRecorder) RunState(context.Context, models.RunState, string) error {
	return nil
}

// SourceInfo identifies the source document of a run.
type SourceInfo struct {
	Path string
	Hash string
}

// Orchestrator sequences the pipeline stages across all pages of a run:
// concurrent extraction, sequential translation with context carry,
// assembly, reconciliation and the optional quality pass. Page-local
// failures become summary entries; only configuration errors and the
// threshold abort propagate as a failed run.
type Orchestrator struct {
	cfg        *config.Config
	ws         *store.Workspace
	extractor  *Extractor
	translator *Translator
	optimizer  *Optimizer
	recorder   RunRecorder

	// mu serializes summary appends; extraction workers never write the
	// summary directly.
	mu      sync.Mutex
	summary *models.RunSummary
}

func NewOrchestrator(invoker Invoker, ws *store.Workspace, cfg *config.Config, recorder RunRecorder) *Orchestrator {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Orchestrator{
		cfg:        cfg,
		ws:         ws,
		extractor:  NewExtractor(invoker, ws, cfg),
		translator: NewTranslator(invoker, ws, cfg),
		optimizer:  NewOptimizer(invoker, cfg),
		recorder:   recorder,
	}
}

// Run executes the full pipeline over the given pages and returns the run
// summary. It returns ErrRunAborted (wrapped) when the failed-page fraction
// exceeded the configured threshold; the summary is valid either way.
func (o *Orchestrator) Run(ctx context.Context, source SourceInfo, pages []models.PageImage) (*models.RunSummary, error) {
	o.summary = &models.RunSummary{
		Source:     source.Path,
		SourceHash: source.Hash,
		PageCount:  len(pages),
		State:      models.StateConfiguring,
		StartedAt:  time.Now(),
	}
	if err := o.recorder.RunStarted(ctx, source.Path, source.Hash, len(pages)); err != nil {
		slog.Warn("Failed to create run record.", "error", err)
	}

	// A canceled run skips the threshold abort and assembles whatever
	// completed, so its output stays salvageable.
	manifest := o.runExtraction(ctx, pages)
	if frac := o.summary.FailedFraction(models.StageExtraction); ctx.Err() == nil && frac > o.cfg.AbortThreshold {
		return o.abort(ctx, fmt.Sprintf("extraction failed for %d of %d pages", len(o.summary.FailedPages(models.StageExtraction)), len(pages)), nil, manifest, len(pages))
	}

	chunks := o.runTranslation(ctx, pages, manifest)
	if frac := o.summary.FailedFraction(models.StageTranslation); ctx.Err() == nil && frac > o.cfg.AbortThreshold {
		return o.abort(ctx, fmt.Sprintf("translation failed for %d of %d pages", len(o.summary.FailedPages(models.StageTranslation)), len(pages)), chunks, manifest, len(pages))
	}

	return o.finalize(ctx, chunks, manifest, len(pages))
}

// runExtraction fans page extraction out over a bounded worker pool. Each
// worker writes only its own result slot; page statuses are recorded by the
// orchestrator after the pool drains, and the manifest acts as a barrier:
// it is sealed, and consumed, only once every page has terminated.
func (o *Orchestrator) runExtraction(ctx context.Context, pages []models.PageImage) *models.AssetManifest {
	o.setState(ctx, models.StateExtracting, "")

	type result struct {
		assets  []models.VisualAsset
		retries int
		err     error
	}
	results := make([]result, len(pages))

	var eg errgroup.Group
	eg.SetLimit(o.cfg.Concurrency)
	for i, page := range pages {
		eg.Go(func() error {
			// A canceled run stops scheduling new page work; in-flight
			// calls finish or time out naturally.
			if err := ctx.Err(); err != nil {
				results[i] = result{err: fmt.Errorf("run canceled before extraction: %w", err)}
				return nil
			}
			logCtx := slog.With("page", page.Index)
			var assets []models.VisualAsset
			retries, err := withRetry(ctx, logCtx, o.cfg.MaxAttempts, "extraction", func(callCtx context.Context) error {
				var attemptErr error
				assets, attemptErr = o.extractor.Extract(callCtx, page)
				return attemptErr
			})
			results[i] = result{assets: assets, retries: retries, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	manifest := models.NewAssetManifest()
	for i, page := range pages {
		res := results[i]
		if res.err != nil {
			o.recordPage(models.PageStatus{
				Page: page.Index, Stage: models.StageExtraction,
				Outcome: models.PageFailed, Retries: res.retries, Error: res.err.Error(),
			})
			continue
		}
		for _, a := range res.assets {
			manifest.Add(a)
		}
		o.recordPage(models.PageStatus{
			Page: page.Index, Stage: models.StageExtraction,
			Outcome: models.PageSucceeded, Retries: res.retries,
		})
	}
	manifest.Seal()

	o.summary.FigureCount, o.summary.TableCount = manifest.Counts()
	slog.Info("Extraction stage complete.",
		"figures", o.summary.FigureCount,
		"tables", o.summary.TableCount,
		"failedPages", len(o.summary.FailedPages(models.StageExtraction)),
	)
	return manifest
}

// runTranslation walks the pages strictly in index order; each call
// consumes the previous page's outgoing context. A failed page degrades
// continuity at that seam (the next page starts with empty context) rather
// than aborting the run.
func (o *Orchestrator) runTranslation(ctx context.Context, pages []models.PageImage, manifest *models.AssetManifest) []models.PageChunk {
	o.setState(ctx, models.StateTranslating, "")

	var chunks []models.PageChunk
	incoming := ""
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			o.recordPage(models.PageStatus{
				Page: page.Index, Stage: models.StageTranslation,
				Outcome: models.PageFailed, Error: "run canceled before translation",
			})
			incoming = ""
			continue
		}

		logCtx := slog.With("page", page.Index)
		assets := manifestAssets(manifest, page.Index)

		var chunk *models.PageChunk
		retries, err := withRetry(ctx, logCtx, o.cfg.MaxAttempts, "translation", func(callCtx context.Context) error {
			var attemptErr error
			chunk, attemptErr = o.translator.Translate(callCtx, page, incoming, assets)
			return attemptErr
		})
		if err != nil {
			o.recordPage(models.PageStatus{
				Page: page.Index, Stage: models.StageTranslation,
				Outcome: models.PageFailed, Retries: retries, Error: err.Error(),
			})
			incoming = ""
			continue
		}

		o.recordPage(models.PageStatus{
			Page: page.Index, Stage: models.StageTranslation,
			Outcome: models.PageSucceeded, Retries: retries,
		})
		chunks = append(chunks, *chunk)
		incoming = chunk.OutgoingContext
	}
	return chunks
}

// finalize assembles, reconciles, optionally refines, and persists the
// document and summary. Persistence runs on a detached context so a user
// cancellation still yields salvageable output.
func (o *Orchestrator) finalize(ctx context.Context, chunks []models.PageChunk, manifest *models.AssetManifest, pageCount int) (*models.RunSummary, error) {
	persistCtx := context.WithoutCancel(ctx)

	o.setState(persistCtx, models.StateAssembling, "")
	doc := Assemble(chunks, pageCount)

	o.setState(persistCtx, models.StateReconciling, "")
	doc, repairs := Reconcile(doc, manifest)
	o.summary.Repairs = repairs
	if len(repairs) > 0 {
		slog.Info("Reference reconciliation produced repairs.", "count", len(repairs))
	}

	if ctx.Err() == nil {
		o.setState(persistCtx, models.StateOptimizing, "")
		refined, err := o.optimizer.Refine(ctx, doc)
		if err != nil {
			slog.Warn("Quality pass discarded, keeping reconciled document.", "error", err)
			o.summary.OptimizationError = err.Error()
		} else {
			doc = refined
			o.summary.Optimized = true
		}
	} else {
		o.summary.OptimizationError = "skipped: run canceled"
	}

	docPath, err := o.ws.WriteDocument(persistCtx, FinalDocumentName, doc+"\n")
	if err != nil {
		o.finish(persistCtx, models.StateAborted, err.Error())
		return o.summary, fmt.Errorf("failed to persist final document: %w", err)
	}
	o.summary.FinalDocument = FinalDocumentName

	o.finish(persistCtx, models.StateDone, "")
	slog.Info("Run complete.", "document", docPath, "repairs", len(repairs), "optimized", o.summary.Optimized)
	return o.summary, nil
}

// abort ends the run without a final document. A best-effort partial is
// still persisted for inspection, clearly marked incomplete.
func (o *Orchestrator) abort(ctx context.Context, reason string, chunks []models.PageChunk, manifest *models.AssetManifest, pageCount int) (*models.RunSummary, error) {
	persistCtx := context.WithoutCancel(ctx)
	slog.Error("Aborting run.", "reason", reason)

	doc := Assemble(chunks, pageCount)
	doc, repairs := Reconcile(doc, manifest)
	o.summary.Repairs = repairs

	partial := fmt.Sprintf("> **INCOMPLETE RUN**: %s. This partial output is diagnostic only.\n\n%s\n", reason, doc)
	if _, err := o.ws.WriteDocument(persistCtx, PartialDocumentName, partial); err != nil {
		slog.Error("Failed to persist diagnostic partial.", "error", err)
	} else {
		o.summary.FinalDocument = PartialDocumentName
	}

	o.finish(persistCtx, models.StateAborted, reason)
	return o.summary, fmt.Errorf("%w: %s", ErrRunAborted, reason)
}

func (o *Orchestrator) finish(ctx context.Context, state models.RunState, detail string) {
	o.summary.FinishedAt = time.Now()
	o.setState(ctx, state, detail)
	if err := o.ws.WriteSummary(ctx, o.summary); err != nil {
		slog.Error("Failed to persist run summary.", "error", err)
	}
}

func (o *Orchestrator) setState(ctx context.Context, state models.RunState, detail string) {
	o.summary.State = state
	slog.Info("Pipeline state transition.", "state", state)
	if err := o.recorder.RunState(ctx, state, detail); err != nil {
		slog.Warn("Failed to record run state.", "state", state, "error", err)
	}
}

func (o *Orchestrator) recordPage(status models.PageStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.Pages = append(o.summary.Pages, status)
}

func manifestAssets(manifest *models.AssetManifest, page int) []models.VisualAsset {
	ids := manifest.PageIDs(page)
	assets := make([]models.VisualAsset, 0, len(ids))
	for _, id := range ids {
		a, _ := manifest.Lookup(id)
		assets = append(assets, a)
	}
	return assets
}

// RepairPages re-runs extraction and translation for selected pages of an
// existing workspace, then re-assembles the final document. Untouched pages
// are rebuilt from their stored intermediates.
func (o *Orchestrator) RepairPages(ctx context.Context, source SourceInfo, pages []models.PageImage, targets []int) (*models.RunSummary, error) {
	if !o.ws.SavesIntermediates() {
		return nil, fmt.Errorf("page repair requires a workspace with intermediates enabled")
	}
	targetSet := make(map[int]bool, len(targets))
	for _, tgt := range targets {
		if tgt < 1 || tgt > len(pages) {
			return nil, fmt.Errorf("page %d out of range 1..%d", tgt, len(pages))
		}
		targetSet[tgt] = true
	}
	ordered := make([]int, 0, len(targetSet))
	for tgt := range targetSet {
		ordered = append(ordered, tgt)
	}
	sort.Ints(ordered)

	o.summary = &models.RunSummary{
		Source:     source.Path,
		SourceHash: source.Hash,
		PageCount:  len(pages),
		State:      models.StateConfiguring,
		StartedAt:  time.Now(),
	}
	if err := o.recorder.RunStarted(ctx, source.Path, source.Hash, len(pages)); err != nil {
		slog.Warn("Failed to create run record.", "error", err)
	}

	// Re-extract the targets; stale crops go first so sequence numbers
	// stay deterministic.
	o.setState(ctx, models.StateExtracting, "")
	fresh := make(map[int][]models.VisualAsset, len(ordered))
	for _, tgt := range ordered {
		page := pages[tgt-1]
		if err := o.ws.RemovePageAssets(page.Index); err != nil {
			return nil, err
		}
		logCtx := slog.With("page", page.Index)
		var assets []models.VisualAsset
		retries, err := withRetry(ctx, logCtx, o.cfg.MaxAttempts, "extraction", func(callCtx context.Context) error {
			var attemptErr error
			assets, attemptErr = o.extractor.Extract(callCtx, page)
			return attemptErr
		})
		outcome := models.PageSucceeded
		errText := ""
		if err != nil {
			outcome, errText = models.PageFailed, err.Error()
		}
		o.recordPage(models.PageStatus{Page: page.Index, Stage: models.StageExtraction, Outcome: outcome, Retries: retries, Error: errText})
		fresh[page.Index] = assets
	}

	// Rebuild the manifest from disk, preferring the fresh extractions
	// (they carry captions for the translation prompt).
	listed, err := o.ws.ListAssets()
	if err != nil {
		return nil, err
	}
	manifest := models.NewAssetManifest()
	for _, a := range listed {
		if override, ok := findAsset(fresh[a.ID.Page], a.ID); ok {
			a = override
		}
		manifest.Add(a)
	}
	manifest.Seal()
	o.summary.FigureCount, o.summary.TableCount = manifest.Counts()

	// Re-translate the targets using the stored trailing context of the
	// preceding page.
	o.setState(ctx, models.StateTranslating, "")
	for _, tgt := range ordered {
		page := pages[tgt-1]
		incoming := ""
		if page.Index > 1 {
			if stored, ok, err := o.ws.ReadIntermediate(store.StageContext, page.Index-1); err == nil && ok {
				incoming = stored
			}
		}

		logCtx := slog.With("page", page.Index)
		assets := manifestAssets(manifest, page.Index)
		retries, err := withRetry(ctx, logCtx, o.cfg.MaxAttempts, "translation", func(callCtx context.Context) error {
			_, attemptErr := o.translator.Translate(callCtx, page, incoming, assets)
			return attemptErr
		})
		outcome := models.PageSucceeded
		errText := ""
		if err != nil {
			outcome, errText = models.PageFailed, err.Error()
		}
		o.recordPage(models.PageStatus{Page: page.Index, Stage: models.StageTranslation, Outcome: outcome, Retries: retries, Error: errText})
	}

	// Rebuild every page's chunk from intermediates; pages that never
	// succeeded stay as gap markers.
	var chunks []models.PageChunk
	for _, page := range pages {
		markdown, ok, err := o.ws.ReadIntermediate(store.StageFinal, page.Index)
		if err != nil {
			return nil, fmt.Errorf("failed to read stored chunk for page %d: %w", page.Index, err)
		}
		if !ok {
			continue
		}
		chunks = append(chunks, models.PageChunk{Index: page.Index, Markdown: markdown})
	}

	return o.finalize(ctx, chunks, manifest, len(pages))
}

func findAsset(assets []models.VisualAsset, id models.AssetID) (models.VisualAsset, bool) {
	for _, a := range assets {
		if a.ID == id {
			return a, true
		}
	}
	return models.VisualAsset{}, false
}
