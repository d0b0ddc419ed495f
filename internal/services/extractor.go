package services

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/academicdocflow/internal/config"
	"github.com/Lllllllleong/academicdocflow/internal/gcp"
	"github.com/Lllllllleong/academicdocflow/internal/imaging"
	"github.com/Lllllllleong/academicdocflow/internal/models"
	"github.com/Lllllllleong/academicdocflow/internal/store"
)

// Extractor locates figures and tables on a page image, crops them from the
// full-resolution raster and persists them as standalone assets.
type Extractor struct {
	invoker Invoker
	ws      *store.Workspace
	cfg     *config.Config
}

func NewExtractor(invoker Invoker, ws *store.Workspace, cfg *config.Config) *Extractor {
	return &Extractor{invoker: invoker, ws: ws, cfg: cfg}
}

// regionEntry is one detected element in the capability's JSON response.
// BBox is [x_min, y_min, x_max, y_max] in page fractions.
type regionEntry struct {
	Title string    `json:"title"`
	BBox  []float64 `json:"bbox"`
}

type extractionResponse struct {
	Figures []regionEntry `json:"figures"`
	Tables  []regionEntry `json:"tables"`
}

// Extract performs one extraction attempt for a page. An empty result is a
// valid outcome, not a failure; a malformed capability response yields an
// ExtractionError, which the orchestrator's retry policy handles.
func (e *Extractor) Extract(ctx context.Context, page models.PageImage) ([]models.VisualAsset, error) {
	logCtx := slog.With("page", page.Index)

	full, err := imaging.LoadPNG(page.Path)
	if err != nil {
		return nil, &ExtractionError{Page: page.Index, Err: err}
	}

	transmitPNG, err := imaging.EncodePNG(imaging.Downscale(full, imaging.MaxTransmitWidth))
	if err != nil {
		return nil, &ExtractionError{Page: page.Index, Err: err}
	}

	raw, err := e.invoker.Invoke(ctx, models.CapabilityRequest{
		Stage:        models.StageExtraction,
		Instructions: gcp.ExtractorUserPrompt,
		ImagePNG:     transmitPNG,
	})
	if err != nil {
		return nil, &ExtractionError{Page: page.Index, Err: err}
	}

	resp, err := parseExtractionResponse(raw)
	if err != nil {
		return nil, &ExtractionError{Page: page.Index, Err: err}
	}

	var assets []models.VisualAsset
	assets = append(assets, e.cropRegions(ctx, logCtx, full, page.Index, models.KindFigure, resp.Figures)...)
	assets = append(assets, e.cropRegions(ctx, logCtx, full, page.Index, models.KindTable, resp.Tables)...)
	if len(assets) == 0 {
		logCtx.Info("No visual elements on page.")
	}
	return assets, nil
}

// cropRegions crops detected regions from the full-resolution page image.
// The sequence number counts saved crops per kind, so skipped noise regions
// do not leave gaps in asset names.
func (e *Extractor) cropRegions(ctx context.Context, logCtx *slog.Logger, full image.Image, pageIndex int, kind models.AssetKind, entries []regionEntry) []models.VisualAsset {
	var assets []models.VisualAsset
	seq := 0
	for _, entry := range entries {
		region, ok := parseBBox(entry.BBox)
		if !ok {
			logCtx.Warn("Skipping region with malformed bbox.", "kind", kind, "bbox", entry.BBox)
			continue
		}
		crop, ok := imaging.CropRegion(full, region)
		if !ok {
			logCtx.Warn("Skipping region below minimum crop size.", "kind", kind, "bbox", entry.BBox)
			continue
		}

		pngData, err := imaging.EncodePNG(crop)
		if err != nil {
			logCtx.Warn("Failed to encode crop.", "kind", kind, "error", err)
			continue
		}

		seq++
		id := models.AssetID{Page: pageIndex, Kind: kind, Seq: seq}
		rel, err := e.ws.SaveAsset(ctx, id, pngData)
		if err != nil {
			logCtx.Warn("Failed to save crop.", "asset", id.String(), "error", err)
			seq--
			continue
		}

		assets = append(assets, models.VisualAsset{
			ID:     id,
			Title:  strings.TrimSpace(entry.Title),
			Bounds: region,
			Path:   rel,
		})
		logCtx.Info("Extracted visual element.", "asset", id.String())
	}
	return assets
}

// parseExtractionResponse unmarshals the capability's JSON, tolerating
// leading or trailing prose around the object.
func parseExtractionResponse(raw string) (*extractionResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in extraction response: %q", truncateForLog(raw))
	}
	var resp extractionResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("unparsable extraction response: %w", err)
	}
	return &resp, nil
}

func parseBBox(bbox []float64) (models.Region, bool) {
	if len(bbox) != 4 {
		return models.Region{}, false
	}
	r := models.Region{X0: bbox[0], Y0: bbox[1], X1: bbox[2], Y1: bbox[3]}
	if r.X1 <= r.X0 || r.Y1 <= r.Y0 {
		return models.Region{}, false
	}
	return r, true
}

func truncateForLog(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
