// Package store manages the output workspace: the on-disk layout holding
// page rasters, extracted assets, intermediate snapshots, the final document
// and the run summary, with an optional GCS mirror.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// Intermediate snapshot subdirectories, in pipeline order.
const (
	StageRaw     = "01_raw"     // model output before placeholder substitution
	StageFinal   = "02_final"   // per-page chunk with references resolved
	StageContext = "03_context" // outgoing trailing context per page
)

// Workspace is the output directory of one run.
type Workspace struct {
	root             string
	mirror           *Mirror
	saveIntermediate bool
}

// Open creates (or reuses) the workspace layout rooted at root. mirror may
// be nil.
func Open(root string, mirror *Mirror, saveIntermediate bool) (*Workspace, error) {
	dirs := []string{
		root,
		filepath.Join(root, "pages"),
		filepath.Join(root, models.KindFigure.Dir()),
		filepath.Join(root, models.KindTable.Dir()),
	}
	if saveIntermediate {
		for _, stage := range []string{StageRaw, StageFinal, StageContext} {
			dirs = append(dirs, filepath.Join(root, "intermediate", stage))
		}
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace dir %s: %w", d, err)
		}
	}
	return &Workspace{root: root, mirror: mirror, saveIntermediate: saveIntermediate}, nil
}

func (w *Workspace) Root() string { return w.root }

// SavesIntermediates reports whether per-page snapshots are persisted.
func (w *Workspace) SavesIntermediates() bool { return w.saveIntermediate }

// PagesDir is where the rasterizer drops per-page PNGs.
func (w *Workspace) PagesDir() string { return filepath.Join(w.root, "pages") }

// SaveAsset persists a cropped visual asset and returns its path relative to
// the workspace root.
func (w *Workspace) SaveAsset(ctx context.Context, id models.AssetID, pngData []byte) (string, error) {
	rel := id.RelPath()
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	if err := os.WriteFile(abs, pngData, 0o644); err != nil {
		return "", fmt.Errorf("failed to save asset %s: %w", id, err)
	}
	if w.mirror != nil {
		if err := w.mirror.UploadFile(ctx, rel, abs); err != nil {
			return "", err
		}
	}
	return rel, nil
}

// ListAssets rebuilds manifest entries from the asset directories. Used by
// repair runs, which must reconcile against assets extracted by an earlier
// run.
func (w *Workspace) ListAssets() ([]models.VisualAsset, error) {
	var assets []models.VisualAsset
	for _, kind := range []models.AssetKind{models.KindFigure, models.KindTable} {
		entries, err := os.ReadDir(filepath.Join(w.root, kind.Dir()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to list %s: %w", kind.Dir(), err)
		}
		for _, e := range entries {
			stem := strings.TrimSuffix(e.Name(), ".png")
			id, err := models.ParseAssetID(stem)
			if err != nil || id.Kind != kind {
				continue
			}
			assets = append(assets, models.VisualAsset{ID: id, Path: id.RelPath()})
		}
	}
	sort.Slice(assets, func(i, j int) bool {
		a, b := assets[i].ID, assets[j].ID
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Seq < b.Seq
	})
	return assets, nil
}

// RemovePageAssets deletes the stored crops for one page, so a repair run
// can re-extract it without leaving stale assets behind.
func (w *Workspace) RemovePageAssets(page int) error {
	assets, err := w.ListAssets()
	if err != nil {
		return err
	}
	for _, a := range assets {
		if a.ID.Page != page {
			continue
		}
		if err := os.Remove(filepath.Join(w.root, filepath.FromSlash(a.Path))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale asset %s: %w", a.ID, err)
		}
	}
	return nil
}

// SaveIntermediate persists a per-page snapshot for auditing and repair
// runs. A no-op when intermediates are disabled.
func (w *Workspace) SaveIntermediate(ctx context.Context, stage string, page int, content string) error {
	if !w.saveIntermediate {
		return nil
	}
	rel := path.Join("intermediate", stage, intermediateFileName(stage, page))
	return w.writeText(ctx, rel, content, true)
}

// ReadIntermediate loads a per-page snapshot; ok=false when the snapshot
// does not exist (disabled intermediates or a page that never succeeded).
func (w *Workspace) ReadIntermediate(stage string, page int) (string, bool, error) {
	abs := filepath.Join(w.root, "intermediate", stage, intermediateFileName(stage, page))
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// WriteDocument persists a document file (final or diagnostic partial) at
// the workspace root and returns its absolute path.
func (w *Workspace) WriteDocument(ctx context.Context, name, content string) (string, error) {
	if err := w.writeText(ctx, name, content, false); err != nil {
		return "", err
	}
	return filepath.Join(w.root, name), nil
}

// WriteSummary persists the run summary as summary.json.
func (w *Workspace) WriteSummary(ctx context.Context, summary *models.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	return w.writeText(ctx, "summary.json", string(data)+"\n", false)
}

// MirrorPages uploads the rasterized page images to the mirror, if one is
// configured.
func (w *Workspace) MirrorPages(ctx context.Context, pages []models.PageImage) error {
	if w.mirror == nil {
		return nil
	}
	for _, p := range pages {
		rel := path.Join("pages", filepath.Base(p.Path))
		if err := w.mirror.UploadFile(ctx, rel, p.Path); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workspace) writeText(ctx context.Context, rel, content string, atomicMirror bool) error {
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if w.mirror != nil {
		if atomicMirror {
			return w.mirror.WriteTextAtomically(ctx, rel, content)
		}
		return w.mirror.UploadFile(ctx, rel, abs)
	}
	return nil
}

func intermediateFileName(stage string, page int) string {
	ext := ".md"
	if stage == StageContext {
		ext = ".txt"
	}
	return fmt.Sprintf("page_%03d%s", page, ext)
}
