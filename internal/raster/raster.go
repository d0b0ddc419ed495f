// Package raster turns a source PDF into per-page PNG images. It is the
// in-process stand-in for the external rasterizer collaborator; the pipeline
// core only ever sees the resulting page image files.
package raster

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// RasterizationError wraps a failure to turn the source document into page
// images. No pages exist after it, so the run cannot proceed.
type RasterizationError struct {
	Source string
	Err    error
}

func (e *RasterizationError) Error() string {
	return fmt.Sprintf("rasterization of %s failed: %v", e.Source, e.Err)
}

func (e *RasterizationError) Unwrap() error { return e.Err }

// RasterizePDF validates and optimizes the source PDF, renders every page at
// the requested DPI, and writes the pages into pagesDir as
// page_<NNN>.png. Page indices are contiguous and 1-based.
func RasterizePDF(ctx context.Context, sourcePath, pagesDir string, dpi int) ([]models.PageImage, error) {
	logCtx := slog.With("source", sourcePath, "dpi", dpi)

	tempDir, err := os.MkdirTemp("", "docflow-raster-*")
	if err != nil {
		return nil, &RasterizationError{Source: sourcePath, Err: fmt.Errorf("failed to create temp dir: %w", err)}
	}
	defer os.RemoveAll(tempDir)

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		return nil, &RasterizationError{Source: sourcePath, Err: fmt.Errorf("failed to validate/optimize PDF: %w", err)}
	}

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, &RasterizationError{Source: sourcePath, Err: fmt.Errorf("failed to get page count: %w", err)}
	}
	logCtx.Info("Source PDF validated.", "pageCount", pageCount)

	doc, err := fitz.New(optimizedPath)
	if err != nil {
		return nil, &RasterizationError{Source: sourcePath, Err: fmt.Errorf("failed to open PDF for rendering: %w", err)}
	}
	defer doc.Close()

	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return nil, &RasterizationError{Source: sourcePath, Err: err}
	}

	pages := make([]models.PageImage, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &RasterizationError{Source: sourcePath, Err: err}
		}

		img, err := doc.ImageDPI(i-1, float64(dpi))
		if err != nil {
			return nil, &RasterizationError{Source: sourcePath, Err: fmt.Errorf("failed to render page %d: %w", i, err)}
		}

		pagePath := filepath.Join(pagesDir, PageFileName(i))
		if err := writePNG(pagePath, img); err != nil {
			return nil, &RasterizationError{Source: sourcePath, Err: fmt.Errorf("failed to save page %d: %w", i, err)}
		}

		pages = append(pages, models.PageImage{Index: i, Path: pagePath, DPI: dpi})
		logCtx.Info("Rendered page.", "page", i, "of", pageCount)
	}
	return pages, nil
}

// LoadPages rebuilds the page list from an existing pages directory, for
// repair runs that reuse a previous rasterization.
func LoadPages(pagesDir string, dpi int) ([]models.PageImage, error) {
	var pages []models.PageImage
	for i := 1; ; i++ {
		pagePath := filepath.Join(pagesDir, PageFileName(i))
		if _, err := os.Stat(pagePath); err != nil {
			break
		}
		pages = append(pages, models.PageImage{Index: i, Path: pagePath, DPI: dpi})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page images found under %s", pagesDir)
	}
	return pages, nil
}

// PageFileName returns the canonical file name for a page raster.
func PageFileName(index int) string {
	return fmt.Sprintf("page_%03d.png", index)
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
