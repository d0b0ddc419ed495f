package services

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/academicdocflow/internal/config"
	"github.com/Lllllllleong/academicdocflow/internal/models"
	"github.com/Lllllllleong/academicdocflow/internal/store"
)

// invokerFunc adapts a function to the Invoker interface for tests.
type invokerFunc func(ctx context.Context, req models.CapabilityRequest) (string, error)

func (f invokerFunc) Invoke(ctx context.Context, req models.CapabilityRequest) (string, error) {
	return f(ctx, req)
}

func newTestConfig() *config.Config {
	return &config.Config{
		Concurrency:      2,
		MaxAttempts:      1,
		AbortThreshold:   0.3,
		DPI:              100,
		TruncationFloor:  4,
		ContextLimit:     500,
		TargetLanguage:   "English",
		SaveIntermediate: true,
	}
}

func newTestWorkspace(t *testing.T) *store.Workspace {
	t.Helper()
	ws, err := store.Open(t.TempDir(), nil, true)
	require.NoError(t, err)
	return ws
}

// writePageImage renders a synthetic page raster: a white sheet with a dark
// block in the upper half, large enough to survive the minimum crop size.
func writePageImage(t *testing.T, ws *store.Workspace, index, width, height int) models.PageImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	for y := height / 10; y < height/3; y++ {
		for x := width / 10; x < width/2; x++ {
			img.Set(x, y, color.RGBA{40, 40, 40, 255})
		}
	}

	path := filepath.Join(ws.PagesDir(), fmt.Sprintf("page_%03d.png", index))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	return models.PageImage{Index: index, Path: path, DPI: 100}
}
