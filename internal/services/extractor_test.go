package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

func TestExtractorSavesCrops(t *testing.T) {
	ws := newTestWorkspace(t)
	page := writePageImage(t, ws, 1, 1000, 1400)

	inv := invokerFunc(func(ctx context.Context, req models.CapabilityRequest) (string, error) {
		assert.Equal(t, models.StageExtraction, req.Stage)
		assert.NotEmpty(t, req.ImagePNG)
		return `{
			"figures": [{"title": "System architecture", "bbox": [0.1, 0.1, 0.5, 0.3]}],
			"tables": [{"title": "Results", "bbox": [0.1, 0.5, 0.9, 0.8]}]
		}`, nil
	})

	ex := NewExtractor(inv, ws, newTestConfig())
	assets, err := ex.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	fig := assets[0]
	assert.Equal(t, models.AssetID{Page: 1, Kind: models.KindFigure, Seq: 1}, fig.ID)
	assert.Equal(t, "System architecture", fig.Title)
	assert.Equal(t, "figures/page1_figure_1.png", fig.Path)

	tbl := assets[1]
	assert.Equal(t, models.AssetID{Page: 1, Kind: models.KindTable, Seq: 1}, tbl.ID)

	for _, a := range assets {
		_, err := os.Stat(filepath.Join(ws.Root(), filepath.FromSlash(a.Path)))
		assert.NoError(t, err, "crop %s must exist on disk", a.ID)
	}
}

func TestExtractorEmptyPageIsValid(t *testing.T) {
	ws := newTestWorkspace(t)
	page := writePageImage(t, ws, 1, 800, 1100)

	inv := invokerFunc(func(ctx context.Context, req models.CapabilityRequest) (string, error) {
		return `{"figures": [], "tables": []}`, nil
	})

	ex := NewExtractor(inv, ws, newTestConfig())
	assets, err := ex.Extract(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestExtractorToleratesSurroundingProse(t *testing.T) {
	ws := newTestWorkspace(t)
	page := writePageImage(t, ws, 2, 1000, 1400)

	inv := invokerFunc(func(ctx context.Context, req models.CapabilityRequest) (string, error) {
		return "Here is the detection result:\n" +
			`{"figures": [{"title": "", "bbox": [0.2, 0.2, 0.6, 0.6]}], "tables": []}` +
			"\nLet me know if you need anything else.", nil
	})

	ex := NewExtractor(inv, ws, newTestConfig())
	assets, err := ex.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "page2_figure_1", assets[0].ID.String())
}

func TestExtractorSkipsUnusableRegions(t *testing.T) {
	ws := newTestWorkspace(t)
	page := writePageImage(t, ws, 1, 1000, 1400)

	inv := invokerFunc(func(ctx context.Context, req models.CapabilityRequest) (string, error) {
		// A sliver below the minimum crop size, an inverted box, a short
		// bbox, then one usable region. Sequence numbers must not reserve
		// slots for the skipped noise.
		return `{"figures": [
			{"title": "sliver", "bbox": [0.1, 0.1, 0.11, 0.9]},
			{"title": "inverted", "bbox": [0.6, 0.6, 0.2, 0.9]},
			{"title": "short", "bbox": [0.1, 0.2]},
			{"title": "usable", "bbox": [0.1, 0.1, 0.6, 0.5]}
		], "tables": []}`, nil
	})

	ex := NewExtractor(inv, ws, newTestConfig())
	assets, err := ex.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "page1_figure_1", assets[0].ID.String())
	assert.Equal(t, "usable", assets[0].Title)
}

func TestExtractorMalformedResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{name: "no JSON at all", response: "sorry, nothing detected"},
		{name: "broken JSON", response: `{"figures": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newTestWorkspace(t)
			page := writePageImage(t, ws, 1, 800, 1100)

			inv := invokerFunc(func(ctx context.Context, req models.CapabilityRequest) (string, error) {
				return tt.response, nil
			})

			ex := NewExtractor(inv, ws, newTestConfig())
			_, err := ex.Extract(context.Background(), page)
			require.Error(t, err)
			var exErr *ExtractionError
			assert.True(t, errors.As(err, &exErr))
			assert.Equal(t, 1, exErr.Page)
		})
	}
}

func TestExtractorTransportFailure(t *testing.T) {
	ws := newTestWorkspace(t)
	page := writePageImage(t, ws, 3, 800, 1100)

	inv := invokerFunc(func(ctx context.Context, req models.CapabilityRequest) (string, error) {
		return "", errors.New("deadline exceeded")
	})

	ex := NewExtractor(inv, ws, newTestConfig())
	_, err := ex.Extract(context.Background(), page)
	require.Error(t, err)
	var exErr *ExtractionError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, 3, exErr.Page)
}
