package raster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageFileName(t *testing.T) {
	assert.Equal(t, "page_001.png", PageFileName(1))
	assert.Equal(t, "page_042.png", PageFileName(42))
	assert.Equal(t, "page_120.png", PageFileName(120))
}

func TestLoadPages(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, PageFileName(i)), []byte("png"), 0o644))
	}
	// A gap after page 3 ends the contiguous sequence.
	require.NoError(t, os.WriteFile(filepath.Join(dir, PageFileName(5)), []byte("png"), 0o644))

	pages, err := LoadPages(dir, 200)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.Index)
		assert.Equal(t, 200, p.DPI)
		assert.Equal(t, filepath.Join(dir, PageFileName(i+1)), p.Path)
	}
}

func TestLoadPagesEmptyDir(t *testing.T) {
	_, err := LoadPages(t.TempDir(), 200)
	assert.Error(t, err)
}
