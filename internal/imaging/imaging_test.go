package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 0, 255})
		}
	}
	return img
}

func TestCropRegion(t *testing.T) {
	img := testImage(1000, 1400)

	tests := []struct {
		name   string
		region models.Region
		wantW  int
		wantH  int
		ok     bool
	}{
		{
			name:   "interior region",
			region: models.Region{X0: 0.1, Y0: 0.1, X1: 0.5, Y1: 0.3},
			wantW:  400,
			wantH:  280,
			ok:     true,
		},
		{
			name:   "full page",
			region: models.Region{X0: 0, Y0: 0, X1: 1, Y1: 1},
			wantW:  1000,
			wantH:  1400,
			ok:     true,
		},
		{
			name:   "coordinates clamped to the page",
			region: models.Region{X0: -0.2, Y0: 0.5, X1: 1.4, Y1: 1.9},
			wantW:  1000,
			wantH:  700,
			ok:     true,
		},
		{
			name:   "too narrow",
			region: models.Region{X0: 0.1, Y0: 0.1, X1: 0.11, Y1: 0.9},
			ok:     false,
		},
		{
			name:   "too short",
			region: models.Region{X0: 0.1, Y0: 0.1, X1: 0.9, Y1: 0.11},
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crop, ok := CropRegion(img, tt.region)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantW, crop.Bounds().Dx())
			assert.Equal(t, tt.wantH, crop.Bounds().Dy())
		})
	}
}

func TestDownscale(t *testing.T) {
	t.Run("wide image is scaled", func(t *testing.T) {
		out := Downscale(testImage(3200, 4400), MaxTransmitWidth)
		assert.Equal(t, MaxTransmitWidth, out.Bounds().Dx())
		assert.Equal(t, 2200, out.Bounds().Dy())
	})

	t.Run("narrow image passes through", func(t *testing.T) {
		img := testImage(800, 1100)
		out := Downscale(img, MaxTransmitWidth)
		assert.Same(t, img, out)
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := EncodePNG(testImage(60, 60))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	// PNG magic number.
	assert.Equal(t, byte(0x89), data[0])
	assert.Equal(t, []byte("PNG"), data[1:4])
}
