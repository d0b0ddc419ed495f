// Package imaging holds the raster helpers shared by the extraction stage:
// full-resolution cropping of detected regions and downscaling of the copy
// transmitted to the capability endpoint.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/Lllllllleong/academicdocflow/internal/models"
)

// MinCropPixels is the smallest usable crop edge. Regions below this are
// detector noise and are skipped.
const MinCropPixels = 50

// MaxTransmitWidth caps the width of page copies sent to a capability
// endpoint. Crops are always taken from the full-resolution original.
const MaxTransmitWidth = 1600

// LoadPNG decodes a PNG file from disk.
func LoadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open image %s: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("could not decode PNG %s: %w", path, err)
	}
	return img, nil
}

// EncodePNG renders an image to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// CropRegion cuts a fractional region out of the full-resolution page image.
// Coordinates are clamped to the page. Returns ok=false when the clamped
// region is smaller than MinCropPixels on either edge.
func CropRegion(img image.Image, r models.Region) (image.Image, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	left := b.Min.X + clamp(int(r.X0*float64(w)), 0, w)
	top := b.Min.Y + clamp(int(r.Y0*float64(h)), 0, h)
	right := b.Min.X + clamp(int(r.X1*float64(w)), 0, w)
	bottom := b.Min.Y + clamp(int(r.Y1*float64(h)), 0, h)

	if right-left < MinCropPixels || bottom-top < MinCropPixels {
		return nil, false
	}

	rect := image.Rect(left, top, right, bottom)
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out, true
}

// Downscale returns a copy of img no wider than maxWidth, preserving aspect
// ratio. Images already within the limit are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidth {
		return img
	}
	scale := float64(maxWidth) / float64(b.Dx())
	out := image.NewRGBA(image.Rect(0, 0, maxWidth, int(float64(b.Dy())*scale)))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
