package imaging

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFitLongEdge(t *testing.T) {
	out := FitLongEdge(solid(1800, 900, color.White), 900)
	assert.Equal(t, 900, out.Bounds().Dx())
	assert.Equal(t, 450, out.Bounds().Dy())

	small := solid(100, 50, color.White)
	assert.Same(t, small, FitLongEdge(small, 900).(*image.RGBA))
}

func TestGrayAndJPEGRoundTrip(t *testing.T) {
	g := Gray(solid(20, 10, color.RGBA{R: 200, G: 10, B: 10, A: 255}))
	assert.Equal(t, 20, g.Bounds().Dx())

	path := filepath.Join(t.TempDir(), "p.jpg")
	n, err := SaveJPEG(path, g, 50)
	require.NoError(t, err)
	assert.Positive(t, n)

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, back.Bounds().Dy())
}
