package basemap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/webgis/internal/config"
)

var saoLuis = [4]float64{-44.35, -2.60, -44.20, -2.45}

func pngTile(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCover(t *testing.T) {
	tiles := Cover(saoLuis, 10)
	assert.Equal(t, []Tile{
		{Z: 10, X: 385, Y: 518}, {Z: 10, X: 386, Y: 518},
		{Z: 10, X: 385, Y: 519}, {Z: 10, X: 386, Y: 519},
	}, tiles)

	assert.Equal(t, []Tile{{Z: 0, X: 0, Y: 0}}, Cover([4]float64{-180, -85, 180, 85}, 0))
}

func TestBuildURL(t *testing.T) {
	tile := Tile{Z: 3, X: 4, Y: 1}
	assert.Equal(t, "https://t/3/4/1.png", BuildURL("https://t/{z}/{x}/{y}.png", tile))
	assert.Equal(t, "https://t/3/4/6.png", BuildURL("https://t/{z}/{x}/{tms_y}.png", tile))
}

func TestValidate(t *testing.T) {
	cfg := config.Default().Basemap
	cfg.URL = ""
	_, err := New(nil, cfg).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoURL)

	cfg = config.Default().Basemap
	cfg.MinZoom, cfg.MaxZoom = 12, 10
	_, err = New(nil, cfg).Run(context.Background())
	assert.ErrorIs(t, err, ErrBadZoom)

	cfg = config.Default().Basemap
	cfg.BBox = [4]float64{1, 1, 1, 1}
	_, err = New(nil, cfg).Run(context.Background())
	assert.ErrorIs(t, err, ErrEmptyBBox)
}

func TestRun(t *testing.T) {
	small := pngTile(t, 256)
	retina := pngTile(t, 512)
	var hits atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/10/385/519"):
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/10/386/519"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(retina)
		default:
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(small)
		}
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	l := New(ts.Client(), config.BasemapConfig{
		URL:         ts.URL + "/{z}/{x}/{y}.png",
		Dir:         dir,
		BBox:        saoLuis,
		MinZoom:     10,
		MaxZoom:     10,
		Concurrency: 2,
	})

	stats, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Fetched: 3, Missing: 1}, stats)
	assert.EqualValues(t, 4, hits.Load())

	data, err := os.ReadFile(Path(dir, Tile{Z: 10, X: 386, Y: 519}))
	require.NoError(t, err)
	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, TileSize, cfg.Width)
	assert.Equal(t, TileSize, cfg.Height)

	_, err = os.Stat(Path(dir, Tile{Z: 10, X: 385, Y: 519}))
	assert.True(t, os.IsNotExist(err))

	stats, err = l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 3, Missing: 1}, stats)
	assert.EqualValues(t, 5, hits.Load())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New(nil, config.BasemapConfig{
		URL:     "http://127.0.0.1:1/{z}/{x}/{y}.png",
		Dir:     t.TempDir(),
		BBox:    saoLuis,
		MinZoom: 10,
		MaxZoom: 12,
	})
	_, err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
