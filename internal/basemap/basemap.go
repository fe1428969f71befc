// Package basemap prefetches raster tiles of a bounding box into the local
// webp cache served by the backend under /tiles/{z}/{x}/{y}.webp.
package basemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chai2010/webp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/config"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// TileSize is the edge of every cached tile in pixels.
const TileSize = 256

var (
	ErrNoURL     = errors.New("basemap url template is empty")
	ErrBadZoom   = errors.New("invalid basemap zoom range")
	ErrEmptyBBox = errors.New("basemap bbox is empty")
)

// Tile addresses one slippy-map tile.
type Tile struct {
	Z, X, Y int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Stats counts the outcome of a prefetch run.
type Stats struct {
	Fetched int `json:"fetched"`
	Skipped int `json:"skipped"`
	Missing int `json:"missing"`
	Failed  int `json:"failed"`
}

func (s *Stats) add(o Stats) {
	s.Fetched += o.Fetched
	s.Skipped += o.Skipped
	s.Missing += o.Missing
	s.Failed += o.Failed
}

type outcome int

const (
	fetched outcome = iota
	skipped
	missing
	failed
)

// Cover returns the tiles intersecting bbox ([minLng, minLat, maxLng,
// maxLat]) at zoom z, row by row.
func Cover(bbox [4]float64, z int) []Tile {
	zoom := maptile.Zoom(z)
	nw := maptile.At(orb.Point{bbox[0], bbox[3]}, zoom)
	se := maptile.At(orb.Point{bbox[2], bbox[1]}, zoom)

	last := uint32(1)<<uint(z) - 1
	clamp := func(v uint32) int {
		if v > last {
			return int(last)
		}
		return int(v)
	}

	minX, maxX := clamp(nw.X), clamp(se.X)
	minY, maxY := clamp(nw.Y), clamp(se.Y)

	tiles := make([]Tile, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, Tile{Z: z, X: x, Y: y})
		}
	}
	return tiles
}

// BuildURL expands {z}, {x}, {y} and {tms_y} in a tile URL template.
func BuildURL(tpl string, t Tile) string {
	s := strings.ReplaceAll(tpl, "{z}", strconv.Itoa(t.Z))
	s = strings.ReplaceAll(s, "{x}", strconv.Itoa(t.X))
	s = strings.ReplaceAll(s, "{y}", strconv.Itoa(t.Y))

	if strings.Contains(s, "{tms_y}") {
		s = strings.ReplaceAll(s, "{tms_y}", strconv.Itoa((1<<t.Z)-1-t.Y))
	}

	return s
}

// Path returns the cache file of t under dir.
func Path(dir string, t Tile) string {
	return filepath.Join(dir, strconv.Itoa(t.Z), strconv.Itoa(t.X), strconv.Itoa(t.Y)+".webp")
}

// Loader downloads tiles and stores them as lossy webp.
type Loader struct {
	Client  *http.Client
	Config  config.BasemapConfig
	Quality float32
	Force   bool
}

// New returns a loader for cfg using client, or http.DefaultClient.
func New(client *http.Client, cfg config.BasemapConfig) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{Client: client, Config: cfg, Quality: 80}
}

func (l *Loader) validate() error {
	c := l.Config
	switch {
	case c.URL == "":
		return ErrNoURL
	case c.MinZoom < 0 || c.MaxZoom > 22 || c.MinZoom > c.MaxZoom:
		return fmt.Errorf("%w: %d-%d", ErrBadZoom, c.MinZoom, c.MaxZoom)
	case c.BBox[0] >= c.BBox[2] || c.BBox[1] >= c.BBox[3]:
		return ErrEmptyBBox
	}
	return nil
}

// Run prefetches every zoom of the configured range. It stops between
// tiles when ctx is cancelled.
func (l *Loader) Run(ctx context.Context) (Stats, error) {
	var total Stats
	if err := l.validate(); err != nil {
		return total, err
	}

	concurrency := l.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	log.Info().
		Str("url", l.Config.URL).
		Str("dir", l.Config.Dir).
		Int("min_zoom", l.Config.MinZoom).
		Int("max_zoom", l.Config.MaxZoom).
		Msg("Starting basemap prefetch")

	for z := l.Config.MinZoom; z <= l.Config.MaxZoom; z++ {
		tiles := Cover(l.Config.BBox, z)
		log.Debug().Int("zoom", z).Int("count", len(tiles)).Msg("Processing zoom level")

		stats := l.batch(ctx, concurrency, tiles)
		total.add(stats)

		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	log.Info().
		Int("fetched", total.Fetched).
		Int("skipped", total.Skipped).
		Int("missing", total.Missing).
		Int("failed", total.Failed).
		Msg("Basemap prefetch finished")

	return total, nil
}

func (l *Loader) batch(ctx context.Context, concurrency int, tiles []Tile) Stats {
	jobs := make(chan Tile, len(tiles))
	results := make(chan outcome, len(tiles))

	for _, t := range tiles {
		jobs <- t
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				if ctx.Err() != nil {
					return
				}
				res, err := l.fetch(ctx, t)
				if err != nil {
					log.Trace().Err(err).Str("tile", t.String()).Msg("Failed to fetch tile")
				}
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	var s Stats
	for r := range results {
		switch r {
		case fetched:
			s.Fetched++
		case skipped:
			s.Skipped++
		case missing:
			s.Missing++
		default:
			s.Failed++
		}
	}
	return s
}

func (l *Loader) fetch(ctx context.Context, t Tile) (outcome, error) {
	outPath := Path(l.Config.Dir, t)

	if !l.Force {
		if info, err := os.Stat(outPath); err == nil && info.Size() > 0 {
			return skipped, nil
		}
	}

	url := BuildURL(l.Config.URL, t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failed, err
	}
	req.Header.Set("User-Agent", "webgis-loader")

	resp, err := l.Client.Do(req)
	if err != nil {
		return failed, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return missing, nil
	}
	if resp.StatusCode != http.StatusOK {
		return failed, fmt.Errorf("status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed, err
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return failed, fmt.Errorf("decode %s: %w", url, err)
	}

	// servers answer out-of-range tiles with 1px placeholders
	if img.Bounds().Dx() <= 1 {
		return missing, nil
	}

	if err := l.write(outPath, normalize(img)); err != nil {
		return failed, err
	}
	return fetched, nil
}

// normalize rescales tiles of other sizes (retina sources) to TileSize.
func normalize(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() == TileSize && b.Dy() == TileSize {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func (l *Loader) write(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := webp.Encode(f, img, &webp.Options{Lossless: false, Quality: l.Quality}); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
