package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/woozymasta/webgis/internal/basemap"
	"github.com/woozymasta/webgis/internal/config"
	"github.com/woozymasta/webgis/internal/logger"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile  string    `short:"c" long:"config"      env:"CONFIG_FILE"  description:"Path to configuration file" default:"config.yaml"`
	URL         string    `short:"u" long:"url"         env:"TILE_URL"     description:"Tile URL template with {z}, {x}, {y} or {tms_y}"`
	Dir         string    `short:"d" long:"dir"         env:"TILES_DIR"    description:"Output directory of the webp cache"`
	BBox        string    `short:"b" long:"bbox"        env:"BBOX"         description:"Bounding box as minLng,minLat,maxLng,maxLat"`
	MinZoom     int       `long:"min-zoom"              env:"MIN_ZOOM"     description:"First zoom level" default:"-1"`
	MaxZoom     int       `short:"z" long:"max-zoom"    env:"MAX_ZOOM"     description:"Last zoom level" default:"-1"`
	Concurrency int       `short:"p" long:"concurrency" env:"CONCURRENCY"  description:"Parallel downloads"`
	Quality     float32   `short:"q" long:"quality"                        description:"Lossy webp quality" default:"80"`
	Force       bool      `short:"f" long:"force"                          description:"Force overwrite of existing files"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	bm := cfg.Basemap
	if opts.URL != "" {
		bm.URL = opts.URL
	}
	if opts.Dir != "" {
		bm.Dir = opts.Dir
	}
	if bm.Dir == "" {
		bm.Dir = cfg.Server.TilesDir
	}
	if opts.BBox != "" {
		bbox, err := parseBBox(opts.BBox)
		if err != nil {
			log.Fatal().Err(err).Str("bbox", opts.BBox).Msg("Invalid bounding box")
		}
		bm.BBox = bbox
	}
	if opts.MinZoom >= 0 {
		bm.MinZoom = opts.MinZoom
	}
	if opts.MaxZoom >= 0 {
		bm.MaxZoom = opts.MaxZoom
	}
	if opts.Concurrency > 0 {
		bm.Concurrency = opts.Concurrency
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
		Timeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := basemap.New(client, bm)
	loader.Quality = opts.Quality
	loader.Force = opts.Force

	stats, err := loader.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Warn().Int("fetched", stats.Fetched).Msg("Loader interrupted")
		os.Exit(130)
	case err != nil:
		log.Fatal().Err(err).Msg("Loader failed")
	}

	if stats.Failed > 0 {
		log.Warn().Int("failed", stats.Failed).Msg("Some tiles could not be fetched")
	}
	log.Info().Msg("Loader finished successfully")
}

func parseBBox(s string) ([4]float64, error) {
	var bbox [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return bbox, fmt.Errorf("expected 4 values, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bbox, err
		}
		bbox[i] = v
	}
	return bbox, nil
}
