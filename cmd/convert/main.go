package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/woozymasta/webgis/internal/logger"
	"github.com/woozymasta/webgis/internal/transfer"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	Input  string `short:"i" long:"in"     description:"Input file (.geojson, .json, .kml, .kmz)" required:"true"`
	Output string `short:"o" long:"out"    description:"Output file. Writes to stdout if empty, or to features_YYYY-MM-DD.<ext> for xlsx"`
	Format string `short:"f" long:"format" description:"Output format, guessed from --out when empty" choice:"geojson" choice:"kml" choice:"yaml" choice:"xlsx" choice:"shapefile"`
	Minify bool   `short:"m" long:"minify" description:"Write compact GeoJSON or KML"`
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

	format, err := outputFormat(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown output format")
	}

	fc, err := transfer.ImportFile(opts.Input)
	if err != nil {
		log.Fatal().Err(err).Str("file", opts.Input).Msg("Failed to read input")
	}

	if format == transfer.FormatXLSX && opts.Output == "" {
		opts.Output = transfer.DefaultFilename(format, time.Now())
	}

	var out io.Writer = os.Stdout
	var file *os.File
	if opts.Output != "" {
		file, err = os.Create(opts.Output)
		if err != nil {
			log.Fatal().Err(err).Str("file", opts.Output).Msg("Failed to create output")
		}
		out = file
	}

	w := bufio.NewWriter(out)
	if err := transfer.Export(w, fc, format, transfer.Options{Minify: opts.Minify}); err != nil {
		if file != nil {
			_ = file.Close()
			_ = os.Remove(opts.Output)
		}
		log.Fatal().Err(err).Str("format", string(format)).Msg("Failed to convert")
	}
	if err := w.Flush(); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
	if file != nil {
		if err := file.Close(); err != nil {
			log.Fatal().Err(err).Msg("Failed to close output")
		}
	}

	if opts.Output != "" {
		log.Info().
			Int("features", len(fc.Features)).
			Str("out", opts.Output).
			Str("format", string(format)).
			Msg("Conversion finished")
	}
}

func outputFormat(opts Options) (transfer.Format, error) {
	if opts.Format != "" {
		return transfer.ParseFormat(opts.Format)
	}
	if opts.Output == "" {
		return transfer.FormatGeoJSON, nil
	}
	ext := strings.TrimPrefix(filepath.Ext(opts.Output), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: no extension on %s", transfer.ErrUnsupportedFormat, opts.Output)
	}
	return transfer.ParseFormat(ext)
}
