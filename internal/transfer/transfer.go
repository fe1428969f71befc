// Package transfer reads and writes feature collections in the file formats
// offered by the import and export menus.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// Format is a supported file format.
type Format string

// Formats.
const (
	FormatGeoJSON   Format = "geojson"
	FormatKML       Format = "kml"
	FormatKMZ       Format = "kmz"
	FormatYAML      Format = "yaml"
	FormatXLSX      Format = "xlsx"
	FormatShapefile Format = "shapefile"
)

// Errors returned by import and export.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoFeatures        = errors.New("no features found in file")
	ErrInvalidGeoJSON    = errors.New("invalid GeoJSON document")
	ErrNotImplemented    = errors.New("shapefile export is not implemented yet")
)

// FormatOf maps a file name to its import format by extension.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "kml":
		return FormatKML, nil
	case "kmz":
		return FormatKMZ, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
}

// ParseFormat parses an export format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGeoJSON, FormatKML, FormatYAML, FormatXLSX, FormatShapefile:
		return f, nil
	case "json":
		return FormatGeoJSON, nil
	case "yml":
		return FormatYAML, nil
	case "shp":
		return FormatShapefile, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
}

// Extension returns the file extension written for an export format.
func (f Format) Extension() string {
	switch f {
	case FormatShapefile:
		return "zip"
	case FormatYAML:
		return "yaml"
	}
	return string(f)
}

// DefaultFilename returns features_YYYY-MM-DD.<ext>.
func DefaultFilename(f Format, now time.Time) string {
	return "features_" + now.Format("2006-01-02") + "." + f.Extension()
}

// Import decodes a file by its extension.
func Import(name string, data []byte) (*geojson.FeatureCollection, error) {
	format, err := FormatOf(name)
	if err != nil {
		return nil, err
	}

	var fc *geojson.FeatureCollection
	switch format {
	case FormatGeoJSON:
		fc, err = DecodeGeoJSON(data)
	case FormatKML:
		fc, err = DecodeKML(data)
	case FormatKMZ:
		fc, err = DecodeKMZ(data)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().Str("file", name).Str("format", string(format)).Int("features", len(fc.Features)).Msg("File decoded")
	return fc, nil
}

// ImportFile reads and decodes a file from disk.
func ImportFile(path string) (*geojson.FeatureCollection, error) {
	if _, err := FormatOf(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Import(filepath.Base(path), data)
}

// DecodeGeoJSON accepts a FeatureCollection or a single Feature.
func DecodeGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeoJSON, err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeoJSON, err)
		}
		return fc, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeoJSON, err)
		}
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	}
	return nil, fmt.Errorf("%w: type %q", ErrInvalidGeoJSON, head.Type)
}
