package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/geo"
)

// Errors returned by the synchronization layer.
var (
	ErrNotFound            = errors.New("feature not found")
	ErrCancelled           = errors.New("operation cancelled by user")
	ErrNotReady            = errors.New("drawn items collection not available")
	ErrNotAuthenticated    = errors.New("session not authenticated")
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
	ErrMalformedGeometry   = errors.New("malformed geometry")
)

// Property keys written by the synchronization layer.
const (
	PropName      = "name"
	PropCreatedAt = "created_at"
	PropRadius    = "radius"
	PropArea      = "area"
	PropPerimeter = "perimetro"
	PropLength    = "distancia"
	PropNumber    = "no_gleba"
)

// Feature is a geographic shape with its attached properties. Geometry is in
// GeoJSON (lng, lat) order.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]any
	ID         string
}

// Type returns the GeoJSON geometry type name.
func (f Feature) Type() string {
	return geo.TypeOf(f.Geometry)
}

// Radius returns the circle radius in metres, or 0 for non-circles.
func (f Feature) Radius() float64 {
	return number(f.Properties[PropRadius])
}

// IsCircle reports a point persisted with a radius.
func (f Feature) IsCircle() bool {
	_, ok := f.Geometry.(orb.Point)
	return ok && f.Radius() > 0
}

// GeoJSON returns an independent GeoJSON feature.
func (f Feature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(orb.Clone(f.Geometry))
	gf.ID = f.ID
	gf.Properties = geojson.Properties(cloneProps(f.Properties))
	return gf
}

// Record returns the persistence representation.
func (f Feature) Record() (api.FeatureRecord, error) {
	raw, err := json.Marshal(geojson.NewGeometry(f.Geometry))
	if err != nil {
		return api.FeatureRecord{}, fmt.Errorf("encode geometry: %w", err)
	}
	return api.FeatureRecord{
		ID:         f.ID,
		Type:       "Feature",
		Geometry:   raw,
		Properties: cloneProps(f.Properties),
	}, nil
}

func (f Feature) clone() Feature {
	return Feature{
		ID:         f.ID,
		Geometry:   orb.Clone(f.Geometry),
		Properties: cloneProps(f.Properties),
	}
}

// decodeRecord parses a persisted record. Unknown or empty geometries are
// reported as errors so the caller can skip the record.
func decodeRecord(rec api.FeatureRecord) (Feature, error) {
	if len(rec.Geometry) == 0 || string(rec.Geometry) == "null" {
		return Feature{}, fmt.Errorf("%w: missing geometry", ErrMalformedGeometry)
	}

	g, err := geojson.UnmarshalGeometry(rec.Geometry)
	if err != nil {
		return Feature{}, fmt.Errorf("%w: %v", ErrUnsupportedGeometry, err)
	}

	f := Feature{
		ID:         rec.ID,
		Geometry:   g.Geometry(),
		Properties: cloneProps(rec.Properties),
	}
	if err := checkGeometry(f.Geometry); err != nil {
		return Feature{}, err
	}
	return f, nil
}

func checkGeometry(g orb.Geometry) error {
	switch v := g.(type) {
	case orb.Point:
		return nil
	case orb.LineString:
		if len(v) < 2 {
			return fmt.Errorf("%w: line with %d points", ErrMalformedGeometry, len(v))
		}
		return nil
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) < 3 {
			return fmt.Errorf("%w: polygon without a ring", ErrMalformedGeometry)
		}
		return nil
	case nil:
		return fmt.Errorf("%w: nil geometry", ErrMalformedGeometry)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
}

// NewID returns a fresh client-side id, feature_<unix ms>_<suffix>.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return "feature_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}

// ImportedID returns the id assigned to the i-th feature of an import.
func ImportedID(now time.Time, i int) string {
	return "imported_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + strconv.Itoa(i)
}

func cloneProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	}
	return 0
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
