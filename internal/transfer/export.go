package transfer

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/tdewolff/minify/v2"
	minjson "github.com/tdewolff/minify/v2/json"
	minxml "github.com/tdewolff/minify/v2/xml"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// KMLDocumentName is the document name written into KML exports.
const KMLDocumentName = "WebGIS Export"

// Options tunes an export.
type Options struct {
	// Minify writes compact GeoJSON and KML.
	Minify bool
}

// Export writes fc in the requested format.
func Export(w io.Writer, fc *geojson.FeatureCollection, format Format, opts Options) error {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}

	switch format {
	case FormatGeoJSON:
		return WriteGeoJSON(w, fc, opts.Minify)
	case FormatKML:
		return WriteKML(w, fc, opts.Minify)
	case FormatYAML:
		return WriteYAML(w, fc)
	case FormatXLSX:
		return WriteXLSX(w, fc)
	case FormatShapefile:
		return ErrNotImplemented
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("application/json", minjson.Minify)
	m.AddFunc("text/xml", minxml.Minify)
	return m
}

// WriteGeoJSON writes a pretty-printed FeatureCollection with two-space
// indentation, or a compact one when minify is set.
func WriteGeoJSON(w io.Writer, fc *geojson.FeatureCollection, compact bool) error {
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if compact {
		return newMinifier().Minify("application/json", w, bytes.NewReader(data))
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

type kmlOut struct {
	XMLName  xml.Name       `xml:"kml"`
	Xmlns    string         `xml:"xmlns,attr"`
	Document kmlOutDocument `xml:"Document"`
}

type kmlOutDocument struct {
	Name       string            `xml:"name"`
	Placemarks []kmlOutPlacemark `xml:"Placemark"`
}

type kmlOutPlacemark struct {
	Name        string          `xml:"name"`
	Description *kmlCDATA       `xml:"description,omitempty"`
	Style       *kmlStyle       `xml:"Style,omitempty"`
	Point       *kmlCoordinates `xml:"Point,omitempty"`
	LineString  *kmlCoordinates `xml:"LineString,omitempty"`
	Polygon     *kmlOutPolygon  `xml:"Polygon,omitempty"`
}

type kmlCDATA struct {
	Text string `xml:",cdata"`
}

type kmlOutPolygon struct {
	Outer kmlBoundary   `xml:"outerBoundaryIs"`
	Inner []kmlBoundary `xml:"innerBoundaryIs,omitempty"`
}

// WriteKML writes one Placemark per feature. Properties are listed in the
// description as key: value lines and simplestyle keys become a Style.
// Features with other geometry types are left out.
func WriteKML(w io.Writer, fc *geojson.FeatureCollection, compact bool) error {
	doc := kmlOut{
		Xmlns:    "http://www.opengis.net/kml/2.2",
		Document: kmlOutDocument{Name: KMLDocumentName},
	}

	for i, f := range fc.Features {
		pm := kmlOutPlacemark{Name: "Feature " + strconv.Itoa(i+1)}
		switch g := f.Geometry.(type) {
		case orb.Point:
			pm.Point = &kmlCoordinates{Coordinates: formatCoordinates([]orb.Point{g})}
		case orb.LineString:
			pm.LineString = &kmlCoordinates{Coordinates: formatCoordinates(g)}
		case orb.Polygon:
			if len(g) == 0 {
				continue
			}
			poly := &kmlOutPolygon{Outer: kmlBoundary{LinearRing: kmlCoordinates{Coordinates: formatCoordinates(g[0])}}}
			for _, r := range g[1:] {
				poly.Inner = append(poly.Inner, kmlBoundary{LinearRing: kmlCoordinates{Coordinates: formatCoordinates(r)}})
			}
			pm.Polygon = poly
		default:
			continue
		}

		if len(f.Properties) > 0 {
			pm.Description = &kmlCDATA{Text: describe(f.Properties)}
		}
		pm.Style = styleFromProperties(f.Properties)
		doc.Document.Placemarks = append(doc.Document.Placemarks, pm)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode kml: %w", err)
	}
	buf.WriteByte('\n')

	if compact {
		return newMinifier().Minify("text/xml", w, &buf)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func formatCoordinates(pts []orb.Point) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = strconv.FormatFloat(p.Lon(), 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat(), 'f', -1, 64) + ",0"
	}
	return strings.Join(parts, " ")
}

func describe(props map[string]any) string {
	var b strings.Builder
	b.WriteString("\n")
	for _, k := range sortedKeys(props) {
		fmt.Fprintf(&b, "<strong>%s:</strong> %v<br>\n", k, props[k])
	}
	return b.String()
}

func styleFromProperties(props map[string]any) *kmlStyle {
	var s kmlStyle
	if c, ok := props["stroke"].(string); ok {
		if kc, ok := toKMLColor(c, floatOr(props["stroke-opacity"], 1)); ok {
			s.LineStyle = &kmlLineStyle{Color: kc, Width: floatOr(props["stroke-width"], 0)}
		}
	}
	if c, ok := props["fill"].(string); ok {
		if kc, ok := toKMLColor(c, floatOr(props["fill-opacity"], 1)); ok {
			s.PolyStyle = &kmlPolyStyle{Color: kc}
		}
	}
	if s.LineStyle == nil && s.PolyStyle == nil {
		return nil
	}
	return &s
}

func floatOr(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteYAML writes the collection as a YAML document with the GeoJSON
// structure.
func WriteYAML(w io.Writer, fc *geojson.FeatureCollection) error {
	raw, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// XLSXSheet is the worksheet written by WriteXLSX.
const XLSXSheet = "Features"

// WriteXLSX writes one row per feature: id, geometry type, one column per
// property key and the geometry as WKT.
func WriteXLSX(w io.Writer, fc *geojson.FeatureCollection) error {
	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	if err := file.SetSheetName("Sheet1", XLSXSheet); err != nil {
		return err
	}

	keySet := make(map[string]any)
	for _, f := range fc.Features {
		for k := range f.Properties {
			keySet[k] = nil
		}
	}
	keys := sortedKeys(keySet)

	header := append([]string{"id", "geometry_type"}, keys...)
	header = append(header, "wkt")
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(XLSXSheet, cell, h); err != nil {
			return err
		}
	}

	for r, f := range fc.Features {
		row := r + 2
		values := []any{fmt.Sprint(idOf(f)), geometryType(f.Geometry)}
		for _, k := range keys {
			values = append(values, cellValue(f.Properties[k]))
		}
		values = append(values, wkt.MarshalString(f.Geometry))

		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			if err := file.SetCellValue(XLSXSheet, cell, v); err != nil {
				return err
			}
		}
	}

	if err := file.SetPanes(XLSXSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	return file.Write(w)
}

func idOf(f *geojson.Feature) any {
	if f.ID != nil {
		return f.ID
	}
	if id, ok := f.Properties["id"]; ok {
		return id
	}
	return ""
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return ""
	}
	return g.GeoJSONType()
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string, float64, int, bool:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
