package transfer

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mholt/archiver/v3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

type kmlRoot struct {
	XMLName    xml.Name       `xml:"kml"`
	Document   *kmlDocument   `xml:"Document"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlDocument struct {
	Name       string         `xml:"name"`
	Styles     []kmlStyle     `xml:"Style"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlFolder struct {
	Name       string         `xml:"name"`
	Styles     []kmlStyle     `xml:"Style"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	ID            string            `xml:"id,attr"`
	Name          string            `xml:"name"`
	Description   string            `xml:"description"`
	StyleURL      string            `xml:"styleUrl"`
	Style         *kmlStyle         `xml:"Style"`
	ExtendedData  *kmlExtendedData  `xml:"ExtendedData"`
	Point         *kmlCoordinates   `xml:"Point"`
	LineString    *kmlCoordinates   `xml:"LineString"`
	Polygon       *kmlPolygon       `xml:"Polygon"`
	MultiGeometry *kmlMultiGeometry `xml:"MultiGeometry"`
}

type kmlStyle struct {
	ID        string        `xml:"id,attr,omitempty"`
	LineStyle *kmlLineStyle `xml:"LineStyle,omitempty"`
	PolyStyle *kmlPolyStyle `xml:"PolyStyle,omitempty"`
}

type kmlLineStyle struct {
	Color string  `xml:"color,omitempty"`
	Width float64 `xml:"width,omitempty"`
}

type kmlPolyStyle struct {
	Color string `xml:"color,omitempty"`
}

type kmlExtendedData struct {
	Data       []kmlData       `xml:"Data"`
	SchemaData []kmlSchemaData `xml:"SchemaData"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlSchemaData struct {
	SimpleData []kmlSimpleData `xml:"SimpleData"`
}

type kmlSimpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type kmlCoordinates struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlBoundary   `xml:"outerBoundaryIs"`
	Inner []kmlBoundary `xml:"innerBoundaryIs"`
}

type kmlBoundary struct {
	LinearRing kmlCoordinates `xml:"LinearRing"`
}

// kmlMultiGeometry keeps its children in document order.
type kmlMultiGeometry struct {
	Parts []kmlGeometry
}

type kmlGeometry struct {
	Point      *kmlCoordinates
	LineString *kmlCoordinates
	Polygon    *kmlPolygon
	Multi      *kmlMultiGeometry
}

func (mg *kmlMultiGeometry) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			var part kmlGeometry
			switch t.Name.Local {
			case "Point":
				part.Point = new(kmlCoordinates)
				err = d.DecodeElement(part.Point, &t)
			case "LineString":
				part.LineString = new(kmlCoordinates)
				err = d.DecodeElement(part.LineString, &t)
			case "Polygon":
				part.Polygon = new(kmlPolygon)
				err = d.DecodeElement(part.Polygon, &t)
			case "MultiGeometry":
				part.Multi = new(kmlMultiGeometry)
				err = d.DecodeElement(part.Multi, &t)
			default:
				if err := d.Skip(); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			mg.Parts = append(mg.Parts, part)
		}
	}
}

// DecodeKML converts a KML document into GeoJSON features. Placemarks in
// nested folders are included, multi-geometries are split into one feature
// per member and line/poly styles become simplestyle properties.
func DecodeKML(data []byte) (*geojson.FeatureCollection, error) {
	data = toUTF8(data)

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	var root kmlRoot
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode kml: %w", err)
	}

	styles := make(map[string]kmlStyle)
	var placemarks []kmlPlacemark

	collect := func(ss []kmlStyle, ps []kmlPlacemark) {
		for _, s := range ss {
			if s.ID != "" {
				styles[s.ID] = s
			}
		}
		placemarks = append(placemarks, ps...)
	}
	var walk func(folders []kmlFolder)
	walk = func(folders []kmlFolder) {
		for _, f := range folders {
			collect(f.Styles, f.Placemarks)
			walk(f.Folders)
		}
	}

	if root.Document != nil {
		collect(root.Document.Styles, root.Document.Placemarks)
		walk(root.Document.Folders)
	}
	collect(nil, root.Placemarks)
	walk(root.Folders)

	fc := geojson.NewFeatureCollection()
	for i, pm := range placemarks {
		geoms := placemarkGeometries(pm)
		if len(geoms) == 0 {
			log.Warn().Int("index", i).Str("name", pm.Name).Msg("Skipping placemark without usable geometry")
			continue
		}

		props := placemarkProperties(pm, styles)
		for _, g := range geoms {
			f := geojson.NewFeature(g)
			for k, v := range props {
				f.Properties[k] = v
			}
			fc.Append(f)
		}
	}

	if len(fc.Features) == 0 {
		return nil, ErrNoFeatures
	}
	return fc, nil
}

// DecodeKMZ extracts the first .kml entry of a KMZ archive and decodes it.
func DecodeKMZ(data []byte) (*geojson.FeatureCollection, error) {
	z := archiver.NewZip()
	if err := z.Open(bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("open kmz: %w", err)
	}
	defer func() { _ = z.Close() }()

	for {
		f, err := z.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read kmz: %w", err)
		}

		if f.IsDir() || !strings.EqualFold(pathExt(f.Name()), ".kml") {
			_ = f.Close()
			continue
		}

		doc, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name(), err)
		}
		return DecodeKML(doc)
	}
	return nil, fmt.Errorf("%w: kmz without a kml document", ErrNoFeatures)
}

func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

func placemarkGeometries(pm kmlPlacemark) []orb.Geometry {
	var out []orb.Geometry
	if pm.Point != nil {
		if pts := parseCoordinates(pm.Point.Coordinates); len(pts) > 0 {
			out = append(out, pts[0])
		}
	}
	if pm.LineString != nil {
		if pts := parseCoordinates(pm.LineString.Coordinates); len(pts) >= 2 {
			out = append(out, orb.LineString(pts))
		}
	}
	if pm.Polygon != nil {
		if p, ok := parsePolygon(*pm.Polygon); ok {
			out = append(out, p)
		}
	}
	if pm.MultiGeometry != nil {
		out = append(out, multiGeometries(*pm.MultiGeometry)...)
	}
	return out
}

func multiGeometries(mg kmlMultiGeometry) []orb.Geometry {
	var out []orb.Geometry
	for _, part := range mg.Parts {
		switch {
		case part.Point != nil:
			if pts := parseCoordinates(part.Point.Coordinates); len(pts) > 0 {
				out = append(out, pts[0])
			}
		case part.LineString != nil:
			if pts := parseCoordinates(part.LineString.Coordinates); len(pts) >= 2 {
				out = append(out, orb.LineString(pts))
			}
		case part.Polygon != nil:
			if p, ok := parsePolygon(*part.Polygon); ok {
				out = append(out, p)
			}
		case part.Multi != nil:
			out = append(out, multiGeometries(*part.Multi)...)
		}
	}
	return out
}

func parsePolygon(pg kmlPolygon) (orb.Polygon, bool) {
	outer := closeRing(parseCoordinates(pg.Outer.LinearRing.Coordinates))
	if len(outer) < 4 {
		return nil, false
	}
	p := orb.Polygon{outer}
	for _, in := range pg.Inner {
		if r := closeRing(parseCoordinates(in.LinearRing.Coordinates)); len(r) >= 4 {
			p = append(p, r)
		}
	}
	return p, true
}

func closeRing(pts []orb.Point) orb.Ring {
	if len(pts) == 0 {
		return nil
	}
	r := orb.Ring(pts)
	if !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

// parseCoordinates reads "lon,lat[,alt]" tuples separated by whitespace.
// Malformed tuples are dropped.
func parseCoordinates(s string) []orb.Point {
	var pts []orb.Point
	for _, tuple := range strings.Fields(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(parts[0], 64)
		lat, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
			continue
		}
		pts = append(pts, orb.Point{lon, lat})
	}
	return pts
}

func placemarkProperties(pm kmlPlacemark, styles map[string]kmlStyle) map[string]any {
	props := make(map[string]any)
	if pm.Name != "" {
		props["name"] = strings.TrimSpace(pm.Name)
	}
	if d := strings.TrimSpace(pm.Description); d != "" {
		props["description"] = d
	}
	if ed := pm.ExtendedData; ed != nil {
		for _, d := range ed.Data {
			props[d.Name] = strings.TrimSpace(d.Value)
		}
		for _, sd := range ed.SchemaData {
			for _, d := range sd.SimpleData {
				props[d.Name] = strings.TrimSpace(d.Value)
			}
		}
	}

	style := pm.Style
	if style == nil && strings.HasPrefix(pm.StyleURL, "#") {
		if s, ok := styles[strings.TrimPrefix(pm.StyleURL, "#")]; ok {
			style = &s
		}
	}
	if style != nil {
		applyKMLStyle(props, *style)
	}
	return props
}

func applyKMLStyle(props map[string]any, s kmlStyle) {
	if ls := s.LineStyle; ls != nil {
		if hex, alpha, ok := fromKMLColor(ls.Color); ok {
			props["stroke"] = hex
			props["stroke-opacity"] = alpha
		}
		if ls.Width > 0 {
			props["stroke-width"] = ls.Width
		}
	}
	if ps := s.PolyStyle; ps != nil {
		if hex, alpha, ok := fromKMLColor(ps.Color); ok {
			props["fill"] = hex
			props["fill-opacity"] = alpha
		}
	}
}

// fromKMLColor converts aabbggrr into #rrggbb and an opacity in [0,1].
func fromKMLColor(c string) (string, float64, bool) {
	c = strings.TrimPrefix(strings.TrimSpace(c), "#")
	if len(c) != 8 {
		return "", 0, false
	}
	a, err := strconv.ParseUint(c[0:2], 16, 8)
	if err != nil {
		return "", 0, false
	}
	if _, err := strconv.ParseUint(c[2:], 16, 32); err != nil {
		return "", 0, false
	}
	hex := "#" + strings.ToLower(c[6:8]+c[4:6]+c[2:4])
	return hex, math.Round(float64(a)/255*100) / 100, true
}

// toKMLColor converts #rrggbb and an opacity into aabbggrr.
func toKMLColor(hex string, opacity float64) (string, bool) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return "", false
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return "", false
	}
	if opacity < 0 || opacity > 1 {
		opacity = 1
	}
	a := fmt.Sprintf("%02x", int(math.Round(opacity*255)))
	return strings.ToLower(a + hex[4:6] + hex[2:4] + hex[0:2]), true
}

// toUTF8 transcodes documents that are not UTF-8 and carry no encoding
// declaration. The charset is guessed from the content.
func toUTF8(data []byte) []byte {
	if utf8.Valid(data) || declaresEncoding(data) {
		return data
	}

	name := "ISO-8859-1"
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res != nil && res.Charset != "" {
		name = res.Charset
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		enc = charmap.ISO8859_1
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		log.Debug().Err(err).Str("charset", name).Msg("Charset conversion failed, using raw bytes")
		return data
	}
	log.Debug().Str("charset", name).Msg("Document converted to UTF-8")
	return out
}

func declaresEncoding(data []byte) bool {
	head := data
	if len(head) > 200 {
		head = head[:200]
	}
	end := bytes.Index(head, []byte("?>"))
	if !bytes.HasPrefix(bytes.TrimSpace(head), []byte("<?xml")) || end < 0 {
		return false
	}
	return bytes.Contains(head[:end], []byte("encoding="))
}

func charsetReader(label string, in io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return in, nil
	}
	return transform.NewReader(in, enc.NewDecoder()), nil
}
