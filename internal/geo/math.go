package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// HectareThreshold is the area at which formatting switches from m² to ha.
const HectareThreshold = 10000.0

// KilometreThreshold is the distance at which formatting switches from m to km.
const KilometreThreshold = 1000.0

// Measures holds the derived measurement fields of a geometry.
type Measures struct {
	Area      float64 // m²
	Perimeter float64 // m
	Length    float64 // m
}

// Measurer computes areas and lengths either geodesically or with the planar
// shoelace fallback.
type Measurer struct {
	planar bool
}

// Option configures a Measurer.
type Option func(*Measurer)

// WithPlanarFallback forces the shoelace approximation. It treats (lat, lng)
// as planar radians scaled by the earth radius, which is adequate at parcel
// scale and drifts over large extents.
func WithPlanarFallback() Option {
	return func(m *Measurer) { m.planar = true }
}

// NewMeasurer returns a Measurer using the geodesic path unless configured.
func NewMeasurer(opts ...Option) *Measurer {
	m := &Measurer{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Planar reports whether the shoelace fallback is in use.
func (m *Measurer) Planar() bool {
	return m.planar
}

// Area returns the polygon area in square metres.
func (m *Measurer) Area(p orb.Polygon) float64 {
	if len(p) == 0 || len(p[0]) < 3 {
		return 0
	}
	if m.planar {
		area := ShoelaceArea(OpenRing(p[0]))
		for _, hole := range p[1:] {
			area -= ShoelaceArea(OpenRing(hole))
		}
		return math.Max(area, 0)
	}
	return math.Abs(orbgeo.Area(p))
}

// Perimeter returns the length of the closed ring in metres.
func (m *Measurer) Perimeter(r orb.Ring) float64 {
	if len(r) < 2 {
		return 0
	}
	total := pathLength(r)
	if !r.Closed() {
		total += orbgeo.Distance(r[len(r)-1], r[0])
	}
	return total
}

// Length returns the length of the path in metres.
func (m *Measurer) Length(ls orb.LineString) float64 {
	return pathLength(ls)
}

// Measure derives the measurement fields for a geometry. A point with a
// positive radius is measured as a circle.
func (m *Measurer) Measure(g orb.Geometry, radius float64) Measures {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 {
			return Measures{}
		}
		return Measures{Area: m.Area(v), Perimeter: m.Perimeter(v[0])}
	case orb.LineString:
		return Measures{Length: m.Length(v)}
	case orb.Point:
		if radius > 0 {
			return Measures{Area: CircleArea(radius), Perimeter: CirclePerimeter(radius)}
		}
	}
	return Measures{}
}

func pathLength(pts []orb.Point) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += orbgeo.Distance(pts[i-1], pts[i])
	}
	return total
}

// ShoelaceArea approximates the area of an open ring of map-order vertices in
// square metres.
func ShoelaceArea(ring []LatLng) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += rad(ring[i].Lat)*rad(ring[j].Lng) - rad(ring[j].Lat)*rad(ring[i].Lng)
	}

	return math.Abs(sum) / 2 * orb.EarthRadius * orb.EarthRadius
}

// CircleArea returns πr².
func CircleArea(radius float64) float64 {
	return math.Pi * radius * radius
}

// CirclePerimeter returns 2πr.
func CirclePerimeter(radius float64) float64 {
	return 2 * math.Pi * radius
}

// FormatArea renders whole square metres below one hectare and hectares with
// two decimals from one hectare up.
func FormatArea(m2 float64) string {
	if math.Round(m2) < HectareThreshold {
		return fmt.Sprintf("%.0f m²", m2)
	}
	return fmt.Sprintf("%.2f ha", m2/HectareThreshold)
}

// FormatDistance renders whole metres below one kilometre and kilometres with
// two decimals from one kilometre up.
func FormatDistance(m float64) string {
	if math.Round(m) < KilometreThreshold {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.2f km", m/KilometreThreshold)
}

// Round2 rounds to two decimals, the precision stored in feature properties.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func rad(deg float64) float64 {
	return deg * math.Pi / 180
}
