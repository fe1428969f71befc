// Package geo handles coordinate order conversions and geometry measurement.
//
// Map-side code works in (lat, lng) pairs while GeoJSON and orb geometries are
// (lng, lat). Every crossing between the two goes through this package.
package geo

import (
	"github.com/paulmach/orb"
)

// Geometry type names as they appear in GeoJSON.
const (
	TypePoint      = "Point"
	TypeLineString = "LineString"
	TypePolygon    = "Polygon"
)

// LatLng is a coordinate in map order.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Point converts the coordinate to GeoJSON order.
func (ll LatLng) Point() orb.Point {
	return orb.Point{ll.Lng, ll.Lat}
}

// FromPoint converts a GeoJSON-order point to map order.
func FromPoint(p orb.Point) LatLng {
	return LatLng{Lat: p.Lat(), Lng: p.Lon()}
}

// ToLatLngs swaps a GeoJSON-order point sequence into map order.
func ToLatLngs(pts []orb.Point) []LatLng {
	out := make([]LatLng, len(pts))
	for i, p := range pts {
		out[i] = FromPoint(p)
	}
	return out
}

// FromLatLngs swaps a map-order sequence into GeoJSON order.
func FromLatLngs(lls []LatLng) []orb.Point {
	out := make([]orb.Point, len(lls))
	for i, ll := range lls {
		out[i] = ll.Point()
	}
	return out
}

// RingFromLatLngs builds a closed GeoJSON ring from map-order vertices.
func RingFromLatLngs(lls []LatLng) orb.Ring {
	ring := orb.Ring(FromLatLngs(lls))
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// OpenRing returns the ring vertices in map order without the closing point.
func OpenRing(r orb.Ring) []LatLng {
	if len(r) > 1 && r.Closed() {
		r = r[:len(r)-1]
	}
	return ToLatLngs(r)
}

// TypeOf returns the GeoJSON type name of a supported geometry, or "".
func TypeOf(g orb.Geometry) string {
	switch g.(type) {
	case orb.Point:
		return TypePoint
	case orb.LineString:
		return TypeLineString
	case orb.Polygon:
		return TypePolygon
	default:
		return ""
	}
}
