// Package mapkit declares the rendering toolkit and drawing plugin surface
// consumed by the bootstrap and synchronization layers.
package mapkit

import (
	"github.com/paulmach/orb"
	"github.com/woozymasta/webgis/internal/geo"
)

// DrawnItemsGroup is the name of the shared drawn-items collection.
const DrawnItemsGroup = "drawnItems"

// Kind identifies the displayed shape class.
type Kind string

// Shape kinds produced by the drawing plugin.
const (
	KindMarker    Kind = "marker"
	KindPolyline  Kind = "polyline"
	KindPolygon   Kind = "polygon"
	KindRectangle Kind = "rectangle"
	KindCircle    Kind = "circle"
)

// EventType names a drawing plugin event.
type EventType string

// Drawing events.
const (
	EventCreated EventType = "draw:created"
	EventEdited  EventType = "draw:edited"
	EventDeleted EventType = "draw:deleted"
)

// DrawEvent is emitted by the drawing plugin.
type DrawEvent struct {
	Type   EventType
	Kind   Kind
	Shapes []Shape
}

// Style is the rendering style of a vector shape.
type Style struct {
	Color       string
	FillColor   string
	Weight      float64
	Opacity     float64
	FillOpacity float64
}

// View is the initial viewport of a map.
type View struct {
	TileURL     string
	Attribution string
	Center      geo.LatLng
	Zoom        int
	MinZoom     int
	MaxZoom     int
}

// FitOptions tunes a fit-bounds call.
type FitOptions struct {
	Padding int
	MaxZoom int
}

// Shape is a displayed vector layer.
type Shape interface {
	Kind() Kind
	// LatLngs returns the vertices in map order. Rings are open.
	LatLngs() []geo.LatLng
	SetLatLngs(lls []geo.LatLng)
	Radius() float64
	Style() Style
	SetStyle(s Style)
	BindPopup(content string)
	Popup() string
	OnClick(fn func())
}

// FeatureGroup is a collection of shapes rendered together.
type FeatureGroup interface {
	AddLayer(s Shape)
	RemoveLayer(s Shape)
	HasLayer(s Shape) bool
	ClearLayers()
	Layers() []Shape
}

// Map is a live map instance bound to a DOM target.
type Map interface {
	Target() string
	NewFeatureGroup() FeatureGroup
	AddGroup(name string, g FeatureGroup)
	Group(name string) (FeatureGroup, bool)
	SetView(center geo.LatLng, zoom int)
	FitBounds(b orb.Bound, opts FitOptions)
	On(event EventType, fn func(DrawEvent))
	EnableDraw(kind Kind, enabled bool)
}

// Toolkit is the mapping library. Available and TargetExists are the
// readiness guards checked before any construction.
type Toolkit interface {
	Available() bool
	TargetExists(target string) bool
	Existing(target string) (Map, bool)
	NewMap(target string, view View) (Map, error)

	NewMarker(at geo.LatLng) Shape
	NewPolyline(lls []geo.LatLng) Shape
	NewPolygon(lls []geo.LatLng) Shape
	NewCircle(center geo.LatLng, radius float64) Shape
}

// Bounds returns the GeoJSON-order bound of a shape. Circles are expanded by
// their radius.
func Bounds(s Shape) orb.Bound {
	lls := s.LatLngs()
	if len(lls) == 0 {
		return orb.Bound{}
	}

	b := orb.Bound{Min: lls[0].Point(), Max: lls[0].Point()}
	for _, ll := range lls[1:] {
		b = b.Extend(ll.Point())
	}

	if s.Kind() == KindCircle && s.Radius() > 0 {
		b = b.Pad(s.Radius() / 111320.0)
	}
	return b
}
