package mapkit

import (
	"errors"
	"slices"
	"sync"

	"github.com/paulmach/orb"
	"github.com/woozymasta/webgis/internal/geo"
)

// ErrConstruction is returned by the in-memory toolkit when a failure was
// injected with FailNextCreate.
var ErrConstruction = errors.New("map construction failed")

// Memory is a headless Toolkit used by the CLI client and tests.
type Memory struct {
	targets   map[string]bool
	maps      map[string]*MemoryMap
	mu        sync.Mutex
	created   int
	failNext  int
	available bool
}

// NewMemory returns a ready toolkit with the given DOM targets present.
func NewMemory(targets ...string) *Memory {
	t := &Memory{
		available: true,
		targets:   make(map[string]bool),
		maps:      make(map[string]*MemoryMap),
	}
	for _, name := range targets {
		t.targets[name] = true
	}
	return t
}

// SetAvailable toggles whether the library constructor is callable.
func (t *Memory) SetAvailable(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.available = v
}

// AddTarget makes a DOM target present.
func (t *Memory) AddTarget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[name] = true
}

// FailNextCreate makes the next n NewMap calls fail.
func (t *Memory) FailNextCreate(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = n
}

// Bind registers an externally created map on a target, as a competing
// initializer would.
func (t *Memory) Bind(target string, view View) *MemoryMap {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := newMemoryMap(target, view)
	t.targets[target] = true
	t.maps[target] = m
	return m
}

// Created returns how many maps NewMap has constructed.
func (t *Memory) Created() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created
}

// Available implements Toolkit.
func (t *Memory) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

// TargetExists implements Toolkit.
func (t *Memory) TargetExists(target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targets[target]
}

// Existing implements Toolkit.
func (t *Memory) Existing(target string) (Map, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.maps[target]
	if !ok {
		return nil, false
	}
	return m, true
}

// NewMap implements Toolkit.
func (t *Memory) NewMap(target string, view View) (Map, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failNext > 0 {
		t.failNext--
		return nil, ErrConstruction
	}

	m := newMemoryMap(target, view)
	t.maps[target] = m
	t.created++
	return m, nil
}

// NewMarker implements Toolkit.
func (t *Memory) NewMarker(at geo.LatLng) Shape {
	return newMemoryShape(KindMarker, []geo.LatLng{at}, 0)
}

// NewPolyline implements Toolkit.
func (t *Memory) NewPolyline(lls []geo.LatLng) Shape {
	return newMemoryShape(KindPolyline, lls, 0)
}

// NewPolygon implements Toolkit.
func (t *Memory) NewPolygon(lls []geo.LatLng) Shape {
	return newMemoryShape(KindPolygon, lls, 0)
}

// NewCircle implements Toolkit.
func (t *Memory) NewCircle(center geo.LatLng, radius float64) Shape {
	return newMemoryShape(KindCircle, []geo.LatLng{center}, radius)
}

// NewRectangle returns a rectangle shape spanning two corners.
func (t *Memory) NewRectangle(sw, ne geo.LatLng) Shape {
	return newMemoryShape(KindRectangle, []geo.LatLng{
		sw,
		{Lat: sw.Lat, Lng: ne.Lng},
		ne,
		{Lat: ne.Lat, Lng: sw.Lng},
	}, 0)
}

// MemoryMap is the in-memory Map.
type MemoryMap struct {
	groups   map[string]FeatureGroup
	handlers map[EventType][]func(DrawEvent)
	drawing  map[Kind]bool
	target   string
	view     View
	fitted   []orb.Bound
	mu       sync.Mutex
}

func newMemoryMap(target string, view View) *MemoryMap {
	return &MemoryMap{
		target:   target,
		view:     view,
		groups:   make(map[string]FeatureGroup),
		handlers: make(map[EventType][]func(DrawEvent)),
		drawing:  make(map[Kind]bool),
	}
}

// Target implements Map.
func (m *MemoryMap) Target() string { return m.target }

// NewFeatureGroup implements Map.
func (m *MemoryMap) NewFeatureGroup() FeatureGroup { return NewMemoryGroup() }

// AddGroup implements Map.
func (m *MemoryMap) AddGroup(name string, g FeatureGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[name] = g
}

// Group implements Map.
func (m *MemoryMap) Group(name string) (FeatureGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[name]
	return g, ok
}

// SetView implements Map.
func (m *MemoryMap) SetView(center geo.LatLng, zoom int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view.Center = center
	m.view.Zoom = zoom
}

// View returns the current viewport.
func (m *MemoryMap) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// FitBounds implements Map.
func (m *MemoryMap) FitBounds(b orb.Bound, opts FitOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fitted = append(m.fitted, b)
	m.view.Center = geo.FromPoint(b.Center())
	if opts.MaxZoom > 0 {
		m.view.Zoom = opts.MaxZoom
	}
}

// Fitted returns every bound passed to FitBounds.
func (m *MemoryMap) Fitted() []orb.Bound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orb.Bound(nil), m.fitted...)
}

// On implements Map.
func (m *MemoryMap) On(event EventType, fn func(DrawEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], fn)
}

// Emit dispatches a drawing event to registered handlers.
func (m *MemoryMap) Emit(ev DrawEvent) {
	m.mu.Lock()
	handlers := slices.Clone(m.handlers[ev.Type])
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// EnableDraw implements Map.
func (m *MemoryMap) EnableDraw(kind Kind, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawing[kind] = enabled
}

// DrawEnabled reports whether the handler for kind is enabled.
func (m *MemoryMap) DrawEnabled(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawing[kind]
}

// MemoryGroup is the in-memory FeatureGroup.
type MemoryGroup struct {
	layers []Shape
	mu     sync.Mutex
}

// NewMemoryGroup returns an empty group.
func NewMemoryGroup() *MemoryGroup {
	return &MemoryGroup{}
}

// AddLayer implements FeatureGroup.
func (g *MemoryGroup) AddLayer(s Shape) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, l := range g.layers {
		if l == s {
			return
		}
	}
	g.layers = append(g.layers, s)
}

// RemoveLayer implements FeatureGroup.
func (g *MemoryGroup) RemoveLayer(s Shape) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, l := range g.layers {
		if l == s {
			g.layers = append(g.layers[:i], g.layers[i+1:]...)
			return
		}
	}
}

// HasLayer implements FeatureGroup.
func (g *MemoryGroup) HasLayer(s Shape) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, l := range g.layers {
		if l == s {
			return true
		}
	}
	return false
}

// ClearLayers implements FeatureGroup.
func (g *MemoryGroup) ClearLayers() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.layers = nil
}

// Layers implements FeatureGroup.
func (g *MemoryGroup) Layers() []Shape {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Shape(nil), g.layers...)
}

// MemoryShape is the in-memory Shape.
type MemoryShape struct {
	onClick func()
	kind    Kind
	popup   string
	latlngs []geo.LatLng
	style   Style
	radius  float64
	mu      sync.Mutex
}

func newMemoryShape(kind Kind, lls []geo.LatLng, radius float64) *MemoryShape {
	return &MemoryShape{
		kind:    kind,
		latlngs: append([]geo.LatLng(nil), lls...),
		radius:  radius,
		style:   Style{Color: "#3388ff", Weight: 3, Opacity: 1, FillColor: "#3388ff", FillOpacity: 0.2},
	}
}

// Kind implements Shape.
func (s *MemoryShape) Kind() Kind { return s.kind }

// LatLngs implements Shape.
func (s *MemoryShape) LatLngs() []geo.LatLng {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geo.LatLng(nil), s.latlngs...)
}

// SetLatLngs implements Shape.
func (s *MemoryShape) SetLatLngs(lls []geo.LatLng) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latlngs = append([]geo.LatLng(nil), lls...)
}

// Radius implements Shape.
func (s *MemoryShape) Radius() float64 { return s.radius }

// Style implements Shape.
func (s *MemoryShape) Style() Style {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

// SetStyle implements Shape.
func (s *MemoryShape) SetStyle(st Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = st
}

// BindPopup implements Shape.
func (s *MemoryShape) BindPopup(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popup = content
}

// Popup implements Shape.
func (s *MemoryShape) Popup() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popup
}

// OnClick implements Shape.
func (s *MemoryShape) OnClick(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick = fn
}

// Click invokes the registered click handler.
func (s *MemoryShape) Click() {
	s.mu.Lock()
	fn := s.onClick
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
