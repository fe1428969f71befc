// Package features keeps the rendered shapes, the in-memory feature set and
// the backend store consistent.
package features

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/bootstrap"
	"github.com/woozymasta/webgis/internal/geo"
	"github.com/woozymasta/webgis/internal/mapkit"
	"github.com/woozymasta/webgis/internal/parcel"
	"golang.org/x/sync/singleflight"
)

// Zoom limits used by ZoomTo.
const (
	PointZoom    = 19
	FitMaxZoom   = 18
	FitPadding   = 10
	confirmClear = "Tem certeza que deseja remover todas as camadas?"
)

// Options configures a Syncer.
type Options struct {
	Editor       Editor
	Confirmer    Confirmer
	Notifier     Notifier
	Views        []View
	Measurer     *geo.Measurer
	Now          func() time.Time
	AuthAttempts int
	AuthInterval time.Duration
}

func (o *Options) defaults() {
	if o.Editor == nil {
		o.Editor = nopEditor{}
	}
	if o.Confirmer == nil {
		o.Confirmer = AlwaysConfirm
	}
	if o.Notifier == nil {
		o.Notifier = LogNotifier{}
	}
	if o.Measurer == nil {
		o.Measurer = geo.NewMeasurer()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AuthAttempts <= 0 {
		o.AuthAttempts = 5
	}
	if o.AuthInterval <= 0 {
		o.AuthInterval = time.Second
	}
}

// RehydrateResult counts the outcome of a bulk rebuild.
type RehydrateResult struct {
	Loaded  int
	Skipped int
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Imported  int
	Skipped   int
	Persisted int
}

type entry struct {
	shape      mapkit.Shape
	feature    Feature
	visible    bool
	reconciled bool
}

// Syncer owns the feature set. Every mutation keeps the drawn-items
// collection, the id index and the shape index in step.
type Syncer struct {
	toolkit mapkit.Toolkit
	m       mapkit.Map
	group   mapkit.FeatureGroup
	backend Backend

	entries map[string]*entry
	byShape map[mapkit.Shape]string

	loads singleflight.Group
	opts  Options
	mu    sync.Mutex
	seq   int
}

// New binds a Syncer to the handles published by the bootstrap machine.
func New(app *bootstrap.Context, backend Backend, opts Options) *Syncer {
	opts.defaults()
	s := &Syncer{
		backend: backend,
		opts:    opts,
		entries: make(map[string]*entry),
		byShape: make(map[mapkit.Shape]string),
	}
	if app != nil {
		s.toolkit = app.Toolkit
		s.m = app.Map
		s.group = app.DrawnItems
	}
	return s
}

// AddView registers a projection refreshed after every mutation.
func (s *Syncer) AddView(v View) {
	s.mu.Lock()
	s.opts.Views = append(s.opts.Views, v)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	v.Render(snap)
}

// Listen routes drawing plugin events into the Syncer and enables the
// drawing handlers.
func (s *Syncer) Listen(ctx context.Context) {
	if s.m == nil {
		return
	}

	s.m.On(mapkit.EventCreated, func(ev mapkit.DrawEvent) {
		for _, shape := range ev.Shapes {
			kind := ev.Kind
			if kind == "" {
				kind = shape.Kind()
			}
			if _, err := s.CreateFromDrawing(ctx, shape, kind); err != nil {
				log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to register drawn shape")
			}
		}
	})
	s.m.On(mapkit.EventEdited, func(ev mapkit.DrawEvent) {
		for _, shape := range ev.Shapes {
			s.OnShapeEdited(ctx, shape)
		}
	})
	s.m.On(mapkit.EventDeleted, func(ev mapkit.DrawEvent) {
		for _, shape := range ev.Shapes {
			s.OnShapeDeleted(ctx, shape)
		}
	})

	for _, kind := range []mapkit.Kind{
		mapkit.KindMarker, mapkit.KindPolyline, mapkit.KindPolygon,
		mapkit.KindRectangle, mapkit.KindCircle,
	} {
		s.m.EnableDraw(kind, true)
	}
}

// CreateFromDrawing registers a shape produced by the drawing plugin,
// persists it and opens the edit modal. A shape already registered keeps
// its id.
func (s *Syncer) CreateFromDrawing(ctx context.Context, shape mapkit.Shape, kind mapkit.Kind) (string, error) {
	s.mu.Lock()
	if s.group == nil {
		s.mu.Unlock()
		return "", ErrNotReady
	}
	if id, ok := s.byShape[shape]; ok {
		s.mu.Unlock()
		return id, nil
	}

	g, err := geometryOf(shape, kind)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}

	now := s.opts.Now()
	s.seq++
	f := Feature{
		ID:       NewID(now),
		Geometry: g,
		Properties: map[string]any{
			PropName:      fmt.Sprintf("%s %d", kindLabel(kind), s.seq),
			PropCreatedAt: now.UTC().Format(time.RFC3339),
		},
	}
	switch kind {
	case mapkit.KindCircle:
		f.Properties[PropRadius] = shape.Radius()
	case mapkit.KindPolygon, mapkit.KindRectangle:
		f.Properties[PropNumber] = parcel.SuggestNumber(now)
	}
	s.measure(&f)

	e := &entry{shape: shape, feature: f, visible: true}
	s.register(e)
	s.group.AddLayer(shape)

	rec, err := f.Record()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.render(snap)

	id := f.ID
	if err == nil {
		id = s.persistNew(ctx, f.ID, rec)
	}

	log.Info().Str("id", id).Str("kind", string(kind)).Msg("Feature created")
	if cur, ok := s.Feature(id); ok {
		s.opts.Editor.Open(cur)
	}
	return id, nil
}

// persistNew saves a fresh feature and applies the single id reconciliation.
func (s *Syncer) persistNew(ctx context.Context, id string, rec api.FeatureRecord) string {
	newID, err := s.backend.SaveFeature(ctx, rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[id]
	if e == nil {
		return id
	}
	if err != nil {
		e.reconciled = true
		log.Warn().Err(err).Str("id", id).Msg("Failed to persist new feature")
		return id
	}
	if e.reconciled || newID == "" || newID == id {
		e.reconciled = true
		return id
	}
	if _, taken := s.entries[newID]; taken {
		e.reconciled = true
		log.Warn().Str("id", id).Str("server_id", newID).Msg("Server id already in use, keeping client id")
		return id
	}

	delete(s.entries, id)
	e.feature.ID = newID
	e.reconciled = true
	s.entries[newID] = e
	s.byShape[e.shape] = newID
	log.Debug().Str("id", id).Str("server_id", newID).Msg("Feature id reconciled")
	return newID
}

// Rehydrate replaces the in-memory set with the given records. Records with
// unknown or malformed geometry are skipped.
func (s *Syncer) Rehydrate(records []api.FeatureRecord) RehydrateResult {
	var res RehydrateResult

	s.mu.Lock()
	if s.group == nil {
		s.mu.Unlock()
		log.Error().Msg("Drawn items collection missing, rehydration abandoned")
		res.Skipped = len(records)
		return res
	}

	s.group.ClearLayers()
	s.entries = make(map[string]*entry)
	s.byShape = make(map[mapkit.Shape]string)

	for i, rec := range records {
		f, err := decodeRecord(rec)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Str("id", rec.ID).Msg("Skipping persisted feature")
			res.Skipped++
			continue
		}
		if f.ID == "" {
			f.ID = NewID(s.opts.Now())
			log.Warn().Int("index", i).Str("id", f.ID).Msg("Persisted feature without id, assigned a new one")
		}
		if _, dup := s.entries[f.ID]; dup {
			log.Warn().Int("index", i).Str("id", f.ID).Msg("Skipping duplicate persisted feature")
			res.Skipped++
			continue
		}

		e := &entry{shape: s.shapeFor(f), feature: f, visible: true, reconciled: true}
		s.register(e)
		s.group.AddLayer(e.shape)
		res.Loaded++
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.render(snap)

	log.Info().Int("loaded", res.Loaded).Int("skipped", res.Skipped).Msg("Features rehydrated")
	return res
}

// LoadPersisted waits for an authenticated session, then fetches and
// rehydrates the stored features. Concurrent calls share one load.
func (s *Syncer) LoadPersisted(ctx context.Context) (RehydrateResult, error) {
	v, err, shared := s.loads.Do("load", func() (any, error) {
		return s.load(ctx)
	})
	if shared {
		log.Debug().Msg("Feature load coalesced with one in flight")
	}
	res, _ := v.(RehydrateResult)
	return res, err
}

func (s *Syncer) load(ctx context.Context) (RehydrateResult, error) {
	s.mu.Lock()
	ready := s.group != nil
	s.mu.Unlock()
	if !ready {
		log.Error().Msg("Drawn items collection missing, feature load abandoned")
		return RehydrateResult{}, ErrNotReady
	}

	if err := s.waitAuth(ctx); err != nil {
		return RehydrateResult{}, err
	}

	records, err := s.backend.ListFeatures(ctx)
	if err != nil {
		if api.IsUnauthorized(err) {
			log.Debug().Msg("Session expired before feature load, skipping")
			return RehydrateResult{}, nil
		}
		log.Error().Err(err).Msg("Failed to fetch persisted features")
		return RehydrateResult{}, err
	}

	return s.Rehydrate(records), nil
}

func (s *Syncer) waitAuth(ctx context.Context) error {
	for attempt := 1; attempt <= s.opts.AuthAttempts; attempt++ {
		st, err := s.backend.CheckAuth(ctx)
		if err == nil && st != nil && st.Authenticated {
			return nil
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("Waiting for authenticated session")

		if attempt == s.opts.AuthAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.AuthInterval):
		}
	}

	log.Warn().Int("attempts", s.opts.AuthAttempts).Msg("Session not authenticated, feature load skipped")
	return ErrNotAuthenticated
}

// Update merges changes into a feature, re-derives its measurements from the
// current shape, refreshes style and popup, and persists best-effort.
func (s *Syncer) Update(ctx context.Context, id string, changes map[string]any) error {
	if len(changes) > 0 {
		p, err := parcel.FromProperties(changes)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		changes = maskedChanges(changes, p)
	}

	s.mu.Lock()
	e := s.entries[id]
	if e == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for k, v := range changes {
		e.feature.Properties[k] = v
	}
	if g, err := geometryOf(e.shape, e.shape.Kind()); err == nil {
		e.feature.Geometry = g
	}
	s.measure(&e.feature)
	s.decorate(e)

	rec, err := e.feature.Record()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.render(snap)

	if err != nil {
		return err
	}
	if _, err := s.backend.SaveFeature(ctx, rec); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to persist feature update")
	}
	return nil
}

// OnShapeEdited handles a geometry edit made with the drawing plugin.
func (s *Syncer) OnShapeEdited(ctx context.Context, shape mapkit.Shape) {
	id, ok := s.idOf(shape)
	if !ok {
		return
	}
	if err := s.Update(ctx, id, nil); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to apply shape edit")
	}
}

// OnShapeDeleted handles a removal made with the drawing plugin. The plugin
// has already confirmed with the user.
func (s *Syncer) OnShapeDeleted(ctx context.Context, shape mapkit.Shape) {
	id, ok := s.idOf(shape)
	if !ok {
		return
	}
	if err := s.remove(ctx, id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to delete feature")
	}
}

// Delete asks for confirmation, removes the feature locally and then from
// the backend. A backend failure does not restore the feature.
func (s *Syncer) Delete(ctx context.Context, id string) error {
	title := id
	if f, ok := s.Feature(id); ok {
		title = Title(f)
	}
	if !s.opts.Confirmer.Confirm(fmt.Sprintf("Tem certeza que deseja remover \"%s\"?", title)) {
		return ErrCancelled
	}
	return s.remove(ctx, id)
}

func (s *Syncer) remove(ctx context.Context, id string) error {
	s.mu.Lock()
	e := s.entries[id]
	if e == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.group != nil {
		s.group.RemoveLayer(e.shape)
	}
	delete(s.entries, id)
	delete(s.byShape, e.shape)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.render(snap)

	err := s.backend.DeleteFeature(ctx, id)
	switch {
	case err == nil:
		log.Info().Str("id", id).Msg("Feature deleted")
		return nil
	case api.IsNotFound(err):
		log.Debug().Str("id", id).Msg("Feature was never persisted")
		return nil
	default:
		s.opts.Notifier.Error("Erro ao deletar feature: " + err.Error())
		return fmt.Errorf("delete %s: %w", id, err)
	}
}

// ClearAll asks for confirmation, drops every feature locally and then
// requests the bulk delete.
func (s *Syncer) ClearAll(ctx context.Context) error {
	if !s.opts.Confirmer.Confirm(confirmClear) {
		return ErrCancelled
	}

	s.mu.Lock()
	if s.group != nil {
		s.group.ClearLayers()
	}
	n := len(s.entries)
	s.entries = make(map[string]*entry)
	s.byShape = make(map[mapkit.Shape]string)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.render(snap)

	deleted, err := s.backend.ClearFeatures(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to clear persisted features")
		s.opts.Notifier.Warn("Camadas removidas localmente, mas houve erro ao limpar o servidor")
		return nil
	}
	log.Info().Int("local", n).Int("remote", deleted).Msg("All features cleared")
	return nil
}

// ToggleVisibility shows or hides a feature's shape. The feature itself is
// kept.
func (s *Syncer) ToggleVisibility(id string, visible bool) error {
	s.mu.Lock()
	e := s.entries[id]
	if e == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.group != nil {
		if visible {
			s.group.AddLayer(e.shape)
		} else {
			s.group.RemoveLayer(e.shape)
		}
	}
	e.visible = visible
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.render(snap)
	return nil
}

// ExportAll returns every feature, hidden ones included, ordered by id.
func (s *Syncer) ExportAll() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range s.Features() {
		fc.Append(f.GeoJSON())
	}
	return fc
}

// Import registers the features of a collection under fresh ids and
// optionally persists them. The edit modal is not opened.
func (s *Syncer) Import(ctx context.Context, fc *geojson.FeatureCollection, persist bool) (ImportResult, error) {
	var res ImportResult
	if fc == nil {
		return res, nil
	}

	s.mu.Lock()
	if s.group == nil {
		s.mu.Unlock()
		return res, ErrNotReady
	}

	now := s.opts.Now()
	var records []api.FeatureRecord
	for i, gf := range fc.Features {
		if gf == nil {
			res.Skipped++
			continue
		}
		if err := checkGeometry(gf.Geometry); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Skipping imported feature")
			res.Skipped++
			continue
		}

		f := Feature{
			ID:         ImportedID(now, i),
			Geometry:   orb.Clone(gf.Geometry),
			Properties: cloneProps(gf.Properties),
		}
		e := &entry{shape: s.shapeFor(f), feature: f, visible: true, reconciled: true}
		s.register(e)
		s.group.AddLayer(e.shape)
		res.Imported++

		if persist {
			if rec, err := f.Record(); err == nil {
				records = append(records, rec)
			}
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.render(snap)

	for _, rec := range records {
		if _, err := s.backend.SaveFeature(ctx, rec); err != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("Failed to persist imported feature")
			continue
		}
		res.Persisted++
	}

	log.Info().Int("imported", res.Imported).Int("skipped", res.Skipped).Int("persisted", res.Persisted).Msg("Features imported")
	return res, nil
}

// Feature returns a copy of one feature.
func (s *Syncer) Feature(id string) (Feature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	if e == nil {
		return Feature{}, false
	}
	return e.feature.clone(), true
}

// Features returns copies of every feature ordered by id.
func (s *Syncer) Features() []Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Feature, 0, len(s.entries))
	for _, id := range s.sortedIDsLocked() {
		out = append(out, s.entries[id].feature.clone())
	}
	return out
}

// Entries returns the current projection rows.
func (s *Syncer) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Measurer returns the measurer used for area, perimeter and length.
func (s *Syncer) Measurer() *geo.Measurer {
	return s.opts.Measurer
}

// Len returns the number of features.
func (s *Syncer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Visible reports whether a feature's shape is on the map.
func (s *Syncer) Visible(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	return e != nil && e.visible
}

// Shape returns the shape rendering a feature.
func (s *Syncer) Shape(id string) (mapkit.Shape, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	if e == nil {
		return nil, false
	}
	return e.shape, true
}

// ZoomTo fits the map to a feature. Points are centred at a fixed zoom.
func (s *Syncer) ZoomTo(id string) error {
	s.mu.Lock()
	e := s.entries[id]
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.m == nil {
		return ErrNotReady
	}

	if e.shape.Kind() == mapkit.KindMarker {
		if lls := e.shape.LatLngs(); len(lls) > 0 {
			s.m.SetView(lls[0], PointZoom)
		}
		return nil
	}
	s.m.FitBounds(mapkit.Bounds(e.shape), mapkit.FitOptions{Padding: FitPadding, MaxZoom: FitMaxZoom})
	return nil
}

// OpenEditor opens the edit modal for a feature.
func (s *Syncer) OpenEditor(id string) error {
	f, ok := s.Feature(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.opts.Editor.Open(f)
	return nil
}

func (s *Syncer) idOf(shape mapkit.Shape) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byShape[shape]
	return id, ok
}

// register indexes an entry and decorates its shape. Caller holds mu.
func (s *Syncer) register(e *entry) {
	s.entries[e.feature.ID] = e
	s.byShape[e.shape] = e.feature.ID
	s.decorate(e)

	shape := e.shape
	shape.OnClick(func() {
		if id, ok := s.idOf(shape); ok {
			_ = s.OpenEditor(id)
		}
	})
}

func (s *Syncer) decorate(e *entry) {
	ApplyStyle(e.shape, e.feature.Properties)
	e.shape.BindPopup(Popup(e.feature))
}

func (s *Syncer) measure(f *Feature) {
	m := s.opts.Measurer.Measure(f.Geometry, f.Radius())
	switch f.Geometry.(type) {
	case orb.Polygon:
		f.Properties[PropArea] = geo.Round2(m.Area)
		f.Properties[PropPerimeter] = geo.Round2(m.Perimeter)
	case orb.LineString:
		f.Properties[PropLength] = geo.Round2(m.Length)
	case orb.Point:
		if f.Radius() > 0 {
			f.Properties[PropArea] = geo.Round2(m.Area)
			f.Properties[PropPerimeter] = geo.Round2(m.Perimeter)
		}
	}
}

// shapeFor builds the displayed shape of a decoded feature. Caller holds mu.
func (s *Syncer) shapeFor(f Feature) mapkit.Shape {
	switch g := f.Geometry.(type) {
	case orb.Point:
		if r := f.Radius(); r > 0 {
			return s.toolkit.NewCircle(geo.FromPoint(g), r)
		}
		return s.toolkit.NewMarker(geo.FromPoint(g))
	case orb.LineString:
		return s.toolkit.NewPolyline(geo.ToLatLngs(g))
	case orb.Polygon:
		return s.toolkit.NewPolygon(geo.OpenRing(g[0]))
	}
	return nil
}

func (s *Syncer) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, id := range s.sortedIDsLocked() {
		e := s.entries[id]
		out = append(out, Entry{Feature: e.feature.clone(), Visible: e.visible})
	}
	return out
}

func (s *Syncer) sortedIDsLocked() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Syncer) render(snap []Entry) {
	s.mu.Lock()
	views := append([]View(nil), s.opts.Views...)
	s.mu.Unlock()
	for _, v := range views {
		v.Render(snap)
	}
}

// geometryOf derives the GeoJSON geometry of a shape.
func geometryOf(shape mapkit.Shape, kind mapkit.Kind) (orb.Geometry, error) {
	lls := shape.LatLngs()
	switch kind {
	case mapkit.KindMarker, mapkit.KindCircle:
		if len(lls) == 0 {
			return nil, fmt.Errorf("%w: %s without a position", ErrMalformedGeometry, kind)
		}
		return lls[0].Point(), nil
	case mapkit.KindPolyline:
		if len(lls) < 2 {
			return nil, fmt.Errorf("%w: line with %d points", ErrMalformedGeometry, len(lls))
		}
		return orb.LineString(geo.FromLatLngs(lls)), nil
	case mapkit.KindPolygon, mapkit.KindRectangle:
		if len(lls) < 3 {
			return nil, fmt.Errorf("%w: ring with %d points", ErrMalformedGeometry, len(lls))
		}
		return orb.Polygon{geo.RingFromLatLngs(lls)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, kind)
}

func kindLabel(kind mapkit.Kind) string {
	switch kind {
	case mapkit.KindMarker:
		return "Ponto"
	case mapkit.KindPolyline:
		return "Linha"
	case mapkit.KindCircle:
		return "Círculo"
	case mapkit.KindRectangle:
		return "Retângulo"
	}
	return "Polígono"
}

// maskedChanges copies changes with document fields in their display form.
func maskedChanges(changes map[string]any, p parcel.Parcel) map[string]any {
	out := maps.Clone(changes)
	for k, v := range map[string]string{"cpf": p.CPF, "cep": p.CEP, "rg": p.RG} {
		if _, ok := out[k]; ok && v != "" {
			out[k] = v
		}
	}
	return out
}
