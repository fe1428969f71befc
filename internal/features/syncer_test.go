package features

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/bootstrap"
	"github.com/woozymasta/webgis/internal/geo"
	"github.com/woozymasta/webgis/internal/mapkit"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) CheckAuth(ctx context.Context) (*api.AuthStatus, error) {
	args := m.Called(ctx)
	st, _ := args.Get(0).(*api.AuthStatus)
	return st, args.Error(1)
}

func (m *mockBackend) ListFeatures(ctx context.Context) ([]api.FeatureRecord, error) {
	args := m.Called(ctx)
	recs, _ := args.Get(0).([]api.FeatureRecord)
	return recs, args.Error(1)
}

func (m *mockBackend) SaveFeature(ctx context.Context, rec api.FeatureRecord) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) DeleteFeature(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBackend) ClearFeatures(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type recorder struct {
	opened []string
	errs   []string
	warns  []string
	mu     sync.Mutex
}

func (r *recorder) Open(f Feature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, f.ID)
}

func (r *recorder) Info(string) {}

func (r *recorder) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
}

func (r *recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, msg)
}

type fixture struct {
	syncer  *Syncer
	toolkit *mapkit.Memory
	m       *mapkit.MemoryMap
	group   mapkit.FeatureGroup
	backend *mockBackend
	ui      *recorder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	tk := mapkit.NewMemory("map")
	mp, err := tk.NewMap("map", mapkit.View{})
	require.NoError(t, err)
	group := mp.NewFeatureGroup()
	mp.AddGroup(mapkit.DrawnItemsGroup, group)

	fx := &fixture{
		toolkit: tk,
		m:       mp.(*mapkit.MemoryMap),
		group:   group,
		backend: &mockBackend{},
		ui:      &recorder{},
	}
	if opts.Editor == nil {
		opts.Editor = fx.ui
	}
	if opts.Notifier == nil {
		opts.Notifier = fx.ui
	}
	fx.syncer = New(&bootstrap.Context{Toolkit: tk, Map: mp, DrawnItems: group}, fx.backend, opts)
	return fx
}

// metres per degree at the equator for orb.EarthRadius
var degree = orb.EarthRadius * math.Pi / 180

func square(side float64) []geo.LatLng {
	d := side / degree
	return []geo.LatLng{{Lat: 0, Lng: 0}, {Lat: 0, Lng: d}, {Lat: d, Lng: d}, {Lat: d, Lng: 0}}
}

func TestCreateFromDrawingAssignsIDAndOpensModal(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	shape := fx.toolkit.NewPolygon(square(100))

	id, err := fx.syncer.CreateFromDrawing(context.Background(), shape, mapkit.KindPolygon)
	require.NoError(t, err)

	assert.Regexp(t, `^feature_\d+_\w+$`, id)
	assert.Equal(t, []string{id}, fx.ui.opened)
	assert.True(t, fx.group.HasLayer(shape))

	f, ok := fx.syncer.Feature(id)
	require.True(t, ok)
	assert.Equal(t, geo.TypePolygon, f.Type())
	assert.InDelta(t, 10000, f.Properties[PropArea], 50)
	assert.InDelta(t, 400, f.Properties[PropPerimeter], 2)
	assert.NotEmpty(t, f.Properties[PropName])
	assert.NotEmpty(t, f.Properties[PropCreatedAt])
	assert.Contains(t, shape.Popup(), "Área")

	ring := f.Geometry.(orb.Polygon)[0]
	assert.Equal(t, ring[0], ring[len(ring)-1])
}

func TestCreateFromDrawingCircleKeepsRadius(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	shape := fx.toolkit.NewCircle(geo.LatLng{Lat: -2.5, Lng: -44.3}, 50)

	id, err := fx.syncer.CreateFromDrawing(context.Background(), shape, mapkit.KindCircle)
	require.NoError(t, err)

	f, _ := fx.syncer.Feature(id)
	assert.Equal(t, orb.Point{-44.3, -2.5}, f.Geometry)
	assert.Equal(t, 50.0, f.Properties[PropRadius])
	assert.InDelta(t, math.Pi*2500, f.Properties[PropArea], 0.01)
	assert.True(t, f.IsCircle())
}

func TestCreateFromDrawingSuggestsParcelNumber(t *testing.T) {
	now := time.UnixMilli(1700000123456)
	fx := newFixture(t, Options{Now: func() time.Time { return now }})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	ctx := context.Background()

	poly, err := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewPolygon(square(100)), mapkit.KindPolygon)
	require.NoError(t, err)
	line, err := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewPolyline([]geo.LatLng{{}, {Lat: 1}}), mapkit.KindPolyline)
	require.NoError(t, err)

	f, _ := fx.syncer.Feature(poly)
	assert.Equal(t, "GL-123456", f.Properties[PropNumber])
	f, _ = fx.syncer.Feature(line)
	assert.NotContains(t, f.Properties, PropNumber)
}

func TestCreateFromDrawingReconcilesOnce(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("srv_1", nil).Once()
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("srv_2", nil)
	ctx := context.Background()
	shape := fx.toolkit.NewPolygon(square(100))

	id, err := fx.syncer.CreateFromDrawing(ctx, shape, mapkit.KindPolygon)
	require.NoError(t, err)
	assert.Equal(t, "srv_1", id)
	assert.Equal(t, []string{"srv_1"}, fx.ui.opened)

	require.NoError(t, fx.syncer.Update(ctx, "srv_1", map[string]any{"nome_gleba": "Lote 1"}))
	_, ok := fx.syncer.Feature("srv_2")
	assert.False(t, ok)

	got, ok := fx.syncer.Shape("srv_1")
	require.True(t, ok)
	assert.Same(t, shape, got)

	shape.(*mapkit.MemoryShape).Click()
	assert.Equal(t, []string{"srv_1", "srv_1"}, fx.ui.opened)
}

func TestCreateFromDrawingSameShapeIsIdempotent(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	ctx := context.Background()
	shape := fx.toolkit.NewMarker(geo.LatLng{Lat: 1, Lng: 2})

	a, err := fx.syncer.CreateFromDrawing(ctx, shape, mapkit.KindMarker)
	require.NoError(t, err)
	b, err := fx.syncer.CreateFromDrawing(ctx, shape, mapkit.KindMarker)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, fx.syncer.Len())
	fx.backend.AssertNumberOfCalls(t, "SaveFeature", 1)
}

func TestCreateFromDrawingPersistFailureKeepsFeature(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", errors.New("offline"))
	shape := fx.toolkit.NewPolyline([]geo.LatLng{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.01}})

	id, err := fx.syncer.CreateFromDrawing(context.Background(), shape, mapkit.KindPolyline)
	require.NoError(t, err)

	f, ok := fx.syncer.Feature(id)
	require.True(t, ok)
	assert.Greater(t, f.Properties[PropLength], 1000.0)
	assert.Empty(t, fx.ui.errs)
}

func rawGeometry(t *testing.T, g orb.Geometry) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(geojson.NewGeometry(g))
	require.NoError(t, err)
	return raw
}

func TestRehydrateSkipsMalformed(t *testing.T) {
	fx := newFixture(t, Options{})
	records := []api.FeatureRecord{
		{ID: "p", Geometry: rawGeometry(t, orb.Point{-44.3, -2.5})},
		{ID: "c", Geometry: rawGeometry(t, orb.Point{-44.3, -2.5}), Properties: map[string]any{"radius": 25.0}},
		{ID: "l", Geometry: rawGeometry(t, orb.LineString{{0, 0}, {1, 1}})},
		{ID: "g", Geometry: rawGeometry(t, orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}),
			Properties: map[string]any{"stroke": "#ff0000"}},
		{ID: "bogus", Geometry: json.RawMessage(`{"type":"Bogus","coordinates":[1,2]}`)},
		{ID: "empty"},
		{ID: "broken", Geometry: json.RawMessage(`{`)},
		{ID: "short", Geometry: json.RawMessage(`{"type":"LineString","coordinates":[[0,0]]}`)},
		{ID: "multi", Geometry: rawGeometry(t, orb.MultiPoint{{0, 0}, {1, 1}})},
		{ID: "p", Geometry: rawGeometry(t, orb.Point{0, 0})},
	}

	var res RehydrateResult
	require.NotPanics(t, func() { res = fx.syncer.Rehydrate(records) })
	assert.Equal(t, RehydrateResult{Loaded: 4, Skipped: 6}, res)
	assert.Len(t, fx.group.Layers(), 4)

	circle, ok := fx.syncer.Shape("c")
	require.True(t, ok)
	assert.Equal(t, mapkit.KindCircle, circle.Kind())
	assert.Equal(t, 25.0, circle.Radius())

	poly, _ := fx.syncer.Shape("g")
	assert.Equal(t, "#ff0000", poly.Style().Color)
	assert.Len(t, poly.LatLngs(), 3)

	res = fx.syncer.Rehydrate(records[:1])
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, 1, fx.syncer.Len())
	assert.Len(t, fx.group.Layers(), 1)
}

func TestLoadPersistedSkipsWithoutAuth(t *testing.T) {
	fx := newFixture(t, Options{AuthAttempts: 3, AuthInterval: time.Millisecond})
	fx.backend.On("CheckAuth", mock.Anything).Return(&api.AuthStatus{Authenticated: false}, nil)

	_, err := fx.syncer.LoadPersisted(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	fx.backend.AssertNumberOfCalls(t, "CheckAuth", 3)
	fx.backend.AssertNotCalled(t, "ListFeatures", mock.Anything)
}

func TestLoadPersistedRetriesAuth(t *testing.T) {
	fx := newFixture(t, Options{AuthAttempts: 5, AuthInterval: time.Millisecond})
	fx.backend.On("CheckAuth", mock.Anything).Return(nil, &api.Error{Status: 401}).Twice()
	fx.backend.On("CheckAuth", mock.Anything).Return(&api.AuthStatus{Authenticated: true}, nil)
	fx.backend.On("ListFeatures", mock.Anything).Return([]api.FeatureRecord{
		{ID: "a", Geometry: rawGeometry(t, orb.Point{1, 2})},
	}, nil)

	res, err := fx.syncer.LoadPersisted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Loaded)
	fx.backend.AssertNumberOfCalls(t, "CheckAuth", 3)
}

func TestLoadPersistedUnauthorizedListIsSilent(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("CheckAuth", mock.Anything).Return(&api.AuthStatus{Authenticated: true}, nil)
	fx.backend.On("ListFeatures", mock.Anything).Return(nil, &api.Error{Status: 401})

	_, err := fx.syncer.LoadPersisted(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, fx.syncer.Len())
}

func TestLoadPersistedWithoutCollection(t *testing.T) {
	backend := &mockBackend{}
	s := New(nil, backend, Options{})

	_, err := s.LoadPersisted(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	backend.AssertNotCalled(t, "CheckAuth", mock.Anything)
}

func TestLoadPersistedCoalesces(t *testing.T) {
	fx := newFixture(t, Options{})
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	fx.backend.On("CheckAuth", mock.Anything).Return(&api.AuthStatus{Authenticated: true}, nil)
	fx.backend.On("ListFeatures", mock.Anything).Run(func(mock.Arguments) {
		started <- struct{}{}
		<-release
	}).Return([]api.FeatureRecord{}, nil)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = fx.syncer.LoadPersisted(ctx)
	}()
	<-started

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = fx.syncer.LoadPersisted(ctx)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	fx.backend.AssertNumberOfCalls(t, "ListFeatures", 1)
}

func TestUpdateRemeasuresAndRestyles(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil).Once()
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", errors.New("offline"))
	ctx := context.Background()
	shape := fx.toolkit.NewPolygon(square(100))

	id, err := fx.syncer.CreateFromDrawing(ctx, shape, mapkit.KindPolygon)
	require.NoError(t, err)

	shape.SetLatLngs(square(200))
	err = fx.syncer.Update(ctx, id, map[string]any{"nome_gleba": "Lote 1", "stroke": "#ff0000", "stroke-width": "5"})
	require.NoError(t, err)

	f, _ := fx.syncer.Feature(id)
	assert.InDelta(t, 40000, f.Properties[PropArea], 200)
	assert.Equal(t, "#ff0000", shape.Style().Color)
	assert.Equal(t, 5.0, shape.Style().Weight)
	assert.Contains(t, shape.Popup(), "Lote 1")
	assert.Contains(t, shape.Popup(), "ha")
}

func TestUpdateRejectsInvalidValues(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	ctx := context.Background()

	id, err := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewMarker(geo.LatLng{}), mapkit.KindMarker)
	require.NoError(t, err)

	err = fx.syncer.Update(ctx, id, map[string]any{"cep": "abc"})
	require.Error(t, err)
	f, _ := fx.syncer.Feature(id)
	assert.NotContains(t, f.Properties, "cep")

	assert.ErrorIs(t, fx.syncer.Update(ctx, "nope", nil), ErrNotFound)
}

func TestDeleteKeepsLocalRemovalOnBackendFailure(t *testing.T) {
	confirm := true
	fx := newFixture(t, Options{Confirmer: ConfirmFunc(func(string) bool { return confirm })})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	fx.backend.On("DeleteFeature", mock.Anything, mock.Anything).Return(errors.New("boom"))
	ctx := context.Background()
	shape := fx.toolkit.NewMarker(geo.LatLng{Lat: 1, Lng: 1})

	id, err := fx.syncer.CreateFromDrawing(ctx, shape, mapkit.KindMarker)
	require.NoError(t, err)

	confirm = false
	assert.ErrorIs(t, fx.syncer.Delete(ctx, id), ErrCancelled)
	assert.Equal(t, 1, fx.syncer.Len())

	confirm = true
	err = fx.syncer.Delete(ctx, id)
	require.Error(t, err)
	assert.Zero(t, fx.syncer.Len())
	assert.False(t, fx.group.HasLayer(shape))
	require.Len(t, fx.ui.errs, 1)
	assert.Contains(t, fx.ui.errs[0], "boom")
}

func TestDeleteNeverPersistedIsQuiet(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	fx.backend.On("DeleteFeature", mock.Anything, mock.Anything).Return(&api.Error{Status: 404})
	ctx := context.Background()

	id, _ := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewMarker(geo.LatLng{}), mapkit.KindMarker)
	assert.NoError(t, fx.syncer.Delete(ctx, id))
	assert.Empty(t, fx.ui.errs)
}

func TestToggleVisibility(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	shape := fx.toolkit.NewPolygon(square(50))

	id, err := fx.syncer.CreateFromDrawing(context.Background(), shape, mapkit.KindPolygon)
	require.NoError(t, err)

	require.NoError(t, fx.syncer.ToggleVisibility(id, false))
	assert.False(t, fx.group.HasLayer(shape))
	assert.False(t, fx.syncer.Visible(id))
	assert.Equal(t, 1, fx.syncer.Len())
	assert.Len(t, fx.syncer.ExportAll().Features, 1)

	require.NoError(t, fx.syncer.ToggleVisibility(id, true))
	assert.True(t, fx.group.HasLayer(shape))
	assert.True(t, fx.syncer.Visible(id))
}

func TestUpdateMasksDocuments(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	ctx := context.Background()

	id, err := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewPolygon(square(100)), mapkit.KindPolygon)
	require.NoError(t, err)

	changes := map[string]any{"cpf": "12345678909", "cep": "65000000"}
	require.NoError(t, fx.syncer.Update(ctx, id, changes))

	f, _ := fx.syncer.Feature(id)
	assert.Equal(t, "123.456.789-09", f.Properties["cpf"])
	assert.Equal(t, "65000-000", f.Properties["cep"])
	assert.Equal(t, "12345678909", changes["cpf"])
}

func TestExportImportRoundTrip(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	ctx := context.Background()

	_, err := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewPolygon(square(100)), mapkit.KindPolygon)
	require.NoError(t, err)
	_, err = fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewMarker(geo.LatLng{Lat: -2.5, Lng: -44.3}), mapkit.KindMarker)
	require.NoError(t, err)

	raw, err := json.Marshal(fx.syncer.ExportAll())
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	other := newFixture(t, Options{})
	res, err := other.syncer.Import(ctx, fc, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Zero(t, res.Persisted)
	assert.Empty(t, other.ui.opened)
	other.backend.AssertNotCalled(t, "SaveFeature", mock.Anything, mock.Anything)

	orig := fx.syncer.Features()
	got := other.syncer.Features()
	require.Len(t, got, 2)
	for _, f := range got {
		assert.Regexp(t, `^imported_\d+_\d$`, f.ID)
	}
	for _, want := range orig {
		found := false
		for _, f := range got {
			if orb.Equal(want.Geometry, f.Geometry) {
				found = true
				assert.Equal(t, want.Properties[PropName], f.Properties[PropName])
			}
		}
		assert.True(t, found, "geometry of %s not imported", want.ID)
	}
}

func TestImportPersists(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("x", nil).Once()
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", errors.New("offline"))

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{1, 2}))
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}}))
	fc.Append(geojson.NewFeature(orb.MultiPoint{{0, 0}}))

	res, err := fx.syncer.Import(context.Background(), fc, true)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 2, Skipped: 1, Persisted: 1}, res)
}

func TestClearAll(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	fx.backend.On("ClearFeatures", mock.Anything).Return(0, errors.New("boom"))
	ctx := context.Background()

	for i := range 3 {
		_, err := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewMarker(geo.LatLng{Lat: float64(i)}), mapkit.KindMarker)
		require.NoError(t, err)
	}

	require.NoError(t, fx.syncer.ClearAll(ctx))
	assert.Zero(t, fx.syncer.Len())
	assert.Empty(t, fx.group.Layers())
	assert.Len(t, fx.ui.warns, 1)
}

func TestZoomTo(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	ctx := context.Background()

	pt, _ := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewMarker(geo.LatLng{Lat: -2.5, Lng: -44.3}), mapkit.KindMarker)
	poly, _ := fx.syncer.CreateFromDrawing(ctx, fx.toolkit.NewPolygon(square(100)), mapkit.KindPolygon)

	require.NoError(t, fx.syncer.ZoomTo(pt))
	assert.Equal(t, PointZoom, fx.m.View().Zoom)
	assert.Equal(t, geo.LatLng{Lat: -2.5, Lng: -44.3}, fx.m.View().Center)

	require.NoError(t, fx.syncer.ZoomTo(poly))
	assert.Len(t, fx.m.Fitted(), 1)
	assert.Equal(t, FitMaxZoom, fx.m.View().Zoom)

	assert.ErrorIs(t, fx.syncer.ZoomTo("nope"), ErrNotFound)
}

func TestListenRoutesDrawEvents(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	fx.backend.On("DeleteFeature", mock.Anything, mock.Anything).Return(nil)
	fx.syncer.Listen(context.Background())
	assert.True(t, fx.m.DrawEnabled(mapkit.KindPolygon))

	shape := fx.toolkit.NewRectangle(geo.LatLng{Lat: 0, Lng: 0}, geo.LatLng{Lat: 0.001, Lng: 0.001})
	fx.m.Emit(mapkit.DrawEvent{Type: mapkit.EventCreated, Kind: mapkit.KindRectangle, Shapes: []mapkit.Shape{shape}})
	require.Equal(t, 1, fx.syncer.Len())

	id := fx.syncer.Features()[0].ID
	before, _ := fx.syncer.Feature(id)
	shape.SetLatLngs(square(300))
	fx.m.Emit(mapkit.DrawEvent{Type: mapkit.EventEdited, Shapes: []mapkit.Shape{shape}})
	after, _ := fx.syncer.Feature(id)
	assert.Greater(t, after.Properties[PropArea], before.Properties[PropArea])

	fx.group.RemoveLayer(shape)
	fx.m.Emit(mapkit.DrawEvent{Type: mapkit.EventDeleted, Shapes: []mapkit.Shape{shape}})
	assert.Zero(t, fx.syncer.Len())
	fx.backend.AssertCalled(t, "DeleteFeature", mock.Anything, id)
}

func TestViewsRefreshAfterMutation(t *testing.T) {
	var renders [][]Entry
	fx := newFixture(t, Options{})
	fx.backend.On("SaveFeature", mock.Anything, mock.Anything).Return("", nil)
	fx.syncer.AddView(ViewFunc(func(entries []Entry) { renders = append(renders, entries) }))

	id, err := fx.syncer.CreateFromDrawing(context.Background(), fx.toolkit.NewMarker(geo.LatLng{}), mapkit.KindMarker)
	require.NoError(t, err)
	require.NoError(t, fx.syncer.ToggleVisibility(id, false))

	require.Len(t, renders, 3)
	assert.Empty(t, renders[0])
	last := renders[len(renders)-1]
	require.Len(t, last, 1)
	assert.False(t, last[0].Visible)
}

func TestAttach(t *testing.T) {
	tk := mapkit.NewMemory("map")
	m := bootstrap.New(tk, bootstrap.Options{Interval: time.Millisecond, LoadDelay: 5 * time.Millisecond})
	backend := &mockBackend{}
	backend.On("CheckAuth", mock.Anything).Return(&api.AuthStatus{Authenticated: true}, nil)
	backend.On("ListFeatures", mock.Anything).Return([]api.FeatureRecord{
		{ID: "a", Geometry: rawGeometry(t, orb.Point{1, 2})},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := Attach(ctx, m, backend, Options{})
	m.Start(ctx)

	var s *Syncer
	select {
	case s = <-ch:
	case <-ctx.Done():
		t.Fatal("syncer never attached")
	}

	assert.Eventually(t, func() bool { return s.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
}
