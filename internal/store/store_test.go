package store

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/webgis/internal/catalog"
	"github.com/woozymasta/webgis/internal/config"
	"github.com/woozymasta/webgis/internal/parcel"
	"gorm.io/datatypes"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const polygonJSON = `{"type":"Polygon","coordinates":[[[-44.30,-2.53],[-44.29,-2.53],[-44.29,-2.52],[-44.30,-2.52],[-44.30,-2.53]]]}`

func TestOpenRejectsDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestPing(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestCellOf(t *testing.T) {
	cell := CellOf([]byte(`{"type":"Point","coordinates":[-44.3028,-2.5297]}`))
	assert.Len(t, cell, 15)
	assert.Equal(t, cell, CellOf([]byte(`{"type":"Point","coordinates":[-44.3028,-2.5297]}`)))

	assert.NotEmpty(t, CellOf([]byte(polygonJSON)))
	assert.Empty(t, CellOf([]byte(`{"type":"LineString","coordinates":[]}`)))
	assert.Empty(t, CellOf([]byte(`nope`)))
}

func TestFeatureUpsertAndScope(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	f := &Feature{
		ID:         "feature_1",
		CreatedBy:  "alice",
		Geometry:   datatypes.JSON(`{"type":"Point","coordinates":[-44.3,-2.5]}`),
		Properties: datatypes.JSONMap{"name": "Ponto 1"},
	}
	require.NoError(t, s.SaveFeature(ctx, f))
	assert.Equal(t, "Point", f.Type)
	assert.NotEmpty(t, f.Cell)

	require.NoError(t, s.SaveFeature(ctx, &Feature{
		ID:         "feature_1",
		CreatedBy:  "alice",
		Geometry:   datatypes.JSON(polygonJSON),
		Properties: datatypes.JSONMap{"name": "Lote"},
	}))
	require.NoError(t, s.SaveFeature(ctx, &Feature{
		ID:        "feature_1",
		CreatedBy: "bob",
		Geometry:  datatypes.JSON(`{"type":"Point","coordinates":[0,0]}`),
	}))

	list, err := s.ListFeatures(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Polygon", list[0].Type)
	assert.Equal(t, "Lote", list[0].Properties["name"])

	inCell, err := s.FeaturesInCell(ctx, "alice", list[0].Cell)
	require.NoError(t, err)
	assert.Len(t, inCell, 1)

	assert.ErrorIs(t, s.DeleteFeature(ctx, "alice", "ghost"), ErrNotFound)
	require.NoError(t, s.DeleteFeature(ctx, "alice", "feature_1"))

	bobs, err := s.ListFeatures(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}

func TestClearFeatures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i := range 3 {
		require.NoError(t, s.SaveFeature(ctx, &Feature{
			ID:        fmt.Sprintf("f%d", i),
			CreatedBy: "alice",
			Geometry:  datatypes.JSON(`{"type":"Point","coordinates":[1,1]}`),
		}))
	}

	n, err := s.ClearFeatures(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = s.ClearFeatures(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func newGleba(user, number string) *Gleba {
	return &Gleba{
		Parcel:    parcel.Parcel{NoGleba: number, NomeGleba: "Sítio " + number},
		CreatedBy: user,
		Geometry:  datatypes.JSON(polygonJSON),
	}
}

func TestGlebaCreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.CreateGleba(ctx, newGleba("alice", "GL-1")))
	assert.ErrorIs(t, s.CreateGleba(ctx, newGleba("alice", "GL-1")), ErrDuplicateNumber)
	require.NoError(t, s.CreateGleba(ctx, newGleba("bob", "GL-1")))
	assert.ErrorIs(t, s.CreateGleba(ctx, newGleba("alice", "")), parcel.ErrNumberRequired)
}

func TestGlebaPartialUpdate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	area := 120.5
	g := newGleba("alice", "GL-1")
	g.Area = &area
	g.Proprietario = "Maria"
	require.NoError(t, s.CreateGleba(ctx, g))
	require.NoError(t, s.CreateGleba(ctx, newGleba("alice", "GL-2")))

	got, err := s.UpdateGleba(ctx, "alice", g.ID, map[string]any{
		"proprietario": "João",
		"cidade":       "São Luís",
		"unknown":      "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "João", got.Proprietario)
	assert.Equal(t, "São Luís", got.Cidade)
	assert.Equal(t, "GL-1", got.NoGleba)
	require.NotNil(t, got.Area)
	assert.InDelta(t, 120.5, *got.Area, 1e-9)

	got, err = s.UpdateGleba(ctx, "alice", g.ID, map[string]any{"area": nil, "proprietario": ""})
	require.NoError(t, err)
	assert.Nil(t, got.Area)
	assert.Empty(t, got.Proprietario)

	_, err = s.UpdateGleba(ctx, "alice", g.ID, map[string]any{"no_gleba": "GL-2"})
	assert.ErrorIs(t, err, ErrDuplicateNumber)

	_, err = s.UpdateGleba(ctx, "alice", g.ID, map[string]any{"cep": "123"})
	assert.Error(t, err)

	_, err = s.UpdateGleba(ctx, "bob", g.ID, map[string]any{"cidade": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGlebaListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a, b := newGleba("alice", "GL-1"), newGleba("alice", "GL-2")
	require.NoError(t, s.CreateGleba(ctx, a))
	require.NoError(t, s.CreateGleba(ctx, b))

	list, err := s.ListGlebas(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "GL-2", list[0].NoGleba)

	assert.ErrorIs(t, s.DeleteGleba(ctx, "bob", a.ID), ErrNotFound)
	require.NoError(t, s.DeleteGleba(ctx, "alice", a.ID))
	_, err = s.GetGleba(ctx, "alice", a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLayers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	seeded, err := s.SeedProject(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, seeded)
	seeded, err = s.SeedProject(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, seeded)

	groups, err := s.LayerGroups(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, groups, 4)
	assert.Equal(t, "group_base", groups[0].ID)
	assert.Equal(t, 2, groups[1].LayerCount)

	g := &catalog.LayerGroup{Name: "Novo"}
	require.NoError(t, s.CreateLayerGroup(ctx, "p1", g))
	assert.True(t, strings.HasPrefix(g.ID, "group_"))

	assert.ErrorIs(t, s.CreateLayer(ctx, "p1", &catalog.Layer{Name: "x"}), catalog.ErrLayerNameRequired)

	l := &catalog.Layer{Name: "rios", DisplayName: "Rios", GroupID: &g.ID}
	require.NoError(t, s.CreateLayer(ctx, "p1", l))
	assert.True(t, strings.HasPrefix(l.ID, "layer_"))
	assert.Equal(t, catalog.TypeVector, l.LayerType)

	layers, err := s.Layers(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, layers, 4)

	other, err := s.Layers(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
