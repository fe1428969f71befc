package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/geo"
	"github.com/woozymasta/webgis/internal/parcel"
	"github.com/woozymasta/webgis/internal/store"
	"github.com/woozymasta/webgis/internal/transfer"
	"gorm.io/datatypes"
)

func glebaRecord(g store.Gleba) api.Gleba {
	created, updated := g.CreatedAt, g.UpdatedAt
	return api.Gleba{
		Parcel:    g.Parcel,
		CreatedAt: &created,
		UpdatedAt: &updated,
		CreatedBy: g.CreatedBy,
		Geometry:  json.RawMessage(g.Geometry),
		ID:        g.ID,
	}
}

func glebaFeature(g store.Gleba) (*geojson.Feature, error) {
	geom, err := geojson.UnmarshalGeometry(g.Geometry)
	if err != nil {
		return nil, err
	}
	f := geojson.NewFeature(geom.Geometry())
	f.ID = g.ID
	f.Properties = g.Properties()
	f.Properties["id"] = g.ID
	f.Properties["created_by"] = g.CreatedBy
	f.Properties["created_at"] = g.CreatedAt.UTC().Format(time.RFC3339)
	return f, nil
}

func glebaError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Gleba não encontrada"})
	case errors.Is(err, store.ErrDuplicateNumber):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Já existe uma gleba com este número"})
	case errors.Is(err, parcel.ErrNumberRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Número da gleba é obrigatório"})
	case errors.Is(err, parcel.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("Parcel request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro interno do servidor"})
	}
}

func glebaID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Gleba não encontrada"})
		return 0, false
	}
	return uint(id), true
}

// HandleListGlebas returns the user's parcels, newest first.
func (s *ServerContext) HandleListGlebas(c *gin.Context) {
	rows, err := s.Store.ListGlebas(c.Request.Context(), currentUser(c).Username)
	if err != nil {
		glebaError(c, err)
		return
	}

	out := make([]api.Gleba, 0, len(rows))
	for _, g := range rows {
		out = append(out, glebaRecord(g))
	}
	c.JSON(http.StatusOK, gin.H{
		"glebas":  out,
		"total":   len(out),
		"message": strconv.Itoa(len(out)) + " glebas encontradas",
	})
}

// HandleCreateGleba stores a new parcel from its form properties and
// geometry.
func (s *ServerContext) HandleCreateGleba(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados obrigatórios"})
		return
	}

	geometry, hasGeometry := body["geometry"]
	delete(body, "geometry")

	p, err := parcel.FromProperties(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(p.NoGleba) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Número da gleba é obrigatório"})
		return
	}
	if !hasGeometry || geometry == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Geometria da gleba é obrigatória"})
		return
	}
	raw, err := json.Marshal(geometry)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Geometria da gleba é obrigatória"})
		return
	}
	if p.Area == nil || p.Perimetro == nil {
		fillMeasures(&p, raw)
	}

	user := currentUser(c).Username
	g := store.Gleba{Parcel: p, CreatedBy: user, Geometry: datatypes.JSON(raw)}
	if err := s.Store.CreateGleba(c.Request.Context(), &g); err != nil {
		glebaError(c, err)
		return
	}

	log.Info().Uint("id", g.ID).Str("no_gleba", g.NoGleba).Str("user", user).Msg("Parcel created")
	s.Hub.Publish(api.Change{Action: api.ActionCreated, Entity: api.EntityGleba, ID: strconv.FormatUint(uint64(g.ID), 10), User: user})

	c.JSON(http.StatusCreated, gin.H{
		"id":       g.ID,
		"message":  "Gleba criada com sucesso",
		"no_gleba": g.NoGleba,
	})
}

// fillMeasures derives missing area and perimeter from a polygon.
func fillMeasures(p *parcel.Parcel, raw []byte) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok || len(poly) == 0 {
		return
	}

	m := geo.NewMeasurer().Measure(poly, 0)
	if p.Area == nil {
		v := geo.Round2(m.Area)
		p.Area = &v
	}
	if p.Perimetro == nil {
		v := geo.Round2(m.Perimeter)
		p.Perimetro = &v
	}
}

// HandleGetGleba returns one parcel. The literal id export downloads all of
// them.
func (s *ServerContext) HandleGetGleba(c *gin.Context) {
	if c.Param("id") == "export" {
		s.HandleExportGlebas(c)
		return
	}

	id, ok := glebaID(c)
	if !ok {
		return
	}
	g, err := s.Store.GetGleba(c.Request.Context(), currentUser(c).Username, id)
	if err != nil {
		glebaError(c, err)
		return
	}
	c.JSON(http.StatusOK, glebaRecord(*g))
}

// HandleUpdateGleba applies the keys present in the body.
func (s *ServerContext) HandleUpdateGleba(c *gin.Context) {
	id, ok := glebaID(c)
	if !ok {
		return
	}

	var changes map[string]any
	if err := c.ShouldBindJSON(&changes); err != nil || len(changes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados obrigatórios"})
		return
	}

	user := currentUser(c).Username
	g, err := s.Store.UpdateGleba(c.Request.Context(), user, id, changes)
	if err != nil {
		glebaError(c, err)
		return
	}

	s.Hub.Publish(api.Change{Action: api.ActionUpdated, Entity: api.EntityGleba, ID: c.Param("id"), User: user})
	c.JSON(http.StatusOK, gin.H{"message": "Gleba atualizada com sucesso", "gleba": glebaRecord(*g)})
}

// HandleDeleteGleba deletes one parcel.
func (s *ServerContext) HandleDeleteGleba(c *gin.Context) {
	id, ok := glebaID(c)
	if !ok {
		return
	}

	user := currentUser(c).Username
	if err := s.Store.DeleteGleba(c.Request.Context(), user, id); err != nil {
		glebaError(c, err)
		return
	}

	s.Hub.Publish(api.Change{Action: api.ActionDeleted, Entity: api.EntityGleba, ID: c.Param("id"), User: user})
	c.JSON(http.StatusOK, gin.H{"message": "Gleba deletada com sucesso"})
}

// HandleExportGlebas writes the user's parcels as a GeoJSON attachment.
func (s *ServerContext) HandleExportGlebas(c *gin.Context) {
	user := currentUser(c).Username
	rows, err := s.Store.ListGlebas(c.Request.Context(), user)
	if err != nil {
		glebaError(c, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, g := range rows {
		f, err := glebaFeature(g)
		if err != nil {
			log.Warn().Err(err).Uint("id", g.ID).Msg("Skipping parcel with invalid geometry")
			continue
		}
		fc.Append(f)
	}

	c.Header("Content-Disposition", `attachment; filename="glebas_`+user+`.geojson"`)
	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)
	if err := transfer.WriteGeoJSON(c.Writer, fc, false); err != nil {
		log.Error().Err(err).Msg("Failed to write parcel export")
	}
}

// HandleCalculateGleba derives frontages and boundaries from the stored
// polygon and saves them on the parcel.
func (s *ServerContext) HandleCalculateGleba(c *gin.Context) {
	id, ok := glebaID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	user := currentUser(c).Username
	g, err := s.Store.GetGleba(ctx, user, id)
	if err != nil {
		glebaError(c, err)
		return
	}

	geom, err := geojson.UnmarshalGeometry(g.Geometry)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Geometria inválida para cálculo"})
		return
	}
	poly, ok := geom.Geometry().(orb.Polygon)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Geometria inválida para cálculo"})
		return
	}

	calc := geo.CalculateSides(poly)
	g, err = s.Store.UpdateGleba(ctx, user, id, map[string]any{
		"testada_frente":        calc.Testadas.Frente,
		"testada_fundo":         calc.Testadas.Fundo,
		"testada_esquerda":      calc.Testadas.Esquerda,
		"testada_direita":       calc.Testadas.Direita,
		"confrontacao_frente":   calc.Confrontacoes.Frente,
		"confrontacao_fundo":    calc.Confrontacoes.Fundo,
		"confrontacao_esquerda": calc.Confrontacoes.Esquerda,
		"confrontacao_direita":  calc.Confrontacoes.Direita,
	})
	if err != nil {
		glebaError(c, err)
		return
	}

	s.Hub.Publish(api.Change{Action: api.ActionUpdated, Entity: api.EntityGleba, ID: c.Param("id"), User: user})
	c.JSON(http.StatusOK, gin.H{
		"message": "Cálculos realizados com sucesso",
		"calculations": gin.H{
			"testadas":      calc.Testadas,
			"confrontacoes": calc.Confrontacoes,
		},
		"gleba": glebaRecord(*g),
	})
}
