package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/store"
	"gorm.io/datatypes"
)

func featureRecord(f store.Feature) api.FeatureRecord {
	props := map[string]any(f.Properties)
	if props == nil {
		props = map[string]any{}
	}
	return api.FeatureRecord{
		Properties: props,
		ID:         f.ID,
		Type:       f.Type,
		CreatedAt:  f.CreatedAt.UTC().Format(time.RFC3339),
		Geometry:   json.RawMessage(f.Geometry),
	}
}

func emptyGeometry(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte("{}"))
}

// HandleListFeatures returns the session user's features, newest first.
// A cell query parameter narrows the list to one H3 cell.
func (s *ServerContext) HandleListFeatures(c *gin.Context) {
	var (
		rows []store.Feature
		err  error
	)
	user := currentUser(c).Username
	if cell := c.Query("cell"); cell != "" {
		if !store.ValidCell(cell) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Célula H3 inválida"})
			return
		}
		rows, err = s.Store.FeaturesInCell(c.Request.Context(), user, cell)
	} else {
		rows, err = s.Store.ListFeatures(c.Request.Context(), user)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to list features")
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Erro carregando features: %v", err)})
		return
	}

	out := make([]api.FeatureRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, featureRecord(r))
	}
	c.JSON(http.StatusOK, api.FeatureList{Features: out, Total: len(out)})
}

// HandleSaveFeature creates or replaces a feature.
func (s *ServerContext) HandleSaveFeature(c *gin.Context) {
	var rec api.FeatureRecord
	if err := c.ShouldBindJSON(&rec); err != nil || emptyGeometry(rec.Geometry) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados da feature são obrigatórios"})
		return
	}

	if rec.ID == "" {
		rec.ID = "feature_" + strconv.FormatInt(s.now().Unix(), 10)
	}

	user := currentUser(c).Username
	row := store.Feature{
		ID:         rec.ID,
		CreatedBy:  user,
		Geometry:   datatypes.JSON(rec.Geometry),
		Properties: datatypes.JSONMap(rec.Properties),
	}
	if err := s.Store.SaveFeature(c.Request.Context(), &row); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to save feature")
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Erro salvando feature: %v", err)})
		return
	}

	log.Debug().Str("id", row.ID).Str("type", row.Type).Str("cell", row.Cell).Msg("Feature saved")
	s.Hub.Publish(api.Change{Action: api.ActionUpdated, Entity: api.EntityFeature, ID: row.ID, User: user})

	c.JSON(http.StatusCreated, api.SaveResult{ID: row.ID, Message: "Feature salva com sucesso"})
}

// HandleDeleteFeature deletes one feature. The literal id clear-all removes
// every feature of the user.
func (s *ServerContext) HandleDeleteFeature(c *gin.Context) {
	id := c.Param("id")
	if id == "clear-all" {
		s.HandleClearFeatures(c)
		return
	}

	user := currentUser(c).Username
	err := s.Store.DeleteFeature(c.Request.Context(), user, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Feature não encontrada"})
		return
	case err != nil:
		log.Error().Err(err).Str("id", id).Msg("Failed to delete feature")
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Erro deletando feature: %v", err)})
		return
	}

	s.Hub.Publish(api.Change{Action: api.ActionDeleted, Entity: api.EntityFeature, ID: id, User: user})
	c.JSON(http.StatusOK, gin.H{"message": "Feature deletada com sucesso", "id": id})
}

// HandleClearFeatures deletes every feature of the user.
func (s *ServerContext) HandleClearFeatures(c *gin.Context) {
	user := currentUser(c).Username
	n, err := s.Store.ClearFeatures(c.Request.Context(), user)
	if err != nil {
		log.Error().Err(err).Msg("Failed to clear features")
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Erro limpando features: %v", err)})
		return
	}

	log.Info().Str("user", user).Int64("deleted", n).Msg("Features cleared")
	s.Hub.Publish(api.Change{Action: api.ActionCleared, Entity: api.EntityFeature, User: user})
	c.JSON(http.StatusOK, api.ClearResult{
		Message:      fmt.Sprintf("%d features removidas com sucesso", n),
		DeletedCount: int(n),
	})
}
