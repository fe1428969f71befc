package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/catalog"
)

// HandleLayerGroups lists the groups of a project.
func (s *ServerContext) HandleLayerGroups(c *gin.Context) {
	groups, err := s.Store.LayerGroups(c.Request.Context(), c.Param("project"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list layer groups")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro interno do servidor"})
		return
	}
	if groups == nil {
		groups = []catalog.LayerGroup{}
	}
	c.JSON(http.StatusOK, gin.H{"layer_groups": groups})
}

// HandleLayers lists the layers of a project.
func (s *ServerContext) HandleLayers(c *gin.Context) {
	layers, err := s.Store.Layers(c.Request.Context(), c.Param("project"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list layers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro interno do servidor"})
		return
	}
	if layers == nil {
		layers = []catalog.Layer{}
	}
	c.JSON(http.StatusOK, gin.H{"layers": layers})
}

// HandleCreateLayerGroup stores a new group.
func (s *ServerContext) HandleCreateLayerGroup(c *gin.Context) {
	u := currentUser(c)
	if !allowed(u, PrivManageLayers) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Sem permissão para gerenciar camadas"})
		return
	}

	var g catalog.LayerGroup
	if err := c.ShouldBindJSON(&g); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados obrigatórios"})
		return
	}

	if err := s.Store.CreateLayerGroup(c.Request.Context(), c.Param("project"), &g); err != nil {
		if errors.Is(err, catalog.ErrGroupNameRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Nome do grupo é obrigatório"})
			return
		}
		log.Error().Err(err).Msg("Failed to create layer group")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro interno do servidor"})
		return
	}

	s.Hub.Publish(api.Change{Action: api.ActionCreated, Entity: api.EntityLayerGroup, ID: g.ID})
	c.JSON(http.StatusCreated, gin.H{"message": "Grupo criado com sucesso", "layer_group": g})
}

// HandleCreateLayer stores a new layer.
func (s *ServerContext) HandleCreateLayer(c *gin.Context) {
	u := currentUser(c)
	if !allowed(u, PrivAddLayers) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Sem permissão para criar camadas"})
		return
	}

	var l catalog.Layer
	if err := c.ShouldBindJSON(&l); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dados obrigatórios"})
		return
	}
	l.CreatedBy = u.Username

	if err := s.Store.CreateLayer(c.Request.Context(), c.Param("project"), &l); err != nil {
		switch {
		case errors.Is(err, catalog.ErrLayerNameRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Nome e nome de exibição são obrigatórios"})
		case errors.Is(err, catalog.ErrInvalidLayerType):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Tipo de camada inválido: " + l.LayerType})
		case errors.Is(err, catalog.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Status de camada inválido: " + l.Status})
		default:
			log.Error().Err(err).Msg("Failed to create layer")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro interno do servidor"})
		}
		return
	}

	s.Hub.Publish(api.Change{Action: api.ActionCreated, Entity: api.EntityLayer, ID: l.ID})
	c.JSON(http.StatusCreated, gin.H{"message": "Camada criada com sucesso", "layer": l})
}
