package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/woozymasta/webgis/internal/catalog"
)

func projectPath(projectID, tail string) string {
	return "/api/v2/projects/" + url.PathEscape(projectID) + tail
}

// LayerGroups fetches the layer groups of a project.
func (c *Client) LayerGroups(ctx context.Context, projectID string) ([]catalog.LayerGroup, error) {
	var res struct {
		LayerGroups []catalog.LayerGroup `json:"layer_groups"`
	}
	if err := c.doJSON(ctx, http.MethodGet, projectPath(projectID, "/layer-groups"), nil, &res); err != nil {
		return nil, err
	}
	return res.LayerGroups, nil
}

// Layers fetches the layers of a project.
func (c *Client) Layers(ctx context.Context, projectID string) ([]catalog.Layer, error) {
	var res struct {
		Layers []catalog.Layer `json:"layers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, projectPath(projectID, "/layers"), nil, &res); err != nil {
		return nil, err
	}
	return res.Layers, nil
}

// CreateLayer validates and stores a new layer.
func (c *Client) CreateLayer(ctx context.Context, projectID string, l catalog.Layer) (*catalog.Layer, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	var res struct {
		Layer catalog.Layer `json:"layer"`
	}
	if err := c.doJSON(ctx, http.MethodPost, projectPath(projectID, "/layers"), l, &res); err != nil {
		return nil, err
	}
	return &res.Layer, nil
}

// CreateLayerGroup validates and stores a new group.
func (c *Client) CreateLayerGroup(ctx context.Context, projectID string, g catalog.LayerGroup) (*catalog.LayerGroup, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	var res struct {
		LayerGroup catalog.LayerGroup `json:"layer_group"`
	}
	if err := c.doJSON(ctx, http.MethodPost, projectPath(projectID, "/layer-groups"), g, &res); err != nil {
		return nil, err
	}
	return &res.LayerGroup, nil
}
