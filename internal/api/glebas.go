package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/woozymasta/webgis/internal/geo"
	"github.com/woozymasta/webgis/internal/parcel"
)

// Gleba is a parcel record as exchanged with the backend.
type Gleba struct {
	parcel.Parcel

	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
	ID        uint            `json:"id,omitempty"`
}

// GlebaList is the list response.
type GlebaList struct {
	Glebas []Gleba `json:"glebas"`
	Total  int     `json:"total"`
}

// GlebaCalculation is the frontage calculation response.
type GlebaCalculation struct {
	Calculations struct {
		Testadas      geo.Frontages  `json:"testadas"`
		Confrontacoes geo.Boundaries `json:"confrontacoes"`
	} `json:"calculations"`
	Gleba Gleba `json:"gleba"`
}

func glebaPath(id uint) string {
	return "/api/glebas/" + strconv.FormatUint(uint64(id), 10)
}

// ListGlebas returns the session user's parcels, newest first.
func (c *Client) ListGlebas(ctx context.Context) ([]Gleba, error) {
	var list GlebaList
	if err := c.doJSON(ctx, http.MethodGet, "/api/glebas", nil, &list); err != nil {
		return nil, err
	}
	return list.Glebas, nil
}

// GetGleba returns one parcel.
func (c *Client) GetGleba(ctx context.Context, id uint) (*Gleba, error) {
	var g Gleba
	if err := c.doJSON(ctx, http.MethodGet, glebaPath(id), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGleba stores a new parcel and returns its id. The number must be
// unique per user.
func (c *Client) CreateGleba(ctx context.Context, g Gleba) (uint, error) {
	var res struct {
		Message string `json:"message"`
		NoGleba string `json:"no_gleba"`
		ID      uint   `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/glebas", g, &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

// UpdateGleba applies a partial update. Only the keys present are changed.
func (c *Client) UpdateGleba(ctx context.Context, id uint, changes map[string]any) error {
	return c.doJSON(ctx, http.MethodPut, glebaPath(id), changes, nil)
}

// DeleteGleba deletes one parcel.
func (c *Client) DeleteGleba(ctx context.Context, id uint) error {
	return c.doJSON(ctx, http.MethodDelete, glebaPath(id), nil, nil)
}

// CalculateGleba derives frontages and boundaries from the stored geometry.
func (c *Client) CalculateGleba(ctx context.Context, id uint) (*GlebaCalculation, error) {
	var res GlebaCalculation
	if err := c.doJSON(ctx, http.MethodPost, glebaPath(id)+"/calculate", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ExportGlebas downloads every parcel as a GeoJSON FeatureCollection.
func (c *Client) ExportGlebas(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/glebas/export", nil, "", nil)
}
