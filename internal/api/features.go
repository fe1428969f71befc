package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// FeatureRecord is a persisted feature. Geometry stays raw so that one
// malformed record never fails decoding of a whole batch.
type FeatureRecord struct {
	Properties map[string]any  `json:"properties"`
	ID         string          `json:"id"`
	Type       string          `json:"type,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
}

// FeatureList is the bulk fetch response.
type FeatureList struct {
	Features []FeatureRecord `json:"features"`
	Total    int             `json:"total"`
}

// SaveResult is the upsert response.
type SaveResult struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// ClearResult is the bulk delete response.
type ClearResult struct {
	Message      string `json:"message,omitempty"`
	DeletedCount int    `json:"deleted_count"`
}

// ListFeatures fetches every feature of the session user.
func (c *Client) ListFeatures(ctx context.Context) ([]FeatureRecord, error) {
	var list FeatureList
	if err := c.doJSON(ctx, http.MethodGet, "/api/features", nil, &list); err != nil {
		return nil, err
	}
	return list.Features, nil
}

// ListFeaturesInCell returns the user's features whose centroid lies in the
// given H3 cell.
func (c *Client) ListFeaturesInCell(ctx context.Context, cell string) ([]FeatureRecord, error) {
	var list FeatureList
	path := "/api/features?" + url.Values{"cell": {cell}}.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Features, nil
}

// SaveFeature creates or replaces a feature and returns the id the backend
// stored it under.
func (c *Client) SaveFeature(ctx context.Context, rec FeatureRecord) (string, error) {
	var res SaveResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/features", rec, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return rec.ID, nil
	}
	return res.ID, nil
}

// DeleteFeature deletes one feature.
func (c *Client) DeleteFeature(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/features/"+url.PathEscape(id), nil, nil)
}

// ClearFeatures deletes every feature of the session user.
func (c *Client) ClearFeatures(ctx context.Context) (int, error) {
	var res ClearResult
	if err := c.doJSON(ctx, http.MethodDelete, "/api/features/clear-all", nil, &res); err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
