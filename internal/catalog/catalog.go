// Package catalog defines the project layer metadata: layer groups and layers.
package catalog

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// DefaultProject is used when no project is selected.
const DefaultProject = "proj_default"

// Layer statuses.
const (
	StatusActive   = "active"
	StatusHidden   = "hidden"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

// Layer types.
const (
	TypeVector  = "vector"
	TypeRaster  = "raster"
	TypeWMS     = "wms"
	TypeWFS     = "wfs"
	TypeGeoJSON = "geojson"
	TypeTile    = "tile"
)

// Validation errors returned by the creation forms.
var (
	ErrLayerNameRequired = errors.New("name and display_name are required")
	ErrGroupNameRequired = errors.New("group name is required")
	ErrInvalidLayerType  = errors.New("invalid layer type")
	ErrInvalidStatus     = errors.New("invalid layer status")
)

// LayerGroup is a named folder of layers and nested groups.
type LayerGroup struct {
	ID            string            `json:"id" gorm:"primaryKey;size:64"`
	ProjectID     string            `json:"project_id" gorm:"size:64;index"`
	Name          string            `json:"name" gorm:"size:100;not null"`
	DisplayName   string            `json:"display_name,omitempty" gorm:"size:200"`
	Description   string            `json:"description,omitempty" gorm:"type:text"`
	ParentGroupID *string           `json:"parent_group_id,omitempty" gorm:"size:64;index"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	DisplayOrder  int               `json:"display_order"`
	LayerCount    int               `json:"layer_count" gorm:"-"`
	IsVisible     bool              `json:"is_visible"`
	IsExpanded    bool              `json:"is_expanded"`
}

// Label returns the display name, falling back to the name.
func (g LayerGroup) Label() string {
	if g.DisplayName != "" {
		return g.DisplayName
	}
	return g.Name
}

// Layer describes one renderable layer of a project.
type Layer struct {
	ID           string            `json:"id" gorm:"primaryKey;size:64"`
	ProjectID    string            `json:"project_id" gorm:"size:64;index"`
	GroupID      *string           `json:"layer_group_id,omitempty" gorm:"size:64;index"`
	Name         string            `json:"name" gorm:"size:100;not null"`
	DisplayName  string            `json:"display_name" gorm:"size:200;not null"`
	Description  string            `json:"description,omitempty" gorm:"type:text"`
	LayerType    string            `json:"layer_type" gorm:"size:20"`
	GeometryType string            `json:"geometry_type,omitempty" gorm:"size:20"`
	Status       string            `json:"status" gorm:"size:20"`
	CreatedBy    string            `json:"created_by,omitempty" gorm:"size:50"`
	Fields       datatypes.JSONMap `json:"fields,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Opacity      float64           `json:"opacity"`
	FeatureCount int               `json:"feature_count"`
	DisplayOrder int               `json:"display_order"`
	ZIndex       int               `json:"z_index"`
	MinZoom      int               `json:"min_zoom,omitempty"`
	MaxZoom      int               `json:"max_zoom,omitempty"`
	IsVisible    bool              `json:"is_visible"`
	IsSelectable bool              `json:"is_selectable"`
	IsEditable   bool              `json:"is_editable"`
}

// Label returns the display name, falling back to the name.
func (l Layer) Label() string {
	if l.DisplayName != "" {
		return l.DisplayName
	}
	return l.Name
}

// Validate checks a layer creation form and fills defaults for a new layer.
func (l *Layer) Validate() error {
	if strings.TrimSpace(l.Name) == "" || strings.TrimSpace(l.DisplayName) == "" {
		return ErrLayerNameRequired
	}

	if l.LayerType == "" {
		l.LayerType = TypeVector
	}
	switch l.LayerType {
	case TypeVector, TypeRaster, TypeWMS, TypeWFS, TypeGeoJSON, TypeTile:
	default:
		return ErrInvalidLayerType
	}

	if l.Status == "" {
		l.Status = StatusActive
	}
	switch l.Status {
	case StatusActive, StatusHidden, StatusArchived, StatusDeleted:
	default:
		return ErrInvalidStatus
	}

	if l.Opacity <= 0 || l.Opacity > 1 {
		l.Opacity = 1
	}
	if l.ProjectID == "" {
		l.ProjectID = DefaultProject
	}
	return nil
}

// Validate checks a group creation form.
func (g *LayerGroup) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrGroupNameRequired
	}
	if g.ProjectID == "" {
		g.ProjectID = DefaultProject
	}
	if g.ParentGroupID != nil && *g.ParentGroupID == "" {
		g.ParentGroupID = nil
	}
	return nil
}
