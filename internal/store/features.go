package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/uber/h3-go/v4"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// CellResolution is the H3 resolution of the cell stored with each feature.
const CellResolution = 9

// Feature is a drawn or imported feature owned by one user.
type Feature struct {
	ID         string            `gorm:"primaryKey;size:100"`
	CreatedBy  string            `gorm:"primaryKey;size:50"`
	Type       string            `gorm:"size:20"`
	Cell       string            `gorm:"size:16;index"`
	Geometry   datatypes.JSON    `gorm:"not null"`
	Properties datatypes.JSONMap
	CreatedAt  time.Time         `gorm:"index"`
	UpdatedAt  time.Time
}

// CellOf returns the H3 cell of the geometry centroid, or "" when the
// geometry cannot be decoded.
func CellOf(raw []byte) string {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil || g == nil || g.Coordinates == nil {
		return ""
	}

	var c orb.Point
	switch geom := g.Coordinates.(type) {
	case orb.Point:
		c = geom
	case orb.LineString:
		if len(geom) == 0 {
			return ""
		}
		c, _ = planar.CentroidArea(geom)
	case orb.Polygon:
		if len(geom) == 0 || len(geom[0]) == 0 {
			return ""
		}
		c, _ = planar.CentroidArea(geom)
	default:
		c = geom.Bound().Center()
	}

	cell := h3.LatLngToCell(h3.NewLatLng(c.Lat(), c.Lon()), CellResolution)
	return cell.String()
}

// ListFeatures returns the user's features, newest first.
func (s *Store) ListFeatures(ctx context.Context, user string) ([]Feature, error) {
	var out []Feature
	err := s.db.WithContext(ctx).
		Where("created_by = ?", user).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ValidCell reports whether s is a hex H3 cell at CellResolution.
func ValidCell(s string) bool {
	c := h3.Cell(h3.IndexFromString(s))
	return c.IsValid() && c.Resolution() == CellResolution
}

// FeaturesInCell returns the user's features whose centroid falls in cell.
func (s *Store) FeaturesInCell(ctx context.Context, user, cell string) ([]Feature, error) {
	var out []Feature
	err := s.db.WithContext(ctx).
		Where("created_by = ? AND cell = ?", user, cell).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// SaveFeature inserts the feature or replaces the stored one with the same
// id. The creation time of a replaced row is kept.
func (s *Store) SaveFeature(ctx context.Context, f *Feature) error {
	f.Cell = CellOf(f.Geometry)
	if f.Type == "" {
		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(f.Geometry, &head) == nil {
			f.Type = head.Type
		}
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "created_by"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "cell", "geometry", "properties", "updated_at"}),
	}).Create(f).Error
}

// DeleteFeature deletes one of the user's features.
func (s *Store) DeleteFeature(ctx context.Context, user, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND created_by = ?", id, user).
		Delete(&Feature{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearFeatures deletes every feature of the user and returns the count.
func (s *Store) ClearFeatures(ctx context.Context, user string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_by = ?", user).
		Delete(&Feature{})
	return res.RowsAffected, res.Error
}
