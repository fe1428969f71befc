package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/woozymasta/webgis/internal/catalog"
)

// LayerGroups returns the groups of a project in display order, each with
// the number of layers it directly holds.
func (s *Store) LayerGroups(ctx context.Context, projectID string) ([]catalog.LayerGroup, error) {
	var groups []catalog.LayerGroup
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("display_order").
		Order("name").
		Find(&groups).Error; err != nil {
		return nil, err
	}

	var counts []struct {
		GroupID string
		N       int
	}
	if err := s.db.WithContext(ctx).Model(&catalog.Layer{}).
		Select("group_id, count(*) as n").
		Where("project_id = ? AND group_id IS NOT NULL", projectID).
		Group("group_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}

	byGroup := make(map[string]int, len(counts))
	for _, c := range counts {
		byGroup[c.GroupID] = c.N
	}
	for i := range groups {
		groups[i].LayerCount = byGroup[groups[i].ID]
	}
	return groups, nil
}

// Layers returns the layers of a project in display order.
func (s *Store) Layers(ctx context.Context, projectID string) ([]catalog.Layer, error) {
	var layers []catalog.Layer
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("display_order").
		Order("name").
		Find(&layers).Error
	return layers, err
}

// CreateLayer validates and stores a layer under projectID.
func (s *Store) CreateLayer(ctx context.Context, projectID string, l *catalog.Layer) error {
	l.ProjectID = projectID
	if err := l.Validate(); err != nil {
		return err
	}
	if l.ID == "" {
		l.ID = "layer_" + uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(l).Error
}

// CreateLayerGroup validates and stores a group under projectID.
func (s *Store) CreateLayerGroup(ctx context.Context, projectID string, g *catalog.LayerGroup) error {
	g.ProjectID = projectID
	if err := g.Validate(); err != nil {
		return err
	}
	if g.ID == "" {
		g.ID = "group_" + uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(g).Error
}

// SeedProject stores the sample groups and layers when the project has
// none yet. It returns whether anything was written.
func (s *Store) SeedProject(ctx context.Context, projectID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&catalog.LayerGroup{}).
		Where("project_id = ?", projectID).
		Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	groups := catalog.FixtureGroups(projectID)
	layers := catalog.FixtureLayers(projectID)
	if err := s.db.WithContext(ctx).Create(&groups).Error; err != nil {
		return false, err
	}
	if err := s.db.WithContext(ctx).Create(&layers).Error; err != nil {
		return false, err
	}
	return true, nil
}
