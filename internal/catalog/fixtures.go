package catalog

import "time"

var fixtureTime = time.Date(2024, 7, 12, 10, 0, 0, 0, time.UTC)

// FixtureGroups returns the layer groups shown when the backend is unavailable.
func FixtureGroups(projectID string) []LayerGroup {
	return []LayerGroup{
		{ID: "group_base", ProjectID: projectID, Name: "Camadas Base", Description: "Camadas base do sistema", DisplayOrder: 0, IsExpanded: true, IsVisible: true},
		{ID: "group_osm", ProjectID: projectID, Name: "OpenStreetMap", Description: "Dados do OpenStreetMap", DisplayOrder: 1, IsExpanded: true, IsVisible: true},
		{ID: "group_glebas", ProjectID: projectID, Name: "Glebas", Description: "Glebas cadastradas", DisplayOrder: 2, IsExpanded: true, IsVisible: true},
		{ID: "group_analysis", ProjectID: projectID, Name: "Análises", Description: "Camadas de análise", DisplayOrder: 3, IsExpanded: false, IsVisible: true},
	}
}

// FixtureLayers returns the layers shown when the backend is unavailable.
func FixtureLayers(projectID string) []Layer {
	osm, glebas := "group_osm", "group_glebas"
	return []Layer{
		{
			ID: "layer_001", ProjectID: projectID, GroupID: &osm,
			Name: "edificios", DisplayName: "Edifícios", Description: "Edificações urbanas do OpenStreetMap",
			LayerType: TypeVector, GeometryType: "Polygon", Status: StatusActive,
			FeatureCount: 23193, IsVisible: true, IsSelectable: true, IsEditable: true,
			Opacity: 0.8, DisplayOrder: 0, CreatedBy: "admin_super", CreatedAt: fixtureTime,
		},
		{
			ID: "layer_002", ProjectID: projectID, GroupID: &osm,
			Name: "estradas", DisplayName: "Estradas", Description: "Malha viária completa",
			LayerType: TypeVector, GeometryType: "LineString", Status: StatusActive,
			FeatureCount: 35158, IsVisible: true, IsSelectable: true, IsEditable: false,
			Opacity: 1.0, DisplayOrder: 1, CreatedBy: "admin_super", CreatedAt: fixtureTime,
		},
		{
			ID: "layer_003", ProjectID: projectID, GroupID: &glebas,
			Name: "glebas_urbanas", DisplayName: "Glebas Urbanas", Description: "Glebas urbanas cadastradas",
			LayerType: TypeVector, GeometryType: "Polygon", Status: StatusActive,
			FeatureCount: 0, IsVisible: true, IsSelectable: true, IsEditable: true,
			Opacity: 0.7, DisplayOrder: 0, CreatedBy: "admin_super", CreatedAt: fixtureTime,
		},
	}
}
