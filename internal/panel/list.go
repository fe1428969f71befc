// Package panel projects the feature set and the layer metadata into the
// list and tree views of the layers panel.
package panel

import (
	"sync"

	"github.com/woozymasta/webgis/internal/features"
	"github.com/woozymasta/webgis/internal/geo"
)

// EmptyPlaceholder is shown when there are no features.
const EmptyPlaceholder = "Nenhuma camada criada"

// Item actions.
const (
	ActionZoom   = "zoom"
	ActionEdit   = "edit"
	ActionToggle = "toggle"
)

// Icon names per geometry class.
const (
	IconPoint   = "map-pin"
	IconLine    = "route"
	IconPolygon = "draw-polygon"
	IconCircle  = "circle"
)

// Item is one row of the list view.
type Item struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	GeometryType string   `json:"geometry_type"`
	Icon         string   `json:"icon"`
	Actions      []string `json:"actions"`
	Visible      bool     `json:"visible"`
}

// List is the rendered list view.
type List struct {
	Placeholder string `json:"placeholder,omitempty"`
	Items       []Item `json:"items"`
}

// BuildList renders the list view from the current entries. The result
// depends only on its input.
func BuildList(entries []features.Entry) List {
	if len(entries) == 0 {
		return List{Placeholder: EmptyPlaceholder, Items: []Item{}}
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		f := e.Feature
		items = append(items, Item{
			ID:           f.ID,
			Name:         features.Title(f),
			GeometryType: f.Type(),
			Icon:         iconFor(f),
			Visible:      e.Visible,
			Actions:      []string{ActionZoom, ActionEdit, ActionToggle},
		})
	}
	return List{Items: items}
}

func iconFor(f features.Feature) string {
	if f.IsCircle() {
		return IconCircle
	}
	switch f.Type() {
	case geo.TypePoint:
		return IconPoint
	case geo.TypeLineString:
		return IconLine
	}
	return IconPolygon
}

// ListView keeps the latest list and forwards every render to OnRender.
type ListView struct {
	OnRender func(List)
	list     List
	mu       sync.Mutex
}

// Render implements features.View.
func (v *ListView) Render(entries []features.Entry) {
	l := BuildList(entries)

	v.mu.Lock()
	v.list = l
	fn := v.OnRender
	v.mu.Unlock()

	if fn != nil {
		fn(l)
	}
}

// List returns the latest rendered list.
func (v *ListView) List() List {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list
}
