package features

import (
	"html"
	"strings"

	"github.com/woozymasta/webgis/internal/geo"
	"github.com/woozymasta/webgis/internal/mapkit"
)

// simplestyle property keys
const (
	styleStroke        = "stroke"
	styleStrokeWidth   = "stroke-width"
	styleStrokeOpacity = "stroke-opacity"
	styleFill          = "fill"
	styleFillOpacity   = "fill-opacity"
)

// ApplyStyle maps simplestyle properties onto the shape style. Keys absent
// from props keep the shape's current value.
func ApplyStyle(s mapkit.Shape, props map[string]any) {
	st := s.Style()

	if v, ok := props[styleStroke].(string); ok && v != "" {
		st.Color = v
	}
	if v, ok := props[styleFill].(string); ok && v != "" {
		st.FillColor = v
	}
	if v, ok := props[styleStrokeWidth]; ok {
		if n := number(v); n > 0 {
			st.Weight = n
		}
	}
	if v, ok := props[styleStrokeOpacity]; ok {
		st.Opacity = clamp01(number(v))
	}
	if v, ok := props[styleFillOpacity]; ok {
		st.FillOpacity = clamp01(number(v))
	}

	s.SetStyle(st)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Title returns the display name of a feature: nome_gleba, then no_gleba,
// then name, then the id.
func Title(f Feature) string {
	for _, key := range []string{"nome_gleba", "no_gleba", PropName} {
		if v := strings.TrimSpace(text(f.Properties[key])); v != "" {
			return v
		}
	}
	return f.ID
}

// Popup renders the popup content bound to a shape.
func Popup(f Feature) string {
	var b strings.Builder
	b.WriteString("<strong>")
	b.WriteString(html.EscapeString(Title(f)))
	b.WriteString("</strong>")

	line := func(label, value string) {
		b.WriteString("<br>")
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(html.EscapeString(value))
	}

	if v := text(f.Properties["proprietario"]); v != "" {
		line("Proprietário", v)
	}
	if v := number(f.Properties[PropArea]); v > 0 {
		line("Área", geo.FormatArea(v))
	}
	if v := number(f.Properties[PropPerimeter]); v > 0 {
		line("Perímetro", geo.FormatDistance(v))
	}
	if v := number(f.Properties[PropLength]); v > 0 {
		line("Distância", geo.FormatDistance(v))
	}
	if f.IsCircle() {
		line("Raio", geo.FormatDistance(f.Radius()))
	}
	return b.String()
}
