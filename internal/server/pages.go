package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
	"github.com/woozymasta/webgis/assets"
	"github.com/woozymasta/webgis/internal/config"
)

// PageData is the template input of the web pages.
type PageData struct {
	CSS    string
	JS     string
	SVG    string
	Config string
}

// Pages holds the rendered, minified web pages.
type Pages struct {
	Index []byte
	Login []byte
}

// NewMinifier returns a minifier for the page asset types.
func NewMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/javascript", js.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}

// BuildPages renders the embedded templates with the map settings and
// minifies the result.
func BuildPages(mc config.MapConfig) (*Pages, error) {
	m := NewMinifier()

	cssMin, err := m.String("text/css", assets.Style)
	if err != nil {
		return nil, fmt.Errorf("minify css: %w", err)
	}
	jsMin, err := m.String("text/javascript", assets.Script)
	if err != nil {
		return nil, fmt.Errorf("minify js: %w", err)
	}
	svgMin, err := m.String("image/svg+xml", assets.Logo)
	if err != nil {
		return nil, fmt.Errorf("minify svg: %w", err)
	}
	mapJSON, err := json.Marshal(mc)
	if err != nil {
		return nil, err
	}

	data := PageData{CSS: cssMin, JS: jsMin, SVG: svgMin, Config: string(mapJSON)}

	index, err := renderPage(m, "index", assets.IndexTemplate, data)
	if err != nil {
		return nil, err
	}
	login, err := renderPage(m, "login", assets.LoginTemplate, data)
	if err != nil {
		return nil, err
	}

	return &Pages{Index: index, Login: login}, nil
}

func renderPage(m *minify.M, name, src string, data PageData) ([]byte, error) {
	tmpl, err := template.New(name).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s template: %w", name, err)
	}

	out, err := m.Bytes("text/html", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("minify %s: %w", name, err)
	}
	return out, nil
}
