// Package assets embeds the web pages served by the backend.
package assets

import _ "embed"

// Page sources, minified and rendered at startup.
var (
	//go:embed index.html.tpl
	IndexTemplate string

	//go:embed login.html.tpl
	LoginTemplate string

	//go:embed style.css
	Style string

	//go:embed app.js
	Script string

	//go:embed logo.svg
	Logo string
)
