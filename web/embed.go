// Package web embeds the HTML templates and static assets.
package web

import "embed"

// TemplatesFS holds templates/base.html, templates/controls.html,
// templates/partials and templates/pages.
//
//go:embed templates
var TemplatesFS embed.FS

// StaticFS embeds static assets (css/js).
//
//go:embed static
var StaticFS embed.FS
