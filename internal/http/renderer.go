package http

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/shopspring/decimal"

	"wade/internal/core"
)

// Renderer executes the embedded templates. Every page is parsed on its own
// clone of the shared set (base layout, controls, partials) so pages can
// each define "title" and "content".
type Renderer struct {
	shared *template.Template
	pages  map[string]*template.Template
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"input":        newInput,
		"required":     required,
		"placeholder":  placeholder,
		"autocomplete": autocomplete,
		"button":       newButton,
		"dropdown":     newDropdown,
		"money":        core.FormatAmount,
		"amount":       formatRawAmount,
		"validAmount":  validAmount,
		"share":        core.Share,
		"negative":     func(d decimal.Decimal) bool { return d.IsNegative() },
		"entryTypes":   entryTypeNames,
	}
}

// NewRenderer parses templates/base.html, templates/controls.html,
// templates/partials/*.html and one clone per templates/pages/*.html.
func NewRenderer(fsys fs.FS) (*Renderer, error) {
	shared, err := template.New("wade").Funcs(templateFuncs()).ParseFS(fsys,
		"templates/base.html",
		"templates/controls.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, fmt.Errorf("parse shared templates: %w", err)
	}

	files, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("list page templates: %w", err)
	}
	pages := make(map[string]*template.Template, len(files))
	for _, f := range files {
		clone, err := shared.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone templates for %s: %w", f, err)
		}
		if _, err := clone.ParseFS(fsys, f); err != nil {
			return nil, fmt.Errorf("parse page %s: %w", f, err)
		}
		pages[strings.TrimSuffix(path.Base(f), ".html")] = clone
	}
	return &Renderer{shared: shared, pages: pages}, nil
}

// Page renders a full document through the "base" layout.
func (r *Renderer) Page(w http.ResponseWriter, status int, name string, data any) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return write(w, status, t, "base", data)
}

// Partial renders one named template, for htmx swaps.
func (r *Renderer) Partial(w http.ResponseWriter, name string, data any) error {
	return write(w, http.StatusOK, r.shared, name, data)
}

// write buffers the output so a failing template never sends half a page.
func write(w http.ResponseWriter, status int, t *template.Template, name string, data any) error {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("execute template %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// formatRawAmount shows a stored amount with two decimals, or as stored
// when it does not parse.
func formatRawAmount(a core.Amount) string {
	d, err := core.ParseStoredAmount(string(a))
	if err != nil {
		return string(a)
	}
	return core.FormatAmount(d)
}

func validAmount(a core.Amount) bool {
	_, err := core.ParseStoredAmount(string(a))
	return err == nil
}

func entryTypeNames() []string {
	types := core.EntryTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
