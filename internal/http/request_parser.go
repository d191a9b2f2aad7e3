package http

// Utilities for reading form and JSON bodies into domain values.

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"wade/internal/core"
	"wade/internal/session"
)

// maxBodyBytes bounds every form body read by RequestBodyParser.
const maxBodyBytes = 64 << 10

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a trimmed, sanitized value from the parsed data.
func (p *RequestBodyParser) Get(key string) string {
	return sanitizeInput(p.raw(key))
}

// Secret returns a value untouched, for passwords.
func (p *RequestBodyParser) Secret(key string) string {
	return p.raw(key)
}

func (p *RequestBodyParser) raw(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return stringValue(val)
		}
		return ""
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// Category reads the category add/edit form.
func (p *RequestBodyParser) Category() core.BudgetCategory {
	return core.BudgetCategory{
		Category: p.Get("category"),
		Note:     p.Get("note"),
	}
}

// Entry reads the entry add/edit form.
func (p *RequestBodyParser) Entry() core.BudgetEntry {
	return core.BudgetEntry{
		Item:     p.Get("item"),
		Amount:   core.Amount(p.Get("amount")),
		Type:     core.EntryType(p.Get("type")),
		Category: p.Get("category"),
	}
}

// Registration reads the main-site sign-up form.
func (p *RequestBodyParser) Registration() session.Registration {
	return session.Registration{
		FirstName: p.Get("first_name"),
		Email:     p.Get("email"),
		Password:  p.Secret("password"),
		Confirm:   p.Secret("confirm"),
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput trims and removes control characters except tab, newline
// and carriage return.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// safeRedirect accepts only in-app absolute paths, so a login form cannot
// be turned into an open redirect.
func safeRedirect(from, fallback string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return fallback
	}
	u, err := url.Parse(from)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return fallback
	}
	return from
}

// isHTMX reports whether the request was issued by htmx.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
