package http

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appweb "wade/web"
)

func TestDropdownKeepsMissingSelection(t *testing.T) {
	d := newDropdown("category", "Category", []string{"Food", "Work"}, "Travel")

	require.Len(t, d.Options, 4)
	assert.Equal(t, "Select Category", d.Options[0].Label)
	assert.False(t, d.Options[0].Selected)
	last := d.Options[3]
	assert.Equal(t, "Travel", last.Value)
	assert.Equal(t, "Travel (missing)", last.Label)
	assert.True(t, last.Selected)
}

func TestDropdownSelectsKnownValue(t *testing.T) {
	d := newDropdown("type", "Type", []string{"Income", "Expense"}, "Expense")
	require.Len(t, d.Options, 3)
	assert.True(t, d.Options[2].Selected)
	assert.False(t, d.Options[1].Selected)
}

func TestInputModifiers(t *testing.T) {
	in := autocomplete("email", placeholder("you@example.com", required(newInput("email", "Email", "", "a@b.c"))))
	assert.Equal(t, "text", in.Type)
	assert.True(t, in.Required)
	assert.Equal(t, "you@example.com", in.Placeholder)
	assert.Equal(t, "email", in.Autocomplete)
	assert.Equal(t, "a@b.c", in.Value)

	b := newButton("Save", "", "")
	assert.Equal(t, "primary", b.Kind)
	assert.Equal(t, "submit", b.Type)
}

func TestRendererControlReflectsValue(t *testing.T) {
	r, err := NewRenderer(appweb.TemplatesFS)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, r.Partial(rec, "input", required(newInput("item", "Item", "text", `Tea & "cake"`))))
	body := rec.Body.String()
	assert.Contains(t, body, `name="item"`)
	assert.Contains(t, body, `value="Tea &amp; &#34;cake&#34;"`)
	assert.Contains(t, body, " required")

	assert.Error(t, r.Page(httptest.NewRecorder(), 200, "nope", nil))
}

func TestRawAmountHelpers(t *testing.T) {
	assert.Equal(t, "12.50", formatRawAmount("12,5"))
	assert.Equal(t, "abc", formatRawAmount("abc"))
	assert.True(t, validAmount("3"))
	assert.False(t, validAmount(""))
	assert.Equal(t, []string{"Income", "Expense"}, entryTypeNames())
}
