package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Income  EntryType = "Income"
	Expense EntryType = "Expense"
)

type (
	EntryType string

	// ID is a Directus primary key. Integer keys arrive as JSON numbers,
	// uuid keys as strings; both are kept as their decimal/string form.
	ID string

	// Amount is the numeric-string stored by Directus decimal fields.
	Amount string

	BudgetCategory struct {
		ID       ID     `json:"id,omitempty"`
		Category string `json:"category"`
		Note     string `json:"note"`
	}

	// BudgetEntry references its category by name, not by id. Directus
	// stores the name; entries pointing at a removed category are reported
	// by UnknownCategories rather than rejected.
	BudgetEntry struct {
		ID       ID        `json:"id,omitempty"`
		Item     string    `json:"item"`
		Amount   Amount    `json:"amount"`
		Type     EntryType `json:"type"`
		Category string    `json:"category"`
	}
)

var (
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidType   = errors.New("invalid entry type")
)

// FieldError names the form field a validation error belongs to.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func missing(field string) error {
	return &FieldError{Field: field, Err: ErrMissingField}
}

// EntryTypes lists the accepted entry types in display order.
func EntryTypes() []EntryType {
	return []EntryType{Income, Expense}
}

func (t EntryType) IsValid() bool {
	switch t {
	case Income, Expense:
		return true
	default:
		return false
	}
}

func (id ID) String() string {
	return string(id)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	s, err := flexibleString(data)
	if err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(s)
	return nil
}

func (a Amount) String() string {
	return string(a)
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s, err := flexibleString(data)
	if err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	*a = Amount(s)
	return nil
}

// flexibleString accepts a JSON string, number or null.
func flexibleString(data []byte) (string, error) {
	if string(data) == "null" {
		return "", nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", err
	}
	return n.String(), nil
}

func (c BudgetCategory) RecordID() string {
	return string(c.ID)
}

// Validate checks the add/edit form for a category.
func (c BudgetCategory) Validate() error {
	if strings.TrimSpace(c.Category) == "" {
		return missing("category")
	}
	return nil
}

func (e BudgetEntry) RecordID() string {
	return string(e.ID)
}

// Validate requires item, amount, type and category to be present, then
// rejects amounts that do not parse and unknown types.
func (e BudgetEntry) Validate() error {
	if strings.TrimSpace(e.Item) == "" {
		return missing("item")
	}
	if strings.TrimSpace(string(e.Amount)) == "" {
		return missing("amount")
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return missing("type")
	}
	if strings.TrimSpace(e.Category) == "" {
		return missing("category")
	}
	if _, err := ParseAmount(string(e.Amount)); err != nil {
		return &FieldError{Field: "amount", Err: err}
	}
	if !e.Type.IsValid() {
		return &FieldError{Field: "type", Err: ErrInvalidType}
	}
	return nil
}

// UnknownCategories returns the distinct category names used by entries that
// match no category in cats, in first-seen order.
func UnknownCategories(entries []BudgetEntry, cats []BudgetCategory) []string {
	known := make(map[string]struct{}, len(cats))
	for _, c := range cats {
		known[c.Category] = struct{}{}
	}
	seen := map[string]struct{}{}
	var out []string
	for _, e := range entries {
		if e.Category == "" {
			continue
		}
		if _, ok := known[e.Category]; ok {
			continue
		}
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}

// CategoryNames returns the category names in list order, skipping blanks
// and duplicates.
func CategoryNames(cats []BudgetCategory) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		name := strings.TrimSpace(c.Category)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
