package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// Totals is recomputed from the whole fetched list on every render.
type Totals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
	Balance decimal.Decimal
	// ByCategory holds expense totals per category, largest first.
	ByCategory []CategoryAmount
	// Malformed lists entries whose amount is not a number. They count as 0.
	Malformed []ID
	Count     int
}

// Summarize partitions entries by type and sums their amounts. Entries with
// an unknown type are counted but belong to neither partition.
func Summarize(entries []BudgetEntry) Totals {
	t := Totals{
		Income:  decimal.Zero,
		Expense: decimal.Zero,
		Count:   len(entries),
	}
	byCat := map[string]decimal.Decimal{}
	for _, e := range entries {
		amt, err := ParseStoredAmount(string(e.Amount))
		if err != nil {
			t.Malformed = append(t.Malformed, e.ID)
			continue
		}
		switch e.Type {
		case Income:
			t.Income = t.Income.Add(amt)
		case Expense:
			t.Expense = t.Expense.Add(amt)
			byCat[e.Category] = byCat[e.Category].Add(amt)
		}
	}
	t.Balance = t.Income.Sub(t.Expense)

	for name, amt := range byCat {
		t.ByCategory = append(t.ByCategory, CategoryAmount{Name: name, Amount: amt})
	}
	sort.Slice(t.ByCategory, func(i, j int) bool {
		if c := t.ByCategory[i].Amount.Cmp(t.ByCategory[j].Amount); c != 0 {
			return c > 0
		}
		return t.ByCategory[i].Name < t.ByCategory[j].Name
	})
	sort.Slice(t.Malformed, func(i, j int) bool { return t.Malformed[i] < t.Malformed[j] })
	return t
}

// Share returns amt as a rounded percentage of max, at least 2 for any
// positive amount so small bars stay visible.
func Share(amt, max decimal.Decimal) int {
	if !max.IsPositive() || !amt.IsPositive() {
		return 0
	}
	pct := int(amt.Mul(decimal.NewFromInt(100)).Div(max).Round(0).IntPart())
	if pct < 2 {
		pct = 2
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}
