package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"wade/internal/core"
	"wade/internal/directus"
	"wade/internal/log"
	"wade/internal/session"
)

type tabLink struct {
	Key   string
	Label string
	// Ready is false for sections that only show a placeholder.
	Ready bool
}

var budgetTabs = []tabLink{
	{Key: "dashboard", Label: "Dashboard", Ready: true},
	{Key: "budget", Label: "Budget", Ready: true},
	{Key: "transactions", Label: "Transactions", Ready: true},
	{Key: "categories", Label: "Categories", Ready: true},
	{Key: "debt", Label: "Debt"},
	{Key: "goals", Label: "Goals"},
	{Key: "settings", Label: "Settings"},
}

func tabPattern() string {
	keys := make([]string, len(budgetTabs))
	for i, t := range budgetTabs {
		keys[i] = t.Key
	}
	return "(?:" + strings.Join(keys, "|") + ")"
}

// allRows lists a whole collection; the budget views are not paginated.
func allRows(sort ...string) directus.Query {
	return directus.Query{Sort: sort, Limit: -1}
}

// handleBudgetPage renders the layout with the selected tab. Switching tabs
// resets the session's panels; their content loads lazily from the tab.
func (s *Server) handleBudgetPage(w http.ResponseWriter, r *http.Request, base string) {
	tab := mux.Vars(r)["tab"]
	if tab == "" {
		tab = "dashboard"
	}
	sess := session.FromContext(r.Context())
	sess.InvalidateAttached()

	data := s.page(r, "Budget")
	data.Base = base
	data.Tab = tab
	data.Tabs = budgetTabs

	if isHTMX(r) && r.Header.Get("HX-Target") == "viewport" {
		s.renderPartial(w, r, "budget_tab", data)
		return
	}
	s.render(w, r, http.StatusOK, "budget", data)
}

type summaryData struct {
	Base    string
	Totals  core.Totals
	Max     decimal.Decimal
	Unknown []string
	Error   string
}

// handleSummary fetches entries and categories concurrently and renders
// the totals card.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, base string) {
	sess := session.FromContext(r.Context())
	ctx := sess.WithToken(r.Context())

	var (
		entries []core.BudgetEntry
		cats    []core.BudgetCategory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.entries.List(gctx, allRows())
		return err
	})
	g.Go(func() error {
		var err error
		cats, err = s.categories.List(gctx, allRows("category"))
		return err
	})

	data := summaryData{Base: base}
	if err := g.Wait(); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Summary fetch failed",
			log.FieldOperation, log.OpList,
			log.FieldError, err)
		data.Error = "Could not load the summary. Please try again."
		if directus.IsAuthError(err) {
			data.Error = "Your session has expired. Please log in again."
		}
		s.renderPartial(w, r, "summary", data)
		return
	}

	data.Totals = core.Summarize(entries)
	data.Unknown = core.UnknownCategories(entries, cats)
	if len(data.Totals.ByCategory) > 0 {
		data.Max = data.Totals.ByCategory[0].Amount
	}
	s.renderPartial(w, r, "summary", data)
}
