/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates products, rules,
	batches, and sometimes actions that demonstrate specific features.

AVAILABLE SCENARIOS:

	fresh-stock:      Newly delivered batches, everything ACTIVE
	expiring-week:    Batches inside the warning window, open alerts
	expired-backlog:  Expired batches the staff has not worked through
	busy-shelf:       Mixed shelf with actions and acknowledged alerts

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the product catalog
 3. Seed the default alert rules
 4. Create batches with expiry dates relative to now
 5. Optionally apply staff actions
 6. Run one evaluation tick so alerts and statuses are current

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "expiring-week"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ListScenarios, LoadScenario handlers
  - scheduler.go: RunNow, called after seeding
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/yoamart/shelflife/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-stock",
		Name:        "Fresh Stock",
		Description: "Newly delivered batches, everything comfortably inside shelf life",
		Category:    "basic",
	},
	{
		ID:          "expiring-week",
		Name:        "Expiring This Week",
		Description: "Batches inside the warning window with open NEAR_EXPIRY alerts",
		Category:    "alerts",
	},
	{
		ID:          "expired-backlog",
		Name:        "Expired Backlog",
		Description: "Expired batches with EXPIRED alerts waiting for disposal",
		Category:    "alerts",
	},
	{
		ID:          "busy-shelf",
		Name:        "Busy Shelf",
		Description: "Mixed shelf: partial disposals, acknowledged alerts, a recount",
		Category:    "actions",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.resetStore(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "fresh-stock":
		err = h.loadFreshStockScenario(ctx)
	case "expiring-week":
		err = h.loadExpiringWeekScenario(ctx)
	case "expired-backlog":
		err = h.loadExpiredBacklogScenario(ctx)
	case "busy-shelf":
		err = h.loadBusyShelfScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	// Bring alerts and statuses current for the seeded data.
	if h.Scheduler != nil {
		if _, err := h.Scheduler.RunNow(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to evaluate scenario", err)
			return
		}
	}

	h.currentScenario = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]any{"loaded": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.resetStore(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (h *Handler) resetStore(ctx context.Context) error {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	return resetter.Reset(ctx)
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// seedCatalog creates the shared product catalog and default rules.
func (h *Handler) seedCatalog(ctx context.Context) error {
	now := h.Clock.Now()
	products := []engine.Product{
		{ID: "prod-bread", Name: "Agege Bread", Price: decimal.NewFromInt(1200), Unit: "loaf"},
		{ID: "prod-milk", Name: "Peak Milk 400g", Price: decimal.NewFromInt(3500), Unit: "tin"},
		{ID: "prod-yogurt", Name: "Fan Yogurt 500ml", Price: decimal.NewFromInt(1800), Unit: "bottle"},
		{ID: "prod-eggs", Name: "Eggs (crate of 30)", Price: decimal.NewFromInt(4200), Unit: "crate"},
		{ID: "prod-palm-oil", Name: "Palm Oil 1L", Price: decimal.NewFromInt(2900), Unit: "bottle"},
	}
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		if err := h.Store.SaveProduct(ctx, p); err != nil {
			return err
		}
	}

	for _, rule := range h.RuleFactory.DefaultRuleSet() {
		if err := h.Store.SaveRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

// seedBatch creates one batch expiring daysLeft days from now.
func (h *Handler) seedBatch(ctx context.Context, productID string, quantity, daysLeft int) (engine.BatchID, error) {
	now := h.Clock.Now()
	batch := engine.Batch{
		ID:                engine.NewBatchID(),
		ProductID:         engine.ProductID(productID),
		ProductionDate:    engine.Midnight(now.AddDate(0, 0, daysLeft-14)),
		ExpiryDate:        engine.Midnight(now.AddDate(0, 0, daysLeft)),
		QuantityTotal:     quantity,
		QuantityAvailable: quantity,
		Status:            engine.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.Store.CreateBatch(ctx, batch); err != nil {
		return "", err
	}
	return batch.ID, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFreshStockScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	seeds := []struct {
		product  string
		quantity int
		daysLeft int
	}{
		{"prod-bread", 40, 12},
		{"prod-milk", 120, 180},
		{"prod-yogurt", 60, 21},
		{"prod-eggs", 25, 18},
	}
	for _, s := range seeds {
		if _, err := h.seedBatch(ctx, s.product, s.quantity, s.daysLeft); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadExpiringWeekScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	seeds := []struct {
		product  string
		quantity int
		daysLeft int
	}{
		{"prod-bread", 18, 2},  // inside the 3-day rule
		{"prod-yogurt", 30, 5}, // inside the 7-day rule
		{"prod-milk", 45, 7},   // boundary: exactly at threshold
		{"prod-eggs", 10, 15},  // comfortably active
	}
	for _, s := range seeds {
		if _, err := h.seedBatch(ctx, s.product, s.quantity, s.daysLeft); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadExpiredBacklogScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	seeds := []struct {
		product  string
		quantity int
		daysLeft int
	}{
		{"prod-bread", 12, -1},
		{"prod-yogurt", 8, -4},
		{"prod-milk", 20, 3},
	}
	for _, s := range seeds {
		if _, err := h.seedBatch(ctx, s.product, s.quantity, s.daysLeft); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBusyShelfScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	breadID, err := h.seedBatch(ctx, "prod-bread", 40, 2)
	if err != nil {
		return err
	}
	yogurtID, err := h.seedBatch(ctx, "prod-yogurt", 60, -2)
	if err != nil {
		return err
	}
	eggsID, err := h.seedBatch(ctx, "prod-eggs", 25, 20)
	if err != nil {
		return err
	}

	// Partial disposal of the near-expiry bread.
	if _, err := h.Ledger.Apply(ctx, engine.ApplyInput{
		BatchID:          breadID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 15,
		PerformedBy:      "chidi",
		Notes:            "mould on the bottom shelf stack",
	}); err != nil {
		return err
	}

	// Fully dispose the expired yogurt.
	if _, err := h.Ledger.Apply(ctx, engine.ApplyInput{
		BatchID:          yogurtID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 60,
		PerformedBy:      "amaka",
		Notes:            "past expiry, full write-off",
	}); err != nil {
		return err
	}

	// A recount that discovers breakage in the egg crates.
	if _, err := h.Ledger.Apply(ctx, engine.ApplyInput{
		BatchID:          eggsID,
		ActionType:       engine.ActionRecounted,
		QuantityAffected: 22,
		PerformedBy:      "chidi",
		Notes:            "three crates damaged in storage",
	}); err != nil {
		return err
	}

	return nil
}
