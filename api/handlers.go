/*
handlers.go - HTTP API handlers for the batch lifecycle service

PURPOSE:
  Exposes the batch lifecycle and alert engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Batches:
    GET    /api/batches                List batches (filter by status/product)
    POST   /api/batches                Register a batch
    GET    /api/batches/{id}           Get batch details
    GET    /api/batches/{id}/actions   Batch audit trail
    POST   /api/batches/{id}/actions   Apply a staff action
    GET    /api/batches/{id}/alerts    Alert history for a batch
    GET    /api/actions                Audit trail across batches

  Alerts:
    GET    /api/alerts                 List alerts (open=true for working set)
    GET    /api/alerts/{id}            Get alert details
    POST   /api/alerts/{id}/ack        Acknowledge an alert

  Rules:
    GET    /api/rules                  List alert rules
    POST   /api/rules                  Create rule from JSON
    DELETE /api/rules/{id}             Delete rule

  Products:
    GET    /api/products               List catalog
    POST   /api/products               Register product

  Admin:
    POST   /api/admin/evaluate         Trigger an evaluation tick now
    GET    /api/admin/runs             Evaluation tick history
    GET    /api/reports/waste          Value lost to disposal/returns

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Ledger: Validated atomic action application
  - Ack: Alert acknowledgment
  - RuleFactory: JSON to AlertRule conversion
  - Scheduler: Background evaluation (set after construction)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (version race, idempotency replay, double ack)
  - 500: Internal errors
  A 409 on an action means "re-read the batch and retry"; clients
  surface it as a refresh, never as data loss.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yoamart/shelflife/engine"
	"github.com/yoamart/shelflife/factory"
	"github.com/yoamart/shelflife/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that support wiping all data.
// Used only by the scenario endpoints.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       engine.Store
	Ledger      *engine.ActionLedger
	Ack         *engine.AcknowledgmentService
	RuleFactory *factory.RuleFactory
	Clock       engine.Clock
	Scheduler   *EvaluationScheduler

	validate *validator.Validate
	log      zerolog.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store engine.Store, clock engine.Clock, log zerolog.Logger) *Handler {
	ledger := engine.NewActionLedger(store, clock)
	ledger.OnConflictRetry = metrics.ConflictRetries.Inc
	return &Handler{
		Store:       store,
		Ledger:      ledger,
		Ack:         engine.NewAcknowledgmentService(store, clock),
		RuleFactory: factory.NewRuleFactory(),
		Clock:       clock,
		validate:    validator.New(),
		log:         log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// ListBatches returns batches, filtered and paginated.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	filter := engine.BatchFilter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := engine.Status(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown status", nil)
			return
		}
		filter.Status = &status
	}
	if v := r.URL.Query().Get("product_id"); v != "" {
		pid := engine.ProductID(v)
		filter.ProductID = &pid
	}
	if r.URL.Query().Get("active") == "true" {
		filter.ActiveOnly = true
	}
	page := parsePage(r)

	batches, total, err := h.Store.ListBatches(r.Context(), filter, page)
	if err != nil {
		h.writeEngineError(w, "Failed to list batches", err)
		return
	}

	now := h.Clock.Now()
	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b, now)
	}
	writeJSON(w, http.StatusOK, PageDTO{Items: dtos, Page: page.Page, Limit: page.Limit, Total: total})
}

// GetBatch returns a single batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))

	batch, err := h.Store.GetBatch(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to get batch", err)
		return
	}

	dto := toBatchDTO(*batch, h.Clock.Now())
	if product, err := h.Store.GetProduct(r.Context(), batch.ProductID); err == nil {
		dto.ProductName = product.Name
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateBatch registers a new batch. Status is derived immediately so
// a batch arriving inside the warning window is NEAR_EXPIRY from birth.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	productionDate, _ := time.Parse(dateLayout, req.ProductionDate)
	expiryDate, _ := time.Parse(dateLayout, req.ExpiryDate)

	if _, err := h.Store.GetProduct(r.Context(), engine.ProductID(req.ProductID)); err != nil {
		h.writeEngineError(w, "Failed to resolve product", err)
		return
	}

	now := h.Clock.Now()
	batch := engine.Batch{
		ID:                engine.NewBatchID(),
		ProductID:         engine.ProductID(req.ProductID),
		ProductionDate:    productionDate,
		ExpiryDate:        expiryDate,
		QuantityTotal:     req.Quantity,
		QuantityAvailable: req.Quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := batch.Validate(); err != nil {
		h.writeEngineError(w, "Invalid batch", err)
		return
	}

	rules, err := h.Store.ListRules(r.Context(), true)
	if err != nil {
		h.writeEngineError(w, "Failed to load rules", err)
		return
	}
	batch.Status = engine.DeriveStatus(batch, now, engine.NearExpiryThreshold(rules))

	if err := h.Store.CreateBatch(r.Context(), batch); err != nil {
		h.writeEngineError(w, "Failed to create batch", err)
		return
	}

	h.log.Info().
		Str("batch_id", string(batch.ID)).
		Str("product_id", string(batch.ProductID)).
		Int("quantity", batch.QuantityTotal).
		Str("status", string(batch.Status)).
		Msg("batch registered")

	writeJSON(w, http.StatusCreated, toBatchDTO(batch, now))
}

// ListBatchActions returns the audit trail for one batch.
func (h *Handler) ListBatchActions(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetBatch(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to get batch", err)
		return
	}

	page := parsePage(r)
	actions, total, err := h.Store.ListActions(r.Context(), engine.ActionFilter{BatchID: &id}, page)
	if err != nil {
		h.writeEngineError(w, "Failed to list actions", err)
		return
	}

	dtos := make([]ActionDTO, len(actions))
	for i, a := range actions {
		dtos[i] = toActionDTO(a)
	}
	writeJSON(w, http.StatusOK, PageDTO{Items: dtos, Page: page.Page, Limit: page.Limit, Total: total})
}

// ListBatchAlerts returns all alerts raised for one batch, open or not.
func (h *Handler) ListBatchAlerts(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetBatch(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to get batch", err)
		return
	}

	page := parsePage(r)
	alerts, total, err := h.Store.ListAlerts(r.Context(), engine.AlertFilter{BatchID: &id}, page)
	if err != nil {
		h.writeEngineError(w, "Failed to list alerts", err)
		return
	}

	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = toAlertDTO(a)
	}
	writeJSON(w, http.StatusOK, PageDTO{Items: dtos, Page: page.Page, Limit: page.Limit, Total: total})
}

// ListActions returns the audit trail across all batches, filterable by
// action type.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	filter := engine.ActionFilter{}
	if v := r.URL.Query().Get("batch_id"); v != "" {
		bid := engine.BatchID(v)
		filter.BatchID = &bid
	}
	if v := r.URL.Query().Get("type"); v != "" {
		at := engine.ActionType(v)
		if !at.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown action type", nil)
			return
		}
		filter.ActionType = &at
	}
	page := parsePage(r)

	actions, total, err := h.Store.ListActions(r.Context(), filter, page)
	if err != nil {
		h.writeEngineError(w, "Failed to list actions", err)
		return
	}

	dtos := make([]ActionDTO, len(actions))
	for i, a := range actions {
		dtos[i] = toActionDTO(a)
	}
	writeJSON(w, http.StatusOK, PageDTO{Items: dtos, Page: page.Page, Limit: page.Limit, Total: total})
}

// ApplyAction applies a staff action to a batch.
func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	id := engine.BatchID(chi.URLParam(r, "id"))

	var req ApplyActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	result, err := h.Ledger.Apply(r.Context(), engine.ApplyInput{
		BatchID:          id,
		ActionType:       engine.ActionType(req.ActionType),
		QuantityAffected: req.QuantityAffected,
		PerformedBy:      req.PerformedBy,
		Notes:            req.Notes,
		AlertID:          engine.AlertID(req.AlertID),
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to apply action", err)
		return
	}

	metrics.ActionsApplied.WithLabelValues(string(result.Action.ActionType)).Inc()
	h.log.Info().
		Str("batch_id", string(id)).
		Str("action_type", req.ActionType).
		Int("quantity", req.QuantityAffected).
		Str("performed_by", req.PerformedBy).
		Str("new_status", string(result.Batch.Status)).
		Msg("action applied")

	resp := ApplyActionResponse{
		Action: toActionDTO(result.Action),
		Batch:  toBatchDTO(result.Batch, h.Clock.Now()),
	}
	if result.ClosedAlert != nil {
		metrics.AlertsClosed.WithLabelValues(string(engine.ResolutionByAction)).Inc()
		dto := toAlertDTO(*result.ClosedAlert)
		resp.ClosedAlert = &dto
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// ALERT HANDLERS
// =============================================================================

// ListAlerts returns alerts, filtered and paginated. The staff working
// set is ?open=true.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := engine.AlertFilter{}
	if v := r.URL.Query().Get("batch_id"); v != "" {
		bid := engine.BatchID(v)
		filter.BatchID = &bid
	}
	if v := r.URL.Query().Get("type"); v != "" {
		at := engine.AlertType(v)
		filter.AlertType = &at
	}
	if r.URL.Query().Get("open") == "true" {
		filter.OpenOnly = true
	}
	page := parsePage(r)

	alerts, total, err := h.Store.ListAlerts(r.Context(), filter, page)
	if err != nil {
		h.writeEngineError(w, "Failed to list alerts", err)
		return
	}

	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = toAlertDTO(a)
	}
	writeJSON(w, http.StatusOK, PageDTO{Items: dtos, Page: page.Page, Limit: page.Limit, Total: total})
}

// GetAlert returns a single alert.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := engine.AlertID(chi.URLParam(r, "id"))

	alert, err := h.Store.GetAlert(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to get alert", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(*alert))
}

// AcknowledgeAlert marks an alert as seen. One-way: a second attempt
// returns 409.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := engine.AlertID(chi.URLParam(r, "id"))

	var req AcknowledgeAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	alert, err := h.Ack.Acknowledge(r.Context(), id, req.AcknowledgedBy)
	if err != nil {
		h.writeEngineError(w, "Failed to acknowledge alert", err)
		return
	}

	metrics.AlertsClosed.WithLabelValues(string(engine.ResolutionAcknowledged)).Inc()
	h.log.Info().
		Str("alert_id", string(id)).
		Str("acknowledged_by", req.AcknowledgedBy).
		Msg("alert acknowledged")

	writeJSON(w, http.StatusOK, toAlertDTO(*alert))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all alert rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	rules, err := h.Store.ListRules(r.Context(), activeOnly)
	if err != nil {
		h.writeEngineError(w, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule creates an alert rule from JSON. Rule changes take effect
// on the next evaluation; existing alerts are never retro-closed.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}

	if err := h.Store.SaveRule(r.Context(), *rule); err != nil {
		h.writeEngineError(w, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(*rule))
}

// DeleteRule removes an alert rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := engine.RuleID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteRule(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to delete rule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": string(id)})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	products, err := h.Store.ListProducts(r.Context(), activeOnly)
	if err != nil {
		h.writeEngineError(w, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct registers a product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	product := engine.Product{
		ID:        engine.ProductID(req.ID),
		Name:      req.Name,
		Price:     price,
		Unit:      req.Unit,
		Active:    true,
		CreatedAt: h.Clock.Now(),
	}
	if product.ID == "" {
		product.ID = engine.NewProductID()
	}

	if err := h.Store.SaveProduct(r.Context(), product); err != nil {
		h.writeEngineError(w, "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerEvaluation runs an evaluation tick immediately. Safe to call
// at any time: evaluation is idempotent.
func (h *Handler) TriggerEvaluation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}

	run, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.writeEngineError(w, "Evaluation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// ListEvaluationRuns returns recent evaluation ticks.
func (h *Handler) ListEvaluationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, "Failed to list evaluation runs", err)
		return
	}

	dtos := make([]EvaluationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// WasteReport totals stock lost to disposal and supplier returns over a
// date range, valued at catalog price.
func (h *Handler) WasteReport(w http.ResponseWriter, r *http.Request) {
	now := h.Clock.Now()
	from := engine.Midnight(now.AddDate(0, -1, 0))
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
		// Inclusive end of day.
		to = t.AddDate(0, 0, 1)
	}

	report, err := h.buildWasteReport(r.Context(), from, to)
	if err != nil {
		h.writeEngineError(w, "Failed to build waste report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) buildWasteReport(ctx context.Context, from, to time.Time) (*WasteReportDTO, error) {
	wasteTypes := []engine.ActionType{engine.ActionDisposed, engine.ActionReturnedToSupplier}

	type line struct {
		units int
		price decimal.Decimal
		name  string
	}
	byProduct := make(map[engine.ProductID]*line)

	for _, at := range wasteTypes {
		at := at
		actions, _, err := h.Store.ListActions(ctx, engine.ActionFilter{ActionType: &at}, engine.Page{})
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			if a.PerformedAt.Before(from) || !a.PerformedAt.Before(to) {
				continue
			}
			batch, err := h.Store.GetBatch(ctx, a.BatchID)
			if err != nil {
				continue
			}
			l := byProduct[batch.ProductID]
			if l == nil {
				l = &line{}
				if p, err := h.Store.GetProduct(ctx, batch.ProductID); err == nil {
					l.price = p.Price
					l.name = p.Name
				}
				byProduct[batch.ProductID] = l
			}
			l.units += a.QuantityAffected
		}
	}

	report := &WasteReportDTO{
		From:       from.Format(dateLayout),
		To:         to.AddDate(0, 0, -1).Format(dateLayout),
		TotalValue: decimal.Zero.String(),
	}
	totalValue := decimal.Zero
	for pid, l := range byProduct {
		value := l.price.Mul(decimal.NewFromInt(int64(l.units)))
		report.Lines = append(report.Lines, WasteLineDTO{
			ProductID:   string(pid),
			ProductName: l.name,
			UnitsWasted: l.units,
			UnitPrice:   l.price.String(),
			ValueWasted: value.String(),
		})
		report.TotalUnits += l.units
		totalValue = totalValue.Add(value)
	}
	report.TotalValue = totalValue.String()
	return report, nil
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parsePage(r *http.Request) engine.Page {
	page := engine.Page{Page: 1, Limit: 50}
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page.Limit = n
		}
	}
	return page
}

// writeEngineError maps domain errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
