/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator struct tags; handlers run them through
  a shared validator.Validate instance before touching domain logic.
  DTOs stay pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/yoamart/shelflife/engine"
)

// dateLayout is the wire format for calendar dates. Expiry is a
// calendar-day concept, so dates cross the API without a time part.
const dateLayout = "2006-01-02"

// =============================================================================
// BATCH TYPES
// =============================================================================

// BatchDTO represents a batch in API responses.
type BatchDTO struct {
	ID                string `json:"id"`
	ProductID         string `json:"product_id"`
	ProductName       string `json:"product_name,omitempty"`
	ProductionDate    string `json:"production_date"`
	ExpiryDate        string `json:"expiry_date"`
	QuantityTotal     int    `json:"quantity_total"`
	QuantityAvailable int    `json:"quantity_available"`
	Status            string `json:"status"`
	DaysLeft          int    `json:"days_left"`
	Version           int    `json:"version"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

// CreateBatchRequest is the request to register a batch.
type CreateBatchRequest struct {
	ProductID      string `json:"product_id" validate:"required"`
	ProductionDate string `json:"production_date" validate:"required,datetime=2006-01-02"`
	ExpiryDate     string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	Quantity       int    `json:"quantity" validate:"required,gt=0"`
}

func toBatchDTO(b engine.Batch, now time.Time) BatchDTO {
	return BatchDTO{
		ID:                string(b.ID),
		ProductID:         string(b.ProductID),
		ProductionDate:    b.ProductionDate.Format(dateLayout),
		ExpiryDate:        b.ExpiryDate.Format(dateLayout),
		QuantityTotal:     b.QuantityTotal,
		QuantityAvailable: b.QuantityAvailable,
		Status:            string(b.Status),
		DaysLeft:          b.DaysLeft(now),
		Version:           b.Version,
		CreatedAt:         b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         b.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// ACTION TYPES
// =============================================================================

// ApplyActionRequest is the request to apply a staff action to a batch.
type ApplyActionRequest struct {
	ActionType       string `json:"action_type" validate:"required"`
	QuantityAffected int    `json:"quantity_affected"`
	PerformedBy      string `json:"performed_by" validate:"required"`
	Notes            string `json:"notes,omitempty" validate:"max=1000"`
	AlertID          string `json:"alert_id,omitempty"`
	IdempotencyKey   string `json:"idempotency_key,omitempty" validate:"max=128"`
}

// ActionDTO represents an audit trail entry.
type ActionDTO struct {
	ID               string `json:"id"`
	BatchID          string `json:"batch_id"`
	AlertID          string `json:"alert_id,omitempty"`
	ActionType       string `json:"action_type"`
	QuantityAffected int    `json:"quantity_affected"`
	PerformedBy      string `json:"performed_by"`
	PerformedAt      string `json:"performed_at"`
	Notes            string `json:"notes,omitempty"`
}

// ApplyActionResponse is what a successful action returns: the audit
// entry, the fresh batch state, and the alert it resolved (if any).
type ApplyActionResponse struct {
	Action      ActionDTO `json:"action"`
	Batch       BatchDTO  `json:"batch"`
	ClosedAlert *AlertDTO `json:"closed_alert,omitempty"`
}

func toActionDTO(a engine.Action) ActionDTO {
	return ActionDTO{
		ID:               string(a.ID),
		BatchID:          string(a.BatchID),
		AlertID:          string(a.AlertID),
		ActionType:       string(a.ActionType),
		QuantityAffected: a.QuantityAffected,
		PerformedBy:      a.PerformedBy,
		PerformedAt:      a.PerformedAt.Format(time.RFC3339),
		Notes:            a.Notes,
	}
}

// =============================================================================
// ALERT TYPES
// =============================================================================

// AlertDTO represents an alert in API responses.
type AlertDTO struct {
	ID             string `json:"id"`
	BatchID        string `json:"batch_id"`
	RuleID         string `json:"rule_id,omitempty"`
	AlertType      string `json:"alert_type"`
	AlertDate      string `json:"alert_date"`
	Open           bool   `json:"open"`
	Acknowledged   bool   `json:"acknowledged"`
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
	AcknowledgedAt string `json:"acknowledged_at,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// AcknowledgeAlertRequest is the request to acknowledge an alert.
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" validate:"required"`
}

func toAlertDTO(a engine.Alert) AlertDTO {
	dto := AlertDTO{
		ID:             string(a.ID),
		BatchID:        string(a.BatchID),
		RuleID:         string(a.RuleID),
		AlertType:      string(a.AlertType),
		AlertDate:      a.AlertDate.Format(dateLayout),
		Open:           a.Open(),
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		Resolution:     string(a.Resolution),
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
	if a.AcknowledgedAt != nil {
		dto.AcknowledgedAt = a.AcknowledgedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// RULE TYPES
// =============================================================================

// RuleDTO represents an alert rule in API responses.
type RuleDTO struct {
	ID               string `json:"id"`
	RuleName         string `json:"rule_name"`
	DaysBeforeExpiry int    `json:"days_before_expiry"`
	Active           bool   `json:"active"`
	CreatedAt        string `json:"created_at,omitempty"`
}

func toRuleDTO(r engine.AlertRule) RuleDTO {
	return RuleDTO{
		ID:               string(r.ID),
		RuleName:         r.RuleName,
		DaysBeforeExpiry: r.DaysBeforeExpiry,
		Active:           r.Active,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// PRODUCT TYPES
// =============================================================================

// ProductDTO represents a catalog product.
type ProductDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Unit      string `json:"unit,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateProductRequest is the request to register a product.
type CreateProductRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name" validate:"required"`
	Price string `json:"price" validate:"required"`
	Unit  string `json:"unit,omitempty"`
}

func toProductDTO(p engine.Product) ProductDTO {
	return ProductDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Price:     p.Price.String(),
		Unit:      p.Unit,
		Active:    p.Active,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// EVALUATION / REPORT TYPES
// =============================================================================

// EvaluationRunDTO represents one scheduler tick.
type EvaluationRunDTO struct {
	ID             string `json:"id"`
	StartedAt      string `json:"started_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
	Status         string `json:"status"`
	BatchesChecked int    `json:"batches_checked"`
	AlertsCreated  int    `json:"alerts_created"`
	AlertsClosed   int    `json:"alerts_closed"`
	StatusChanges  int    `json:"status_changes"`
	Error          string `json:"error,omitempty"`
}

func toRunDTO(run engine.EvaluationRun) EvaluationRunDTO {
	dto := EvaluationRunDTO{
		ID:             run.ID,
		StartedAt:      run.StartedAt.Format(time.RFC3339),
		Status:         run.Status,
		BatchesChecked: run.BatchesChecked,
		AlertsCreated:  run.AlertsCreated,
		AlertsClosed:   run.AlertsClosed,
		StatusChanges:  run.StatusChanges,
		Error:          run.Error,
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// WasteLineDTO is one product's contribution to the waste report.
type WasteLineDTO struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitsWasted int    `json:"units_wasted"`
	UnitPrice   string `json:"unit_price"`
	ValueWasted string `json:"value_wasted"`
}

// WasteReportDTO totals the stock lost to disposal and returns.
type WasteReportDTO struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	TotalUnits int            `json:"total_units"`
	TotalValue string         `json:"total_value"`
	Lines      []WasteLineDTO `json:"lines"`
}

// =============================================================================
// COMMON TYPES
// =============================================================================

// PageDTO wraps a paginated list.
type PageDTO struct {
	Items any `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// ErrorResponse is the standard error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}
