/*
Package sqlite provides a SQLite-backed implementation of engine.Store.

PURPOSE:
  Implements batch, alert, action, rule, product, and evaluation-run
  persistence using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

GUARDED BATCH WRITES:
  UpdateBatchGuarded compiles to a single conditional UPDATE:

      UPDATE batches SET ... , version = version + 1
      WHERE id = ? AND version = ?

  Zero affected rows means the caller's observed version is stale; the
  store reports ErrConflict (or ErrBatchNotFound when the row is gone).
  This is the per-batch serialization discipline: no per-id mutexes,
  just version tokens compared at write time.

OPEN-ALERT UNIQUENESS:
  A partial unique index enforces at-most-one-open-alert per
  (batch_id, alert_type):

      CREATE UNIQUE INDEX ux_alerts_open
      ON alerts(batch_id, alert_type)
      WHERE acknowledged = 0 AND closed = 0

  The dedup invariant therefore holds even under concurrent evaluator
  runs - no check-then-create race.

APPEND-ONLY ACTIONS:
  No UPDATE or DELETE statements exist for the actions table.
  Corrections are RECOUNTED actions, not edits.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers
  don't block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/shelflife.db")
  if err != nil {
      log.Fatal().Err(err).Msg("open store")
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface contracts
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/yoamart/shelflife/engine"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Product catalog (minimal: what batches need to resolve)
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL DEFAULT '0',
		unit TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Batches (aggregate root; version column is the optimistic token)
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		production_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		quantity_total INTEGER NOT NULL,
		quantity_available INTEGER NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (quantity_available >= 0),
		CHECK (quantity_available <= quantity_total)
	);
	CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
	CREATE INDEX IF NOT EXISTS idx_batches_product ON batches(product_id);
	CREATE INDEX IF NOT EXISTS idx_batches_expiry ON batches(expiry_date);

	-- Alert rules (days-before-expiry thresholds)
	CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		rule_name TEXT NOT NULL,
		days_before_expiry INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		CHECK (days_before_expiry >= 0)
	);

	-- Alerts
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		rule_id TEXT,
		alert_type TEXT NOT NULL,
		alert_date TEXT NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		acknowledged_by TEXT,
		acknowledged_at TEXT,
		closed INTEGER NOT NULL DEFAULT 0,
		resolution TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_batch ON alerts(batch_id);
	-- At most one OPEN alert per (batch, type). Enforced here, in the
	-- storage layer, so the invariant survives concurrent evaluators.
	CREATE UNIQUE INDEX IF NOT EXISTS ux_alerts_open
		ON alerts(batch_id, alert_type)
		WHERE acknowledged = 0 AND closed = 0;

	-- Actions (append-only audit trail; no UPDATE/DELETE anywhere)
	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		alert_id TEXT,
		action_type TEXT NOT NULL,
		quantity_affected INTEGER NOT NULL,
		performed_by TEXT NOT NULL,
		performed_at TEXT NOT NULL,
		notes TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_batch ON actions(batch_id, performed_at);

	-- Evaluation runs (scheduler tick audit)
	CREATE TABLE IF NOT EXISTS evaluation_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL,
		batches_checked INTEGER NOT NULL DEFAULT 0,
		alerts_created INTEGER NOT NULL DEFAULT 0,
		alerts_closed INTEGER NOT NULL DEFAULT 0,
		status_changes INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so every operation can run either
// standalone or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BATCH STORE
// =============================================================================

func (s *Store) CreateBatch(ctx context.Context, b engine.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createBatch(ctx, s.db, b)
}

func createBatch(ctx context.Context, db dbtx, b engine.Batch) error {
	query := `
		INSERT INTO batches
		(id, product_id, production_date, expiry_date, quantity_total, quantity_available,
		 status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		b.ID, b.ProductID,
		b.ProductionDate.Format(time.RFC3339), b.ExpiryDate.Format(time.RFC3339),
		b.QuantityTotal, b.QuantityAvailable,
		b.Status, b.Version,
		b.CreatedAt.Format(time.RFC3339), b.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id engine.BatchID) (*engine.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBatch(ctx, s.db, id)
}

func getBatch(ctx context.Context, db dbtx, id engine.BatchID) (*engine.Batch, error) {
	query := `
		SELECT id, product_id, production_date, expiry_date, quantity_total,
		       quantity_available, status, version, created_at, updated_at
		FROM batches WHERE id = ?
	`
	row := db.QueryRowContext(ctx, query, id)
	b, err := scanBatchRow(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

func (s *Store) ListBatches(ctx context.Context, filter engine.BatchFilter, page engine.Page) ([]engine.Batch, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"1=1"}
	var args []any
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.ProductID != nil {
		where = append(where, "product_id = ?")
		args = append(args, *filter.ProductID)
	}
	if filter.ActiveOnly {
		where = append(where, "status NOT IN (?, ?)")
		args = append(args, engine.StatusRemoved, engine.StatusDisposedReturned)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	query := `
		SELECT id, product_id, production_date, expiry_date, quantity_total,
		       quantity_available, status, version, created_at, updated_at
		FROM batches WHERE ` + cond + ` ORDER BY expiry_date ASC, id ASC`
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit, page.Offset())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []engine.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		batches = append(batches, *b)
	}
	return batches, total, rows.Err()
}

func (s *Store) UpdateBatchGuarded(ctx context.Context, b engine.Batch, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBatchGuarded(ctx, s.db, b, expectedVersion)
}

func updateBatchGuarded(ctx context.Context, db dbtx, b engine.Batch, expectedVersion int) error {
	// quantity_total is deliberately absent: immutable after creation.
	query := `
		UPDATE batches
		SET quantity_available = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := db.ExecContext(ctx, query,
		b.QuantityAvailable, b.Status, b.UpdatedAt.Format(time.RFC3339),
		b.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches WHERE id = ?", b.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return engine.ErrBatchNotFound
		}
		return &engine.ConflictError{BatchID: b.ID, ExpectedVersion: expectedVersion}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatchRow(row *sql.Row) (*engine.Batch, error) {
	return scanBatchFrom(row)
}

func scanBatch(rows *sql.Rows) (*engine.Batch, error) {
	return scanBatchFrom(rows)
}

func scanBatchFrom(row rowScanner) (*engine.Batch, error) {
	var (
		b                                                  engine.Batch
		productionDate, expiryDate, createdAt, updatedAt string
	)
	err := row.Scan(
		&b.ID, &b.ProductID, &productionDate, &expiryDate,
		&b.QuantityTotal, &b.QuantityAvailable, &b.Status, &b.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ProductionDate, _ = time.Parse(time.RFC3339, productionDate)
	b.ExpiryDate, _ = time.Parse(time.RFC3339, expiryDate)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// =============================================================================
// ALERT STORE
// =============================================================================

func (s *Store) CreateAlert(ctx context.Context, a engine.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAlert(ctx, s.db, a)
}

func createAlert(ctx context.Context, db dbtx, a engine.Alert) error {
	query := `
		INSERT INTO alerts
		(id, batch_id, rule_id, alert_type, alert_date, acknowledged, acknowledged_by,
		 acknowledged_at, closed, resolution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var ackAt any
	if a.AcknowledgedAt != nil {
		ackAt = a.AcknowledgedAt.Format(time.RFC3339)
	}
	_, err := db.ExecContext(ctx, query,
		a.ID, a.BatchID, nullString(string(a.RuleID)), a.AlertType,
		a.AlertDate.Format(time.RFC3339),
		boolInt(a.Acknowledged), nullString(a.AcknowledgedBy), ackAt,
		boolInt(a.Closed), nullString(string(a.Resolution)),
		a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateOpenAlert
		}
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id engine.AlertID) (*engine.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAlert(ctx, s.db, id)
}

func getAlert(ctx context.Context, db dbtx, id engine.AlertID) (*engine.Alert, error) {
	rows, err := db.QueryContext(ctx, selectAlerts+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, engine.ErrAlertNotFound
	}
	return scanAlert(rows)
}

const selectAlerts = `
	SELECT id, batch_id, rule_id, alert_type, alert_date, acknowledged,
	       acknowledged_by, acknowledged_at, closed, resolution, created_at
	FROM alerts`

func (s *Store) ListAlerts(ctx context.Context, filter engine.AlertFilter, page engine.Page) ([]engine.Alert, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"1=1"}
	var args []any
	if filter.BatchID != nil {
		where = append(where, "batch_id = ?")
		args = append(args, *filter.BatchID)
	}
	if filter.AlertType != nil {
		where = append(where, "alert_type = ?")
		args = append(args, *filter.AlertType)
	}
	if filter.OpenOnly {
		where = append(where, "acknowledged = 0 AND closed = 0")
	}
	if filter.Acknowledged != nil {
		where = append(where, "acknowledged = ?")
		args = append(args, boolInt(*filter.Acknowledged))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := selectAlerts + " WHERE " + cond + " ORDER BY alert_date DESC, id ASC"
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit, page.Offset())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []engine.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, total, rows.Err()
}

func scanAlert(rows *sql.Rows) (*engine.Alert, error) {
	var (
		a                              engine.Alert
		ruleID, ackBy, ackAt, res      sql.NullString
		alertDate, createdAt           string
		acknowledged, closed           int
	)
	err := rows.Scan(
		&a.ID, &a.BatchID, &ruleID, &a.AlertType, &alertDate,
		&acknowledged, &ackBy, &ackAt, &closed, &res, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.RuleID = engine.RuleID(ruleID.String)
	a.AlertDate, _ = time.Parse(time.RFC3339, alertDate)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.Acknowledged = acknowledged == 1
	a.AcknowledgedBy = ackBy.String
	if ackAt.Valid {
		t, _ := time.Parse(time.RFC3339, ackAt.String)
		a.AcknowledgedAt = &t
	}
	a.Closed = closed == 1
	a.Resolution = engine.Resolution(res.String)
	return &a, nil
}

func (s *Store) CloseAlert(ctx context.Context, id engine.AlertID, resolution engine.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return closeAlert(ctx, s.db, id, resolution)
}

func closeAlert(ctx context.Context, db dbtx, id engine.AlertID, resolution engine.Resolution) error {
	res, err := db.ExecContext(ctx,
		"UPDATE alerts SET closed = 1, resolution = ? WHERE id = ? AND acknowledged = 0 AND closed = 0",
		resolution, id,
	)
	if err != nil {
		return fmt.Errorf("failed to close alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Already closed/acknowledged is fine; missing is not.
		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts WHERE id = ?", id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return engine.ErrAlertNotFound
		}
	}
	return nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id engine.AlertID, by string, at time.Time) (*engine.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Compare-and-set: only an open alert can transition. A lost race
	// or a replay both land in the affected == 0 branch.
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?, resolution = ?
		WHERE id = ? AND acknowledged = 0 AND closed = 0`,
		by, at.Format(time.RFC3339), engine.ResolutionAcknowledged, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := getAlert(ctx, s.db, id); err != nil {
			return nil, err
		}
		return nil, engine.ErrAlreadyAcknowledged
	}
	return getAlert(ctx, s.db, id)
}

// =============================================================================
// ACTION STORE (append-only)
// =============================================================================

func (s *Store) AppendAction(ctx context.Context, a engine.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAction(ctx, s.db, a)
}

func appendAction(ctx context.Context, db dbtx, a engine.Action) error {
	query := `
		INSERT INTO actions
		(id, batch_id, alert_id, action_type, quantity_affected, performed_by,
		 performed_at, notes, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		a.ID, a.BatchID, nullString(string(a.AlertID)), a.ActionType,
		a.QuantityAffected, a.PerformedBy, a.PerformedAt.Format(time.RFC3339),
		a.Notes, nullString(a.IdempotencyKey), a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append action: %w", err)
	}
	return nil
}

func (s *Store) ListActions(ctx context.Context, filter engine.ActionFilter, page engine.Page) ([]engine.Action, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"1=1"}
	var args []any
	if filter.BatchID != nil {
		where = append(where, "batch_id = ?")
		args = append(args, *filter.BatchID)
	}
	if filter.ActionType != nil {
		where = append(where, "action_type = ?")
		args = append(args, *filter.ActionType)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM actions WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count actions: %w", err)
	}

	query := `
		SELECT id, batch_id, alert_id, action_type, quantity_affected, performed_by,
		       performed_at, notes, idempotency_key, created_at
		FROM actions WHERE ` + cond + ` ORDER BY performed_at DESC, id ASC`
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit, page.Offset())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []engine.Action
	for rows.Next() {
		var (
			a                        engine.Action
			alertID, notes, idemKey  sql.NullString
			performedAt, createdAt   string
		)
		if err := rows.Scan(
			&a.ID, &a.BatchID, &alertID, &a.ActionType, &a.QuantityAffected,
			&a.PerformedBy, &performedAt, &notes, &idemKey, &createdAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan action: %w", err)
		}
		a.AlertID = engine.AlertID(alertID.String)
		a.Notes = notes.String
		a.IdempotencyKey = idemKey.String
		a.PerformedAt, _ = time.Parse(time.RFC3339, performedAt)
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		actions = append(actions, a)
	}
	return actions, total, rows.Err()
}

func (s *Store) ActionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM actions WHERE idempotency_key = ?", idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// RULE STORE
// =============================================================================

func (s *Store) SaveRule(ctx context.Context, r engine.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO alert_rules (id, rule_name, days_before_expiry, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule_name = excluded.rule_name,
			days_before_expiry = excluded.days_before_expiry,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.RuleName, r.DaysBeforeExpiry, boolInt(r.Active),
		r.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id engine.RuleID) (*engine.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r         engine.AlertRule
		active    int
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, rule_name, days_before_expiry, active, created_at FROM alert_rules WHERE id = ?", id,
	).Scan(&r.ID, &r.RuleName, &r.DaysBeforeExpiry, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, engine.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	r.Active = active == 1
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &r, nil
}

func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]engine.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRules(ctx, s.db, activeOnly)
}

func listRules(ctx context.Context, db dbtx, activeOnly bool) ([]engine.AlertRule, error) {
	query := "SELECT id, rule_name, days_before_expiry, active, created_at FROM alert_rules"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY days_before_expiry ASC"

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []engine.AlertRule
	for rows.Next() {
		var (
			r         engine.AlertRule
			active    int
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.RuleName, &r.DaysBeforeExpiry, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Active = active == 1
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) DeleteRule(ctx context.Context, id engine.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrRuleNotFound
	}
	return nil
}

// =============================================================================
// PRODUCT STORE
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p engine.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (id, name, price, unit, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			unit = excluded.unit,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Price.String(), p.Unit, boolInt(p.Active),
		p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id engine.ProductID) (*engine.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p         engine.Product
		price     string
		active    int
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, price, unit, active, created_at FROM products WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &price, &p.Unit, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, engine.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p.Price, _ = decimal.NewFromString(price)
	p.Active = active == 1
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]engine.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, name, price, unit, active, created_at FROM products"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []engine.Product
	for rows.Next() {
		var (
			p         engine.Product
			price     string
			active    int
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.Unit, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.Price, _ = decimal.NewFromString(price)
		p.Active = active == 1
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		products = append(products, p)
	}
	return products, rows.Err()
}

// =============================================================================
// RUN STORE
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, run engine.EvaluationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO evaluation_runs
		(id, started_at, completed_at, status, batches_checked, alerts_created,
		 alerts_closed, status_changes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			status = excluded.status,
			batches_checked = excluded.batches_checked,
			alerts_created = excluded.alerts_created,
			alerts_closed = excluded.alerts_closed,
			status_changes = excluded.status_changes,
			error = excluded.error
	`
	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.StartedAt.Format(time.RFC3339), completedAt, run.Status,
		run.BatchesChecked, run.AlertsCreated, run.AlertsClosed, run.StatusChanges,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save evaluation run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]engine.EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, started_at, completed_at, status, batches_checked, alerts_created,
		       alerts_closed, status_changes, error
		FROM evaluation_runs ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation runs: %w", err)
	}
	defer rows.Close()

	var runs []engine.EvaluationRun
	for rows.Next() {
		var (
			run                    engine.EvaluationRun
			startedAt              string
			completedAt, runErr    sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &startedAt, &completedAt, &run.Status, &run.BatchesChecked,
			&run.AlertsCreated, &run.AlertsClosed, &run.StatusChanges, &runErr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation run: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			run.CompletedAt = &t
		}
		run.Error = runErr.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Reset wipes all data. Development and demo use only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"actions", "alerts", "batches", "alert_rules", "products", "evaluation_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. The txStore handed
// to fn routes writes through the transaction; the whole unit commits
// or rolls back together.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes operations through an open *sql.Tx. It must not touch
// the parent mutex (held by WithTx for the whole transaction).
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateBatch(ctx context.Context, b engine.Batch) error {
	return createBatch(ctx, ts.tx, b)
}

func (ts *txStore) GetBatch(ctx context.Context, id engine.BatchID) (*engine.Batch, error) {
	return getBatch(ctx, ts.tx, id)
}

func (ts *txStore) UpdateBatchGuarded(ctx context.Context, b engine.Batch, expectedVersion int) error {
	return updateBatchGuarded(ctx, ts.tx, b, expectedVersion)
}

func (ts *txStore) CreateAlert(ctx context.Context, a engine.Alert) error {
	return createAlert(ctx, ts.tx, a)
}

func (ts *txStore) GetAlert(ctx context.Context, id engine.AlertID) (*engine.Alert, error) {
	return getAlert(ctx, ts.tx, id)
}

func (ts *txStore) CloseAlert(ctx context.Context, id engine.AlertID, resolution engine.Resolution) error {
	return closeAlert(ctx, ts.tx, id, resolution)
}

func (ts *txStore) AppendAction(ctx context.Context, a engine.Action) error {
	return appendAction(ctx, ts.tx, a)
}

func (ts *txStore) ListRules(ctx context.Context, activeOnly bool) ([]engine.AlertRule, error) {
	return listRules(ctx, ts.tx, activeOnly)
}

// Remaining reads are not needed inside action transactions; they run
// against the transaction connection for consistency anyway.

func (ts *txStore) ListBatches(ctx context.Context, filter engine.BatchFilter, page engine.Page) ([]engine.Batch, int, error) {
	return nil, 0, fmt.Errorf("ListBatches: not supported inside a transaction")
}

func (ts *txStore) ListAlerts(ctx context.Context, filter engine.AlertFilter, page engine.Page) ([]engine.Alert, int, error) {
	return nil, 0, fmt.Errorf("ListAlerts: not supported inside a transaction")
}

func (ts *txStore) AcknowledgeAlert(ctx context.Context, id engine.AlertID, by string, at time.Time) (*engine.Alert, error) {
	return nil, fmt.Errorf("AcknowledgeAlert: not supported inside a transaction")
}

func (ts *txStore) ListActions(ctx context.Context, filter engine.ActionFilter, page engine.Page) ([]engine.Action, int, error) {
	return nil, 0, fmt.Errorf("ListActions: not supported inside a transaction")
}

func (ts *txStore) ActionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM actions WHERE idempotency_key = ?", idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (ts *txStore) SaveRule(ctx context.Context, r engine.AlertRule) error {
	return fmt.Errorf("SaveRule: not supported inside a transaction")
}

func (ts *txStore) GetRule(ctx context.Context, id engine.RuleID) (*engine.AlertRule, error) {
	return nil, fmt.Errorf("GetRule: not supported inside a transaction")
}

func (ts *txStore) DeleteRule(ctx context.Context, id engine.RuleID) error {
	return fmt.Errorf("DeleteRule: not supported inside a transaction")
}

func (ts *txStore) SaveProduct(ctx context.Context, p engine.Product) error {
	return fmt.Errorf("SaveProduct: not supported inside a transaction")
}

func (ts *txStore) GetProduct(ctx context.Context, id engine.ProductID) (*engine.Product, error) {
	return nil, fmt.Errorf("GetProduct: not supported inside a transaction")
}

func (ts *txStore) ListProducts(ctx context.Context, activeOnly bool) ([]engine.Product, error) {
	return nil, fmt.Errorf("ListProducts: not supported inside a transaction")
}

func (ts *txStore) SaveRun(ctx context.Context, run engine.EvaluationRun) error {
	return fmt.Errorf("SaveRun: not supported inside a transaction")
}

func (ts *txStore) ListRuns(ctx context.Context, limit int) ([]engine.EvaluationRun, error) {
	return nil, fmt.Errorf("ListRuns: not supported inside a transaction")
}

func (ts *txStore) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	// Already in a transaction; run against it.
	return fn(ts)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
