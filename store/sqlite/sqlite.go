/*
Package sqlite provides a SQLite-backed implementation of generic.Gateway.

PURPOSE:
  Persists the derived records of the payroll and KPI engines: payslip
  line sets, KPI records and adjustment records. Every table is
  reproducible from configuration plus inputs, so writes are upserts by
  natural key and recomputation never appends duplicates.

KEY TABLES:
  payslip_lines:      One row per line, replaced wholesale per payslip
  kpi_records:        One row per (employee, period, group)
  adjustment_records: Manual rows are plain inserts; automatic rows are
                      unique per (employee, period, rule, payslip)

INDEXES:
  - kpi_records UNIQUE(employee_id, period_id, group_code): upsert target
  - idx_adjustments_automatic_key: partial unique index on automatic rows,
    upsert target for SyncAutomatic. An unlinked record stores payslip_id
    as '' so it is a key of its own.
  - idx_adjustments_payslip: final score lookups

ATOMIC REPLACEMENT:
  ReplaceLines deletes and inserts inside one SQL transaction. Readers see
  the old set or the new one, never a mix.

CONCURRENCY:
  Writes are serialised with a sync.RWMutex, as SQLite allows a single
  writer. An in-memory database is pinned to one connection since every
  connection to ":memory:" would open a separate database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block
  the writer.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Store implements generic.Gateway using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.Gateway = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
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
	-- Payslip lines (replaced as a set)
	CREATE TABLE IF NOT EXISTS payslip_lines (
		payslip_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		rule_id INTEGER NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		quantity TEXT NOT NULL,
		total TEXT NOT NULL,
		PRIMARY KEY (payslip_id, position)
	);

	-- KPI records (one per employee, period and group)
	CREATE TABLE IF NOT EXISTS kpi_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		group_code TEXT NOT NULL,
		score TEXT NOT NULL,
		details_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (employee_id, period_id, group_code)
	);

	-- Adjustment records
	CREATE TABLE IF NOT EXISTS adjustment_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		payslip_id TEXT NOT NULL DEFAULT '',
		rule_code TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		occurrences INTEGER NOT NULL,
		points TEXT NOT NULL,
		total TEXT NOT NULL,
		note TEXT,
		updated_at TEXT NOT NULL
	);

	-- Automatic records are unique per natural key; manual ones are not
	CREATE UNIQUE INDEX IF NOT EXISTS idx_adjustments_automatic_key
		ON adjustment_records(employee_id, period_id, rule_code, payslip_id)
		WHERE source = 'automatic';

	CREATE INDEX IF NOT EXISTS idx_adjustments_payslip
		ON adjustment_records(payslip_id);

	CREATE INDEX IF NOT EXISTS idx_adjustments_employee_period
		ON adjustment_records(employee_id, period_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LINES
// =============================================================================

// ReplaceLines atomically swaps the line set of a payslip.
func (s *Store) ReplaceLines(ctx context.Context, payslipID generic.PayslipID, lines []generic.PayslipLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := replaceLines(ctx, sqlTx, payslipID, lines); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func replaceLines(ctx context.Context, q querier, payslipID generic.PayslipID, lines []generic.PayslipLine) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM payslip_lines WHERE payslip_id = ?`, payslipID); err != nil {
		return fmt.Errorf("failed to delete lines of %s: %w", payslipID, err)
	}
	for i, l := range lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO payslip_lines
			(payslip_id, position, rule_id, code, name, sequence, category, amount, quantity, total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			payslipID, i, l.RuleID, l.Code, l.Name, l.Sequence, l.Category,
			l.Amount.String(), l.Quantity.String(), l.Total.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert line %s: %w", l.Code, err)
		}
	}
	return nil
}

// Lines returns a payslip's lines in sequence order.
func (s *Store) Lines(ctx context.Context, payslipID generic.PayslipID) ([]generic.PayslipLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryLines(ctx, s.db, payslipID)
}

func queryLines(ctx context.Context, q querier, payslipID generic.PayslipID) ([]generic.PayslipLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT payslip_id, rule_id, code, name, sequence, category, amount, quantity, total
		FROM payslip_lines WHERE payslip_id = ?
		ORDER BY sequence, position`, payslipID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var lines []generic.PayslipLine
	for rows.Next() {
		var (
			l                       generic.PayslipLine
			amount, quantity, total string
		)
		if err := rows.Scan(&l.PayslipID, &l.RuleID, &l.Code, &l.Name, &l.Sequence, &l.Category, &amount, &quantity, &total); err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		l.Amount = parseDecimal(amount)
		l.Quantity = parseDecimal(quantity)
		l.Total = parseDecimal(total)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// KPI RECORDS
// =============================================================================

// UpsertKpiRecord inserts or overwrites the record keyed by
// (employee, period, group). The stored ID survives overwrites.
func (s *Store) UpsertKpiRecord(ctx context.Context, rec generic.KpiRecord) (generic.KpiRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertKpi(ctx, s.db, rec)
}

func upsertKpi(ctx context.Context, q querier, rec generic.KpiRecord) (generic.KpiRecord, error) {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return rec, fmt.Errorf("failed to encode kpi details: %w", err)
	}
	if rec.ID == "" {
		rec.ID = generic.RecordID(uuid.NewString())
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO kpi_records (id, employee_id, period_id, group_code, score, details_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (employee_id, period_id, group_code) DO UPDATE SET
			score = excluded.score,
			details_json = excluded.details_json,
			updated_at = excluded.updated_at`,
		rec.ID, rec.EmployeeID, rec.PeriodID, rec.GroupCode,
		rec.Score.String(), string(details), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return rec, fmt.Errorf("failed to upsert kpi record: %w", err)
	}

	if err := q.QueryRowContext(ctx, `
		SELECT id FROM kpi_records WHERE employee_id = ? AND period_id = ? AND group_code = ?`,
		rec.EmployeeID, rec.PeriodID, rec.GroupCode,
	).Scan(&rec.ID); err != nil {
		return rec, fmt.Errorf("failed to read kpi record id: %w", err)
	}
	return rec, nil
}

// KpiRecords returns an employee's records for a period ordered by group code.
func (s *Store) KpiRecords(ctx context.Context, employeeID generic.EmployeeID, periodID generic.PeriodID) ([]generic.KpiRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryKpi(ctx, s.db, employeeID, periodID)
}

func queryKpi(ctx context.Context, q querier, employeeID generic.EmployeeID, periodID generic.PeriodID) ([]generic.KpiRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, employee_id, period_id, group_code, score, details_json, updated_at
		FROM kpi_records WHERE employee_id = ? AND period_id = ?
		ORDER BY group_code`, employeeID, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query kpi records: %w", err)
	}
	defer rows.Close()

	var records []generic.KpiRecord
	for rows.Next() {
		var (
			r                         generic.KpiRecord
			score, details, updatedAt string
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.PeriodID, &r.GroupCode, &score, &details, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan kpi record: %w", err)
		}
		r.Score = parseDecimal(score)
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, fmt.Errorf("failed to decode kpi details of %s: %w", r.ID, err)
		}
		r.UpdatedAt = parseTime(updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteKpiRecord removes one record. Missing keys are not an error.
func (s *Store) DeleteKpiRecord(ctx context.Context, key generic.KpiRecordKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteKpi(ctx, s.db, key)
}

func deleteKpi(ctx context.Context, q querier, key generic.KpiRecordKey) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM kpi_records WHERE employee_id = ? AND period_id = ? AND group_code = ?`,
		key.EmployeeID, key.PeriodID, key.GroupCode)
	if err != nil {
		return fmt.Errorf("failed to delete kpi record: %w", err)
	}
	return nil
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// UpsertAdjustment writes an automatic record keyed by rec.Key().
func (s *Store) UpsertAdjustment(ctx context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertAdjustment(ctx, s.db, rec)
}

func upsertAdjustment(ctx context.Context, q querier, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	rec.Source = generic.SourceAutomatic
	if rec.ID == "" {
		rec.ID = generic.RecordID(uuid.NewString())
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err := q.ExecContext(ctx, `
		INSERT INTO adjustment_records
		(id, employee_id, period_id, payslip_id, rule_code, kind, source, occurrences, points, total, note, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (employee_id, period_id, rule_code, payslip_id) WHERE source = 'automatic' DO UPDATE SET
			kind = excluded.kind,
			occurrences = excluded.occurrences,
			points = excluded.points,
			total = excluded.total,
			note = excluded.note,
			updated_at = excluded.updated_at`,
		adjustmentArgs(rec)...,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to upsert adjustment: %w", err)
	}

	if err := q.QueryRowContext(ctx, `
		SELECT id FROM adjustment_records
		WHERE employee_id = ? AND period_id = ? AND rule_code = ? AND payslip_id = ? AND source = 'automatic'`,
		rec.EmployeeID, rec.PeriodID, rec.RuleCode, rec.PayslipID,
	).Scan(&rec.ID); err != nil {
		return rec, fmt.Errorf("failed to read adjustment id: %w", err)
	}
	return rec, nil
}

// CreateAdjustment always inserts a new record.
func (s *Store) CreateAdjustment(ctx context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAdjustment(ctx, s.db, rec)
}

func createAdjustment(ctx context.Context, q querier, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	if rec.ID == "" {
		rec.ID = generic.RecordID(uuid.NewString())
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err := q.ExecContext(ctx, `
		INSERT INTO adjustment_records
		(id, employee_id, period_id, payslip_id, rule_code, kind, source, occurrences, points, total, note, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adjustmentArgs(rec)...,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return rec, generic.NewConfigurationError("adjustment "+rec.RuleCode, "an automatic record already exists for this key")
		}
		return rec, fmt.Errorf("failed to insert adjustment: %w", err)
	}
	return rec, nil
}

func adjustmentArgs(rec generic.AdjustmentRecord) []any {
	return []any{
		rec.ID, rec.EmployeeID, rec.PeriodID, rec.PayslipID, rec.RuleCode,
		rec.Kind, rec.Source, rec.Occurrences,
		rec.PointsPerOccurrence.String(), rec.Total.String(),
		nullString(rec.Note), formatTime(rec.UpdatedAt),
	}
}

// Adjustments lists records matching the filter in insertion order.
func (s *Store) Adjustments(ctx context.Context, filter generic.AdjustmentFilter) ([]generic.AdjustmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAdjustments(ctx, s.db, filter)
}

func queryAdjustments(ctx context.Context, q querier, filter generic.AdjustmentFilter) ([]generic.AdjustmentRecord, error) {
	query := `
		SELECT id, employee_id, period_id, payslip_id, rule_code, kind, source,
		       occurrences, points, total, note, updated_at
		FROM adjustment_records`
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where, args = append(where, "employee_id = ?"), append(args, filter.EmployeeID)
	}
	if filter.PeriodID != "" {
		where, args = append(where, "period_id = ?"), append(args, filter.PeriodID)
	}
	if filter.PayslipID != "" {
		where, args = append(where, "payslip_id = ?"), append(args, filter.PayslipID)
	}
	if filter.Source != "" {
		where, args = append(where, "source = ?"), append(args, filter.Source)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var records []generic.AdjustmentRecord
	for rows.Next() {
		var (
			r                        generic.AdjustmentRecord
			points, total, updatedAt string
			note                     sql.NullString
		)
		err := rows.Scan(&r.ID, &r.EmployeeID, &r.PeriodID, &r.PayslipID, &r.RuleCode, &r.Kind, &r.Source,
			&r.Occurrences, &points, &total, &note, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		r.PointsPerOccurrence = parseDecimal(points)
		r.Total = parseDecimal(total)
		r.Note = note.String
		r.UpdatedAt = parseTime(updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteAdjustment removes a record by ID.
func (s *Store) DeleteAdjustment(ctx context.Context, id generic.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAdjustment(ctx, s.db, id)
}

func deleteAdjustment(ctx context.Context, q querier, id generic.RecordID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM adjustment_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete adjustment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("adjustment %s: %w", id, generic.ErrNotFound)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. If fn returns an
// error every write made through the passed Gateway is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Gateway) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) ReplaceLines(ctx context.Context, payslipID generic.PayslipID, lines []generic.PayslipLine) error {
	return replaceLines(ctx, ts.tx, payslipID, lines)
}

func (ts *txStore) Lines(ctx context.Context, payslipID generic.PayslipID) ([]generic.PayslipLine, error) {
	return queryLines(ctx, ts.tx, payslipID)
}

func (ts *txStore) UpsertKpiRecord(ctx context.Context, rec generic.KpiRecord) (generic.KpiRecord, error) {
	return upsertKpi(ctx, ts.tx, rec)
}

func (ts *txStore) KpiRecords(ctx context.Context, employeeID generic.EmployeeID, periodID generic.PeriodID) ([]generic.KpiRecord, error) {
	return queryKpi(ctx, ts.tx, employeeID, periodID)
}

func (ts *txStore) DeleteKpiRecord(ctx context.Context, key generic.KpiRecordKey) error {
	return deleteKpi(ctx, ts.tx, key)
}

func (ts *txStore) UpsertAdjustment(ctx context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	return upsertAdjustment(ctx, ts.tx, rec)
}

func (ts *txStore) CreateAdjustment(ctx context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	return createAdjustment(ctx, ts.tx, rec)
}

func (ts *txStore) Adjustments(ctx context.Context, filter generic.AdjustmentFilter) ([]generic.AdjustmentRecord, error) {
	return queryAdjustments(ctx, ts.tx, filter)
}

func (ts *txStore) DeleteAdjustment(ctx context.Context, id generic.RecordID) error {
	return deleteAdjustment(ctx, ts.tx, id)
}

// WithTx nests into the open transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(generic.Gateway) error) error {
	return fn(ts)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset deletes every derived record.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{"payslip_lines", "kpi_records", "adjustment_records"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
