/*
store.go - Persistence gateway for derived payroll and KPI data

PURPOSE:
  Defines the interface between the engines and the database. The engines
  never talk SQL; they hand finished records to a Gateway. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  LineStore:       Payslip line sets, replaced wholesale
  KpiRecordStore:  KPI records keyed by (employee, period, group)
  AdjustmentStore: Adjustment records, automatic ones keyed by
                   (employee, period, rule, payslip)
  Gateway:         All of the above plus WithTx

IDEMPOTENT WRITES:
  Every derived record is reproducible, so writes are upserts by natural
  key. Running the same computation twice leaves exactly one record per
  key. The one exception is CreateAdjustment, which always inserts a
  manual record that sync never touches.

ATOMIC REPLACEMENT:
  ReplaceLines deletes and inserts a payslip's line set in one
  transaction. Readers never observe a half-written payslip.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

EXAMPLE:
  gw := store.NewMemory()
  rec, err := gw.UpsertKpiRecord(ctx, record)

SEE ALSO:
  - kpi/service.go: Writes KPI records
  - adjust/engine.go: Writes adjustment records
  - payroll/service.go: Replaces payslip lines
*/
package generic

import "context"

// =============================================================================
// LINES - Payslip line sets
// =============================================================================

type LineStore interface {
	// ReplaceLines atomically swaps the full line set of a payslip.
	ReplaceLines(ctx context.Context, payslipID PayslipID, lines []PayslipLine) error

	// Lines returns a payslip's lines ordered by sequence.
	Lines(ctx context.Context, payslipID PayslipID) ([]PayslipLine, error)
}

// =============================================================================
// KPI RECORDS
// =============================================================================

type KpiRecordStore interface {
	// UpsertKpiRecord inserts or overwrites the record with the same key.
	// The stored record (with its ID) is returned.
	UpsertKpiRecord(ctx context.Context, rec KpiRecord) (KpiRecord, error)

	// KpiRecords returns an employee's records for a period ordered by group code.
	KpiRecords(ctx context.Context, employeeID EmployeeID, periodID PeriodID) ([]KpiRecord, error)

	// DeleteKpiRecord removes one record. Missing keys are not an error.
	DeleteKpiRecord(ctx context.Context, key KpiRecordKey) error
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentStore interface {
	// UpsertAdjustment writes an automatic record keyed by rec.Key().
	UpsertAdjustment(ctx context.Context, rec AdjustmentRecord) (AdjustmentRecord, error)

	// CreateAdjustment always inserts a new record.
	CreateAdjustment(ctx context.Context, rec AdjustmentRecord) (AdjustmentRecord, error)

	// Adjustments lists records matching the filter.
	Adjustments(ctx context.Context, filter AdjustmentFilter) ([]AdjustmentRecord, error)

	// DeleteAdjustment removes a record by ID. Returns ErrNotFound if absent.
	DeleteAdjustment(ctx context.Context, id RecordID) error
}

// =============================================================================
// GATEWAY - Everything the engines persist
// =============================================================================

type Gateway interface {
	LineStore
	KpiRecordStore
	AdjustmentStore

	// WithTx executes fn within a transaction.
	// If fn returns error, all writes made through the passed Gateway are rolled back.
	WithTx(ctx context.Context, fn func(Gateway) error) error
}
