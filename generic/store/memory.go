// Package store provides Gateway implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// MEMORY GATEWAY - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st state
}

type state struct {
	lines       map[generic.PayslipID][]generic.PayslipLine
	kpi         map[generic.KpiRecordKey]generic.KpiRecord
	adjustments map[generic.RecordID]generic.AdjustmentRecord
	order       []generic.RecordID
}

func NewMemory() *Memory {
	return &Memory{st: state{
		lines:       make(map[generic.PayslipID][]generic.PayslipLine),
		kpi:         make(map[generic.KpiRecordKey]generic.KpiRecord),
		adjustments: make(map[generic.RecordID]generic.AdjustmentRecord),
	}}
}

func (m *Memory) ReplaceLines(_ context.Context, payslipID generic.PayslipID, lines []generic.PayslipLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.replaceLines(payslipID, lines)
	return nil
}

func (m *Memory) Lines(_ context.Context, payslipID generic.PayslipID) ([]generic.PayslipLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.linesOf(payslipID), nil
}

func (m *Memory) UpsertKpiRecord(_ context.Context, rec generic.KpiRecord) (generic.KpiRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.upsertKpi(rec), nil
}

func (m *Memory) KpiRecords(_ context.Context, employeeID generic.EmployeeID, periodID generic.PeriodID) ([]generic.KpiRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.kpiRecords(employeeID, periodID), nil
}

func (m *Memory) DeleteKpiRecord(_ context.Context, key generic.KpiRecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.kpi, key)
	return nil
}

func (m *Memory) UpsertAdjustment(_ context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.upsertAdjustment(rec), nil
}

func (m *Memory) CreateAdjustment(_ context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertAdjustment(rec), nil
}

func (m *Memory) Adjustments(_ context.Context, filter generic.AdjustmentFilter) ([]generic.AdjustmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.adjustmentsMatching(filter), nil
}

func (m *Memory) DeleteAdjustment(_ context.Context, id generic.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteAdjustment(id)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Gateway) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// STATE - Lock-free operations shared by Memory and txView
// =============================================================================

func (s *state) replaceLines(payslipID generic.PayslipID, lines []generic.PayslipLine) {
	out := make([]generic.PayslipLine, len(lines))
	for i, l := range lines {
		l.PayslipID = payslipID
		out[i] = l
	}
	s.lines[payslipID] = out
}

func (s *state) linesOf(payslipID generic.PayslipID) []generic.PayslipLine {
	src := s.lines[payslipID]
	out := make([]generic.PayslipLine, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (s *state) upsertKpi(rec generic.KpiRecord) generic.KpiRecord {
	if existing, ok := s.kpi[rec.Key()]; ok {
		rec.ID = existing.ID
	} else if rec.ID == "" {
		rec.ID = generic.RecordID(uuid.NewString())
	}
	rec.UpdatedAt = time.Now().UTC()
	s.kpi[rec.Key()] = rec
	return rec
}

func (s *state) kpiRecords(employeeID generic.EmployeeID, periodID generic.PeriodID) []generic.KpiRecord {
	var out []generic.KpiRecord
	for k, r := range s.kpi {
		if k.EmployeeID == employeeID && k.PeriodID == periodID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupCode < out[j].GroupCode })
	return out
}

func (s *state) upsertAdjustment(rec generic.AdjustmentRecord) generic.AdjustmentRecord {
	rec.Source = generic.SourceAutomatic
	key := rec.Key()
	for _, id := range s.order {
		existing := s.adjustments[id]
		if existing.Source == generic.SourceAutomatic && existing.Key() == key {
			rec.ID = existing.ID
			rec.UpdatedAt = time.Now().UTC()
			s.adjustments[id] = rec
			return rec
		}
	}
	return s.insertAdjustment(rec)
}

func (s *state) insertAdjustment(rec generic.AdjustmentRecord) generic.AdjustmentRecord {
	if rec.ID == "" {
		rec.ID = generic.RecordID(uuid.NewString())
	}
	rec.UpdatedAt = time.Now().UTC()
	s.adjustments[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec
}

func (s *state) adjustmentsMatching(filter generic.AdjustmentFilter) []generic.AdjustmentRecord {
	var out []generic.AdjustmentRecord
	for _, id := range s.order {
		if r := s.adjustments[id]; filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *state) deleteAdjustment(id generic.RecordID) error {
	if _, ok := s.adjustments[id]; !ok {
		return fmt.Errorf("adjustment %s: %w", id, generic.ErrNotFound)
	}
	delete(s.adjustments, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *state) clone() state {
	c := state{
		lines:       make(map[generic.PayslipID][]generic.PayslipLine, len(s.lines)),
		kpi:         make(map[generic.KpiRecordKey]generic.KpiRecord, len(s.kpi)),
		adjustments: make(map[generic.RecordID]generic.AdjustmentRecord, len(s.adjustments)),
		order:       append([]generic.RecordID(nil), s.order...),
	}
	for k, v := range s.lines {
		c.lines[k] = append([]generic.PayslipLine(nil), v...)
	}
	for k, v := range s.kpi {
		c.kpi[k] = v
	}
	for k, v := range s.adjustments {
		c.adjustments[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView operates on the parent's state while WithTx holds the lock.
type txView struct {
	st *state
}

func (tv *txView) ReplaceLines(_ context.Context, payslipID generic.PayslipID, lines []generic.PayslipLine) error {
	tv.st.replaceLines(payslipID, lines)
	return nil
}

func (tv *txView) Lines(_ context.Context, payslipID generic.PayslipID) ([]generic.PayslipLine, error) {
	return tv.st.linesOf(payslipID), nil
}

func (tv *txView) UpsertKpiRecord(_ context.Context, rec generic.KpiRecord) (generic.KpiRecord, error) {
	return tv.st.upsertKpi(rec), nil
}

func (tv *txView) KpiRecords(_ context.Context, employeeID generic.EmployeeID, periodID generic.PeriodID) ([]generic.KpiRecord, error) {
	return tv.st.kpiRecords(employeeID, periodID), nil
}

func (tv *txView) DeleteKpiRecord(_ context.Context, key generic.KpiRecordKey) error {
	delete(tv.st.kpi, key)
	return nil
}

func (tv *txView) UpsertAdjustment(_ context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	return tv.st.upsertAdjustment(rec), nil
}

func (tv *txView) CreateAdjustment(_ context.Context, rec generic.AdjustmentRecord) (generic.AdjustmentRecord, error) {
	return tv.st.insertAdjustment(rec), nil
}

func (tv *txView) Adjustments(_ context.Context, filter generic.AdjustmentFilter) ([]generic.AdjustmentRecord, error) {
	return tv.st.adjustmentsMatching(filter), nil
}

func (tv *txView) DeleteAdjustment(_ context.Context, id generic.RecordID) error {
	return tv.st.deleteAdjustment(id)
}

func (tv *txView) WithTx(_ context.Context, fn func(generic.Gateway) error) error {
	return fn(tv)
}
