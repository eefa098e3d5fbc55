// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	obligations   map[generic.ObligationID]generic.Obligation
	periodIndex   map[periodKey]generic.ObligationID
	contributions []generic.Contribution
	subjects      map[subjectKey]generic.Subject
	expenses      []generic.Expense
}

type periodKey struct {
	TenantID generic.TenantID
	Subject  generic.SubjectKey
	Period   generic.Period
}

type subjectKey struct {
	TenantID generic.TenantID
	Subject  generic.SubjectKey
}

func NewMemory() *Memory {
	return &Memory{
		obligations: make(map[generic.ObligationID]generic.Obligation),
		periodIndex: make(map[periodKey]generic.ObligationID),
		subjects:    make(map[subjectKey]generic.Subject),
	}
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obligations = make(map[generic.ObligationID]generic.Obligation)
	m.periodIndex = make(map[periodKey]generic.ObligationID)
	m.contributions = nil
	m.subjects = make(map[subjectKey]generic.Subject)
	m.expenses = nil
	return nil
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func (m *Memory) CreateObligation(_ context.Context, o generic.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createObligationLocked(o)
}

func (m *Memory) createObligationLocked(o generic.Obligation) error {
	if o.Period != nil {
		k := periodKey{TenantID: o.TenantID, Subject: o.Subject.Key(), Period: *o.Period}
		if _, taken := m.periodIndex[k]; taken {
			return &generic.DuplicatePeriodError{Subject: o.Subject, Period: *o.Period}
		}
		m.periodIndex[k] = o.ID
	}
	m.obligations[o.ID] = o
	return nil
}

func (m *Memory) GetObligation(_ context.Context, tenant generic.TenantID, id generic.ObligationID) (generic.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getObligationLocked(tenant, id)
}

func (m *Memory) getObligationLocked(tenant generic.TenantID, id generic.ObligationID) (generic.Obligation, error) {
	o, ok := m.obligations[id]
	if !ok || o.TenantID != tenant {
		return generic.Obligation{}, generic.ErrObligationNotFound
	}
	return o, nil
}

func (m *Memory) FindByPeriod(_ context.Context, tenant generic.TenantID, subject generic.SubjectRef, period generic.Period) (generic.Obligation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByPeriodLocked(tenant, subject, period)
}

func (m *Memory) findByPeriodLocked(tenant generic.TenantID, subject generic.SubjectRef, period generic.Period) (generic.Obligation, bool, error) {
	id, ok := m.periodIndex[periodKey{TenantID: tenant, Subject: subject.Key(), Period: period}]
	if !ok {
		return generic.Obligation{}, false, nil
	}
	return m.obligations[id], true, nil
}

func (m *Memory) ListObligations(_ context.Context, tenant generic.TenantID, filter generic.ObligationFilter) ([]generic.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listObligationsLocked(tenant, filter), nil
}

func (m *Memory) listObligationsLocked(tenant generic.TenantID, filter generic.ObligationFilter) []generic.Obligation {
	var result []generic.Obligation
	for _, o := range m.obligations {
		if o.TenantID == tenant && filter.Matches(o) {
			result = append(result, o)
		}
	}
	sortObligations(result)
	return result
}

// sortObligations orders by period (one-off obligations last), then creation.
func sortObligations(obs []generic.Obligation) {
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		switch {
		case a.Period != nil && b.Period == nil:
			return true
		case a.Period == nil && b.Period != nil:
			return false
		case a.Period != nil && *a.Period != *b.Period:
			return a.Period.Before(*b.Period)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (m *Memory) UpdateObligation(_ context.Context, o generic.Obligation, expectedVersion int64, c *generic.Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateObligationLocked(o, expectedVersion, c)
}

func (m *Memory) updateObligationLocked(o generic.Obligation, expectedVersion int64, c *generic.Contribution) error {
	current, err := m.getObligationLocked(o.TenantID, o.ID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	m.obligations[o.ID] = o
	if c != nil {
		m.contributions = append(m.contributions, *c)
	}
	return nil
}

func (m *Memory) DeleteObligation(_ context.Context, tenant generic.TenantID, id generic.ObligationID, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteObligationLocked(tenant, id, expectedVersion)
}

func (m *Memory) deleteObligationLocked(tenant generic.TenantID, id generic.ObligationID, expectedVersion int64) error {
	current, err := m.getObligationLocked(tenant, id)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	if current.Period != nil {
		delete(m.periodIndex, periodKey{TenantID: tenant, Subject: current.Subject.Key(), Period: *current.Period})
	}
	delete(m.obligations, id)
	return nil
}

func (m *Memory) ListContributions(_ context.Context, tenant generic.TenantID, id generic.ObligationID) ([]generic.Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listContributionsLocked(tenant, id), nil
}

func (m *Memory) listContributionsLocked(tenant generic.TenantID, id generic.ObligationID) []generic.Contribution {
	var result []generic.Contribution
	for _, c := range m.contributions {
		if c.TenantID == tenant && c.ObligationID == id {
			result = append(result, c)
		}
	}
	return result
}

func (m *Memory) ContributionsBetween(_ context.Context, tenant generic.TenantID, from, to time.Time) ([]generic.Contribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contributionsBetweenLocked(tenant, from, to), nil
}

func (m *Memory) contributionsBetweenLocked(tenant generic.TenantID, from, to time.Time) []generic.Contribution {
	var result []generic.Contribution
	for _, c := range m.contributions {
		if c.TenantID == tenant && !c.RecordedAt.Before(from) && c.RecordedAt.Before(to) {
			result = append(result, c)
		}
	}
	return result
}

// =============================================================================
// SUBJECTS
// =============================================================================

func (m *Memory) CreateSubject(_ context.Context, s generic.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSubjectLocked(s)
}

func (m *Memory) createSubjectLocked(s generic.Subject) error {
	k := subjectKey{TenantID: s.TenantID, Subject: s.Ref.Key()}
	if _, taken := m.subjects[k]; taken {
		return generic.ErrDuplicateSubject
	}
	s.Rates = append([]generic.RateChange(nil), s.Rates...)
	m.subjects[k] = s
	return nil
}

func (m *Memory) GetSubject(_ context.Context, tenant generic.TenantID, ref generic.SubjectRef) (generic.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSubjectLocked(tenant, ref)
}

func (m *Memory) getSubjectLocked(tenant generic.TenantID, ref generic.SubjectRef) (generic.Subject, error) {
	s, ok := m.subjects[subjectKey{TenantID: tenant, Subject: ref.Key()}]
	if !ok {
		return generic.Subject{}, generic.ErrSubjectNotFound
	}
	s.Rates = append([]generic.RateChange(nil), s.Rates...)
	return s, nil
}

func (m *Memory) ListSubjects(_ context.Context, tenant generic.TenantID, kind string) ([]generic.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSubjectsLocked(tenant, kind), nil
}

func (m *Memory) listSubjectsLocked(tenant generic.TenantID, kind string) []generic.Subject {
	var result []generic.Subject
	for k, s := range m.subjects {
		if k.TenantID != tenant || (kind != "" && k.Subject.Kind != kind) {
			continue
		}
		s.Rates = append([]generic.RateChange(nil), s.Rates...)
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Ref.Key(), result[j].Ref.Key()
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	return result
}

func (m *Memory) AppendRate(_ context.Context, tenant generic.TenantID, ref generic.SubjectRef, rc generic.RateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendRateLocked(tenant, ref, rc)
}

func (m *Memory) appendRateLocked(tenant generic.TenantID, ref generic.SubjectRef, rc generic.RateChange) error {
	k := subjectKey{TenantID: tenant, Subject: ref.Key()}
	s, ok := m.subjects[k]
	if !ok {
		return generic.ErrSubjectNotFound
	}
	s.Rates = append(append([]generic.RateChange(nil), s.Rates...), rc)
	m.subjects[k] = s
	return nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (m *Memory) CreateExpense(_ context.Context, e generic.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses = append(m.expenses, e)
	return nil
}

func (m *Memory) ExpensesBetween(_ context.Context, tenant generic.TenantID, from, to time.Time) ([]generic.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expensesBetweenLocked(tenant, from, to), nil
}

func (m *Memory) expensesBetweenLocked(tenant generic.TenantID, from, to time.Time) []generic.Expense {
	var result []generic.Expense
	for _, e := range m.expenses {
		if e.TenantID == tenant && !e.SpentAt.Before(from) && e.SpentAt.Before(to) {
			result = append(result, e)
		}
	}
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

var _ generic.TxStore = (*TxMemory)(nil)

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store lock is held for the whole of fn.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	obligations   map[generic.ObligationID]generic.Obligation
	periodIndex   map[periodKey]generic.ObligationID
	contributions []generic.Contribution
	subjects      map[subjectKey]generic.Subject
	expenses      []generic.Expense
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		obligations:   make(map[generic.ObligationID]generic.Obligation, len(tm.obligations)),
		periodIndex:   make(map[periodKey]generic.ObligationID, len(tm.periodIndex)),
		contributions: append([]generic.Contribution(nil), tm.contributions...),
		subjects:      make(map[subjectKey]generic.Subject, len(tm.subjects)),
		expenses:      append([]generic.Expense(nil), tm.expenses...),
	}
	for k, v := range tm.obligations {
		s.obligations[k] = v
	}
	for k, v := range tm.periodIndex {
		s.periodIndex[k] = v
	}
	for k, v := range tm.subjects {
		s.subjects[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.obligations = s.obligations
	tm.periodIndex = s.periodIndex
	tm.contributions = s.contributions
	tm.subjects = s.subjects
	tm.expenses = s.expenses
}

// txMemoryView runs against the parent without locking; WithTx holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateObligation(_ context.Context, o generic.Obligation) error {
	return tv.parent.createObligationLocked(o)
}

func (tv *txMemoryView) GetObligation(_ context.Context, tenant generic.TenantID, id generic.ObligationID) (generic.Obligation, error) {
	return tv.parent.getObligationLocked(tenant, id)
}

func (tv *txMemoryView) FindByPeriod(_ context.Context, tenant generic.TenantID, subject generic.SubjectRef, period generic.Period) (generic.Obligation, bool, error) {
	return tv.parent.findByPeriodLocked(tenant, subject, period)
}

func (tv *txMemoryView) ListObligations(_ context.Context, tenant generic.TenantID, filter generic.ObligationFilter) ([]generic.Obligation, error) {
	return tv.parent.listObligationsLocked(tenant, filter), nil
}

func (tv *txMemoryView) UpdateObligation(_ context.Context, o generic.Obligation, expectedVersion int64, c *generic.Contribution) error {
	return tv.parent.updateObligationLocked(o, expectedVersion, c)
}

func (tv *txMemoryView) DeleteObligation(_ context.Context, tenant generic.TenantID, id generic.ObligationID, expectedVersion int64) error {
	return tv.parent.deleteObligationLocked(tenant, id, expectedVersion)
}

func (tv *txMemoryView) ListContributions(_ context.Context, tenant generic.TenantID, id generic.ObligationID) ([]generic.Contribution, error) {
	return tv.parent.listContributionsLocked(tenant, id), nil
}

func (tv *txMemoryView) ContributionsBetween(_ context.Context, tenant generic.TenantID, from, to time.Time) ([]generic.Contribution, error) {
	return tv.parent.contributionsBetweenLocked(tenant, from, to), nil
}

func (tv *txMemoryView) CreateSubject(_ context.Context, s generic.Subject) error {
	return tv.parent.createSubjectLocked(s)
}

func (tv *txMemoryView) GetSubject(_ context.Context, tenant generic.TenantID, ref generic.SubjectRef) (generic.Subject, error) {
	return tv.parent.getSubjectLocked(tenant, ref)
}

func (tv *txMemoryView) ListSubjects(_ context.Context, tenant generic.TenantID, kind string) ([]generic.Subject, error) {
	return tv.parent.listSubjectsLocked(tenant, kind), nil
}

func (tv *txMemoryView) AppendRate(_ context.Context, tenant generic.TenantID, ref generic.SubjectRef, rc generic.RateChange) error {
	return tv.parent.appendRateLocked(tenant, ref, rc)
}

func (tv *txMemoryView) CreateExpense(_ context.Context, e generic.Expense) error {
	tv.parent.expenses = append(tv.parent.expenses, e)
	return nil
}

func (tv *txMemoryView) ExpensesBetween(_ context.Context, tenant generic.TenantID, from, to time.Time) ([]generic.Expense, error) {
	return tv.parent.expensesBetweenLocked(tenant, from, to), nil
}
