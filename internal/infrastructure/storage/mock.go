package storage

import (
	"sync"

	"github.com/clearledger/reconcile/internal/domain/ledger"
)

// MockRepository is an in-memory Repository for tests.
type MockRepository struct {
	mu sync.Mutex

	externals map[ledger.Scope][]ledger.ExternalEntry
	internals map[int64][]ledger.InternalEntry
	pairs     map[ledger.Scope][]ledger.MatchedPair
	summaries map[ledger.Scope][]ledger.Summary
	working   map[ledger.Scope][]ledger.WorkingRow
	nextID    int64

	// FailSave forces SaveStageResult to error, for rollback tests.
	FailSave error
}

var _ Repository = (*MockRepository)(nil)

// NewMockRepository creates an empty in-memory repository.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		externals: make(map[ledger.Scope][]ledger.ExternalEntry),
		internals: make(map[int64][]ledger.InternalEntry),
		pairs:     make(map[ledger.Scope][]ledger.MatchedPair),
		summaries: make(map[ledger.Scope][]ledger.Summary),
		working:   make(map[ledger.Scope][]ledger.WorkingRow),
		nextID:    1,
	}
}

func (m *MockRepository) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *MockRepository) SaveExternalEntries(scope ledger.Scope, entries []ledger.ExternalEntry) ([]ledger.ExternalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.ExternalEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID == 0 {
			e.ID = m.id()
		}
		m.externals[scope] = append(m.externals[scope], e)
		out = append(out, e)
	}
	return out, nil
}

func (m *MockRepository) LoadExternalEntries(scope ledger.Scope) ([]ledger.ExternalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.ExternalEntry(nil), m.externals[scope]...), nil
}

func (m *MockRepository) SaveInternalEntries(jobID int64, entries []ledger.InternalEntry) ([]ledger.InternalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.InternalEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID == 0 {
			e.ID = m.id()
		}
		m.internals[jobID] = append(m.internals[jobID], e)
		out = append(out, e)
	}
	return out, nil
}

func (m *MockRepository) LoadInternalEntries(jobID int64) ([]ledger.InternalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.InternalEntry(nil), m.internals[jobID]...), nil
}

func (m *MockRepository) LoadPairs(scope ledger.Scope) ([]ledger.MatchedPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.MatchedPair(nil), m.pairs[scope]...), nil
}

func (m *MockRepository) LoadPairsByStage(scope ledger.Scope, stage int) ([]ledger.MatchedPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.MatchedPair
	for _, p := range m.pairs[scope] {
		if p.Stage == stage {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockRepository) SaveStageResult(pairs []ledger.MatchedPair, summary ledger.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	for _, p := range pairs {
		p.ID = m.id()
		m.pairs[p.Scope] = append(m.pairs[p.Scope], p)
	}
	summary.ID = m.id()
	m.summaries[summary.Scope] = append(m.summaries[summary.Scope], summary)
	return nil
}

func (m *MockRepository) GetSummary(scope ledger.Scope, stage int) (*ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.summaries[scope] {
		if s.Stage == stage {
			copied := s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) DeleteFromStage(scope ledger.Scope, minStage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keptPairs []ledger.MatchedPair
	for _, p := range m.pairs[scope] {
		if p.Stage < minStage {
			keptPairs = append(keptPairs, p)
		}
	}
	m.pairs[scope] = keptPairs

	var keptSums []ledger.Summary
	for _, s := range m.summaries[scope] {
		if s.Stage < minStage {
			keptSums = append(keptSums, s)
		}
	}
	m.summaries[scope] = keptSums
	delete(m.working, scope)
	return nil
}

func (m *MockRepository) SaveWorkingRows(rows []ledger.WorkingRow) ([]ledger.WorkingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.WorkingRow, 0, len(rows))
	for _, r := range rows {
		if r.ID == 0 {
			r.ID = m.id()
		}
		m.working[r.Scope] = append(m.working[r.Scope], r)
		out = append(out, r)
	}
	return out, nil
}

func (m *MockRepository) LoadWorkingRows(scope ledger.Scope) ([]ledger.WorkingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.WorkingRow(nil), m.working[scope]...), nil
}

func (m *MockRepository) ApplyAllocation(scope ledger.Scope, updated, installments []ledger.WorkingRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[int64]ledger.WorkingRow, len(updated))
	for _, r := range updated {
		byID[r.ID] = r
	}
	rows := m.working[scope]
	for i, r := range rows {
		if u, ok := byID[r.ID]; ok {
			rows[i].Amount = u.Amount
		}
	}
	for _, r := range installments {
		r.ID = m.id()
		rows = append(rows, r)
	}
	m.working[scope] = rows
	return nil
}

func (m *MockRepository) HasInstallments(scope ledger.Scope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.working[scope] {
		if r.Kind == ledger.RowKindInstallment {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) RestoreWorkingRows(scope ledger.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []ledger.WorkingRow
	for _, r := range m.working[scope] {
		if r.Kind == ledger.RowKindInstallment {
			continue
		}
		r.Amount = r.OriginalAmount
		kept = append(kept, r)
	}
	m.working[scope] = kept
	return nil
}

func (m *MockRepository) DeleteWorkingRows(scope ledger.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.working, scope)
	return nil
}

func (m *MockRepository) Close() error { return nil }
