// Package store provides finance.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridian/program-engine/finance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements finance.Store but NOT finance.AtomicStore, so an engine
// backed by it exercises the non-atomic fallback commit path. That makes it
// the fixture of choice for fallback-semantics tests.
type Memory struct {
	mu        sync.RWMutex
	programs  map[int64]finance.Program
	snapshots map[int64]finance.FinancialSnapshot
	items     map[int64]finance.LineItem
	therapies map[int64]finance.Therapy
	nextItem  int64
}

func NewMemory() *Memory {
	return &Memory{
		programs:  make(map[int64]finance.Program),
		snapshots: make(map[int64]finance.FinancialSnapshot),
		items:     make(map[int64]finance.LineItem),
		therapies: make(map[int64]finance.Therapy),
		nextItem:  1,
	}
}

// =============================================================================
// SEEDING - Test fixtures write directly
// =============================================================================

func (m *Memory) PutProgram(p finance.Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[p.ID] = p
}

func (m *Memory) PutSnapshot(s finance.FinancialSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.ProgramID] = s
}

func (m *Memory) PutTherapy(t finance.Therapy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.therapies[t.ID] = t
}

func (m *Memory) PutItem(it finance.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	if it.ID >= m.nextItem {
		m.nextItem = it.ID + 1
	}
}

// =============================================================================
// finance.Store
// =============================================================================

func (m *Memory) GetProgram(_ context.Context, id int64) (*finance.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.programs[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) GetSnapshot(_ context.Context, programID int64) (*finance.FinancialSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.snapshots[programID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) Therapy(_ context.Context, id int64) (*finance.Therapy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.therapies[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *Memory) ActiveItems(_ context.Context, programID int64) ([]finance.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []finance.LineItem
	for _, it := range m.items {
		if it.ProgramID == programID && it.Active {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) GetItem(_ context.Context, programID, itemID int64) (*finance.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if it, ok := m.items[itemID]; ok && it.ProgramID == programID {
		return &it, nil
	}
	return nil, nil
}

func (m *Memory) InsertItem(_ context.Context, item finance.LineItem) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.nextItem
	m.nextItem++
	m.items[item.ID] = item
	return item.ID, nil
}

func (m *Memory) UpdateItem(_ context.Context, item finance.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.items[item.ID]; !ok || existing.ProgramID != item.ProgramID {
		return finance.ErrItemNotFound
	}
	m.items[item.ID] = item
	return nil
}

func (m *Memory) DeactivateItem(_ context.Context, programID, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[itemID]; ok && it.ProgramID == programID {
		it.Active = false
		m.items[itemID] = it
	}
	return nil
}

func (m *Memory) UpdateProgramTotals(_ context.Context, programID int64, charge, cost decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.programs[programID]
	if !ok {
		return finance.ErrProgramNotFound
	}
	p.TotalCharge = charge
	p.TotalCost = cost
	m.programs[programID] = p
	return nil
}
