// Package store provides codes.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/listing-codes/codes"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	counters map[codes.Prefix]codes.Sequence
	used     map[codes.Code]codes.Prefix
	history  []codes.HistoryEntry

	// FailCommit, when set, is returned by every Commit. Used to exercise
	// storage-failure paths.
	FailCommit error
}

func NewMemory() *Memory {
	return &Memory{
		counters: make(map[codes.Prefix]codes.Sequence),
		used:     make(map[codes.Code]codes.Prefix),
	}
}

func (m *Memory) Counter(_ context.Context, prefix codes.Prefix) (codes.Sequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[prefix], nil
}

func (m *Memory) Counters(_ context.Context) (map[codes.Prefix]codes.Sequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countersLocked(), nil
}

func (m *Memory) IsUsed(_ context.Context, code codes.Code) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.used[code]
	return ok, nil
}

func (m *Memory) UsedCodes(_ context.Context, prefix codes.Prefix) ([]codes.Code, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usedCodesLocked(prefix), nil
}

func (m *Memory) UsedPrefixes(_ context.Context) ([]codes.Prefix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usedPrefixesLocked(), nil
}

// Commit raises the counter and marks the code used.
func (m *Memory) Commit(_ context.Context, alloc codes.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(alloc)
}

func (m *Memory) AppendHistory(_ context.Context, entry codes.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	return nil
}

func (m *Memory) History(_ context.Context, filter codes.HistoryFilter) ([]codes.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.historyLocked(filter), nil
}

func (m *Memory) countersLocked() map[codes.Prefix]codes.Sequence {
	out := make(map[codes.Prefix]codes.Sequence, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

func (m *Memory) usedCodesLocked(prefix codes.Prefix) []codes.Code {
	type entry struct {
		code codes.Code
		seq  codes.Sequence
	}
	var entries []entry
	for c, p := range m.used {
		if p != prefix {
			continue
		}
		_, seq, _ := codes.Parse(c)
		entries = append(entries, entry{code: c, seq: seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]codes.Code, len(entries))
	for i, e := range entries {
		out[i] = e.code
	}
	return out
}

func (m *Memory) usedPrefixesLocked() []codes.Prefix {
	seen := make(map[codes.Prefix]bool)
	var out []codes.Prefix
	for _, p := range m.used {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Memory) commitLocked(alloc codes.Allocation) error {
	if m.FailCommit != nil {
		return m.FailCommit
	}
	if alloc.NextSeq > m.counters[alloc.Prefix] {
		m.counters[alloc.Prefix] = alloc.NextSeq
	}
	m.used[alloc.Code] = alloc.Prefix
	return nil
}

// historyLocked returns newest first.
func (m *Memory) historyLocked(filter codes.HistoryFilter) []codes.HistoryEntry {
	var out []codes.HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		e := m.history[i]
		if filter.Prefix != "" && e.Prefix != filter.Prefix {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(codes.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	counters map[codes.Prefix]codes.Sequence
	used     map[codes.Code]codes.Prefix
	history  []codes.HistoryEntry
}

func (m *Memory) snapshot() memorySnapshot {
	used := make(map[codes.Code]codes.Prefix, len(m.used))
	for k, v := range m.used {
		used[k] = v
	}
	return memorySnapshot{
		counters: m.countersLocked(),
		used:     used,
		history:  append([]codes.HistoryEntry(nil), m.history...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.counters = s.counters
	m.used = s.used
	m.history = s.history
}

// txMemoryView runs with the parent's write lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Counter(_ context.Context, prefix codes.Prefix) (codes.Sequence, error) {
	return tv.parent.counters[prefix], nil
}

func (tv *txMemoryView) Counters(_ context.Context) (map[codes.Prefix]codes.Sequence, error) {
	return tv.parent.countersLocked(), nil
}

func (tv *txMemoryView) IsUsed(_ context.Context, code codes.Code) (bool, error) {
	_, ok := tv.parent.used[code]
	return ok, nil
}

func (tv *txMemoryView) UsedCodes(_ context.Context, prefix codes.Prefix) ([]codes.Code, error) {
	return tv.parent.usedCodesLocked(prefix), nil
}

func (tv *txMemoryView) UsedPrefixes(_ context.Context) ([]codes.Prefix, error) {
	return tv.parent.usedPrefixesLocked(), nil
}

func (tv *txMemoryView) Commit(_ context.Context, alloc codes.Allocation) error {
	return tv.parent.commitLocked(alloc)
}

func (tv *txMemoryView) AppendHistory(_ context.Context, entry codes.HistoryEntry) error {
	tv.parent.history = append(tv.parent.history, entry)
	return nil
}

func (tv *txMemoryView) History(_ context.Context, filter codes.HistoryFilter) ([]codes.HistoryEntry, error) {
	return tv.parent.historyLocked(filter), nil
}

var (
	_ codes.TxStore      = (*Memory)(nil)
	_ codes.HistoryStore = (*Memory)(nil)
	_ codes.HistoryStore = (*txMemoryView)(nil)
)
