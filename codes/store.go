/*
store.go - Persistence interface for counters and used codes

PURPOSE:
  Defines the boundary between the allocator and whatever durable
  key-value substrate holds its state. The allocator never touches a
  database directly.

KEY INTERFACES:
  Store:        Counter map + used-code set
  TxStore:      Store with atomic read-modify-write (WithTx)
  HistoryStore: Optional append-only log of committed codes

COMMIT CONTRACT:
  Commit(alloc) must, atomically:
    counter[prefix] = max(counter[prefix], alloc.NextSeq)
    usedCodes += alloc.Code         (no-op if already present)

IMPLEMENTATIONS:
  - codes/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite via sqlx
*/
package codes

import "context"

// Store holds the per-prefix counters and the used-code set.
type Store interface {
	// Counter returns counter[prefix], or 0 when the prefix was never used.
	Counter(ctx context.Context, prefix Prefix) (Sequence, error)

	// Counters returns a copy of the whole counter map.
	Counters(ctx context.Context) (map[Prefix]Sequence, error)

	// IsUsed reports whether code has been committed.
	IsUsed(ctx context.Context, code Code) (bool, error)

	// UsedCodes returns every committed code under prefix, in sequence order.
	UsedCodes(ctx context.Context, prefix Prefix) ([]Code, error)

	// UsedPrefixes lists every prefix with at least one committed code.
	UsedPrefixes(ctx context.Context) ([]Prefix, error)

	// Commit raises the counter and records the code. Re-committing is a no-op.
	Commit(ctx context.Context, alloc Allocation) error
}

// TxStore wraps Store with transaction support.
// If fn returns an error nothing fn wrote is kept.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// HistoryStore records who committed what.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
}

// HistoryFilter narrows a history query. Zero values mean "any".
type HistoryFilter struct {
	Prefix Prefix
	Limit  int
}
