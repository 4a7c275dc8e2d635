/*
allocator.go - Preview, commit and reserve listing codes

PURPOSE:
  The allocator is the only writer of counters and used codes. It
  implements three operations:

  Preview(prefix)   next free code, no state change (live form preview)
  Commit(alloc)     record a previewed code when the record is saved
  Reserve(prefix)   preview + commit in one store transaction

PREVIEW ALGORITHM:
  seq  = counter[prefix] + 1
  code = PREFIX-seq
  while code in usedCodes:          (at most GuardLimit candidates)
      seq++
  -> {prefix, seq, code}

  Tripping the guard is an error (ErrExhausted), never a colliding code.

CONCURRENCY:
  Preview + Commit from two callers can hand out the same code: both see
  the same counter, and the second commit is an idempotent no-op. Callers
  that save records must use Reserve (or ReserveIn inside their own
  transaction). Reserve holds a per-prefix lock for in-process callers
  and runs inside WithTx so the store serialises cross-process writers.

SEE ALSO:
  - store.go: Store/TxStore contracts
  - listing/registry.go: Reserves a code in the listing's transaction
*/
package codes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultGuardLimit bounds the collision loop in Plan.
const DefaultGuardLimit = 10000

// =============================================================================
// PURE PLANNING
// =============================================================================

// Plan computes the next free code for prefix given the current counter
// and a used-code lookup. It does not write anything.
func Plan(prefix Prefix, counter Sequence, isUsed func(Code) (bool, error), guard int) (Allocation, error) {
	if err := prefix.Validate(); err != nil {
		return Allocation{}, err
	}
	if guard <= 0 {
		guard = DefaultGuardLimit
	}
	if counter < 0 {
		counter = 0
	}

	if counter >= MaxSequence {
		return Allocation{}, &ExhaustedError{Prefix: prefix, From: MaxSequence, Attempts: 0}
	}

	from := counter + 1
	seq := from
	for attempt := 0; attempt < guard; attempt++ {
		if seq > MaxSequence {
			return Allocation{}, &ExhaustedError{Prefix: prefix, From: from, Attempts: attempt}
		}
		code := Format(prefix, seq)
		used, err := isUsed(code)
		if err != nil {
			return Allocation{}, storageErr("lookup used code", err)
		}
		if !used {
			return Allocation{Prefix: prefix, NextSeq: seq, Code: code}, nil
		}
		seq++
	}
	return Allocation{}, &ExhaustedError{Prefix: prefix, From: from, Attempts: guard}
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator hands out codes backed by a TxStore.
type Allocator struct {
	store  TxStore
	guard  int
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[Prefix]*sync.Mutex
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithGuardLimit overrides DefaultGuardLimit.
func WithGuardLimit(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.guard = n
		}
	}
}

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// NewAllocator creates an allocator over store.
func NewAllocator(store TxStore, opts ...Option) *Allocator {
	a := &Allocator{
		store:  store,
		guard:  DefaultGuardLimit,
		logger: zap.NewNop(),
		now:    time.Now,
		locks:  make(map[Prefix]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GuardLimit returns the configured collision guard.
func (a *Allocator) GuardLimit() int { return a.guard }

// Store returns the underlying store.
func (a *Allocator) Store() TxStore { return a.store }

func (a *Allocator) lock(prefix Prefix) func() {
	a.mu.Lock()
	l, ok := a.locks[prefix]
	if !ok {
		l = &sync.Mutex{}
		a.locks[prefix] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Preview returns the next free code for prefix without reserving it.
func (a *Allocator) Preview(ctx context.Context, prefix Prefix) (Allocation, error) {
	return a.previewIn(ctx, a.store, prefix)
}

func (a *Allocator) previewIn(ctx context.Context, s Store, prefix Prefix) (Allocation, error) {
	if err := prefix.Validate(); err != nil {
		return Allocation{}, err
	}
	counter, err := s.Counter(ctx, prefix)
	if err != nil {
		return Allocation{}, storageErr("read counter", err)
	}
	return Plan(prefix, counter, func(c Code) (bool, error) {
		return s.IsUsed(ctx, c)
	}, a.guard)
}

// Commit records a previewed allocation.
func (a *Allocator) Commit(ctx context.Context, alloc Allocation, actor string) error {
	if err := alloc.Validate(); err != nil {
		return err
	}

	unlock := a.lock(alloc.Prefix)
	defer unlock()

	err := a.store.WithTx(ctx, func(s Store) error {
		return a.commitIn(ctx, s, alloc, SourceCommit, actor)
	})
	if err != nil {
		return storageErr("commit", err)
	}

	a.logger.Info("code committed",
		zap.String("prefix", alloc.Prefix.String()),
		zap.String("code", alloc.Code.String()),
		zap.Int64("seq", int64(alloc.NextSeq)),
		zap.String("actor", actor))
	return nil
}

// Reserve previews and commits in one transaction.
func (a *Allocator) Reserve(ctx context.Context, prefix Prefix, actor string) (Allocation, error) {
	if err := prefix.Validate(); err != nil {
		return Allocation{}, err
	}

	unlock := a.lock(prefix)
	defer unlock()

	var alloc Allocation
	err := a.store.WithTx(ctx, func(s Store) error {
		var err error
		alloc, err = a.reserveIn(ctx, s, prefix, actor)
		return err
	})
	if err != nil {
		return Allocation{}, storageErr("reserve", err)
	}

	a.logger.Info("code reserved",
		zap.String("prefix", prefix.String()),
		zap.String("code", alloc.Code.String()),
		zap.Int64("seq", int64(alloc.NextSeq)),
		zap.String("actor", actor))
	return alloc, nil
}

// ReserveIn reserves a code using a store that is already inside a
// transaction owned by the caller. It takes no prefix lock: the caller's
// transaction must serialise writers, and taking the lock here would
// invert the lock order used by Reserve.
func (a *Allocator) ReserveIn(ctx context.Context, s Store, prefix Prefix, actor string) (Allocation, error) {
	if err := prefix.Validate(); err != nil {
		return Allocation{}, err
	}

	alloc, err := a.reserveIn(ctx, s, prefix, actor)
	if err != nil {
		return Allocation{}, storageErr("reserve", err)
	}
	return alloc, nil
}

func (a *Allocator) reserveIn(ctx context.Context, s Store, prefix Prefix, actor string) (Allocation, error) {
	alloc, err := a.previewIn(ctx, s, prefix)
	if err != nil {
		return Allocation{}, err
	}
	if err := a.commitIn(ctx, s, alloc, SourceReserve, actor); err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

func (a *Allocator) commitIn(ctx context.Context, s Store, alloc Allocation, source Source, actor string) error {
	existed, err := s.IsUsed(ctx, alloc.Code)
	if err != nil {
		return err
	}
	if err := s.Commit(ctx, alloc); err != nil {
		return err
	}
	hs, ok := s.(HistoryStore)
	if !ok || (existed && source != SourceRepair) {
		return nil
	}
	return hs.AppendHistory(ctx, HistoryEntry{
		ID:       uuid.NewString(),
		Prefix:   alloc.Prefix,
		Sequence: alloc.NextSeq,
		Code:     alloc.Code,
		Source:   source,
		Actor:    actor,
		At:       a.now().UTC(),
	})
}

// =============================================================================
// READ-ONLY QUERIES
// =============================================================================

// Counters returns the current counter map.
func (a *Allocator) Counters(ctx context.Context) (map[Prefix]Sequence, error) {
	m, err := a.store.Counters(ctx)
	if err != nil {
		return nil, storageErr("read counters", err)
	}
	return m, nil
}

// UsedCodes lists committed codes under prefix.
func (a *Allocator) UsedCodes(ctx context.Context, prefix Prefix) ([]Code, error) {
	if err := prefix.Validate(); err != nil {
		return nil, err
	}
	used, err := a.store.UsedCodes(ctx, prefix)
	if err != nil {
		return nil, storageErr("read used codes", err)
	}
	return used, nil
}

// UsedPrefixes lists prefixes with at least one committed code, including
// ones whose counter row is missing.
func (a *Allocator) UsedPrefixes(ctx context.Context) ([]Prefix, error) {
	ps, err := a.store.UsedPrefixes(ctx)
	if err != nil {
		return nil, storageErr("read used prefixes", err)
	}
	return ps, nil
}

// History returns the allocation history if the store keeps one.
func (a *Allocator) History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	hs, ok := a.store.(HistoryStore)
	if !ok {
		return nil, fmt.Errorf("history: %w", ErrNotFound)
	}
	entries, err := hs.History(ctx, filter)
	if err != nil {
		return nil, storageErr("read history", err)
	}
	return entries, nil
}
