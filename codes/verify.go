package codes

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Violation is a prefix whose counter is behind its highest used code.
type Violation struct {
	Prefix  Prefix
	Counter Sequence
	MaxUsed Sequence
}

// Verify checks counter[prefix] >= suffix(code) for every used code.
// Prefixes that only appear in usedCodes are checked too.
func (a *Allocator) Verify(ctx context.Context) ([]Violation, error) {
	return verifyIn(ctx, a.store)
}

func verifyIn(ctx context.Context, s Store) ([]Violation, error) {
	counters, err := s.Counters(ctx)
	if err != nil {
		return nil, storageErr("read counters", err)
	}

	prefixes := make(map[Prefix]bool, len(counters))
	for p := range counters {
		prefixes[p] = true
	}
	extra, err := s.UsedPrefixes(ctx)
	if err != nil {
		return nil, storageErr("read used prefixes", err)
	}
	for _, p := range extra {
		prefixes[p] = true
	}

	var out []Violation
	for p := range prefixes {
		used, err := s.UsedCodes(ctx, p)
		if err != nil {
			return nil, storageErr("read used codes", err)
		}
		var highest Sequence
		for _, c := range used {
			_, seq, err := Parse(c)
			if err != nil {
				continue
			}
			if seq > highest {
				highest = seq
			}
		}
		if highest > counters[p] {
			out = append(out, Violation{Prefix: p, Counter: counters[p], MaxUsed: highest})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out, nil
}

// Repair raises every lagging counter to its highest used code and
// returns what it fixed.
func (a *Allocator) Repair(ctx context.Context, actor string) ([]Violation, error) {
	var fixed []Violation
	err := a.store.WithTx(ctx, func(s Store) error {
		violations, err := verifyIn(ctx, s)
		if err != nil {
			return err
		}
		for _, v := range violations {
			alloc := Allocation{Prefix: v.Prefix, NextSeq: v.MaxUsed, Code: Format(v.Prefix, v.MaxUsed)}
			if err := a.commitIn(ctx, s, alloc, SourceRepair, actor); err != nil {
				return err
			}
		}
		fixed = violations
		return nil
	})
	if err != nil {
		return nil, storageErr("repair", err)
	}
	for _, v := range fixed {
		a.logger.Warn("counter repaired",
			zap.String("prefix", v.Prefix.String()),
			zap.Int64("from", int64(v.Counter)),
			zap.Int64("to", int64(v.MaxUsed)))
	}
	return fixed, nil
}
