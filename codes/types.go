/*
Package codes provides the listing code allocator.

PURPOSE:
  Every listing registered by the back office gets a short code such as
  C-0001 or BO-0042. The prefix names a category (apartment, jeonse, ...)
  and the number is a per-prefix sequence. This package owns the format,
  the per-prefix counters and the set of codes already handed out.

KEY CONCEPTS IN THIS FILE (types.go):
  - Prefix: 1-2 uppercase letters naming a code category
  - Sequence: the numeric part of a code
  - Code: PREFIX-NNNN (zero-padded to 4 digits, wider when needed)
  - Allocation: a previewed {prefix, next_seq, code} tuple

STATE:
  counter[prefix]  highest sequence ever committed for prefix
  usedCodes        every committed code

  Both are created lazily and never deleted.

INVARIANTS:
  1. Every committed code parses to exactly one prefix
  2. counter[prefix] >= suffix of every committed code under prefix
  3. Only Commit/Reserve/Import mutate state; Preview never does

SEE ALSO:
  - allocator.go: Preview, Commit, Reserve
  - prefix.go: Prefix resolution from transaction/building labels
  - store.go: Persistence interfaces
*/
package codes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PREFIX
// =============================================================================

// Prefix is the category part of a code.
type Prefix string

// Built-in prefixes.
const (
	PrefixApartment     Prefix = "C"
	PrefixRedevelopment Prefix = "J"
	PrefixCommercial    Prefix = "R"
	PrefixMonthlyRent   Prefix = "BO"
	PrefixJeonse        Prefix = "BL"
	PrefixSale          Prefix = "BM"

	// PrefixUnclassified is returned when no rule matches. It is a regular,
	// usable prefix.
	PrefixUnclassified Prefix = "X"
)

var prefixPattern = regexp.MustCompile(`^[A-Z]{1,2}$`)

// Validate checks the prefix is 1-2 uppercase ASCII letters.
func (p Prefix) Validate() error {
	if !prefixPattern.MatchString(string(p)) {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, string(p))
	}
	return nil
}

func (p Prefix) String() string { return string(p) }

// =============================================================================
// SEQUENCE & CODE
// =============================================================================

// Sequence is the numeric part of a code.
type Sequence int64

// MinDigits is the zero-padding width of the numeric field.
const MinDigits = 4

// MaxSequence is the highest sequence a code may carry. Counters at this
// value have no successor.
const MaxSequence Sequence = 999_999_999_999

// Code is a full listing code, e.g. "BL-0007".
type Code string

func (c Code) String() string { return string(c) }

// Format builds the code for prefix and seq. Sequences above 9999 widen
// the numeric field instead of wrapping.
func Format(prefix Prefix, seq Sequence) Code {
	return Code(fmt.Sprintf("%s-%0*d", prefix, MinDigits, seq))
}

// Parse splits a code into prefix and sequence.
func Parse(c Code) (Prefix, Sequence, error) {
	s := strings.TrimSpace(string(c))
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidCode, string(c))
	}

	prefix := Prefix(s[:i])
	if err := prefix.Validate(); err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidCode, string(c))
	}

	digits := s[i+1:]
	if len(digits) < MinDigits {
		return "", 0, fmt.Errorf("%w: %q (numeric part shorter than %d digits)", ErrInvalidCode, string(c), MinDigits)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidCode, string(c))
	}
	if Sequence(n) > MaxSequence {
		return "", 0, fmt.Errorf("%w: %q (sequence above %d)", ErrInvalidCode, string(c), MaxSequence)
	}

	// Reject non-canonical forms like "C-00001", which would shadow "C-0001".
	if Format(prefix, Sequence(n)) != Code(s) {
		return "", 0, fmt.Errorf("%w: %q is not canonical", ErrInvalidCode, string(c))
	}
	return prefix, Sequence(n), nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation is the result of a preview and the input of a commit.
type Allocation struct {
	Prefix  Prefix
	NextSeq Sequence
	Code    Code
}

// Validate checks that the allocation is internally consistent.
func (a Allocation) Validate() error {
	if err := a.Prefix.Validate(); err != nil {
		return err
	}
	if a.NextSeq < 1 {
		return fmt.Errorf("%w: sequence must be positive, got %d", ErrInvalidAllocation, a.NextSeq)
	}
	if a.NextSeq > MaxSequence {
		return fmt.Errorf("%w: sequence %d above %d", ErrInvalidAllocation, a.NextSeq, MaxSequence)
	}
	if want := Format(a.Prefix, a.NextSeq); a.Code != want {
		return fmt.Errorf("%w: code %q does not match %q", ErrInvalidAllocation, a.Code, want)
	}
	return nil
}

// HistoryEntry records a single state change, for auditing.
type HistoryEntry struct {
	ID       string
	Prefix   Prefix
	Sequence Sequence
	Code     Code
	Source   Source
	Actor    string
	At       time.Time
}

// Source says which operation committed a code.
type Source string

const (
	SourceCommit  Source = "commit"
	SourceReserve Source = "reserve"
	SourceImport  Source = "import"
	SourceRepair  Source = "repair"
)
