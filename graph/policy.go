package graph

import (
	"fmt"
	"time"
)

// RetryPolicy is the retry budget for one error kind.
type RetryPolicy struct {
	// MaxAttempts is the total number of executions allowed, including the
	// first. Zero means the kind is non-retryable: exactly one attempt.
	MaxAttempts int

	// Backoff is the delay before the first retry. Later retries double it.
	Backoff time.Duration
}

// Attempts returns the number of executions the policy allows (at least one).
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before retrying after the given failed attempt
// (1-based): Backoff * 2^(attempt-1), capped at maxBackoff when maxBackoff
// is positive. Delays never decrease as attempt grows.
func (p RetryPolicy) Delay(attempt int, maxBackoff time.Duration) time.Duration {
	if p.Backoff <= 0 || attempt < 1 {
		return 0
	}

	delay := p.Backoff
	for i := 1; i < attempt; i++ {
		if maxBackoff > 0 && delay >= maxBackoff {
			break
		}
		// Stop doubling before overflow.
		if delay > time.Duration(1<<62) {
			break
		}
		delay *= 2
	}

	if maxBackoff > 0 && delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func (p RetryPolicy) validate(kind ErrorKind) error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry policy for %s: max attempts must be >= 0, got %d", kind, p.MaxAttempts)
	}
	if p.Backoff < 0 {
		return fmt.Errorf("retry policy for %s: backoff must be >= 0, got %v", kind, p.Backoff)
	}
	return nil
}

// RetryTable maps every ErrorKind to its RetryPolicy. A RetryTable is
// immutable once built; use With to derive a modified copy.
type RetryTable struct {
	policies map[ErrorKind]RetryPolicy
}

var defaultRetryTable = RetryTable{policies: map[ErrorKind]RetryPolicy{
	KindModel:  {MaxAttempts: 3, Backoff: 500 * time.Millisecond},
	KindTool:   {MaxAttempts: 2, Backoff: 250 * time.Millisecond},
	KindPolicy: {MaxAttempts: 0, Backoff: 0},
}}

// DefaultRetryTable returns the built-in table:
//
//	model_error   3 attempts  500ms
//	tool_error    2 attempts  250ms
//	policy_error  0 attempts  0
func DefaultRetryTable() RetryTable {
	return defaultRetryTable
}

// NewRetryTable validates policies and returns a table. Every kind in Kinds
// must be present and no other key is accepted, so an unclassified kind can
// never fall through to a retryable default.
func NewRetryTable(policies map[ErrorKind]RetryPolicy) (RetryTable, error) {
	table := make(map[ErrorKind]RetryPolicy, len(kinds))
	for kind, p := range policies {
		if !kind.Valid() {
			return RetryTable{}, fmt.Errorf("retry table: unknown error kind %q", kind)
		}
		if err := p.validate(kind); err != nil {
			return RetryTable{}, err
		}
		table[kind] = p
	}
	for _, kind := range kinds {
		if _, ok := table[kind]; !ok {
			return RetryTable{}, fmt.Errorf("retry table: missing policy for %s", kind)
		}
	}
	return RetryTable{policies: table}, nil
}

// Policy returns the policy for kind. ok is false for kinds outside Kinds.
func (t RetryTable) Policy(kind ErrorKind) (RetryPolicy, bool) {
	policies := t.policies
	if policies == nil {
		policies = defaultRetryTable.policies
	}
	p, ok := policies[kind]
	return p, ok
}

// With returns a copy of t with kind's policy replaced.
func (t RetryTable) With(kind ErrorKind, p RetryPolicy) (RetryTable, error) {
	policies := make(map[ErrorKind]RetryPolicy, len(kinds))
	for _, k := range kinds {
		policies[k], _ = t.Policy(k)
	}
	policies[kind] = p
	return NewRetryTable(policies)
}
