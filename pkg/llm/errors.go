package llm

import (
	"errors"
	"fmt"
)

// ErrMalformedRound is wrapped by every error describing a round or a result
// set that breaks the call/result protocol.
var ErrMalformedRound = errors.New("malformed round")

// ValidateRound checks that every pending call carries a unique, non-empty ID
// and a name.
func ValidateRound(r *Round) error {
	if r == nil {
		return fmt.Errorf("%w: nil round", ErrMalformedRound)
	}
	seen := make(map[string]bool, len(r.Calls))
	for i, c := range r.Calls {
		if c.ID == "" {
			return fmt.Errorf("%w: call %d has no id", ErrMalformedRound, i)
		}
		if c.Name == "" {
			return fmt.Errorf("%w: call %q has no name", ErrMalformedRound, c.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate call id %q", ErrMalformedRound, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// MatchResults checks that results answer exactly the given calls: one result
// per call, same IDs, nothing extra.
func MatchResults(calls []Call, results []ToolResult) error {
	if len(calls) == 0 {
		return fmt.Errorf("%w: no tool calls pending", ErrMalformedRound)
	}
	if len(results) != len(calls) {
		return fmt.Errorf("%w: %d results for %d calls", ErrMalformedRound, len(results), len(calls))
	}
	want := make(map[string]bool, len(calls))
	for _, c := range calls {
		want[c.ID] = true
	}
	for _, r := range results {
		if !want[r.ID] {
			return fmt.Errorf("%w: unexpected result id %q", ErrMalformedRound, r.ID)
		}
		delete(want, r.ID)
	}
	return nil
}
