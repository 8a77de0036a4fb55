// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package program holds the per-row bookkeeping of token-by-token expression
// generation and the finished expression value.
//
// The dangling count is the number of open tree slots. It starts at 1 (the
// root) and every token of arity a placed into the next slot turns it into
// dangling - 1 + a. An expression is complete exactly when it reaches 0.
package program

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/exprprior/services/prior/library"
)

// Package-level error definitions.
var (
	// ErrInvariant marks a fatal bookkeeping violation: the dangling count went
	// negative, reached zero before the end of the sequence, or a token was
	// appended to a complete expression. It points at a caller bug or bad
	// arity data and must not be treated as a validation failure.
	ErrInvariant = errors.New("dangling invariant violated")

	// ErrIncomplete is returned when a sequence ends with open slots.
	ErrIncomplete = errors.New("incomplete expression")
)

// DanglingAt returns the dangling count after each prefix of tokens.
//
// Description:
//
//	out[k] is the count after tokens[0..k] have been placed, seeded at 1
//	before the first token. The function is pure and does not check
//	completeness; see CheckComplete.
//
// Inputs:
//   - lib: Library providing arities.
//   - tokens: Token ids in placement order.
//
// Outputs:
//   - []int: Running dangling counts, len(tokens) entries.
//   - error: Wraps library.ErrUnknownToken for ids outside the library.
func DanglingAt(lib *library.Library, tokens []int) ([]int, error) {
	out := make([]int, len(tokens))
	dangling := 1
	for k, t := range tokens {
		if !lib.Valid(t) {
			return nil, fmt.Errorf("position %d: %w: id %d", k, library.ErrUnknownToken, t)
		}
		dangling += lib.Arity(t) - 1
		out[k] = dangling
	}
	return out, nil
}

// CheckComplete verifies that tokens form exactly one complete expression.
//
// Outputs:
//   - error: nil when the dangling count is positive at every proper prefix
//     and exactly 0 at the last position. Wraps ErrInvariant when it reaches
//     0 early, and ErrIncomplete when the sequence is empty or ends with open
//     slots.
func CheckComplete(lib *library.Library, tokens []int) error {
	if len(tokens) == 0 {
		return fmt.Errorf("%w: empty sequence", ErrIncomplete)
	}
	counts, err := DanglingAt(lib, tokens)
	if err != nil {
		return err
	}
	last := len(counts) - 1
	for k, d := range counts[:last] {
		if d <= 0 {
			return fmt.Errorf("%w: dangling %d at position %d of %d", ErrInvariant, d, k, len(tokens))
		}
	}
	if counts[last] != 0 {
		return fmt.Errorf("%w: %d open slots after %d tokens", ErrIncomplete, counts[last], len(tokens))
	}
	return nil
}
