// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package program

import (
	"fmt"

	"github.com/AleutianAI/exprprior/services/prior/library"
)

// openNode is an operator that still has unfilled child slots.
type openNode struct {
	token     int
	remaining int
	lastChild int
}

// RowState is the generation-loop bookkeeping for one batch row.
//
// Description:
//
//	Tracks the action sequence, the dangling count and a stack of open
//	operators so that the parent and left sibling of the next slot are
//	available in O(1). The prior engine only reads these values; the
//	generation loop owns the RowState.
//
// Thread Safety: Not safe for concurrent use. Each row has its own state.
type RowState struct {
	lib      *library.Library
	actions  []int
	dangling int
	stack    []openNode
}

// NewRowState creates the state of an empty row with one open root slot.
func NewRowState(lib *library.Library) *RowState {
	return &RowState{lib: lib, dangling: 1}
}

// Append places token into the next open slot.
//
// Outputs:
//   - error: Wraps library.ErrUnknownToken for an invalid id, or
//     ErrInvariant when the row is already complete. The state is unchanged
//     on error.
func (s *RowState) Append(token int) error {
	if !s.lib.Valid(token) {
		return fmt.Errorf("%w: id %d", library.ErrUnknownToken, token)
	}
	if s.dangling <= 0 {
		return fmt.Errorf("%w: token %q appended to a complete expression of length %d",
			ErrInvariant, s.lib.Name(token), len(s.actions))
	}

	arity := s.lib.Arity(token)
	s.actions = append(s.actions, token)
	s.dangling += arity - 1

	if n := len(s.stack); n > 0 {
		top := &s.stack[n-1]
		top.remaining--
		top.lastChild = token
	}
	if arity > 0 {
		s.stack = append(s.stack, openNode{token: token, remaining: arity, lastChild: -1})
	}
	for n := len(s.stack); n > 0 && s.stack[n-1].remaining == 0; n = len(s.stack) {
		s.stack = s.stack[:n-1]
	}
	return nil
}

// Actions returns a copy of the tokens placed so far.
func (s *RowState) Actions() []int {
	out := make([]int, len(s.actions))
	copy(out, s.actions)
	return out
}

// Len returns the number of tokens placed so far.
func (s *RowState) Len() int { return len(s.actions) }

// Dangling returns the current number of open slots.
func (s *RowState) Dangling() int { return s.dangling }

// Done reports whether the expression is complete.
func (s *RowState) Done() bool { return s.dangling == 0 }

// Parent returns the token that owns the next slot, or -1 for the root slot
// and for complete rows.
func (s *RowState) Parent() int {
	if n := len(s.stack); n > 0 {
		return s.stack[n-1].token
	}
	return -1
}

// Sibling returns the most recent child of the next slot's parent, or -1.
func (s *RowState) Sibling() int {
	if n := len(s.stack); n > 0 {
		return s.stack[n-1].lastChild
	}
	return -1
}

// AdjustedParent returns Parent in compact parent-index space, using
// Library.EmptyParent when there is no parent.
func (s *RowState) AdjustedParent() int {
	p := s.Parent()
	if p < 0 {
		return s.lib.EmptyParent()
	}
	return s.lib.ParentAdjust(p)
}

// SiblingInput returns Sibling as a token id, using Library.EmptySibling
// when there is no sibling.
func (s *RowState) SiblingInput() int {
	sib := s.Sibling()
	if sib < 0 {
		return s.lib.EmptySibling()
	}
	return sib
}

// Program converts a complete row into a Program.
func (s *RowState) Program() (Program, error) {
	return New(s.lib, s.actions)
}
