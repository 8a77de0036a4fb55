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
	"strings"

	"github.com/AleutianAI/exprprior/services/prior/library"
)

// Program is a complete expression tree stored in depth-first prefix order.
//
// Programs are values: the token slice is never shared with callers, so a
// Program can be handed to an operator that mutates its own copy.
type Program struct {
	lib    *library.Library
	tokens []int
}

// New builds a Program from a complete token sequence.
//
// Outputs:
//   - Program: The expression.
//   - error: Wraps ErrIncomplete, ErrInvariant or library.ErrUnknownToken.
func New(lib *library.Library, tokens []int) (Program, error) {
	if err := CheckComplete(lib, tokens); err != nil {
		return Program{}, err
	}
	out := make([]int, len(tokens))
	copy(out, tokens)
	return Program{lib: lib, tokens: out}, nil
}

// FromNames builds a Program from token names in prefix order.
func FromNames(lib *library.Library, names []string) (Program, error) {
	ids, err := lib.Actionize(names)
	if err != nil {
		return Program{}, err
	}
	return New(lib, ids)
}

// Library returns the library the program was built on.
func (p Program) Library() *library.Library { return p.lib }

// Len returns the number of nodes.
func (p Program) Len() int { return len(p.tokens) }

// IsZero reports whether p is the zero Program.
func (p Program) IsZero() bool { return p.lib == nil }

// Tokens returns a copy of the token ids.
func (p Program) Tokens() []int {
	out := make([]int, len(p.tokens))
	copy(out, p.tokens)
	return out
}

// Names returns the token names in prefix order.
func (p Program) Names() []string {
	return p.lib.Names(p.tokens)
}

// Clone returns an independent copy.
func (p Program) Clone() Program {
	return Program{lib: p.lib, tokens: p.Tokens()}
}

// Depth returns the height of the tree: the number of edges on the longest
// root-to-leaf path. A single leaf has depth 0.
func (p Program) Depth() int {
	var (
		open  []int // remaining child slots of each open ancestor
		depth int
	)
	for _, t := range p.tokens {
		if d := len(open); d > depth {
			depth = d
		}
		if n := len(open); n > 0 {
			open[n-1]--
		}
		if a := p.lib.Arity(t); a > 0 {
			open = append(open, a)
		}
		for n := len(open); n > 0 && open[n-1] == 0; n = len(open) {
			open = open[:n-1]
		}
	}
	return depth
}

// Equal reports whether two programs have the same tokens on the same library.
func (p Program) Equal(o Program) bool {
	if p.lib != o.lib || len(p.tokens) != len(o.tokens) {
		return false
	}
	for i := range p.tokens {
		if p.tokens[i] != o.tokens[i] {
			return false
		}
	}
	return true
}

// String renders the program in functional prefix form, e.g. add(x1,sin(x2)).
func (p Program) String() string {
	if p.lib == nil {
		return "<nil>"
	}
	var b strings.Builder
	p.write(&b, 0)
	return b.String()
}

// write renders the subtree rooted at pos and returns the index after it.
func (p Program) write(b *strings.Builder, pos int) int {
	t := p.tokens[pos]
	b.WriteString(p.lib.Name(t))
	next := pos + 1
	arity := p.lib.Arity(t)
	if arity == 0 {
		return next
	}
	b.WriteByte('(')
	for c := 0; c < arity; c++ {
		if c > 0 {
			b.WriteByte(',')
		}
		next = p.write(b, next)
	}
	b.WriteByte(')')
	return next
}
