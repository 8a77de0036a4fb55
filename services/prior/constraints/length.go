// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package constraints

import (
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
)

// LengthName is the configuration type name of Length.
const LengthName = "length"

// Length keeps the expression length within [Min, Max].
//
// Description:
//
//	Max: once half of the budget is reached, binary tokens are forbidden
//	when dangling >= remaining-1 and unary tokens when dangling == remaining,
//	so every open slot can still be closed with terminals.
//
//	Min: terminals are forbidden while dangling == 1 and closing now would
//	produce fewer than Min tokens.
//
// Thread Safety: Safe for concurrent use.
type Length struct {
	lib *library.Library
	min int
	max int

	terminals []int
	unaries   []int
	binaries  []int
	wide      []int // arity > 2
}

// NewLength creates a Length constraint. Zero disables a bound.
//
// Outputs:
//   - *Length: The constraint.
//   - error: Wraps library.ErrConfiguration if both bounds are zero, either
//     is negative, or min > max.
func NewLength(lib *library.Library, min, max int) (*Length, error) {
	if min == 0 && max == 0 {
		return nil, configError(LengthName, "at least one of min, max must be set")
	}
	if min < 0 || max < 0 {
		return nil, configError(LengthName, "bounds must be non-negative, got min=%d max=%d", min, max)
	}
	if max > 0 && min > max {
		return nil, configError(LengthName, "min %d exceeds max %d", min, max)
	}
	return &Length{
		lib:       lib,
		min:       min,
		max:       max,
		terminals: lib.TerminalTokens(),
		unaries:   lib.UnaryTokens(),
		binaries:  lib.BinaryTokens(),
		wide:      wideTokens(lib),
	}, nil
}

// Name returns "length".
func (c *Length) Name() string { return LengthName }

// Library returns the constraint's library.
func (c *Length) Library() *library.Library { return c.lib }

// Min returns the minimum length, 0 when unset.
func (c *Length) Min() int { return c.min }

// Max returns the maximum length, 0 when unset.
func (c *Length) Max() int { return c.max }

// Initial forbids every terminal: a length-controlled expression never
// consists of a single leaf.
func (c *Length) Initial(dst mask.Vector) error {
	forbid(dst, c.terminals)
	return nil
}

// Apply forbids tokens that would make the length bounds unreachable.
func (c *Length) Apply(step Step, dst []float32) error {
	i := len(step.Actions) - 1

	if c.max > 0 && i+2 >= c.max/2 {
		remaining := c.max - (i + 1)
		if step.Dangling >= remaining-1 {
			forbid(dst, c.binaries)
		}
		if step.Dangling == remaining {
			forbid(dst, c.unaries)
		}
	}

	// Operators wider than binary can overrun the budget before the halfway
	// point, so they are checked on every step.
	if c.max > 0 {
		remaining := c.max - (i + 1)
		for _, t := range c.wide {
			if step.Dangling+c.lib.Arity(t) > remaining {
				dst[t] = mask.Forbidden
			}
		}
	}

	if c.min > 0 && i+2 < c.min && step.Dangling == 1 {
		forbid(dst, c.terminals)
	}
	return nil
}

func wideTokens(lib *library.Library) []int {
	var out []int
	for _, t := range lib.Tokens() {
		if t.Arity > 2 {
			out = append(out, t.ID)
		}
	}
	return out
}
