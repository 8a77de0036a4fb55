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

// Configuration type names.
const (
	RepeatName     = "repeat"
	DescendantName = "descendant"
)

// Repeat bounds how often each of its tokens may occur.
//
// The configuration is validated at construction, but masking is not
// implemented: Initial and Apply return ErrNotSupported so that a caller can
// never mistake an unenforced bound for a satisfied one.
type Repeat struct {
	lib    *library.Library
	tokens []int
	min    int
	max    int
}

// NewRepeat creates a Repeat constraint. Zero disables a bound.
func NewRepeat(lib *library.Library, tokens []string, min, max int) (*Repeat, error) {
	if min == 0 && max == 0 {
		return nil, configError(RepeatName, "at least one of min, max must be set")
	}
	if min < 0 || max < 0 || (max > 0 && min > max) {
		return nil, configError(RepeatName, "invalid bounds min=%d max=%d", min, max)
	}
	if len(tokens) == 0 {
		return nil, configError(RepeatName, "no tokens given")
	}
	ids, err := lib.Actionize(tokens)
	if err != nil {
		return nil, &ConstraintError{Constraint: RepeatName, Operation: "New", Err: err}
	}
	return &Repeat{lib: lib, tokens: ids, min: min, max: max}, nil
}

// Name returns "repeat".
func (c *Repeat) Name() string { return RepeatName }

// Library returns the constraint's library.
func (c *Repeat) Library() *library.Library { return c.lib }

// Initial returns ErrNotSupported.
func (c *Repeat) Initial(mask.Vector) error { return notSupported(RepeatName, "Initial") }

// Apply returns ErrNotSupported.
func (c *Repeat) Apply(Step, []float32) error { return notSupported(RepeatName, "Apply") }

// Descendant forbids its descendant tokens anywhere below its ancestor tokens.
//
// Enforcing it needs a per-row stack of open subtree roots, which the Step
// input does not carry. Like Repeat it validates configuration and then
// refuses to mask.
type Descendant struct {
	lib         *library.Library
	descendants []int
	ancestors   []int
}

// NewDescendant creates a Descendant constraint.
func NewDescendant(lib *library.Library, descendants, ancestors []string) (*Descendant, error) {
	if len(descendants) == 0 || len(ancestors) == 0 {
		return nil, configError(DescendantName, "descendants and ancestors must be non-empty")
	}
	d, err := lib.Actionize(descendants)
	if err != nil {
		return nil, &ConstraintError{Constraint: DescendantName, Operation: "New", Err: err}
	}
	a, err := lib.Actionize(ancestors)
	if err != nil {
		return nil, &ConstraintError{Constraint: DescendantName, Operation: "New", Err: err}
	}
	for _, t := range a {
		if lib.Arity(t) == 0 {
			return nil, configError(DescendantName, "terminal token %q cannot be an ancestor", lib.Name(t))
		}
	}
	return &Descendant{lib: lib, descendants: d, ancestors: a}, nil
}

// Name returns "descendant".
func (c *Descendant) Name() string { return DescendantName }

// Library returns the constraint's library.
func (c *Descendant) Library() *library.Library { return c.lib }

// Initial returns ErrNotSupported.
func (c *Descendant) Initial(mask.Vector) error { return notSupported(DescendantName, "Initial") }

// Apply returns ErrNotSupported.
func (c *Descendant) Apply(Step, []float32) error { return notSupported(DescendantName, "Apply") }

func notSupported(name, op string) error {
	return &ConstraintError{Constraint: name, Operation: op, Err: ErrNotSupported}
}
