// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package constraints provides the structural rules that forbid tokens during
// token-by-token expression generation.
//
// Constraint Contract:
//
//	Constraints MUST:
//	1. Be pure: the result depends only on configuration and the Step input
//	2. Only ever mark cells Forbidden; never write Allowed over a forbid
//	3. Fail at construction on bad configuration (wrap library.ErrConfiguration)
//
//	Constraints MUST NOT:
//	1. Mutate the Library or the Step's action slice
//	2. Keep state between calls
//	3. Recompute the dangling count from the action sequence
//
// Because every constraint only sets Forbidden, writing several constraints
// into the same row is the {0, -inf} sum of their individual masks and the
// result does not depend on the order of evaluation.
package constraints

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
)

// Package-level error definitions.
var (
	// ErrNotSupported is returned by constraints whose masking policy is not
	// implemented. It is never a silent no-op.
	ErrNotSupported = errors.New("constraint not supported")

	// ErrInvalidBatch is returned when batch inputs are inconsistent.
	ErrInvalidBatch = errors.New("invalid batch")
)

// ConstraintError wraps constraint-specific errors.
type ConstraintError struct {
	Constraint string
	Operation  string
	Err        error
}

func (e *ConstraintError) Error() string {
	return e.Constraint + "." + e.Operation + ": " + e.Err.Error()
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Step is the state of one batch row just before its next token is chosen.
type Step struct {
	// Actions are the tokens chosen so far. Never empty for step masks.
	Actions []int

	// Parent is the adjusted parent index of the next slot
	// (library.ParentAdjust, or library.EmptyParent for the root).
	Parent int

	// Sibling is the token id of the next slot's left sibling, or
	// library.EmptySibling.
	Sibling int

	// Dangling is the current open-slot count.
	Dangling int
}

// Batch holds the per-row inputs of one generation step.
type Batch struct {
	Actions  [][]int
	Parent   []int
	Sibling  []int
	Dangling []int
}

// Len returns the number of rows.
func (b Batch) Len() int { return len(b.Actions) }

// Row returns the Step for row i.
func (b Batch) Row(i int) Step {
	return Step{
		Actions:  b.Actions[i],
		Parent:   b.Parent[i],
		Sibling:  b.Sibling[i],
		Dangling: b.Dangling[i],
	}
}

// Validate checks that all per-row slices agree and every row has at least
// one action and a positive dangling count.
func (b Batch) Validate() error {
	n := len(b.Actions)
	if len(b.Parent) != n || len(b.Sibling) != n || len(b.Dangling) != n {
		return fmt.Errorf("%w: rows actions=%d parent=%d sibling=%d dangling=%d",
			ErrInvalidBatch, n, len(b.Parent), len(b.Sibling), len(b.Dangling))
	}
	for i := 0; i < n; i++ {
		if len(b.Actions[i]) == 0 {
			return fmt.Errorf("%w: row %d has no actions; use the initial mask for step 0", ErrInvalidBatch, i)
		}
		if b.Dangling[i] <= 0 {
			return fmt.Errorf("%w: row %d has dangling %d", ErrInvalidBatch, i, b.Dangling[i])
		}
	}
	return nil
}

// Constraint is a single structural rule contributing to the joint prior.
type Constraint interface {
	// Name returns the configuration type name.
	Name() string

	// Library returns the library the constraint was built on.
	Library() *library.Library

	// Initial marks the tokens forbidden at step 0 in dst.
	Initial(dst mask.Vector) error

	// Apply marks the tokens forbidden for the next slot of one row in dst.
	Apply(step Step, dst []float32) error
}

// InitialMask returns the standalone step-0 contribution of c.
func InitialMask(c Constraint) (mask.Vector, error) {
	v := mask.NewVector(c.Library().L())
	if err := c.Initial(v); err != nil {
		return nil, err
	}
	return v, nil
}

// StepMask returns the standalone (rows x L) contribution of c for a batch.
func StepMask(c Constraint, batch Batch) (*mask.Mask, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	m := mask.New(batch.Len(), c.Library().L())
	for i := 0; i < batch.Len(); i++ {
		if err := c.Apply(batch.Row(i), m.Row(i)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func forbid(dst []float32, tokens []int) {
	for _, t := range tokens {
		dst[t] = mask.Forbidden
	}
}

func configError(constraint, format string, args ...any) error {
	return &ConstraintError{
		Constraint: constraint,
		Operation:  "New",
		Err:        fmt.Errorf("%w: %s", library.ErrConfiguration, fmt.Sprintf(format, args...)),
	}
}
