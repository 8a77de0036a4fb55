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
	"sort"

	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
)

// Configuration type names.
const (
	ChildName   = "child"
	InverseName = "inverse"
)

// Child forbids children[k] from being an immediate child of parents[k].
//
// Description:
//
//	Pairs are matched on the adjusted parent index carried by the Step, so
//	each row costs one map lookup regardless of how many pairs are
//	configured.
//
// Thread Safety: Safe for concurrent use.
type Child struct {
	name     string
	lib      *library.Library
	children []int
	parents  []int

	// byParent maps an adjusted parent index to the children it forbids.
	byParent map[int][]int
}

// NewChild creates a Child constraint from parallel name lists.
//
// Outputs:
//   - *Child: The constraint.
//   - error: Wraps library.ErrConfiguration when the lists differ in length
//     or a parent is a terminal, and library.ErrUnknownToken for unknown names.
func NewChild(lib *library.Library, children, parents []string) (*Child, error) {
	if len(children) != len(parents) {
		return nil, configError(ChildName, "children (%d) and parents (%d) must have the same length",
			len(children), len(parents))
	}
	c, err := lib.Actionize(children)
	if err != nil {
		return nil, &ConstraintError{Constraint: ChildName, Operation: "New", Err: err}
	}
	p, err := lib.Actionize(parents)
	if err != nil {
		return nil, &ConstraintError{Constraint: ChildName, Operation: "New", Err: err}
	}
	return newChildFromIDs(ChildName, lib, c, p)
}

// NewInverseUnary creates the Child constraint that forbids inv(t) directly
// under every unary token t with a registered inverse.
func NewInverseUnary(lib *library.Library) (*Child, error) {
	inverses := lib.InverseTokens()

	parents := make([]int, 0, len(inverses))
	for t := range inverses {
		if lib.Arity(t) == 1 {
			parents = append(parents, t)
		}
	}
	sort.Ints(parents)

	children := make([]int, len(parents))
	for k, t := range parents {
		children[k] = inverses[t]
	}
	return newChildFromIDs(InverseName, lib, children, parents)
}

func newChildFromIDs(name string, lib *library.Library, children, parents []int) (*Child, error) {
	c := &Child{
		name:     name,
		lib:      lib,
		children: children,
		parents:  parents,
		byParent: make(map[int][]int, len(parents)),
	}
	for k, p := range parents {
		if lib.Arity(p) == 0 {
			return nil, configError(name, "terminal token %q cannot be a parent", lib.Name(p))
		}
		adj := lib.ParentAdjust(p)
		c.byParent[adj] = append(c.byParent[adj], children[k])
	}
	return c, nil
}

// Name returns "child" or "inverse".
func (c *Child) Name() string { return c.name }

// Library returns the constraint's library.
func (c *Child) Library() *library.Library { return c.lib }

// Pairs returns the configured (parent, child) token id pairs.
func (c *Child) Pairs() [][2]int {
	out := make([][2]int, len(c.parents))
	for k := range c.parents {
		out[k] = [2]int{c.parents[k], c.children[k]}
	}
	return out
}

// Initial forbids nothing: the root slot has no parent.
func (c *Child) Initial(mask.Vector) error { return nil }

// Apply forbids the children configured for the row's current parent.
func (c *Child) Apply(step Step, dst []float32) error {
	forbid(dst, c.byParent[step.Parent])
	return nil
}
