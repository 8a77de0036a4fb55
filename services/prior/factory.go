// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prior

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/exprprior/services/prior/constraints"
	"github.com/AleutianAI/exprprior/services/prior/library"
)

// ErrUnknownConstraint is returned for an unrecognized constraint type name.
var ErrUnknownConstraint = fmt.Errorf("%w: unknown constraint type", library.ErrConfiguration)

// ConstraintConfig is one entry of the "constraints" configuration list.
//
// Which fields are read depends on Type:
//
//	length:     min, max
//	child:      children, parents
//	inverse:    (none)
//	repeat:     tokens, min, max
//	descendant: descendants, ancestors
type ConstraintConfig struct {
	Type        string   `json:"type" yaml:"type" validate:"required"`
	Min         int      `json:"min,omitempty" yaml:"min,omitempty" validate:"gte=0"`
	Max         int      `json:"max,omitempty" yaml:"max,omitempty" validate:"gte=0"`
	Children    []string `json:"children,omitempty" yaml:"children,omitempty" validate:"dive,token_name"`
	Parents     []string `json:"parents,omitempty" yaml:"parents,omitempty" validate:"dive,token_name"`
	Tokens      []string `json:"tokens,omitempty" yaml:"tokens,omitempty" validate:"dive,token_name"`
	Descendants []string `json:"descendants,omitempty" yaml:"descendants,omitempty" validate:"dive,token_name"`
	Ancestors   []string `json:"ancestors,omitempty" yaml:"ancestors,omitempty" validate:"dive,token_name"`
}

// Constructor builds a constraint from its configuration.
type Constructor func(lib *library.Library, cfg ConstraintConfig) (constraints.Constraint, error)

var constructors = map[string]Constructor{
	constraints.LengthName: func(lib *library.Library, cfg ConstraintConfig) (constraints.Constraint, error) {
		return constraints.NewLength(lib, cfg.Min, cfg.Max)
	},
	constraints.ChildName: func(lib *library.Library, cfg ConstraintConfig) (constraints.Constraint, error) {
		return constraints.NewChild(lib, cfg.Children, cfg.Parents)
	},
	constraints.InverseName: func(lib *library.Library, _ ConstraintConfig) (constraints.Constraint, error) {
		return constraints.NewInverseUnary(lib)
	},
	constraints.RepeatName: func(lib *library.Library, cfg ConstraintConfig) (constraints.Constraint, error) {
		return constraints.NewRepeat(lib, cfg.Tokens, cfg.Min, cfg.Max)
	},
	constraints.DescendantName: func(lib *library.Library, cfg ConstraintConfig) (constraints.Constraint, error) {
		return constraints.NewDescendant(lib, cfg.Descendants, cfg.Ancestors)
	},
}

// ConstraintTypes returns the recognized constraint type names, sorted.
func ConstraintTypes() []string {
	out := make([]string, 0, len(constructors))
	for name := range constructors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewConstraint resolves cfg.Type and builds the constraint.
//
// Outputs:
//   - constraints.Constraint: The constraint.
//   - error: ErrUnknownConstraint naming the type, or the constructor's error.
func NewConstraint(lib *library.Library, cfg ConstraintConfig) (constraints.Constraint, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(cfg.Type))]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownConstraint, cfg.Type,
			strings.Join(ConstraintTypes(), ", "))
	}
	return ctor(lib, cfg)
}

// MakeJointPrior builds every configured constraint and composes them.
//
// Description:
//
//	Constraints are constructed in list order; the first failure aborts the
//	build. Construction is the only place configuration errors surface, so a
//	JointPrior that was returned never fails for configuration reasons
//	during generation.
//
// Inputs:
//   - lib: The shared library.
//   - cfgs: Constraint configurations.
//   - opts: JointPrior options.
//
// Outputs:
//   - *JointPrior: The prior.
//   - error: Wraps library.ErrConfiguration or library.ErrUnknownToken.
func MakeJointPrior(lib *library.Library, cfgs []ConstraintConfig, opts ...Option) (*JointPrior, error) {
	if lib == nil {
		return nil, fmt.Errorf("%w: library must not be nil", library.ErrConfiguration)
	}
	cs := make([]constraints.Constraint, 0, len(cfgs))
	for i, cfg := range cfgs {
		c, err := NewConstraint(lib, cfg)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		cs = append(cs, c)
	}
	return NewJointPrior(lib, cs, opts...)
}
