// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate checks whole expression trees produced by operators that
// cannot be masked token by token (mutation, crossover, seeding) and replaces
// rejected candidates.
//
// A rejection is an expected outcome, reported as a *Rejection value rather
// than an error. Only running out of a caller-supplied attempt budget is an
// error (ErrRetryBudgetExhausted).
package validate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/program"
)

// ErrRetryBudgetExhausted is returned when no valid candidate was found within
// the attempt budget.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// Reason classifies a rejection.
type Reason string

// Rejection reasons.
const (
	ReasonIncomplete     Reason = "incomplete"
	ReasonTooLong        Reason = "too_long"
	ReasonTooShort       Reason = "too_short"
	ReasonTooDeep        Reason = "too_deep"
	ReasonInversePair    Reason = "inverse_pair"
	ReasonNestedTrig     Reason = "nested_trig"
	ReasonConstantArgs   Reason = "constant_args"
	ReasonForeignLibrary Reason = "foreign_library"
)

// Rejection describes why a candidate tree is invalid.
type Rejection struct {
	Reason Reason

	// Position is the prefix index of the offending token, or -1 when the
	// rejection concerns the whole tree.
	Position int

	Detail string
}

func (r *Rejection) String() string {
	if r.Position < 0 {
		return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
	}
	return fmt.Sprintf("%s at %d: %s", r.Reason, r.Position, r.Detail)
}

// Config contains whole-tree bounds. Zero disables a bound.
type Config struct {
	MinLength int
	MaxLength int

	// MaxDepth bounds the tree height; a single leaf has depth 0.
	MaxDepth int

	// RejectConstantArgs rejects an operator whose children are all the
	// constant placeholder.
	RejectConstantArgs bool
}

// Validator checks candidate trees built on one library.
//
// Thread Safety: Safe for concurrent use.
type Validator struct {
	lib    *library.Library
	cfg    Config
	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// New creates a Validator.
//
// Outputs:
//   - *Validator: The validator.
//   - error: Wraps library.ErrConfiguration for a nil library, negative
//     bounds or MinLength > MaxLength.
func New(lib *library.Library, cfg Config, opts ...Option) (*Validator, error) {
	if lib == nil {
		return nil, fmt.Errorf("%w: library must not be nil", library.ErrConfiguration)
	}
	if cfg.MinLength < 0 || cfg.MaxLength < 0 || cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: validator bounds must be non-negative", library.ErrConfiguration)
	}
	if cfg.MaxLength > 0 && cfg.MinLength > cfg.MaxLength {
		return nil, fmt.Errorf("%w: min_length %d exceeds max_length %d",
			library.ErrConfiguration, cfg.MinLength, cfg.MaxLength)
	}
	v := &Validator{lib: lib, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Library returns the validator's library.
func (v *Validator) Library() *library.Library { return v.lib }

// Config returns the validator's bounds.
func (v *Validator) Config() Config { return v.cfg }

// Check applies every rule and returns the first rejection, or nil.
//
// Description:
//
//	Rules run in order: max length, min length, max depth, adjacent
//	inverse tokens, nested trigonometric tokens, and (when enabled)
//	constant-only arguments.
func (v *Validator) Check(p program.Program) *Rejection {
	r := v.check(p, true)
	if r != nil {
		rejectionsTotal.WithLabelValues(string(r.Reason)).Inc()
	}
	return r
}

// CheckStructure applies only the structural rules (inverse pairs, nested
// trig, constant arguments). Length and depth are left to the generator.
func (v *Validator) CheckStructure(p program.Program) *Rejection {
	r := v.check(p, false)
	if r != nil {
		rejectionsTotal.WithLabelValues(string(r.Reason)).Inc()
	}
	return r
}

// IsValid reports whether p passes Check.
func (v *Validator) IsValid(p program.Program) bool {
	return v.Check(p) == nil
}

// CheckNames validates a prefix-order name sequence.
//
// Outputs:
//   - *Rejection: Non-nil if the sequence is not a complete valid tree.
//   - error: Wraps library.ErrUnknownToken for unknown names.
func (v *Validator) CheckNames(names []string) (*Rejection, error) {
	ids, err := v.lib.Actionize(names)
	if err != nil {
		return nil, err
	}
	p, err := program.New(v.lib, ids)
	if err != nil {
		r := &Rejection{Reason: ReasonIncomplete, Position: -1, Detail: err.Error()}
		rejectionsTotal.WithLabelValues(string(r.Reason)).Inc()
		return r, nil
	}
	return v.Check(p), nil
}

func (v *Validator) check(p program.Program, bounds bool) *Rejection {
	if p.IsZero() || p.Len() == 0 {
		return &Rejection{Reason: ReasonIncomplete, Position: -1, Detail: "empty program"}
	}
	if p.Library() != v.lib {
		return &Rejection{Reason: ReasonForeignLibrary, Position: -1, Detail: "program built on a different library"}
	}

	if bounds {
		n := p.Len()
		if v.cfg.MaxLength > 0 && n > v.cfg.MaxLength {
			return &Rejection{Reason: ReasonTooLong, Position: -1,
				Detail: fmt.Sprintf("length %d > %d", n, v.cfg.MaxLength)}
		}
		if v.cfg.MinLength > 0 && n < v.cfg.MinLength {
			return &Rejection{Reason: ReasonTooShort, Position: -1,
				Detail: fmt.Sprintf("length %d < %d", n, v.cfg.MinLength)}
		}
		if d := p.Depth(); v.cfg.MaxDepth > 0 && d > v.cfg.MaxDepth {
			return &Rejection{Reason: ReasonTooDeep, Position: -1,
				Detail: fmt.Sprintf("depth %d > %d", d, v.cfg.MaxDepth)}
		}
	}

	tokens := p.Tokens()
	if r := checkInverse(v.lib, tokens); r != nil {
		return r
	}
	if r := checkTrig(v.lib, tokens); r != nil {
		return r
	}
	if v.cfg.RejectConstantArgs {
		if r := checkConstantArgs(v.lib, tokens); r != nil {
			return r
		}
	}
	return nil
}

// checkInverse rejects two adjacent prefix-order tokens that are each
// other's inverse.
func checkInverse(lib *library.Library, tokens []int) *Rejection {
	for i := 0; i+1 < len(tokens); i++ {
		if inv, ok := lib.Inverse(tokens[i]); ok && tokens[i+1] == inv {
			return &Rejection{Reason: ReasonInversePair, Position: i + 1,
				Detail: fmt.Sprintf("%s directly under %s", lib.Name(tokens[i+1]), lib.Name(tokens[i]))}
		}
	}
	return nil
}

// checkTrig rejects a trigonometric token inside the subtree of another.
//
// Inside a trig subtree the open-slot counter starts at the trig token's
// arity and moves by arity-1 per token; the subtree closes at 0.
func checkTrig(lib *library.Library, tokens []int) *Rejection {
	inside := false
	open := 0
	root := -1
	for i, t := range tokens {
		tok, _ := lib.Token(t)
		if tok.Trig {
			if inside {
				return &Rejection{Reason: ReasonNestedTrig, Position: i,
					Detail: fmt.Sprintf("%s inside %s", tok.Name, lib.Name(tokens[root]))}
			}
			if tok.Arity > 0 {
				inside, open, root = true, tok.Arity, i
			}
			continue
		}
		if inside {
			open += tok.Arity - 1
			if open == 0 {
				inside = false
			}
		}
	}
	return nil
}

// checkConstantArgs rejects an operator whose children are all the constant
// placeholder. Constants are leaves, so those children are the tokens that
// immediately follow the operator.
func checkConstantArgs(lib *library.Library, tokens []int) *Rejection {
	c, ok := lib.ConstToken()
	if !ok {
		return nil
	}
	for i, t := range tokens {
		a := lib.Arity(t)
		if a == 0 || i+a >= len(tokens) {
			continue
		}
		all := true
		for k := 1; k <= a; k++ {
			if tokens[i+k] != c {
				all = false
				break
			}
		}
		if all {
			return &Rejection{Reason: ReasonConstantArgs, Position: i,
				Detail: fmt.Sprintf("%s has only constant arguments", lib.Name(t))}
		}
	}
	return nil
}
