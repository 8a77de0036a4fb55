// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prior composes structural constraints into the joint prior used to
// mask token-by-token expression generation.
//
// A JointPrior owns an ordered list of constraints built on one shared
// library. For every batch row it produces a {0, -inf} vector over the
// vocabulary: 0 leaves the token to the external policy, -inf forbids it.
//
// Thread Safety:
//
//	JointPrior is immutable after construction and safe for concurrent use.
//	Rows of a batch are independent and may be evaluated in parallel.
package prior

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/exprprior/services/prior/constraints"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
)

// JointPrior is the additive composition of a set of constraints.
//
// Description:
//
//	Every constraint writes its forbids into the same row buffer. Since a
//	constraint can only set cells to -inf, the result equals the elementwise
//	{0, -inf} sum of the individual masks and does not depend on the order
//	in which constraints were registered.
//
// Thread Safety: Safe for concurrent use.
type JointPrior struct {
	lib         *library.Library
	constraints []constraints.Constraint
	parallel    ParallelConfig
	logger      *slog.Logger
}

// Option configures a JointPrior.
type Option func(*JointPrior)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(jp *JointPrior) {
		if logger != nil {
			jp.logger = logger
		}
	}
}

// WithParallel sets the row-parallel evaluation settings.
func WithParallel(cfg ParallelConfig) Option {
	return func(jp *JointPrior) {
		jp.parallel = cfg
	}
}

// NewJointPrior creates a JointPrior over lib.
//
// Inputs:
//   - lib: The shared library. Must not be nil.
//   - cs: Constraints in registration order. May be empty.
//   - opts: Optional settings.
//
// Outputs:
//   - *JointPrior: The prior.
//   - error: Wraps library.ErrConfiguration if lib is nil, a constraint is nil,
//     or a constraint was built on a different library.
func NewJointPrior(lib *library.Library, cs []constraints.Constraint, opts ...Option) (*JointPrior, error) {
	if lib == nil {
		return nil, fmt.Errorf("%w: library must not be nil", library.ErrConfiguration)
	}
	for i, c := range cs {
		if c == nil {
			return nil, fmt.Errorf("%w: constraint %d is nil", library.ErrConfiguration, i)
		}
		if c.Library() != lib {
			return nil, fmt.Errorf("%w: constraint %d (%s) was built on a different library",
				library.ErrConfiguration, i, c.Name())
		}
	}

	jp := &JointPrior{
		lib:         lib,
		constraints: append([]constraints.Constraint(nil), cs...),
		parallel:    DefaultParallelConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(jp)
	}
	return jp, nil
}

// Library returns the shared library.
func (jp *JointPrior) Library() *library.Library { return jp.lib }

// Constraints returns the registered constraints in order.
func (jp *JointPrior) Constraints() []constraints.Constraint {
	return append([]constraints.Constraint(nil), jp.constraints...)
}

// Names returns the registered constraint type names in order.
func (jp *JointPrior) Names() []string {
	out := make([]string, len(jp.constraints))
	for i, c := range jp.constraints {
		out[i] = c.Name()
	}
	return out
}

// InitialMask returns the step-0 mask: the sum of every constraint's
// initial contribution.
func (jp *JointPrior) InitialMask() (mask.Vector, error) {
	v := mask.NewVector(jp.lib.L())
	for _, c := range jp.constraints {
		if err := c.Initial(v); err != nil {
			return nil, err
		}
	}
	masksTotal.WithLabelValues(maskKindInitial).Inc()
	return v, nil
}

// StepMask returns the (rows x L) mask for the next slot of every row.
//
// Description:
//
//	Rows are evaluated independently. When parallel evaluation is enabled
//	and the batch is large enough, contiguous row ranges are handed to an
//	errgroup; each worker writes only its own rows of the shared result.
//	Rows left with no admissible token are logged and counted but still
//	returned; the caller decides how to handle them.
//
// Inputs:
//   - ctx: Checked between row ranges for cancellation.
//   - batch: Per-row actions, adjusted parent, sibling, and dangling count.
//
// Outputs:
//   - *mask.Mask: The joint mask.
//   - error: constraints.ErrInvalidBatch on inconsistent input, the first
//     constraint error (e.g. constraints.ErrNotSupported), or ctx.Err().
func (jp *JointPrior) StepMask(ctx context.Context, batch constraints.Batch) (*mask.Mask, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	rows := batch.Len()
	m := mask.New(rows, jp.lib.L())

	workers := jp.workers(rows)
	if workers <= 1 {
		if err := jp.applyRows(ctx, batch, m, 0, rows); err != nil {
			return nil, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		chunk := (rows + workers - 1) / workers
		for lo := 0; lo < rows; lo += chunk {
			hi := min(lo+chunk, rows)
			g.Go(func() error {
				return jp.applyRows(gctx, batch, m, lo, hi)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if dead := m.DeadRows(); len(dead) > 0 {
		deadRowsTotal.Add(float64(len(dead)))
		jp.logger.Warn("rows with no admissible token",
			slog.Int("count", len(dead)),
			slog.Any("rows", dead),
			slog.Any("constraints", jp.Names()),
		)
	}

	masksTotal.WithLabelValues(maskKindStep).Inc()
	maskRows.Observe(float64(rows))
	maskDuration.Observe(time.Since(start).Seconds())
	jp.logger.Debug("step mask computed",
		slog.Int("rows", rows),
		slog.Int("workers", max(workers, 1)),
		slog.Duration("duration", time.Since(start)),
	)
	return m, nil
}

// StepRow returns the mask for a single row.
func (jp *JointPrior) StepRow(step constraints.Step) (mask.Vector, error) {
	m, err := jp.StepMask(context.Background(), constraints.Batch{
		Actions:  [][]int{step.Actions},
		Parent:   []int{step.Parent},
		Sibling:  []int{step.Sibling},
		Dangling: []int{step.Dangling},
	})
	if err != nil {
		return nil, err
	}
	return mask.Vector(m.Row(0)), nil
}

func (jp *JointPrior) applyRows(ctx context.Context, batch constraints.Batch, m *mask.Mask, lo, hi int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := lo; i < hi; i++ {
		step := batch.Row(i)
		row := m.Row(i)
		for _, c := range jp.constraints {
			if err := c.Apply(step, row); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
	}
	return nil
}

// workers returns how many goroutines to use for a batch of n rows.
func (jp *JointPrior) workers(n int) int {
	p := jp.parallel
	if !p.Enabled || len(jp.constraints) == 0 {
		return 1
	}
	per := max(p.MinRowsPerWorker, 1)
	limit := p.MaxConcurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	return max(min(n/per, limit), 1)
}
