// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/program"
)

// ErrNoValidFallback is returned by ValidateAndRetry when no pool member
// passes the validator. It wraps library.ErrConfiguration.
var ErrNoValidFallback = fmt.Errorf("%w: fallback pool has no valid program", library.ErrConfiguration)

// Operator is a whole-tree operator such as mutation or crossover. It may
// modify its inputs in place.
type Operator func(ctx context.Context, inputs []program.Program) ([]program.Program, error)

// Generator produces a fresh candidate tree.
type Generator func(ctx context.Context) (program.Program, error)

// Outcome is the result of ValidateAndRetry.
type Outcome struct {
	// Programs has one entry per operator output; rejected outputs are
	// replaced by a copy of a pool member.
	Programs []program.Program

	// Rejections holds the rejection for each replaced output, nil for
	// accepted ones. Same length as Programs.
	Rejections []*Rejection

	// Substituted counts the replaced outputs.
	Substituted int
}

// ValidateAndRetry calls op on pool and replaces every invalid output with a
// copy of a random pool member.
//
// Description:
//
//	The pool is snapshotted before op runs, so an operator that mutates its
//	inputs cannot corrupt the fallbacks. Only snapshot members that pass
//	v.Check are fallbacks; the operator still sees the whole pool. An
//	invalid output is discarded and never fed back into the operator.
//
// Inputs:
//   - ctx: Passed to op.
//   - op: The operator.
//   - v: The validator.
//   - pool: Operator inputs and fallback candidates. At least one member
//     must be valid.
//   - rng: Random source for choosing fallbacks. Nil uses the global source.
//
// Outputs:
//   - Outcome: The accepted programs.
//   - error: ErrNoValidFallback when no pool member is valid, or op's error.
func ValidateAndRetry(ctx context.Context, op Operator, v *Validator, pool []program.Program, rng *rand.Rand) (Outcome, error) {
	keep := make([]program.Program, 0, len(pool))
	inputs := make([]program.Program, len(pool))
	for i, p := range pool {
		inputs[i] = p.Clone()
		if r := v.Check(p); r != nil {
			v.logger.Debug("pool member is not a fallback",
				slog.String("program", p.String()),
				slog.String("reason", string(r.Reason)),
			)
			continue
		}
		keep = append(keep, p.Clone())
	}
	if len(keep) == 0 {
		return Outcome{}, fmt.Errorf("%w (%d members)", ErrNoValidFallback, len(pool))
	}

	outputs, err := op(ctx, inputs)
	if err != nil {
		return Outcome{}, fmt.Errorf("operator: %w", err)
	}

	out := Outcome{
		Programs:   make([]program.Program, len(outputs)),
		Rejections: make([]*Rejection, len(outputs)),
	}
	for i, p := range outputs {
		if r := v.Check(p); r != nil {
			fallback := keep[pick(rng, len(keep))].Clone()
			out.Programs[i] = fallback
			out.Rejections[i] = r
			out.Substituted++
			substitutionsTotal.Inc()
			v.logger.Debug("candidate rejected",
				slog.String("reason", string(r.Reason)),
				slog.Int("position", r.Position),
				slog.String("candidate", p.String()),
				slog.String("fallback", fallback.String()),
			)
			continue
		}
		out.Programs[i] = p
	}
	return out, nil
}

// SeedUntilValid calls gen until it produces a candidate that passes the
// structural rules.
//
// Description:
//
//	Length and depth are controlled by the generator itself, so only
//	CheckStructure is applied. The loop stops after maxAttempts candidates.
//
// Inputs:
//   - ctx: Checked before every attempt.
//   - gen: The generator.
//   - v: The validator.
//   - maxAttempts: Attempt budget, at least 1.
//
// Outputs:
//   - program.Program: The first accepted candidate.
//   - int: Attempts used.
//   - error: ErrRetryBudgetExhausted, gen's error, ctx.Err(), or
//     library.ErrConfiguration for maxAttempts < 1.
func SeedUntilValid(ctx context.Context, gen Generator, v *Validator, maxAttempts int) (program.Program, int, error) {
	if maxAttempts < 1 {
		return program.Program{}, 0, fmt.Errorf("%w: max attempts must be >= 1, got %d",
			library.ErrConfiguration, maxAttempts)
	}

	var last *Rejection
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return program.Program{}, attempt - 1, err
		}
		p, err := gen(ctx)
		if err != nil {
			return program.Program{}, attempt, fmt.Errorf("generator: %w", err)
		}
		if last = v.CheckStructure(p); last == nil {
			seedAttempts.Observe(float64(attempt))
			return p, attempt, nil
		}
	}

	seedAttempts.Observe(float64(maxAttempts))
	v.logger.Warn("seeding gave up",
		slog.Int("attempts", maxAttempts),
		slog.String("last_reason", string(last.Reason)),
	)
	return program.Program{}, maxAttempts, fmt.Errorf("%w after %d attempts (last: %s)",
		ErrRetryBudgetExhausted, maxAttempts, last)
}

func pick(rng *rand.Rand, n int) int {
	if rng == nil {
		return rand.IntN(n)
	}
	return rng.IntN(n)
}
