// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sampler is the reference generation loop around a JointPrior.
//
// Each row keeps its own program.RowState. At every step the sampler asks the
// prior for the joint mask of the still-open rows, lets a Policy score the
// tokens, adds the mask, and samples from the softmax over the admissible
// tokens. The loop is sequential per row and batched across rows.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/exprprior/services/prior"
	"github.com/AleutianAI/exprprior/services/prior/constraints"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
	"github.com/AleutianAI/exprprior/services/prior/program"
	"github.com/AleutianAI/exprprior/services/prior/validate"
)

const tracerName = "exprprior.sampler"

var (
	// ErrNoAdmissibleToken is returned when the joint mask forbids every
	// token of a row, so the row cannot be extended.
	ErrNoAdmissibleToken = errors.New("no admissible token")

	// ErrTruncated is returned by a Generator whose rows keep hitting the
	// length cap.
	ErrTruncated = errors.New("expression truncated at length cap")
)

// Result is one sampled batch.
type Result struct {
	// Programs holds the completed rows in row order.
	Programs []program.Program

	// Truncated counts rows that hit the length cap with open slots. They
	// are not in Programs.
	Truncated int

	// Steps is the number of generation steps taken.
	Steps int
}

// Sampler generates expressions token by token under a JointPrior.
//
// Thread Safety: Safe for concurrent use when the Policy is.
type Sampler struct {
	prior  *prior.JointPrior
	lib    *library.Library
	policy Policy
	cfg    prior.SamplerConfig
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Sampler.
//
// Inputs:
//   - jp: The joint prior.
//   - policy: Token scorer. Nil means UniformPolicy.
//   - cfg: BatchSize, MaxLength, Seed and MaxSeedAttempts are used.
//
// Outputs:
//   - *Sampler: The sampler.
//   - error: Wraps library.ErrConfiguration for a nil prior or bad settings.
func New(jp *prior.JointPrior, policy Policy, cfg prior.SamplerConfig, opts ...Option) (*Sampler, error) {
	if jp == nil {
		return nil, fmt.Errorf("%w: sampler needs a prior", library.ErrConfiguration)
	}
	if cfg.MaxLength < 1 {
		return nil, fmt.Errorf("%w: sampler max_length must be >= 1", library.ErrConfiguration)
	}
	if policy == nil {
		policy = UniformPolicy{}
	}
	s := &Sampler{
		prior:  jp,
		lib:    jp.Library(),
		policy: policy,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the sampler settings.
func (s *Sampler) Config() prior.SamplerConfig { return s.cfg }

// Sample generates n expressions.
//
// Description:
//
//	Step 0 uses the prior's initial mask; later steps use the joint step
//	mask over the rows that are still open. A row is finished when its
//	dangling count reaches 0 and truncated when it reaches the length cap
//	first.
//
// Inputs:
//   - ctx: Cancels generation between steps.
//   - n: Number of rows, at least 1.
//   - rng: Random source. Nil derives one from the configured seed.
//
// Outputs:
//   - Result: Completed programs and the truncation count.
//   - error: ErrNoAdmissibleToken, a prior error, or ctx.Err().
func (s *Sampler) Sample(ctx context.Context, n int, rng *rand.Rand) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "sampler.Sample",
		trace.WithAttributes(
			attribute.Int("sampler.rows", n),
			attribute.Int("sampler.max_length", s.cfg.MaxLength),
			attribute.StringSlice("prior.constraints", s.prior.Names()),
		),
	)
	defer span.End()

	res, err := s.sample(ctx, n, rng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("sampler.steps", res.Steps),
		attribute.Int("sampler.truncated", res.Truncated),
	)
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (s *Sampler) sample(ctx context.Context, n int, rng *rand.Rand) (Result, error) {
	if n < 1 {
		return Result{}, fmt.Errorf("%w: row count must be >= 1, got %d", library.ErrConfiguration, n)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(s.cfg.Seed, 0))
	}

	rows := make([]*program.RowState, n)
	for i := range rows {
		rows[i] = program.NewRowState(s.lib)
	}
	scores := make([]float32, s.lib.L())

	// Step 0.
	initial, err := s.prior.InitialMask()
	if err != nil {
		return Result{}, fmt.Errorf("initial mask: %w", err)
	}
	root := constraints.Step{Parent: s.lib.EmptyParent(), Sibling: s.lib.EmptySibling(), Dangling: 1}
	for i, row := range rows {
		s.policy.Logits(root, scores)
		for j, c := range initial {
			if mask.IsForbidden(c) {
				scores[j] = mask.Forbidden
			}
		}
		tok, ok := choose(scores, rng)
		if !ok {
			return Result{}, fmt.Errorf("%w: row %d at step 0", ErrNoAdmissibleToken, i)
		}
		if err := row.Append(tok); err != nil {
			return Result{}, err
		}
	}

	res := Result{Steps: 1}
	truncated := make([]bool, n)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		var active []int
		var batch constraints.Batch
		for i, row := range rows {
			if row.Done() || truncated[i] {
				continue
			}
			if row.Len() >= s.cfg.MaxLength {
				truncated[i] = true
				res.Truncated++
				continue
			}
			active = append(active, i)
			batch.Actions = append(batch.Actions, row.Actions())
			batch.Parent = append(batch.Parent, row.AdjustedParent())
			batch.Sibling = append(batch.Sibling, row.SiblingInput())
			batch.Dangling = append(batch.Dangling, row.Dangling())
		}
		if len(active) == 0 {
			break
		}

		m, err := s.prior.StepMask(ctx, batch)
		if err != nil {
			return Result{}, fmt.Errorf("step %d: %w", res.Steps, err)
		}
		for k, i := range active {
			s.policy.Logits(batch.Row(k), scores)
			if err := m.Apply(k, scores); err != nil {
				return Result{}, err
			}
			tok, ok := choose(scores, rng)
			if !ok {
				return Result{}, fmt.Errorf("%w: row %d at step %d (actions %v)",
					ErrNoAdmissibleToken, i, res.Steps, s.lib.Names(batch.Actions[k]))
			}
			if err := rows[i].Append(tok); err != nil {
				return Result{}, err
			}
		}
		res.Steps++
	}

	for i, row := range rows {
		if truncated[i] {
			continue
		}
		p, err := row.Program()
		if err != nil {
			return Result{}, fmt.Errorf("row %d: %w", i, err)
		}
		res.Programs = append(res.Programs, p)
	}

	if res.Truncated > 0 {
		s.logger.Warn("rows truncated at length cap",
			slog.Int("truncated", res.Truncated),
			slog.Int("rows", n),
			slog.Int("max_length", s.cfg.MaxLength),
		)
	}
	s.logger.Debug("batch sampled",
		slog.Int("rows", n),
		slog.Int("steps", res.Steps),
	)
	return res, nil
}

// Generator returns a validate.Generator that samples one expression per
// call. A truncated row is resampled up to MaxSeedAttempts times before the
// call fails with ErrTruncated.
//
// The returned Generator uses rng and must not be shared between goroutines.
func (s *Sampler) Generator(rng *rand.Rand) validate.Generator {
	tries := max(s.cfg.MaxSeedAttempts, 1)
	return func(ctx context.Context) (program.Program, error) {
		for k := 0; k < tries; k++ {
			res, err := s.Sample(ctx, 1, rng)
			if err != nil {
				return program.Program{}, err
			}
			if len(res.Programs) == 1 {
				return res.Programs[0], nil
			}
		}
		return program.Program{}, fmt.Errorf("%w after %d tries (max_length %d)", ErrTruncated, tries, s.cfg.MaxLength)
	}
}

// SeedPopulation creates n individuals that pass the validator's structural
// rules, in parallel.
//
// Description:
//
//	Individual i draws from its own PCG stream keyed by (Seed, i), so the
//	population depends only on the seed and not on goroutine scheduling.
//	Each individual gets MaxSeedAttempts tries.
//
// Inputs:
//   - ctx: Cancels seeding.
//   - v: The validator.
//   - n: Population size.
//   - workers: Maximum concurrent generators; <= 0 means one.
//
// Outputs:
//   - []program.Program: n individuals.
//   - error: validate.ErrRetryBudgetExhausted or any generation error.
func (s *Sampler) SeedPopulation(ctx context.Context, v *validate.Validator, n, workers int) ([]program.Program, error) {
	ctx, span := s.tracer.Start(ctx, "sampler.SeedPopulation",
		trace.WithAttributes(attribute.Int("sampler.population", n)),
	)
	defer span.End()

	out := make([]program.Program, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(i)+1))
			p, _, err := validate.SeedUntilValid(gctx, s.Generator(rng), v, s.cfg.MaxSeedAttempts)
			if err != nil {
				return fmt.Errorf("individual %d: %w", i, err)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// choose samples an index from the softmax of the non-forbidden scores.
func choose(scores []float32, rng *rand.Rand) (int, bool) {
	best := math.Inf(-1)
	for _, s := range scores {
		if !mask.IsForbidden(s) && float64(s) > best {
			best = float64(s)
		}
	}
	if math.IsInf(best, -1) {
		return -1, false
	}

	var total float64
	for _, s := range scores {
		if !mask.IsForbidden(s) {
			total += math.Exp(float64(s) - best)
		}
	}
	u := rng.Float64() * total
	last := -1
	for j, s := range scores {
		if mask.IsForbidden(s) {
			continue
		}
		last = j
		u -= math.Exp(float64(s) - best)
		if u < 0 {
			return j, true
		}
	}
	return last, true
}
