// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exprprior/pkg/ux"
	"github.com/AleutianAI/exprprior/services/prior/program"
	"github.com/AleutianAI/exprprior/services/prior/server"
	"github.com/AleutianAI/exprprior/services/prior/validate"
)

// errRejected makes the command exit non-zero when an expression is invalid.
var errRejected = errors.New("expressions rejected")

type validateOptions struct {
	fallback bool
	seed     uint64
	poolSize int
}

func newValidateCmd(a *app) *cobra.Command {
	var opts validateOptions
	cmd := &cobra.Command{
		Use:   "validate expression...",
		Short: "Check finished expressions against the validator rules",
		Long: `validate checks each argument, a comma separated prefix-order expression
such as "add,x1,sin,x1", against the length, depth, inverse-pair and
nested-trig rules.

With --fallback every rejected expression is replaced by a random member
of the stored population and the repaired list is printed instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd.Context(), ux.NewPrinter(cmd.OutOrStdout()), args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.fallback, "fallback", false, "replace rejected expressions from the population store")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "fallback choice seed; 0 draws a random seed")
	cmd.Flags().IntVar(&opts.poolSize, "pool-size", 0, "population members to load for --fallback; 0 loads all")
	return cmd
}

func (a *app) runValidate(ctx context.Context, p *ux.Printer, args []string, opts validateOptions) error {
	rt, err := server.NewRuntime(a.cfg, a.slog())
	if err != nil {
		return err
	}
	if opts.fallback {
		return a.repair(ctx, p, rt, args, opts)
	}

	rejected := 0
	for _, arg := range args {
		names, err := splitNames([]string{arg})
		if err != nil {
			return fmt.Errorf("%q: %w", arg, err)
		}
		rej, err := rt.Validator.CheckNames(names)
		if err != nil {
			return fmt.Errorf("%q: %w", arg, err)
		}
		if rej != nil {
			rejected++
			p.Error(fmt.Sprintf("%s: %s", arg, rej.String()))
			continue
		}
		prog, err := program.FromNames(rt.Library, names)
		if err != nil {
			return err
		}
		p.Success(fmt.Sprintf("%s (length %d, depth %d)", prog.String(), prog.Len(), prog.Depth()))
	}
	if rejected > 0 {
		return fmt.Errorf("%w: %d of %d", errRejected, rejected, len(args))
	}
	return nil
}

func (a *app) repair(ctx context.Context, p *ux.Printer, rt *server.Runtime, args []string, opts validateOptions) error {
	candidates := make([]program.Program, len(args))
	for i, arg := range args {
		names, err := splitNames([]string{arg})
		if err != nil {
			return fmt.Errorf("%q: %w", arg, err)
		}
		ids, err := rt.Library.Actionize(names)
		if err != nil {
			return fmt.Errorf("%q: %w", arg, err)
		}
		// Incomplete trees stay zero-valued and are rejected by the validator.
		if prog, err := program.New(rt.Library, ids); err == nil {
			candidates[i] = prog
		}
	}

	db, store, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open population store: %w", err)
	}
	defer db.Close()
	pool, err := store.LoadPool(ctx, rt.Library, opts.poolSize)
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		return errors.New("population is empty; run `exprprior sample --store` first")
	}

	op := func(context.Context, []program.Program) ([]program.Program, error) {
		return candidates, nil
	}
	out, err := validate.ValidateAndRetry(ctx, op, rt.Validator, pool, rng(opts.seed))
	if errors.Is(err, validate.ErrNoValidFallback) {
		return fmt.Errorf("no stored expression passes the validator (%d loaded); sample more with `exprprior sample --store`: %w", len(pool), err)
	}
	if err != nil {
		return err
	}
	for i, prog := range out.Programs {
		if rej := out.Rejections[i]; rej != nil {
			p.Warning(fmt.Sprintf("%s: %s, replaced by %s", args[i], rej.String(), prog.String()))
			continue
		}
		p.Success(prog.String())
	}
	a.slog().Info("expressions repaired",
		slog.Int("candidates", len(args)),
		slog.Int("substituted", out.Substituted),
		slog.Int("pool", len(pool)),
	)
	return nil
}
