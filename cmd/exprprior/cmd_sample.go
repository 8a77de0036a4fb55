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
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exprprior/pkg/ux"
	"github.com/AleutianAI/exprprior/services/prior/program"
	"github.com/AleutianAI/exprprior/services/prior/server"
)

type sampleOptions struct {
	n              int
	seed           uint64
	seedSet        bool
	store          bool
	seedPopulation bool
	workers        int
}

func newSampleCmd(a *app) *cobra.Command {
	var opts sampleOptions
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate expressions under the prior",
		Long: `sample runs the reference generator: a uniform policy masked by the joint
prior. Completed expressions are printed one per line in prefix form.

With --seed-population every individual is regenerated until it passes the
validator's structural rules, and exactly -n individuals are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.seedSet = cmd.Flags().Changed("seed")
			return a.runSample(cmd, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.n, "count", "n", 0, "number of rows (default sampler.batch_size)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "override sampler.seed; 0 draws a random seed")
	cmd.Flags().BoolVar(&opts.store, "store", false, "save the expressions to the population store")
	cmd.Flags().BoolVar(&opts.seedPopulation, "seed-population", false, "regenerate until every individual is valid")
	cmd.Flags().IntVar(&opts.workers, "workers", runtime.GOMAXPROCS(0), "concurrent generators for --seed-population")
	return cmd
}

func (a *app) runSample(cmd *cobra.Command, opts sampleOptions) error {
	ctx := cmd.Context()
	logger := a.slog()
	cfg := a.cfg
	if opts.seedSet {
		cfg.Sampler.Seed = opts.seed
	}
	n := opts.n
	if n <= 0 {
		n = cfg.Sampler.BatchSize
	}

	rt, err := server.NewRuntime(cfg, logger)
	if err != nil {
		return err
	}

	var programs []program.Program
	source := "sample"
	if opts.seedPopulation {
		source = "seed"
		programs, err = rt.Sampler.SeedPopulation(ctx, rt.Validator, n, opts.workers)
		if err != nil {
			return err
		}
	} else {
		res, err := rt.Sampler.Sample(ctx, n, rng(cfg.Sampler.Seed))
		if err != nil {
			return err
		}
		programs = res.Programs
		if res.Truncated > 0 {
			logger.Warn("rows truncated at the length cap",
				slog.Int("truncated", res.Truncated),
				slog.Int("max_length", cfg.Sampler.MaxLength),
			)
		}
		logger.Info("batch sampled",
			slog.Int("complete", len(programs)),
			slog.Int("truncated", res.Truncated),
			slog.Int("steps", res.Steps),
		)
	}

	var ids []string
	if opts.store {
		ids, err = a.storePrograms(ctx, programs, source)
		if err != nil {
			return err
		}
	}

	p := ux.NewPlainPrinter(cmd.OutOrStdout())
	for i, prog := range programs {
		if ids != nil {
			p.Line(ids[i] + "\t" + prog.String())
			continue
		}
		p.Line(prog.String())
	}
	return nil
}

func (a *app) storePrograms(ctx context.Context, programs []program.Program, source string) ([]string, error) {
	db, store, err := a.openStore()
	if err != nil {
		return nil, fmt.Errorf("open population store: %w", err)
	}
	defer db.Close()

	uids, err := store.PutAll(ctx, programs, source)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(uids))
	for i, id := range uids {
		out[i] = id.String()
	}
	a.slog().Info("population updated",
		slog.Int("added", len(uids)),
		slog.String("source", source),
	)
	return out, nil
}
