// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/exprprior/services/prior"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/sampler"
	"github.com/AleutianAI/exprprior/services/prior/validate"
)

// Runtime is everything built from one configuration: the library, the
// joint prior over it, and the validator and sampler that share them.
//
// A Runtime is immutable. Reloading builds a new one and swaps it in.
type Runtime struct {
	Config    prior.Config
	Library   *library.Library
	Prior     *prior.JointPrior
	Validator *validate.Validator
	Sampler   *sampler.Sampler
}

// NewRuntime validates cfg and builds a Runtime from it.
//
// Inputs:
//   - cfg: The configuration.
//   - logger: Logger for all components. Nil uses slog.Default().
//
// Outputs:
//   - *Runtime: The runtime.
//   - error: Wraps library.ErrConfiguration for an invalid configuration.
func NewRuntime(cfg prior.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lib, jp, err := cfg.Build(prior.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	v, err := validate.New(lib, cfg.Validator.ToValidateConfig(), validate.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}
	s, err := sampler.New(jp, nil, cfg.Sampler, sampler.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build sampler: %w", err)
	}
	return &Runtime{
		Config:    cfg,
		Library:   lib,
		Prior:     jp,
		Validator: v,
		Sampler:   s,
	}, nil
}
