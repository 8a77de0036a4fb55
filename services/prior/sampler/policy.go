// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sampler

import (
	"fmt"

	"github.com/AleutianAI/exprprior/services/prior/constraints"
	"github.com/AleutianAI/exprprior/services/prior/library"
)

// Policy scores the candidate tokens of one row. The sampler adds the prior
// mask to the scores and samples from the softmax of what remains.
//
// Implementations must be safe for concurrent use.
type Policy interface {
	// Logits writes unnormalized scores for the row's next token into dst,
	// which has one entry per library token. For the first token
	// step.Actions is empty.
	Logits(step constraints.Step, dst []float32)
}

// UniformPolicy gives every token the same score.
type UniformPolicy struct{}

// Logits sets every score to 0.
func (UniformPolicy) Logits(_ constraints.Step, dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}

// StaticPolicy uses fixed per-token scores regardless of state.
type StaticPolicy struct {
	scores []float32
}

// NewStaticPolicy creates a StaticPolicy from scores keyed by token name.
// Tokens that are not named score 0.
func NewStaticPolicy(lib *library.Library, byName map[string]float32) (*StaticPolicy, error) {
	scores := make([]float32, lib.L())
	for name, s := range byName {
		id, err := lib.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("static policy: %w", err)
		}
		scores[id] = s
	}
	return &StaticPolicy{scores: scores}, nil
}

// Logits copies the fixed scores.
func (p *StaticPolicy) Logits(_ constraints.Step, dst []float32) {
	copy(dst, p.scores)
}
