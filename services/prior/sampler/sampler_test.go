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
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/exprprior/services/prior"
	"github.com/AleutianAI/exprprior/services/prior/constraints"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
	"github.com/AleutianAI/exprprior/services/prior/program"
	"github.com/AleutianAI/exprprior/services/prior/validate"
)

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	lib, err := library.Standard([]string{"add", "mul", "sin", "cos", "exp", "log", "neg", "sqrt", "n2"}, 2, true)
	require.NoError(t, err)
	return lib
}

func samplerConfig(maxLength int) prior.SamplerConfig {
	return prior.SamplerConfig{BatchSize: 64, MaxLength: maxLength, Seed: 11, MaxSeedAttempts: 1000}
}

func newSampler(t *testing.T, lib *library.Library, cfgs []prior.ConstraintConfig, maxLength int, policy Policy) *Sampler {
	t.Helper()
	jp, err := prior.MakeJointPrior(lib, cfgs)
	require.NoError(t, err)
	s, err := New(jp, policy, samplerConfig(maxLength))
	require.NoError(t, err)
	return s
}

// edges returns every (parent, child, firstChild) edge of p.
func edges(t *testing.T, p program.Program) [][3]int {
	t.Helper()
	s := program.NewRowState(p.Library())
	var out [][3]int
	for _, tok := range p.Tokens() {
		if parent := s.Parent(); parent >= 0 {
			first := 0
			if s.Sibling() < 0 {
				first = 1
			}
			out = append(out, [3]int{parent, tok, first})
		}
		require.NoError(t, s.Append(tok))
	}
	return out
}

func TestSample_Properties(t *testing.T) {
	lib := testLibrary(t)
	const minLen, maxLen = 4, 12
	s := newSampler(t, lib, []prior.ConstraintConfig{
		{Type: "length", Min: minLen, Max: maxLen},
		{Type: "inverse"},
		{Type: "child", Children: []string{"cos", "sin"}, Parents: []string{"sin", "cos"}},
	}, maxLen, nil)

	sinID, _ := lib.Lookup("sin")
	cosID, _ := lib.Lookup("cos")
	inverses := lib.InverseTokens()

	for seed := uint64(0); seed < 5; seed++ {
		res, err := s.Sample(context.Background(), 200, rand.New(rand.NewPCG(seed, 99)))
		require.NoError(t, err)
		require.Zero(t, res.Truncated)
		require.Len(t, res.Programs, 200)

		for _, p := range res.Programs {
			// Dangling trajectory: positive until the last token, then 0.
			d, err := program.DanglingAt(lib, p.Tokens())
			require.NoError(t, err)
			for k, v := range d {
				if k == len(d)-1 {
					assert.Equal(t, 0, v, "%s", p)
				} else {
					assert.Positive(t, v, "%s", p)
				}
			}

			assert.GreaterOrEqual(t, p.Len(), minLen, "%s", p)
			assert.LessOrEqual(t, p.Len(), maxLen, "%s", p)

			for _, e := range edges(t, p) {
				parent, child, first := e[0], e[1], e[2]
				assert.False(t, parent == sinID && child == cosID, "cos under sin in %s", p)
				assert.False(t, parent == cosID && child == sinID, "sin under cos in %s", p)
				if inv, ok := inverses[parent]; ok && lib.Arity(parent) == 1 && first == 1 {
					assert.NotEqual(t, inv, child, "inverse pair in %s", p)
				}
			}
		}
	}
}

func TestSample_Deterministic(t *testing.T) {
	lib := testLibrary(t)
	cfgs := []prior.ConstraintConfig{{Type: "length", Min: 3, Max: 10}}
	a := newSampler(t, lib, cfgs, 10, nil)
	b := newSampler(t, lib, cfgs, 10, nil)

	ra, err := a.Sample(context.Background(), 50, nil)
	require.NoError(t, err)
	rb, err := b.Sample(context.Background(), 50, nil)
	require.NoError(t, err)

	require.Len(t, rb.Programs, len(ra.Programs))
	for i := range ra.Programs {
		assert.Equal(t, ra.Programs[i].Tokens(), rb.Programs[i].Tokens())
	}
}

func TestSample_InitialMaskHonored(t *testing.T) {
	lib := testLibrary(t)
	s := newSampler(t, lib, []prior.ConstraintConfig{{Type: "length", Min: 2}}, 64, nil)
	res, err := s.Sample(context.Background(), 100, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	for _, p := range res.Programs {
		assert.Positive(t, lib.Arity(p.Tokens()[0]), "%s starts with a terminal", p)
	}
}

func TestSample_Truncation(t *testing.T) {
	lib := testLibrary(t)
	policy, err := NewStaticPolicy(lib, map[string]float32{"add": 10, "mul": 10})
	require.NoError(t, err)
	s := newSampler(t, lib, nil, 8, policy)

	res, err := s.Sample(context.Background(), 20, rand.New(rand.NewPCG(2, 2)))
	require.NoError(t, err)
	assert.Positive(t, res.Truncated)
	assert.Equal(t, 20, res.Truncated+len(res.Programs))

	_, err = s.Generator(rand.New(rand.NewPCG(2, 2)))(context.Background())
	if err != nil {
		assert.ErrorIs(t, err, ErrTruncated)
	}
}

func TestSample_NoAdmissibleToken(t *testing.T) {
	lib, err := library.Build([]library.TokenDef{
		{Name: "x1"},
		{Name: "sin", Arity: 1, Trig: true},
	}, nil)
	require.NoError(t, err)
	s := newSampler(t, lib, []prior.ConstraintConfig{
		{Type: "length", Min: 4},
		{Type: "child", Children: []string{"sin"}, Parents: []string{"sin"}},
	}, 10, nil)

	_, err = s.Sample(context.Background(), 3, nil)
	assert.ErrorIs(t, err, ErrNoAdmissibleToken)
}

func TestSample_NotSupported(t *testing.T) {
	lib := testLibrary(t)
	s := newSampler(t, lib, []prior.ConstraintConfig{{Type: "descendant", Descendants: []string{"sin"}, Ancestors: []string{"exp"}}}, 10, nil)
	_, err := s.Sample(context.Background(), 3, nil)
	assert.ErrorIs(t, err, constraints.ErrNotSupported)
}

func TestSample_Cancelled(t *testing.T) {
	lib := testLibrary(t)
	s := newSampler(t, lib, []prior.ConstraintConfig{{Type: "length", Min: 4, Max: 10}}, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Sample(ctx, 3, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeedPopulation(t *testing.T) {
	lib := testLibrary(t)
	s := newSampler(t, lib, []prior.ConstraintConfig{
		{Type: "length", Min: 3, Max: 10},
		{Type: "inverse"},
	}, 10, nil)
	v, err := validate.New(lib, validate.Config{})
	require.NoError(t, err)

	one, err := s.SeedPopulation(context.Background(), v, 30, 1)
	require.NoError(t, err)
	four, err := s.SeedPopulation(context.Background(), v, 30, 4)
	require.NoError(t, err)

	require.Len(t, one, 30)
	for i := range one {
		assert.Nil(t, v.CheckStructure(one[i]), "%s", one[i])
		assert.True(t, one[i].Equal(four[i]), "individual %d differs across worker counts", i)
	}
}

func TestNew_Errors(t *testing.T) {
	lib := testLibrary(t)
	jp, err := prior.NewJointPrior(lib, nil)
	require.NoError(t, err)

	_, err = New(nil, nil, samplerConfig(10))
	assert.ErrorIs(t, err, library.ErrConfiguration)
	_, err = New(jp, nil, samplerConfig(0))
	assert.ErrorIs(t, err, library.ErrConfiguration)

	s, err := New(jp, nil, samplerConfig(10))
	require.NoError(t, err)
	_, err = s.Sample(context.Background(), 0, nil)
	assert.ErrorIs(t, err, library.ErrConfiguration)

	_, err = NewStaticPolicy(lib, map[string]float32{"gamma": 1})
	assert.ErrorIs(t, err, library.ErrUnknownToken)
}

func TestChoose(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	inf := float32(math.Inf(-1))

	_, ok := choose([]float32{inf, inf}, rng)
	assert.False(t, ok)

	for k := 0; k < 50; k++ {
		j, ok := choose([]float32{inf, 3, inf}, rng)
		require.True(t, ok)
		assert.Equal(t, 1, j)
	}

	counts := make([]int, 3)
	for k := 0; k < 3000; k++ {
		j, ok := choose([]float32{0, 0, mask.Forbidden}, rng)
		require.True(t, ok)
		counts[j]++
	}
	assert.Zero(t, counts[2])
	assert.InDelta(t, 1500, counts[0], 200)
}
