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
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/exprprior/services/prior/constraints"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
	"github.com/AleutianAI/exprprior/services/prior/program"
)

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	lib, err := library.Standard([]string{"add", "mul", "sin", "cos", "exp", "log", "neg"}, 2, true)
	require.NoError(t, err)
	return lib
}

func testConstraints(t *testing.T, lib *library.Library) []constraints.Constraint {
	t.Helper()
	length, err := constraints.NewLength(lib, 4, 12)
	require.NoError(t, err)
	inverse, err := constraints.NewInverseUnary(lib)
	require.NoError(t, err)
	child, err := constraints.NewChild(lib, []string{"cos", "sin"}, []string{"sin", "cos"})
	require.NoError(t, err)
	return []constraints.Constraint{length, inverse, child}
}

// randomBatch grows rows by random admissible-by-arity tokens, keeping every
// row incomplete so it is a valid step input.
func randomBatch(t *testing.T, lib *library.Library, rows int, rng *rand.Rand) constraints.Batch {
	t.Helper()
	var b constraints.Batch
	for r := 0; r < rows; r++ {
		s := program.NewRowState(lib)
		steps := 1 + rng.IntN(10)
		for k := 0; k < steps; k++ {
			var tok int
			for {
				tok = rng.IntN(lib.L())
				if s.Dangling()-1+lib.Arity(tok) > 0 {
					break
				}
			}
			require.NoError(t, s.Append(tok))
		}
		b.Actions = append(b.Actions, s.Actions())
		b.Parent = append(b.Parent, s.AdjustedParent())
		b.Sibling = append(b.Sibling, s.SiblingInput())
		b.Dangling = append(b.Dangling, s.Dangling())
	}
	return b
}

func TestJointPrior_InitialForbidsTerminals(t *testing.T) {
	lib, err := library.Build([]library.TokenDef{
		{Name: "const", Constant: true},
		{Name: "x1"},
		{Name: "add", Arity: 2},
		{Name: "sin", Arity: 1, Trig: true},
	}, nil)
	require.NoError(t, err)

	jp, err := MakeJointPrior(lib, []ConstraintConfig{{Type: "length", Min: 4}})
	require.NoError(t, err)

	v, err := jp.InitialMask()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, v.Forbidden())
	assert.Equal(t, []int{2, 3}, v.Admissible())
}

func TestJointPrior_InverseChildForbidden(t *testing.T) {
	lib := testLibrary(t)
	jp, err := MakeJointPrior(lib, []ConstraintConfig{
		{Type: "child", Children: []string{"log"}, Parents: []string{"exp"}},
	})
	require.NoError(t, err)

	exp, _ := lib.Lookup("exp")
	logID, _ := lib.Lookup("log")
	v, err := jp.StepRow(constraints.Step{
		Actions:  []int{exp},
		Parent:   lib.ParentAdjust(exp),
		Sibling:  lib.EmptySibling(),
		Dangling: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{logID}, v.Forbidden())
}

func TestJointPrior_Commutative(t *testing.T) {
	lib := testLibrary(t)
	cs := testConstraints(t, lib)
	batch := randomBatch(t, lib, 200, rand.New(rand.NewPCG(1, 2)))

	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}}
	var ref *mask.Mask
	var refInit mask.Vector
	for _, order := range orders {
		perm := make([]constraints.Constraint, len(order))
		for i, k := range order {
			perm[i] = cs[k]
		}
		jp, err := NewJointPrior(lib, perm)
		require.NoError(t, err)

		m, err := jp.StepMask(context.Background(), batch)
		require.NoError(t, err)
		require.NoError(t, m.Validate())

		init, err := jp.InitialMask()
		require.NoError(t, err)

		if ref == nil {
			ref, refInit = m, init
			continue
		}
		assert.True(t, ref.Equal(m), "order %v", order)
		assert.Equal(t, refInit, init, "order %v", order)
	}
}

func TestJointPrior_EqualsSumOfContributions(t *testing.T) {
	lib := testLibrary(t)
	cs := testConstraints(t, lib)
	batch := randomBatch(t, lib, 50, rand.New(rand.NewPCG(7, 7)))

	jp, err := NewJointPrior(lib, cs)
	require.NoError(t, err)
	got, err := jp.StepMask(context.Background(), batch)
	require.NoError(t, err)

	want := mask.New(batch.Len(), lib.L())
	for _, c := range cs {
		// Adding the same contribution twice must stay in {0, -inf}.
		for k := 0; k < 2; k++ {
			m, err := constraints.StepMask(c, batch)
			require.NoError(t, err)
			require.NoError(t, want.Add(m))
		}
	}
	require.NoError(t, want.Validate())
	assert.True(t, want.Equal(got))
}

func TestJointPrior_ParallelMatchesSequential(t *testing.T) {
	lib := testLibrary(t)
	cs := testConstraints(t, lib)
	batch := randomBatch(t, lib, 1000, rand.New(rand.NewPCG(3, 4)))

	seq, err := NewJointPrior(lib, cs)
	require.NoError(t, err)
	par, err := NewJointPrior(lib, cs, WithParallel(ParallelConfig{
		Enabled:          true,
		MaxConcurrency:   4,
		MinRowsPerWorker: 16,
	}))
	require.NoError(t, err)
	assert.Equal(t, 4, par.workers(batch.Len()))
	assert.Equal(t, 1, seq.workers(batch.Len()))

	a, err := seq.StepMask(context.Background(), batch)
	require.NoError(t, err)
	b, err := par.StepMask(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestJointPrior_Cancelled(t *testing.T) {
	lib := testLibrary(t)
	jp, err := NewJointPrior(lib, testConstraints(t, lib))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = jp.StepMask(ctx, randomBatch(t, lib, 4, rand.New(rand.NewPCG(1, 1))))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJointPrior_DeadRowsReturned(t *testing.T) {
	lib, err := library.Build([]library.TokenDef{
		{Name: "x1"},
		{Name: "sin", Arity: 1, Trig: true},
	}, nil)
	require.NoError(t, err)

	jp, err := MakeJointPrior(lib, []ConstraintConfig{
		{Type: "length", Min: 4},
		{Type: "child", Children: []string{"sin"}, Parents: []string{"sin"}},
	})
	require.NoError(t, err)

	m, err := jp.StepMask(context.Background(), constraints.Batch{
		Actions:  [][]int{{1}},
		Parent:   []int{lib.ParentAdjust(1)},
		Sibling:  []int{lib.EmptySibling()},
		Dangling: []int{1},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, m.DeadRows())
}

func TestJointPrior_EmptyIsUnconstrained(t *testing.T) {
	lib := testLibrary(t)
	jp, err := NewJointPrior(lib, nil)
	require.NoError(t, err)

	v, err := jp.InitialMask()
	require.NoError(t, err)
	assert.Empty(t, v.Forbidden())

	m, err := jp.StepMask(context.Background(), randomBatch(t, lib, 5, rand.New(rand.NewPCG(5, 5))))
	require.NoError(t, err)
	for i := 0; i < m.Rows(); i++ {
		assert.Empty(t, m.ForbiddenTokens(i))
	}
}

func TestNewJointPrior_Errors(t *testing.T) {
	lib := testLibrary(t)
	other := testLibrary(t)
	foreign, err := constraints.NewLength(other, 2, 0)
	require.NoError(t, err)

	_, err = NewJointPrior(nil, nil)
	assert.ErrorIs(t, err, library.ErrConfiguration)

	_, err = NewJointPrior(lib, []constraints.Constraint{foreign})
	assert.ErrorIs(t, err, library.ErrConfiguration)
	assert.Contains(t, err.Error(), "different library")

	_, err = NewJointPrior(lib, []constraints.Constraint{nil})
	assert.ErrorIs(t, err, library.ErrConfiguration)
}

func TestMakeJointPrior(t *testing.T) {
	lib := testLibrary(t)

	t.Run("all types resolve", func(t *testing.T) {
		jp, err := MakeJointPrior(lib, []ConstraintConfig{
			{Type: "length", Min: 2, Max: 20},
			{Type: "Child", Children: []string{"log"}, Parents: []string{"exp"}},
			{Type: "inverse"},
			{Type: "repeat", Tokens: []string{"sin"}, Max: 2},
			{Type: " descendant ", Descendants: []string{"cos"}, Ancestors: []string{"sin"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"length", "child", "inverse", "repeat", "descendant"}, jp.Names())

		_, err = jp.InitialMask()
		assert.ErrorIs(t, err, constraints.ErrNotSupported)
	})

	t.Run("unknown type names the type", func(t *testing.T) {
		_, err := MakeJointPrior(lib, []ConstraintConfig{{Type: "length", Min: 3}, {Type: "arity"}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownConstraint)
		assert.ErrorIs(t, err, library.ErrConfiguration)
		assert.Contains(t, err.Error(), `"arity"`)
		assert.Contains(t, err.Error(), "constraint 1")
	})

	t.Run("constructor errors surface", func(t *testing.T) {
		_, err := MakeJointPrior(lib, []ConstraintConfig{{Type: "length"}})
		assert.ErrorIs(t, err, library.ErrConfiguration)

		_, err = MakeJointPrior(lib, []ConstraintConfig{{Type: "child", Children: []string{"gamma"}, Parents: []string{"exp"}}})
		assert.ErrorIs(t, err, library.ErrUnknownToken)

		var ce *constraints.ConstraintError
		_, err = MakeJointPrior(lib, []ConstraintConfig{{Type: "child", Children: []string{"log"}, Parents: []string{"x1"}}})
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "child", ce.Constraint)
	})

	t.Run("not supported at step time", func(t *testing.T) {
		jp, err := MakeJointPrior(lib, []ConstraintConfig{{Type: "repeat", Tokens: []string{"sin"}, Min: 1}})
		require.NoError(t, err)
		_, err = jp.StepMask(context.Background(), randomBatch(t, lib, 3, rand.New(rand.NewPCG(9, 9))))
		assert.ErrorIs(t, err, constraints.ErrNotSupported)
	})
}

func TestConstraintTypes(t *testing.T) {
	assert.Equal(t, []string{"child", "descendant", "inverse", "length", "repeat"}, ConstraintTypes())
}
