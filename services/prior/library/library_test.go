// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package library

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallDefs() []TokenDef {
	return []TokenDef{
		{Name: "const", Constant: true},
		{Name: "x1"},
		{Name: "add", Arity: 2},
		{Name: "sin", Arity: 1, Trig: true},
	}
}

func TestBuild(t *testing.T) {
	t.Run("derives tag sets", func(t *testing.T) {
		lib, err := Build(smallDefs(), nil)
		require.NoError(t, err)

		assert.Equal(t, 4, lib.L())
		assert.Equal(t, []int{0, 1}, lib.TerminalTokens())
		assert.Equal(t, []int{3}, lib.UnaryTokens())
		assert.Equal(t, []int{2}, lib.BinaryTokens())
		assert.Equal(t, []int{3}, lib.TrigTokens())

		c, ok := lib.ConstToken()
		assert.True(t, ok)
		assert.Equal(t, 0, c)
	})

	t.Run("parent adjust numbers non-terminals", func(t *testing.T) {
		lib, err := Build(smallDefs(), nil)
		require.NoError(t, err)

		assert.Equal(t, -1, lib.ParentAdjust(0))
		assert.Equal(t, -1, lib.ParentAdjust(1))
		assert.Equal(t, 0, lib.ParentAdjust(2))
		assert.Equal(t, 1, lib.ParentAdjust(3))
		assert.Equal(t, 2, lib.EmptyParent())
		assert.Equal(t, 4, lib.EmptySibling())
	})

	t.Run("inverse pairs are symmetric", func(t *testing.T) {
		defs := []TokenDef{{Name: "exp", Arity: 1}, {Name: "log", Arity: 1}, {Name: "neg", Arity: 1}, {Name: "x1"}}
		lib, err := Build(defs, []InversePair{{A: "exp", B: "log"}, {A: "neg", B: "neg"}})
		require.NoError(t, err)

		inv, ok := lib.Inverse(0)
		require.True(t, ok)
		assert.Equal(t, 1, inv)
		inv, ok = lib.Inverse(1)
		require.True(t, ok)
		assert.Equal(t, 0, inv)
		inv, ok = lib.Inverse(2)
		require.True(t, ok)
		assert.Equal(t, 2, inv)
		_, ok = lib.Inverse(3)
		assert.False(t, ok)

		assert.Equal(t, map[int]int{0: 1, 1: 0, 2: 2}, lib.InverseTokens())
	})

	tests := []struct {
		name  string
		defs  []TokenDef
		pairs []InversePair
	}{
		{"empty", nil, nil},
		{"negative arity", []TokenDef{{Name: "bad", Arity: -1}}, nil},
		{"duplicate name", []TokenDef{{Name: "x1"}, {Name: "x1"}}, nil},
		{"invalid name", []TokenDef{{Name: "1x"}}, nil},
		{"unknown inverse member", smallDefs(), []InversePair{{A: "exp", B: "log"}}},
		{"conflicting inverse", []TokenDef{{Name: "a", Arity: 1}, {Name: "b", Arity: 1}, {Name: "c", Arity: 1}},
			[]InversePair{{A: "a", B: "b"}, {A: "a", B: "c"}}},
		{"non-terminal constant", []TokenDef{{Name: "c", Arity: 1, Constant: true}}, nil},
		{"two constants", []TokenDef{{Name: "c1", Constant: true}, {Name: "c2", Constant: true}}, nil},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := Build(tt.defs, tt.pairs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
		})
	}
}

func TestLibrary_Actionize(t *testing.T) {
	lib, err := Build(smallDefs(), nil)
	require.NoError(t, err)

	ids, err := lib.Actionize([]string{"add", "x1", "sin"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 3}, ids)
	assert.Equal(t, []string{"add", "x1", "sin"}, lib.Names(ids))

	_, err = lib.Actionize([]string{"add", "cos"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.Contains(t, err.Error(), "cos")
}

func TestLibrary_TokenAccessors(t *testing.T) {
	lib, err := Build(smallDefs(), nil)
	require.NoError(t, err)

	tok, err := lib.Token(3)
	require.NoError(t, err)
	assert.Equal(t, "sin", tok.Name)
	assert.True(t, tok.IsUnary())
	assert.True(t, tok.Trig)

	_, err = lib.Token(4)
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.Equal(t, "", lib.Name(-1))

	// Returned slices are copies.
	terms := lib.TerminalTokens()
	terms[0] = 99
	assert.Equal(t, []int{0, 1}, lib.TerminalTokens())
}

func TestStandard(t *testing.T) {
	t.Run("orders functions, inputs, const", func(t *testing.T) {
		lib, err := Standard([]string{"add", "exp", "log", "sin", "arcsin"}, 2, true)
		require.NoError(t, err)

		assert.Equal(t, []string{"add", "exp", "log", "sin", "arcsin", "x1", "x2", "const"},
			lib.Names([]int{0, 1, 2, 3, 4, 5, 6, 7}))
		c, ok := lib.ConstToken()
		require.True(t, ok)
		assert.Equal(t, 7, c)
	})

	t.Run("registers only present inverse pairs", func(t *testing.T) {
		lib, err := Standard([]string{"exp", "log", "sqrt", "sin"}, 1, false)
		require.NoError(t, err)

		exp, _ := lib.Lookup("exp")
		log, _ := lib.Lookup("log")
		inv, ok := lib.Inverse(exp)
		require.True(t, ok)
		assert.Equal(t, log, inv)

		sqrt, _ := lib.Lookup("sqrt")
		_, ok = lib.Inverse(sqrt)
		assert.False(t, ok, "n2 is absent so sqrt has no inverse")

		sin, _ := lib.Lookup("sin")
		_, ok = lib.Inverse(sin)
		assert.False(t, ok)
	})

	t.Run("rejects unknown function", func(t *testing.T) {
		_, err := Standard([]string{"add", "gamma"}, 1, false)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("rejects zero inputs", func(t *testing.T) {
		_, err := Standard([]string{"add"}, 0, false)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}
