// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/exprprior/services/prior/library"
)

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	lib, err := library.Standard([]string{"add", "mul", "sin", "cos", "exp", "log"}, 2, true)
	require.NoError(t, err)
	return lib
}

func ids(t *testing.T, lib *library.Library, names ...string) []int {
	t.Helper()
	out, err := lib.Actionize(names)
	require.NoError(t, err)
	return out
}

func TestDanglingAt(t *testing.T) {
	lib := testLibrary(t)

	t.Run("running counts", func(t *testing.T) {
		counts, err := DanglingAt(lib, ids(t, lib, "add", "x1", "sin", "x2"))
		require.NoError(t, err)
		assert.Equal(t, []int{2, 1, 1, 0}, counts)
	})

	t.Run("empty sequence", func(t *testing.T) {
		counts, err := DanglingAt(lib, nil)
		require.NoError(t, err)
		assert.Empty(t, counts)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := DanglingAt(lib, []int{0, 99})
		assert.ErrorIs(t, err, library.ErrUnknownToken)
	})
}

func TestCheckComplete(t *testing.T) {
	lib := testLibrary(t)

	tests := []struct {
		name    string
		tokens  []string
		wantErr error
	}{
		{"single leaf", []string{"x1"}, nil},
		{"binary tree", []string{"add", "x1", "mul", "x2", "const"}, nil},
		{"unary chain", []string{"sin", "exp", "x1"}, nil},
		{"empty", nil, ErrIncomplete},
		{"open slots", []string{"add", "x1"}, ErrIncomplete},
		{"closes early", []string{"x1", "x2"}, ErrInvariant},
		{"closes early then continues", []string{"sin", "x1", "add", "x1", "x2"}, ErrInvariant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckComplete(lib, ids(t, lib, tt.tokens...))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRowState(t *testing.T) {
	lib := testLibrary(t)
	add, _ := lib.Lookup("add")
	sin, _ := lib.Lookup("sin")
	x1, _ := lib.Lookup("x1")
	x2, _ := lib.Lookup("x2")

	t.Run("fresh row", func(t *testing.T) {
		s := NewRowState(lib)
		assert.Equal(t, 1, s.Dangling())
		assert.Equal(t, -1, s.Parent())
		assert.Equal(t, -1, s.Sibling())
		assert.Equal(t, lib.EmptyParent(), s.AdjustedParent())
		assert.Equal(t, lib.EmptySibling(), s.SiblingInput())
		assert.False(t, s.Done())
	})

	t.Run("tracks parent and sibling", func(t *testing.T) {
		s := NewRowState(lib)

		require.NoError(t, s.Append(add))
		assert.Equal(t, add, s.Parent())
		assert.Equal(t, -1, s.Sibling())
		assert.Equal(t, lib.ParentAdjust(add), s.AdjustedParent())
		assert.Equal(t, 2, s.Dangling())

		require.NoError(t, s.Append(x1))
		assert.Equal(t, add, s.Parent())
		assert.Equal(t, x1, s.Sibling())
		assert.Equal(t, 1, s.Dangling())

		require.NoError(t, s.Append(sin))
		assert.Equal(t, sin, s.Parent())
		assert.Equal(t, -1, s.Sibling())
		assert.Equal(t, 1, s.Dangling())

		require.NoError(t, s.Append(x2))
		assert.True(t, s.Done())
		assert.Equal(t, -1, s.Parent())
		assert.Equal(t, []int{add, x1, sin, x2}, s.Actions())

		p, err := s.Program()
		require.NoError(t, err)
		assert.Equal(t, "add(x1,sin(x2))", p.String())
	})

	t.Run("append after completion is an invariant violation", func(t *testing.T) {
		s := NewRowState(lib)
		require.NoError(t, s.Append(x1))
		err := s.Append(x2)
		assert.ErrorIs(t, err, ErrInvariant)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("unknown token", func(t *testing.T) {
		s := NewRowState(lib)
		assert.ErrorIs(t, s.Append(-1), library.ErrUnknownToken)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("matches DanglingAt", func(t *testing.T) {
		seq := ids(t, lib, "mul", "add", "x1", "const", "cos", "x2")
		want, err := DanglingAt(lib, seq)
		require.NoError(t, err)

		s := NewRowState(lib)
		for k, tok := range seq {
			require.NoError(t, s.Append(tok))
			assert.Equal(t, want[k], s.Dangling(), "position %d", k)
		}
	})
}

func TestProgram(t *testing.T) {
	lib := testLibrary(t)

	t.Run("from names", func(t *testing.T) {
		p, err := FromNames(lib, []string{"mul", "add", "x1", "const", "cos", "x2"})
		require.NoError(t, err)
		assert.Equal(t, 6, p.Len())
		assert.Equal(t, 2, p.Depth())
		assert.Equal(t, "mul(add(x1,const),cos(x2))", p.String())
		assert.Equal(t, []string{"mul", "add", "x1", "const", "cos", "x2"}, p.Names())
	})

	t.Run("depth", func(t *testing.T) {
		tests := []struct {
			names []string
			depth int
		}{
			{[]string{"x1"}, 0},
			{[]string{"sin", "x1"}, 1},
			{[]string{"sin", "cos", "exp", "x1"}, 3},
			{[]string{"add", "sin", "exp", "x1", "x2"}, 3},
			{[]string{"add", "x2", "sin", "exp", "x1"}, 3},
		}
		for _, tt := range tests {
			p, err := FromNames(lib, tt.names)
			require.NoError(t, err)
			assert.Equal(t, tt.depth, p.Depth(), "%v", tt.names)
		}
	})

	t.Run("rejects incomplete", func(t *testing.T) {
		_, err := FromNames(lib, []string{"add", "x1"})
		assert.ErrorIs(t, err, ErrIncomplete)
	})

	t.Run("clone is independent", func(t *testing.T) {
		p, err := FromNames(lib, []string{"sin", "x1"})
		require.NoError(t, err)
		c := p.Clone()
		assert.True(t, p.Equal(c))

		toks := c.Tokens()
		toks[0] = 0
		assert.True(t, p.Equal(c))
	})

	t.Run("zero value", func(t *testing.T) {
		var p Program
		assert.True(t, p.IsZero())
		assert.Equal(t, "<nil>", p.String())
	})
}
