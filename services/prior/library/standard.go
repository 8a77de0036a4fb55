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
	"fmt"
)

// ConstName is the name of the constant placeholder token.
const ConstName = "const"

var trigNames = []string{"sin", "cos", "tan", "csc", "sec", "cot"}

// functionTable is the built-in set of operators known to Standard.
var functionTable = map[string]TokenDef{
	"add":    {Name: "add", Arity: 2},
	"sub":    {Name: "sub", Arity: 2},
	"mul":    {Name: "mul", Arity: 2},
	"div":    {Name: "div", Arity: 2},
	"pow":    {Name: "pow", Arity: 2},
	"sin":    {Name: "sin", Arity: 1, Trig: true},
	"cos":    {Name: "cos", Arity: 1, Trig: true},
	"tan":    {Name: "tan", Arity: 1, Trig: true},
	"csc":    {Name: "csc", Arity: 1, Trig: true},
	"sec":    {Name: "sec", Arity: 1, Trig: true},
	"cot":    {Name: "cot", Arity: 1, Trig: true},
	"arcsin": {Name: "arcsin", Arity: 1},
	"arccos": {Name: "arccos", Arity: 1},
	"arctan": {Name: "arctan", Arity: 1},
	"arccsc": {Name: "arccsc", Arity: 1},
	"arcsec": {Name: "arcsec", Arity: 1},
	"arccot": {Name: "arccot", Arity: 1},
	"exp":    {Name: "exp", Arity: 1},
	"log":    {Name: "log", Arity: 1},
	"sqrt":   {Name: "sqrt", Arity: 1},
	"n2":     {Name: "n2", Arity: 1},
	"n3":     {Name: "n3", Arity: 1},
	"neg":    {Name: "neg", Arity: 1},
	"inv":    {Name: "inv", Arity: 1},
	"abs":    {Name: "abs", Arity: 1},
	"tanh":   {Name: "tanh", Arity: 1},
}

// DefaultInversePairs returns the built-in cancelling pairs.
func DefaultInversePairs() []InversePair {
	pairs := []InversePair{
		{A: "exp", B: "log"},
		{A: "neg", B: "neg"},
		{A: "inv", B: "inv"},
		{A: "sqrt", B: "n2"},
	}
	for _, t := range trigNames {
		pairs = append(pairs, InversePair{A: t, B: "arc" + t})
	}
	return pairs
}

// KnownFunction reports whether name is in the built-in function table.
func KnownFunction(name string) bool {
	_, ok := functionTable[name]
	return ok
}

// Standard builds a Library from built-in function names.
//
// Description:
//
//	Tokens are ordered: functions in the given order, then input variables
//	x1..xN, then the constant placeholder when withConst is set. Inverse
//	pairs from DefaultInversePairs are registered when both members are
//	present.
//
// Inputs:
//   - functionSet: Names from the built-in table (e.g. "add", "sin").
//   - nInputVar: Number of input variables, at least 1.
//   - withConst: Include the constant placeholder.
//
// Outputs:
//   - *Library: The library.
//   - error: Wraps ErrConfiguration for unknown functions or nInputVar < 1.
func Standard(functionSet []string, nInputVar int, withConst bool) (*Library, error) {
	if nInputVar < 1 {
		return nil, fmt.Errorf("%w: n_input_var must be at least 1, got %d", ErrConfiguration, nInputVar)
	}

	defs := make([]TokenDef, 0, len(functionSet)+nInputVar+1)
	for _, name := range functionSet {
		def, ok := functionTable[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown function %q", ErrConfiguration, name)
		}
		defs = append(defs, def)
	}
	for i := 1; i <= nInputVar; i++ {
		defs = append(defs, TokenDef{Name: fmt.Sprintf("x%d", i)})
	}
	if withConst {
		defs = append(defs, TokenDef{Name: ConstName, Constant: true})
	}

	return Build(defs, presentPairs(defs, DefaultInversePairs()))
}

// presentPairs keeps the pairs whose members are both defined.
func presentPairs(defs []TokenDef, pairs []InversePair) []InversePair {
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Name] = true
	}
	var out []InversePair
	for _, p := range pairs {
		if names[p.A] && names[p.B] {
			out = append(out, p)
		}
	}
	return out
}
