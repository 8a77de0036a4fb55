// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package library provides the immutable token vocabulary used by the prior
// engine.
//
// A Library is built once per run and shared read-only by every constraint,
// the joint prior and the reactive validator. Token ids are the indices into
// the Library, so L (the vocabulary size) is also the width of every mask.
//
// Thread Safety:
//
//	A Library is never mutated after Build returns and is safe for
//	concurrent use.
package library

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/exprprior/pkg/validation"
)

// Package-level error definitions.
var (
	// ErrConfiguration is returned when a structural configuration is invalid.
	// Constraint constructors and the joint prior factory wrap it as well.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownToken is returned when a token name or id is not in the Library.
	ErrUnknownToken = errors.New("unknown token")
)

// Token is a single symbol of the expression language.
type Token struct {
	// ID is the index of the token in its Library.
	ID int

	// Name is the display name, unique within a Library.
	Name string

	// Arity is the number of children. Zero marks a terminal.
	Arity int

	// Trig marks trigonometric operators.
	Trig bool

	// Constant marks the constant placeholder leaf.
	Constant bool
}

// IsTerminal reports whether the token is a leaf.
func (t Token) IsTerminal() bool { return t.Arity == 0 }

// IsUnary reports whether the token takes exactly one child.
func (t Token) IsUnary() bool { return t.Arity == 1 }

// IsBinary reports whether the token takes exactly two children.
func (t Token) IsBinary() bool { return t.Arity == 2 }

func (t Token) String() string { return t.Name }

// TokenDef describes a token before it is assigned an id.
type TokenDef struct {
	Name     string `json:"name" yaml:"name"`
	Arity    int    `json:"arity" yaml:"arity"`
	Trig     bool   `json:"trig,omitempty" yaml:"trig,omitempty"`
	Constant bool   `json:"constant,omitempty" yaml:"constant,omitempty"`
}

// InversePair names two tokens that cancel when applied in sequence.
type InversePair struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
}

// Library is an ordered, index-addressable set of Tokens with cached
// derived sets.
type Library struct {
	tokens []Token
	byName map[string]int

	terminals []int
	unaries   []int
	binaries  []int
	trigs     []int
	constID   int

	// inverse[t] is the functional inverse of t, or -1.
	inverse []int

	// parentAdjust[t] is the compact parent index of a non-terminal t, or -1.
	parentAdjust []int
	nParents     int
}

// Build creates a Library from token definitions and inverse pairs.
//
// Description:
//
//	Assigns ids in definition order, derives the tag sets and the compact
//	parent index, and registers every inverse pair in both directions.
//
// Inputs:
//   - defs: Token definitions. Names must be unique and arities non-negative.
//   - inversePairs: Pairs of token names that cancel each other.
//
// Outputs:
//   - *Library: The immutable library.
//   - error: Wraps ErrConfiguration on invalid definitions or unknown pair members.
func Build(defs []TokenDef, inversePairs []InversePair) (*Library, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: library has no tokens", ErrConfiguration)
	}

	lib := &Library{
		tokens:       make([]Token, 0, len(defs)),
		byName:       make(map[string]int, len(defs)),
		constID:      -1,
		inverse:      make([]int, len(defs)),
		parentAdjust: make([]int, len(defs)),
	}

	for i, d := range defs {
		if err := validation.ValidateTokenName(d.Name); err != nil {
			return nil, fmt.Errorf("%w: token %d: %v", ErrConfiguration, i, err)
		}
		if d.Arity < 0 {
			return nil, fmt.Errorf("%w: token %q has negative arity %d", ErrConfiguration, d.Name, d.Arity)
		}
		if _, dup := lib.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate token %q", ErrConfiguration, d.Name)
		}
		if d.Constant {
			if d.Arity != 0 {
				return nil, fmt.Errorf("%w: constant token %q must be terminal", ErrConfiguration, d.Name)
			}
			if lib.constID >= 0 {
				return nil, fmt.Errorf("%w: more than one constant token (%q, %q)",
					ErrConfiguration, lib.tokens[lib.constID].Name, d.Name)
			}
			lib.constID = i
		}

		tok := Token{ID: i, Name: d.Name, Arity: d.Arity, Trig: d.Trig, Constant: d.Constant}
		lib.tokens = append(lib.tokens, tok)
		lib.byName[d.Name] = i
		lib.inverse[i] = -1
		lib.parentAdjust[i] = -1

		switch {
		case tok.IsTerminal():
			lib.terminals = append(lib.terminals, i)
		case tok.IsUnary():
			lib.unaries = append(lib.unaries, i)
		case tok.IsBinary():
			lib.binaries = append(lib.binaries, i)
		}
		if tok.Trig {
			lib.trigs = append(lib.trigs, i)
		}
		if !tok.IsTerminal() {
			lib.parentAdjust[i] = lib.nParents
			lib.nParents++
		}
	}

	for _, p := range inversePairs {
		a, okA := lib.byName[p.A]
		b, okB := lib.byName[p.B]
		if !okA || !okB {
			return nil, fmt.Errorf("%w: inverse pair (%s, %s) references an unknown token", ErrConfiguration, p.A, p.B)
		}
		if prev := lib.inverse[a]; prev >= 0 && prev != b {
			return nil, fmt.Errorf("%w: token %q already has inverse %q", ErrConfiguration, p.A, lib.tokens[prev].Name)
		}
		if prev := lib.inverse[b]; prev >= 0 && prev != a {
			return nil, fmt.Errorf("%w: token %q already has inverse %q", ErrConfiguration, p.B, lib.tokens[prev].Name)
		}
		lib.inverse[a] = b
		lib.inverse[b] = a
	}

	return lib, nil
}

// L returns the vocabulary size.
func (l *Library) L() int { return len(l.tokens) }

// Token returns the token with the given id.
func (l *Library) Token(id int) (Token, error) {
	if id < 0 || id >= len(l.tokens) {
		return Token{}, fmt.Errorf("%w: id %d", ErrUnknownToken, id)
	}
	return l.tokens[id], nil
}

// Tokens returns a copy of all tokens in id order.
func (l *Library) Tokens() []Token {
	out := make([]Token, len(l.tokens))
	copy(out, l.tokens)
	return out
}

// Name returns the name of token id, or "" when id is out of range.
func (l *Library) Name(id int) string {
	if id < 0 || id >= len(l.tokens) {
		return ""
	}
	return l.tokens[id].Name
}

// Arity returns the arity of token id. The id must be valid.
func (l *Library) Arity(id int) int { return l.tokens[id].Arity }

// Valid reports whether id addresses a token of this Library.
func (l *Library) Valid(id int) bool { return id >= 0 && id < len(l.tokens) }

// Lookup returns the id of the named token.
func (l *Library) Lookup(name string) (int, error) {
	id, ok := l.byName[name]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownToken, name)
	}
	return id, nil
}

// Actionize maps token names to ids.
//
// Outputs:
//   - []int: Ids in input order.
//   - error: Wraps ErrUnknownToken naming the first unknown name.
func (l *Library) Actionize(names []string) ([]int, error) {
	ids := make([]int, len(names))
	for i, n := range names {
		id, err := l.Lookup(n)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Names maps ids back to names.
func (l *Library) Names(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = l.Name(id)
	}
	return out
}

// TerminalTokens returns the ids of all leaf tokens.
func (l *Library) TerminalTokens() []int { return clone(l.terminals) }

// UnaryTokens returns the ids of all arity-1 tokens.
func (l *Library) UnaryTokens() []int { return clone(l.unaries) }

// BinaryTokens returns the ids of all arity-2 tokens.
func (l *Library) BinaryTokens() []int { return clone(l.binaries) }

// TrigTokens returns the ids of all trigonometric tokens.
func (l *Library) TrigTokens() []int { return clone(l.trigs) }

// ConstToken returns the id of the constant placeholder, if any.
func (l *Library) ConstToken() (int, bool) { return l.constID, l.constID >= 0 }

// Inverse returns the functional inverse of token id, if one is registered.
func (l *Library) Inverse(id int) (int, bool) {
	if !l.Valid(id) || l.inverse[id] < 0 {
		return -1, false
	}
	return l.inverse[id], true
}

// InverseTokens returns the inverse mapping as id -> id. Both directions are present.
func (l *Library) InverseTokens() map[int]int {
	out := make(map[int]int)
	for t, inv := range l.inverse {
		if inv >= 0 {
			out[t] = inv
		}
	}
	return out
}

// ParentAdjust returns the compact parent index of token id.
//
// Only non-terminal tokens can be parents, so they are numbered 0..P-1 in id
// order. Terminals return -1.
func (l *Library) ParentAdjust(id int) int {
	if !l.Valid(id) {
		return -1
	}
	return l.parentAdjust[id]
}

// EmptyParent is the adjusted parent index used when the next slot is the root.
func (l *Library) EmptyParent() int { return l.nParents }

// EmptySibling is the sibling token id used when the next slot has no left sibling.
func (l *Library) EmptySibling() int { return len(l.tokens) }

func (l *Library) String() string {
	var b strings.Builder
	b.WriteString("Library[")
	for i, t := range l.tokens {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s/%d", t.Name, t.Arity)
	}
	b.WriteString("]")
	return b.String()
}

func clone(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
