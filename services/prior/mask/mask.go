// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mask implements the {0, -inf} logit-adjustment algebra.
//
// Every cell is either Allowed (0) or Forbidden (-inf). Combining masks is
// elementwise addition, which on this domain is a logical OR of the
// forbidden flags. The implementation never performs arithmetic on cells: it
// only ever stores one of the two constants, so no finite negative value can
// appear.
package mask

import (
	"errors"
	"fmt"
	"math"
)

// Cell values.
var (
	Allowed   float32 = 0
	Forbidden         = float32(math.Inf(-1))
)

// ErrShape is returned when masks of different shapes are combined.
var ErrShape = errors.New("mask shape mismatch")

// ErrValue is returned by Validate when a cell is neither 0 nor -inf.
var ErrValue = errors.New("mask cell outside {0, -inf}")

// IsForbidden reports whether v is the forbidden value.
func IsForbidden(v float32) bool { return math.IsInf(float64(v), -1) }

// Combine adds two cells under the {0, -inf} algebra.
func Combine(a, b float32) float32 {
	if IsForbidden(a) || IsForbidden(b) {
		return Forbidden
	}
	return Allowed
}

// Vector is a single mask row of width L, used for the step-0 mask.
type Vector []float32

// NewVector returns an all-allowed vector of width l.
func NewVector(l int) Vector { return make(Vector, l) }

// Forbid marks tokens as forbidden. Out-of-range ids are ignored.
func (v Vector) Forbid(tokens ...int) {
	forbidRow(v, tokens)
}

// Add combines o into v.
func (v Vector) Add(o Vector) error {
	if len(v) != len(o) {
		return fmt.Errorf("%w: %d vs %d", ErrShape, len(v), len(o))
	}
	addRow(v, o)
	return nil
}

// Admissible returns the ids of allowed tokens.
func (v Vector) Admissible() []int { return admissible(v) }

// Forbidden returns the ids of forbidden tokens.
func (v Vector) Forbidden() []int { return forbidden(v) }

// Validate checks that every cell is 0 or -inf.
func (v Vector) Validate() error { return validateRow(v, 0) }

// Mask is a dense (rows x L) mask stored row-major.
//
// Thread Safety: Distinct rows may be written concurrently. Whole-mask
// operations (Add, Validate) must not race with row writers.
type Mask struct {
	rows int
	cols int
	data []float32
}

// New returns an all-allowed mask.
func New(rows, cols int) *Mask {
	return &Mask{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// Rows returns the number of batch rows.
func (m *Mask) Rows() int { return m.rows }

// Cols returns the vocabulary width.
func (m *Mask) Cols() int { return m.cols }

// Row returns row i as a writable view.
func (m *Mask) Row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// At returns cell (i, j).
func (m *Mask) At(i, j int) float32 { return m.data[i*m.cols+j] }

// Forbid marks tokens as forbidden in row i.
func (m *Mask) Forbid(i int, tokens ...int) {
	forbidRow(m.Row(i), tokens)
}

// Add combines o into m.
func (m *Mask) Add(o *Mask) error {
	if m.rows != o.rows || m.cols != o.cols {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShape, m.rows, m.cols, o.rows, o.cols)
	}
	addRow(m.data, o.data)
	return nil
}

// Admissible returns the allowed token ids of row i.
func (m *Mask) Admissible(i int) []int { return admissible(m.Row(i)) }

// ForbiddenTokens returns the forbidden token ids of row i.
func (m *Mask) ForbiddenTokens(i int) []int { return forbidden(m.Row(i)) }

// DeadRows returns the rows in which every token is forbidden.
func (m *Mask) DeadRows() []int {
	var dead []int
	for i := 0; i < m.rows; i++ {
		if len(admissible(m.Row(i))) == 0 {
			dead = append(dead, i)
		}
	}
	return dead
}

// Equal reports whether two masks have identical shape and cells.
func (m *Mask) Equal(o *Mask) bool {
	if m.rows != o.rows || m.cols != o.cols {
		return false
	}
	for k := range m.data {
		if IsForbidden(m.data[k]) != IsForbidden(o.data[k]) {
			return false
		}
	}
	return true
}

// Validate checks that every cell is 0 or -inf.
func (m *Mask) Validate() error {
	for i := 0; i < m.rows; i++ {
		if err := validateRow(m.Row(i), i); err != nil {
			return err
		}
	}
	return nil
}

// Apply adds row i of the mask to scores in place.
func (m *Mask) Apply(i int, scores []float32) error {
	row := m.Row(i)
	if len(scores) != len(row) {
		return fmt.Errorf("%w: scores %d vs mask %d", ErrShape, len(scores), len(row))
	}
	for j, c := range row {
		if IsForbidden(c) {
			scores[j] = Forbidden
		}
	}
	return nil
}

func forbidRow(row []float32, tokens []int) {
	for _, t := range tokens {
		if t >= 0 && t < len(row) {
			row[t] = Forbidden
		}
	}
}

func addRow(dst, src []float32) {
	for k := range dst {
		dst[k] = Combine(dst[k], src[k])
	}
}

func admissible(row []float32) []int {
	out := make([]int, 0, len(row))
	for j, c := range row {
		if !IsForbidden(c) {
			out = append(out, j)
		}
	}
	return out
}

func forbidden(row []float32) []int {
	var out []int
	for j, c := range row {
		if IsForbidden(c) {
			out = append(out, j)
		}
	}
	return out
}

func validateRow(row []float32, i int) error {
	for j, c := range row {
		if c != Allowed && !IsForbidden(c) {
			return fmt.Errorf("%w: row %d col %d = %v", ErrValue, i, j, c)
		}
	}
	return nil
}
