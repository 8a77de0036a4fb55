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
	"time"

	"github.com/google/uuid"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// RequestID echoes the X-Request-ID header.
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string   `json:"status"`
	Tokens      int      `json:"tokens"`
	Constraints []string `json:"constraints"`
	Store       bool     `json:"store"`
}

// TokenInfo describes one library token.
type TokenInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Arity   int    `json:"arity"`
	Trig    bool   `json:"trig,omitempty"`
	Const   bool   `json:"const,omitempty"`
	Inverse string `json:"inverse,omitempty"`
}

// LibraryResponse is the response for GET /v1/library.
//
// EmptyParent and EmptySibling are the sentinel values of the step batch
// parent and sibling inputs.
type LibraryResponse struct {
	Tokens       []TokenInfo `json:"tokens"`
	EmptyParent  int         `json:"empty_parent"`
	EmptySibling int         `json:"empty_sibling"`
}

// MaskRow is one row of a mask. -Inf does not encode as JSON, so rows are
// sent as the token ids each side of the mask.
type MaskRow struct {
	Forbidden  []int `json:"forbidden"`
	Admissible []int `json:"admissible"`
}

// StepRequest is the request body for POST /v1/prior/step.
//
// Exactly one form is used. Prefixes gives each row as the token names chosen
// so far, and the server derives parent, sibling, and dangling. Otherwise
// Actions, Parent, Sibling, and Dangling are the raw batch inputs, one entry
// per row, as a generator tracking its own tree state would send them.
type StepRequest struct {
	Prefixes [][]string `json:"prefixes,omitempty" binding:"omitempty,dive,min=1,dive,token_name"`

	Actions  [][]int `json:"actions,omitempty" binding:"omitempty,dive,min=1"`
	Parent   []int   `json:"parent,omitempty"`
	Sibling  []int   `json:"sibling,omitempty"`
	Dangling []int   `json:"dangling,omitempty"`
}

// StepResponse is the response for POST /v1/prior/step.
type StepResponse struct {
	Rows     []MaskRow `json:"rows"`
	DeadRows []int     `json:"dead_rows,omitempty"`
}

// ValidateRequest is the request body for POST /v1/prior/validate.
type ValidateRequest struct {
	// Expressions are complete trees in prefix order.
	Expressions [][]string `json:"expressions" binding:"required,min=1,dive,min=1,dive,token_name"`
}

// RejectionInfo is the JSON form of a validation rejection.
type RejectionInfo struct {
	Reason   string `json:"reason"`
	Position int    `json:"position"`
	Detail   string `json:"detail,omitempty"`
}

// ValidationResult is one entry of ValidateResponse.
type ValidationResult struct {
	Valid      bool           `json:"valid"`
	Expression string         `json:"expression,omitempty"`
	Length     int            `json:"length,omitempty"`
	Depth      int            `json:"depth,omitempty"`
	Rejection  *RejectionInfo `json:"rejection,omitempty"`
}

// ValidateResponse is the response for POST /v1/prior/validate.
type ValidateResponse struct {
	Results []ValidationResult `json:"results"`
}

// SampleRequest is the request body for POST /v1/prior/sample.
type SampleRequest struct {
	// N is the number of rows to sample.
	N int `json:"n" binding:"required,gte=1"`

	// Seed makes the batch reproducible. Absent means a fresh random seed.
	Seed *uint64 `json:"seed,omitempty"`

	// Store saves the completed expressions to the population.
	Store bool `json:"store,omitempty"`
}

// Expression is one sampled or stored expression.
type Expression struct {
	ID         *uuid.UUID `json:"id,omitempty"`
	Names      []string   `json:"names"`
	Expression string     `json:"expression"`
}

// SampleResponse is the response for POST /v1/prior/sample.
type SampleResponse struct {
	Expressions []Expression `json:"expressions"`
	Truncated   int          `json:"truncated"`
	Steps       int          `json:"steps"`
}

// RepairRequest is the request body for POST /v1/population/repair.
type RepairRequest struct {
	// Candidates are operator outputs in prefix order.
	Candidates [][]string `json:"candidates" binding:"required,min=1,dive,min=1,dive,token_name"`

	// Seed fixes the choice of substitutes.
	Seed *uint64 `json:"seed,omitempty"`
}

// RepairResponse is the response for POST /v1/population/repair.
type RepairResponse struct {
	Expressions []Expression     `json:"expressions"`
	Rejections  []*RejectionInfo `json:"rejections"`
	Substituted int              `json:"substituted"`
}

// PopulationRecord is one stored program.
type PopulationRecord struct {
	ID        uuid.UUID `json:"id"`
	Names     []string  `json:"names"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PopulationResponse is the response for GET /v1/population.
type PopulationResponse struct {
	Count   int                `json:"count"`
	Records []PopulationRecord `json:"records"`
}
