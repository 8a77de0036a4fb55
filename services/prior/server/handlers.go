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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/exprprior/services/prior/constraints"
	"github.com/AleutianAI/exprprior/services/prior/library"
	"github.com/AleutianAI/exprprior/services/prior/mask"
	"github.com/AleutianAI/exprprior/services/prior/program"
	"github.com/AleutianAI/exprprior/services/prior/sampler"
	"github.com/AleutianAI/exprprior/services/prior/storage"
	"github.com/AleutianAI/exprprior/services/prior/validate"
)

// errStoreDisabled is returned by routes that need the population store when
// the server runs without one.
var errStoreDisabled = errors.New("population store is not enabled")

// statusFor maps an error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, constraints.ErrNotSupported):
		return http.StatusNotImplemented, "NOT_SUPPORTED"
	case errors.Is(err, library.ErrUnknownToken):
		return http.StatusBadRequest, "UNKNOWN_TOKEN"
	case errors.Is(err, constraints.ErrInvalidBatch):
		return http.StatusBadRequest, "INVALID_BATCH"
	case errors.Is(err, validate.ErrNoValidFallback):
		return http.StatusConflict, "POOL_EMPTY"
	case errors.Is(err, library.ErrConfiguration):
		return http.StatusBadRequest, "INVALID_CONFIGURATION"
	case errors.Is(err, program.ErrIncomplete), errors.Is(err, program.ErrInvariant):
		return http.StatusBadRequest, "INVALID_EXPRESSION"
	case errors.Is(err, sampler.ErrNoAdmissibleToken):
		return http.StatusUnprocessableEntity, "NO_ADMISSIBLE_TOKEN"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, errStoreDisabled):
		return http.StatusServiceUnavailable, "STORE_DISABLED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	} else {
		logger.Warn("request rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	s.metrics.RecordError(c.Request.Context(), code)
	trace.SpanFromContext(c.Request.Context()).RecordError(err)
	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: c.GetString(requestIDKey),
	})
}

func (s *Server) badRequest(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, slog.String("error", err.Error()))
	s.metrics.RecordError(c.Request.Context(), "INVALID_REQUEST")
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     fmt.Sprintf("%s: %v", msg, err),
		Code:      "INVALID_REQUEST",
		RequestID: c.GetString(requestIDKey),
	})
}

func maskRow(row []float32) MaskRow {
	out := MaskRow{Forbidden: []int{}, Admissible: []int{}}
	for j, v := range row {
		if mask.IsForbidden(v) {
			out.Forbidden = append(out.Forbidden, j)
		} else {
			out.Admissible = append(out.Admissible, j)
		}
	}
	return out
}

func expressionOf(p program.Program) Expression {
	return Expression{Names: p.Names(), Expression: p.String()}
}

func rejectionInfo(r *validate.Rejection) *RejectionInfo {
	if r == nil {
		return nil
	}
	return &RejectionInfo{Reason: string(r.Reason), Position: r.Position, Detail: r.Detail}
}

// rngFor returns a generator seeded by seed, or freshly seeded when nil.
func rngFor(seed *uint64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewPCG(*seed, 0))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	rt := s.Runtime()
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Tokens:      rt.Library.L(),
		Constraints: rt.Prior.Names(),
		Store:       s.store != nil,
	})
}

// handleLibrary handles GET /v1/library.
func (s *Server) handleLibrary(c *gin.Context) {
	lib := s.Runtime().Library
	resp := LibraryResponse{
		Tokens:       make([]TokenInfo, 0, lib.L()),
		EmptyParent:  lib.EmptyParent(),
		EmptySibling: lib.EmptySibling(),
	}
	for _, t := range lib.Tokens() {
		info := TokenInfo{ID: t.ID, Name: t.Name, Arity: t.Arity, Trig: t.Trig, Const: t.Constant}
		if inv, ok := lib.Inverse(t.ID); ok {
			info.Inverse = lib.Name(inv)
		}
		resp.Tokens = append(resp.Tokens, info)
	}
	c.JSON(http.StatusOK, resp)
}

// handleInitial handles GET /v1/prior/initial.
func (s *Server) handleInitial(c *gin.Context) {
	logger := s.requestLogger(c, "handleInitial")
	v, err := s.Runtime().Prior.InitialMask()
	if err != nil {
		s.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, maskRow(v))
}

// handleStep handles POST /v1/prior/step.
//
// Description:
//
//	Computes the joint step mask for a batch of open rows, given either as
//	name prefixes or as raw batch inputs. Rows whose mask forbids every
//	token are listed in DeadRows.
func (s *Server) handleStep(c *gin.Context) {
	logger := s.requestLogger(c, "handleStep")
	rt := s.Runtime()

	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, logger, "invalid request body", err)
		return
	}

	var batch constraints.Batch
	switch {
	case len(req.Prefixes) > 0 && len(req.Actions) > 0:
		s.badRequest(c, logger, "invalid request body", errors.New("send either prefixes or actions, not both"))
		return
	case len(req.Prefixes) > 0:
		b, err := batchFromPrefixes(rt.Library, req.Prefixes)
		if err != nil {
			s.fail(c, logger, err)
			return
		}
		batch = b
	case len(req.Actions) > 0:
		batch = constraints.Batch{Actions: req.Actions, Parent: req.Parent, Sibling: req.Sibling, Dangling: req.Dangling}
	default:
		s.badRequest(c, logger, "invalid request body", errors.New("prefixes or actions required"))
		return
	}
	if n := batch.Len(); n > rt.Config.Server.MaxBatch {
		s.badRequest(c, logger, "batch too large", fmt.Errorf("%d rows exceeds max_batch %d", n, rt.Config.Server.MaxBatch))
		return
	}

	trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.Int("prior.rows", batch.Len()))
	m, err := rt.Prior.StepMask(c.Request.Context(), batch)
	if err != nil {
		s.fail(c, logger, err)
		return
	}
	if s.metrics != nil {
		s.metrics.MaskRowsTotal.Add(c.Request.Context(), int64(batch.Len()))
	}

	resp := StepResponse{Rows: make([]MaskRow, m.Rows()), DeadRows: m.DeadRows()}
	for i := range resp.Rows {
		resp.Rows[i] = maskRow(m.Row(i))
	}
	c.JSON(http.StatusOK, resp)
}

// batchFromPrefixes replays each prefix through a RowState.
func batchFromPrefixes(lib *library.Library, prefixes [][]string) (constraints.Batch, error) {
	var b constraints.Batch
	for i, names := range prefixes {
		ids, err := lib.Actionize(names)
		if err != nil {
			return constraints.Batch{}, fmt.Errorf("prefix %d: %w", i, err)
		}
		row := program.NewRowState(lib)
		for _, id := range ids {
			if err := row.Append(id); err != nil {
				return constraints.Batch{}, fmt.Errorf("prefix %d: %w", i, err)
			}
		}
		if row.Done() {
			return constraints.Batch{}, fmt.Errorf("prefix %d: %w: already a complete expression",
				i, constraints.ErrInvalidBatch)
		}
		b.Actions = append(b.Actions, row.Actions())
		b.Parent = append(b.Parent, row.AdjustedParent())
		b.Sibling = append(b.Sibling, row.SiblingInput())
		b.Dangling = append(b.Dangling, row.Dangling())
	}
	return b, nil
}

// handleValidate handles POST /v1/prior/validate.
func (s *Server) handleValidate(c *gin.Context) {
	logger := s.requestLogger(c, "handleValidate")
	rt := s.Runtime()

	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, logger, "invalid request body", err)
		return
	}
	if n := len(req.Expressions); n > rt.Config.Server.MaxBatch {
		s.badRequest(c, logger, "batch too large", fmt.Errorf("%d expressions exceeds max_batch %d", n, rt.Config.Server.MaxBatch))
		return
	}

	resp := ValidateResponse{Results: make([]ValidationResult, len(req.Expressions))}
	for i, names := range req.Expressions {
		r, err := rt.Validator.CheckNames(names)
		if err != nil {
			s.fail(c, logger, fmt.Errorf("expression %d: %w", i, err))
			return
		}
		res := ValidationResult{Valid: r == nil, Rejection: rejectionInfo(r)}
		if p, err := program.FromNames(rt.Library, names); err == nil {
			res.Expression = p.String()
			res.Length = p.Len()
			res.Depth = p.Depth()
		}
		resp.Results[i] = res
	}
	c.JSON(http.StatusOK, resp)
}

// handleSample handles POST /v1/prior/sample.
func (s *Server) handleSample(c *gin.Context) {
	logger := s.requestLogger(c, "handleSample")
	rt := s.Runtime()

	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, logger, "invalid request body", err)
		return
	}
	if req.N > rt.Config.Server.MaxBatch {
		s.badRequest(c, logger, "batch too large", fmt.Errorf("n=%d exceeds max_batch %d", req.N, rt.Config.Server.MaxBatch))
		return
	}
	if req.Store && s.store == nil {
		s.fail(c, logger, errStoreDisabled)
		return
	}

	ctx := c.Request.Context()
	res, err := rt.Sampler.Sample(ctx, req.N, rngFor(req.Seed))
	if err != nil {
		s.fail(c, logger, err)
		return
	}
	s.metrics.RecordSamples(ctx, len(res.Programs), res.Truncated)

	resp := SampleResponse{
		Expressions: make([]Expression, len(res.Programs)),
		Truncated:   res.Truncated,
		Steps:       res.Steps,
	}
	for i, p := range res.Programs {
		resp.Expressions[i] = expressionOf(p)
	}
	if req.Store && len(res.Programs) > 0 {
		ids, err := s.store.PutAll(ctx, res.Programs, "sample")
		if err != nil {
			s.fail(c, logger, err)
			return
		}
		for i := range ids {
			resp.Expressions[i].ID = &ids[i]
		}
	}
	logger.Debug("sampled", slog.Int("n", req.N), slog.Int("complete", len(res.Programs)))
	c.JSON(http.StatusOK, resp)
}

// handlePopulation handles GET /v1/population.
//
// Query Parameters:
//
//	limit: Maximum records to return (optional, default 100, 0 for all)
func (s *Server) handlePopulation(c *gin.Context) {
	logger := s.requestLogger(c, "handlePopulation")
	if s.store == nil {
		s.fail(c, logger, errStoreDisabled)
		return
	}
	limit := 100
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			s.badRequest(c, logger, "invalid limit", fmt.Errorf("%q", q))
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	count, err := s.store.Count(ctx)
	if err != nil {
		s.fail(c, logger, err)
		return
	}
	recs, err := s.store.Records(ctx, limit)
	if err != nil {
		s.fail(c, logger, err)
		return
	}
	resp := PopulationResponse{Count: count, Records: make([]PopulationRecord, len(recs))}
	for i, r := range recs {
		resp.Records[i] = PopulationRecord{ID: r.ID, Names: r.Names, Source: r.Source, CreatedAt: r.CreatedAt}
	}
	c.JSON(http.StatusOK, resp)
}

// handleRepair handles POST /v1/population/repair.
//
// Description:
//
//	Treats the candidates as the outputs of an external variation operator
//	and runs them through validate.ValidateAndRetry with the stored
//	population as the fallback pool. Invalid candidates come back replaced
//	by a copy of a stored expression that passes the current validator.
//	A population with no such expression is a 409 POOL_EMPTY.
func (s *Server) handleRepair(c *gin.Context) {
	logger := s.requestLogger(c, "handleRepair")
	rt := s.Runtime()
	if s.store == nil {
		s.fail(c, logger, errStoreDisabled)
		return
	}

	var req RepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, logger, "invalid request body", err)
		return
	}
	if n := len(req.Candidates); n > rt.Config.Server.MaxBatch {
		s.badRequest(c, logger, "batch too large", fmt.Errorf("%d candidates exceeds max_batch %d", n, rt.Config.Server.MaxBatch))
		return
	}

	candidates := make([]program.Program, len(req.Candidates))
	for i, names := range req.Candidates {
		ids, err := rt.Library.Actionize(names)
		if err != nil {
			s.fail(c, logger, fmt.Errorf("candidate %d: %w", i, err))
			return
		}
		// Incomplete trees stay zero-valued and are rejected by the validator.
		if p, err := program.New(rt.Library, ids); err == nil {
			candidates[i] = p
		}
	}

	ctx := c.Request.Context()
	pool, err := s.store.LoadPool(ctx, rt.Library, 0)
	if err != nil {
		s.fail(c, logger, err)
		return
	}
	op := func(context.Context, []program.Program) ([]program.Program, error) {
		return candidates, nil
	}
	out, err := validate.ValidateAndRetry(ctx, op, rt.Validator, pool, rngFor(req.Seed))
	if err != nil {
		s.fail(c, logger, err)
		return
	}

	resp := RepairResponse{
		Expressions: make([]Expression, len(out.Programs)),
		Rejections:  make([]*RejectionInfo, len(out.Rejections)),
		Substituted: out.Substituted,
	}
	for i, p := range out.Programs {
		resp.Expressions[i] = expressionOf(p)
		resp.Rejections[i] = rejectionInfo(out.Rejections[i])
	}
	c.JSON(http.StatusOK, resp)
}
