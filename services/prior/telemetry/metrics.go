// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OTel instruments of the HTTP surface and the sampler.
//
// All instruments use the "exprprior_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks in-flight HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// SamplesTotal counts expressions produced by the sampler, by outcome
	// ("complete" or "truncated").
	SamplesTotal metric.Int64Counter

	// MaskRowsTotal counts rows evaluated through the HTTP mask endpoints.
	MaskRowsTotal metric.Int64Counter

	// ErrorsTotal counts request errors by kind.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers all instruments with meter.
//
// Inputs:
//
//	meter - The OTel meter, usually otel.Meter("exprprior").
//
// Outputs:
//
//	*Metrics - The instruments.
//	error - Non-nil if any registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"exprprior_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"exprprior_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"exprprior_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.SamplesTotal, err = meter.Int64Counter(
		"exprprior_samples_total",
		metric.WithDescription("Expressions produced by the sampler"),
		metric.WithUnit("{expression}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create samples_total: %w", err)
	}

	m.MaskRowsTotal, err = meter.Int64Counter(
		"exprprior_http_mask_rows_total",
		metric.WithDescription("Rows evaluated through the mask endpoints"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_mask_rows_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"exprprior_errors_total",
		metric.WithDescription("Request errors by kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RecordSamples adds one sampler batch outcome.
func (m *Metrics) RecordSamples(ctx context.Context, complete, truncated int) {
	if m == nil {
		return
	}
	if complete > 0 {
		m.SamplesTotal.Add(ctx, int64(complete), metric.WithAttributes(attribute.String("outcome", "complete")))
	}
	if truncated > 0 {
		m.SamplesTotal.Add(ctx, int64(truncated), metric.WithAttributes(attribute.String("outcome", "truncated")))
	}
}

// RecordError counts one request error of the given kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
