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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mask kinds used as the "kind" label.
const (
	maskKindInitial = "initial"
	maskKindStep    = "step"
)

var (
	masksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exprprior_prior_masks_total",
		Help: "Total joint prior masks computed by kind",
	}, []string{"kind"})

	maskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exprprior_prior_mask_duration_seconds",
		Help:    "Duration of batch step mask computation",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})

	maskRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exprprior_prior_mask_rows",
		Help:    "Rows per step mask batch",
		Buckets: []float64{1, 8, 64, 256, 1024, 4096},
	})

	deadRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exprprior_prior_dead_rows_total",
		Help: "Total rows whose joint mask forbids every token",
	})
)
