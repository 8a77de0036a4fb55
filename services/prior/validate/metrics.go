// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exprprior_validator_rejections_total",
		Help: "Total whole-tree rejections by reason",
	}, []string{"reason"})

	substitutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exprprior_validator_substitutions_total",
		Help: "Total operator outputs replaced by a fallback",
	})

	seedAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exprprior_seed_attempts",
		Help:    "Generator calls needed to seed one valid individual",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 1000},
	})
)
