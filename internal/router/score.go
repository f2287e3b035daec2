// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

// Scoring weights for the task-value formula. BudgetPressure contributes
// inversely: high pressure pushes the score down.
const (
	weightComplexity  = 0.35
	weightStakes      = 0.25
	weightQuality     = 0.20
	weightBudget      = 0.10
	weightHistorical  = 0.10
	scoreScale        = 10.0
	largeContextDenom = 4 // rough chars-per-token estimate
)

// rawScore computes the weighted 0-10 task value before normalization.
func rawScore(in ScoreInput) float64 {
	return in.Complexity.Points()*weightComplexity +
		clamp(in.Stakes, 0, 10)*weightStakes +
		clamp(in.QualityPriority, 0, 10)*weightQuality +
		(10-clamp(in.BudgetPressure, 0, 10))*weightBudget +
		clamp(in.HistoricalPerformance, 0, 10)*weightHistorical
}

// normalizeScore maps the raw 0-10 value onto [0,100].
func normalizeScore(raw float64) float64 {
	return clamp(raw/scoreScale*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
