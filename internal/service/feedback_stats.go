package service

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/models"
)

// feedbackStats aggregates execution feedback for one prompt (or a task).
type feedbackStats struct {
	SampleSize          int
	Failed              int
	ErrorRate           float64
	ValidationScores    []float64
	F1                  []float64
	Precision           []float64
	Recall              []float64
	Confidence          []float64
	ProcessingTimes     []float64
	QualityScores       []float64
	TotalTokens         int
	TotalCostUSD        float64
	MeanValidationScore *float64
	MeanF1              *float64
	MeanPrecision       *float64
	MeanRecall          *float64
	MeanAvgIoU          *float64
	MeanConfidence      *float64
	MeanProcessingTime  *float64
}

// collectFeedback folds executions, given oldest first, into aggregate statistics.
func collectFeedback(executions []models.TestExecution) feedbackStats {
	stats := feedbackStats{SampleSize: len(executions)}
	var ious []float64

	for _, execution := range executions {
		if !execution.Succeeded {
			stats.Failed++
		}
		stats.QualityScores = append(stats.QualityScores, execution.QualityScore)
		stats.ProcessingTimes = append(stats.ProcessingTimes, float64(execution.ProcessingTimeMs))
		if execution.TokensUsed != nil {
			stats.TotalTokens += *execution.TokensUsed
		}
		if execution.EstimatedCostUSD != nil {
			stats.TotalCostUSD += *execution.EstimatedCostUSD
		}
		if execution.ValidationScore != nil {
			stats.ValidationScores = append(stats.ValidationScores, *execution.ValidationScore)
		}
		if value, ok := execution.MetricValue("average_confidence"); ok {
			stats.Confidence = append(stats.Confidence, value)
		}
		if value, ok := execution.MetricValue("f1"); ok {
			stats.F1 = append(stats.F1, value)
		}
		if value, ok := execution.MetricValue("precision"); ok {
			stats.Precision = append(stats.Precision, value)
		}
		if value, ok := execution.MetricValue("recall"); ok {
			stats.Recall = append(stats.Recall, value)
		}
		if value, ok := execution.MetricValue("avg_iou"); ok {
			ious = append(ious, value)
		}
	}

	if stats.SampleSize > 0 {
		stats.ErrorRate = float64(stats.Failed) / float64(stats.SampleSize)
	}
	stats.MeanValidationScore = meanOf(stats.ValidationScores)
	stats.MeanF1 = meanOf(stats.F1)
	stats.MeanPrecision = meanOf(stats.Precision)
	stats.MeanRecall = meanOf(stats.Recall)
	stats.MeanAvgIoU = meanOf(ious)
	stats.MeanConfidence = meanOf(stats.Confidence)
	stats.MeanProcessingTime = meanOf(stats.ProcessingTimes)
	return stats
}

// series returns the per-execution values of the target metric, oldest first.
func (f feedbackStats) series(target string) []float64 {
	switch target {
	case dto.TargetValidationScore:
		return f.ValidationScores
	case dto.TargetF1:
		return f.F1
	case dto.TargetPrecision:
		return f.Precision
	case dto.TargetRecall:
		return f.Recall
	case dto.TargetConfidence:
		return f.Confidence
	case dto.TargetProcessingTime:
		return f.ProcessingTimes
	default:
		return nil
	}
}

func meanOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	mean := stat.Mean(values, nil)
	return &mean
}

func valueOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return *value
}

// welchSignificance compares the earlier and later halves of a series with
// Welch's t-test and returns 1-p. Series too short or without variance give 0.
func welchSignificance(series []float64) float64 {
	if len(series) < 4 {
		return 0
	}
	half := len(series) / 2
	earlier, later := series[:half], series[half:]

	meanA, varA := stat.MeanVariance(earlier, nil)
	meanB, varB := stat.MeanVariance(later, nil)
	nA, nB := float64(len(earlier)), float64(len(later))

	se2 := varA/nA + varB/nB
	if se2 <= 0 || math.IsNaN(se2) {
		return 0
	}

	t := (meanB - meanA) / math.Sqrt(se2)
	df := (se2 * se2) / ((varA*varA)/(nA*nA*(nA-1)) + (varB*varB)/(nB*nB*(nB-1)))
	if df <= 0 || math.IsNaN(df) || math.IsInf(df, 0) {
		return 0
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	return clamp01(1 - p)
}

// correlation returns the Pearson correlation of two equally long series, or
// false when it is undefined.
func correlation(x, y []float64) (float64, bool) {
	if len(x) != len(y) || len(x) < 3 {
		return 0, false
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}

func clamp01(value float64) float64 {
	switch {
	case math.IsNaN(value) || value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
