// Package metrics computes run metrics and detection KPIs for layout
// detection output. All functions are pure and never fail: malformed
// geometry, missing fields and empty inputs yield zero or nil values.
package metrics

import "math"

// DefaultMatchThreshold is the IoU a prediction needs to count as a true positive.
const DefaultMatchThreshold = 0.5

// BaseParams carries the inputs of ComputeBaseMetrics.
type BaseParams struct {
	Sections                  []Section
	ProcessingTimeMs          float64
	TokensUsed                *int
	EstimatedCostUSD          *float64
	AverageConfidenceOverride *float64
}

// ValidationParams carries the inputs of ComputeValidationKPIs.
// A nil MatchThreshold means DefaultMatchThreshold.
type ValidationParams struct {
	Predictions    []Section
	GroundTruth    []Section
	MatchThreshold *float64
	MatchByType    bool
}

// AverageConfidence returns the mean of all usable confidences, or nil when
// no section carries one. Missing and NaN values are ignored, not counted as zero.
func AverageConfidence(sections []Section) *float64 {
	sum := 0.0
	count := 0
	for _, section := range sections {
		if section.Confidence == nil || !isFinite(*section.Confidence) {
			continue
		}
		sum += *section.Confidence
		count++
	}
	if count == 0 {
		return nil
	}
	avg := sum / float64(count)
	return &avg
}

// ComputeBaseMetrics derives the base metrics of a run.
func ComputeBaseMetrics(params BaseParams) BaseMetrics {
	avg := params.AverageConfidenceOverride
	if avg == nil {
		avg = AverageConfidence(params.Sections)
	} else {
		value := *avg
		avg = &value
	}

	return BaseMetrics{
		SectionsDetected:  len(params.Sections),
		AverageConfidence: avg,
		ProcessingTimeMs:  floorNonNegative(params.ProcessingTimeMs),
		TokensUsed:        params.TokensUsed,
		EstimatedCostUSD:  params.EstimatedCostUSD,
	}
}

// IoU returns the intersection-over-union of two boxes. Missing boxes and
// boxes whose union has no area score 0.
func IoU(a, b *BoundingBox) float64 {
	if a == nil || b == nil {
		return 0
	}

	interWidth := clampZero(math.Min(a.X+a.Width, b.X+b.Width) - math.Max(a.X, b.X))
	interHeight := clampZero(math.Min(a.Y+a.Height, b.Y+b.Height) - math.Max(a.Y, b.Y))
	intersection := interWidth * interHeight

	union := a.Area() + b.Area() - intersection
	if union <= 0 || !isFinite(union) || !isFinite(intersection) {
		return 0
	}
	return intersection / union
}

// ComputeValidationKPIs matches predictions against ground truth and returns
// precision, recall, F1 and average IoU.
//
// Matching is greedy and single pass: predictions are visited in input
// order and each takes the unmatched ground-truth entry with the highest
// IoU (lowest index on ties) if it reaches the threshold. This is not an
// optimal assignment.
func ComputeValidationKPIs(params ValidationParams) DetectionKPIs {
	threshold := DefaultMatchThreshold
	if params.MatchThreshold != nil {
		threshold = *params.MatchThreshold
	}

	predictions := params.Predictions
	groundTruth := params.GroundTruth

	matched := make([]bool, len(groundTruth))
	tp := 0

	for _, prediction := range predictions {
		bestIndex := -1
		bestIoU := 0.0
		for j, truth := range groundTruth {
			if matched[j] {
				continue
			}
			if params.MatchByType && typesConflict(prediction, truth) {
				continue
			}
			score := IoU(prediction.Bounds, truth.Bounds)
			if bestIndex == -1 || score > bestIoU {
				bestIndex = j
				bestIoU = score
			}
		}
		if bestIndex >= 0 && bestIoU >= threshold {
			matched[bestIndex] = true
			tp++
		}
	}

	fp := len(predictions) - tp
	fn := len(groundTruth) - tp

	precision := 0.0
	if len(predictions) > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	recall := 0.0
	if len(groundTruth) > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return DetectionKPIs{
		Precision: precision,
		Recall:    recall,
		F1:        f1,
		AvgIoU:    averageMatchedIoU(predictions, groundTruth, matched),
		TP:        tp,
		FP:        fp,
		FN:        fn,
	}
}

// averageMatchedIoU averages, over matched ground-truth entries, the best IoU
// each reaches against any prediction.
func averageMatchedIoU(predictions, groundTruth []Section, matched []bool) float64 {
	sum := 0.0
	count := 0
	for j, truth := range groundTruth {
		if !matched[j] {
			continue
		}
		best := 0.0
		for _, prediction := range predictions {
			if score := IoU(prediction.Bounds, truth.Bounds); score > best {
				best = score
			}
		}
		sum += best
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func typesConflict(a, b Section) bool {
	return a.Type != "" && b.Type != "" && a.Type != b.Type
}

func floorNonNegative(value float64) int64 {
	if !isFinite(value) || value <= 0 {
		return 0
	}
	if value >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Floor(value))
}

func clampZero(value float64) float64 {
	if value < 0 || math.IsNaN(value) {
		return 0
	}
	return value
}

func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
