package metrics

// BoundingBox is an axis-aligned rectangle in pixel or normalised coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area, clamped to zero for degenerate boxes.
func (b BoundingBox) Area() float64 {
	return clampZero(b.Width) * clampZero(b.Height)
}

// Section is a layout section as produced by the detection pipeline or
// recorded as ground truth. Every field is optional.
type Section struct {
	Type       string       `json:"type,omitempty"`
	Bounds     *BoundingBox `json:"bounds,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
}

// BaseMetrics summarises a single pipeline run.
type BaseMetrics struct {
	SectionsDetected  int      `json:"sections_detected"`
	AverageConfidence *float64 `json:"average_confidence"`
	ProcessingTimeMs  int64    `json:"processing_time_ms"`
	TokensUsed        *int     `json:"tokens_used,omitempty"`
	EstimatedCostUSD  *float64 `json:"estimated_cost_usd,omitempty"`
}

// DetectionKPIs are the detection quality figures of a run compared to ground truth.
type DetectionKPIs struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	AvgIoU    float64 `json:"avg_iou"`
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
}

// RunMetrics combines base metrics with optional detection KPIs.
type RunMetrics struct {
	BaseMetrics
	KPIs *DetectionKPIs `json:"kpis,omitempty"`
}

// Fields flattens the metrics into a snake_case map suitable for JSON columns.
func (m RunMetrics) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"sections_detected":  m.SectionsDetected,
		"processing_time_ms": m.ProcessingTimeMs,
	}
	if m.AverageConfidence != nil {
		fields["average_confidence"] = *m.AverageConfidence
	} else {
		fields["average_confidence"] = nil
	}
	if m.TokensUsed != nil {
		fields["tokens_used"] = *m.TokensUsed
	}
	if m.EstimatedCostUSD != nil {
		fields["estimated_cost_usd"] = *m.EstimatedCostUSD
	}
	if m.KPIs != nil {
		fields["precision"] = m.KPIs.Precision
		fields["recall"] = m.KPIs.Recall
		fields["f1"] = m.KPIs.F1
		fields["avg_iou"] = m.KPIs.AvgIoU
		fields["tp"] = m.KPIs.TP
		fields["fp"] = m.KPIs.FP
		fields["fn"] = m.KPIs.FN
	}
	return fields
}
