package dto

import "github.com/noah-isme/design-quality-api/pkg/metrics"

// MetricsComputeRequest asks for metrics of a run without persisting it.
type MetricsComputeRequest struct {
	Predictions               []metrics.Section `json:"predictions"`
	GroundTruth               []metrics.Section `json:"ground_truth"`
	ProcessingTimeMs          float64           `json:"processing_time_ms"`
	TokensUsed                *int              `json:"tokens_used" validate:"omitempty,gte=0"`
	EstimatedCostUSD          *float64          `json:"estimated_cost_usd" validate:"omitempty,gte=0"`
	AverageConfidenceOverride *float64          `json:"average_confidence_override" validate:"omitempty,gte=0,lte=1"`
	MatchThreshold            *float64          `json:"match_threshold" validate:"omitempty,gte=0,lte=1"`
	MatchByType               bool              `json:"match_by_type"`
}

// RunMetricsResponse is the merged base metrics and KPIs of a run.
type RunMetricsResponse struct {
	SectionsDetected  int      `json:"sections_detected"`
	AverageConfidence *float64 `json:"average_confidence"`
	ProcessingTimeMs  int64    `json:"processing_time_ms"`
	TokensUsed        *int     `json:"tokens_used,omitempty"`
	EstimatedCostUSD  *float64 `json:"estimated_cost_usd,omitempty"`
	Precision         *float64 `json:"precision,omitempty"`
	Recall            *float64 `json:"recall,omitempty"`
	F1                *float64 `json:"f1,omitempty"`
	AvgIoU            *float64 `json:"avg_iou,omitempty"`
	TP                *int     `json:"tp,omitempty"`
	FP                *int     `json:"fp,omitempty"`
	FN                *int     `json:"fn,omitempty"`
}

// NewRunMetricsResponse flattens run metrics for API consumers.
func NewRunMetricsResponse(m metrics.RunMetrics) RunMetricsResponse {
	response := RunMetricsResponse{
		SectionsDetected:  m.SectionsDetected,
		AverageConfidence: m.AverageConfidence,
		ProcessingTimeMs:  m.ProcessingTimeMs,
		TokensUsed:        m.TokensUsed,
		EstimatedCostUSD:  m.EstimatedCostUSD,
	}
	if m.KPIs != nil {
		kpis := *m.KPIs
		response.Precision = &kpis.Precision
		response.Recall = &kpis.Recall
		response.F1 = &kpis.F1
		response.AvgIoU = &kpis.AvgIoU
		response.TP = &kpis.TP
		response.FP = &kpis.FP
		response.FN = &kpis.FN
	}
	return response
}
