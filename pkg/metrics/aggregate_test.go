package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAggregateMicroAverages(t *testing.T) {
	perfect := DetectionKPIs{Precision: 1, Recall: 1, F1: 1, AvgIoU: 0.9, TP: 3}
	missed := DetectionKPIs{FP: 1, FN: 2}
	partial := DetectionKPIs{Precision: 0.5, Recall: 1, AvgIoU: 0.6, TP: 1, FP: 1}

	total := Aggregate(perfect, missed, partial)

	require.Equal(t, 4, total.TP)
	require.Equal(t, 2, total.FP)
	require.Equal(t, 2, total.FN)
	require.InDelta(t, 4.0/6.0, total.Precision, 1e-9)
	require.InDelta(t, 4.0/6.0, total.Recall, 1e-9)
	require.InDelta(t, 4.0/6.0, total.F1, 1e-9)
	require.InDelta(t, (0.9*3+0.6)/4, total.AvgIoU, 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	require.Equal(t, DetectionKPIs{}, Aggregate())
}
