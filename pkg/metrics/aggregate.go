package metrics

// Aggregate micro-averages KPIs of several runs: counts are summed and the
// ratios recomputed from the totals. AvgIoU is weighted by each run's TP.
func Aggregate(runs ...DetectionKPIs) DetectionKPIs {
	var total DetectionKPIs
	iouSum := 0.0
	for _, run := range runs {
		total.TP += run.TP
		total.FP += run.FP
		total.FN += run.FN
		iouSum += run.AvgIoU * float64(run.TP)
	}

	if predicted := total.TP + total.FP; predicted > 0 {
		total.Precision = float64(total.TP) / float64(predicted)
	}
	if expected := total.TP + total.FN; expected > 0 {
		total.Recall = float64(total.TP) / float64(expected)
	}
	if total.Precision+total.Recall > 0 {
		total.F1 = 2 * total.Precision * total.Recall / (total.Precision + total.Recall)
	}
	if total.TP > 0 {
		total.AvgIoU = iouSum / float64(total.TP)
	}
	return total
}
