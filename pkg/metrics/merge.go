package metrics

// Part is a partial metrics record that can be folded into a RunMetrics.
// *BaseMetrics, *DetectionKPIs and *RunMetrics implement it.
type Part interface {
	applyTo(target *RunMetrics)
}

func (b *BaseMetrics) applyTo(target *RunMetrics) {
	if b == nil {
		return
	}
	target.BaseMetrics = *b
}

func (k *DetectionKPIs) applyTo(target *RunMetrics) {
	if k == nil {
		return
	}
	kpis := *k
	target.KPIs = &kpis
}

func (m *RunMetrics) applyTo(target *RunMetrics) {
	if m == nil {
		return
	}
	target.BaseMetrics = m.BaseMetrics
	if m.KPIs != nil {
		kpis := *m.KPIs
		target.KPIs = &kpis
	}
}

// Merge folds the parts left to right into one record. Later parts win on
// overlapping fields; nil parts are skipped.
func Merge(parts ...Part) RunMetrics {
	var result RunMetrics
	for _, part := range parts {
		if part == nil {
			continue
		}
		part.applyTo(&result)
	}
	return result
}
