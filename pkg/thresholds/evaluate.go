package thresholds

import (
	"fmt"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// Evaluation is the reading of one metric value against its threshold.
type Evaluation struct {
	Status         model.HealthStatus
	Severity       model.Severity
	Level          float64 // the level that was crossed, zero when healthy
	HigherIsBetter bool
}

// Evaluate classifies value against t. A missing or disabled threshold never
// escalates: the result is SAIN with severity LOW.
func Evaluate(t *model.Threshold, value float64) Evaluation {
	healthy := Evaluation{Status: model.StatusHealthy, Severity: model.SeverityLow}
	if t == nil || !t.Enabled {
		return healthy
	}
	healthy.HigherIsBetter = t.HigherIsBetter()

	var critical, warning bool
	if healthy.HigherIsBetter {
		critical = value < t.High
		warning = value < t.Low
	} else {
		critical = value > t.High
		warning = value > t.Low
	}

	switch {
	case critical:
		return Evaluation{Status: model.StatusAbnormal, Severity: model.StatusAbnormal.Severity(), Level: t.High, HigherIsBetter: healthy.HigherIsBetter}
	case warning:
		return Evaluation{Status: model.StatusWatch, Severity: model.StatusWatch.Severity(), Level: t.Low, HigherIsBetter: healthy.HigherIsBetter}
	}
	return healthy
}

// Message describes a breach in the direction of the metric.
func (e Evaluation) Message(label string, value float64, unit string) string {
	if e.Status == model.StatusHealthy {
		return fmt.Sprintf("%s is at %s, within thresholds", label, formatValue(value, unit))
	}
	level := "warning"
	if e.Status == model.StatusAbnormal {
		level = "critical"
	}
	if e.HigherIsBetter {
		return fmt.Sprintf("%s fell to %s, below the %s threshold of %s",
			label, formatValue(value, unit), level, formatValue(e.Level, unit))
	}
	return fmt.Sprintf("%s reached %s, above the %s threshold of %s",
		label, formatValue(value, unit), level, formatValue(e.Level, unit))
}

func formatValue(v float64, unit string) string {
	switch unit {
	case "":
		return fmt.Sprintf("%.1f", v)
	case "%":
		return fmt.Sprintf("%.1f%%", v)
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}
