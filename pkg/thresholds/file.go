package thresholds

import (
	"fmt"
	"os"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"gopkg.in/yaml.v3"
)

type fileEntry struct {
	KpiName        string  `yaml:"kpi_name"`
	Dimension      string  `yaml:"dimension"`
	DimensionValue string  `yaml:"dimension_value"`
	Low            float64 `yaml:"low"`
	High           float64 `yaml:"high"`
	Unit           string  `yaml:"unit"`
	Description    string  `yaml:"description"`
	Enabled        *bool   `yaml:"enabled"`
}

type file struct {
	Thresholds []fileEntry `yaml:"thresholds"`
}

// LoadFile reads a YAML threshold file.
func LoadFile(path string) ([]model.Threshold, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read threshold file %s: %w", path, err)
	}
	list, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("threshold file %s: %w", path, err)
	}
	return list, nil
}

// LoadFromBytes parses YAML threshold data. Entries are enabled unless they
// say otherwise.
func LoadFromBytes(data []byte) ([]model.Threshold, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	if len(f.Thresholds) == 0 {
		return nil, fmt.Errorf("no thresholds defined")
	}

	out := make([]model.Threshold, 0, len(f.Thresholds))
	for i, e := range f.Thresholds {
		if e.KpiName == "" {
			return nil, fmt.Errorf("threshold %d: missing kpi_name", i+1)
		}
		t := model.Threshold{
			KpiName:        e.KpiName,
			Dimension:      e.Dimension,
			DimensionValue: e.DimensionValue,
			Low:            e.Low,
			High:           e.High,
			Unit:           e.Unit,
			Description:    e.Description,
			Enabled:        e.Enabled == nil || *e.Enabled,
		}
		if t.Dimension == "" {
			t.Dimension = model.DimensionGlobal
		}
		out = append(out, t)
	}
	return out, nil
}
