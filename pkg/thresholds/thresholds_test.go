package thresholds_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/storage"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/thresholds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_HigherIsWorse(t *testing.T) {
	th := &model.Threshold{KpiName: "TAUX_RETARD", Low: 10.0, High: 15.0, Enabled: true}

	e := thresholds.Evaluate(th, 12.0)
	assert.Equal(t, model.StatusWatch, e.Status)
	assert.Equal(t, model.SeverityMedium, e.Severity)
	assert.Equal(t, 10.0, e.Level)

	e = thresholds.Evaluate(th, 16.0)
	assert.Equal(t, model.StatusAbnormal, e.Status)
	assert.Equal(t, model.SeverityHigh, e.Severity)
	assert.Equal(t, 15.0, e.Level)

	e = thresholds.Evaluate(th, 5.0)
	assert.Equal(t, model.StatusHealthy, e.Status)
	assert.Equal(t, model.SeverityLow, e.Severity)

	// Boundaries are not breaches.
	assert.Equal(t, model.StatusHealthy, thresholds.Evaluate(th, 10.0).Status)
	assert.Equal(t, model.StatusWatch, thresholds.Evaluate(th, 15.0).Status)
}

func TestEvaluate_HigherIsBetter(t *testing.T) {
	th := &model.Threshold{KpiName: "TAUX_REGULARISATION", Low: 70, High: 60, Enabled: true}

	assert.Equal(t, model.StatusHealthy, thresholds.Evaluate(th, 80).Status)
	assert.Equal(t, model.StatusWatch, thresholds.Evaluate(th, 65).Status)
	e := thresholds.Evaluate(th, 40)
	assert.Equal(t, model.StatusAbnormal, e.Status)
	assert.True(t, e.HigherIsBetter)
}

func TestEvaluate_MissingOrDisabled(t *testing.T) {
	e := thresholds.Evaluate(nil, 1e9)
	assert.Equal(t, model.StatusHealthy, e.Status)
	assert.Equal(t, model.SeverityLow, e.Severity)

	e = thresholds.Evaluate(&model.Threshold{Low: 1, High: 2, Enabled: false}, 100)
	assert.Equal(t, model.StatusHealthy, e.Status)
	assert.Equal(t, model.SeverityLow, e.Severity)
}

func TestEvaluation_Message(t *testing.T) {
	th := &model.Threshold{Low: 10, High: 15, Enabled: true}
	msg := thresholds.Evaluate(th, 16).Message("Late payment rate", 16, "%")
	assert.Equal(t, "Late payment rate reached 16.0%, above the critical threshold of 15.0%", msg)

	th = &model.Threshold{Low: 70, High: 60, Enabled: true}
	msg = thresholds.Evaluate(th, 65).Message("Settlement rate", 65, "%")
	assert.Equal(t, "Settlement rate fell to 65.0%, below the warning threshold of 70.0%", msg)

	msg = thresholds.Evaluate(th, 35).Message("Delay", 35, "days")
	assert.Contains(t, msg, "35.0 days")
}

func TestRegistry_LookupFallsBackToGlobal(t *testing.T) {
	r := thresholds.NewRegistry(nil)
	r.Register(model.Threshold{KpiName: "TAUX_RETARD", Low: 10, High: 15, Enabled: true})
	r.Register(model.Threshold{KpiName: "TAUX_RETARD", Dimension: "STRUCTURE", DimensionValue: "s-1", Low: 5, High: 8, Enabled: true})

	th, ok := r.Lookup("TAUX_RETARD", "STRUCTURE", "s-1")
	require.True(t, ok)
	assert.Equal(t, 5.0, th.Low)

	th, ok = r.Lookup("TAUX_RETARD", "STRUCTURE", "s-2")
	require.True(t, ok)
	assert.Equal(t, 10.0, th.Low)

	th, ok = r.Lookup("TAUX_RETARD", "", "")
	require.True(t, ok)
	assert.Equal(t, model.DimensionGlobal, th.Dimension)

	_, ok = r.Lookup("UNKNOWN", "", "")
	assert.False(t, ok)
	assert.Len(t, r.All(), 2)
}

func TestRegistry_SeedAndReload(t *testing.T) {
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	// An operator-tuned value must survive seeding.
	require.NoError(t, store.SetThreshold(ctx, &model.Threshold{KpiName: thresholds.KpiLateRate, Low: 7, High: 9, Enabled: true}))

	r := thresholds.NewRegistry(store)
	n, err := r.Seed(ctx, thresholds.Defaults())
	require.NoError(t, err)
	assert.Equal(t, len(thresholds.Defaults())-1, n)

	th, ok := r.Lookup(thresholds.KpiLateRate, "", "")
	require.True(t, ok)
	assert.Equal(t, 7.0, th.Low)

	n, err = r.Seed(ctx, thresholds.Defaults())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.SetThreshold(ctx, &model.Threshold{KpiName: thresholds.KpiLateRate, Low: 12, High: 20, Enabled: true}))
	require.NoError(t, r.Reload(ctx))
	th, _ = r.Lookup(thresholds.KpiLateRate, "", "")
	assert.Equal(t, 12.0, th.Low)
	assert.Len(t, r.All(), len(thresholds.Defaults()))
}

func TestRegistry_Apply(t *testing.T) {
	r := thresholds.NewRegistry(nil)
	require.NoError(t, r.Apply(context.Background(), []model.Threshold{{KpiName: "X", Low: 1, High: 2, Enabled: true}}))
	_, ok := r.Lookup("X", "", "")
	assert.True(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	data := []byte(`
thresholds:
  - kpi_name: TAUX_RETARD
    low: 10
    high: 15
    unit: "%"
  - kpi_name: TAUX_REGULARISATION
    dimension: STRUCTURE
    dimension_value: s-1
    low: 70
    high: 60
    enabled: false
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	list, err := thresholds.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.DimensionGlobal, list[0].Dimension)
	assert.True(t, list[0].Enabled)
	assert.False(t, list[1].Enabled)
	assert.True(t, list[1].HigherIsBetter())
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	_, err := thresholds.LoadFromBytes([]byte("thresholds: []"))
	assert.Error(t, err)

	_, err = thresholds.LoadFromBytes([]byte("thresholds:\n  - low: 1\n"))
	assert.ErrorContains(t, err, "missing kpi_name")

	_, err = thresholds.LoadFromBytes([]byte("{{not yaml"))
	assert.Error(t, err)

	_, err = thresholds.LoadFile("/nonexistent/thresholds.yaml")
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	for _, th := range thresholds.Defaults() {
		assert.True(t, th.Enabled, th.KpiName)
		assert.NotEqual(t, th.KpiName, thresholds.Label(th.KpiName), "label for %s", th.KpiName)
		assert.NotEmpty(t, thresholds.Recommendation(th.KpiName))
	}
}
