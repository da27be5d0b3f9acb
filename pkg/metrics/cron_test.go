package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)
	m.now = func() time.Time { return time.Unix(1767225600, 0) }

	m.ObserveRun("billing-periods", 250*time.Millisecond, nil)
	m.ObserveRun("billing-periods", time.Second, errors.New("db down"))
	m.ObserveRun("", time.Millisecond, nil)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	ok, err := fetchCounterValue(mfs, "tutorbill_cron_job_runs_total", map[string]string{"job": "billing-periods", "result": "ok"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, ok)

	failed, err := fetchCounterValue(mfs, "tutorbill_cron_job_runs_total", map[string]string{"job": "billing-periods", "result": "error"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, failed)

	unknown, err := fetchCounterValue(mfs, "tutorbill_cron_job_runs_total", map[string]string{"job": "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, unknown)

	metric, err := findMetric(mfs, "tutorbill_cron_job_duration_seconds", map[string]string{"job": "billing-periods"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 1.25, metric.GetHistogram().GetSampleSum(), 1e-9)

	metric, err = findMetric(mfs, "tutorbill_cron_job_last_success_timestamp_seconds", map[string]string{"job": "billing-periods"})
	require.NoError(t, err)
	assert.Equal(t, float64(1767225600), metric.GetGauge().GetValue())
}

func TestCronMetricsNilRegistererIsNoop(t *testing.T) {
	NewCronMetrics(nil).ObserveRun("job", time.Second, nil)
	var m *CronMetrics
	m.ObserveRun("job", time.Second, errors.New("boom"))
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	metric, err := findMetric(mfs, name, labels)
	if err != nil {
		return 0, err
	}
	return metric.GetCounter().GetValue(), nil
}

// findMetric returns the first series of name carrying every label in labels.
func findMetric(mfs []*dto.MetricFamily, name string, labels map[string]string) (*dto.Metric, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric.GetLabel(), labels) {
				return metric, nil
			}
		}
		return nil, fmt.Errorf("metric %q has no series with labels %v", name, labels)
	}
	return nil, fmt.Errorf("metric %q not found", name)
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if value, ok := want[pair.GetName()]; ok && value == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
