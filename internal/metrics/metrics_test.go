package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePrediction(1, 10*time.Millisecond)
	m.ObservePrediction(0, time.Millisecond)
	m.ObservePrediction(1, time.Millisecond)
	m.ObserveTier("proximity")
	m.ObserveExplanation("failure")
	m.SetIndexSize(200)
	m.ObserveTraining(2 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Predictions.WithLabelValues("diabetic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Predictions.WithLabelValues("non_diabetic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalTiers.WithLabelValues("proximity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Explanations.WithLabelValues("failure")))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.IndexSize))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TrainingSeconds))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PredictLatency))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePrediction(1, time.Second)
		m.ObserveTier("x")
		m.ObserveExplanation("success")
		m.ObserveTraining(time.Second)
		m.SetIndexSize(1)
	})
}
