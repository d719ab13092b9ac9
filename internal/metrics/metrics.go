package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's collectors. A nil *Metrics records nothing.
type Metrics struct {
	Predictions     *prometheus.CounterVec
	PredictLatency  prometheus.Histogram
	RetrievalTiers  *prometheus.CounterVec
	Explanations    *prometheus.CounterVec
	TrainingSeconds prometheus.Gauge
	IndexSize       prometheus.Gauge
}

// New creates the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glucosense_predictions_total",
				Help: "Total number of predictions by label",
			},
			[]string{"label"}, // label: diabetic|non_diabetic
		),
		PredictLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "glucosense_predict_duration_seconds",
				Help:    "Prediction and retrieval latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		RetrievalTiers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glucosense_retrieval_tier_total",
				Help: "Similar-case selections by filter tier",
			},
			[]string{"tier"},
		),
		Explanations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glucosense_explanations_total",
				Help: "Explanation attempts by outcome",
			},
			[]string{"status"}, // status: success|failure|cached
		),
		TrainingSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "glucosense_training_duration_seconds",
				Help: "Duration of the last training run in seconds",
			},
		),
		IndexSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "glucosense_index_size",
				Help: "Number of corpus rows in the similarity index",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Predictions, m.PredictLatency, m.RetrievalTiers, m.Explanations, m.TrainingSeconds, m.IndexSize)
	}
	return m
}

func (m *Metrics) ObservePrediction(label int, d time.Duration) {
	if m == nil {
		return
	}
	name := "non_diabetic"
	if label == 1 {
		name = "diabetic"
	}
	m.Predictions.WithLabelValues(name).Inc()
	m.PredictLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveTier(tier string) {
	if m == nil {
		return
	}
	m.RetrievalTiers.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObserveExplanation(status string) {
	if m == nil {
		return
	}
	m.Explanations.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveTraining(d time.Duration) {
	if m == nil {
		return
	}
	m.TrainingSeconds.Set(d.Seconds())
}

func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.IndexSize.Set(float64(n))
}
