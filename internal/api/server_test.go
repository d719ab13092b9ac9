package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"glucosense/internal/domain"
	"glucosense/internal/metrics"
	"glucosense/internal/service"
)

type predictorMock struct{ mock.Mock }

func (m *predictorMock) State() service.State {
	return m.Called().Get(0).(service.State)
}

func (m *predictorMock) DefaultK() int { return 5 }

func (m *predictorMock) DisplayFields() []string { return domain.DefaultDisplayFields }

func (m *predictorMock) Predict(ctx context.Context, record domain.PatientRecord, k int) (domain.Result, error) {
	args := m.Called(ctx, record, k)
	return args.Get(0).(domain.Result), args.Error(1)
}

func (m *predictorMock) Explain(ctx context.Context, record domain.PatientRecord, k int) (domain.Result, error) {
	args := m.Called(ctx, record, k)
	return args.Get(0).(domain.Result), args.Error(1)
}

func init() { gin.SetMode(gin.TestMode) }

func patientBody(k int, explain bool) []byte {
	record := map[string]any{}
	for _, f := range domain.FeatureNames {
		record[f] = 1
	}
	record["gender"] = "Male"
	b, _ := json.Marshal(PredictRequest{Record: record, K: k, Explain: explain})
	return b
}

func sampleResult() domain.Result {
	return domain.Result{
		Prediction: domain.NewPrediction(0.8),
		Tier:       domain.TierPredictedLabel,
		SimilarCases: []domain.SimilarCase{
			{Row: 3, Distance: 0.2, Record: domain.PatientRecord{Age: 50, Glucose: 170}, Diabetic: 1, PredictedProbability: 0.9, PredictedLabel: 1},
		},
	}
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPredict_OK(t *testing.T) {
	pred := new(predictorMock)
	pred.On("Predict", mock.Anything, mock.AnythingOfType("domain.PatientRecord"), 3).Return(sampleResult(), nil).Once()
	s := NewServer(Config{RequestTimeout: time.Second}, pred, nil, nil)

	w := do(t, s.Handler(), http.MethodPost, "/v1/predict", patientBody(3, false))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Label)
	assert.Equal(t, "Diabetic", resp.LabelName)
	assert.Equal(t, "predicted_label", resp.Tier)
	require.Len(t, resp.SimilarCases, 1)
	assert.Len(t, resp.SimilarCases[0].Fields, 8)
	assert.Equal(t, 170.0, resp.SimilarCases[0].Fields["glucose"])
	pred.AssertExpectations(t)
}

func TestPredict_DefaultKAndExplain(t *testing.T) {
	pred := new(predictorMock)
	res := sampleResult()
	res.ExplanationError = "quota exceeded"
	pred.On("Explain", mock.Anything, mock.Anything, 5).Return(res, nil).Once()
	s := NewServer(Config{}, pred, nil, nil)

	w := do(t, s.Handler(), http.MethodPost, "/v1/predict", patientBody(0, true))
	require.Equal(t, http.StatusOK, w.Code)
	var resp PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "quota exceeded", resp.ExplanationError)
	pred.AssertExpectations(t)
}

func TestPredict_MissingFeature(t *testing.T) {
	pred := new(predictorMock)
	s := NewServer(Config{}, pred, nil, nil)
	body := []byte(`{"record":{"age":52}}`)

	w := do(t, s.Handler(), http.MethodPost, "/v1/predict", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out["missing"], domain.NumFeatures-1)
	pred.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything, mock.Anything)
}

func TestPredict_BadRequest(t *testing.T) {
	s := NewServer(Config{}, new(predictorMock), nil, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodPost, "/v1/predict", []byte(`{`)).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodPost, "/v1/predict", patientBody(-1, false)).Code)
}

func TestPredict_NotTrained(t *testing.T) {
	pred := new(predictorMock)
	pred.On("Predict", mock.Anything, mock.Anything, 5).
		Return(domain.Result{}, &domain.StateError{Op: "predict", Have: "untrained", Need: "indexed"})
	s := NewServer(Config{}, pred, nil, nil)

	w := do(t, s.Handler(), http.MethodPost, "/v1/predict", patientBody(5, false))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthz(t *testing.T) {
	pred := new(predictorMock)
	pred.On("State").Return(service.Trained).Once()
	pred.On("State").Return(service.Indexed).Once()
	s := NewServer(Config{}, pred, nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s.Handler(), http.MethodGet, "/healthz", nil).Code)
	w := do(t, s.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "indexed")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObservePrediction(1, time.Millisecond)
	s := NewServer(Config{}, new(predictorMock), reg, nil)

	w := do(t, s.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "glucosense_predictions_total")
}

func TestRequestID_Propagated(t *testing.T) {
	pred := new(predictorMock)
	pred.On("State").Return(service.Indexed)
	s := NewServer(Config{}, pred, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestTimeout_SetsDeadline(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(50 * time.Millisecond))
	r.GET("/", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		c.Status(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodGet, "/", nil).Code)
}
