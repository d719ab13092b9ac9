package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucosense/internal/domain"
)

type stubPredictor struct {
	fields map[string]any
	k      int
	res    domain.Result
	err    error
}

func (s *stubPredictor) PredictMap(_ context.Context, fields map[string]any, k int) (domain.Result, error) {
	s.fields, s.k = fields, k
	return s.res, s.err
}

func (s *stubPredictor) DisplayFields() []string { return domain.DefaultDisplayFields }

func (s *stubPredictor) DefaultK() int { return 5 }

func TestParseInput(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		fields map[string]any
		k      int
		err    bool
	}{
		{name: "spaces", line: "age=52 glucose=155", fields: map[string]any{"age": 52.0, "glucose": 155.0}},
		{name: "commas and k", line: "bmi = 28.6, gender=Male; k=3", fields: map[string]any{"bmi": 28.6, "gender": "Male"}, k: 3},
		{name: "uppercase keys", line: "Age=40", fields: map[string]any{"age": 40.0}},
		{name: "no pairs", line: "hello", err: true},
		{name: "bad k", line: "age=1 k=zero", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, k, err := ParseInput(tt.line)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.fields, fields)
			assert.Equal(t, tt.k, k)
		})
	}
}

func enter(m Model, line string) Model {
	m.input.SetValue(line)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model)
}

func TestUpdate_PredictAndBrowse(t *testing.T) {
	p := &stubPredictor{res: domain.Result{
		Prediction: domain.NewPrediction(0.7),
		Tier:       domain.TierPredictedLabel,
		SimilarCases: []domain.SimilarCase{
			{Row: 1, Record: domain.PatientRecord{Age: 50}, Diabetic: 1, PredictedLabel: 1},
			{Row: 2, Record: domain.PatientRecord{Age: 61}, Diabetic: 1, PredictedLabel: 1},
		},
	}}
	m := New(p, "200 patients indexed")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m = enter(next.(Model), "age=52 glucose=155")

	assert.Equal(t, 5, p.k)
	assert.Equal(t, 52.0, p.fields["age"])
	require.NotNil(t, m.result)
	assert.Contains(t, m.status, "Diabetic")
	assert.Contains(t, m.renderResult(), "Similar case 1/2")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.renderResult(), "row=2")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 0, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, next.(Model).cursor)
	assert.Contains(t, m.View(), "Glucosense")
}

func TestUpdate_ErrorsShownInStatus(t *testing.T) {
	p := &stubPredictor{err: errors.New("pipeline not trained")}
	m := enter(New(p, ""), "age=1 k=2")
	assert.Equal(t, 2, p.k)
	assert.Contains(t, m.status, "pipeline not trained")
	assert.Nil(t, m.result)
	assert.Equal(t, "No prediction yet.", m.renderResult())

	m = enter(m, "nonsense")
	assert.Contains(t, m.status, "no key=value pairs")
}

func TestUpdate_Quit(t *testing.T) {
	_, cmd := New(&stubPredictor{}, "").Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
