package dataset

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucosense/internal/domain"
)

const sampleCSV = `gender,age,pulse_rate,systolic_bp,diastolic_bp,glucose,height,weight,bmi,family_diabetes,hypertensive,family_hypertension,cardiovascular_disease,stroke,diabetic,extra
Female,52,82,135,90,155,1.6,72,28.6,1,1,1,0,0,Yes,x
Male,33,70,118,76,92,1.78,74,23.4,0,0,0,0,0,No,y
`

func TestReadCSV(t *testing.T) {
	corpus, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Equal(t, 2, corpus.Len())

	first := corpus.Row(0)
	assert.Equal(t, 0.0, first.Record.Gender)
	assert.Equal(t, 155.0, first.Record.Glucose)
	assert.Equal(t, 1, first.Diabetic)

	second := corpus.Row(1)
	assert.Equal(t, 1.0, second.Record.Gender)
	assert.Equal(t, 0, second.Diabetic)
	assert.Equal(t, []int{1, 0}, corpus.Labels())
}

func TestReadCSV_MissingColumn(t *testing.T) {
	in := strings.Replace(sampleCSV, "stroke,", "stroke_x,", 1)
	_, err := ReadCSV(strings.NewReader(in))
	var mfe *domain.MissingFeatureError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, []string{"stroke"}, mfe.Fields)
}

func TestReadCSV_BadLabel(t *testing.T) {
	in := strings.Replace(sampleCSV, ",Yes,", ",Maybe,", 1)
	_, err := ReadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadCSV_NotFound(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	assert.True(t, errors.Is(err, domain.ErrDataNotFound))
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	corpus := Synthetic(20, 7)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, corpus))

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, corpus.Labels(), back.Labels())
	assert.Equal(t, corpus.Matrix(), back.Matrix())
}

func TestSynthetic_BalancedAndDeterministic(t *testing.T) {
	a := Synthetic(200, 42)
	b := Synthetic(200, 42)
	assert.Equal(t, 200, a.Len())
	assert.Equal(t, 100, a.Positives())
	assert.Equal(t, a.Matrix(), b.Matrix())
}
