package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucosense/internal/dataset"
	"glucosense/internal/domain"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedder:
  type: hashing
vector_store:
  type: memory
explainer:
  type: none
log:
  level: error
  env: production
`), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTrainCommand_Synthetic(t *testing.T) {
	out, err := run(t, "train", "--config", writeConfig(t), "--synthetic", "60")
	require.NoError(t, err)
	assert.Contains(t, out, "rows=60")
	assert.Contains(t, out, "selected features:")
}

func TestTrainCommand_JSON(t *testing.T) {
	out, err := run(t, "train", "--config", writeConfig(t), "--synthetic", "60", "--json")
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 60.0, report["rows"])
}

func TestPredictCommand_Synthetic(t *testing.T) {
	out, err := run(t, "predict", "--config", writeConfig(t), "--synthetic", "60", "--k", "3",
		"gender=Female", "age=52", "pulse_rate=82", "systolic_bp=135", "diastolic_bp=90",
		"glucose=155", "height=1.60", "weight=72", "bmi=28.6", "family_diabetes=1",
		"hypertensive=1", "family_hypertension=1", "cardiovascular_disease=0", "stroke=0")
	require.NoError(t, err)
	assert.Contains(t, out, "prediction:")
	assert.Equal(t, 3, strings.Count(out, ") row "))
}

func TestPredictCommand_MissingField(t *testing.T) {
	_, err := run(t, "predict", "--config", writeConfig(t), "--synthetic", "60", "age=52")
	var mf *domain.MissingFeatureError
	require.ErrorAs(t, err, &mf)
	assert.Len(t, mf.Fields, domain.NumFeatures-1)
}

func TestTrainCommand_MissingData(t *testing.T) {
	cfg := writeConfig(t)
	data := filepath.Join(t.TempDir(), "missing.csv")
	require.NoError(t, os.WriteFile(cfg, []byte("data:\n  path: "+data+"\nexplainer:\n  type: none\nlog:\n  level: error\n"), 0o644))
	_, err := run(t, "train", "--config", cfg)
	assert.ErrorIs(t, err, domain.ErrDataNotFound)
}

func TestSynthCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	_, err := run(t, "synth", "--rows", "20", "--out", path)
	require.NoError(t, err)

	corpus, err := dataset.LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 20, corpus.Len())
}
