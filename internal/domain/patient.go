package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FeatureNames lists the model features in the fixed column order used by
// every numeric stage.
var FeatureNames = []string{
	"gender",
	"age",
	"pulse_rate",
	"systolic_bp",
	"diastolic_bp",
	"glucose",
	"height",
	"weight",
	"bmi",
	"family_diabetes",
	"hypertensive",
	"family_hypertension",
	"cardiovascular_disease",
	"stroke",
}

// NumFeatures is the width of a raw feature row.
const NumFeatures = 14

// PatientRecord is a validated patient description with one field per
// recognised feature. Gender is already encoded (Male=1, Female=0).
type PatientRecord struct {
	Gender                float64 `json:"gender"`
	Age                   float64 `json:"age"`
	PulseRate             float64 `json:"pulse_rate"`
	SystolicBP            float64 `json:"systolic_bp"`
	DiastolicBP           float64 `json:"diastolic_bp"`
	Glucose               float64 `json:"glucose"`
	Height                float64 `json:"height"`
	Weight                float64 `json:"weight"`
	BMI                   float64 `json:"bmi"`
	FamilyDiabetes        float64 `json:"family_diabetes"`
	Hypertensive          float64 `json:"hypertensive"`
	FamilyHypertension    float64 `json:"family_hypertension"`
	CardiovascularDisease float64 `json:"cardiovascular_disease"`
	Stroke                float64 `json:"stroke"`
}

// Vector returns the record as a raw feature row in FeatureNames order.
func (r PatientRecord) Vector() []float64 {
	return []float64{
		r.Gender, r.Age, r.PulseRate, r.SystolicBP, r.DiastolicBP,
		r.Glucose, r.Height, r.Weight, r.BMI,
		r.FamilyDiabetes, r.Hypertensive, r.FamilyHypertension,
		r.CardiovascularDisease, r.Stroke,
	}
}

// Value returns the value of a named feature.
func (r PatientRecord) Value(name string) (float64, bool) {
	for i, n := range FeatureNames {
		if n == name {
			return r.Vector()[i], true
		}
	}
	return 0, false
}

// RecordFromVector builds a record from a row in FeatureNames order.
func RecordFromVector(v []float64) (PatientRecord, error) {
	if len(v) != NumFeatures {
		return PatientRecord{}, fmt.Errorf("feature row has %d values, want %d", len(v), NumFeatures)
	}
	return PatientRecord{
		Gender: v[0], Age: v[1], PulseRate: v[2], SystolicBP: v[3], DiastolicBP: v[4],
		Glucose: v[5], Height: v[6], Weight: v[7], BMI: v[8],
		FamilyDiabetes: v[9], Hypertensive: v[10], FamilyHypertension: v[11],
		CardiovascularDisease: v[12], Stroke: v[13],
	}, nil
}

// ParseRecord validates a flat key/value patient description. Every missing
// feature is reported at once, in feature order.
func ParseRecord(fields map[string]any) (PatientRecord, error) {
	var missing []string
	for _, name := range FeatureNames {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return PatientRecord{}, &MissingFeatureError{Fields: missing}
	}

	row := make([]float64, NumFeatures)
	for i, name := range FeatureNames {
		raw := fields[name]
		var (
			v   float64
			err error
		)
		if name == "gender" {
			v, err = EncodeGender(raw)
		} else {
			v, err = toFloat(raw)
		}
		if err != nil {
			return PatientRecord{}, &InvalidFeatureError{Field: name, Value: raw, Err: err}
		}
		row[i] = v
	}
	return RecordFromVector(row)
}

// EncodeGender maps "Male"/"Female" (any case) or a numeric 0/1 to the
// encoded gender value. The mapping matches alphabetical label encoding.
func EncodeGender(v any) (float64, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "male":
			return 1, nil
		case "female":
			return 0, nil
		}
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != 0 && f != 1 {
		return 0, fmt.Errorf("gender must be 0, 1, Male or Female, got %v", v)
	}
	return f, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case bool:
		if t {
			f = 1
		}
	case string:
		s := strings.TrimSpace(t)
		switch strings.ToLower(s) {
		case "yes", "true":
			return 1, nil
		case "no", "false":
			return 0, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", t)
		}
		f = parsed
	case interface{ Float64() (float64, error) }:
		parsed, err := t.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("value is null")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value is not finite")
	}
	return f, nil
}
