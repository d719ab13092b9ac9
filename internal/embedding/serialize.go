package embedding

import (
	"math"
	"strconv"
	"strings"

	"glucosense/internal/domain"
)

// Serialize renders the canonical sentence a record is embedded from.
// Equal records produce byte-identical text.
func Serialize(r domain.PatientRecord) string {
	var b strings.Builder
	b.WriteString("Gender: ")
	b.WriteString(num(r.Gender))
	b.WriteString(", Age: ")
	b.WriteString(num(r.Age))
	b.WriteString(", Pulse: ")
	b.WriteString(num(r.PulseRate))
	b.WriteString(", BP: ")
	b.WriteString(num(r.SystolicBP))
	b.WriteByte('/')
	b.WriteString(num(r.DiastolicBP))
	b.WriteString(", Glucose: ")
	b.WriteString(num(r.Glucose))
	b.WriteString(", BMI: ")
	b.WriteString(strconv.FormatFloat(r.BMI, 'f', 1, 64))
	b.WriteString(", Family Diabetes: ")
	b.WriteString(num(r.FamilyDiabetes))
	b.WriteString(", Hypertension: ")
	b.WriteString(num(r.Hypertensive))
	return b.String()
}

func num(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
