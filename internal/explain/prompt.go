package explain

import (
	"fmt"
	"strconv"
	"strings"

	"glucosense/internal/domain"
)

var summaryFields = []string{"age", "glucose", "bmi", "systolic_bp", "diastolic_bp", "diabetic"}

const promptTemplate = `You are a concise, careful clinical assistant. Ground your answer in the data and similar cases below.
Do not invent facts or specific treatment doses. When uncertain, recommend clinician follow-up.

Patient summary:
%s

Model prediction:
Label: %s    Probability: %.2f

Top %d similar cases (grounding):
%s

Task:
1) In 3-5 short sentences, explain why the model predicted %s, naming the top 2-3 drivers (for example glucose, BMI, family history, blood pressure).
2) Give a short, practical care plan under these headings:
   - Immediate actions (48-72 hours)
   - Recommended diagnostic tests (what to order and why)
   - Lifestyle recommendations (diet, exercise, monitoring)
   - Red flags that should prompt urgent care
3) Keep the language clear and non-alarming. Answer in plain text, not JSON.`

// BuildPrompt renders the grounded prompt for req.
func BuildPrompt(req Request) string {
	k := req.K
	if k <= 0 || k > len(req.Cases) {
		k = len(req.Cases)
	}
	label := domain.LabelName(req.Prediction.Label)
	return fmt.Sprintf(promptTemplate, req.PatientText, label, req.Prediction.Probability, k, summarize(req.Cases, k), label)
}

func summarize(cases []domain.SimilarCase, k int) string {
	lines := make([]string, 0, k)
	for i, c := range cases[:k] {
		vals := make([]string, 0, len(summaryFields))
		for _, f := range summaryFields {
			if v, ok := c.DisplayValue(f); ok {
				vals = append(vals, f+": "+strconv.FormatFloat(v, 'f', -1, 64))
			}
		}
		lines = append(lines, fmt.Sprintf("%d) %s", i+1, strings.Join(vals, ", ")))
	}
	return strings.Join(lines, "\n")
}
