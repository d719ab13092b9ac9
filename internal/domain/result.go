package domain

// DecisionThreshold separates the positive class from the negative one.
const DecisionThreshold = 0.5

// Prediction is a classifier output for one patient.
type Prediction struct {
	Probability float64 `json:"probability"`
	Label       int     `json:"label"`
}

// NewPrediction derives the label from the positive-class probability.
func NewPrediction(p float64) Prediction {
	return Prediction{Probability: p, Label: LabelFor(p)}
}

// LabelFor returns 1 when p is strictly above the decision threshold.
func LabelFor(p float64) int {
	if p > DecisionThreshold {
		return 1
	}
	return 0
}

// LabelName renders a label for humans.
func LabelName(label int) string {
	if label == 1 {
		return "Diabetic"
	}
	return "Non-Diabetic"
}

// Neighbor is a similarity-index hit: a corpus row and its distance to the
// query vector.
type Neighbor struct {
	Row      int     `json:"row"`
	Distance float64 `json:"distance"`
}

// DefaultDisplayFields are the similar-case columns shown to callers.
var DefaultDisplayFields = []string{
	"age", "glucose", "bmi", "systolic_bp", "diastolic_bp",
	"diabetic", "neigh_pred_prob", "neigh_pred_label",
}

// SimilarCase is a retrieved corpus patient re-scored by the classifier.
type SimilarCase struct {
	Row                  int           `json:"row"`
	Distance             float64       `json:"distance"`
	Record               PatientRecord `json:"-"`
	Diabetic             int           `json:"diabetic"`
	PredictedProbability float64       `json:"neigh_pred_prob"`
	PredictedLabel       int           `json:"neigh_pred_label"`
}

// DisplayValue resolves a display column: any feature name, "diabetic",
// "neigh_pred_prob", "neigh_pred_label", "row" or "distance".
func (c SimilarCase) DisplayValue(name string) (float64, bool) {
	switch name {
	case "diabetic":
		return float64(c.Diabetic), true
	case "neigh_pred_prob":
		return c.PredictedProbability, true
	case "neigh_pred_label":
		return float64(c.PredictedLabel), true
	case "row":
		return float64(c.Row), true
	case "distance":
		return c.Distance, true
	}
	return c.Record.Value(name)
}

// Display projects the case onto the given columns, skipping unknown names.
func (c SimilarCase) Display(fields []string) map[string]float64 {
	out := make(map[string]float64, len(fields))
	for _, f := range fields {
		if v, ok := c.DisplayValue(f); ok {
			out[f] = v
		}
	}
	return out
}

// Tier identifies which filter rule produced the similar cases.
type Tier string

const (
	TierPredictedLabel   Tier = "predicted_label"
	TierGroundTruthLabel Tier = "ground_truth_label"
	TierProximity        Tier = "proximity"
)

// Result is the full answer to a prediction request.
type Result struct {
	Prediction
	SimilarCases     []SimilarCase `json:"similar_cases"`
	Tier             Tier          `json:"tier"`
	Explanation      string        `json:"explanation,omitempty"`
	ExplanationModel string        `json:"explanation_model,omitempty"`
	ExplanationError string        `json:"explanation_error,omitempty"`
}
