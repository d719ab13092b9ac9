package ensemble

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"glucosense/internal/domain"
)

// ClassReport holds per-class scores.
type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is a held-out evaluation of a binary classifier.
type Report struct {
	Classes  [2]ClassReport `json:"classes"`
	Accuracy float64        `json:"accuracy"`
	// AUC is NaN when only one class is present.
	AUC float64 `json:"auc"`
	N   int     `json:"n"`
}

// Evaluate scores the probabilities in proba against labels y.
func Evaluate(y []int, proba []float64) (Report, error) {
	if len(y) != len(proba) {
		return Report{}, fmt.Errorf("evaluate: %d labels but %d scores", len(y), len(proba))
	}
	if len(y) == 0 {
		return Report{}, fmt.Errorf("evaluate: no rows")
	}

	var confusion [2][2]int // [truth][predicted]
	for i, p := range proba {
		confusion[y[i]][domain.LabelFor(p)]++
	}

	r := Report{N: len(y)}
	correct := 0
	for c := 0; c < 2; c++ {
		tp := confusion[c][c]
		predicted := confusion[0][c] + confusion[1][c]
		actual := confusion[c][0] + confusion[c][1]
		correct += tp
		cr := ClassReport{Support: actual}
		if predicted > 0 {
			cr.Precision = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			cr.Recall = float64(tp) / float64(actual)
		}
		if cr.Precision+cr.Recall > 0 {
			cr.F1 = 2 * cr.Precision * cr.Recall / (cr.Precision + cr.Recall)
		}
		r.Classes[c] = cr
	}
	r.Accuracy = float64(correct) / float64(len(y))
	r.AUC = rocAUC(y, proba)
	return r, nil
}

func rocAUC(y []int, proba []float64) float64 {
	scores := make([]float64, len(proba))
	classes := make([]bool, len(y))
	var pos int
	for i := range y {
		scores[i] = proba[i]
		classes[i] = y[i] == 1
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return math.NaN()
	}
	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// String renders the report as a small text table.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %9s %9s %9s %9s\n", "", "precision", "recall", "f1", "support")
	for c, cr := range r.Classes {
		fmt.Fprintf(&b, "%-14s %9.3f %9.3f %9.3f %9d\n", domain.LabelName(c), cr.Precision, cr.Recall, cr.F1, cr.Support)
	}
	fmt.Fprintf(&b, "%-14s %39.3f\n", "accuracy", r.Accuracy)
	fmt.Fprintf(&b, "%-14s %39.3f\n", "roc auc", r.AUC)
	return b.String()
}
