// Package retrieval finds stored patients similar to a query and filters
// them so the displayed cases agree with the query's prediction.
package retrieval

import "glucosense/internal/domain"

// Select picks k cases from pool, which must be in search-distance order.
// The first tier with at least k candidates wins:
//
//	predicted_label:    re-scored label equals label
//	ground_truth_label: stored diagnosis equals label
//	proximity:          the k nearest regardless of label
//
// Selected cases keep pool order.
func Select(pool []domain.SimilarCase, label, k int) ([]domain.SimilarCase, domain.Tier) {
	if k <= 0 {
		return nil, domain.TierProximity
	}
	if picked := filter(pool, k, func(c domain.SimilarCase) bool { return c.PredictedLabel == label }); picked != nil {
		return picked, domain.TierPredictedLabel
	}
	if picked := filter(pool, k, func(c domain.SimilarCase) bool { return c.Diabetic == label }); picked != nil {
		return picked, domain.TierGroundTruthLabel
	}
	if k > len(pool) {
		k = len(pool)
	}
	return append([]domain.SimilarCase(nil), pool[:k]...), domain.TierProximity
}

// filter returns the first k matching cases, or nil when fewer than k match.
func filter(pool []domain.SimilarCase, k int, match func(domain.SimilarCase) bool) []domain.SimilarCase {
	out := make([]domain.SimilarCase, 0, k)
	for _, c := range pool {
		if !match(c) {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			return out
		}
	}
	return nil
}
