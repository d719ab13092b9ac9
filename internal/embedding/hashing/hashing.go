// Package hashing implements a frozen feature-hashing embedder for the
// canonical patient sentence.
package hashing

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"glucosense/internal/embedding"
)

// DefaultDimension matches the width of the MiniLM sentence encoder.
const DefaultDimension = 384

const (
	wordWeight   = 0.25
	valueWeight  = 1.0
	prefixWeight = 0.5
)

// Embedder hashes word tokens, label-bound values and their leading-digit
// prefixes into a fixed number of signed buckets.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
}

// NewEmbedder returns an embedder producing vectors of length dim.
func NewEmbedder(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{
		dimension:    dim,
		tokenPattern: regexp.MustCompile(`\p{L}+`),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed embedding for the given text.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dimension)
	for _, tok := range e.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		e.add(vec, "w:"+tok, wordWeight)
	}
	for _, field := range strings.Split(text, ",") {
		label, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
		for i, part := range strings.Split(strings.TrimSpace(value), "/") {
			slot := key
			if i > 0 {
				slot = key + "." + strconv.Itoa(i)
			}
			e.add(vec, slot+"="+part, valueWeight)
			for _, p := range prefixes(part) {
				e.add(vec, slot+"~"+p, prefixWeight)
			}
		}
	}
	return embedding.Normalize(vec), nil
}

func (e *Embedder) add(vec []float64, feature string, w float64) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(e.dimension))
	if h>>63 == 1 {
		w = -w
	}
	vec[idx] += w
}

// prefixes returns leading-digit grams of the integer part of a number,
// tagged with its digit count so 5 and 52 never collide. Non-numeric
// values have none.
func prefixes(v string) []string {
	whole, _, _ := strings.Cut(v, ".")
	whole = strings.TrimPrefix(whole, "-")
	if whole == "" {
		return nil
	}
	for _, r := range whole {
		if r < '0' || r > '9' {
			return nil
		}
	}
	width := strconv.Itoa(len(whole))
	out := make([]string, 0, len(whole))
	for i := 1; i < len(whole); i++ {
		out = append(out, width+":"+whole[:i])
	}
	return out
}
