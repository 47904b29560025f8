package rerankers

import (
	"math"
	"strings"
)

// Cosine returns the cosine similarity of a and b. Absent, zero-norm or
// mismatched vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Excerpt collapses whitespace and bounds text to max runes, marking a cut with "…".
func Excerpt(text string, max int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if max <= 0 || len(runes) <= max {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
