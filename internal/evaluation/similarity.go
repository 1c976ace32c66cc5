package evaluation

import (
	"math"
	"regexp"
	"strings"
)

// Tokens are runs of two or more letters, digits or underscores.
var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

func tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// TextSimilarity returns the cosine similarity of the TF-IDF vectors of a and
// b, with the IDF fitted on the two texts alone (smoothed, natural log, plus
// one). The result is in [0, 1]; texts without tokens score 0.
func TextSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	tfA, tfB := termCounts(ta), termCounts(tb)

	const nDocs = 2
	idf := func(term string) float64 {
		df := 0
		if tfA[term] > 0 {
			df++
		}
		if tfB[term] > 0 {
			df++
		}
		return math.Log(float64(1+nDocs)/float64(1+df)) + 1
	}

	var dot, normA, normB float64
	for term, ca := range tfA {
		w := float64(ca) * idf(term)
		normA += w * w
		if cb, ok := tfB[term]; ok {
			dot += w * float64(cb) * idf(term)
		}
	}
	for term, cb := range tfB {
		w := float64(cb) * idf(term)
		normB += w * w
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return math.Min(dot/(math.Sqrt(normA)*math.Sqrt(normB)), 1)
}

func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}
