package services

import (
	"github.com/agext/levenshtein"

	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// LexicalSimilarity returns the edit-distance similarity of a and b in [0,1]
// after case and whitespace normalization. Identical inputs score 1.
func LexicalSimilarity(a, b string) float64 {
	a, b = repositories.NormalizeText(a), repositories.NormalizeText(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, nil)
}
