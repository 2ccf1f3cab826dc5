package eval

import (
	"fmt"
	"regexp"
	"strings"
)

// \w in RE2 is ASCII-only, so spell out the unicode word classes.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// tokenize lower-cases the text and extracts maximal runs of word
// characters. Punctuation and whitespace never produce tokens.
func tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

type PRF1 struct {
	Precision float64
	Recall    float64
	F1        float64
}

// TokenSetPRF1 computes precision/recall/F1 over distinct tokens. Two empty
// texts count as a vacuous perfect match, a single empty side scores zero.
func TokenSetPRF1(reference, candidate string) PRF1 {
	refTokens := tokenize(reference)
	candTokens := tokenize(candidate)

	if len(refTokens) == 0 && len(candTokens) == 0 {
		return PRF1{Precision: 1, Recall: 1, F1: 1}
	}
	if len(refTokens) == 0 || len(candTokens) == 0 {
		return PRF1{}
	}

	refSet := toSet(refTokens)
	candSet := toSet(candTokens)
	overlap := 0
	for token := range candSet {
		if _, ok := refSet[token]; ok {
			overlap++
		}
	}

	precision := float64(overlap) / float64(len(candSet))
	recall := float64(overlap) / float64(len(refSet))
	return PRF1{
		Precision: precision,
		Recall:    recall,
		F1:        f1(precision, recall),
	}
}

// Rouge1F1 is the bag-of-tokens F1: the overlap counts duplicates, clipped
// per token by the smaller side.
func Rouge1F1(reference, candidate string) float64 {
	refTokens := tokenize(reference)
	candTokens := tokenize(candidate)

	if len(refTokens) == 0 && len(candTokens) == 0 {
		return 1
	}
	if len(refTokens) == 0 || len(candTokens) == 0 {
		return 0
	}

	refCounts := toCounts(refTokens)
	overlap := 0
	for _, token := range candTokens {
		if refCounts[token] > 0 {
			refCounts[token]--
			overlap++
		}
	}

	precision := float64(overlap) / float64(len(candTokens))
	recall := float64(overlap) / float64(len(refTokens))
	return f1(precision, recall)
}

// RougeLF1 scores by the longest common subsequence of the token sequences.
func RougeLF1(reference, candidate string) float64 {
	refTokens := tokenize(reference)
	candTokens := tokenize(candidate)

	if len(refTokens) == 0 && len(candTokens) == 0 {
		return 1
	}
	if len(refTokens) == 0 || len(candTokens) == 0 {
		return 0
	}

	lcs := lcsLength(refTokens, candTokens)
	precision := float64(lcs) / float64(len(candTokens))
	recall := float64(lcs) / float64(len(refTokens))
	return f1(precision, recall)
}

// lcsLength is the standard two-row dynamic program. LCS is symmetric, so
// swapping the inputs to keep the shorter sequence in the inner loop does
// not change the result.
func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for _, tokenA := range a {
		curr[0] = 0
		for j, tokenB := range b {
			if tokenA == tokenB {
				curr[j+1] = prev[j] + 1
			} else if prev[j+1] >= curr[j] {
				curr[j+1] = prev[j+1]
			} else {
				curr[j+1] = curr[j]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// DotSimilarity returns the dot product of two embedding vectors. Inputs
// are expected to be L2-normalized by the provider, which makes this the
// cosine similarity. A dimension mismatch is a contract violation and
// fails loudly.
func DotSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot, nil
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

func toCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return counts
}
