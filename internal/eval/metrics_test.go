package eval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenSetPRF1_BothEmpty(t *testing.T) {
	got := TokenSetPRF1("", "  ...  ")
	require.Equal(t, 1.0, got.Precision)
	require.Equal(t, 1.0, got.Recall)
	require.Equal(t, 1.0, got.F1)
}

func TestTokenSetPRF1_OneEmpty(t *testing.T) {
	got := TokenSetPRF1("the answer", "")
	require.Equal(t, 0.0, got.Precision)
	require.Equal(t, 0.0, got.Recall)
	require.Equal(t, 0.0, got.F1)

	got = TokenSetPRF1("", "the answer")
	require.Equal(t, 0.0, got.F1)
}

func TestTokenSetPRF1_DuplicatesDoNotMatter(t *testing.T) {
	base := TokenSetPRF1("tuition fee deadline", "tuition deadline")
	dup := TokenSetPRF1("tuition tuition fee deadline", "deadline tuition deadline")
	require.Equal(t, base, dup)
}

func TestTokenSetPRF1_PartialOverlap(t *testing.T) {
	got := TokenSetPRF1("a b c d", "a b x")
	require.InDelta(t, 2.0/3.0, got.Precision, 1e-9)
	require.InDelta(t, 0.5, got.Recall, 1e-9)
	require.InDelta(t, 2*(2.0/3.0)*0.5/((2.0/3.0)+0.5), got.F1, 1e-9)
}

func TestTokenize_CaseAndPunctuation(t *testing.T) {
	got := TokenSetPRF1("What is the Tuition?", "what is the tuition")
	require.Equal(t, 1.0, got.F1)
}

func TestRouge1F1_BagSemanticsDivergeFromSet(t *testing.T) {
	// The multiset metric penalizes repeated tokens that the set metric
	// cannot see.
	ref := "a a b"
	cand := "a a a b"
	require.Equal(t, 1.0, TokenSetPRF1(ref, cand).F1)
	require.InDelta(t, 6.0/7.0, Rouge1F1(ref, cand), 1e-9)
}

func TestRouge1F1_EdgeCases(t *testing.T) {
	require.Equal(t, 1.0, Rouge1F1("", ""))
	require.Equal(t, 0.0, Rouge1F1("something", ""))
	require.Equal(t, 0.0, Rouge1F1("", "something"))
	require.Equal(t, 0.0, Rouge1F1("alpha beta", "gamma delta"))
}

func TestRougeLF1_IdenticalTextIsOne(t *testing.T) {
	text := "the application deadline is january 15"
	require.Equal(t, 1.0, RougeLF1(text, text))
}

func TestRougeLF1_OrderMatters(t *testing.T) {
	// Same bag of tokens, different order: ROUGE-1 stays perfect while
	// ROUGE-L drops with the longest common subsequence.
	ref := "a b c d"
	cand := "d c b a"
	require.Equal(t, 1.0, Rouge1F1(ref, cand))
	require.InDelta(t, 0.25, RougeLF1(ref, cand), 1e-9)
}

func TestRougeLF1_Subsequence(t *testing.T) {
	// LCS of (a b c d e) and (a x c y e) is a c e.
	require.InDelta(t, 0.6, RougeLF1("a b c d e", "a x c y e"), 1e-9)
}

func TestRougeLF1_EdgeCases(t *testing.T) {
	require.Equal(t, 1.0, RougeLF1("", ""))
	require.Equal(t, 0.0, RougeLF1("x", ""))
	require.Equal(t, 0.0, RougeLF1("", "x"))
}

func TestMetrics_RangeZeroToOne(t *testing.T) {
	cases := [][2]string{
		{"how much is tuition", "tuition costs 10000 usd per year"},
		{"deadline", "the deadline deadline deadline"},
		{"a", "b"},
		{"x y z", "x y z"},
	}
	for _, c := range cases {
		prf := TokenSetPRF1(c[0], c[1])
		for _, v := range []float64{prf.Precision, prf.Recall, prf.F1, Rouge1F1(c[0], c[1]), RougeLF1(c[0], c[1])} {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestDotSimilarity_MismatchedDimensions(t *testing.T) {
	_, err := DotSimilarity([]float32{1, 0}, []float32{1, 0, 0})
	require.Error(t, err)
}

func TestDotSimilarity_UnitVectors(t *testing.T) {
	sim, err := DotSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	require.NoError(t, err)
	require.InDelta(t, 1.0, sim, 1e-9)

	sim, err = DotSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0})
	require.NoError(t, err)
	require.InDelta(t, 0.0, sim, 1e-9)
}
