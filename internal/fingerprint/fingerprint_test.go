package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashIsStable(t *testing.T) {
	assert.Equal(t, Hash("hello world"), Hash("hello world"))
	assert.NotEqual(t, Hash("hello world"), Hash("hello worlds"))
}

func TestHashFormat(t *testing.T) {
	assert.Len(t, Hash(""), 8)
	assert.Len(t, Hash("some longer content with many words"), 8)
}

func TestSimilarityIdenticalContent(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("pricing page basic plan", "pricing page basic plan"))
}

func TestSimilarityIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Basic Plan", "basic plan"))
}

func TestSimilarityDisjointContent(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("alpha beta", "gamma delta"))
}

func TestSimilarityBothEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("", ""))
}

func TestSimilarityOneEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("some words", ""))
}

func TestSimilarityPartialOverlap(t *testing.T) {
	// {a, b, c} vs {b, c, d}: intersection 2, union 4
	sim := Similarity("a b c", "b c d")
	assert.InDelta(t, 0.5, sim, 1e-9)
}

func TestSimilarityBounds(t *testing.T) {
	sim := Similarity("one two three four five", "three four five six")
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestSimilarityIgnoresDuplicateWords(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("plan plan plan basic", "basic plan"))
}
