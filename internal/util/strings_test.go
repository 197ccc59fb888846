package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinOrNone(t *testing.T) {
	assert.Equal(t, "(none)", JoinOrNone(nil))
	assert.Equal(t, "(none)", JoinOrNone([]string{}))
	assert.Equal(t, "dgx-01", JoinOrNone([]string{"dgx-01"}))
	assert.Equal(t, "dgx-01, dgx-02", JoinOrNone([]string{"dgx-01", "dgx-02"}))
}

func TestJoinOrDefault(t *testing.T) {
	assert.Equal(t, "N/A", JoinOrDefault(nil, "N/A"))
	assert.Equal(t, "", JoinOrDefault([]string{}, ""))
	assert.Equal(t, "a, b", JoinOrDefault([]string{"a", "b"}, "default"))
}

func TestPluralize(t *testing.T) {
	tests := []struct {
		count int
		want  string
	}{
		{0, "GPUs"},
		{1, "GPU"},
		{2, "GPUs"},
		{-1, "GPUs"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Pluralize(tt.count, "GPU", "GPUs"))
	}
}

func TestSuggestSimilar(t *testing.T) {
	candidates := []string{"dgx-01", "dgx-02", "dgx-10", "trainer", "gpu-box", "dgx-01"}

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"missing zero", "dgx-1", []string{"dgx-01", "dgx-10", "dgx-02"}},
		{"transposed", "gpu-bxo", []string{"gpu-box"}},
		{"case insensitive", "TRAINER", []string{"trainer"}},
		{"exact match first", "dgx-02", []string{"dgx-02", "dgx-01", "dgx-10"}},
		{"nothing close", "storage", nil},
		{"empty input", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SuggestSimilar(tt.input, candidates, 2))
		})
	}
}

func TestSuggestSimilar_EmptyCandidates(t *testing.T) {
	assert.Nil(t, SuggestSimilar("dgx-01", nil, 3))
	assert.Nil(t, SuggestSimilar("dgx-01", []string{}, 3))
}
