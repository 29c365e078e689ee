package extraction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	long := strings.Repeat("x", maxObjectLen+50)
	in := []Fact{
		{Predicate: " LIVES_IN ", Object: " Portland ", Confidence: 0.9},
		{Predicate: "", Object: "Portland", Confidence: 0.9},
		{Predicate: "LIKES", Object: "   ", Confidence: 0.9},
		{Predicate: "LIKES", Object: long, Confidence: 1.7},
		{Predicate: "HATES", Object: "rain", Confidence: -0.2},
	}

	out := Sanitize(in)
	require.Len(t, out, 3)
	assert.Equal(t, Fact{Predicate: "LIVES_IN", Object: "Portland", Confidence: 0.9}, out[0])
	assert.Len(t, out[1].Object, maxObjectLen)
	assert.Equal(t, 1.0, out[1].Confidence)
	assert.Equal(t, Fact{Predicate: "HATES", Object: "rain", Confidence: 0}, out[2])
}

func TestSanitizeEmpty(t *testing.T) {
	assert.Empty(t, Sanitize(nil))
	assert.Empty(t, Sanitize([]Fact{}))
}

func TestIsNoAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"NO_ANSWER", true},
		{"no_answer", true},
		{"  NO_ANSWER  ", true},
		{"", true},
		{"   ", true},
		{"MATCH (n) RETURN n", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsNoAnswer(tt.in), tt.in)
	}
}

func TestNewSelectsImplementations(t *testing.T) {
	extractor, translator, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.IsType(t, &RuleExtractor{}, extractor)
	assert.IsType(t, &RuleTranslator{}, translator)

	cfg := DefaultConfig()
	cfg.BaseURL = "http://localhost:11434/v1"
	extractor, translator, err = New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPExtractor{}, extractor)
	assert.IsType(t, &HTTPTranslator{}, translator)

	cfg.Model = ""
	_, _, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()

	facts, err := NoopExtractor{}.Extract(ctx, "I live in Portland.")
	assert.NoError(t, err)
	assert.Nil(t, facts)

	answer, err := NoopTranslator{}.Translate(ctx, "Where do I live?")
	assert.NoError(t, err)
	assert.True(t, IsNoAnswer(answer))
}

func TestExtractionConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.BaseURL)

	cfg.BaseURL = "http://localhost:11434/v1"
	assert.NoError(t, cfg.Validate())

	cfg.Model = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")

	cfg = Config{Model: "test"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is required")
}
