// Package extraction wraps the text collaborators: the fact extractor
// that pulls (predicate, object, confidence) triples out of conversation
// text, and the query translator that turns a question into a graph
// query string. Both are untrusted. Their output is sanitized here and
// gated again at the graph boundary before anything executes.
package extraction

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// NoAnswer is the translator's refusal token. Output that fails the
// downstream query gate is treated the same way.
const NoAnswer = "NO_ANSWER"

// maxObjectLen bounds entity names so a rambling model cannot graft a
// paragraph onto the graph.
const maxObjectLen = 200

// Fact is one extracted triple, relative to an implicit subject.
type Fact struct {
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Extractor pulls structured facts out of free-form text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Fact, error)
}

// Translator turns a natural-language question into a read-only graph
// query referencing the $subject parameter, or NoAnswer.
type Translator interface {
	Translate(ctx context.Context, question string) (string, error)
}

// IsNoAnswer reports whether translator output declines the question.
// Empty output counts as a refusal.
func IsNoAnswer(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, NoAnswer)
}

// Sanitize drops unusable triples and clamps the rest: empty predicates
// or objects are discarded, confidence is forced into [0, 1], objects
// are truncated to maxObjectLen. Predicate canonicalization is owned by
// the graph layer.
func Sanitize(facts []Fact) []Fact {
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		f.Predicate = strings.TrimSpace(f.Predicate)
		f.Object = strings.TrimSpace(f.Object)
		if f.Predicate == "" || f.Object == "" {
			continue
		}
		if len(f.Object) > maxObjectLen {
			f.Object = f.Object[:maxObjectLen]
		}
		if f.Confidence < 0 {
			f.Confidence = 0
		}
		if f.Confidence > 1 {
			f.Confidence = 1
		}
		out = append(out, f)
	}
	return out
}

// New selects implementations from config: LLM-backed when a model
// endpoint is configured, rule-based otherwise.
func New(config Config, logger *logrus.Logger) (Extractor, Translator, error) {
	if config.BaseURL == "" {
		if logger != nil {
			logger.Info("No extraction endpoint configured, using rule-based extraction")
		}
		return NewRuleExtractor(logger), NewRuleTranslator(logger), nil
	}

	extractor, err := NewHTTPExtractor(config, logger)
	if err != nil {
		return nil, nil, err
	}
	translator, err := NewHTTPTranslator(config, logger)
	if err != nil {
		return nil, nil, err
	}
	return extractor, translator, nil
}

// NoopExtractor extracts nothing. Used when fact extraction is disabled.
type NoopExtractor struct{}

// Extract always returns no facts.
func (NoopExtractor) Extract(context.Context, string) ([]Fact, error) { return nil, nil }

// NoopTranslator declines every question.
type NoopTranslator struct{}

// Translate always returns NoAnswer.
func (NoopTranslator) Translate(context.Context, string) (string, error) { return NoAnswer, nil }

var (
	_ Extractor  = NoopExtractor{}
	_ Translator = NoopTranslator{}
)
