package extraction

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// The rule implementations keep extraction working when no model
// endpoint is configured. They cover the first-person phrasings the
// platform sees most; anything else yields no facts.

type rulePattern struct {
	re         *regexp.Regexp
	predicate  string
	confidence float64
}

// objectTerm captures up to a clause boundary without swallowing the
// rest of a compound sentence.
const objectTerm = `\s+([^.!?,;\n]+?)(?:\s+(?:and|but|because|so|though)\s|[.!?,;\n]|$)`

var rulePatterns = []rulePattern{
	{regexp.MustCompile(`(?i)\bmy name is` + objectTerm), "HAS_NAME", 0.9},
	{regexp.MustCompile(`(?i)\bi (?:live|reside) in` + objectTerm), "LIVES_IN", 0.9},
	{regexp.MustCompile(`(?i)\bi (?:just )?moved to` + objectTerm), "LIVES_IN", 0.85},
	{regexp.MustCompile(`(?i)\bi work (?:at|for)` + objectTerm), "WORKS_AT", 0.85},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) married to` + objectTerm), "MARRIED_TO", 0.85},
	{regexp.MustCompile(`(?i)\bi (?:really |absolutely )?love` + objectTerm), "LOVES", 0.8},
	{regexp.MustCompile(`(?i)\bi (?:really )?(?:like|enjoy)` + objectTerm), "LIKES", 0.7},
	{regexp.MustCompile(`(?i)\bi (?:really |absolutely )?hate` + objectTerm), "HATES", 0.8},
	{regexp.MustCompile(`(?i)\bi (?:really )?dislike` + objectTerm), "DISLIKES", 0.7},
	{regexp.MustCompile(`(?i)\bi have (?:a|an|two|three|some)` + objectTerm), "HAS", 0.6},
}

// pronounObjects filters captures that carry no durable information.
var pronounObjects = map[string]bool{
	"it": true, "that": true, "this": true, "them": true,
	"him": true, "her": true, "you": true, "me": true, "us": true,
}

// RuleExtractor matches common first-person statements.
type RuleExtractor struct {
	logger *logrus.Logger
}

// NewRuleExtractor builds the pattern-based extractor.
func NewRuleExtractor(logger *logrus.Logger) *RuleExtractor {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleExtractor{logger: logger}
}

// Extract returns every pattern match, deduplicated on (predicate,
// object) keeping the highest confidence.
func (e *RuleExtractor) Extract(_ context.Context, text string) ([]Fact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var facts []Fact
	seen := make(map[string]int)
	for _, rule := range rulePatterns {
		for _, match := range rule.re.FindAllStringSubmatch(text, -1) {
			object := cleanObject(match[1])
			if object == "" || pronounObjects[strings.ToLower(object)] {
				continue
			}
			key := rule.predicate + "|" + strings.ToLower(object)
			if i, ok := seen[key]; ok {
				if rule.confidence > facts[i].Confidence {
					facts[i].Confidence = rule.confidence
				}
				continue
			}
			seen[key] = len(facts)
			facts = append(facts, Fact{
				Predicate:  rule.predicate,
				Object:     object,
				Confidence: rule.confidence,
			})
		}
	}

	if len(facts) > 0 {
		e.logger.WithField("count", len(facts)).Debug("Rule extraction matched")
	}
	return Sanitize(facts), nil
}

// cleanObject trims quotes and squeezes whitespace.
func cleanObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.Join(strings.Fields(s), " ")
}

// Translator queries come from this closed table. Predicate literals are
// compile-time constants, never caller input; the only runtime binding
// is the $subject parameter supplied by the engine.
const queryFactsAll = `MATCH (s:User {id: $subject})-[r:FACT]->(e:Entity) ` +
	`RETURN r.predicate AS predicate, e.name AS object, r.confidence AS confidence ` +
	`ORDER BY r.confidence DESC`

func queryByPredicates(predicates ...string) string {
	quoted := make([]string, len(predicates))
	for i, p := range predicates {
		quoted[i] = "'" + p + "'"
	}
	return `MATCH (s:User {id: $subject})-[r:FACT]->(e:Entity) ` +
		`WHERE r.predicate IN [` + strings.Join(quoted, ", ") + `] ` +
		`RETURN r.predicate AS predicate, e.name AS object, r.confidence AS confidence ` +
		`ORDER BY r.confidence DESC`
}

// RuleTranslator maps recognizable question shapes onto the closed query
// table. Unrecognized questions get NoAnswer rather than a guess.
type RuleTranslator struct {
	logger *logrus.Logger
}

// NewRuleTranslator builds the pattern-based translator.
func NewRuleTranslator(logger *logrus.Logger) *RuleTranslator {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleTranslator{logger: logger}
}

// Translate picks a query for the question, or declines.
func (t *RuleTranslator) Translate(_ context.Context, question string) (string, error) {
	q := strings.ToLower(strings.TrimSpace(question))
	q = strings.TrimSuffix(q, "?")
	if q == "" {
		return NoAnswer, nil
	}

	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}

	switch {
	case has("know about", "remember about", "about myself"):
		return queryFactsAll, nil
	case has("name"), q == "who am i":
		return queryByPredicates("HAS_NAME"), nil
	case has("where") && has("live", "stay", "from"):
		return queryByPredicates("LIVES_IN"), nil
	case has("work"):
		return queryByPredicates("WORKS_AT"), nil
	case has("married"):
		return queryByPredicates("MARRIED_TO"), nil
	// Dislike checks run before like: "dislike" contains "like".
	case has("hate", "dislike", "don't like", "do not like"):
		return queryByPredicates("HATES", "DISLIKES"), nil
	case has("like", "love", "enjoy", "favorite", "favourite"):
		return queryByPredicates("LIKES", "LOVES"), nil
	default:
		return NoAnswer, nil
	}
}

var (
	_ Extractor  = (*RuleExtractor)(nil)
	_ Translator = (*RuleTranslator)(nil)
)
