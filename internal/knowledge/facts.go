package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SubjectKind selects the node label a fact hangs off.
type SubjectKind string

const (
	SubjectUser      SubjectKind = "user"
	SubjectCharacter SubjectKind = "character"
)

// Subject identifies the owner side of a fact edge: a User keyed by id,
// or a Character keyed by name.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	Key  string      `json:"key"`
}

// UserSubject keys a subject to a platform user.
func UserSubject(id string) Subject {
	return Subject{Kind: SubjectUser, Key: id}
}

// CharacterSubject keys a subject to one of the platform's characters.
func CharacterSubject(name string) Subject {
	return Subject{Kind: SubjectCharacter, Key: name}
}

// Validate checks the subject is usable in a query.
func (s Subject) Validate() error {
	if strings.TrimSpace(s.Key) == "" {
		return fmt.Errorf("subject key is required")
	}
	switch s.Kind {
	case SubjectUser, SubjectCharacter:
		return nil
	default:
		return fmt.Errorf("unknown subject kind: %q", s.Kind)
	}
}

// subjectPattern returns the match fragment for a kind. Kinds are a
// closed set, so the label interpolation never sees caller input.
func subjectPattern(kind SubjectKind) string {
	if kind == SubjectCharacter {
		return "(s:Character {name: $subject})"
	}
	return "(s:User {id: $subject})"
}

// singleValuePredicates admit at most one live object per subject;
// writing a new fact of one of these first drops every previous edge of
// the same predicate for that subject.
var singleValuePredicates = map[string]bool{
	"LIVES_IN":   true,
	"HAS_NAME":   true,
	"WORKS_AT":   true,
	"BORN_IN":    true,
	"HAS_AGE":    true,
	"MARRIED_TO": true,
}

// antonymPredicates lists, per predicate, the opposites that may not
// point from the same subject at the same object simultaneously.
var antonymPredicates = map[string][]string{
	"LIKES":    {"HATES", "DISLIKES"},
	"LOVES":    {"HATES", "DISLIKES"},
	"HATES":    {"LIKES", "LOVES"},
	"DISLIKES": {"LIKES", "LOVES"},
}

var predicatePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// NormalizePredicate maps free-form extractor output onto the canonical
// uppercase verb form.
func NormalizePredicate(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, " ", "_")
	p = strings.ReplaceAll(p, "-", "_")
	return p
}

// Fact is one (subject)-[FACT]->(entity) edge as returned by reads.
type Fact struct {
	Predicate    string    `json:"predicate"`
	Object       string    `json:"object"`
	Confidence   float64   `json:"confidence"`
	MentionCount int64     `json:"mention_count"`
	SourceBot    string    `json:"source_bot,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// MergeRequest is one observed fact to fold into the graph.
type MergeRequest struct {
	Subject    Subject `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	// SourceBot defaults to the handle's configured character.
	SourceBot string `json:"source_bot,omitempty"`
}

// Conflict paths a merge can take.
const (
	ResolutionCreated    = "created"
	ResolutionReinforced = "reinforced"
	ResolutionOverwrite  = "overwrite"
	ResolutionConflict   = "conflict"
)

// MergeOutcome reports which path a merge took and the edge's state.
type MergeOutcome struct {
	Resolution   string  `json:"resolution"`
	Removed      int64   `json:"removed"`
	Confidence   float64 `json:"confidence"`
	MentionCount int64   `json:"mention_count"`
}

func queryDeleteByPredicate(kind SubjectKind) string {
	return "MATCH " + subjectPattern(kind) + "-[r:FACT {predicate: $predicate}]->()\n" +
		"DELETE r\n" +
		"RETURN count(r) AS removed"
}

func queryAntonymSweep(kind SubjectKind) string {
	return "MATCH " + subjectPattern(kind) + "-[r:FACT]->(o:Entity {name: $object})\n" +
		"WHERE r.predicate IN $predicates\n" +
		"DELETE r\n" +
		"RETURN count(r) AS removed"
}

func queryMergeFact(kind SubjectKind) string {
	return "MERGE " + subjectPattern(kind) + "\n" +
		"MERGE (o:Entity {name: $object})\n" +
		"ON CREATE SET o.created_at = datetime($now)\n" +
		"MERGE (s)-[r:FACT {predicate: $predicate}]->(o)\n" +
		"ON CREATE SET r.confidence = $confidence, r.mention_count = 1, r.source_bot = $sourceBot, r.created_at = datetime($now), r.updated_at = datetime($now)\n" +
		"ON MATCH SET r.mention_count = r.mention_count + 1, r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END, r.updated_at = datetime($now)\n" +
		"RETURN r.confidence AS confidence, r.mention_count AS mention_count"
}

func queryFactsFor(kind SubjectKind) string {
	return "MATCH " + subjectPattern(kind) + "-[r:FACT]->(o:Entity)\n" +
		"WHERE $predicate = '' OR r.predicate = $predicate\n" +
		"RETURN r.predicate AS predicate, o.name AS object, r.confidence AS confidence, r.mention_count AS mention_count, r.source_bot AS source_bot, r.updated_at AS updated_at\n" +
		"ORDER BY r.updated_at DESC\n" +
		"LIMIT $limit"
}

func queryDeleteByObject(kind SubjectKind) string {
	return "MATCH " + subjectPattern(kind) + "-[r:FACT]->(o:Entity)\n" +
		"WHERE toLower(o.name) CONTAINS toLower($object)\n" +
		"DELETE r\n" +
		"RETURN count(r) AS removed"
}

func queryDeleteByPredicateAndObject(kind SubjectKind) string {
	return "MATCH " + subjectPattern(kind) + "-[r:FACT {predicate: $predicate}]->(o:Entity)\n" +
		"WHERE toLower(o.name) CONTAINS toLower($object)\n" +
		"DELETE r\n" +
		"RETURN count(r) AS removed"
}

// MergeFact folds one observation into the graph. Single-value
// predicates sweep the subject's previous edges of that predicate first;
// antonym predicates sweep the opposite edges toward the same object.
// Each step is idempotent, so a retried merge is safe.
func (g *Graph) MergeFact(ctx context.Context, req *MergeRequest) (*MergeOutcome, error) {
	if req == nil {
		return nil, fmt.Errorf("merge request is required")
	}
	if err := req.Subject.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fact subject: %w", err)
	}
	predicate := NormalizePredicate(req.Predicate)
	if !predicatePattern.MatchString(predicate) {
		return nil, fmt.Errorf("invalid predicate: %q", req.Predicate)
	}
	object := strings.TrimSpace(req.Object)
	if object == "" {
		return nil, fmt.Errorf("fact object is required")
	}

	confidence := req.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	sourceBot := strings.TrimSpace(req.SourceBot)
	if sourceBot == "" {
		sourceBot = g.config.BotName
	}

	outcome := &MergeOutcome{}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	switch {
	case singleValuePredicates[predicate]:
		rows, err := g.write(ctx, queryDeleteByPredicate(req.Subject.Kind), map[string]interface{}{
			"subject":   req.Subject.Key,
			"predicate": predicate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clear single-value predicate %s: %w", predicate, err)
		}
		outcome.Removed = firstCount(rows, "removed")
		if outcome.Removed > 0 {
			outcome.Resolution = ResolutionOverwrite
		}

	case len(antonymPredicates[predicate]) > 0:
		opposites := make([]interface{}, 0, len(antonymPredicates[predicate]))
		for _, p := range antonymPredicates[predicate] {
			opposites = append(opposites, p)
		}
		rows, err := g.write(ctx, queryAntonymSweep(req.Subject.Kind), map[string]interface{}{
			"subject":    req.Subject.Key,
			"object":     object,
			"predicates": opposites,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve antonym conflict for %s: %w", predicate, err)
		}
		outcome.Removed = firstCount(rows, "removed")
		if outcome.Removed > 0 {
			outcome.Resolution = ResolutionConflict
		}
	}

	rows, err := g.write(ctx, queryMergeFact(req.Subject.Kind), map[string]interface{}{
		"subject":    req.Subject.Key,
		"object":     object,
		"predicate":  predicate,
		"confidence": confidence,
		"sourceBot":  sourceBot,
		"now":        now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge fact: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("fact merge returned no row")
	}
	outcome.Confidence = recordFloat(rows[0], "confidence")
	outcome.MentionCount = recordInt(rows[0], "mention_count")
	if outcome.Resolution == "" {
		if outcome.MentionCount <= 1 {
			outcome.Resolution = ResolutionCreated
		} else {
			outcome.Resolution = ResolutionReinforced
		}
	}

	if g.metrics != nil {
		g.metrics.FactMerges.WithLabelValues(outcome.Resolution).Inc()
	}
	g.logger.WithFields(logrus.Fields{
		"subject":    req.Subject.Key,
		"predicate":  predicate,
		"object":     object,
		"resolution": outcome.Resolution,
	}).Debug("Fact merged")

	return outcome, nil
}

// QueryFacts returns the subject's facts, newest first, optionally
// filtered to one predicate. Plain read, no side effects.
func (g *Graph) QueryFacts(ctx context.Context, subject Subject, predicateFilter string) ([]Fact, error) {
	if err := subject.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fact subject: %w", err)
	}

	filter := ""
	if strings.TrimSpace(predicateFilter) != "" {
		filter = NormalizePredicate(predicateFilter)
		if !predicatePattern.MatchString(filter) {
			return nil, fmt.Errorf("invalid predicate filter: %q", predicateFilter)
		}
	}

	rows, err := g.read(ctx, queryFactsFor(subject.Kind), map[string]interface{}{
		"subject":   subject.Key,
		"predicate": filter,
		"limit":     g.config.FetchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}

	facts := make([]Fact, 0, len(rows))
	for _, row := range rows {
		facts = append(facts, Fact{
			Predicate:    recordString(row, "predicate"),
			Object:       recordString(row, "object"),
			Confidence:   recordFloat(row, "confidence"),
			MentionCount: recordInt(row, "mention_count"),
			SourceBot:    recordString(row, "source_bot"),
			UpdatedAt:    recordTime(row, "updated_at"),
		})
	}
	return facts, nil
}

// DeleteRequest scopes an explicit fact deletion. At least one of
// Predicate or ObjectMatch must be set; blanket deletes are refused.
type DeleteRequest struct {
	Subject     Subject `json:"subject"`
	Predicate   string  `json:"predicate,omitempty"`
	ObjectMatch string  `json:"object_match,omitempty"`
}

// DeleteFacts removes the subject's edges matching the request scope and
// returns how many were removed. Unscoped requests are rejected before
// any query runs.
func (g *Graph) DeleteFacts(ctx context.Context, req *DeleteRequest) (int64, error) {
	if req == nil {
		return 0, fmt.Errorf("delete request is required")
	}
	if err := req.Subject.Validate(); err != nil {
		return 0, fmt.Errorf("invalid fact subject: %w", err)
	}

	predicate := strings.TrimSpace(req.Predicate)
	objectMatch := strings.TrimSpace(req.ObjectMatch)
	if predicate == "" && objectMatch == "" {
		return 0, fmt.Errorf("refusing unscoped fact delete: predicate or object match is required")
	}
	if predicate != "" {
		predicate = NormalizePredicate(predicate)
		if !predicatePattern.MatchString(predicate) {
			return 0, fmt.Errorf("invalid predicate: %q", req.Predicate)
		}
	}

	var query string
	params := map[string]interface{}{"subject": req.Subject.Key}
	switch {
	case predicate != "" && objectMatch != "":
		query = queryDeleteByPredicateAndObject(req.Subject.Kind)
		params["predicate"] = predicate
		params["object"] = objectMatch
	case predicate != "":
		query = queryDeleteByPredicate(req.Subject.Kind)
		params["predicate"] = predicate
	default:
		query = queryDeleteByObject(req.Subject.Kind)
		params["object"] = objectMatch
	}

	rows, err := g.write(ctx, query, params)
	if err != nil {
		return 0, fmt.Errorf("failed to delete facts: %w", err)
	}

	removed := firstCount(rows, "removed")
	if removed > 0 && g.metrics != nil {
		g.metrics.FactDeletes.Add(float64(removed))
	}
	g.logger.WithFields(logrus.Fields{
		"subject":   req.Subject.Key,
		"predicate": predicate,
		"removed":   removed,
	}).Info("Facts deleted")
	return removed, nil
}
