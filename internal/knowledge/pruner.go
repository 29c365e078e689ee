package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/metrics"
)

// Strategy names used in reports, logs and metrics.
const (
	StrategyOrphans       = "orphan_entities"
	StrategyStaleFacts    = "stale_facts"
	StrategyDuplicates    = "duplicate_entities"
	StrategyLowConfidence = "low_confidence_facts"
)

const epochISO = "1970-01-01T00:00:00Z"

// PruneReport aggregates one maintenance pass.
type PruneReport struct {
	DryRun               bool          `json:"dry_run"`
	StartedAt            time.Time     `json:"started_at"`
	Duration             time.Duration `json:"duration"`
	OrphansRemoved       int64         `json:"orphans_removed"`
	StaleFactsRemoved    int64         `json:"stale_facts_removed"`
	DuplicatesMerged     int64         `json:"duplicates_merged"`
	LowConfidenceRemoved int64         `json:"low_confidence_removed"`
	NodesBefore          int64         `json:"nodes_before"`
	NodesAfter           int64         `json:"nodes_after"`
	EdgesBefore          int64         `json:"edges_before"`
	EdgesAfter           int64         `json:"edges_after"`
	Errors               []string      `json:"errors,omitempty"`
}

// TotalRemoved sums the per-strategy counts. In a dry run these are the
// items that would have been removed.
func (r *PruneReport) TotalRemoved() int64 {
	return r.OrphansRemoved + r.StaleFactsRemoved + r.DuplicatesMerged + r.LowConfidenceRemoved
}

// MarshalJSON implements custom JSON marshaling
func (r *PruneReport) MarshalJSON() ([]byte, error) {
	type Alias PruneReport
	return json.Marshal(&struct {
		*Alias
		DurationMs int64 `json:"duration_ms"`
	}{
		Alias:      (*Alias)(r),
		DurationMs: r.Duration.Milliseconds(),
	})
}

// GraphHealth is a read-only snapshot of graph size and GC pressure.
type GraphHealth struct {
	Nodes              int64     `json:"nodes"`
	Relationships      int64     `json:"relationships"`
	Entities           int64     `json:"entities"`
	MemoryMirrors      int64     `json:"memory_mirrors"`
	OrphanEntities     int64     `json:"orphan_entities"`
	StaleFacts         int64     `json:"stale_facts"`
	DuplicateEntities  int64     `json:"duplicate_entities"`
	LowConfidenceFacts int64     `json:"low_confidence_facts"`
	CollectedAt        time.Time `json:"collected_at"`
}

// Pruner runs the graph maintenance strategies. Each strategy matches
// only data owned by the configured character and respects its grace
// period; strategies are independent and one failing never blocks the
// rest.
type Pruner struct {
	graph   *Graph
	config  *PruneConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger
	clock   func() time.Time
}

// NewPruner creates a Pruner over an existing graph handle.
func NewPruner(graph *Graph, config *PruneConfig, m *metrics.Metrics, logger *logrus.Logger) (*Pruner, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph handle is required")
	}
	if config == nil {
		config = DefaultPruneConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid prune config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Pruner{
		graph:   graph,
		config:  config,
		metrics: m,
		logger:  logger,
		clock:   time.Now,
	}, nil
}

const (
	cypherCountOrphans = "MATCH (e:Entity)\n" +
		"WHERE NOT (e)--() AND coalesce(e.created_at, datetime($epoch)) < datetime($cutoff)\n" +
		"RETURN count(e) AS n"

	cypherDeleteOrphans = "MATCH (e:Entity)\n" +
		"WHERE NOT (e)--() AND coalesce(e.created_at, datetime($epoch)) < datetime($cutoff)\n" +
		"DETACH DELETE e\n" +
		"RETURN count(e) AS n"

	cypherCountStaleFacts = "MATCH ()-[r:FACT]->()\n" +
		"WHERE r.source_bot = $bot AND r.updated_at < datetime($cutoff) AND (r.last_accessed IS NULL OR r.last_accessed < datetime($cutoff)) AND coalesce(r.access_count, 0) < $maxAccess\n" +
		"RETURN count(r) AS n"

	cypherDeleteStaleFacts = "MATCH ()-[r:FACT]->()\n" +
		"WHERE r.source_bot = $bot AND r.updated_at < datetime($cutoff) AND (r.last_accessed IS NULL OR r.last_accessed < datetime($cutoff)) AND coalesce(r.access_count, 0) < $maxAccess\n" +
		"DELETE r\n" +
		"RETURN count(r) AS n"

	cypherDuplicateGroups = "MATCH (e:Entity)\n" +
		"WITH toLower(e.name) AS key, collect(e.name) AS names\n" +
		"WHERE size(names) > 1\n" +
		"RETURN key, names\n" +
		"ORDER BY key"

	cypherEntityDegree = "MATCH (e:Entity {name: $name})\n" +
		"OPTIONAL MATCH (e)-[r]-()\n" +
		"RETURN count(r) AS degree"

	cypherRepointIncomingFacts = "MATCH (s)-[r:FACT]->(d:Entity {name: $duplicate})\n" +
		"MATCH (k:Entity {name: $survivor})\n" +
		"MERGE (s)-[m:FACT {predicate: r.predicate}]->(k)\n" +
		"ON CREATE SET m = properties(r)\n" +
		"ON MATCH SET m.mention_count = coalesce(m.mention_count, 1) + coalesce(r.mention_count, 1), m.confidence = CASE WHEN coalesce(r.confidence, 0.0) > coalesce(m.confidence, 0.0) THEN r.confidence ELSE m.confidence END\n" +
		"DELETE r\n" +
		"RETURN count(r) AS moved"

	cypherRepointIsA = "MATCH (d:Entity {name: $duplicate})-[r:IS_A]->(t)\n" +
		"MATCH (k:Entity {name: $survivor})\n" +
		"WHERE t <> k\n" +
		"MERGE (k)-[m:IS_A]->(t)\n" +
		"ON CREATE SET m = properties(r)\n" +
		"DELETE r\n" +
		"RETURN count(r) AS moved"

	cypherRepointBelongsTo = "MATCH (d:Entity {name: $duplicate})-[r:BELONGS_TO]->(t)\n" +
		"MATCH (k:Entity {name: $survivor})\n" +
		"WHERE t <> k\n" +
		"MERGE (k)-[m:BELONGS_TO]->(t)\n" +
		"ON CREATE SET m = properties(r)\n" +
		"DELETE r\n" +
		"RETURN count(r) AS moved"

	cypherDropEntity = "MATCH (d:Entity {name: $name})\n" +
		"DETACH DELETE d\n" +
		"RETURN count(d) AS n"

	cypherCountLowConfidence = "MATCH ()-[r:FACT]->()\n" +
		"WHERE r.source_bot = $bot AND r.confidence < $floor AND r.created_at < datetime($cutoff)\n" +
		"RETURN count(r) AS n"

	cypherDeleteLowConfidence = "MATCH ()-[r:FACT]->()\n" +
		"WHERE r.source_bot = $bot AND r.confidence < $floor AND r.created_at < datetime($cutoff)\n" +
		"DELETE r\n" +
		"RETURN count(r) AS n"

	cypherCountEntities = "MATCH (e:Entity) RETURN count(e) AS n"
	cypherCountMemories = "MATCH (m:Memory) RETURN count(m) AS n"
)

// PruneOrphans removes entities with no relationships in either
// direction, once they are older than the grace period.
func (p *Pruner) PruneOrphans(ctx context.Context, dryRun bool) (int64, error) {
	cutoff := p.clock().UTC().Add(-p.config.OrphanGrace).Format(time.RFC3339Nano)
	params := map[string]interface{}{"cutoff": cutoff, "epoch": epochISO}

	if dryRun {
		rows, err := p.graph.read(ctx, cypherCountOrphans, params)
		if err != nil {
			return 0, fmt.Errorf("failed to count orphan entities: %w", err)
		}
		return firstCount(rows, "n"), nil
	}

	rows, err := p.graph.write(ctx, cypherDeleteOrphans, params)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan entities: %w", err)
	}
	return firstCount(rows, "n"), nil
}

// PruneStaleFacts removes this character's fact edges that aged past the
// retention window without being accessed enough to keep.
func (p *Pruner) PruneStaleFacts(ctx context.Context, dryRun bool) (int64, error) {
	cutoff := p.clock().UTC().Add(-p.config.StaleRetention).Format(time.RFC3339Nano)
	params := map[string]interface{}{
		"cutoff":    cutoff,
		"bot":       p.graph.config.BotName,
		"maxAccess": p.config.StaleMaxAccess,
	}

	query := cypherDeleteStaleFacts
	if dryRun {
		query = cypherCountStaleFacts
	}
	rows, err := p.runCount(ctx, query, params, dryRun)
	if err != nil {
		return 0, fmt.Errorf("failed to prune stale facts: %w", err)
	}
	return rows, nil
}

// PruneLowConfidenceFacts removes this character's facts that stayed
// below the confidence floor past the grace period.
func (p *Pruner) PruneLowConfidenceFacts(ctx context.Context, dryRun bool) (int64, error) {
	cutoff := p.clock().UTC().Add(-p.config.LowConfidenceGrace).Format(time.RFC3339Nano)
	params := map[string]interface{}{
		"cutoff": cutoff,
		"bot":    p.graph.config.BotName,
		"floor":  p.config.LowConfidenceFloor,
	}

	query := cypherDeleteLowConfidence
	if dryRun {
		query = cypherCountLowConfidence
	}
	rows, err := p.runCount(ctx, query, params, dryRun)
	if err != nil {
		return 0, fmt.Errorf("failed to prune low-confidence facts: %w", err)
	}
	return rows, nil
}

func (p *Pruner) runCount(ctx context.Context, query string, params map[string]interface{}, dryRun bool) (int64, error) {
	var rows []Record
	var err error
	if dryRun {
		rows, err = p.graph.read(ctx, query, params)
	} else {
		rows, err = p.graph.write(ctx, query, params)
	}
	if err != nil {
		return 0, err
	}
	return firstCount(rows, "n"), nil
}

// MergeDuplicateEntities folds entities sharing a case-insensitive name
// into the one with the most relationships. Incoming FACT edges and
// outgoing IS_A/BELONGS_TO edges are re-pointed to the survivor keeping
// their properties; the duplicates are then detach-deleted. Returns the
// number of duplicate nodes removed (or counted, in a dry run).
func (p *Pruner) MergeDuplicateEntities(ctx context.Context, dryRun bool) (int64, error) {
	rows, err := p.graph.read(ctx, cypherDuplicateGroups, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to find duplicate entities: %w", err)
	}

	var merged int64
	for _, row := range rows {
		names := recordStrings(row, "names")
		if len(names) < 2 {
			continue
		}

		survivor, losers, err := p.electSurvivor(ctx, names)
		if err != nil {
			return merged, err
		}
		if dryRun {
			merged += int64(len(losers))
			continue
		}

		for _, dup := range losers {
			if err := p.absorbEntity(ctx, dup, survivor); err != nil {
				return merged, fmt.Errorf("failed to merge entity %q into %q: %w", dup, survivor, err)
			}
			merged++
			p.logger.WithFields(logrus.Fields{
				"duplicate": dup,
				"survivor":  survivor,
			}).Info("Duplicate entity merged")
		}
	}
	return merged, nil
}

// electSurvivor ranks group members by relationship count, ties broken
// by name for determinism.
func (p *Pruner) electSurvivor(ctx context.Context, names []string) (string, []string, error) {
	type ranked struct {
		name   string
		degree int64
	}

	members := make([]ranked, 0, len(names))
	for _, name := range names {
		rows, err := p.graph.read(ctx, cypherEntityDegree, map[string]interface{}{"name": name})
		if err != nil {
			return "", nil, fmt.Errorf("failed to rank entity %q: %w", name, err)
		}
		members = append(members, ranked{name: name, degree: firstCount(rows, "degree")})
	}

	sort.SliceStable(members, func(i, j int) bool {
		if members[i].degree != members[j].degree {
			return members[i].degree > members[j].degree
		}
		return members[i].name < members[j].name
	})

	losers := make([]string, 0, len(members)-1)
	for _, m := range members[1:] {
		losers = append(losers, m.name)
	}
	return members[0].name, losers, nil
}

func (p *Pruner) absorbEntity(ctx context.Context, dup, survivor string) error {
	params := map[string]interface{}{"duplicate": dup, "survivor": survivor}

	if _, err := p.graph.write(ctx, cypherRepointIncomingFacts, params); err != nil {
		return fmt.Errorf("failed to re-point fact edges: %w", err)
	}
	for _, query := range []string{cypherRepointIsA, cypherRepointBelongsTo} {
		if _, err := p.graph.write(ctx, query, params); err != nil {
			return fmt.Errorf("failed to re-point structural edges: %w", err)
		}
	}
	if _, err := p.graph.write(ctx, cypherDropEntity, map[string]interface{}{"name": dup}); err != nil {
		return fmt.Errorf("failed to drop duplicate entity: %w", err)
	}
	return nil
}

// RunFullPrune executes all four strategies. A strategy's failure is
// recorded in the report and the remaining strategies still run. With
// dryRun set, matching logic is identical but nothing is mutated.
func (p *Pruner) RunFullPrune(ctx context.Context, dryRun bool) (*PruneReport, error) {
	started := p.clock()
	report := &PruneReport{DryRun: dryRun, StartedAt: started.UTC()}

	var err error
	if report.NodesBefore, err = p.graph.NodeCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count graph nodes: %w", err)
	}
	if report.EdgesBefore, err = p.graph.RelationshipCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count graph relationships: %w", err)
	}

	run := func(strategy string, fn func(context.Context, bool) (int64, error), out *int64) {
		n, err := fn(ctx, dryRun)
		*out = n
		if err != nil {
			p.logger.WithError(err).WithField("strategy", strategy).Warn("Prune strategy failed")
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", strategy, err))
			return
		}
		if !dryRun && n > 0 && p.metrics != nil {
			p.metrics.PruneDeletions.WithLabelValues(strategy).Add(float64(n))
		}
	}

	run(StrategyOrphans, p.PruneOrphans, &report.OrphansRemoved)
	run(StrategyStaleFacts, p.PruneStaleFacts, &report.StaleFactsRemoved)
	run(StrategyDuplicates, p.MergeDuplicateEntities, &report.DuplicatesMerged)
	run(StrategyLowConfidence, p.PruneLowConfidenceFacts, &report.LowConfidenceRemoved)

	if report.NodesAfter, err = p.graph.NodeCount(ctx); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("post-run node count: %v", err))
	}
	if report.EdgesAfter, err = p.graph.RelationshipCount(ctx); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("post-run relationship count: %v", err))
	}
	report.Duration = p.clock().Sub(started)

	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	if p.metrics != nil {
		p.metrics.PruneRuns.WithLabelValues(mode).Inc()
		p.metrics.PruneDuration.Observe(report.Duration.Seconds())
	}

	p.logger.WithFields(logrus.Fields{
		"dry_run":  dryRun,
		"removed":  report.TotalRemoved(),
		"errors":   len(report.Errors),
		"duration": report.Duration,
	}).Info("Graph maintenance completed")

	return report, nil
}

// HealthReport collects the counts every strategy would act on, without
// deleting anything.
func (p *Pruner) HealthReport(ctx context.Context) (*GraphHealth, error) {
	health := &GraphHealth{CollectedAt: p.clock().UTC()}

	var err error
	if health.Nodes, err = p.graph.NodeCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}
	if health.Relationships, err = p.graph.RelationshipCount(ctx); err != nil {
		return nil, fmt.Errorf("failed to count relationships: %w", err)
	}
	if health.Entities, err = p.graph.singleCount(ctx, cypherCountEntities, nil); err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	if health.MemoryMirrors, err = p.graph.singleCount(ctx, cypherCountMemories, nil); err != nil {
		return nil, fmt.Errorf("failed to count memory mirrors: %w", err)
	}
	if health.OrphanEntities, err = p.PruneOrphans(ctx, true); err != nil {
		return nil, err
	}
	if health.StaleFacts, err = p.PruneStaleFacts(ctx, true); err != nil {
		return nil, err
	}
	if health.DuplicateEntities, err = p.MergeDuplicateEntities(ctx, true); err != nil {
		return nil, err
	}
	if health.LowConfidenceFacts, err = p.PruneLowConfidenceFacts(ctx, true); err != nil {
		return nil, err
	}
	return health, nil
}
