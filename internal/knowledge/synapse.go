package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisperengine-ai/whisperengine-v2-sub004/internal/memory"
)

// Synapse mirrors vector fragments into the graph so retrieval can walk
// from a memory to the entities it mentions and back out to related
// memories. It satisfies the memory store's bridge contract; the store
// treats every call as best-effort.
type Synapse struct {
	graph  *Graph
	config *SynapseConfig
	logger *logrus.Logger
}

var _ memory.SynapseBridge = (*Synapse)(nil)

// NewSynapse creates a Synapse over an existing graph handle.
func NewSynapse(graph *Graph, config *SynapseConfig, logger *logrus.Logger) (*Synapse, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph handle is required")
	}
	if config == nil {
		config = DefaultSynapseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid synapse config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &Synapse{
		graph:  graph,
		config: config,
		logger: logger,
	}, nil
}

const (
	cypherMirrorMemory = "MERGE (u:User {id: $ownerID})\n" +
		"MERGE (m:Memory {vector_id: $vectorID})\n" +
		"SET m.content = $snippet, m.source_type = $sourceType, m.bot_name = $botName, m.timestamp = datetime($timestamp)\n" +
		"MERGE (u)-[:REMEMBERS]->(m)\n" +
		"RETURN m.vector_id AS vector_id"

	cypherLinkEntities = "MATCH (m:Memory {vector_id: $vectorID})\n" +
		"UNWIND $names AS name\n" +
		"MERGE (e:Entity {name: name})\n" +
		"ON CREATE SET e.created_at = datetime($now)\n" +
		"MERGE (m)-[:MENTIONS]->(e)\n" +
		"RETURN count(e) AS linked"

	cypherDeleteOwnerMirrors = "MATCH (:User {id: $ownerID})-[:REMEMBERS]->(m:Memory)\n" +
		"DETACH DELETE m\n" +
		"RETURN count(m) AS n"

	cypherDeleteOwnerBotMirrors = "MATCH (:User {id: $ownerID})-[:REMEMBERS]->(m:Memory {bot_name: $botName})\n" +
		"DETACH DELETE m\n" +
		"RETURN count(m) AS n"

	cypherNeighborsShared = "MATCH (m:Memory)-[:MENTIONS]->(e:Entity)<-[:MENTIONS]-(n:Memory)\n" +
		"WHERE m.vector_id IN $ids AND NOT n.vector_id IN $ids\n" +
		"RETURN n.vector_id AS vector_id, n.content AS snippet, collect(DISTINCT e.name) AS shared, count(DISTINCT e) AS weight\n" +
		"ORDER BY weight DESC\n" +
		"LIMIT $limit"

	cypherNeighborsSecondHop = "MATCH (m:Memory)-[:MENTIONS]->(:Entity)--(f:Entity)<-[:MENTIONS]-(n:Memory)\n" +
		"WHERE m.vector_id IN $ids AND NOT n.vector_id IN $ids\n" +
		"RETURN n.vector_id AS vector_id, n.content AS snippet, collect(DISTINCT f.name) AS shared, count(DISTINCT f) AS weight\n" +
		"ORDER BY weight DESC\n" +
		"LIMIT $limit"
)

// MirrorMemory upserts the graph twin of a vector fragment, keyed by
// vector id, and attaches it to its owner.
func (s *Synapse) MirrorMemory(ctx context.Context, req memory.MirrorRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	if strings.TrimSpace(req.VectorID) == "" {
		return fmt.Errorf("vector id is required")
	}

	params := map[string]interface{}{
		"ownerID":    req.OwnerID,
		"vectorID":   req.VectorID,
		"snippet":    truncateRunes(req.Content, s.config.SnippetLength),
		"sourceType": string(req.SourceType),
		"botName":    req.BotName,
		"timestamp":  req.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.graph.write(ctx, cypherMirrorMemory, params); err != nil {
		return fmt.Errorf("failed to mirror memory: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"owner_id":  req.OwnerID,
		"vector_id": req.VectorID,
	}).Debug("Memory mirrored to graph")
	return nil
}

// LinkEntities connects a mirrored memory to the entities extracted
// from its content. Unknown vector ids match nothing and link nothing.
func (s *Synapse) LinkEntities(ctx context.Context, vectorID string, entities []string) error {
	if strings.TrimSpace(vectorID) == "" {
		return fmt.Errorf("vector id is required")
	}

	names := make([]interface{}, 0, len(entities))
	for _, name := range entities {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}

	params := map[string]interface{}{
		"vectorID": vectorID,
		"names":    names,
		"now":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.graph.write(ctx, cypherLinkEntities, params); err != nil {
		return fmt.Errorf("failed to link entities: %w", err)
	}
	return nil
}

// DeleteOwnerMirrors removes an owner's Memory nodes, optionally only
// those written by one character. User and Entity nodes stay; entities
// left disconnected are the orphan pruner's to collect.
func (s *Synapse) DeleteOwnerMirrors(ctx context.Context, ownerID, botName string) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("owner id is required")
	}

	query := cypherDeleteOwnerMirrors
	params := map[string]interface{}{"ownerID": ownerID}
	if botName != "" {
		query = cypherDeleteOwnerBotMirrors
		params["botName"] = botName
	}

	rows, err := s.graph.write(ctx, query, params)
	if err != nil {
		return fmt.Errorf("failed to delete owner mirrors: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"bot_name": botName,
		"removed":  firstCount(rows, "n"),
	}).Info("Owner memory mirrors deleted")
	return nil
}

// Neighbor is a memory found by walking the graph from a retrieved set.
type Neighbor struct {
	VectorID       string   `json:"vector_id"`
	Snippet        string   `json:"snippet"`
	SharedEntities []string `json:"shared_entities"`
	Weight         int64    `json:"weight"`
	Distance       int      `json:"distance"`
}

// Neighborhood finds memories related to the given vector ids through
// shared entities. Depth 1 requires a directly shared entity; depth 2
// also walks one entity-to-entity edge, and a failure on that second
// hop degrades the result instead of failing the call.
func (s *Synapse) Neighborhood(ctx context.Context, vectorIDs []string) ([]Neighbor, error) {
	ids := make([]interface{}, 0, len(vectorIDs))
	for _, id := range vectorIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	params := map[string]interface{}{"ids": ids, "limit": s.config.MaxNeighbors}
	rows, err := s.graph.read(ctx, cypherNeighborsShared, params)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory neighborhood: %w", err)
	}
	neighbors := collectNeighbors(rows, 1, nil)

	if s.config.NeighborhoodDepth >= 2 {
		seen := make(map[string]bool, len(neighbors))
		for _, n := range neighbors {
			seen[n.VectorID] = true
		}
		second, err := s.graph.read(ctx, cypherNeighborsSecondHop, params)
		if err != nil {
			s.logger.WithError(err).Warn("Second-hop neighborhood query failed")
		} else {
			neighbors = append(neighbors, collectNeighbors(second, 2, seen)...)
		}
	}

	if len(neighbors) > s.config.MaxNeighbors {
		neighbors = neighbors[:s.config.MaxNeighbors]
	}
	return neighbors, nil
}

func collectNeighbors(rows []Record, distance int, seen map[string]bool) []Neighbor {
	neighbors := make([]Neighbor, 0, len(rows))
	for _, row := range rows {
		id := recordString(row, "vector_id")
		if id == "" || seen[id] {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			VectorID:       id,
			Snippet:        recordString(row, "snippet"),
			SharedEntities: recordStrings(row, "shared"),
			Weight:         recordInt(row, "weight"),
			Distance:       distance,
		})
	}
	return neighbors
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
