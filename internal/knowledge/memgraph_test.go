package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGraph backs the package tests with an in-memory model of the
// graph. It implements cypherRunner by dispatching on the statements the
// package builds, so tests exercise the real merge, prune and mirror
// logic rather than the Cypher transport.
type fakeGraph struct {
	mu         sync.Mutex
	users      map[string]bool
	characters map[string]bool
	entities   map[string]*fakeEntity
	facts      []*fakeFact
	structural []*fakeStructural
	memories   map[string]*fakeMemory

	queries []string
	failOn  map[string]error
	canned  map[string][]Record
}

type fakeEntity struct {
	name      string
	createdAt time.Time
}

type fakeFact struct {
	kind         SubjectKind
	subject      string
	predicate    string
	object       string
	confidence   float64
	mentions     int64
	sourceBot    string
	createdAt    time.Time
	updatedAt    time.Time
	lastAccessed time.Time
	accessCount  int64
}

type fakeStructural struct {
	relType string
	from    string
	to      string
}

type fakeMemory struct {
	ownerID    string
	vectorID   string
	content    string
	sourceType string
	botName    string
	timestamp  time.Time
	mentions   map[string]bool
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		users:      map[string]bool{},
		characters: map[string]bool{},
		entities:   map[string]*fakeEntity{},
		memories:   map[string]*fakeMemory{},
		failOn:     map[string]error{},
		canned:     map[string][]Record{},
	}
}

// newTestGraph wires a Graph handle directly to the fake, skipping the
// driver connection.
func newTestGraph(t *testing.T, fake *fakeGraph) *Graph {
	t.Helper()
	g, err := NewGraph(DefaultGraphConfig().WithBotName("elena"), nil, testLogger())
	require.NoError(t, err)
	g.runner = fake
	g.connected = true
	return g
}

func (f *fakeGraph) Read(ctx context.Context, query string, params map[string]interface{}) ([]Record, error) {
	return f.run(query, params)
}

func (f *fakeGraph) Write(ctx context.Context, query string, params map[string]interface{}) ([]Record, error) {
	return f.run(query, params)
}

func (f *fakeGraph) run(query string, params map[string]interface{}) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, query)
	if err := f.failOn[query]; err != nil {
		return nil, err
	}
	if rows, ok := f.canned[query]; ok {
		return rows, nil
	}
	return f.dispatch(query, params)
}

func (f *fakeGraph) dispatch(query string, params map[string]interface{}) ([]Record, error) {
	switch query {
	case cypherPing:
		return []Record{{"ok": int64(1)}}, nil
	case cypherCountNodes:
		return countRow(f.nodeCount()), nil
	case cypherCountRelationships:
		return countRow(f.relationshipCount()), nil
	case cypherCountEntities:
		return countRow(int64(len(f.entities))), nil
	case cypherCountMemories:
		return countRow(int64(len(f.memories))), nil

	case queryMergeFact(SubjectUser):
		return f.mergeFact(SubjectUser, params), nil
	case queryMergeFact(SubjectCharacter):
		return f.mergeFact(SubjectCharacter, params), nil
	case queryDeleteByPredicate(SubjectUser):
		return f.deleteByPredicate(SubjectUser, params), nil
	case queryDeleteByPredicate(SubjectCharacter):
		return f.deleteByPredicate(SubjectCharacter, params), nil
	case queryAntonymSweep(SubjectUser):
		return f.antonymSweep(SubjectUser, params), nil
	case queryAntonymSweep(SubjectCharacter):
		return f.antonymSweep(SubjectCharacter, params), nil
	case queryFactsFor(SubjectUser):
		return f.listFacts(SubjectUser, params), nil
	case queryFactsFor(SubjectCharacter):
		return f.listFacts(SubjectCharacter, params), nil
	case queryDeleteByObject(SubjectUser):
		return f.deleteByObject(SubjectUser, params, false), nil
	case queryDeleteByObject(SubjectCharacter):
		return f.deleteByObject(SubjectCharacter, params, false), nil
	case queryDeleteByPredicateAndObject(SubjectUser):
		return f.deleteByObject(SubjectUser, params, true), nil
	case queryDeleteByPredicateAndObject(SubjectCharacter):
		return f.deleteByObject(SubjectCharacter, params, true), nil

	case cypherCountOrphans:
		return countRow(int64(len(f.orphanNames(paramTime(params, "cutoff"))))), nil
	case cypherDeleteOrphans:
		names := f.orphanNames(paramTime(params, "cutoff"))
		for _, name := range names {
			delete(f.entities, name)
		}
		return countRow(int64(len(names))), nil

	case cypherCountStaleFacts:
		return countRow(f.countFacts(f.staleMatcher(params))), nil
	case cypherDeleteStaleFacts:
		match := f.staleMatcher(params)
		return countRow(f.removeFacts(func(fact *fakeFact) bool { return !match(fact) })), nil

	case cypherCountLowConfidence:
		return countRow(f.countFacts(f.lowConfidenceMatcher(params))), nil
	case cypherDeleteLowConfidence:
		match := f.lowConfidenceMatcher(params)
		return countRow(f.removeFacts(func(fact *fakeFact) bool { return !match(fact) })), nil

	case cypherDuplicateGroups:
		return f.duplicateGroups(), nil
	case cypherEntityDegree:
		return []Record{{"degree": f.entityDegree(paramString(params, "name"))}}, nil
	case cypherRepointIncomingFacts:
		return f.repointFacts(params), nil
	case cypherRepointIsA:
		return f.repointStructural("IS_A", params), nil
	case cypherRepointBelongsTo:
		return f.repointStructural("BELONGS_TO", params), nil
	case cypherDropEntity:
		return f.dropEntity(paramString(params, "name")), nil

	case cypherMirrorMemory:
		return f.mirrorMemory(params), nil
	case cypherLinkEntities:
		return f.linkEntities(params), nil
	case cypherDeleteOwnerMirrors:
		return countRow(f.deleteMirrors(paramString(params, "ownerID"), "")), nil
	case cypherDeleteOwnerBotMirrors:
		return countRow(f.deleteMirrors(paramString(params, "ownerID"), paramString(params, "botName"))), nil
	case cypherNeighborsShared:
		return f.neighbors(params, false), nil
	case cypherNeighborsSecondHop:
		return f.neighbors(params, true), nil

	default:
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
}

func countRow(n int64) []Record   { return []Record{{"n": n}} }
func removedRow(n int64) []Record { return []Record{{"removed": n}} }

func (f *fakeGraph) ensureEntity(name string, at time.Time) *fakeEntity {
	if e, ok := f.entities[name]; ok {
		return e
	}
	e := &fakeEntity{name: name, createdAt: at}
	f.entities[name] = e
	return e
}

func (f *fakeGraph) ensureSubject(kind SubjectKind, key string) {
	if kind == SubjectCharacter {
		f.characters[key] = true
	} else {
		f.users[key] = true
	}
}

// addFact seeds an edge directly, registering its subject and entity.
func (f *fakeGraph) addFact(fact fakeFact) *fakeFact {
	f.ensureSubject(fact.kind, fact.subject)
	at := fact.createdAt
	if at.IsZero() {
		at = fact.updatedAt
	}
	f.ensureEntity(fact.object, at)
	stored := fact
	f.facts = append(f.facts, &stored)
	return &stored
}

func (f *fakeGraph) addMemory(vectorID, ownerID, botName, content string, entities ...string) *fakeMemory {
	f.users[ownerID] = true
	m := &fakeMemory{
		ownerID:  ownerID,
		vectorID: vectorID,
		content:  content,
		botName:  botName,
		mentions: map[string]bool{},
	}
	for _, name := range entities {
		f.ensureEntity(name, time.Now().UTC())
		m.mentions[name] = true
	}
	f.memories[vectorID] = m
	return m
}

func (f *fakeGraph) findFact(kind SubjectKind, subject, predicate, object string) *fakeFact {
	for _, fact := range f.facts {
		if fact.kind == kind && fact.subject == subject && fact.predicate == predicate && fact.object == object {
			return fact
		}
	}
	return nil
}

func (f *fakeGraph) hasFact(kind SubjectKind, subject, predicate, object string) bool {
	return f.findFact(kind, subject, predicate, object) != nil
}

func (f *fakeGraph) countFacts(match func(*fakeFact) bool) int64 {
	var n int64
	for _, fact := range f.facts {
		if match(fact) {
			n++
		}
	}
	return n
}

func (f *fakeGraph) removeFacts(keep func(*fakeFact) bool) int64 {
	var kept []*fakeFact
	var removed int64
	for _, fact := range f.facts {
		if keep(fact) {
			kept = append(kept, fact)
		} else {
			removed++
		}
	}
	f.facts = kept
	return removed
}

func (f *fakeGraph) nodeCount() int64 {
	return int64(len(f.users) + len(f.characters) + len(f.entities) + len(f.memories))
}

func (f *fakeGraph) relationshipCount() int64 {
	n := int64(len(f.facts) + len(f.structural))
	for _, m := range f.memories {
		n++
		n += int64(len(m.mentions))
	}
	return n
}

func (f *fakeGraph) mergeFact(kind SubjectKind, params map[string]interface{}) []Record {
	subject := paramString(params, "subject")
	object := paramString(params, "object")
	predicate := paramString(params, "predicate")
	confidence := paramFloat(params, "confidence")
	now := paramTime(params, "now")

	f.ensureSubject(kind, subject)
	f.ensureEntity(object, now)

	if fact := f.findFact(kind, subject, predicate, object); fact != nil {
		fact.mentions++
		if confidence > fact.confidence {
			fact.confidence = confidence
		}
		fact.updatedAt = now
		return []Record{{"confidence": fact.confidence, "mention_count": fact.mentions}}
	}

	fact := &fakeFact{
		kind:       kind,
		subject:    subject,
		predicate:  predicate,
		object:     object,
		confidence: confidence,
		mentions:   1,
		sourceBot:  paramString(params, "sourceBot"),
		createdAt:  now,
		updatedAt:  now,
	}
	f.facts = append(f.facts, fact)
	return []Record{{"confidence": fact.confidence, "mention_count": fact.mentions}}
}

func (f *fakeGraph) deleteByPredicate(kind SubjectKind, params map[string]interface{}) []Record {
	subject := paramString(params, "subject")
	predicate := paramString(params, "predicate")
	removed := f.removeFacts(func(fact *fakeFact) bool {
		return !(fact.kind == kind && fact.subject == subject && fact.predicate == predicate)
	})
	return removedRow(removed)
}

func (f *fakeGraph) antonymSweep(kind SubjectKind, params map[string]interface{}) []Record {
	subject := paramString(params, "subject")
	object := paramString(params, "object")
	opposites := map[string]bool{}
	for _, p := range paramStrings(params, "predicates") {
		opposites[p] = true
	}
	removed := f.removeFacts(func(fact *fakeFact) bool {
		return !(fact.kind == kind && fact.subject == subject && fact.object == object && opposites[fact.predicate])
	})
	return removedRow(removed)
}

func (f *fakeGraph) listFacts(kind SubjectKind, params map[string]interface{}) []Record {
	subject := paramString(params, "subject")
	predicate := paramString(params, "predicate")
	limit := paramInt(params, "limit")

	matched := make([]*fakeFact, 0)
	for _, fact := range f.facts {
		if fact.kind != kind || fact.subject != subject {
			continue
		}
		if predicate != "" && fact.predicate != predicate {
			continue
		}
		matched = append(matched, fact)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].updatedAt.After(matched[j].updatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	rows := make([]Record, 0, len(matched))
	for _, fact := range matched {
		rows = append(rows, Record{
			"predicate":     fact.predicate,
			"object":        fact.object,
			"confidence":    fact.confidence,
			"mention_count": fact.mentions,
			"source_bot":    fact.sourceBot,
			"updated_at":    fact.updatedAt,
		})
	}
	return rows
}

func (f *fakeGraph) deleteByObject(kind SubjectKind, params map[string]interface{}, needPredicate bool) []Record {
	subject := paramString(params, "subject")
	object := strings.ToLower(paramString(params, "object"))
	predicate := paramString(params, "predicate")
	removed := f.removeFacts(func(fact *fakeFact) bool {
		if fact.kind != kind || fact.subject != subject {
			return true
		}
		if needPredicate && fact.predicate != predicate {
			return true
		}
		return !strings.Contains(strings.ToLower(fact.object), object)
	})
	return removedRow(removed)
}

func (f *fakeGraph) entityDegree(name string) int64 {
	var degree int64
	for _, fact := range f.facts {
		if fact.object == name {
			degree++
		}
	}
	for _, edge := range f.structural {
		if edge.from == name || edge.to == name {
			degree++
		}
	}
	for _, m := range f.memories {
		if m.mentions[name] {
			degree++
		}
	}
	return degree
}

func (f *fakeGraph) orphanNames(cutoff time.Time) []string {
	names := make([]string, 0)
	for name, e := range f.entities {
		if f.entityDegree(name) == 0 && e.createdAt.Before(cutoff) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (f *fakeGraph) staleMatcher(params map[string]interface{}) func(*fakeFact) bool {
	cutoff := paramTime(params, "cutoff")
	bot := paramString(params, "bot")
	maxAccess := int64(paramInt(params, "maxAccess"))
	return func(fact *fakeFact) bool {
		if fact.sourceBot != bot {
			return false
		}
		if !fact.updatedAt.Before(cutoff) {
			return false
		}
		if !fact.lastAccessed.IsZero() && !fact.lastAccessed.Before(cutoff) {
			return false
		}
		return fact.accessCount < maxAccess
	}
}

func (f *fakeGraph) lowConfidenceMatcher(params map[string]interface{}) func(*fakeFact) bool {
	cutoff := paramTime(params, "cutoff")
	bot := paramString(params, "bot")
	floor := paramFloat(params, "floor")
	return func(fact *fakeFact) bool {
		return fact.sourceBot == bot && fact.confidence < floor && fact.createdAt.Before(cutoff)
	}
}

func (f *fakeGraph) duplicateGroups() []Record {
	groups := map[string][]string{}
	for name := range f.entities {
		key := strings.ToLower(name)
		groups[key] = append(groups[key], name)
	}

	keys := make([]string, 0, len(groups))
	for key, names := range groups {
		if len(names) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	rows := make([]Record, 0, len(keys))
	for _, key := range keys {
		names := groups[key]
		sort.Strings(names)
		list := make([]interface{}, 0, len(names))
		for _, name := range names {
			list = append(list, name)
		}
		rows = append(rows, Record{"key": key, "names": list})
	}
	return rows
}

func (f *fakeGraph) repointFacts(params map[string]interface{}) []Record {
	dup := paramString(params, "duplicate")
	survivor := paramString(params, "survivor")

	key := func(fact *fakeFact) string {
		return string(fact.kind) + "|" + fact.subject + "|" + fact.predicate
	}
	targets := map[string]*fakeFact{}
	for _, fact := range f.facts {
		if fact.object == survivor {
			targets[key(fact)] = fact
		}
	}

	var moved int64
	var kept []*fakeFact
	for _, fact := range f.facts {
		if fact.object != dup {
			kept = append(kept, fact)
			continue
		}
		moved++
		if target, ok := targets[key(fact)]; ok {
			target.mentions += fact.mentions
			if fact.confidence > target.confidence {
				target.confidence = fact.confidence
			}
			continue
		}
		clone := *fact
		clone.object = survivor
		kept = append(kept, &clone)
		targets[key(fact)] = &clone
	}
	f.facts = kept
	return []Record{{"moved": moved}}
}

func (f *fakeGraph) repointStructural(relType string, params map[string]interface{}) []Record {
	dup := paramString(params, "duplicate")
	survivor := paramString(params, "survivor")

	var moved int64
	var edges []*fakeStructural
	for _, edge := range f.structural {
		if edge.relType == relType && edge.from == dup && edge.to != survivor {
			moved++
			edges = append(edges, &fakeStructural{relType: relType, from: survivor, to: edge.to})
		} else {
			edges = append(edges, edge)
		}
	}

	seen := map[string]bool{}
	var kept []*fakeStructural
	for _, edge := range edges {
		id := edge.relType + "|" + edge.from + "|" + edge.to
		if seen[id] {
			continue
		}
		seen[id] = true
		kept = append(kept, edge)
	}
	f.structural = kept
	return []Record{{"moved": moved}}
}

func (f *fakeGraph) dropEntity(name string) []Record {
	if _, ok := f.entities[name]; !ok {
		return countRow(0)
	}
	delete(f.entities, name)
	f.removeFacts(func(fact *fakeFact) bool { return fact.object != name })

	var kept []*fakeStructural
	for _, edge := range f.structural {
		if edge.from != name && edge.to != name {
			kept = append(kept, edge)
		}
	}
	f.structural = kept

	for _, m := range f.memories {
		delete(m.mentions, name)
	}
	return countRow(1)
}

func (f *fakeGraph) mirrorMemory(params map[string]interface{}) []Record {
	ownerID := paramString(params, "ownerID")
	vectorID := paramString(params, "vectorID")
	f.users[ownerID] = true

	m, ok := f.memories[vectorID]
	if !ok {
		m = &fakeMemory{vectorID: vectorID, mentions: map[string]bool{}}
		f.memories[vectorID] = m
	}
	m.ownerID = ownerID
	m.content = paramString(params, "snippet")
	m.sourceType = paramString(params, "sourceType")
	m.botName = paramString(params, "botName")
	m.timestamp = paramTime(params, "timestamp")
	return []Record{{"vector_id": vectorID}}
}

func (f *fakeGraph) linkEntities(params map[string]interface{}) []Record {
	m, ok := f.memories[paramString(params, "vectorID")]
	if !ok {
		return nil
	}
	now := paramTime(params, "now")
	names := paramStrings(params, "names")
	for _, name := range names {
		f.ensureEntity(name, now)
		m.mentions[name] = true
	}
	return []Record{{"linked": int64(len(names))}}
}

func (f *fakeGraph) deleteMirrors(ownerID, botName string) int64 {
	var n int64
	for id, m := range f.memories {
		if m.ownerID != ownerID {
			continue
		}
		if botName != "" && m.botName != botName {
			continue
		}
		delete(f.memories, id)
		n++
	}
	return n
}

func (f *fakeGraph) neighbors(params map[string]interface{}, secondHop bool) []Record {
	seeds := map[string]bool{}
	for _, id := range paramStrings(params, "ids") {
		seeds[id] = true
	}
	limit := paramInt(params, "limit")

	reach := map[string]bool{}
	for id := range seeds {
		m, ok := f.memories[id]
		if !ok {
			continue
		}
		for name := range m.mentions {
			if !secondHop {
				reach[name] = true
				continue
			}
			for _, edge := range f.structural {
				if edge.from == name {
					reach[edge.to] = true
				}
				if edge.to == name {
					reach[edge.from] = true
				}
			}
		}
	}

	type hit struct {
		id     string
		shared []string
	}
	hits := make([]hit, 0)
	for id, m := range f.memories {
		if seeds[id] {
			continue
		}
		var shared []string
		for name := range m.mentions {
			if reach[name] {
				shared = append(shared, name)
			}
		}
		if len(shared) == 0 {
			continue
		}
		sort.Strings(shared)
		hits = append(hits, hit{id: id, shared: shared})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if len(hits[i].shared) != len(hits[j].shared) {
			return len(hits[i].shared) > len(hits[j].shared)
		}
		return hits[i].id < hits[j].id
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	rows := make([]Record, 0, len(hits))
	for _, h := range hits {
		shared := make([]interface{}, 0, len(h.shared))
		for _, name := range h.shared {
			shared = append(shared, name)
		}
		rows = append(rows, Record{
			"vector_id": h.id,
			"snippet":   f.memories[h.id].content,
			"shared":    shared,
			"weight":    int64(len(h.shared)),
		})
	}
	return rows
}

func paramString(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func paramFloat(params map[string]interface{}, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func paramInt(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func paramTime(params map[string]interface{}, key string) time.Time {
	if s, ok := params[key].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func paramStrings(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
