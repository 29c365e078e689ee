// Package events publishes the engine's occurrences on a Kafka stream so
// sibling services (dream processors, gossip brokers, dashboards) can react
// without polling the stores. Publishing is strictly best-effort: the write
// path never waits on, or fails because of, the stream.
package events

import (
	"context"
	"time"
)

// Event types carried on the stream.
const (
	TypeMemoryWritten = "memory.written"
	TypeFactMerged    = "fact.merged"
	TypeGraphPruned   = "graph.pruned"
)

// Event is one engine occurrence. Data holds type-specific detail and
// stays small; consumers needing full content read the stores.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	OwnerID   string                 `json:"owner_id,omitempty"`
	BotName   string                 `json:"bot_name,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Publisher is the stream contract. Implementations log and count their
// own failures; callers may ignore the returned error.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MemoryWritten describes a completed vector write.
func MemoryWritten(ownerID, botName string, data map[string]interface{}) Event {
	return Event{Type: TypeMemoryWritten, OwnerID: ownerID, BotName: botName, Data: data}
}

// FactMerged describes a graph fact merge.
func FactMerged(ownerID, botName string, data map[string]interface{}) Event {
	return Event{Type: TypeFactMerged, OwnerID: ownerID, BotName: botName, Data: data}
}

// GraphPruned describes a finished maintenance run.
func GraphPruned(botName string, data map[string]interface{}) Event {
	return Event{Type: TypeGraphPruned, BotName: botName, Data: data}
}

// NoopPublisher drops every event. It stands in whenever no brokers are
// configured so the engine never branches on stream availability.
type NoopPublisher struct{}

// NewNoop returns the disabled publisher.
func NewNoop() *NoopPublisher {
	return &NoopPublisher{}
}

// Publish discards the event.
func (*NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close is a no-op.
func (*NoopPublisher) Close() error { return nil }

var _ Publisher = (*NoopPublisher)(nil)
