// Package memory implements the vector-backed memory store: fragment and
// summary records, multi-factor retrieval scoring, and owner-scoped
// lifecycle. Fragments are immutable once written; corrections happen by
// writing new fragments or purging an owner, never by editing in place.
package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType records where a fragment's content came from. The scorer
// weighs direct human input above the agent's own inferences and keeps
// dream or gossip derived content lowest.
type SourceType string

const (
	SourceHumanDirect SourceType = "human_direct"
	SourceInference   SourceType = "inference"
	SourceDream       SourceType = "dream"
	SourceGossip      SourceType = "gossip"
	SourceSummary     SourceType = "summary"
)

// MemoryTier marks how long a fragment is meant to stay relevant. The
// tier stretches the temporal half-life; it never blocks retrieval.
type MemoryTier string

const (
	TierShortTerm  MemoryTier = "short_term"
	TierMediumTerm MemoryTier = "medium_term"
	TierLongTerm   MemoryTier = "long_term"
)

// Roles a fragment can carry. Role is free-form for typed labels
// (e.g. "reflection"); these two cover conversation turns.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// OwnerSelf is the owner id for the character's own reflections.
const OwnerSelf = "SELF"

const (
	maxExtraKeys     = 16
	maxExtraValueLen = 256
)

// Fragment is one stored memory unit. When content is chunked, every
// chunk of the logical message shares ParentID and reads deduplicate to
// one representative.
type Fragment struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	BotName        string            `json:"bot_name"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	Timestamp      time.Time         `json:"timestamp"`
	ChannelID      string            `json:"channel_id,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	Importance     int               `json:"importance"`
	SourceType     SourceType        `json:"source_type"`
	Tier           MemoryTier        `json:"tier,omitempty"`
	IsChunk        bool              `json:"is_chunk,omitempty"`
	ChunkIndex     int               `json:"chunk_index,omitempty"`
	ChunkTotal     int               `json:"chunk_total,omitempty"`
	ParentID       string            `json:"parent_id,omitempty"`
	OriginalLength int               `json:"original_length,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Summary is a closed-session summary stored alongside fragments with
// payload type "summary". One per session, immutable.
type Summary struct {
	Fragment
	Meaningfulness int      `json:"meaningfulness"`
	Emotions       []string `json:"emotions,omitempty"`
	Topics         []string `json:"topics,omitempty"`
}

// ScoredFragment is a retrieval hit with its raw similarity and the
// weighted score that ranked it.
type ScoredFragment struct {
	Fragment   Fragment `json:"fragment"`
	Similarity float64  `json:"similarity"`
	Score      float64  `json:"score"`
}

// ScoredSummary is a summary retrieval hit.
type ScoredSummary struct {
	Summary    Summary `json:"summary"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// TimeRange filters fragments by timestamp. Both bounds are inclusive;
// a zero bound is open.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range.
func (r *TimeRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Normalize fills defaults: a fresh UUID, a UTC timestamp, importance 5.
func (f *Fragment) Normalize(now time.Time) {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = now
	}
	f.Timestamp = f.Timestamp.UTC()
	if f.Importance == 0 {
		f.Importance = 5
	}
	if f.Importance < 1 {
		f.Importance = 1
	}
	if f.Importance > 10 {
		f.Importance = 10
	}
}

// Validate checks the fragment at the store boundary.
func (f *Fragment) Validate() error {
	if f.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if f.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	if f.Content == "" {
		return fmt.Errorf("content is required")
	}
	if f.SourceType == "" {
		return fmt.Errorf("source_type is required")
	}
	if f.ID != "" {
		if _, err := uuid.Parse(f.ID); err != nil {
			return fmt.Errorf("id must be a UUID: %w", err)
		}
	}
	if len(f.Extra) > maxExtraKeys {
		return fmt.Errorf("extra metadata exceeds %d keys", maxExtraKeys)
	}
	for k, v := range f.Extra {
		if k == "" {
			return fmt.Errorf("extra metadata key is empty")
		}
		if len(v) > maxExtraValueLen {
			return fmt.Errorf("extra metadata value for %q exceeds %d bytes", k, maxExtraValueLen)
		}
	}
	return nil
}

// DedupKey identifies the logical message a fragment belongs to: chunks
// collapse on ParentID, hydratable fragments on MessageID, everything
// else stands alone.
func (f *Fragment) DedupKey() string {
	if f.ParentID != "" {
		return f.ParentID
	}
	if f.MessageID != "" {
		return f.MessageID
	}
	return f.ID
}

// Payload field names in the vector store.
const (
	fieldOwnerID        = "user_id"
	fieldBotName        = "bot_name"
	fieldRole           = "role"
	fieldContent        = "content"
	fieldTimestamp      = "timestamp"
	fieldTimestampUnix  = "timestamp_unix"
	fieldChannelID      = "channel_id"
	fieldMessageID      = "message_id"
	fieldImportance     = "importance"
	fieldSourceType     = "source_type"
	fieldMemoryType     = "memory_type"
	fieldMemoryTier     = "memory_tier"
	fieldIsChunk        = "is_chunk"
	fieldChunkIndex     = "chunk_index"
	fieldChunkTotal     = "chunk_total"
	fieldParentID       = "parent_id"
	fieldOriginalLength = "original_length"
	fieldMeaningfulness = "meaningfulness"
	fieldEmotions       = "emotions"
	fieldTopics         = "topics"
	fieldExtra          = "extra"
)

// Memory type payload values.
const (
	typeConversation = "conversation"
	typeSummary      = "summary"
)

// toPayload converts a fragment to the store payload. The shape is fixed
// here so nothing else in the engine builds payload maps.
func (f *Fragment) toPayload() map[string]interface{} {
	p := map[string]interface{}{
		fieldOwnerID:       f.OwnerID,
		fieldBotName:       f.BotName,
		fieldRole:          f.Role,
		fieldContent:       f.Content,
		fieldTimestamp:     f.Timestamp.UTC().Format(time.RFC3339Nano),
		fieldTimestampUnix: float64(f.Timestamp.UTC().UnixNano()) / 1e9,
		fieldImportance:    f.Importance,
		fieldSourceType:    string(f.SourceType),
		fieldMemoryType:    typeConversation,
	}
	if f.ChannelID != "" {
		p[fieldChannelID] = f.ChannelID
	}
	if f.MessageID != "" {
		p[fieldMessageID] = f.MessageID
	}
	if f.Tier != "" {
		p[fieldMemoryTier] = string(f.Tier)
	}
	if f.IsChunk {
		p[fieldIsChunk] = true
		p[fieldChunkIndex] = f.ChunkIndex
		p[fieldChunkTotal] = f.ChunkTotal
		p[fieldParentID] = f.ParentID
		p[fieldOriginalLength] = f.OriginalLength
	}
	if len(f.Extra) > 0 {
		extra := make(map[string]interface{}, len(f.Extra))
		for k, v := range f.Extra {
			extra[k] = v
		}
		p[fieldExtra] = extra
	}
	return p
}

// toPayload for a summary layers the summary fields over the fragment
// payload and retags the type.
func (s *Summary) toPayload() map[string]interface{} {
	p := s.Fragment.toPayload()
	p[fieldMemoryType] = typeSummary
	p[fieldMeaningfulness] = s.Meaningfulness
	if len(s.Emotions) > 0 {
		p[fieldEmotions] = stringsToInterfaces(s.Emotions)
	}
	if len(s.Topics) > 0 {
		p[fieldTopics] = stringsToInterfaces(s.Topics)
	}
	return p
}

// fragmentFromPayload rebuilds a Fragment from a stored payload. Content
// and owner are required; a record without them is corrupt and excluded
// from results by the caller.
func fragmentFromPayload(id string, payload map[string]interface{}) (Fragment, error) {
	f := Fragment{ID: id}

	f.OwnerID = payloadString(payload, fieldOwnerID)
	if f.OwnerID == "" {
		return f, fmt.Errorf("payload missing %s", fieldOwnerID)
	}
	f.Content = payloadString(payload, fieldContent)
	if f.Content == "" {
		return f, fmt.Errorf("payload missing %s", fieldContent)
	}

	ts, err := payloadTime(payload)
	if err != nil {
		return f, err
	}
	f.Timestamp = ts

	f.BotName = payloadString(payload, fieldBotName)
	f.Role = payloadString(payload, fieldRole)
	f.ChannelID = payloadString(payload, fieldChannelID)
	f.MessageID = payloadString(payload, fieldMessageID)
	f.Importance = payloadInt(payload, fieldImportance, 5)
	f.SourceType = SourceType(payloadString(payload, fieldSourceType))
	f.Tier = MemoryTier(payloadString(payload, fieldMemoryTier))
	f.IsChunk = payloadBool(payload, fieldIsChunk)
	if f.IsChunk {
		f.ChunkIndex = payloadInt(payload, fieldChunkIndex, 0)
		f.ChunkTotal = payloadInt(payload, fieldChunkTotal, 0)
		f.ParentID = payloadString(payload, fieldParentID)
		f.OriginalLength = payloadInt(payload, fieldOriginalLength, 0)
	}
	if raw, ok := payload[fieldExtra].(map[string]interface{}); ok {
		extra := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				extra[k] = s
			}
		}
		if len(extra) > 0 {
			f.Extra = extra
		}
	}
	return f, nil
}

// summaryFromPayload rebuilds a Summary, tolerating missing summary
// extras on old records.
func summaryFromPayload(id string, payload map[string]interface{}) (Summary, error) {
	frag, err := fragmentFromPayload(id, payload)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Fragment:       frag,
		Meaningfulness: payloadInt(payload, fieldMeaningfulness, 5),
		Emotions:       payloadStrings(payload, fieldEmotions),
		Topics:         payloadStrings(payload, fieldTopics),
	}, nil
}

func payloadString(p map[string]interface{}, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// JSON numbers decode as float64; ints stored by this process may still
// be ints when a test feeds payloads directly.
func payloadInt(p map[string]interface{}, key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

func payloadBool(p map[string]interface{}, key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

func payloadTime(p map[string]interface{}) (time.Time, error) {
	if s := payloadString(p, fieldTimestamp); s != "" {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err == nil {
			return ts.UTC(), nil
		}
	}
	switch v := p[fieldTimestampUnix].(type) {
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("payload has no parseable timestamp")
}

func payloadStrings(p map[string]interface{}, key string) []string {
	raw, ok := p[key].([]interface{})
	if !ok {
		if direct, ok := p[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringsToInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
