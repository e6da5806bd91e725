package models

import "time"

// EventType enumerates the durable, persisted event kinds appended to an
// analysis's event log (spec §3's Event, §4.6's per-stage emission table).
type EventType string

const (
	EventFileParsed           EventType = "file_parsed"
	EventExtractionStarted    EventType = "extraction_started"
	EventExtractionCompleted  EventType = "extraction_completed"
	EventAggregationStarted   EventType = "aggregation_started"
	EventAggregationCompleted EventType = "aggregation_completed"
	EventEvaluationStarted    EventType = "evaluation_started"
	EventEvaluationCompleted  EventType = "evaluation_completed"
	EventMetricsUpdate        EventType = "metrics_update"
	EventError                EventType = "error"
)

// Event is one entry in an analysis's durable, append-only, indexed log.
// Indices are dense and monotonic starting at 0 per analysis (spec §3, §8).
type Event struct {
	Index     uint32         `json:"index"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// ThinkingPhase identifies which LLM phase an ephemeral chunk belongs to.
type ThinkingPhase string

const (
	PhaseExtraction  ThinkingPhase = "extraction"
	PhaseAggregation ThinkingPhase = "aggregation"
	PhaseEvaluation  ThinkingPhase = "evaluation"
)

// ThinkingChunkType distinguishes a reasoning-token delta from the marker
// that closes out a phase.
type ThinkingChunkType string

const (
	ThinkingChunkDelta ThinkingChunkType = "thinking"
	ThinkingChunkDone  ThinkingChunkType = "thinking_done"
)

// ThinkingChunk is an ephemeral, unpersisted fragment of the model's
// intermediate reasoning, or the marker that closes a phase out (spec §3).
type ThinkingChunk struct {
	Type  ThinkingChunkType `json:"type"`
	Phase ThinkingPhase     `json:"phase"`
	Text  string            `json:"text,omitempty"`
}
