// Package schema is the declarative event schema registry. It defines the v1
// envelope shared by all event types, one JSON Schema per concrete type, and
// a validator that returns structured field errors suitable for
// dead-lettering verbatim.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the only wire schema version currently accepted.
const SchemaVersion = "v1"

// EventType identifies one of the seven concrete event types.
type EventType string

// The closed set of v1 event types.
const (
	EventOrchestrationRunStarted   EventType = "OrchestrationRunStarted"
	EventOrchestrationRunCompleted EventType = "OrchestrationRunCompleted"
	EventAgentRunStarted           EventType = "AgentRunStarted"
	EventAgentRunCompleted         EventType = "AgentRunCompleted"
	EventRetrievalContextAttached  EventType = "RetrievalContextAttached"
	EventSignalEmitted             EventType = "SignalEmitted"
	EventMarketOutcomeIngested     EventType = "MarketOutcomeIngested"
)

// EventTypes lists every concrete type, in registry order.
var EventTypes = []EventType{
	EventOrchestrationRunStarted,
	EventOrchestrationRunCompleted,
	EventAgentRunStarted,
	EventAgentRunCompleted,
	EventRetrievalContextAttached,
	EventSignalEmitted,
	EventMarketOutcomeIngested,
}

// Envelope carries the fields shared by every v1 event.
type Envelope struct {
	SchemaVersion      string    `json:"schema_version"`
	Type               EventType `json:"type"`
	EventID            string    `json:"event_id"`
	TenantID           string    `json:"tenant_id"`
	OrchestrationRunID string    `json:"orchestration_run_id"`
	WorkflowID         string    `json:"workflow_id"`
	QueryID            string    `json:"query_id"`
	RequestTimestamp   time.Time `json:"request_timestamp"`
	EventTime          time.Time `json:"event_time"`
}

// Event is one validated event: the decoded envelope plus the raw JSON
// object it came from. Type-specific sub-objects are decoded on demand.
type Event struct {
	Envelope
	Raw json.RawMessage
}

// Batch is a validated ingest batch.
type Batch struct {
	SchemaVersion string
	Events        []*Event
}

// OrchestrationPayload is the OrchestrationRunStarted sub-object.
type OrchestrationPayload struct {
	Orchestration struct {
		Query               string  `json:"query"`
		OrchestratorVersion *string `json:"orchestrator_version"`
		ClientID            *string `json:"client_id"`
		UserID              *string `json:"user_id"`
	} `json:"orchestration"`
}

// CompletionPayload is the OrchestrationRunCompleted sub-object.
type CompletionPayload struct {
	Completion struct {
		Status         string   `json:"status"`
		TotalLatencyMS *float64 `json:"total_latency_ms"`
		ErrorCode      *string  `json:"error_code"`
		ErrorMessage   *string  `json:"error_message"`
	} `json:"completion"`
}

// AgentRunPayload is shared by AgentRunStarted and AgentRunCompleted.
type AgentRunPayload struct {
	AgentRun struct {
		AgentRunID       string  `json:"agent_run_id"`
		AgentID          string  `json:"agent_id"`
		AgentVersion     string  `json:"agent_version"`
		Model            *string `json:"model"`
		ConfigHash       *string `json:"config_hash"`
		ParentAgentRunID *string `json:"parent_agent_run_id"`
	} `json:"agent_run"`
	Metrics struct {
		LatencyMS         *float64 `json:"latency_ms"`
		Faithfulness      *float64 `json:"faithfulness"`
		HallucinationFlag *bool    `json:"hallucination_flag"`
		Coverage          *float64 `json:"coverage"`
		Confidence        *float64 `json:"confidence"`
	} `json:"metrics"`
	Output *struct {
		Summary *string `json:"summary"`
		URI     *string `json:"uri"`
	} `json:"output"`
	EvaluatorVersion *string `json:"evaluator_version"`
}

// ContextPayload is the RetrievalContextAttached sub-object.
type ContextPayload struct {
	Context struct {
		AgentRunID *string `json:"agent_run_id"`
		SourceURI  string  `json:"source_uri"`
		ChunkCount *int    `json:"chunk_count"`
	} `json:"context"`
}

// SignalPayload is the SignalEmitted sub-object.
type SignalPayload struct {
	Signal struct {
		SignalID           string          `json:"signal_id"`
		Horizon            string          `json:"horizon"`
		InstrumentUniverse json.RawMessage `json:"instrument_universe"`
		SignalValue        json.RawMessage `json:"signal_value"`
		Confidence         *float64        `json:"confidence"`
		Constraints        json.RawMessage `json:"constraints"`
	} `json:"signal"`
}

// OutcomePayload is the MarketOutcomeIngested sub-object.
type OutcomePayload struct {
	Outcome struct {
		DatasetVersion  string    `json:"dataset_version"`
		InstrumentID    string    `json:"instrument_id"`
		AsofTime        time.Time `json:"asof_time"`
		RealizedReturn  float64   `json:"realized_return"`
		BenchmarkReturn *float64  `json:"benchmark_return"`
	} `json:"outcome"`
}

// DecodePayload unmarshals the event's raw JSON into out, which should be
// one of the payload types above matching the event type.
func (e *Event) DecodePayload(out any) error {
	if err := json.Unmarshal(e.Raw, out); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}
