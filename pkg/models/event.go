// Package models defines the domain entities of the telemetry pipeline:
// raw ingest records, the materialized evaluation store, and the derived
// insight tables written by the analysis jobs.
package models

import (
	"encoding/json"
	"time"
)

// RawEvent is one ingested event awaiting (or finished with)
// materialization. Once ProcessedAt is set the row is immutable for workers.
type RawEvent struct {
	TenantID        string          `json:"tenant_id"`
	EventID         string          `json:"event_id"`
	SchemaVersion   string          `json:"schema_version"`
	Type            string          `json:"type"`
	EventTime       time.Time       `json:"event_time"`
	IngestTime      time.Time       `json:"ingest_time"`
	Payload         json.RawMessage `json:"payload"`
	IdempotencyKey  *string         `json:"idempotency_key,omitempty"`
	AttemptCount    int             `json:"attempt_count"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessingError *string         `json:"processing_error,omitempty"`
}

// IngestRequestStatus is the lifecycle state of an idempotency ledger row.
type IngestRequestStatus string

const (
	IngestStatusProcessing IngestRequestStatus = "processing"
	IngestStatusCompleted  IngestRequestStatus = "completed"
	IngestStatusFailed     IngestRequestStatus = "failed"
)

// IngestRequest is one idempotency ledger row: it pins the request body hash
// and caches the response so duplicate POSTs collapse to one side effect.
type IngestRequest struct {
	TenantID       string              `json:"tenant_id"`
	IdempotencyKey string              `json:"idempotency_key"`
	RequestSHA256  string              `json:"request_sha256"`
	Status         IngestRequestStatus `json:"status"`
	ResponseStatus *int                `json:"response_status,omitempty"`
	ResponseBody   json.RawMessage     `json:"response_body,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// DeadLetterEvent is an append-only record of a rejected batch or event.
type DeadLetterEvent struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Reason    string          `json:"reason"`
	Errors    json.RawMessage `json:"errors,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditEntry is an append-only operational audit record. Writes are
// best-effort and never surface failures to callers.
type AuditEntry struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Action    string          `json:"action"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
