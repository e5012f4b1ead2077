// Package ingest implements the batch ingest endpoint semantics: schema
// validation, tenant checks, the idempotency ledger, and append-only
// persistence of accepted events.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentlens/agentlens/pkg/metrics"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/schema"
)

// Store is the persistence surface the ingest path needs. *store.Store
// satisfies it.
type Store interface {
	InsertRawEvents(ctx context.Context, events []models.RawEvent) (int, error)
	CompleteIngest(ctx context.Context, tenantID, key string, events []models.RawEvent, respond func(inserted int) json.RawMessage) (int, error)
	BeginIngestRequest(ctx context.Context, tenantID, key, sha string) (*models.IngestRequest, bool, error)
	FinishIngestRequest(ctx context.Context, tenantID, key string, status models.IngestRequestStatus, httpStatus int, body json.RawMessage) error
	InsertDeadLetter(ctx context.Context, dl *models.DeadLetterEvent) error
	InsertAudit(ctx context.Context, entry *models.AuditEntry) error
}

// Response is the ingest endpoint's JSON body, also cached in the
// idempotency ledger.
type Response struct {
	OK                    bool   `json:"ok"`
	SchemaVersion         string `json:"schema_version"`
	TenantID              string `json:"tenant_id"`
	ReceivedEvents        int    `json:"received_events"`
	InsertedEvents        int    `json:"inserted_events"`
	DuplicateEvents       int    `json:"duplicate_events"`
	RequestIdempotencyKey string `json:"request_idempotency_key,omitempty"`
}

// Result pairs the response body with the HTTP status the handler
// should emit.
type Result struct {
	Status   int
	Response *Response
	Errors   []schema.FieldError
}

// Service coordinates one ingest request end to end.
type Service struct {
	registry *schema.Registry
	store    Store
}

// NewService creates the ingest service.
func NewService(registry *schema.Registry, st Store) *Service {
	return &Service{registry: registry, store: st}
}

// HandleBatch processes one POST body for a tenant. Validation failures
// dead-letter the batch and return 400 with structured errors; an
// idempotency key routes through the ledger so duplicate POSTs collapse
// to one side effect.
func (s *Service) HandleBatch(ctx context.Context, tenantID, idempotencyKey string, body []byte) (*Result, error) {
	log := slog.With("tenant_id", tenantID, "idempotency_key", idempotencyKey)

	batch, fieldErrs := s.registry.ValidateBatch(body)
	if len(fieldErrs) == 0 {
		fieldErrs = s.checkTenant(tenantID, batch)
	}
	if len(fieldErrs) > 0 {
		s.deadLetter(ctx, tenantID, "validation_failed", fieldErrs, body)
		metrics.IngestRejected.Inc()
		return &Result{Status: 400, Errors: fieldErrs}, nil
	}

	if idempotencyKey == "" {
		resp, err := s.persistBatch(ctx, tenantID, "", batch)
		if err != nil {
			s.deadLetter(ctx, tenantID, "database_failure", nil, body)
			return nil, err
		}
		return &Result{Status: 200, Response: resp}, nil
	}

	sha := sha256.Sum256(body)
	shaHex := hex.EncodeToString(sha[:])

	ledger, created, err := s.store.BeginIngestRequest(ctx, tenantID, idempotencyKey, shaHex)
	if err != nil {
		return nil, fmt.Errorf("opening idempotency ledger: %w", err)
	}
	if !created {
		return s.replayLedger(shaHex, ledger)
	}

	resp, err := s.persistBatch(ctx, tenantID, idempotencyKey, batch)
	if err != nil {
		s.finishLedger(ctx, tenantID, idempotencyKey, models.IngestStatusFailed, 500, nil)
		s.deadLetter(ctx, tenantID, "database_failure", nil, body)
		return nil, err
	}
	log.Info("Batch ingested", "received", resp.ReceivedEvents, "inserted", resp.InsertedEvents)
	return &Result{Status: 200, Response: resp}, nil
}

// replayLedger resolves a duplicate idempotency key against the
// existing ledger row.
func (s *Service) replayLedger(shaHex string, ledger *models.IngestRequest) (*Result, error) {
	if ledger.RequestSHA256 != shaHex {
		return &Result{Status: 409, Errors: []schema.FieldError{{
			Path:    "",
			Keyword: "idempotency",
			Message: "idempotency key reused with a different request body",
		}}}, nil
	}
	switch ledger.Status {
	case models.IngestStatusCompleted:
		var resp Response
		if len(ledger.ResponseBody) > 0 {
			if err := json.Unmarshal(ledger.ResponseBody, &resp); err != nil {
				return nil, fmt.Errorf("decoding cached ingest response: %w", err)
			}
		}
		status := 200
		if ledger.ResponseStatus != nil {
			status = *ledger.ResponseStatus
		}
		return &Result{Status: status, Response: &resp}, nil
	case models.IngestStatusProcessing:
		// A concurrent request holds the key. The events table is
		// conflict-ignoring, so the caller can simply retry later.
		return &Result{Status: 202, Errors: []schema.FieldError{{
			Path:    "",
			Keyword: "idempotency",
			Message: "request with this key is still being processed",
		}}}, nil
	default:
		// failed: the side effect may have partially executed, so the
		// key can never be safely reused.
		return &Result{Status: 409, Errors: []schema.FieldError{{
			Path:    "",
			Keyword: "idempotency",
			Message: "idempotency key belongs to a previously failed request",
		}}}, nil
	}
}

// persistBatch appends the validated events and builds the response.
// With an idempotency key the append and the ledger completion commit
// in one transaction, so the events can never become durable while the
// key still reads processing.
func (s *Service) persistBatch(ctx context.Context, tenantID, key string, batch *schema.Batch) (*Response, error) {
	events := make([]models.RawEvent, 0, len(batch.Events))
	var keyPtr *string
	if key != "" {
		keyPtr = &key
	}
	for _, ev := range batch.Events {
		events = append(events, models.RawEvent{
			TenantID:       ev.TenantID,
			EventID:        ev.EventID,
			SchemaVersion:  ev.SchemaVersion,
			Type:           string(ev.Type),
			EventTime:      ev.EventTime,
			Payload:        ev.Raw,
			IdempotencyKey: keyPtr,
		})
	}

	respond := func(inserted int) *Response {
		return &Response{
			OK:                    true,
			SchemaVersion:         schema.SchemaVersion,
			TenantID:              tenantID,
			ReceivedEvents:        len(events),
			InsertedEvents:        inserted,
			DuplicateEvents:       len(events) - inserted,
			RequestIdempotencyKey: key,
		}
	}

	var (
		resp     *Response
		inserted int
		err      error
	)
	if key == "" {
		inserted, err = s.store.InsertRawEvents(ctx, events)
		resp = respond(inserted)
	} else {
		inserted, err = s.store.CompleteIngest(ctx, tenantID, key, events, func(n int) json.RawMessage {
			resp = respond(n)
			raw, _ := json.Marshal(resp)
			return raw
		})
	}
	if err != nil {
		return nil, fmt.Errorf("persisting batch: %w", err)
	}
	metrics.IngestAccepted.Add(float64(inserted))

	s.audit(ctx, tenantID, "batch_ingested", map[string]any{
		"received":  len(events),
		"inserted":  inserted,
		"key":       key,
		"timestamp": time.Now().UTC(),
	})
	return resp, nil
}

// checkTenant rejects batches whose events disagree with the header
// tenant. Cross-tenant writes must be impossible regardless of payload.
func (s *Service) checkTenant(tenantID string, batch *schema.Batch) []schema.FieldError {
	var errs []schema.FieldError
	for i, ev := range batch.Events {
		if ev.TenantID != tenantID {
			errs = append(errs, schema.FieldError{
				Path:    fmt.Sprintf("/events/%d/tenant_id", i),
				Keyword: "tenant",
				Message: fmt.Sprintf("event tenant %q does not match request tenant %q", ev.TenantID, tenantID),
			})
		}
	}
	return errs
}

// deadLetter records a rejected batch. Best-effort: a dead-letter write
// failure never masks the validation response.
func (s *Service) deadLetter(ctx context.Context, tenantID, reason string, fieldErrs []schema.FieldError, body []byte) {
	errsJSON, _ := json.Marshal(fieldErrs)
	payload := json.RawMessage(body)
	if !json.Valid(body) {
		payload, _ = json.Marshal(string(body))
	}
	dl := &models.DeadLetterEvent{
		TenantID: tenantID,
		Reason:   reason,
		Errors:   errsJSON,
		Payload:  payload,
	}
	if err := s.store.InsertDeadLetter(ctx, dl); err != nil {
		slog.Error("Failed to write dead letter", "tenant_id", tenantID, "error", err)
	}
}

func (s *Service) audit(ctx context.Context, tenantID, action string, detail map[string]any) {
	raw, _ := json.Marshal(detail)
	if err := s.store.InsertAudit(ctx, &models.AuditEntry{
		TenantID: tenantID,
		Action:   action,
		Detail:   raw,
	}); err != nil {
		slog.Warn("Failed to write audit entry", "tenant_id", tenantID, "action", action, "error", err)
	}
}

func (s *Service) finishLedger(ctx context.Context, tenantID, key string, status models.IngestRequestStatus, httpStatus int, body json.RawMessage) {
	if err := s.store.FinishIngestRequest(ctx, tenantID, key, status, httpStatus, body); err != nil {
		slog.Error("Failed to finish ingest ledger row", "tenant_id", tenantID, "key", key, "error", err)
	}
}
