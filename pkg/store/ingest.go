package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agentlens/agentlens/pkg/models"
)

// InsertRawEvents appends a batch of raw events, ignoring rows whose
// (tenant_id, event_id) already exist. Returns the number of rows
// actually inserted; the difference from len(events) is the duplicate
// count.
func (s *Store) InsertRawEvents(ctx context.Context, events []models.RawEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO raw_events
		(tenant_id, event_id, schema_version, event_type, event_time, payload, idempotency_key)
		VALUES `)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, ev.TenantID, ev.EventID, ev.SchemaVersion, ev.Type,
			ev.EventTime, ev.Payload, ev.IdempotencyKey)
	}
	sb.WriteString(` ON CONFLICT (tenant_id, event_id) DO NOTHING`)

	tag, err := s.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("inserting raw events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimRawEvents locks and returns up to limit unprocessed events,
// oldest first. Rows stay locked until the surrounding transaction
// finishes, so concurrent workers skip them.
func (s *Store) ClaimRawEvents(ctx context.Context, limit int) ([]models.RawEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, event_id, schema_version, event_type, event_time,
		       ingest_time, payload, idempotency_key, attempt_count
		FROM raw_events
		WHERE processed_at IS NULL
		ORDER BY ingest_time, event_time, event_id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming raw events: %w", err)
	}
	defer rows.Close()

	var out []models.RawEvent
	for rows.Next() {
		var ev models.RawEvent
		if err := rows.Scan(&ev.TenantID, &ev.EventID, &ev.SchemaVersion, &ev.Type,
			&ev.EventTime, &ev.IngestTime, &ev.Payload, &ev.IdempotencyKey,
			&ev.AttemptCount); err != nil {
			return nil, fmt.Errorf("scanning raw event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkRawEventProcessed stamps the event as done.
func (s *Store) MarkRawEventProcessed(ctx context.Context, tenantID, eventID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE raw_events SET processed_at = now(), processing_error = NULL
		WHERE tenant_id = $1 AND event_id = $2`, tenantID, eventID)
	return err
}

// MarkRawEventFailed bumps the attempt count and records the error. When
// the budget is exhausted the event is stamped processed so workers stop
// retrying it; the error column marks it terminal-dead.
func (s *Store) MarkRawEventFailed(ctx context.Context, tenantID, eventID, procErr string, maxAttempts int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE raw_events
		SET attempt_count = attempt_count + 1,
		    processing_error = $3,
		    processed_at = CASE WHEN attempt_count + 1 >= $4 THEN now() ELSE NULL END
		WHERE tenant_id = $1 AND event_id = $2`,
		tenantID, eventID, procErr, maxAttempts)
	return err
}

// PendingRawEventCount reports unprocessed backlog size.
func (s *Store) PendingRawEventCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM raw_events WHERE processed_at IS NULL`).Scan(&n)
	return n, err
}

// CompleteIngest appends the batch and marks the ledger row completed
// with the cached response body in one transaction: either the events
// are durable and the key reads completed, or neither happened. respond
// renders the response to cache from the inserted count.
func (s *Store) CompleteIngest(ctx context.Context, tenantID, key string, events []models.RawEvent, respond func(inserted int) json.RawMessage) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txStore := New(tx)
	inserted, err := txStore.InsertRawEvents(ctx, events)
	if err != nil {
		return 0, err
	}
	if err := txStore.FinishIngestRequest(ctx, tenantID, key, models.IngestStatusCompleted, 200, respond(inserted)); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing ingest transaction: %w", err)
	}
	return inserted, nil
}

// BeginIngestRequest inserts a fresh idempotency ledger row in status
// processing. If a row for the key already exists, the existing row is
// returned with created=false; the caller decides how to respond based
// on its status and body hash.
func (s *Store) BeginIngestRequest(ctx context.Context, tenantID, key, sha string) (*models.IngestRequest, bool, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ingest_requests (tenant_id, idempotency_key, request_sha256, status)
		VALUES ($1, $2, $3, $4)`, tenantID, key, sha, models.IngestStatusProcessing)
	if err == nil {
		return &models.IngestRequest{
			TenantID:       tenantID,
			IdempotencyKey: key,
			RequestSHA256:  sha,
			Status:         models.IngestStatusProcessing,
		}, true, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil, false, fmt.Errorf("inserting ingest request: %w", err)
	}

	existing, err := s.GetIngestRequest(ctx, tenantID, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetIngestRequest fetches one ledger row.
func (s *Store) GetIngestRequest(ctx context.Context, tenantID, key string) (*models.IngestRequest, error) {
	var req models.IngestRequest
	err := s.db.QueryRow(ctx, `
		SELECT tenant_id, idempotency_key, request_sha256, status,
		       response_status, response_body, created_at, updated_at
		FROM ingest_requests
		WHERE tenant_id = $1 AND idempotency_key = $2`, tenantID, key).
		Scan(&req.TenantID, &req.IdempotencyKey, &req.RequestSHA256, &req.Status,
			&req.ResponseStatus, &req.ResponseBody, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching ingest request: %w", err)
	}
	return &req, nil
}

// FinishIngestRequest records the terminal status and cached response of
// a ledger row.
func (s *Store) FinishIngestRequest(ctx context.Context, tenantID, key string, status models.IngestRequestStatus, httpStatus int, body json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		UPDATE ingest_requests
		SET status = $3, response_status = $4, response_body = $5, updated_at = now()
		WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key, status, httpStatus, body)
	return err
}

// InsertDeadLetter appends one dead-letter record.
func (s *Store) InsertDeadLetter(ctx context.Context, dl *models.DeadLetterEvent) error {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO dead_letter_events (id, tenant_id, reason, errors, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		dl.ID, dl.TenantID, dl.Reason, dl.Errors, dl.Payload)
	return err
}

// InsertAudit appends one audit entry.
func (s *Store) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_entries (id, tenant_id, action, detail)
		VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.TenantID, entry.Action, entry.Detail)
	return err
}

// ListDeadLetters returns the newest dead-letter records for a tenant.
func (s *Store) ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]models.DeadLetterEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, reason, errors, payload, created_at
		FROM dead_letter_events
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var out []models.DeadLetterEvent
	for rows.Next() {
		var dl models.DeadLetterEvent
		if err := rows.Scan(&dl.ID, &dl.TenantID, &dl.Reason, &dl.Errors, &dl.Payload, &dl.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}
