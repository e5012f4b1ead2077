package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/schema"
)

// fakeStore records calls and simulates the ledger in memory.
type fakeStore struct {
	inserted    []models.RawEvent
	duplicates  map[string]bool
	ledger      map[string]*models.IngestRequest
	deadLetters []models.DeadLetterEvent
	audits      []models.AuditEntry

	// failInsert makes event persistence fail, simulating a database
	// outage mid-request.
	failInsert bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		duplicates: map[string]bool{},
		ledger:     map[string]*models.IngestRequest{},
	}
}

func (f *fakeStore) InsertRawEvents(_ context.Context, events []models.RawEvent) (int, error) {
	if f.failInsert {
		return 0, fmt.Errorf("connection reset")
	}
	n := 0
	for _, ev := range events {
		if f.duplicates[ev.EventID] {
			continue
		}
		f.duplicates[ev.EventID] = true
		f.inserted = append(f.inserted, ev)
		n++
	}
	return n, nil
}

func (f *fakeStore) CompleteIngest(ctx context.Context, tenantID, key string, events []models.RawEvent, respond func(inserted int) json.RawMessage) (int, error) {
	inserted, err := f.InsertRawEvents(ctx, events)
	if err != nil {
		return 0, err
	}
	if err := f.FinishIngestRequest(ctx, tenantID, key, models.IngestStatusCompleted, 200, respond(inserted)); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (f *fakeStore) BeginIngestRequest(_ context.Context, tenantID, key, sha string) (*models.IngestRequest, bool, error) {
	if existing, ok := f.ledger[tenantID+"/"+key]; ok {
		return existing, false, nil
	}
	req := &models.IngestRequest{
		TenantID:       tenantID,
		IdempotencyKey: key,
		RequestSHA256:  sha,
		Status:         models.IngestStatusProcessing,
	}
	f.ledger[tenantID+"/"+key] = req
	return req, true, nil
}

func (f *fakeStore) FinishIngestRequest(_ context.Context, tenantID, key string, status models.IngestRequestStatus, httpStatus int, body json.RawMessage) error {
	req := f.ledger[tenantID+"/"+key]
	req.Status = status
	req.ResponseStatus = &httpStatus
	req.ResponseBody = body
	return nil
}

func (f *fakeStore) InsertDeadLetter(_ context.Context, dl *models.DeadLetterEvent) error {
	f.deadLetters = append(f.deadLetters, *dl)
	return nil
}

func (f *fakeStore) InsertAudit(_ context.Context, entry *models.AuditEntry) error {
	f.audits = append(f.audits, *entry)
	return nil
}

func newService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	registry, err := schema.NewRegistry()
	require.NoError(t, err)
	st := newFakeStore()
	return NewService(registry, st), st
}

func eventJSON(t *testing.T, tenantID, eventID string) string {
	t.Helper()
	doc := map[string]any{
		"schema_version":       "v1",
		"type":                 "OrchestrationRunStarted",
		"event_id":             eventID,
		"tenant_id":            tenantID,
		"orchestration_run_id": "run-1",
		"workflow_id":          "wf-1",
		"query_id":             "q-1",
		"request_timestamp":    "2026-08-01T10:00:00Z",
		"event_time":           "2026-08-01T10:00:01Z",
		"orchestration":        map[string]any{"query": "what changed overnight"},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(raw)
}

const (
	eventA = "11111111-1111-4111-8111-111111111111"
	eventB = "22222222-2222-4222-8222-222222222222"
)

func shaOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestHandleBatchAcceptsAndCountsDuplicates(t *testing.T) {
	svc, st := newService(t)

	body := fmt.Sprintf("[%s, %s, %s]",
		eventJSON(t, "tenant-a", eventA),
		eventJSON(t, "tenant-a", eventB),
		eventJSON(t, "tenant-a", eventA))

	res, err := svc.HandleBatch(context.Background(), "tenant-a", "", []byte(body))
	require.NoError(t, err)
	require.Equal(t, 200, res.Status)
	require.NotNil(t, res.Response)
	assert.True(t, res.Response.OK)
	assert.Equal(t, 3, res.Response.ReceivedEvents)
	assert.Equal(t, 2, res.Response.InsertedEvents)
	assert.Equal(t, 1, res.Response.DuplicateEvents)
	assert.Len(t, st.inserted, 2)
	assert.Len(t, st.audits, 1)
}

func TestHandleBatchRejectsInvalidAndDeadLetters(t *testing.T) {
	svc, st := newService(t)

	res, err := svc.HandleBatch(context.Background(), "tenant-a", "", []byte(`[{"type":"Nope"}]`))
	require.NoError(t, err)
	assert.Equal(t, 400, res.Status)
	assert.NotEmpty(t, res.Errors)
	require.Len(t, st.deadLetters, 1)
	assert.Equal(t, "validation_failed", st.deadLetters[0].Reason)
	assert.Empty(t, st.inserted)
}

func TestHandleBatchRejectsEmpty(t *testing.T) {
	svc, st := newService(t)

	res, err := svc.HandleBatch(context.Background(), "tenant-a", "", []byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, 400, res.Status)
	assert.Len(t, st.deadLetters, 1)
}

func TestHandleBatchRejectsMixedTenants(t *testing.T) {
	svc, st := newService(t)

	body := fmt.Sprintf("[%s, %s]",
		eventJSON(t, "tenant-a", eventA),
		eventJSON(t, "tenant-b", eventB))

	res, err := svc.HandleBatch(context.Background(), "tenant-a", "", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, 400, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "/events/1/tenant_id", res.Errors[0].Path)
	assert.Len(t, st.deadLetters, 1)
	assert.Empty(t, st.inserted)
}

func TestHandleBatchIdempotencyReplay(t *testing.T) {
	svc, _ := newService(t)

	body := []byte("[" + eventJSON(t, "tenant-a", eventA) + "]")

	first, err := svc.HandleBatch(context.Background(), "tenant-a", "key-1", body)
	require.NoError(t, err)
	require.Equal(t, 200, first.Status)
	assert.Equal(t, 1, first.Response.InsertedEvents)
	assert.Equal(t, "key-1", first.Response.RequestIdempotencyKey)

	// Same key, same body: cached response, no second side effect.
	replay, err := svc.HandleBatch(context.Background(), "tenant-a", "key-1", body)
	require.NoError(t, err)
	require.Equal(t, 200, replay.Status)
	assert.Equal(t, 1, replay.Response.InsertedEvents)
	assert.Equal(t, 0, replay.Response.DuplicateEvents)
}

func TestHandleBatchIdempotencyConflict(t *testing.T) {
	svc, _ := newService(t)

	first, err := svc.HandleBatch(context.Background(), "tenant-a", "key-1",
		[]byte("["+eventJSON(t, "tenant-a", eventA)+"]"))
	require.NoError(t, err)
	require.Equal(t, 200, first.Status)

	// Same key, different body: conflict.
	res, err := svc.HandleBatch(context.Background(), "tenant-a", "key-1",
		[]byte("["+eventJSON(t, "tenant-a", eventB)+"]"))
	require.NoError(t, err)
	assert.Equal(t, 409, res.Status)
}

func TestHandleBatchIdempotencyInFlight(t *testing.T) {
	svc, st := newService(t)

	body := []byte("[" + eventJSON(t, "tenant-a", eventA) + "]")

	// Simulate a concurrent holder of the key.
	_, created, err := st.BeginIngestRequest(context.Background(), "tenant-a", "key-1", shaOf(body))
	require.NoError(t, err)
	require.True(t, created)

	res, err := svc.HandleBatch(context.Background(), "tenant-a", "key-1", body)
	require.NoError(t, err)
	assert.Equal(t, 202, res.Status)
}

func TestHandleBatchFailedKeyConflicts(t *testing.T) {
	svc, st := newService(t)

	body := []byte("[" + eventJSON(t, "tenant-a", eventA) + "]")

	_, _, err := st.BeginIngestRequest(context.Background(), "tenant-a", "key-1", shaOf(body))
	require.NoError(t, err)
	require.NoError(t, st.FinishIngestRequest(context.Background(), "tenant-a", "key-1",
		models.IngestStatusFailed, 500, nil))

	// Reusing a failed key is a conflict even with the identical body:
	// the earlier attempt may have partially executed.
	res, err := svc.HandleBatch(context.Background(), "tenant-a", "key-1", body)
	require.NoError(t, err)
	assert.Equal(t, 409, res.Status)
	assert.Empty(t, st.inserted)
}

func TestHandleBatchLedgerCompletesWithInsert(t *testing.T) {
	svc, st := newService(t)

	body := []byte("[" + eventJSON(t, "tenant-a", eventA) + "]")

	res, err := svc.HandleBatch(context.Background(), "tenant-a", "key-1", body)
	require.NoError(t, err)
	require.Equal(t, 200, res.Status)

	// The ledger row carries the completed status and the cached
	// response in the same write that made the events durable.
	row := st.ledger["tenant-a/key-1"]
	require.NotNil(t, row)
	assert.Equal(t, models.IngestStatusCompleted, row.Status)
	var cached Response
	require.NoError(t, json.Unmarshal(row.ResponseBody, &cached))
	assert.Equal(t, res.Response.InsertedEvents, cached.InsertedEvents)
	assert.Len(t, st.inserted, 1)
}

func TestHandleBatchPersistFailureDeadLetters(t *testing.T) {
	svc, st := newService(t)
	st.failInsert = true

	body := []byte("[" + eventJSON(t, "tenant-a", eventA) + "]")

	_, err := svc.HandleBatch(context.Background(), "tenant-a", "key-1", body)
	require.Error(t, err)
	assert.Empty(t, st.inserted)
	assert.Equal(t, models.IngestStatusFailed, st.ledger["tenant-a/key-1"].Status)
	require.Len(t, st.deadLetters, 1)
	assert.Equal(t, "database_failure", st.deadLetters[0].Reason)
}

func TestHandleBatchKeylessPersistFailureDeadLetters(t *testing.T) {
	svc, st := newService(t)
	st.failInsert = true

	body := []byte("[" + eventJSON(t, "tenant-a", eventA) + "]")

	_, err := svc.HandleBatch(context.Background(), "tenant-a", "", body)
	require.Error(t, err)
	require.Len(t, st.deadLetters, 1)
	assert.Equal(t, "database_failure", st.deadLetters[0].Reason)
}
