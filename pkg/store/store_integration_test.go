package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
	testdb "github.com/agentlens/agentlens/test/database"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	client := testdb.NewTestClient(t)
	return store.New(client.Pool())
}

func ptr[T any](v T) *T { return &v }

func rawEvent(tenant, id string, at time.Time) models.RawEvent {
	return models.RawEvent{
		TenantID:      tenant,
		EventID:       id,
		SchemaVersion: "v1",
		Type:          "AgentRunCompleted",
		EventTime:     at,
		Payload:       json.RawMessage(`{"type":"AgentRunCompleted"}`),
	}
}

func TestRawEventLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a, b := uuid.NewString(), uuid.NewString()
	inserted, err := st.InsertRawEvents(ctx, []models.RawEvent{
		rawEvent("acme", a, now),
		rawEvent("acme", b, now.Add(time.Second)),
		rawEvent("acme", a, now), // duplicate event_id
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	pending, err := st.PendingRawEventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	claimed, err := st.ClaimRawEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	// Claim order follows arrival, then event time.
	assert.Equal(t, a, claimed[0].EventID)
	assert.Equal(t, b, claimed[1].EventID)

	require.NoError(t, st.MarkRawEventProcessed(ctx, "acme", a))

	// Failures below the attempt budget keep the event claimable.
	require.NoError(t, st.MarkRawEventFailed(ctx, "acme", b, "decode error", 3))
	claimed, err = st.ClaimRawEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, b, claimed[0].EventID)
	assert.Equal(t, 1, claimed[0].AttemptCount)

	// Exhausting the budget parks it terminally.
	require.NoError(t, st.MarkRawEventFailed(ctx, "acme", b, "decode error", 3))
	require.NoError(t, st.MarkRawEventFailed(ctx, "acme", b, "decode error", 3))
	claimed, err = st.ClaimRawEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	pending, err = st.PendingRawEventCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestIngestLedger(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	req, created, err := st.BeginIngestRequest(ctx, "acme", "key-1", "sha-a")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.IngestStatusProcessing, req.Status)

	// Same key again: no new row, the existing ledger entry comes back.
	req, created, err = st.BeginIngestRequest(ctx, "acme", "key-1", "sha-b")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "sha-a", req.RequestSHA256)

	// Different tenant, same key: independent ledger.
	_, created, err = st.BeginIngestRequest(ctx, "globex", "key-1", "sha-a")
	require.NoError(t, err)
	assert.True(t, created)

	body := json.RawMessage(`{"ok":true,"inserted_events":3}`)
	require.NoError(t, st.FinishIngestRequest(ctx, "acme", "key-1", models.IngestStatusCompleted, 200, body))

	got, err := st.GetIngestRequest(ctx, "acme", "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusCompleted, got.Status)
	require.NotNil(t, got.ResponseStatus)
	assert.Equal(t, 200, *got.ResponseStatus)
	assert.JSONEq(t, string(body), string(got.ResponseBody))

	_, err = st.GetIngestRequest(ctx, "acme", "no-such-key")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompleteIngestCommitsEventsWithLedger(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, created, err := st.BeginIngestRequest(ctx, "acme", "key-7", "sha-a")
	require.NoError(t, err)
	require.True(t, created)

	id := uuid.NewString()
	inserted, err := st.CompleteIngest(ctx, "acme", "key-7",
		[]models.RawEvent{rawEvent("acme", id, time.Now().UTC())},
		func(n int) json.RawMessage {
			return json.RawMessage(fmt.Sprintf(`{"ok":true,"inserted_events":%d}`, n))
		})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	// One commit made both the events and the completion visible.
	req, err := st.GetIngestRequest(ctx, "acme", "key-7")
	require.NoError(t, err)
	assert.Equal(t, models.IngestStatusCompleted, req.Status)
	assert.JSONEq(t, `{"ok":true,"inserted_events":1}`, string(req.ResponseBody))

	pending, err := st.PendingRawEventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestOrchestrationRunOutOfOrderMerge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	runID := uuid.NewString()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	// Completion arrives first.
	require.NoError(t, st.ApplyRunCompleted(ctx, &models.OrchestrationRun{
		TenantID:       "acme",
		RunID:          runID,
		WorkflowID:     "wf-research",
		QueryID:        "q-1",
		Status:         models.RunStatusSuccess,
		CompletedAt:    &completed,
		TotalLatencyMS: ptr(90000.0),
	}))

	// The late RunStarted fills identity and start time but must not
	// regress the terminal status.
	require.NoError(t, st.ApplyRunStarted(ctx, &models.OrchestrationRun{
		TenantID:   "acme",
		RunID:      runID,
		WorkflowID: "wf-research",
		QueryID:    "q-1",
		Query:      ptr("compare supplier contracts"),
		Status:     models.RunStatusRunning,
		StartedAt:  &started,
	}))

	run, err := st.GetOrchestrationRun(ctx, "acme", runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	require.NotNil(t, run.StartedAt)
	assert.True(t, run.StartedAt.Equal(started))
	require.NotNil(t, run.CompletedAt)
	assert.True(t, run.CompletedAt.Equal(completed))
	require.NotNil(t, run.Query)
	assert.Equal(t, "compare supplier contracts", *run.Query)

	_, err = st.GetOrchestrationRun(ctx, "acme", uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func evalRecord(tenant string, i int, at time.Time) *models.EvaluationRecord {
	return &models.EvaluationRecord{
		TenantID:             tenant,
		EvaluationID:         uuid.NewString(),
		AgentRunID:           fmt.Sprintf("ar-%s-%03d", tenant, i),
		RunID:                uuid.NewString(),
		WorkflowID:           "wf-research",
		AgentID:              "planner",
		AgentVersion:         "1.0.0",
		LatencyMS:            ptr(1000.0 + float64(i)),
		Faithfulness:         ptr(0.8),
		Confidence:           ptr(0.75),
		RunQualityScore:      ptr(0.7),
		RiskScore:            0.1,
		EvaluatorVersion:     "eval-1",
		NormalizationVersion: "norm-1",
		WeightingVersion:     "weights-1",
		ScoringTimestamp:     at,
	}
}

func TestEvaluationRecordsAndRollups(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour)

	for i := 0; i < 6; i++ {
		rec := evalRecord("acme", i, base.Add(time.Duration(i)*20*time.Minute))
		ok, err := st.InsertEvaluationRecord(ctx, rec)
		require.NoError(t, err)
		assert.True(t, ok)

		// Replay on the same agent run is ignored.
		ok, err = st.InsertEvaluationRecord(ctx, rec)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	groups, err := st.ActiveEvaluationGroups(ctx, "acme", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, "wf-research", g.WorkflowID)

	recent, err := st.RecentEvaluations(ctx, g, base.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, recent, 6)
	// Newest first.
	assert.True(t, recent[0].ScoringTimestamp.After(recent[5].ScoringTimestamp))

	vals, err := st.EvaluationWindow(ctx, "acme", "wf-research", "planner", "1.0.0",
		"latency_ms", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, vals, 6)

	_, err = st.EvaluationWindow(ctx, "acme", "wf-research", "planner", "1.0.0",
		"latency_ms; DROP TABLE evaluation_records", base, base.Add(time.Hour))
	assert.Error(t, err)

	n, err := st.MaterializeHourlyRollups(ctx, "acme", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n) // 6 records at 20min spacing span two hour buckets

	rollups, err := st.ListRollups(ctx, g, base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	assert.Equal(t, 3, rollups[0].Count)
	require.NotNil(t, rollups[0].MeanLatencyMS)
	assert.Zero(t, rollups[0].AnomalyCount)

	// Flag one record and re-materialize: the upsert refreshes counts.
	require.NoError(t, st.SetAnomalyFlag(ctx, "acme", recent[5].EvaluationID))
	_, err = st.MaterializeHourlyRollups(ctx, "acme", base, base.Add(3*time.Hour))
	require.NoError(t, err)

	rollups, err = st.ListRollups(ctx, g, base, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, rollups[0].AnomalyCount)

	wf, err := st.ListWorkflowRollups(ctx, "acme", "wf-research", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, wf, 2)
	assert.Equal(t, 3, wf[0].Count)
}

func TestAnomalyInsertIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	evalID := uuid.NewString()

	a := &models.Anomaly{
		TenantID:     "acme",
		EvaluationID: evalID,
		MetricName:   "latency_ms",
		Method:       "mad",
		Value:        ptr(60000.0),
		ZScore:       ptr(8.2),
	}
	ok, err := st.InsertAnomaly(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.InsertAnomaly(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)

	listed, err := st.ListAnomalies(ctx, "acme", time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, evalID, listed[0].EvaluationID)
}

func TestProposeActionCooldownAndReview(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	target := json.RawMessage(`{"agent_id":"planner","workflow_id":"wf-research"}`)
	key := string(target)

	action := func() *models.RecommendedAction {
		return &models.RecommendedAction{
			TenantID:   "acme",
			ActionType: models.ActionIncreaseEvalSampling,
			Target:     target,
			DecidedBy:  "auto-eval",
		}
	}

	ok, err := st.ProposeAction(ctx, action(), key, 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same target inside the cooldown window: suppressed.
	ok, err = st.ProposeAction(ctx, action(), key, 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	// Different action type for the same target is independent.
	other := action()
	other.ActionType = models.ActionRequireHumanReview
	ok, err = st.ProposeAction(ctx, other, key, 12*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	open, err := st.ListActions(ctx, "acme", models.ActionStatusOpen, 10)
	require.NoError(t, err)
	require.Len(t, open, 2)

	// Dismissing the open action frees the target for a new proposal.
	var sampling *models.RecommendedAction
	for i := range open {
		if open[i].ActionType == models.ActionIncreaseEvalSampling {
			sampling = &open[i]
		}
	}
	require.NotNil(t, sampling)
	require.NoError(t, st.UpdateActionStatus(ctx, "acme", sampling.ActionID, models.ActionStatusDismissed))

	ok, err = st.ProposeAction(ctx, action(), key, 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	err = st.UpdateActionStatus(ctx, "acme", uuid.NewString(), models.ActionStatusAccepted)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarketOutcomePointInTime(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2026, 3, 6, 21, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	for _, mo := range []models.MarketOutcome{
		{TenantID: "acme", DatasetVersion: "ds-2026-03", InstrumentID: "AAPL", AsofTime: t1, RealizedReturn: 0.012, BenchmarkReturn: ptr(0.005)},
		{TenantID: "acme", DatasetVersion: "ds-2026-03", InstrumentID: "AAPL", AsofTime: t2, RealizedReturn: -0.004},
	} {
		ok, err := st.InsertMarketOutcome(ctx, &mo)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// The join sees only data at or before the target instant.
	got, err := st.OutcomeAsOf(ctx, "acme", "ds-2026-03", "AAPL", t1.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.012, got.RealizedReturn, 1e-12)

	got, err = st.OutcomeAsOf(ctx, "acme", "ds-2026-03", "AAPL", t2.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, -0.004, got.RealizedReturn, 1e-12)

	_, err = st.OutcomeAsOf(ctx, "acme", "ds-2026-03", "AAPL", t1.Add(-time.Hour))
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Other dataset versions are invisible.
	_, err = st.OutcomeAsOf(ctx, "acme", "ds-2026-04", "AAPL", t2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSignalsAndBacktestRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	sig := &models.Signal{
		TenantID:           "acme",
		SignalID:           uuid.NewString(),
		RunID:              uuid.NewString(),
		EventTime:          now,
		Horizon:            "5d",
		InstrumentUniverse: json.RawMessage(`[{"id":"AAPL"},{"id":"MSFT"}]`),
		SignalValue:        json.RawMessage(`{"kind":"scalar","scalar":0.4}`),
		Confidence:         ptr(0.8),
	}
	ok, err := st.InsertSignal(ctx, sig)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.InsertSignal(ctx, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetSignal(ctx, "acme", sig.SignalID)
	require.NoError(t, err)
	assert.Equal(t, "5d", got.Horizon)

	listed, err := st.ListSignals(ctx, "acme", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	so := &models.SignalOutcome{
		TenantID:        "acme",
		SignalID:        sig.SignalID,
		Horizon:         "5d",
		RealizedReturn:  0.011,
		BenchmarkReturn: 0.005,
		ExcessReturn:    0.006,
	}
	ok, err = st.InsertSignalOutcome(ctx, so)
	require.NoError(t, err)
	assert.True(t, ok)
	// Re-running a backtest never rewrites history.
	so.RealizedReturn = 0.999
	ok, err = st.InsertSignalOutcome(ctx, so)
	require.NoError(t, err)
	assert.False(t, ok)

	outcomes, err := st.SignalOutcomesFor(ctx, "acme", "5d", []string{sig.SignalID})
	require.NoError(t, err)
	require.Contains(t, outcomes, sig.SignalID)
	assert.InDelta(t, 0.011, outcomes[sig.SignalID].RealizedReturn, 1e-12)

	run := &models.BacktestRun{
		TenantID:       "acme",
		BacktestID:     uuid.NewString(),
		DatasetVersion: "ds-2026-03",
		Horizon:        "5d",
		StartTime:      now.Add(-30 * 24 * time.Hour),
		EndTime:        now,
		CostBPS:        5,
		CodeVersion:    "dev",
		Status:         models.BacktestStatusCompleted,
		Summary:        json.RawMessage(`{"signal_count":1}`),
	}
	require.NoError(t, st.InsertBacktestRun(ctx, run))

	runs, err := st.ListBacktestRuns(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.BacktestID, runs[0].BacktestID)
}
