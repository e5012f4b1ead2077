package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/jobs"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
	testdb "github.com/agentlens/agentlens/test/database"
)

func TestAnomalyJobFlagsHallucinationInFreshGroup(t *testing.T) {
	st := store.New(testdb.NewTestClient(t).Pool())
	ctx := context.Background()

	// One completed run in a brand-new group, far below any history
	// requirement, carrying a hallucination.
	flag := true
	latency := 1200.0
	evalID := uuid.NewString()
	inserted, err := st.InsertEvaluationRecord(ctx, &models.EvaluationRecord{
		TenantID:             "acme",
		EvaluationID:         evalID,
		AgentRunID:           uuid.NewString(),
		RunID:                uuid.NewString(),
		WorkflowID:           "wf-research",
		AgentID:              "agent-summarizer",
		AgentVersion:         "1.0.0",
		LatencyMS:            &latency,
		HallucinationFlag:    &flag,
		EvaluatorVersion:     "eval-1",
		NormalizationVersion: "norm-1",
		WeightingVersion:     "weights-1",
		ScoringTimestamp:     time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	deps := jobs.Deps{Store: st, Cfg: config.JobsConfig{
		TenantID:      "acme",
		LookbackHours: 720,
		MinHistory:    30,
		PerGroupLimit: 20,
	}}
	require.NoError(t, jobs.Run(ctx, "anomalies", deps))

	anomalies, err := st.ListAnomalies(ctx, "acme", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, evalID, anomalies[0].EvaluationID)
	assert.Equal(t, "rule", anomalies[0].Method)
	assert.Equal(t, "hallucination_flag", anomalies[0].MetricName)
}
