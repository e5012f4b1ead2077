package jobs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/models"
)

func ptr(v float64) *float64 { return &v }

// steadyRecords builds n records with unremarkable metrics, newest first.
func steadyRecords(n int) []models.EvaluationRecord {
	recs := make([]models.EvaluationRecord, n)
	for i := range recs {
		// Tiny deterministic wobble so stddev and MAD are nonzero.
		wobble := float64(i%5) * 0.01
		recs[i] = models.EvaluationRecord{
			EvaluationID: fmt.Sprintf("eval-%03d", i),
			LatencyMS:    ptr(1000 + wobble*100),
			Faithfulness: ptr(0.85 + wobble),
			Confidence:   ptr(0.8 + wobble),
		}
	}
	return recs
}

func TestScanGroupFlagsHallucinationFirst(t *testing.T) {
	recs := steadyRecords(40)
	flag := true
	// Newest record has both a hallucination and an extreme latency; the
	// rule check must win.
	recs[0].HallucinationFlag = &flag
	recs[0].LatencyMS = ptr(60000)

	findings := scanGroup(recs, 30, 20)
	require.Len(t, findings, 1)
	assert.Equal(t, "eval-000", findings[0].EvaluationID)
	assert.Equal(t, "hallucination_flag", findings[0].Metric)
	assert.Equal(t, "rule", findings[0].Method)
}

func TestScanGroupFlagsHallucinationWithoutHistory(t *testing.T) {
	flag := true
	recs := []models.EvaluationRecord{{
		EvaluationID:      "eval-fresh",
		HallucinationFlag: &flag,
		LatencyMS:         ptr(1200),
	}}

	// A brand-new group has no baseline, but the rule check does not
	// need one.
	findings := scanGroup(recs, 30, 20)
	require.Len(t, findings, 1)
	assert.Equal(t, "eval-fresh", findings[0].EvaluationID)
	assert.Equal(t, "rule", findings[0].Method)
}

func TestScanGroupLatencyOutlier(t *testing.T) {
	recs := steadyRecords(40)
	recs[0].LatencyMS = ptr(60000)

	findings := scanGroup(recs, 30, 20)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "latency_ms", f.Metric)
	assert.Equal(t, "mad", f.Method)
	require.NotNil(t, f.ZScore)
	assert.Greater(t, *f.ZScore, robustZThreshold)
	require.NotNil(t, f.ThresholdHigh)
	assert.Less(t, *f.ThresholdHigh, 60000.0)
}

func TestScanGroupFaithfulnessLowTailOnly(t *testing.T) {
	low := steadyRecords(40)
	low[0].Faithfulness = ptr(0.1)
	findings := scanGroup(low, 30, 20)
	require.Len(t, findings, 1)
	assert.Equal(t, "faithfulness", findings[0].Metric)
	assert.Negative(t, *findings[0].ZScore)

	// A faithfulness spike upward is good news, not an anomaly.
	high := steadyRecords(40)
	high[0].Faithfulness = ptr(1.0)
	assert.Empty(t, scanGroup(high, 30, 20))
}

func TestScanGroupHistoryExcludesCandidate(t *testing.T) {
	// Two adjacent outliers: the newer one is scored against history
	// that includes the older outlier, the older one against clean
	// history. Both must still be caught independently.
	recs := steadyRecords(50)
	recs[0].LatencyMS = ptr(60000)
	recs[1].LatencyMS = ptr(55000)

	findings := scanGroup(recs, 30, 20)
	require.Len(t, findings, 2)
	assert.Equal(t, "eval-000", findings[0].EvaluationID)
	assert.Equal(t, "eval-001", findings[1].EvaluationID)
}

func TestScanGroupSkipsFlaggedRecords(t *testing.T) {
	recs := steadyRecords(40)
	recs[0].LatencyMS = ptr(60000)
	recs[0].AnomalyFlag = true

	assert.Empty(t, scanGroup(recs, 30, 20))
}

func TestScanGroupRespectsPerGroupLimit(t *testing.T) {
	recs := steadyRecords(60)
	// Outlier sits beyond the candidate cap.
	recs[5].LatencyMS = ptr(60000)

	assert.Empty(t, scanGroup(recs, 30, 5))
	assert.Len(t, scanGroup(recs, 30, 10), 1)
}

func TestScanGroupRequiresMinHistory(t *testing.T) {
	recs := steadyRecords(20)
	recs[0].LatencyMS = ptr(60000)

	// 19 older records < 30 required.
	assert.Empty(t, scanGroup(recs, 30, 20))
	assert.Len(t, scanGroup(recs, 10, 20), 1)
}

func TestScanGroupIgnoresMissingMetrics(t *testing.T) {
	recs := steadyRecords(40)
	recs[0] = models.EvaluationRecord{EvaluationID: "eval-000"}

	assert.Empty(t, scanGroup(recs, 30, 20))
}
