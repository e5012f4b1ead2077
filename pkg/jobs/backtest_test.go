package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/models"
)

func TestParseHorizon(t *testing.T) {
	day := 24 * time.Hour
	cases := map[string]time.Duration{
		"5d":   5 * day,
		"2w":   14 * day,
		"1m":   30 * day,
		"1y":   365 * day,
		"10 d": 10 * day,
	}
	for in, want := range cases {
		got, err := ParseHorizon(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "d", "5", "5 fortnights", "-3d", "5D", "1.5d"} {
		_, err := ParseHorizon(in)
		assert.Error(t, err, in)
	}
}

func testSignal(t *testing.T, value any, universe any) *models.Signal {
	t.Helper()
	rawValue, err := json.Marshal(value)
	require.NoError(t, err)
	rawUniverse, err := json.Marshal(universe)
	require.NoError(t, err)
	return &models.Signal{
		SignalID:           "sig-1",
		Horizon:            "5d",
		SignalValue:        rawValue,
		InstrumentUniverse: rawUniverse,
	}
}

func TestScoreSignalScalar(t *testing.T) {
	sig := testSignal(t,
		map[string]any{"kind": "scalar", "scalar": 0.5},
		[]map[string]any{
			{"id": "AAPL", "weight": 2.0},
			{"id": "MSFT", "weight": -1.0},
			{"id": "GOOG"},
		})

	scores, err := scoreSignal(sig)
	require.NoError(t, err)
	require.Len(t, scores, 3)

	// Raw scores 1.0, -0.5, 0.5; L1 sum 2.0.
	assert.Equal(t, "AAPL", scores[0].ID)
	assert.InDelta(t, 1.0, scores[0].Raw, 1e-12)
	assert.InDelta(t, 0.5, scores[0].Weight, 1e-12)
	assert.InDelta(t, -0.25, scores[1].Weight, 1e-12)
	assert.InDelta(t, 0.25, scores[2].Weight, 1e-12)

	var l1 float64
	for _, s := range scores {
		l1 += abs(s.Weight)
	}
	assert.InDelta(t, 1.0, l1, 1e-12)
}

func TestScoreSignalVectorDropsMissing(t *testing.T) {
	sig := testSignal(t,
		map[string]any{"kind": "vector", "vector": map[string]float64{"AAPL": 0.4, "MSFT": -0.6}},
		[]map[string]any{
			{"id": "AAPL"},
			{"id": "MSFT"},
			{"id": "GOOG"}, // not in the vector
		})

	scores, err := scoreSignal(sig)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.InDelta(t, 0.4, scores[0].Weight, 1e-12)
	assert.InDelta(t, -0.6, scores[1].Weight, 1e-12)
}

func TestScoreSignalSkipsText(t *testing.T) {
	sig := testSignal(t,
		map[string]any{"kind": "text", "text": "rotate into defensives"},
		[]map[string]any{{"id": "AAPL"}, {"id": "MSFT"}})

	_, err := scoreSignal(sig)
	assert.ErrorIs(t, err, errTextSignal)
}

func TestScoreSignalRequiresTwoInstruments(t *testing.T) {
	one := testSignal(t,
		map[string]any{"kind": "scalar", "scalar": 1.0},
		[]map[string]any{{"id": "AAPL"}})
	_, err := scoreSignal(one)
	assert.ErrorIs(t, err, errTooFewInstruments)

	// A vector covering only one universe member counts as one priced
	// instrument even when the universe is larger.
	sparse := testSignal(t,
		map[string]any{"kind": "vector", "vector": map[string]float64{"AAPL": 0.3}},
		[]map[string]any{{"id": "AAPL"}, {"id": "MSFT"}})
	_, err = scoreSignal(sparse)
	assert.ErrorIs(t, err, errTooFewInstruments)

	// All-zero scores cannot be normalized.
	flat := testSignal(t,
		map[string]any{"kind": "scalar", "scalar": 0.0},
		[]map[string]any{{"id": "AAPL"}, {"id": "MSFT"}})
	_, err = scoreSignal(flat)
	assert.ErrorIs(t, err, errTooFewInstruments)
}

func TestBacktestAggregateSummary(t *testing.T) {
	agg := newAggregate()
	agg.eligible = 4
	agg.skipped = 1
	agg.add(&signalResult{Net: 0.02, Excess: 0.01, IC: 0.5, Matched: 3})
	agg.add(&signalResult{Net: -0.01, Excess: -0.02, IC: 0.1, Matched: 2})
	agg.add(&signalResult{Net: 0.03, Excess: 0.02, IC: 0.3, Matched: 4})

	s := agg.summarize()
	assert.Equal(t, 4, s["signal_count"])
	assert.Equal(t, 3, s["evaluated_count"])
	assert.Equal(t, 1, s["skipped_count"])
	assert.Equal(t, 9, s["instrument_observations"])
	assert.InDelta(t, 2.0/3.0, s["hit_rate"].(float64), 1e-12)
	assert.InDelta(t, (0.02-0.01+0.03)/3, s["mean_net_return"].(float64), 1e-12)
	assert.InDelta(t, 0.3, s["mean_ic"].(float64), 1e-12)
}

func TestBacktestAggregateEmptySummary(t *testing.T) {
	agg := newAggregate()
	agg.eligible = 2
	agg.skipped = 2

	s := agg.summarize()
	assert.Equal(t, 0, s["evaluated_count"])
	assert.NotContains(t, s, "mean_net_return")
	assert.NotContains(t, s, "hit_rate")
}
