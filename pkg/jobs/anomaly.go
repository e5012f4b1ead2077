package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/agentlens/agentlens/pkg/metrics"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/stats"
)

// Outlier thresholds.
const (
	robustZThreshold = 3.5
	zScoreThreshold  = 3.0

	// maxCandidates caps how many of a group's newest records one run
	// examines.
	maxCandidates = 20
)

// AnomalyJob scans each active (workflow, agent, version) group for
// outliers among its newest records.
type AnomalyJob struct {
	deps Deps
}

func (j *AnomalyJob) Name() string { return "anomalies" }

func (j *AnomalyJob) Run(ctx context.Context) error {
	now := j.deps.now()
	since := now.Add(-time.Duration(j.deps.Cfg.LookbackHours) * time.Hour)

	groups, err := j.deps.Store.ActiveEvaluationGroups(ctx, j.deps.Cfg.TenantID, since)
	if err != nil {
		return err
	}

	fetchLimit := j.deps.Cfg.MinHistory + maxCandidates + j.deps.Cfg.PerGroupLimit
	total := 0
	for _, g := range groups {
		recs, err := j.deps.Store.RecentEvaluations(ctx, g, since, fetchLimit)
		if err != nil {
			return err
		}

		// Groups below MinHistory still get the rule checks; only the
		// statistical checks inside scanGroup need a baseline.
		findings := scanGroup(recs, j.deps.Cfg.MinHistory, j.deps.Cfg.PerGroupLimit)
		for _, f := range findings {
			details, _ := json.Marshal(f.Details)
			inserted, err := j.deps.Store.InsertAnomaly(ctx, &models.Anomaly{
				TenantID:      g.TenantID,
				EvaluationID:  f.EvaluationID,
				MetricName:    f.Metric,
				Method:        f.Method,
				Value:         f.Value,
				ThresholdLow:  f.ThresholdLow,
				ThresholdHigh: f.ThresholdHigh,
				ZScore:        f.ZScore,
				Details:       details,
			})
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			if err := j.deps.Store.SetAnomalyFlag(ctx, g.TenantID, f.EvaluationID); err != nil {
				return err
			}
			metrics.AnomaliesDetected.WithLabelValues(f.Method).Inc()
			total++
		}
	}
	slog.Info("Anomaly scan finished", "groups", len(groups), "anomalies", total)
	return nil
}

// Finding is one anomaly decision made by scanGroup.
type Finding struct {
	EvaluationID  string
	Metric        string
	Method        string
	Value         *float64
	ThresholdLow  *float64
	ThresholdHigh *float64
	ZScore        *float64
	Details       map[string]any
}

// scanGroup examines up to min(maxCandidates, perGroupLimit) of the
// newest unflagged records. recs must be ordered newest first. The
// history for a candidate is everything older than it, so earlier
// candidates never contaminate their own baselines.
//
// Check order per candidate, first hit wins:
//  1. hallucination_flag set: rule anomaly.
//  2. latency robust z (MAD) beyond 3.5.
//  3. confidence z-score beyond 3.
//  4. faithfulness z-score beyond 3, low tail only.
func scanGroup(recs []models.EvaluationRecord, minHistory, perGroupLimit int) []Finding {
	limit := maxCandidates
	if perGroupLimit > 0 && perGroupLimit < limit {
		limit = perGroupLimit
	}
	if limit > len(recs) {
		limit = len(recs)
	}

	var findings []Finding
	for i := 0; i < limit; i++ {
		rec := recs[i]
		if rec.AnomalyFlag {
			continue
		}
		history := recs[i+1:]

		if rec.HallucinationFlag != nil && *rec.HallucinationFlag {
			one := 1.0
			findings = append(findings, Finding{
				EvaluationID: rec.EvaluationID,
				Metric:       "hallucination_flag",
				Method:       "rule",
				Value:        &one,
				Details:      map[string]any{"rule": "hallucination_flag"},
			})
			continue
		}

		if f, ok := latencyOutlier(&rec, history, minHistory); ok {
			findings = append(findings, f)
			continue
		}
		if f, ok := zOutlier(&rec, history, minHistory, "confidence", false); ok {
			findings = append(findings, f)
			continue
		}
		if f, ok := zOutlier(&rec, history, minHistory, "faithfulness", true); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

func latencyOutlier(rec *models.EvaluationRecord, history []models.EvaluationRecord, minHistory int) (Finding, bool) {
	if rec.LatencyMS == nil {
		return Finding{}, false
	}
	sample := collect(history, func(r *models.EvaluationRecord) *float64 { return r.LatencyMS })
	if len(sample) < minHistory {
		return Finding{}, false
	}
	z := stats.RobustZ(*rec.LatencyMS, sample)
	if math.Abs(z) <= robustZThreshold {
		return Finding{}, false
	}
	med := stats.Median(sample)
	mad := stats.MAD(sample)
	lo := med - robustZThreshold*mad/0.6745
	hi := med + robustZThreshold*mad/0.6745
	return Finding{
		EvaluationID:  rec.EvaluationID,
		Metric:        "latency_ms",
		Method:        "mad",
		Value:         rec.LatencyMS,
		ThresholdLow:  &lo,
		ThresholdHigh: &hi,
		ZScore:        &z,
		Details: map[string]any{
			"median": med,
			"mad":    mad,
			"n":      len(sample),
		},
	}, true
}

// zOutlier runs the classical z-score test. lowTailOnly records only
// negative excursions, used for faithfulness where high values are good.
func zOutlier(rec *models.EvaluationRecord, history []models.EvaluationRecord, minHistory int, metric string, lowTailOnly bool) (Finding, bool) {
	var value *float64
	var pick func(r *models.EvaluationRecord) *float64
	switch metric {
	case "confidence":
		value = rec.Confidence
		pick = func(r *models.EvaluationRecord) *float64 { return r.Confidence }
	case "faithfulness":
		value = rec.Faithfulness
		pick = func(r *models.EvaluationRecord) *float64 { return r.Faithfulness }
	default:
		return Finding{}, false
	}
	if value == nil {
		return Finding{}, false
	}
	sample := collect(history, pick)
	if len(sample) < minHistory {
		return Finding{}, false
	}
	z := stats.ZScore(*value, sample)
	if math.Abs(z) <= zScoreThreshold {
		return Finding{}, false
	}
	if lowTailOnly && z >= 0 {
		return Finding{}, false
	}
	mean := stats.Mean(sample)
	std := stats.SampleStdDev(sample)
	lo := mean - zScoreThreshold*std
	hi := mean + zScoreThreshold*std
	return Finding{
		EvaluationID:  rec.EvaluationID,
		Metric:        metric,
		Method:        "zscore",
		Value:         value,
		ThresholdLow:  &lo,
		ThresholdHigh: &hi,
		ZScore:        &z,
		Details: map[string]any{
			"mean": mean,
			"std":  std,
			"n":    len(sample),
		},
	}, true
}

func collect(recs []models.EvaluationRecord, pick func(*models.EvaluationRecord) *float64) []float64 {
	out := make([]float64, 0, len(recs))
	for i := range recs {
		if v := pick(&recs[i]); v != nil {
			out = append(out, *v)
		}
	}
	return out
}
