package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/stats"
	"github.com/agentlens/agentlens/pkg/store"
)

// Change-point parameters for the rollup-series detectors.
const (
	ewmaLambda     = 0.3
	ewmaShiftLimit = 0.15
	cusumSlack     = 0.02
	cusumLimit     = 0.2

	// The hourly series must span a full day with at least this many
	// points before change-point detection runs.
	minSeriesPoints = 12
	minSeriesSpan   = 24 * time.Hour
)

// SignificanceJob detects performance shifts two ways: a two-window
// Welch comparison with Benjamini-Hochberg correction across groups,
// and EWMA/CUSUM change-point detection on the hourly quality series.
type SignificanceJob struct {
	deps Deps
}

func (j *SignificanceJob) Name() string { return "significance" }

func (j *SignificanceJob) Run(ctx context.Context) error {
	if err := j.compareWindows(ctx); err != nil {
		return err
	}
	return j.scanRollupSeries(ctx)
}

// compareWindows runs Welch's t-test per group between the last W hours
// and the W hours before that, then adjusts the p-values jointly.
func (j *SignificanceJob) compareWindows(ctx context.Context) error {
	now := j.deps.now()
	w := time.Duration(j.deps.Cfg.WindowHours) * time.Hour
	aStart, mid := now.Add(-w), now
	bStart := now.Add(-2 * w)
	metric := j.deps.Cfg.SignificanceMetric

	groups, err := j.deps.Store.ActiveEvaluationGroups(ctx, j.deps.Cfg.TenantID, bStart)
	if err != nil {
		return err
	}

	type comparison struct {
		group  store.EvaluationGroup
		result stats.WelchResult
	}
	var comparisons []comparison
	for _, g := range groups {
		cur, err := j.deps.Store.EvaluationWindow(ctx, g.TenantID, g.WorkflowID, g.AgentID, g.AgentVersion, metric, aStart, mid)
		if err != nil {
			return err
		}
		base, err := j.deps.Store.EvaluationWindow(ctx, g.TenantID, g.WorkflowID, g.AgentID, g.AgentVersion, metric, bStart, aStart)
		if err != nil {
			return err
		}
		// Argument order fixes the sign: effect_size is current minus
		// baseline, so a regression reads negative.
		res, err := stats.WelchTTest(cur, base)
		if err != nil {
			if errors.Is(err, stats.ErrSampleTooSmall) {
				continue
			}
			return err
		}
		comparisons = append(comparisons, comparison{group: g, result: res})
	}
	if len(comparisons) == 0 {
		slog.Info("Window comparison found no comparable groups")
		return nil
	}

	ps := make([]float64, len(comparisons))
	for i, c := range comparisons {
		ps[i] = c.result.P
	}
	adjusted := stats.BenjaminiHochberg(ps, j.deps.Cfg.Alpha)

	significant := 0
	for i, c := range comparisons {
		details, _ := json.Marshal(c.result)
		p, q, effect := c.result.P, adjusted[i].Q, c.result.EffectSize
		shift := &models.PerformanceShift{
			TenantID:         c.group.TenantID,
			WorkflowID:       c.group.WorkflowID,
			AgentID:          c.group.AgentID,
			AgentVersion:     c.group.AgentVersion,
			MetricName:       metric,
			WindowAStart:     aStart,
			WindowAEnd:       mid,
			WindowBStart:     bStart,
			WindowBEnd:       aStart,
			Method:           "welch_normal_approx",
			PValue:           &p,
			BHAdjustedPValue: &q,
			EffectSize:       &effect,
			Significant:      adjusted[i].Significant,
			Details:          details,
		}
		if err := j.deps.Store.InsertPerformanceShift(ctx, shift); err != nil {
			return err
		}
		if shift.Significant {
			significant++
		}
	}
	slog.Info("Window comparison finished",
		"metric", metric, "groups", len(comparisons), "significant", significant)
	return nil
}

// scanRollupSeries runs EWMA and CUSUM over each group's hourly mean
// quality, against a baseline formed from the earliest points.
func (j *SignificanceJob) scanRollupSeries(ctx context.Context) error {
	now := j.deps.now()
	from := now.Add(-time.Duration(j.deps.Cfg.LookbackHours) * time.Hour)

	groups, err := j.deps.Store.RollupGroups(ctx, j.deps.Cfg.TenantID, from, now)
	if err != nil {
		return err
	}

	shifts := 0
	for _, g := range groups {
		rollups, err := j.deps.Store.ListRollups(ctx, g, from, now)
		if err != nil {
			return err
		}

		var series []float64
		var buckets []time.Time
		for _, r := range rollups {
			if r.MeanQuality != nil {
				series = append(series, *r.MeanQuality)
				buckets = append(buckets, r.HourBucket)
			}
		}
		if len(series) < minSeriesPoints {
			continue
		}
		// Bucket span is inclusive: n hourly buckets cover n hours.
		span := buckets[len(buckets)-1].Sub(buckets[0]) + time.Hour
		if span < minSeriesSpan {
			continue
		}

		baseN := 6
		if len(series) < baseN {
			baseN = len(series)
		}
		baseline := stats.Mean(series[:baseN])
		windowA := [2]time.Time{buckets[0], buckets[baseN-1].Add(time.Hour)}
		windowB := [2]time.Time{buckets[len(buckets)-1], buckets[len(buckets)-1].Add(time.Hour)}

		ewma := stats.EWMA(series, ewmaLambda)
		last := ewma[len(ewma)-1]
		if math.Abs(last-baseline) > ewmaShiftLimit {
			effect := last - baseline
			details, _ := json.Marshal(map[string]any{
				"baseline":  baseline,
				"ewma_last": last,
				"lambda":    ewmaLambda,
				"points":    len(series),
			})
			if err := j.insertSeriesShift(ctx, g, "ewma", windowA, windowB, effect, details); err != nil {
				return err
			}
			shifts++
		}

		cus := stats.CUSUM(series, baseline, cusumSlack, cusumLimit)
		if cus.Alarm[len(series)-1] {
			effect := series[len(series)-1] - baseline
			details, _ := json.Marshal(map[string]any{
				"baseline": baseline,
				"s_pos":    cus.SPos[len(series)-1],
				"s_neg":    cus.SNeg[len(series)-1],
				"k":        cusumSlack,
				"h":        cusumLimit,
				"points":   len(series),
			})
			if err := j.insertSeriesShift(ctx, g, "cusum", windowA, windowB, effect, details); err != nil {
				return err
			}
			shifts++
		}
	}
	slog.Info("Rollup series scan finished", "groups", len(groups), "shifts", shifts)
	return nil
}

func (j *SignificanceJob) insertSeriesShift(ctx context.Context, g store.EvaluationGroup, method string, windowA, windowB [2]time.Time, effect float64, details json.RawMessage) error {
	return j.deps.Store.InsertPerformanceShift(ctx, &models.PerformanceShift{
		TenantID:     g.TenantID,
		WorkflowID:   g.WorkflowID,
		AgentID:      g.AgentID,
		AgentVersion: g.AgentVersion,
		MetricName:   "mean_quality",
		WindowAStart: windowA[0],
		WindowAEnd:   windowA[1],
		WindowBStart: windowB[0],
		WindowBEnd:   windowB[1],
		Method:       method,
		EffectSize:   &effect,
		Significant:  true,
		Details:      details,
	})
}
