package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/stats"
	"github.com/agentlens/agentlens/pkg/store"
)

// A portfolio needs at least this many scored instruments to trade.
const minPricedInstruments = 2

var horizonPattern = regexp.MustCompile(`^(\d+)\s*([dwmy])$`)

// ParseHorizon converts a holding-horizon string like "5d" or "2w" into
// a duration. Months and years are fixed at 30 and 365 days.
func ParseHorizon(s string) (time.Duration, error) {
	m := horizonPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid horizon %q (want e.g. 5d, 2w, 1m, 1y)", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid horizon %q", s)
	}
	day := 24 * time.Hour
	switch m[2] {
	case "d":
		return time.Duration(n) * day, nil
	case "w":
		return time.Duration(n) * 7 * day, nil
	case "m":
		return time.Duration(n) * 30 * day, nil
	default:
		return time.Duration(n) * 365 * day, nil
	}
}

// instrumentRef is one entry of a signal's instrument universe. Weight
// defaults to 1 when omitted.
type instrumentRef struct {
	ID     string   `json:"id"`
	Weight *float64 `json:"weight"`
}

// signalValue is the tagged union carried by SignalEmitted events.
type signalValue struct {
	Kind   string             `json:"kind"`
	Scalar *float64           `json:"scalar"`
	Vector map[string]float64 `json:"vector"`
}

// instrumentScore is one instrument's raw and normalized exposure.
type instrumentScore struct {
	ID     string
	Raw    float64
	Weight float64
}

var (
	errTextSignal        = errors.New("text signals are not backtestable")
	errTooFewInstruments = errors.New("fewer than 2 priced instruments")
)

// scoreSignal turns a signal's value and universe into normalized
// portfolio weights. Vector entries without a universe match are
// dropped; text signals are skipped entirely.
func scoreSignal(sig *models.Signal) ([]instrumentScore, error) {
	var universe []instrumentRef
	if err := json.Unmarshal(sig.InstrumentUniverse, &universe); err != nil {
		return nil, fmt.Errorf("parsing instrument universe: %w", err)
	}
	var value signalValue
	if err := json.Unmarshal(sig.SignalValue, &value); err != nil {
		return nil, fmt.Errorf("parsing signal value: %w", err)
	}

	var scores []instrumentScore
	for _, ref := range universe {
		w := 1.0
		if ref.Weight != nil {
			w = *ref.Weight
		}
		switch value.Kind {
		case "scalar":
			if value.Scalar == nil {
				return nil, fmt.Errorf("scalar signal without value")
			}
			scores = append(scores, instrumentScore{ID: ref.ID, Raw: *value.Scalar * w})
		case "vector":
			v, ok := value.Vector[ref.ID]
			if !ok {
				continue
			}
			scores = append(scores, instrumentScore{ID: ref.ID, Raw: v * w})
		case "text":
			return nil, errTextSignal
		default:
			return nil, fmt.Errorf("unknown signal value kind %q", value.Kind)
		}
	}
	if len(scores) < minPricedInstruments {
		return nil, errTooFewInstruments
	}

	var l1 float64
	for _, s := range scores {
		l1 += abs(s.Raw)
	}
	if l1 == 0 {
		return nil, errTooFewInstruments
	}
	for i := range scores {
		scores[i].Weight = scores[i].Raw / l1
	}
	return scores, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// BacktestJob replays stored signals against dataset-versioned market
// outcomes and records per-signal results plus a run summary.
type BacktestJob struct {
	deps Deps
}

func (j *BacktestJob) Name() string { return "backtest" }

func (j *BacktestJob) Run(ctx context.Context) error {
	cfg := j.deps.Cfg
	if cfg.DatasetVersion == "" {
		return fmt.Errorf("backtest requires DATASET_VERSION")
	}
	horizon, err := ParseHorizon(cfg.Horizon)
	if err != nil {
		return err
	}

	now := j.deps.now()
	start, end := cfg.BacktestStart, cfg.BacktestEnd
	if end.IsZero() {
		end = now
	}
	if start.IsZero() {
		start = end.Add(-time.Duration(cfg.LookbackHours) * time.Hour)
	}

	signals, err := j.deps.Store.ListSignals(ctx, cfg.TenantID, start, end)
	if err != nil {
		return err
	}

	agg := newAggregate()
	for i := range signals {
		sig := &signals[i]
		if sig.Horizon != cfg.Horizon {
			continue
		}
		agg.eligible++

		scores, err := scoreSignal(sig)
		if err != nil {
			if errors.Is(err, errTextSignal) || errors.Is(err, errTooFewInstruments) {
				agg.skipped++
				continue
			}
			slog.Warn("Skipping unparseable signal", "signal_id", sig.SignalID, "error", err)
			agg.skipped++
			continue
		}

		res, err := j.evaluateSignal(ctx, sig, scores, horizon)
		if err != nil {
			return err
		}
		if res == nil {
			agg.unpriced++
			continue
		}
		agg.add(res)
	}

	summary, err := json.Marshal(agg.summarize())
	if err != nil {
		return fmt.Errorf("marshaling backtest summary: %w", err)
	}
	run := &models.BacktestRun{
		TenantID:       cfg.TenantID,
		BacktestID:     uuid.NewString(),
		DatasetVersion: cfg.DatasetVersion,
		Horizon:        cfg.Horizon,
		StartTime:      start,
		EndTime:        end,
		CostBPS:        cfg.CostBPS,
		CodeVersion:    cfg.CodeVersion,
		Status:         models.BacktestStatusCompleted,
		Summary:        summary,
	}
	if err := j.deps.Store.InsertBacktestRun(ctx, run); err != nil {
		return err
	}
	slog.Info("Backtest finished",
		"backtest_id", run.BacktestID,
		"signals", agg.eligible,
		"evaluated", len(agg.nets),
		"skipped", agg.skipped,
		"unpriced", agg.unpriced)
	return nil
}

// signalResult is one signal's realized performance.
type signalResult struct {
	Net     float64
	Excess  float64
	IC      float64
	Matched int
}

// evaluateSignal joins one scored signal to outcomes at event_time +
// horizon and persists its SignalOutcome. Returns nil when too few
// instruments have an outcome at the target time.
func (j *BacktestJob) evaluateSignal(ctx context.Context, sig *models.Signal, scores []instrumentScore, horizon time.Duration) (*signalResult, error) {
	cfg := j.deps.Cfg
	target := sig.EventTime.Add(horizon)

	var (
		raws, returns []float64
		portfolio     float64
		benchmarks    []float64
	)
	for _, s := range scores {
		mo, err := j.deps.Store.OutcomeAsOf(ctx, sig.TenantID, cfg.DatasetVersion, s.ID, target)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		raws = append(raws, s.Raw)
		returns = append(returns, mo.RealizedReturn)
		portfolio += s.Weight * mo.RealizedReturn
		if mo.BenchmarkReturn != nil {
			benchmarks = append(benchmarks, *mo.BenchmarkReturn)
		}
	}
	if len(returns) < minPricedInstruments {
		return nil, nil
	}

	benchmark := 0.0
	if len(benchmarks) > 0 {
		benchmark = stats.Mean(benchmarks)
	}
	net := portfolio - cfg.CostBPS/10000
	res := &signalResult{
		Net:     net,
		Excess:  net - benchmark,
		IC:      stats.Pearson(raws, returns),
		Matched: len(returns),
	}

	details, _ := json.Marshal(map[string]any{
		"portfolio_return":    portfolio,
		"cost_bps":            cfg.CostBPS,
		"ic":                  res.IC,
		"matched_instruments": res.Matched,
		"target_time":         target.UTC().Format(time.RFC3339),
		"dataset_version":     cfg.DatasetVersion,
	})
	if _, err := j.deps.Store.InsertSignalOutcome(ctx, &models.SignalOutcome{
		TenantID:        sig.TenantID,
		SignalID:        sig.SignalID,
		Horizon:         sig.Horizon,
		RealizedReturn:  net,
		BenchmarkReturn: benchmark,
		ExcessReturn:    res.Excess,
		Details:         details,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// backtestAggregate accumulates per-signal results into run statistics.
type backtestAggregate struct {
	eligible int
	skipped  int
	unpriced int

	nets     []float64
	excesses []float64
	ics      []float64
	hits     int
	matched  int
}

func newAggregate() *backtestAggregate { return &backtestAggregate{} }

func (a *backtestAggregate) add(r *signalResult) {
	a.nets = append(a.nets, r.Net)
	a.excesses = append(a.excesses, r.Excess)
	a.ics = append(a.ics, r.IC)
	if r.Net > 0 {
		a.hits++
	}
	a.matched += r.Matched
}

func (a *backtestAggregate) summarize() map[string]any {
	s := map[string]any{
		"signal_count":            a.eligible,
		"evaluated_count":         len(a.nets),
		"skipped_count":           a.skipped,
		"unpriced_count":          a.unpriced,
		"instrument_observations": a.matched,
	}
	if len(a.nets) == 0 {
		return s
	}
	s["mean_net_return"] = stats.Mean(a.nets)
	s["std_net_return"] = stats.SampleStdDev(a.nets)
	s["sharpe_net"] = stats.Sharpe(a.nets, 0)
	s["mean_excess_return"] = stats.Mean(a.excesses)
	s["sharpe_excess"] = stats.Sharpe(a.excesses, 0)
	s["mean_ic"] = stats.Mean(a.ics)
	s["ic_t_stat"] = stats.TStatMean(a.ics)
	s["hit_rate"] = float64(a.hits) / float64(len(a.nets))
	return s
}
