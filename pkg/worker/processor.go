// Package worker turns the append-only raw event log into the
// materialized evaluation store. A pool of workers claims unprocessed
// events in batches with FOR UPDATE SKIP LOCKED and applies each event
// inside its own savepoint, so one poisoned event never sinks a batch.
package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/normalize"
	"github.com/agentlens/agentlens/pkg/schema"
	"github.com/agentlens/agentlens/pkg/store"
)

// Version stamps written onto evaluation records so historical scores
// can be tied to the scoring code that produced them.
const (
	NormalizationVersion = "norm-1"
	WeightingVersion     = "weights-1"

	// evaluatorUnreported is recorded when the event carried no
	// evaluator version.
	evaluatorUnreported = "unreported"
)

// Materializer applies one validated event to the evaluation store.
type Materializer struct {
	registry *schema.Registry
	resolver *normalize.Resolver
}

// NewMaterializer creates a Materializer using the given schema registry
// and per-workflow normalization resolver.
func NewMaterializer(registry *schema.Registry, resolver *normalize.Resolver) *Materializer {
	return &Materializer{registry: registry, resolver: resolver}
}

// Process revalidates one raw event against the registry and dispatches
// it by type. Rows can enter raw_events outside the validated ingest
// path (replays, migrations), so the ingest-time validation is not
// trusted here. st must be bound to the per-event savepoint so a
// failure rolls back only this event's writes.
func (m *Materializer) Process(ctx context.Context, st *store.Store, raw models.RawEvent) error {
	ev, fieldErrs := m.registry.ValidateEvent(raw.Payload)
	if len(fieldErrs) > 0 {
		return fmt.Errorf("payload failed revalidation: %s", fieldErrs[0].Error())
	}

	switch ev.Type {
	case schema.EventOrchestrationRunStarted:
		return m.applyRunStarted(ctx, st, ev)
	case schema.EventOrchestrationRunCompleted:
		return m.applyRunCompleted(ctx, st, ev)
	case schema.EventAgentRunStarted:
		return m.applyAgentRunStarted(ctx, st, ev)
	case schema.EventAgentRunCompleted:
		return m.applyAgentRunCompleted(ctx, st, ev)
	case schema.EventRetrievalContextAttached:
		// Acknowledged but not materialized: the raw payload stays
		// queryable in the event log.
		return nil
	case schema.EventSignalEmitted:
		return m.applySignal(ctx, st, ev)
	case schema.EventMarketOutcomeIngested:
		return m.applyOutcome(ctx, st, ev)
	default:
		return fmt.Errorf("unhandled event type %q", ev.Type)
	}
}

func (m *Materializer) applyRunStarted(ctx context.Context, st *store.Store, ev *schema.Event) error {
	var p schema.OrchestrationPayload
	if err := ev.DecodePayload(&p); err != nil {
		return err
	}
	started := ev.EventTime
	return st.ApplyRunStarted(ctx, &models.OrchestrationRun{
		TenantID:            ev.TenantID,
		RunID:               ev.OrchestrationRunID,
		WorkflowID:          ev.WorkflowID,
		QueryID:             ev.QueryID,
		Query:               &p.Orchestration.Query,
		RequestTimestamp:    &ev.RequestTimestamp,
		StartedAt:           &started,
		OrchestratorVersion: p.Orchestration.OrchestratorVersion,
		ClientID:            p.Orchestration.ClientID,
		UserID:              p.Orchestration.UserID,
	})
}

func (m *Materializer) applyRunCompleted(ctx context.Context, st *store.Store, ev *schema.Event) error {
	var p schema.CompletionPayload
	if err := ev.DecodePayload(&p); err != nil {
		return err
	}
	completed := ev.EventTime
	return st.ApplyRunCompleted(ctx, &models.OrchestrationRun{
		TenantID:       ev.TenantID,
		RunID:          ev.OrchestrationRunID,
		WorkflowID:     ev.WorkflowID,
		QueryID:        ev.QueryID,
		Status:         models.OrchestrationRunStatus(p.Completion.Status),
		CompletedAt:    &completed,
		TotalLatencyMS: p.Completion.TotalLatencyMS,
		ErrorCode:      p.Completion.ErrorCode,
		ErrorMessage:   p.Completion.ErrorMessage,
	})
}

func (m *Materializer) applyAgentRunStarted(ctx context.Context, st *store.Store, ev *schema.Event) error {
	var p schema.AgentRunPayload
	if err := ev.DecodePayload(&p); err != nil {
		return err
	}
	if err := st.EnsureOrchestrationRun(ctx, ev.TenantID, ev.OrchestrationRunID, ev.WorkflowID, ev.QueryID); err != nil {
		return err
	}
	started := ev.EventTime
	return st.ApplyAgentRunStarted(ctx, &models.AgentRun{
		TenantID:     ev.TenantID,
		AgentRunID:   p.AgentRun.AgentRunID,
		RunID:        ev.OrchestrationRunID,
		AgentID:      p.AgentRun.AgentID,
		AgentVersion: p.AgentRun.AgentVersion,
		Model:        p.AgentRun.Model,
		ConfigHash:   p.AgentRun.ConfigHash,
		ParentRunID:  p.AgentRun.ParentAgentRunID,
		StartedAt:    &started,
	})
}

// applyAgentRunCompleted merges agent run state and writes the scored
// evaluation record in the same savepoint.
func (m *Materializer) applyAgentRunCompleted(ctx context.Context, st *store.Store, ev *schema.Event) error {
	var p schema.AgentRunPayload
	if err := ev.DecodePayload(&p); err != nil {
		return err
	}
	if err := st.EnsureOrchestrationRun(ctx, ev.TenantID, ev.OrchestrationRunID, ev.WorkflowID, ev.QueryID); err != nil {
		return err
	}

	completed := ev.EventTime
	ar := &models.AgentRun{
		TenantID:     ev.TenantID,
		AgentRunID:   p.AgentRun.AgentRunID,
		RunID:        ev.OrchestrationRunID,
		AgentID:      p.AgentRun.AgentID,
		AgentVersion: p.AgentRun.AgentVersion,
		Model:        p.AgentRun.Model,
		ConfigHash:   p.AgentRun.ConfigHash,
		ParentRunID:  p.AgentRun.ParentAgentRunID,
		CompletedAt:  &completed,
		LatencyMS:    p.Metrics.LatencyMS,
	}
	if p.Output != nil {
		ar.OutputSummary = p.Output.Summary
		ar.OutputURI = p.Output.URI
	}
	if err := st.ApplyAgentRunCompleted(ctx, ar); err != nil {
		return err
	}

	cfg := m.resolver.ForWorkflow(ev.WorkflowID)
	raw := normalize.Metrics{
		LatencyMS:         p.Metrics.LatencyMS,
		Faithfulness:      p.Metrics.Faithfulness,
		HallucinationFlag: p.Metrics.HallucinationFlag,
		Coverage:          p.Metrics.Coverage,
		Confidence:        p.Metrics.Confidence,
	}
	norm := normalize.Normalize(raw, cfg)

	evaluator := evaluatorUnreported
	if p.EvaluatorVersion != nil {
		evaluator = *p.EvaluatorVersion
	}

	_, err := st.InsertEvaluationRecord(ctx, &models.EvaluationRecord{
		TenantID:             ev.TenantID,
		EvaluationID:         uuid.NewString(),
		AgentRunID:           p.AgentRun.AgentRunID,
		RunID:                ev.OrchestrationRunID,
		WorkflowID:           ev.WorkflowID,
		AgentID:              p.AgentRun.AgentID,
		AgentVersion:         p.AgentRun.AgentVersion,
		LatencyMS:            p.Metrics.LatencyMS,
		Faithfulness:         p.Metrics.Faithfulness,
		HallucinationFlag:    p.Metrics.HallucinationFlag,
		Coverage:             p.Metrics.Coverage,
		Confidence:           p.Metrics.Confidence,
		LatencyNorm:          norm.LatencyNorm,
		FaithfulnessNorm:     norm.FaithfulnessNorm,
		HallucinationNorm:    norm.HallucinationNorm,
		CoverageNorm:         norm.CoverageNorm,
		ConfidenceNorm:       norm.ConfidenceNorm,
		RunQualityScore:      normalize.QualityScore(norm, cfg.QualityWeights),
		RiskScore:            normalize.RiskScore(norm),
		EvaluatorVersion:     evaluator,
		NormalizationVersion: NormalizationVersion,
		WeightingVersion:     WeightingVersion,
		ScoringTimestamp:     ev.EventTime,
	})
	return err
}

func (m *Materializer) applySignal(ctx context.Context, st *store.Store, ev *schema.Event) error {
	var p schema.SignalPayload
	if err := ev.DecodePayload(&p); err != nil {
		return err
	}
	if err := st.EnsureOrchestrationRun(ctx, ev.TenantID, ev.OrchestrationRunID, ev.WorkflowID, ev.QueryID); err != nil {
		return err
	}
	_, err := st.InsertSignal(ctx, &models.Signal{
		TenantID:           ev.TenantID,
		SignalID:           p.Signal.SignalID,
		RunID:              ev.OrchestrationRunID,
		EventTime:          ev.EventTime,
		Horizon:            p.Signal.Horizon,
		InstrumentUniverse: p.Signal.InstrumentUniverse,
		SignalValue:        p.Signal.SignalValue,
		Confidence:         p.Signal.Confidence,
		Constraints:        p.Signal.Constraints,
	})
	return err
}

func (m *Materializer) applyOutcome(ctx context.Context, st *store.Store, ev *schema.Event) error {
	var p schema.OutcomePayload
	if err := ev.DecodePayload(&p); err != nil {
		return err
	}
	_, err := st.InsertMarketOutcome(ctx, &models.MarketOutcome{
		TenantID:        ev.TenantID,
		DatasetVersion:  p.Outcome.DatasetVersion,
		InstrumentID:    p.Outcome.InstrumentID,
		AsofTime:        p.Outcome.AsofTime,
		RealizedReturn:  p.Outcome.RealizedReturn,
		BenchmarkReturn: p.Outcome.BenchmarkReturn,
	})
	return err
}
