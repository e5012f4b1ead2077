package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/normalize"
	"github.com/agentlens/agentlens/pkg/schema"
)

func newTestMaterializer(t *testing.T) *Materializer {
	t.Helper()
	registry, err := schema.NewRegistry()
	require.NoError(t, err)
	return NewMaterializer(registry, normalize.NewResolver(normalize.DefaultConfig(), nil))
}

func TestPollIntervalJitterBounds(t *testing.T) {
	p := NewPool(nil, config.WorkerConfig{
		PollInterval:       500 * time.Millisecond,
		PollIntervalJitter: 250 * time.Millisecond,
	}, nil)

	for i := 0; i < 200; i++ {
		d := p.pollInterval()
		assert.GreaterOrEqual(t, d, 250*time.Millisecond)
		assert.Less(t, d, 750*time.Millisecond)
	}
}

func TestPollIntervalNoJitter(t *testing.T) {
	p := NewPool(nil, config.WorkerConfig{PollInterval: time.Second}, nil)
	assert.Equal(t, time.Second, p.pollInterval())
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	mat := newTestMaterializer(t)

	err := mat.Process(context.Background(), nil, models.RawEvent{
		Payload: []byte(`{"type": 42}`),
	})
	assert.ErrorContains(t, err, "revalidation")
}

func TestProcessRejectsUnknownType(t *testing.T) {
	mat := newTestMaterializer(t)

	err := mat.Process(context.Background(), nil, models.RawEvent{
		Payload: []byte(`{"schema_version":"v1","type":"SomethingNew","event_id":"x","tenant_id":"t","orchestration_run_id":"r","workflow_id":"w","query_id":"q","request_timestamp":"2026-01-01T00:00:00Z","event_time":"2026-01-01T00:00:00Z"}`),
	})
	assert.ErrorContains(t, err, "unknown event type")
}

func TestProcessRevalidatesBeforeDispatch(t *testing.T) {
	mat := newTestMaterializer(t)

	// Decodes cleanly as JSON but misses required envelope fields, the
	// shape a hand-inserted or migrated row would have. It must fail
	// before any store write, so a nil store is safe here.
	err := mat.Process(context.Background(), nil, models.RawEvent{
		Payload: []byte(`{"schema_version":"v1","type":"AgentRunCompleted","event_id":"x"}`),
	})
	assert.ErrorContains(t, err, "revalidation")
}
