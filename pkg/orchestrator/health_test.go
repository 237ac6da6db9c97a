package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/ai-orchestrator/internal/testutil"
	"github.com/quotedesk/ai-orchestrator/pkg/breaker"
	"github.com/quotedesk/ai-orchestrator/pkg/retry"
	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

func TestHealthCheck_OK(t *testing.T) {
	tr := testutil.NewMockTransport("gemini")
	o, err := New([]*Provider{newTestProvider(tr, 2, breaker.Config{})}, Options{Retry: fastPolicy()})
	require.NoError(t, err)

	health := o.HealthCheck()
	require.Contains(t, health, "gemini")
	assert.Equal(t, types.HealthOK, health["gemini"].Status)
	assert.Equal(t, "closed", health["gemini"].Breaker)
	assert.Equal(t, 2, health["gemini"].EligibleCredentials)
	assert.Equal(t, 2, health["gemini"].TotalCredentials)
}

func TestHealthCheck_DownWhenBreakerOpen(t *testing.T) {
	tr := testutil.NewMockTransport("gemini").
		QueueError(types.NewServerError("gemini", 500, "upstream returned 500"))

	policy := fastPolicy()
	policy.MaxAttempts = 1
	o, err := New([]*Provider{newTestProvider(tr, 1, breaker.Config{FailureThreshold: 1})},
		Options{Retry: policy})
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), quoteRequest(), "")
	require.Error(t, err)

	health := o.HealthCheck()
	assert.Equal(t, types.HealthDown, health["gemini"].Status)
	assert.Equal(t, "open", health["gemini"].Breaker)
}

func TestHealthCheck_DownWhenNoEligibleCredentials(t *testing.T) {
	tr := testutil.NewMockTransport("gemini").
		QueueError(types.NewRateLimitError("gemini", 60))

	o, err := New([]*Provider{newTestProvider(tr, 1, breaker.Config{})}, Options{Retry: fastPolicy()})
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), quoteRequest(), "")
	require.Error(t, err)

	health := o.HealthCheck()
	assert.Equal(t, types.HealthDown, health["gemini"].Status)
	assert.Equal(t, 0, health["gemini"].EligibleCredentials)
	assert.Equal(t, "closed", health["gemini"].Breaker)
}

func TestHealthCheck_DegradedWhenCapacityReduced(t *testing.T) {
	tr := testutil.NewMockTransport("gemini").
		QueueError(types.NewAuthError("gemini", "authentication rejected")).
		QueueResponse("ok")

	o, err := New([]*Provider{newTestProvider(tr, 2, breaker.Config{})}, Options{Retry: fastPolicy()})
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), quoteRequest(), "")
	require.NoError(t, err)

	health := o.HealthCheck()
	assert.Equal(t, types.HealthDegraded, health["gemini"].Status)
	assert.Equal(t, 1, health["gemini"].EligibleCredentials)
	assert.Equal(t, 2, health["gemini"].TotalCredentials)
}

func TestHealthProbe(t *testing.T) {
	gemini := testutil.NewMockTransport("gemini")
	openrouter := testutil.NewMockTransport("openrouter").
		SetPingError(types.NewAuthError("openrouter", "authentication rejected"))

	o, err := New([]*Provider{
		newTestProvider(gemini, 1, breaker.Config{}),
		newTestProvider(openrouter, 1, breaker.Config{}),
	}, Options{Retry: fastPolicy()})
	require.NoError(t, err)

	probe := o.StartHealthProbe(10 * time.Millisecond)
	defer o.StopHealthProbe()

	require.Eventually(t, func() bool {
		return openrouter.PingCalls() >= 2
	}, time.Second, 5*time.Millisecond)

	health := o.HealthCheck()
	assert.Equal(t, types.HealthOK, health["gemini"].Status)
	assert.Empty(t, health["gemini"].ProbeError)
	assert.Equal(t, types.HealthDegraded, health["openrouter"].Status)
	assert.Contains(t, health["openrouter"].ProbeError, "authentication rejected")

	// A recovered ping clears the degradation on the next tick.
	openrouter.SetPingError(nil)
	require.Eventually(t, func() bool {
		return o.HealthCheck()["openrouter"].Status == types.HealthOK
	}, time.Second, 5*time.Millisecond)

	// Stopping twice is safe and freezes probing.
	probe.Stop()
	probe.Stop()
	calls := gemini.PingCalls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, gemini.PingCalls())
}

func TestHealthProbe_DoesNotPerturbRouting(t *testing.T) {
	tr := testutil.NewMockTransport("gemini")
	o, err := New([]*Provider{newTestProvider(tr, 3, breaker.Config{})},
		Options{Retry: retry.DefaultPolicy()})
	require.NoError(t, err)

	o.StartHealthProbe(5 * time.Millisecond)
	defer o.StopHealthProbe()

	require.Eventually(t, func() bool {
		return tr.PingCalls() >= 3
	}, time.Second, time.Millisecond)

	// Probing pings but never sends, and leaves usage counters untouched.
	assert.Equal(t, 0, tr.SendCalls())
	snap := o.Stats()
	assert.Equal(t, int64(0), snap.Requests)

	// Selection fairness is intact: requests still spread evenly.
	for i := 0; i < 30; i++ {
		_, err := o.Execute(context.Background(), quoteRequest(), "")
		require.NoError(t, err)
	}
	for label, n := range tr.LabelCounts() {
		assert.Equal(t, 10, n, "credential %s", label)
	}
}

func TestStartHealthProbe_Idempotent(t *testing.T) {
	tr := testutil.NewMockTransport("gemini")
	o, err := New([]*Provider{newTestProvider(tr, 1, breaker.Config{})}, Options{Retry: fastPolicy()})
	require.NoError(t, err)

	p1 := o.StartHealthProbe(10 * time.Millisecond)
	p2 := o.StartHealthProbe(10 * time.Millisecond)
	assert.Same(t, p1, p2)
	o.StopHealthProbe()
}
