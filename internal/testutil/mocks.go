// Package testutil provides shared testing utilities and mocks for use
// across the orchestrator test suite.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/quotedesk/ai-orchestrator/pkg/types"
)

// MockTransport is a scriptable Transport implementation. Tests queue
// outcomes in order; once the queue is down to its last outcome that
// outcome repeats. It records every call so tests can assert on attempt
// counts, credential rotation, and request timing.
type MockTransport struct {
	mu sync.Mutex

	name    string
	outcome []sendOutcome

	// Behavior control
	delay   time.Duration
	pingErr error
	sendFn  func(ctx context.Context, cred types.CredentialSource, req types.Request) (*types.Response, error)

	// Call tracking
	sendCalls int
	pingCalls int
	labels    []string
	sendTimes []time.Time
}

type sendOutcome struct {
	resp *types.Response
	err  error
}

// NewMockTransport creates a mock transport for the named provider.
// With no queued outcomes every Send succeeds with a canned response.
func NewMockTransport(name string) *MockTransport {
	return &MockTransport{name: name}
}

// Name returns the provider name
func (m *MockTransport) Name() string {
	return m.name
}

// QueueResponse appends a successful outcome to the script
func (m *MockTransport) QueueResponse(content string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcome = append(m.outcome, sendOutcome{resp: &types.Response{
		Content:  content,
		Provider: m.name,
		Usage:    types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}})
	return m
}

// QueueError appends a failed outcome to the script
func (m *MockTransport) QueueError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcome = append(m.outcome, sendOutcome{err: err})
	return m
}

// SetDelay makes every Send block for d (or until the context expires)
// before returning its outcome
func (m *MockTransport) SetDelay(d time.Duration) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// SetPingError controls the outcome of Ping
func (m *MockTransport) SetPingError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
	return m
}

// SetSendFunc installs a custom handler, bypassing the outcome script
func (m *MockTransport) SetSendFunc(fn func(ctx context.Context, cred types.CredentialSource, req types.Request) (*types.Response, error)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFn = fn
	return m
}

// Send implements types.Transport
func (m *MockTransport) Send(ctx context.Context, cred types.CredentialSource, req types.Request) (*types.Response, error) {
	m.mu.Lock()
	m.sendCalls++
	m.labels = append(m.labels, cred.Label())
	m.sendTimes = append(m.sendTimes, time.Now())
	delay := m.delay
	fn := m.sendFn

	var out sendOutcome
	if fn == nil {
		switch {
		case len(m.outcome) == 0:
			out = sendOutcome{resp: &types.Response{
				Content:  "ok",
				Provider: m.name,
				Usage:    types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}}
		case len(m.outcome) == 1:
			out = m.outcome[0]
		default:
			out = m.outcome[0]
			m.outcome = m.outcome[1:]
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, types.NewTimeoutError(m.name, "request timed out").WithOriginalErr(ctx.Err())
		}
	}

	if fn != nil {
		return fn(ctx, cred, req)
	}
	if out.err != nil {
		return nil, out.err
	}
	resp := *out.resp
	resp.CredentialLabel = cred.Label()
	return &resp, nil
}

// Ping implements types.Transport
func (m *MockTransport) Ping(ctx context.Context, cred types.CredentialSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingCalls++
	return m.pingErr
}

// SendCalls returns how many times Send was invoked
func (m *MockTransport) SendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCalls
}

// PingCalls returns how many times Ping was invoked
func (m *MockTransport) PingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingCalls
}

// Labels returns the credential labels seen by Send, in call order
func (m *MockTransport) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// SendTimes returns the wall-clock time of each Send call, in order
func (m *MockTransport) SendTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, len(m.sendTimes))
	copy(out, m.sendTimes)
	return out
}

// LabelCounts returns how many Send calls each credential label received
func (m *MockTransport) LabelCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.labels))
	for _, l := range m.labels {
		counts[l]++
	}
	return counts
}
