package understand

import (
	"context"
	"sync"
)

// MockBackend is a scripted understanding backend used in dev mode and tests.
// Results are returned in order; when the script runs out it answers with a
// canned completed result.
type MockBackend struct {
	mu      sync.Mutex
	script  []Result
	polls   []Result
	Default Result
}

func NewMockBackend(script ...Result) *MockBackend {
	return &MockBackend{
		script:  script,
		Default: completed("I heard you, but I'm running without a shopping brain right now.", nil),
	}
}

// QueuePoll appends results returned by subsequent PollJob calls.
func (m *MockBackend) QueuePoll(results ...Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = append(m.polls, results...)
}

func (m *MockBackend) Process(_ context.Context, _ Request) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.script) == 0 {
		return m.Default
	}
	next := m.script[0]
	m.script = m.script[1:]
	return next
}

func (m *MockBackend) PollJob(_ context.Context, jobID string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.polls) == 0 {
		return pending(jobID)
	}
	next := m.polls[0]
	m.polls = m.polls[1:]
	return next
}

func (m *MockBackend) Await(ctx context.Context, res Result) Result {
	for res.Status == StatusPending {
		if ctx.Err() != nil {
			return failed(ReasonTimeout, ctx.Err().Error())
		}
		res = m.PollJob(ctx, res.JobID)
	}
	return res
}

// Completed builds a successful scripted result.
func Completed(message string, calls ...ToolCall) Result { return completed(message, calls) }

// Pending builds a scripted pending result.
func Pending(jobID string) Result { return pending(jobID) }

// Failed builds a scripted failure.
func Failed(reason Reason, detail string) Result { return failed(reason, detail) }
