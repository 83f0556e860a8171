package synth

import (
	"context"
	"strings"
)

// MockBackend synthesizes text into deterministic byte chunks. Used in dev
// mode when no synthesis endpoint is configured, and by orchestrator tests.
type MockBackend struct {
	// ChunksPerReply controls how many chunks each reply is split into.
	ChunksPerReply int
	// Fail forces every Synthesize call to report an upstream failure.
	Fail error
}

func NewMockBackend() *MockBackend {
	return &MockBackend{ChunksPerReply: 2}
}

func (m *MockBackend) Synthesize(_ context.Context, text string, _ VoiceConfig) (*Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if m.Fail != nil {
		return nil, m.Fail
	}

	n := m.ChunksPerReply
	if n <= 0 {
		n = 2
	}
	stream := &Stream{
		chunks: make(chan []byte, n),
		done:   make(chan struct{}),
	}

	data := []byte(text)
	size := (len(data) + n - 1) / n
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		stream.chunks <- data[start:end]
	}
	stream.finish(nil)
	return stream, nil
}
