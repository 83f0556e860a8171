package tools

import (
	"context"
	"fmt"

	"github.com/ostrella/voxcart/internal/understand"
)

// MockExecutor answers tool calls locally. Used in dev mode when no
// app-proxy endpoint is configured, and by orchestrator tests.
type MockExecutor struct {
	// Fail forces every call to return this error.
	Fail error
}

func NewMockExecutor() *MockExecutor { return &MockExecutor{} }

func (m *MockExecutor) Execute(_ context.Context, _ string, call understand.ToolCall) (Result, error) {
	if m.Fail != nil {
		return Result{}, m.Fail
	}
	switch call.Name {
	case "search_products":
		return Result{Spoken: fmt.Sprintf("I found 3 results for %s.", call.Params["query"])}, nil
	case "open_collection":
		return Result{Spoken: fmt.Sprintf("Opening the %s collection for you.", call.Params["handle"])}, nil
	default:
		return Result{Spoken: "Done."}, nil
	}
}
