package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ostrella/voxcart/internal/reliability"
	"github.com/ostrella/voxcart/internal/understand"
)

// Result is the outcome of one tool call, already phrased for speech.
type Result struct {
	Spoken string `json:"spoken"`
}

// Executor runs a structured action requested by the understanding model.
// Implementations must honor ctx; the orchestrator applies a short ceiling
// per call.
type Executor interface {
	Execute(ctx context.Context, tenantID string, call understand.ToolCall) (Result, error)
}

// HTTPExecutor forwards tool calls to the storefront app-proxy, which owns
// product search and collection lookup.
type HTTPExecutor struct {
	url        string
	httpClient *http.Client
}

func NewHTTPExecutor(url string) *HTTPExecutor {
	return &HTTPExecutor{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type toolRequest struct {
	Tenant string            `json:"tenant"`
	Tool   string            `json:"tool"`
	Params map[string]string `json:"params,omitempty"`
}

type toolResponse struct {
	Products []struct {
		Title string `json:"title"`
		Price string `json:"price"`
	} `json:"products"`
	Collection string `json:"collection"`
	Error      string `json:"error"`
}

// Execute forwards the call to the app-proxy. A retryable upstream status
// gets one more attempt after a short backoff; the orchestrator's per-call
// ceiling still bounds the total time.
func (e *HTTPExecutor) Execute(ctx context.Context, tenantID string, call understand.ToolCall) (Result, error) {
	payload, err := json.Marshal(toolRequest{Tenant: tenantID, Tool: call.Name, Params: call.Params})
	if err != nil {
		return Result{}, fmt.Errorf("marshal tool request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt, 100*time.Millisecond, 400*time.Millisecond)):
			}
		}
		result, status, err := e.doOnce(ctx, call, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !reliability.IsRetryableHTTPStatus(status) {
			return Result{}, err
		}
	}
	return Result{}, lastErr
}

func (e *HTTPExecutor) doOnce(ctx context.Context, call understand.ToolCall, payload []byte) (Result, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, 0, fmt.Errorf("create tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, 0, fmt.Errorf("tool request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, res.StatusCode, fmt.Errorf("tool status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out toolResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Result{}, res.StatusCode, fmt.Errorf("decode tool response: %w", err)
	}
	if out.Error != "" {
		return Result{}, res.StatusCode, fmt.Errorf("tool error: %s", out.Error)
	}

	return Result{Spoken: summarize(call, out)}, res.StatusCode, nil
}

// summarize turns a tool response into one short spoken sentence.
func summarize(call understand.ToolCall, out toolResponse) string {
	switch call.Name {
	case "search_products":
		if len(out.Products) == 0 {
			return fmt.Sprintf("I couldn't find anything for %s.", call.Params["query"])
		}
		names := make([]string, 0, 3)
		for i, p := range out.Products {
			if i == 3 {
				break
			}
			names = append(names, p.Title)
		}
		return fmt.Sprintf("I found %d results. The top ones are %s.", len(out.Products), strings.Join(names, ", "))
	case "open_collection":
		name := out.Collection
		if name == "" {
			name = call.Params["handle"]
		}
		return fmt.Sprintf("Opening the %s collection for you.", name)
	default:
		return "Done."
	}
}
