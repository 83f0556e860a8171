package understand

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request carries one flush window of audio plus advisory context to the
// speech-understanding backend.
type Request struct {
	Audio   []byte
	Command string
	Context string
	Tenant  string
}

// Backend is the orchestrator's view of the understanding client.
type Backend interface {
	Process(ctx context.Context, req Request) Result
	PollJob(ctx context.Context, jobID string) Result
	Await(ctx context.Context, res Result) Result
}

// Client talks to a prediction-style speech-understanding endpoint. The
// endpoint answers a POST either with the finished prediction or with a job
// id to poll; both are normalized into Result so callers never see the
// difference.
type Client struct {
	url          string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
	maxAttempts  int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithPolling sets the poll cadence and the attempt ceiling for Await.
func WithPolling(interval time.Duration, maxAttempts int) Option {
	return func(cl *Client) {
		if interval > 0 {
			cl.pollInterval = interval
		}
		if maxAttempts > 0 {
			cl.maxAttempts = maxAttempts
		}
	}
}

func NewClient(url, token string, opts ...Option) *Client {
	c := &Client{
		url:          strings.TrimRight(strings.TrimSpace(url), "/"),
		token:        strings.TrimSpace(token),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 750 * time.Millisecond,
		maxAttempts:  12,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// predictionBody is the wire shape of the prediction endpoint.
type predictionBody struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

type predictionInput struct {
	Command    string `json:"command"`
	Audio      string `json:"audio"`
	ShopDomain string `json:"shop_domain,omitempty"`
	Context    string `json:"context,omitempty"`
}

// Process submits one flush window. All transport and upstream failures are
// normalized into a Failed result; the caller never handles a raw error.
func (c *Client) Process(ctx context.Context, req Request) Result {
	payload, err := json.Marshal(map[string]any{
		"input": predictionInput{
			Command:    req.Command,
			Audio:      base64.StdEncoding.EncodeToString(req.Audio),
			ShopDomain: req.Tenant,
			Context:    req.Context,
		},
	})
	if err != nil {
		return failed(ReasonParse, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return failed(ReasonNetwork, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.do(httpReq)
}

// PollJob fetches the current state of an async prediction.
func (c *Client) PollJob(ctx context.Context, jobID string) Result {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/"+jobID, nil)
	if err != nil {
		return failed(ReasonNetwork, err.Error())
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.do(httpReq)
}

// Await drives a pending result to completion with a bounded poll loop.
// Completed and failed results pass through untouched. Exhausting the attempt
// ceiling, or context cancellation, yields Failed{timeout}.
func (c *Client) Await(ctx context.Context, res Result) Result {
	for attempt := 0; res.Status == StatusPending; attempt++ {
		if attempt >= c.maxAttempts {
			return failed(ReasonTimeout, fmt.Sprintf("job %s still pending after %d polls", res.JobID, attempt))
		}
		select {
		case <-ctx.Done():
			return failed(ReasonTimeout, ctx.Err().Error())
		case <-time.After(c.pollInterval):
		}
		next := c.PollJob(ctx, res.JobID)
		if next.Status == StatusPending && next.JobID == "" {
			next.JobID = res.JobID
		}
		res = next
	}
	return res
}

func (c *Client) do(req *http.Request) Result {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return failed(ReasonNetwork, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return failed(ReasonUpstream, fmt.Sprintf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return failed(ReasonNetwork, fmt.Sprintf("read response: %v", err))
	}

	var pred predictionBody
	if err := json.Unmarshal(body, &pred); err != nil {
		return failed(ReasonParse, fmt.Sprintf("decode response: %v", err))
	}

	switch strings.ToLower(strings.TrimSpace(pred.Status)) {
	case "succeeded":
		message, calls := parseOutput(pred.Output)
		return completed(message, calls)
	case "starting", "processing":
		if strings.TrimSpace(pred.ID) == "" {
			return failed(ReasonParse, "pending prediction without job id")
		}
		return pending(pred.ID)
	case "failed", "canceled":
		detail := strings.TrimSpace(pred.Error)
		if detail == "" {
			detail = "prediction " + pred.Status
		}
		return failed(ReasonUpstream, detail)
	default:
		return failed(ReasonParse, fmt.Sprintf("unknown prediction status %q", pred.Status))
	}
}
