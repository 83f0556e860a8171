package understand

import (
	"encoding/json"
	"strings"
)

// Status is the normalized outcome of an understanding call. The upstream
// prediction API answers either synchronously or with a poll-able job id;
// this package folds both shapes into one contract for the orchestrator.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Reason is a machine-readable failure code.
type Reason string

const (
	ReasonNetwork  Reason = "network"
	ReasonUpstream Reason = "upstream_error"
	ReasonParse    Reason = "parse_error"
	ReasonTimeout  Reason = "timeout"
)

// ToolCall is a structured action the model asked for, executed by an
// external collaborator before the reply is synthesized.
type ToolCall struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// Result is the single response shape the orchestrator sees.
type Result struct {
	Status    Status     `json:"status"`
	Message   string     `json:"message,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	JobID     string     `json:"job_id,omitempty"`
	Reason    Reason     `json:"reason,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

func completed(message string, calls []ToolCall) Result {
	return Result{Status: StatusCompleted, Message: message, ToolCalls: calls}
}

func pending(jobID string) Result {
	return Result{Status: StatusPending, JobID: jobID}
}

func failed(reason Reason, detail string) Result {
	return Result{Status: StatusFailed, Reason: reason, Detail: detail}
}

// modelOutput is the JSON the shopping model is prompted to emit.
type modelOutput struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Query   string `json:"query"`
	Handle  string `json:"handle"`
}

// parseOutput maps the model's output into a message plus tool calls. Raw
// non-JSON output degrades to a plain spoken message with no tool calls.
func parseOutput(raw json.RawMessage) (string, []ToolCall) {
	text := decodeOutputText(raw)
	var out modelOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return strings.TrimSpace(text), nil
	}

	message := strings.TrimSpace(out.Message)
	switch strings.ToLower(strings.TrimSpace(out.Action)) {
	case "search":
		if q := strings.TrimSpace(out.Query); q != "" {
			return message, []ToolCall{{Name: "search_products", Params: map[string]string{"query": q}}}
		}
	case "collection":
		if h := strings.TrimSpace(out.Handle); h != "" {
			return message, []ToolCall{{Name: "open_collection", Params: map[string]string{"handle": h}}}
		}
	}
	return message, nil
}

// decodeOutputText unwraps the prediction output, which arrives as a JSON
// string, a list of string chunks, or a bare object.
func decodeOutputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, "")
	}
	return string(raw)
}
