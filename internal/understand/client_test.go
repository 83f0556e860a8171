package understand

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestProcessSynchronousSuccess(t *testing.T) {
	output := `{"message":"Here are some shirts","action":"search","query":"shirts"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body struct {
			Input predictionInput `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Input.Audio == "" {
			t.Errorf("request audio payload is empty")
		}
		if body.Input.ShopDomain != "shop1.myshopify.com" {
			t.Errorf("shop_domain = %q", body.Input.ShopDomain)
		}
		raw, _ := json.Marshal(output)
		fmt.Fprintf(w, `{"id":"p1","status":"succeeded","output":%s}`, raw)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	res := c.Process(context.Background(), Request{
		Audio:  []byte{1, 2, 3},
		Tenant: "shop1.myshopify.com",
	})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (detail: %s)", res.Status, res.Detail)
	}
	if res.Message != "Here are some shirts" {
		t.Fatalf("message = %q", res.Message)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "search_products" {
		t.Fatalf("tool calls = %+v, want one search_products call", res.ToolCalls)
	}
	if res.ToolCalls[0].Params["query"] != "shirts" {
		t.Fatalf("query param = %q, want %q", res.ToolCalls[0].Params["query"], "shirts")
	}
}

func TestProcessPlainTextOutputHasNoToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"p1","status":"succeeded","output":"Just chatting."}`)
	}))
	defer srv.Close()

	res := NewClient(srv.URL, "").Process(context.Background(), Request{Audio: []byte{1}})
	if res.Status != StatusCompleted || res.Message != "Just chatting." {
		t.Fatalf("result = %+v", res)
	}
	if len(res.ToolCalls) != 0 {
		t.Fatalf("tool calls = %+v, want none", res.ToolCalls)
	}
}

func TestProcessAsyncThenAwait(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"abc","status":"starting"}`)
	})
	mux.HandleFunc("GET /abc", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			fmt.Fprint(w, `{"id":"abc","status":"processing"}`)
			return
		}
		fmt.Fprint(w, `{"id":"abc","status":"succeeded","output":"{\"message\":\"done\",\"action\":\"none\"}"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "", WithPolling(time.Millisecond, 10))
	res := c.Process(context.Background(), Request{Audio: []byte{1}})
	if res.Status != StatusPending || res.JobID != "abc" {
		t.Fatalf("initial result = %+v, want pending abc", res)
	}

	final := c.Await(context.Background(), res)
	if final.Status != StatusCompleted || final.Message != "done" {
		t.Fatalf("final result = %+v, want completed %q", final, "done")
	}
	if got := polls.Load(); got != 3 {
		t.Fatalf("polls = %d, want 3", got)
	}
}

func TestAwaitTimesOutAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"abc","status":"processing"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithPolling(time.Millisecond, 3))
	start := time.Now()
	res := c.Await(context.Background(), pending("abc"))
	if res.Status != StatusFailed || res.Reason != ReasonTimeout {
		t.Fatalf("result = %+v, want failed timeout", res)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Await took too long: %v", time.Since(start))
	}
}

func TestAwaitHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"abc","status":"processing"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(srv.URL, "", WithPolling(50*time.Millisecond, 100))
	res := c.Await(ctx, pending("abc"))
	if res.Status != StatusFailed || res.Reason != ReasonTimeout {
		t.Fatalf("result = %+v, want failed timeout on cancel", res)
	}
}

func TestFailureNormalization(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    Reason
	}{
		{
			name: "upstream status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			want: ReasonUpstream,
		},
		{
			name: "prediction failed",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"id":"p1","status":"failed","error":"model exploded"}`)
			},
			want: ReasonUpstream,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{{{`)
			},
			want: ReasonParse,
		},
		{
			name: "pending without id",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"status":"processing"}`)
			},
			want: ReasonParse,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			res := NewClient(srv.URL, "").Process(context.Background(), Request{Audio: []byte{1}})
			if res.Status != StatusFailed || res.Reason != tc.want {
				t.Fatalf("result = %+v, want failed %q", res, tc.want)
			}
		})
	}
}

func TestFailureNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	res := NewClient(srv.URL, "").Process(context.Background(), Request{Audio: []byte{1}})
	if res.Status != StatusFailed || res.Reason != ReasonNetwork {
		t.Fatalf("result = %+v, want failed network", res)
	}
}

func TestParseOutputCollectionAction(t *testing.T) {
	raw, _ := json.Marshal(`{"message":"Opening summer looks","action":"collection","handle":"summer"}`)
	message, calls := parseOutput(raw)
	if message != "Opening summer looks" {
		t.Fatalf("message = %q", message)
	}
	if len(calls) != 1 || calls[0].Name != "open_collection" || calls[0].Params["handle"] != "summer" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestParseOutputChunkedList(t *testing.T) {
	raw := json.RawMessage(`["{\"message\":\"hi\",", "\"action\":\"none\"}"]`)
	message, calls := parseOutput(raw)
	if message != "hi" || len(calls) != 0 {
		t.Fatalf("message = %q, calls = %+v", message, calls)
	}
}
