package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ostrella/voxcart/internal/understand"
)

func TestHTTPExecutorSearchProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req toolRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Tenant != "shop1" || req.Tool != "search_products" || req.Params["query"] != "shirts" {
			t.Errorf("unexpected request: %+v", req)
		}
		fmt.Fprint(w, `{"products":[{"title":"Blue Shirt","price":"20"},{"title":"Red Shirt","price":"25"}]}`)
	}))
	defer srv.Close()

	res, err := NewHTTPExecutor(srv.URL).Execute(context.Background(), "shop1", understand.ToolCall{
		Name:   "search_products",
		Params: map[string]string{"query": "shirts"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(res.Spoken, "2 results") || !strings.Contains(res.Spoken, "Blue Shirt") {
		t.Fatalf("spoken summary = %q", res.Spoken)
	}
}

func TestHTTPExecutorEmptySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"products":[]}`)
	}))
	defer srv.Close()

	res, err := NewHTTPExecutor(srv.URL).Execute(context.Background(), "shop1", understand.ToolCall{
		Name:   "search_products",
		Params: map[string]string{"query": "unicorn saddles"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(res.Spoken, "couldn't find") {
		t.Fatalf("spoken summary = %q", res.Spoken)
	}
}

func TestHTTPExecutorUpstreamErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "proxy down", http.StatusBadGateway)
		}},
		{"tool error field", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"error":"shop not installed"}`)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `not json`)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			if _, err := NewHTTPExecutor(srv.URL).Execute(context.Background(), "shop1", understand.ToolCall{Name: "search_products"}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestHTTPExecutorRetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"products":[{"title":"Blue Shirt","price":"20"}]}`)
	}))
	defer srv.Close()

	res, err := NewHTTPExecutor(srv.URL).Execute(context.Background(), "shop1", understand.ToolCall{
		Name:   "search_products",
		Params: map[string]string{"query": "shirts"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("upstream calls = %d, want 2", got)
	}
	if !strings.Contains(res.Spoken, "Blue Shirt") {
		t.Fatalf("spoken summary = %q", res.Spoken)
	}
}

func TestHTTPExecutorOpenCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"collection":"Summer Looks"}`)
	}))
	defer srv.Close()

	res, err := NewHTTPExecutor(srv.URL).Execute(context.Background(), "shop1", understand.ToolCall{
		Name:   "open_collection",
		Params: map[string]string{"handle": "summer"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(res.Spoken, "Summer Looks") {
		t.Fatalf("spoken summary = %q", res.Spoken)
	}
}
