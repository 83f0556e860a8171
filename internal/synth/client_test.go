package synth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func collect(t *testing.T, s *Stream) []byte {
	t.Helper()
	var out bytes.Buffer
	for chunk := range s.Chunks() {
		out.Write(chunk)
	}
	return out.Bytes()
}

func TestSynthesizeStreamsChunksIncrementally(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("first-"))
		flusher.Flush()
		<-release
		w.Write([]byte("second"))
		flusher.Flush()
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL, "key").Synthesize(context.Background(), "hello", VoiceConfig{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	// The first chunk must arrive before the server finishes the reply.
	select {
	case chunk := <-stream.Chunks():
		if !bytes.Equal(chunk, []byte("first-")) {
			t.Fatalf("first chunk = %q", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no chunk before synthesis completed")
	}

	close(release)
	rest := collect(t, stream)
	if !bytes.Equal(rest, []byte("second")) {
		t.Fatalf("remaining audio = %q, want %q", rest, "second")
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error = %v", err)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	c := NewClient("http://unused.invalid", "")
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := c.Synthesize(context.Background(), text, VoiceConfig{}); !errors.Is(err, ErrEmptyText) {
			t.Fatalf("Synthesize(%q) error = %v, want ErrEmptyText", text, err)
		}
	}
}

func TestSynthesizeUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").Synthesize(context.Background(), "hi", VoiceConfig{}); err == nil {
		t.Fatalf("expected error for upstream failure")
	}
}

func TestSynthesizeCancelledContextEndsStream(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("audio"))
		flusher.Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := NewClient(srv.URL, "").Synthesize(ctx, "hi", VoiceConfig{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	<-started
	<-stream.Chunks()
	cancel()

	for range stream.Chunks() {
	}
	if stream.Err() == nil {
		t.Fatalf("cancelled stream should report an error")
	}
}

func TestVoiceConfigClamping(t *testing.T) {
	v := VoiceConfig{Stability: 3, Speed: 9}.clamped()
	if v.Stability != 1 {
		t.Fatalf("Stability = %v, want 1", v.Stability)
	}
	if v.Speed != 1.2 {
		t.Fatalf("Speed = %v, want 1.2", v.Speed)
	}

	v = VoiceConfig{}.clamped()
	if v.ModelID == "" || v.Stability <= 0 || v.Speed != 1.0 {
		t.Fatalf("defaults not applied: %+v", v)
	}
}

func TestMockBackendSplitsReply(t *testing.T) {
	m := NewMockBackend()
	stream, err := m.Synthesize(context.Background(), "hello world", VoiceConfig{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	var chunks int
	var out bytes.Buffer
	for chunk := range stream.Chunks() {
		chunks++
		out.Write(chunk)
	}
	if chunks != 2 {
		t.Fatalf("chunks = %d, want 2", chunks)
	}
	if out.String() != "hello world" {
		t.Fatalf("audio = %q", out.String())
	}
}
