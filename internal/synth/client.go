package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyText is returned when synthesis is requested for blank input.
// Publishing silence is never useful, so the caller decides what to do.
var ErrEmptyText = errors.New("synthesis text is empty")

// VoiceConfig selects the synthesis voice for one tenant.
type VoiceConfig struct {
	VoiceID   string  `json:"voice_id"`
	ModelID   string  `json:"model_id"`
	Stability float64 `json:"stability"`
	Speed     float64 `json:"speed"`
}

// clamped applies safe defaults and bounds, mirroring what the synthesis
// vendor accepts.
func (v VoiceConfig) clamped() VoiceConfig {
	if strings.TrimSpace(v.ModelID) == "" {
		v.ModelID = "eleven_multilingual_v2"
	}
	if v.Stability <= 0 {
		v.Stability = 0.42
	}
	if v.Stability > 1 {
		v.Stability = 1
	}
	if v.Speed <= 0 {
		v.Speed = 1.0
	}
	if v.Speed < 0.7 {
		v.Speed = 0.7
	} else if v.Speed > 1.2 {
		v.Speed = 1.2
	}
	return v
}

// Backend is the orchestrator's view of the synthesis client.
type Backend interface {
	Synthesize(ctx context.Context, text string, voice VoiceConfig) (*Stream, error)
}

// Stream is a finite, non-restartable sequence of synthesized audio chunks.
// Chunks are delivered as the backend produces them so publishing can start
// before synthesis finishes.
type Stream struct {
	chunks chan []byte
	err    error
	done   chan struct{}
}

// Chunks returns the channel of audio chunks. It is closed when the stream
// ends, after which Err reports any mid-stream failure.
func (s *Stream) Chunks() <-chan []byte { return s.chunks }

// Err returns the terminal stream error, if any. Only valid after Chunks is
// closed.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

func (s *Stream) finish(err error) {
	s.err = err
	close(s.chunks)
	close(s.done)
}

// Client streams synthesized speech from an HTTP text-to-speech endpoint
// that answers with chunked audio.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	chunkSize  int
}

func NewClient(url, apiKey string) *Client {
	return &Client{
		url:        strings.TrimSpace(url),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		chunkSize:  8 << 10,
	}
}

// Synthesize submits text and returns a live stream of audio chunks. The
// request is aborted when ctx is cancelled; the stream then ends with the
// context error.
func (c *Client) Synthesize(ctx context.Context, text string, voice VoiceConfig) (*Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voice = voice.clamped()

	payload, err := json.Marshal(map[string]any{
		"text":  text,
		"voice": voice,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("xi-api-key", c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, fmt.Errorf("synthesis status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	stream := &Stream{
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go c.consume(ctx, res.Body, stream)
	return stream, nil
}

func (c *Client) consume(ctx context.Context, body io.ReadCloser, stream *Stream) {
	defer body.Close()
	for {
		chunk := make([]byte, c.chunkSize)
		n, err := body.Read(chunk)
		if n > 0 {
			select {
			case stream.chunks <- chunk[:n]:
			case <-ctx.Done():
				stream.finish(ctx.Err())
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				stream.finish(nil)
			} else {
				stream.finish(fmt.Errorf("read synthesis stream: %w", err))
			}
			return
		}
	}
}
