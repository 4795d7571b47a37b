// Package generation wraps the configured LLM chat backend behind a
// small service used by the retrieval orchestrator: plain generation,
// cooperative fragment streaming, and an outbound rate limit so a burst
// of uncached queries cannot stampede the model server.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/opennotice/noticebot/internal/provider"
)

// ErrUnavailable marks failures reaching the generation backend. Callers
// branch on it to distinguish "the model is down" from a bad request.
var ErrUnavailable = errors.New("generation backend unavailable")

// Service drives the chat model. Safe for concurrent use.
type Service struct {
	// model is the eino chat model produced by the provider factory.
	model provider.ChatModel
	// limiter throttles outbound model calls.
	limiter *rate.Limiter
}

// Config holds the generation service settings.
type Config struct {
	// MaxConcurrentRPS caps outbound model calls per second. Default 5.
	MaxConcurrentRPS float64
	// Burst is the limiter burst size. Default 5.
	Burst int
}

// New constructs a Service over an already-built chat model.
func New(model provider.ChatModel, cfg Config) (*Service, error) {
	if model == nil {
		return nil, fmt.Errorf("generation: chat model is required")
	}
	if cfg.MaxConcurrentRPS <= 0 {
		cfg.MaxConcurrentRPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Service{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxConcurrentRPS), cfg.Burst),
	}, nil
}

// Generate produces a complete answer for the given messages.
func (s *Service) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("generation: wait for rate limiter: %w", err)
	}
	msg, err := s.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generation: generate: %w: %w", ErrUnavailable, err)
	}
	if msg == nil {
		return "", fmt.Errorf("generation: generate: empty response")
	}
	return msg.Content, nil
}

// GenerateStream produces an answer incrementally, invoking fn for every
// non-empty fragment as it arrives. It returns the full accumulated
// answer. A non-nil error from fn cancels the stream and is returned
// unwrapped so transports can recognise client disconnects.
func (s *Service) GenerateStream(ctx context.Context, messages []*schema.Message, fn func(fragment string) error) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("generation: wait for rate limiter: %w", err)
	}
	sr, err := s.model.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generation: stream: %w: %w", ErrUnavailable, err)
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return buf.String(), fmt.Errorf("generation: stream receive: %w: %w", ErrUnavailable, err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		buf.WriteString(msg.Content)
		if fn != nil {
			if err := fn(msg.Content); err != nil {
				return buf.String(), err
			}
		}
	}
	return buf.String(), nil
}

// Pinger reports whether the generation backend is reachable.
type Pinger struct {
	// host is the Ollama server base URL.
	host string
	// client is the shared HTTP client with a short timeout.
	client *http.Client
}

// NewPinger constructs a readiness probe for a local Ollama server.
// Other backends are remote managed services and are assumed reachable.
func NewPinger(host string) *Pinger {
	return &Pinger{
		host:   host,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

// Ping checks the Ollama /api/tags endpoint and verifies the response
// decodes, mirroring what the first real generation call would need.
func (p *Pinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("generation: ping: create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("generation: ping: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation: ping: %w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}
	var body struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("generation: ping: decode response: %w", err)
	}
	return nil
}
