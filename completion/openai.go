package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/interflow/types"
)

// OpenAIConfig configures an OpenAI-compatible streaming provider.
type OpenAIConfig struct {
	// ProviderName identifies the provider in logs ("openai", "deepseek", ...).
	ProviderName string `yaml:"provider_name" json:"provider_name"`
	APIKey       string `yaml:"api_key" json:"api_key"`
	// BaseURL is the API root, e.g. "https://api.openai.com".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// DefaultModel is used when the request carries no model.
	DefaultModel string        `yaml:"default_model" json:"default_model"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string `yaml:"endpoint_path" json:"endpoint_path"`
}

// OpenAIProvider streams chat completions from any OpenAI-compatible API
// over SSE.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a provider for the configured endpoint.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "completion_provider"), zap.String("provider", cfg.ProviderName)),
	}
}

func (p *OpenAIProvider) Name() string { return p.cfg.ProviderName }

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	payload, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.Errorf(types.ErrGenerationFailure, "completion request failed: %v", err).
			WithRetryable(true)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := readErrorMessage(resp.Body)
		e := types.Errorf(types.ErrGenerationFailure, "completion upstream %d: %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			e = e.WithRetryable(true)
		}
		return nil, e
	}

	p.logger.Debug("completion stream opened", zap.String("model", model))
	return p.streamSSE(ctx, resp.Body), nil
}

func (p *OpenAIProvider) streamSSE(ctx context.Context, body io.ReadCloser) <-chan Chunk {
	ch := make(chan Chunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
					case ch <- Chunk{Err: types.Errorf(types.ErrGenerationFailure, "read stream: %v", err).WithRetryable(true)}:
					}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var frame openAIStreamResponse
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				select {
				case <-ctx.Done():
				case ch <- Chunk{Err: types.Errorf(types.ErrGenerationFailure, "decode stream frame: %v", err)}:
				}
				return
			}

			for _, choice := range frame.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case ch <- Chunk{Content: choice.Delta.Content}:
				}
			}
		}
	}()
	return ch
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "unknown error"
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(raw)
}
