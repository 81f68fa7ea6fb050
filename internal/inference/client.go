// Package inference wraps the local model engine behind a small streaming
// client. Callers receive tokens as they arrive plus the assembled text;
// connection failures and timeouts surface as ErrUnavailable so the caller
// can apply its own retry and breaker policy.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reviso/reviso/internal/prompts"
)

// ErrUnavailable indicates the engine could not be reached or did not
// produce a complete response. It is the retryable class of failure.
var ErrUnavailable = errors.New("inference engine unavailable")

// Client streams a completion for a compiled prompt. Each token is passed
// to emit as it arrives; the full assembled text is returned once the
// stream finishes. A nil emit is allowed.
type Client interface {
	Stream(ctx context.Context, prompt prompts.CompiledPrompt, emit func(token string)) (string, error)
	Model() string
	Healthy(ctx context.Context) bool
}

// HTTPClient talks to an Ollama-compatible chat endpoint over localhost
// HTTP using newline-delimited JSON streaming.
type HTTPClient struct {
	cfg    Config
	hc     *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates a streaming client from finalized config.
func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.Timeout()},
		logger: logger.With("system", "inference"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (c *HTTPClient) Stream(ctx context.Context, prompt prompts.CompiledPrompt, emit func(token string)) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Stream: true,
		Options: chatOptions{
			Temperature: c.cfg.Temperature,
			NumPredict:  c.cfg.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	var (
		sb   strings.Builder
		done bool
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("%w: malformed stream chunk: %v", ErrUnavailable, err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, chunk.Error)
		}
		if chunk.Message.Content != "" {
			sb.WriteString(chunk.Message.Content)
			if emit != nil {
				emit(chunk.Message.Content)
			}
		}
		if chunk.Done {
			done = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: stream read: %v", ErrUnavailable, err)
	}
	if !done {
		return "", fmt.Errorf("%w: stream ended without completion", ErrUnavailable)
	}

	return sb.String(), nil
}

// Model returns the configured model identifier.
func (c *HTTPClient) Model() string {
	return c.cfg.Model
}

// Healthy reports whether the engine answers its version endpoint.
func (c *HTTPClient) Healthy(ctx context.Context) bool {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
