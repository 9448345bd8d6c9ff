// Package llm talks to an Ollama-compatible generation endpoint and turns
// its replies into endpoint descriptors.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/logging"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3"

	// maxResponseBytes caps how much of a reply is read into memory.
	maxResponseBytes = 16 << 20
)

// Options are the sampling parameters sent with every request.
type Options struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

// DefaultOptions keeps replies close to deterministic.
var DefaultOptions = Options{Temperature: 0.1, TopP: 0.9, NumPredict: 4096}

type GenerateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for baseURL. The HTTP client carries no
// timeout of its own; callers bound requests through the context.
func NewClient(baseURL, model string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
		logger:     logging.Component(logger, "llm"),
	}
}

func (c *Client) Model() string { return c.model }

// Generate sends a non-streaming completion request and returns the raw
// completion text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: DefaultOptions,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindLLM, "generate", err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", apperr.Wrap(apperr.KindLLM, "generate", err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindLLM, "generate", err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperr.Wrap(apperr.KindLLM, "generate", err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperr.New(apperr.KindLLM, "generate", "LLM error (status %d)", resp.StatusCode).WithOutput(body)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", apperr.New(apperr.KindLLM, "generate", "empty response from LLM")
	}

	var out GenerateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperr.Wrap(apperr.KindLLM, "generate", err, "failed to decode response").WithOutput(body)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", apperr.New(apperr.KindLLM, "generate", "empty response content from LLM").WithOutput(body)
	}

	c.logger.Info("completion received",
		zap.String("model", c.model),
		zap.Int("prompt_bytes", len(prompt)),
		zap.Int("response_bytes", len(out.Response)),
		zap.Duration("duration", time.Since(start)))
	return out.Response, nil
}

// ExtractJSON returns the slice between the first '{' and the last '}' of
// text when that slice is valid JSON, and text unchanged otherwise.
func ExtractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return text
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return text
	}
	return candidate
}

func (c *Client) String() string {
	return fmt.Sprintf("ollama(%s, %s)", c.baseURL, c.model)
}
