package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the Anthropic messages API.
const DefaultEndpoint = "https://api.anthropic.com/v1/messages"

const anthropicVersion = "2023-06-01"

// AnthropicReviewer calls the Anthropic messages API.
type AnthropicReviewer struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
	// Limiter paces outgoing calls; nil means unlimited.
	Limiter *rate.Limiter
}

// NewAnthropicReviewer returns a reviewer with a traced HTTP transport and
// one request per second.
func NewAnthropicReviewer(apiKey string) *AnthropicReviewer {
	return &AnthropicReviewer{
		APIKey:   apiKey,
		Endpoint: DefaultEndpoint,
		Client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Available reports whether an API key is configured.
func (a *AnthropicReviewer) Available() bool { return a.APIKey != "" }

// Review sends the bundle and parses the reply. Network failures, non-2xx
// statuses and undecodable bodies are returned as *TransportError.
func (a *AnthropicReviewer) Review(ctx context.Context, req Request) (Verdict, error) {
	if a.APIKey == "" {
		return Verdict{}, ErrCredentialMissing
	}
	if len(req.Files) == 0 {
		return Verdict{Approved: true}, nil
	}

	if req.Settings.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Settings.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	if a.Limiter != nil {
		if err := a.Limiter.Wait(ctx); err != nil {
			return Verdict{}, &TransportError{Err: err}
		}
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       req.Settings.Model,
		MaxTokens:   req.Settings.MaxTokens,
		Temperature: req.Settings.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: Prompt(req)}},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("review: marshal request: %w", err)
	}

	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("review: create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Verdict{}, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verdict{}, &TransportError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, &TransportError{Err: fmt.Errorf("decode response: %w", err)}
	}
	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return Verdict{}, &TransportError{Err: fmt.Errorf("empty response content")}
	}
	return ParseReview(text.String()), nil
}
