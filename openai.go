package llmguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	maxResponseBody      = 10 * 1024 * 1024
)

// OpenAIUpstream is an Upstream for OpenAI-compatible chat-completions
// endpoints. It performs no resilience handling of its own; it classifies
// failures into the client's taxonomy and leaves retries, breaking and
// caching to the Client wrapping it.
type OpenAIUpstream struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// OpenAIOption configures an OpenAIUpstream.
type OpenAIOption func(*OpenAIUpstream)

// WithHTTPClient sets a custom *http.Client. The client's own Timeout should
// stay zero; the call envelope owns the deadline.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(u *OpenAIUpstream) {
		u.httpClient = hc
	}
}

// WithBaseURL points the upstream at a compatible endpoint (proxy, gateway,
// local server).
func WithBaseURL(baseURL string) OpenAIOption {
	return func(u *OpenAIUpstream) {
		u.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewOpenAIUpstream creates an upstream for the given API key.
func NewOpenAIUpstream(apiKey string, options ...OpenAIOption) *OpenAIUpstream {
	u := &OpenAIUpstream{
		baseURL:    defaultOpenAIBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, option := range options {
		option(u)
	}
	return u
}

// Name implements Upstream.
func (u *OpenAIUpstream) Name() string { return "openai" }

type chatCompletionBody struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	TopP           float64         `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Call implements Upstream: one POST to /chat/completions.
func (u *OpenAIUpstream) Call(ctx context.Context, req *Request) (*Response, error) {
	body := chatCompletionBody{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	if req.ExpectsJSON() {
		body.ResponseFormat = &responseFormat{Type: ResponseFormatJSON}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &UpstreamError{Kind: ErrorTypeFatal, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &UpstreamError{Kind: ErrorTypeFatal, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)

	httpResp, err := u.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &UpstreamError{Kind: ErrorTypeTimeout, Err: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &UpstreamError{Kind: ErrorTypeTransient, Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, &UpstreamError{Kind: ErrorTypeTransient, StatusCode: httpResp.StatusCode, Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp, raw)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &UpstreamError{Kind: ErrorTypeMalformedResponse, StatusCode: httpResp.StatusCode, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &UpstreamError{Kind: ErrorTypeMalformedResponse, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("no choices in completion response")}
	}

	return &Response{
		Payload:      []byte(parsed.Choices[0].Message.Content),
		Model:        parsed.Model,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

// classifyStatus maps HTTP failures into the error taxonomy: 429 and 5xx are
// transient (rate limit / server trouble), 408 is a timeout, remaining 4xx
// are fatal (auth, validation, malformed request).
func classifyStatus(resp *http.Response, raw []byte) *UpstreamError {
	message := upstreamMessage(raw)
	cause := fmt.Errorf("%s: %s", resp.Status, message)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &UpstreamError{
			Kind:       ErrorTypeTransient,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        cause,
		}
	case resp.StatusCode == http.StatusRequestTimeout:
		return &UpstreamError{Kind: ErrorTypeTimeout, StatusCode: resp.StatusCode, Err: cause}
	case resp.StatusCode >= 500:
		return &UpstreamError{
			Kind:       ErrorTypeTransient,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        cause,
		}
	default:
		return &UpstreamError{Kind: ErrorTypeFatal, StatusCode: resp.StatusCode, Err: cause}
	}
}

func upstreamMessage(raw []byte) string {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

// parseRetryAfter parses a Retry-After header value, supporting both
// delay-seconds and HTTP-date formats. The hint is capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
