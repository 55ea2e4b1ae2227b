package llmguard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionPayload(content string) string {
	body := map[string]any{
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14},
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

func TestOpenAIUpstreamSuccess(t *testing.T) {
	var gotAuth string
	var gotBody chatCompletionBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionPayload(`{"category":"condo"}`)))
	}))
	defer server.Close()

	upstream := NewOpenAIUpstream("sk-test", WithBaseURL(server.URL))

	req := NewChatRequest("gpt-4o-mini", Message{Role: RoleUser, Content: "classify"})
	req.ResponseFormat = ResponseFormatJSON

	resp, err := upstream.Call(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody.Model)
	require.NotNil(t, gotBody.ResponseFormat)
	assert.Equal(t, ResponseFormatJSON, gotBody.ResponseFormat.Type)

	assert.Equal(t, []byte(`{"category":"condo"}`), resp.Payload)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
}

func TestOpenAIUpstreamStatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   string
		wantHint   time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, "2", ErrorTypeTransient, 2 * time.Second},
		{"request timeout", http.StatusRequestTimeout, "", ErrorTypeTimeout, 0},
		{"server error", http.StatusInternalServerError, "", ErrorTypeTransient, 0},
		{"bad gateway with hint", http.StatusBadGateway, "1", ErrorTypeTransient, time.Second},
		{"unauthorized", http.StatusUnauthorized, "", ErrorTypeFatal, 0},
		{"bad request", http.StatusBadRequest, "", ErrorTypeFatal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "test"}}`))
			}))
			defer server.Close()

			upstream := NewOpenAIUpstream("sk-test", WithBaseURL(server.URL))
			_, err := upstream.Call(context.Background(), NewChatRequest("m", Message{Role: RoleUser, Content: "x"}))
			require.Error(t, err)

			var upErr *UpstreamError
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, tt.wantKind, upErr.Kind)
			assert.Equal(t, tt.status, upErr.StatusCode)
			assert.Equal(t, tt.wantHint, upErr.RetryAfter)
			assert.Contains(t, upErr.Error(), "nope")
		})
	}
}

func TestOpenAIUpstreamMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not json"))
	}))
	defer server.Close()

	upstream := NewOpenAIUpstream("sk-test", WithBaseURL(server.URL))
	_, err := upstream.Call(context.Background(), NewChatRequest("m", Message{Role: RoleUser, Content: "x"}))

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, ErrorTypeMalformedResponse, upErr.Kind)
}

func TestOpenAIUpstreamEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model": "m", "choices": []}`))
	}))
	defer server.Close()

	upstream := NewOpenAIUpstream("sk-test", WithBaseURL(server.URL))
	_, err := upstream.Call(context.Background(), NewChatRequest("m", Message{Role: RoleUser, Content: "x"}))

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, ErrorTypeMalformedResponse, upErr.Kind)
}

func TestOpenAIUpstreamDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(completionPayload("late")))
	}))
	defer server.Close()

	upstream := NewOpenAIUpstream("sk-test", WithBaseURL(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := upstream.Call(ctx, NewChatRequest("m", Message{Role: RoleUser, Content: "x"}))
	require.Error(t, err)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, ErrorTypeTimeout, upErr.Kind)
}

func TestClientWithOpenAIUpstreamRecoversFromServerErrors(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"message": "flaky"}}`))
			return
		}
		_, _ = w.Write([]byte(completionPayload(`{"ok":true}`)))
	}))
	defer server.Close()

	upstream := NewOpenAIUpstream("sk-test", WithBaseURL(server.URL))
	client := New(upstream,
		WithTimeout(time.Second),
		WithMaxAttempts(3),
		WithBaseDelay(5*time.Millisecond),
		WithMaxDelay(50*time.Millisecond),
	)

	req := NewChatRequest("gpt-4o-mini", Message{Role: RoleUser, Content: "classify"})
	req.ResponseFormat = ResponseFormatJSON

	resp, err := client.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Payload))
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("0"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
	assert.Equal(t, time.Hour, parseRetryAfter("7200"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("not-a-number"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.Greater(t, got, 25*time.Second)
	assert.LessOrEqual(t, got, 30*time.Second)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))
}
