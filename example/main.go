package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	llmguard "github.com/hersaputra/llmguard"
)

// propertyType is the structured classification the demo asks for.
type propertyType struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func main() {
	ctx := context.Background()

	var upstream llmguard.Upstream
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		upstream = llmguard.NewOpenAIUpstream(key)
	} else {
		// Demo upstream: returns a fenced JSON blob the way chat models
		// often do, so the repair path is visible without an API key.
		upstream = llmguard.UpstreamFunc(func(ctx context.Context, req *llmguard.Request) (*llmguard.Response, error) {
			payload := "```json\n{\"category\": \"condo\", \"confidence\": 0.93}\n```"
			return &llmguard.Response{Payload: []byte(payload), Model: req.Model, FinishReason: "stop"}, nil
		})
	}

	client := llmguard.New(upstream,
		llmguard.WithTimeout(15*time.Second),
		llmguard.WithMaxAttempts(3),
		llmguard.WithBaseDelay(200*time.Millisecond),
		llmguard.WithMaxDelay(5*time.Second),
		llmguard.WithCircuitBreaker(llmguard.CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		}),
		llmguard.WithCache(10*time.Minute, 512),
		llmguard.WithDeduplication(),
		llmguard.WithRateLimit(5, 10),
		llmguard.WithSimpleLogger(),
	)
	if !client.IsValid() {
		fmt.Fprintln(os.Stderr, "invalid configuration:", client.ValidationError())
		os.Exit(1)
	}

	req := llmguard.NewChatRequest("gpt-4o-mini",
		llmguard.Message{Role: llmguard.RoleSystem, Content: "You classify real-estate listings. Answer with JSON: {\"category\": ..., \"confidence\": ...}."},
		llmguard.Message{Role: llmguard.RoleUser, Content: "2 bed unit on the 14th floor with building gym and concierge."},
	)
	req.ResponseFormat = llmguard.ResponseFormatJSON

	var result propertyType
	if err := client.ExecuteJSON(ctx, req, &result); err != nil {
		fmt.Fprintln(os.Stderr, "classification failed:", err)
		os.Exit(1)
	}
	fmt.Printf("category=%s confidence=%.2f\n", result.Category, result.Confidence)

	// Second identical call is served from the cache.
	resp, err := client.Execute(ctx, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "repeat call failed:", err)
		os.Exit(1)
	}
	fmt.Printf("from cache: %v payload=%s\n", resp.FromCache, resp.Payload)

	b, _ := json.Marshal(llmguard.GetVersionInfo())
	fmt.Println(string(b))
}
