package llmguard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// FingerprintFunc derives the cache/deduplication key for a request. It must
// be deterministic: equivalent requests map to the same key, requests that
// differ in model, payload or generation options map to different keys.
type FingerprintFunc func(req *Request) string

// DefaultFingerprint hashes the canonical JSON encoding of the request's
// semantic content. Struct encoding keeps field order fixed, so equal
// requests always serialize identically. Metadata is excluded on purpose.
func DefaultFingerprint(req *Request) string {
	canonical := struct {
		Model          string    `json:"model"`
		Messages       []Message `json:"messages"`
		Temperature    float64   `json:"temperature"`
		TopP           float64   `json:"top_p"`
		MaxTokens      int       `json:"max_tokens"`
		ResponseFormat string    `json:"response_format"`
	}{
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		// Message and the scalar fields cannot fail to marshal; this path
		// exists only for custom request mutations via middleware.
		data = []byte(req.Model)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
