package llmguard

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSONValidPassesThrough(t *testing.T) {
	in := []byte(`{"category": "condo", "confidence": 0.93}`)
	out, ok := repairJSON(in)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestRepairJSONRecoverable(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"markdown fence",
			"```json\n{\"a\": 1}\n```",
			`{"a": 1}`,
		},
		{
			"fence without language tag",
			"```\n[1, 2, 3]\n```",
			`[1, 2, 3]`,
		},
		{
			"leading prose",
			`Sure, here is the JSON: {"a": 1}`,
			`{"a": 1}`,
		},
		{
			"trailing prose",
			`{"a": 1} Hope that helps!`,
			`{"a": 1}`,
		},
		{
			"truncated nesting",
			`{"a": 1, "b": [1, 2`,
			`{"a": 1, "b": [1, 2]}`,
		},
		{
			"unterminated string",
			`{"category": "con`,
			`{"category": "con"}`,
		},
		{
			"dangling escape",
			`{"text": "line\`,
			`{"text": "line"}`,
		},
		{
			"trailing comma",
			`{"a": 1,}`,
			`{"a": 1}`,
		},
		{
			"dangling key",
			`{"a": 1, "b"`,
			`{"a": 1}`,
		},
		{
			"dangling partial literal",
			`{"a": tru`,
			`{}`,
		},
		{
			"truncated after comma",
			`[1, 2,`,
			`[1, 2]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := repairJSON([]byte(tt.in))
			require.True(t, ok, "expected repair to succeed")
			assert.JSONEq(t, tt.want, string(out))
			assert.True(t, json.Valid(out))
		})
	}
}

func TestRepairJSONUnrecoverable(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"plain prose", "I could not produce a classification."},
		{"empty", ""},
		{"fence only", "```json\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := repairJSON([]byte(tt.in))
			assert.False(t, ok)
		})
	}
}
