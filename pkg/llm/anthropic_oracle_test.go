package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAnthropicOracle_Complete(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"), r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "<think>same</think>{\"action\":\"CONFIRM\",\"confidence\":0.9}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 6}
		}`))
	}))
	defer server.Close()

	o, err := NewAnthropicOracle(AnthropicConfig{BaseURL: server.URL + "/v1", APIKey: "key-1", Model: "claude-test"}, zap.NewNop())
	require.NoError(t, err)

	resp, err := o.Complete(context.Background(), OracleRequest{
		Task:   "fact_fusion",
		System: "You reconcile facts.",
		Prompt: "existing vs new",
		Schema: json.RawMessage(`{"type":"object","required":["action"]}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"CONFIRM","confidence":0.9}`, string(resp.Content))
	assert.Equal(t, Usage{InputTokens: 20, OutputTokens: 6}, resp.Usage)
	assert.Equal(t, "claude-test", resp.Model)

	system, _ := body["system"].(string)
	assert.Contains(t, system, "You reconcile facts.")
	assert.Contains(t, system, `"required":["action"]`)
}

func TestNewAnthropicOracle_RequiresKey(t *testing.T) {
	_, err := NewAnthropicOracle(AnthropicConfig{Model: "m"}, zap.NewNop())
	assert.Error(t, err)
}
