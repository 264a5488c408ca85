package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAIOracle_Complete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"action\":\"CONFIRM\",\"confidence\":0.92}"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer server.Close()

	o, err := NewOpenAIOracle(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "sk-test", Model: "gpt-4o-mini"}, zap.NewNop())
	require.NoError(t, err)

	resp, err := o.Complete(context.Background(), OracleRequest{
		Task:   "fact_fusion",
		System: "decide",
		Prompt: "existing vs new",
		Schema: json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"CONFIRM","confidence":0.92}`, string(resp.Content))
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 4}, resp.Usage)

	format := got["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	assert.Equal(t, "fact_fusion", schema["name"])
	assert.Equal(t, true, schema["strict"])

	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestOpenAIOracle_ClassifiesAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	o, err := NewOpenAIOracle(OpenAIConfig{BaseURL: server.URL, APIKey: "bad", Model: "gpt-4o-mini"}, zap.NewNop())
	require.NoError(t, err)

	_, err = o.Complete(context.Background(), OracleRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
}

func TestOpenAIOracle_MalformedContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"I am not sure"}}]}`))
	}))
	defer server.Close()

	o, _ := NewOpenAIOracle(OpenAIConfig{BaseURL: server.URL, Model: "m"}, zap.NewNop())
	_, err := o.Complete(context.Background(), OracleRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeResponse, GetErrorType(err))
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(3), body["dimensions"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(server.URL, "sk", "text-embedding-3-small", 3)
	vec, err := e.Embed(context.Background(), "alice@acme.com")
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	mismatch := NewOpenAIEmbedder(server.URL, "sk", "text-embedding-3-small", 4)
	_, err = mismatch.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeResponse, GetErrorType(err))
}
