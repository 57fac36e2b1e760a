package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"lumivoice/core"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, reply string, lastBody *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		if lastBody != nil {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, sonic.Unmarshal(raw, lastBody))
		}
		w.Header().Set("Content-Type", "application/json")
		out, _ := sonic.Marshal(map[string]interface{}{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}}},
		})
		w.Write(out)
	}))
}

func TestRespondUsesSystemMessageForContext(t *testing.T) {
	var body map[string]interface{}
	srv := completionServer(t, "hello Ana", &body)
	defer srv.Close()

	s := NewOpenAILLM(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	s.ConfigureContext("be kind")

	reply := s.Respond(context.Background(), "hi")
	assert.Equal(t, "hello Ana", reply)

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be kind", first["content"])
	second := messages[1].(map[string]interface{})
	assert.Equal(t, "user", second["role"])

	// History keeps the seeded pair plus the new exchange.
	h := s.History()
	require.Len(t, h, 4)
	assert.Equal(t, core.MessageRoleModel, h[3].Role)
	assert.Equal(t, "hello Ana", h[3].Text)
}

func TestRespondAbsorbsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewOpenAILLM(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	reply := s.Respond(context.Background(), "hi")
	assert.Equal(t, core.FallbackReply, reply)

	h := s.History()
	require.Len(t, h, 2)
	assert.Equal(t, core.FallbackReply, h[1].Text)
}

func TestModelRolesMapToAssistant(t *testing.T) {
	var body map[string]interface{}
	srv := completionServer(t, "sure", &body)
	defer srv.Close()

	s := NewOpenAILLM(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	s.ConfigureContext("be kind")
	s.Respond(context.Background(), "first")
	s.Respond(context.Background(), "second")

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 4) // system, user, assistant, user
	third := messages[2].(map[string]interface{})
	assert.Equal(t, "assistant", third["role"])
}
