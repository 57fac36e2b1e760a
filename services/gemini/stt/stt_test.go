package gemini

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lumivoice/audio"
	"lumivoice/core"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContainer(t *testing.T) core.AudioContainer {
	t.Helper()
	pcm := make([]byte, 480) // 10ms at 24kHz mono 16-bit
	wav, err := audio.PCMBytesToWavBytes(pcm, audio.WAVFormat{
		SampleRate:    core.DefaultSampleRate,
		BitsPerSample: core.DefaultBitsPerSample,
		Channels:      core.DefaultChannels,
	})
	require.NoError(t, err)
	return core.AudioContainer{
		PCM:           pcm,
		WAV:           wav,
		SampleRate:    core.DefaultSampleRate,
		BitsPerSample: core.DefaultBitsPerSample,
		Channels:      core.DefaultChannels,
	}
}

func TestTranscribeSendsPrimedConversation(t *testing.T) {
	container := testContainer(t)

	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(raw, &body))
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  good morning  "}]}}]}`))
	}))
	defer srv.Close()

	stt := NewGeminiSTT(GeminiSTTConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second}, nil)
	text, err := stt.Transcribe(context.Background(), container)
	require.NoError(t, err)
	assert.Equal(t, "good morning", text, "transcript is trimmed")

	contents := body["contents"].([]interface{})
	require.Len(t, contents, 3)

	first := contents[0].(map[string]interface{})
	assert.Equal(t, "user", first["role"])
	second := contents[1].(map[string]interface{})
	assert.Equal(t, "model", second["role"])

	third := contents[2].(map[string]interface{})
	parts := third["parts"].([]interface{})
	inline := parts[0].(map[string]interface{})["inlineData"].(map[string]interface{})
	assert.Equal(t, "audio/wav", inline["mimeType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(container.WAV), inline["data"])

	gen := body["generationConfig"].(map[string]interface{})
	assert.InDelta(t, 0.1, gen["temperature"].(float64), 1e-9)
}

func TestTranscribeEmptyTextIsEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"   "}]}}]}`))
	}))
	defer srv.Close()

	stt := NewGeminiSTT(GeminiSTTConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second}, nil)
	_, err := stt.Transcribe(context.Background(), testContainer(t))
	assert.ErrorIs(t, err, core.ErrEmptyResult)
}

func TestTranscribePropagatesServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	stt := NewGeminiSTT(GeminiSTTConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second}, nil)
	_, err := stt.Transcribe(context.Background(), testContainer(t))
	assert.ErrorIs(t, err, core.ErrServiceUnauthenticated)
}

func TestTranscribeRejectsMissingInput(t *testing.T) {
	stt := NewGeminiSTT(GeminiSTTConfig{APIKey: "k"}, nil)
	_, err := stt.Transcribe(context.Background(), core.AudioContainer{})
	assert.Error(t, err)

	// A missing key is a credentials failure, same kind as an HTTP 401.
	unkeyed := NewGeminiSTT(GeminiSTTConfig{}, nil)
	_, err = unkeyed.Transcribe(context.Background(), testContainer(t))
	assert.ErrorIs(t, err, core.ErrServiceUnauthenticated)
}
