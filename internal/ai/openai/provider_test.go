package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai"
	"github.com/kiranshivaraju/genqueue/internal/ai/openai"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatBody struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body chatBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Equal(t, "Item: tides", body.Messages[1].Content)

		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini-2024","choices":[{"message":{"role":"assistant","content":"Moon pulls water."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"}, time.Second)
	res, err := p.Generate(context.Background(), models.GenerationRequest{System: "Explain.", Prompt: "Item: tides"})
	require.NoError(t, err)
	assert.Equal(t, "Moon pulls water.", res.Text)
	assert.Equal(t, "gpt-4o-mini-2024", res.Model)
}

func TestGenerate_NoSystemMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, time.Second)
	res, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "m", res.Model)
}

func TestGenerate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, time.Second)
	_, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ai.ErrRateLimited},
		{http.StatusUnauthorized, ai.ErrRequestRejected},
		{http.StatusInternalServerError, ai.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := openai.NewProvider(config.OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, time.Second)
			_, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "hi"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
