package vllm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/vllm"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_OpenAICompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"model":"mistral-7b","choices":[{"message":{"role":"assistant","content":"draft text"}}]}`))
	}))
	defer srv.Close()

	p := vllm.NewProvider(config.VLLMConfig{BaseURL: srv.URL, Model: "mistral-7b"}, time.Second)
	res, err := p.Generate(context.Background(), models.GenerationRequest{Prompt: "write"})
	require.NoError(t, err)
	assert.Equal(t, "draft text", res.Text)
	assert.Equal(t, "mistral-7b", res.Model)
	assert.Equal(t, "vllm", p.Name())
}
