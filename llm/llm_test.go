package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("empty config should not validate")
	}

	cfg = Config{Provider: "openai", Model: "gpt-4o", MaxTokens: 4096}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestMockProvider(t *testing.T) {
	mock := NewMockProvider()
	mock.SetResponse("hello")

	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
	if mock.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1", mock.CallCount())
	}
	if mock.LastRequest().Messages[0].Content != "hi" {
		t.Error("last request not recorded")
	}
}

func TestMockProvider_Error(t *testing.T) {
	mock := NewMockProvider()
	mock.SetError(errors.New("boom"))

	if _, err := mock.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Error("expected error")
	}
}

func TestNew_ModelFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_MODEL_ID", "claude-test-model")

	p, err := New("anthropic", "sk-key")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ap, ok := p.(*AnthropicProvider)
	if !ok {
		t.Fatalf("expected *AnthropicProvider, got %T", p)
	}
	if ap.model != "claude-test-model" {
		t.Errorf("model = %q, want claude-test-model", ap.model)
	}
}

func TestNew_DefaultsToOpenAI(t *testing.T) {
	t.Setenv("OPENAI_MODEL_ID", "")

	p, err := New("something-unknown", "sk-key")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	op, ok := p.(*OpenAIProvider)
	if !ok {
		t.Fatalf("expected *OpenAIProvider, got %T", p)
	}
	if op.model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", op.model)
	}
}

func TestNew_OllamaNeedsNoKey(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")

	p, err := New("ollama", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cp, ok := p.(*OpenAICompatProvider)
	if !ok {
		t.Fatalf("expected *OpenAICompatProvider, got %T", p)
	}
	if cp.baseURL != "http://localhost:11434/v1" {
		t.Errorf("baseURL = %q", cp.baseURL)
	}
}

func TestNew_GoogleNeedsNoKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "env-key")
	t.Setenv("GOOGLE_MODEL_ID", "")

	p, err := New("google", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	gp, ok := p.(*GoogleProvider)
	if !ok {
		t.Fatalf("expected *GoogleProvider, got %T", p)
	}
	if gp.modelName != "gemini-1.5-pro" {
		t.Errorf("model = %q, want gemini-1.5-pro", gp.modelName)
	}
}

func TestOpenAICompat_Chat(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req oaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}

		json.NewEncoder(w).Encode(oaiResponse{
			Model: "test-model",
			Choices: []struct {
				Index        int        `json:"index"`
				Message      oaiMessage `json:"message"`
				FinishReason string     `json:"finish_reason"`
			}{
				{Message: oaiMessage{Role: "assistant", Content: "done"}, FinishReason: "stop"},
			},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAICompatProvider(Config{
		Provider:  "ollama",
		Model:     "test-model",
		APIKey:    "secret",
		BaseURL:   srv.URL,
		MaxTokens: 128,
	})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "done" {
		t.Errorf("Content = %q, want done", resp.Content)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestOpenAICompat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	p, _ := NewOpenAICompatProvider(Config{
		Provider:  "azure",
		Model:     "m",
		BaseURL:   srv.URL,
		MaxTokens: 16,
	})

	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Error("expected error from 400 response")
	}
}

func TestRetryClassification(t *testing.T) {
	if !isRetryableError(errors.New("429 too many requests")) {
		t.Error("rate limit should be retryable")
	}
	if !isRetryableError(errors.New("503 service unavailable")) {
		t.Error("5xx should be retryable")
	}
	if isRetryableError(errors.New("invalid model name")) {
		t.Error("client error should not be retryable")
	}
	if !isBillingError(errors.New("quota exceeded for this billing period")) {
		t.Error("quota errors are billing errors")
	}
}
