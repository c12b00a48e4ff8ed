package llm

import (
	"os"
)

// envModel returns the model for an env var, or the fallback.
func envModel(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

// New constructs a chat provider for the named upstream, using the pooled
// API key handed in by the caller. Model names come from PROVIDER_MODEL_ID
// environment variables with per-provider fallbacks. An empty key is valid
// for providers that can run unauthenticated (local ollama) or resolve
// credentials themselves (SDK env lookup, gateway-side auth).
func New(provider, apiKey string) (Provider, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicProvider(Config{
			Provider:  "anthropic",
			Model:     envModel("ANTHROPIC_MODEL_ID", "claude-3-opus-20240229"),
			APIKey:    apiKey,
			MaxTokens: defaultMaxTokens,
		})

	case "google":
		return NewGoogleProvider(Config{
			Provider:  "google",
			Model:     envModel("GOOGLE_MODEL_ID", "gemini-1.5-pro"),
			APIKey:    apiKey,
			MaxTokens: defaultMaxTokens,
		})

	case "ollama":
		// Local runtime, no credential expected
		base := os.Getenv("OLLAMA_BASE_URL")
		if base == "" {
			base = "http://localhost:11434/v1"
		}
		return NewOpenAICompatProvider(Config{
			Provider:  "ollama",
			Model:     envModel("OLLAMA_MODEL_ID", "llama3"),
			BaseURL:   base,
			MaxTokens: defaultMaxTokens,
		})

	case "azure":
		return NewOpenAICompatProvider(Config{
			Provider:  "azure",
			Model:     envModel("AZURE_MODEL_ID", "gpt-4o"),
			APIKey:    apiKey,
			BaseURL:   os.Getenv("AZURE_ENDPOINT"),
			MaxTokens: defaultMaxTokens,
		})

	case "bedrock":
		return NewOpenAICompatProvider(Config{
			Provider:  "bedrock",
			Model:     envModel("BEDROCK_MODEL_ID", "anthropic.claude-3-sonnet-20240229-v1:0"),
			APIKey:    apiKey,
			BaseURL:   os.Getenv("BEDROCK_GATEWAY_URL"),
			MaxTokens: defaultMaxTokens,
		})

	default: // openai
		return NewOpenAIProvider(Config{
			Provider:  "openai",
			Model:     envModel("OPENAI_MODEL_ID", "gpt-4o"),
			APIKey:    apiKey,
			BaseURL:   os.Getenv("OPENAI_BASE_URL"),
			MaxTokens: defaultMaxTokens,
		})
	}
}
