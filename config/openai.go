package config

import "time"

// OpenAIConfig contains AI provider configuration for the verifier and
// embedder adapters.
type OpenAIConfig struct {
	// APIKey authorizes calls to the provider. Required for sweeper mode.
	APIKey string `env:"API_KEY"`

	// BaseURL overrides the provider endpoint, e.g. for a proxy.
	BaseURL string `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`

	// VerifierModel is the chat model used for link verification.
	VerifierModel string `env:"VERIFIER_MODEL" envDefault:"gpt-4o-mini"`

	// EmbedderModel is the embeddings model; it doubles as the provenance tag
	// stored next to each embedding.
	EmbedderModel string `env:"EMBEDDER_MODEL" envDefault:"text-embedding-3-small"`

	// PaceInterval is the minimum spacing between provider calls.
	PaceInterval time.Duration `env:"PACE_INTERVAL" envDefault:"100ms"`

	// RequestTimeout bounds a single provider call.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
}
