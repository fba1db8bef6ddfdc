package llm

import "strings"

// ModelConfig describes one model backend. Provider is either "openai"
// (hosted, key required) or "openai_compatible" (Ollama and friends, key
// optional).
type ModelConfig struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	ContextWindow   int     `yaml:"context_window"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`

	// APIBase and APIKeyEnv override the client-level defaults per model.
	APIBase   string `yaml:"api_base,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai_compatible"

	DefaultAPIBase   = "http://127.0.0.1:11434/v1"
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
)

// Config holds the per-role model table. Roles without an entry fall back to
// Chat, so a single local model is a complete configuration.
type Config struct {
	APIBase   string `yaml:"api_base"`
	APIKeyEnv string `yaml:"api_key_env"`

	Chat     ModelConfig  `yaml:"chat"`
	Planner  *ModelConfig `yaml:"planner,omitempty"`
	Coder    *ModelConfig `yaml:"coder,omitempty"`
	Research *ModelConfig `yaml:"research,omitempty"`
	Critic   *ModelConfig `yaml:"critic,omitempty"`
}

// DefaultConfig targets a local Ollama with general and coder models.
func DefaultConfig() Config {
	return Config{
		APIBase:   DefaultAPIBase,
		APIKeyEnv: DefaultAPIKeyEnv,
		Chat: ModelConfig{
			Provider:        ProviderOpenAICompatible,
			Model:           "qwen3:32b",
			ContextWindow:   32768,
			Temperature:     0.4,
			MaxOutputTokens: 2048,
		},
		Planner: &ModelConfig{
			Provider:        ProviderOpenAICompatible,
			Model:           "qwq:32b",
			ContextWindow:   131072,
			Temperature:     0.2,
			MaxOutputTokens: 2048,
		},
		Coder: &ModelConfig{
			Provider:        ProviderOpenAICompatible,
			Model:           "qwen2.5-coder:32b",
			ContextWindow:   131072,
			Temperature:     0.2,
			MaxOutputTokens: 2048,
		},
		Research: &ModelConfig{
			Provider:        ProviderOpenAICompatible,
			Model:           "qwen3:32b",
			ContextWindow:   32768,
			Temperature:     0.2,
			MaxOutputTokens: 2048,
		},
		Critic: &ModelConfig{
			Provider:        ProviderOpenAICompatible,
			Model:           "qwq:32b",
			ContextWindow:   131072,
			Temperature:     0.2,
			MaxOutputTokens: 1024,
		},
	}
}

// ModelFor returns the model config for a role, falling back to Chat.
func (c Config) ModelFor(role string) ModelConfig {
	var m *ModelConfig
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "planner":
		m = c.Planner
	case "coder":
		m = c.Coder
	case "research", "research_web":
		m = c.Research
	case "critic":
		m = c.Critic
	}
	if m == nil {
		return c.Chat
	}
	return *m
}

// baseURLFor resolves the effective API base for a model, avoiding the
// accidental /v1/v1 that per-model overrides tend to produce.
func (c Config) baseURLFor(m ModelConfig) string {
	base := m.APIBase
	if base == "" {
		base = c.APIBase
	}
	if base == "" {
		base = DefaultAPIBase
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/v1/v1") {
		base = strings.TrimSuffix(base, "/v1")
	}
	return base
}

func (c Config) apiKeyEnvFor(m ModelConfig) string {
	if m.APIKeyEnv != "" {
		return m.APIKeyEnv
	}
	if c.APIKeyEnv != "" {
		return c.APIKeyEnv
	}
	return DefaultAPIKeyEnv
}
