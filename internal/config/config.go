// Package config loads the Llamia configuration from $LLAMIA_HOME/config.yaml
// with env overrides and sensible defaults. A missing file is not an error;
// the defaults describe a working local-Ollama setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/llamia/internal/llm"
	"github.com/basket/llamia/internal/otel"
	"github.com/basket/llamia/internal/state"
)

// SearchConfig selects the web search backend.
type SearchConfig struct {
	// Provider is "searxng", "duckduckgo" or "none".
	Provider   string `yaml:"provider"`
	SearXNGURL string `yaml:"searxng_url"`
	TopK       int    `yaml:"top_k"`
}

// WorkflowConfig carries the driver ceilings.
type WorkflowConfig struct {
	MaxLoops       int `yaml:"max_loops"`
	WebSearchLimit int `yaml:"web_search_limit"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// WorkspaceDir is where patches are written and commands run. Relative
	// paths resolve under HomeDir.
	WorkspaceDir string `yaml:"workspace_dir"`

	LogLevel string `yaml:"log_level"`

	StateCaps state.Caps     `yaml:"state"`
	Workflow  WorkflowConfig `yaml:"workflow"`
	Search    SearchConfig   `yaml:"search"`
	LLM       llm.Config     `yaml:"llm"`
	Otel      otel.Config    `yaml:"otel"`
}

// HomeDir resolves the Llamia home directory, honoring LLAMIA_HOME.
func HomeDir() string {
	if override := os.Getenv("LLAMIA_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".llamia")
}

func defaultConfig() Config {
	return Config{
		WorkspaceDir: "workspace",
		LogLevel:     "info",
		StateCaps:    state.DefaultCaps,
		Workflow: WorkflowConfig{
			MaxLoops:       16,
			WebSearchLimit: 5,
		},
		Search: SearchConfig{
			Provider: "duckduckgo",
			TopK:     5,
		},
		LLM: llm.DefaultConfig(),
	}
}

// Load reads config.yaml from home (creating home if needed), applies env
// overrides, and normalizes everything to usable values. An empty home uses
// HomeDir().
func Load(home string) (Config, error) {
	cfg := defaultConfig()
	if home == "" {
		home = HomeDir()
	}
	cfg.HomeDir = home

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create llamia home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
		cfg.HomeDir = home
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLAMIA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LLAMIA_API_BASE"); v != "" {
		cfg.LLM.APIBase = v
	}
	if v := os.Getenv("LLAMIA_SEARXNG_URL"); v != "" {
		cfg.Search.Provider = "searxng"
		cfg.Search.SearXNGURL = v
	}
	if v := os.Getenv("LLAMIA_MAX_LOOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workflow.MaxLoops = n
		}
	}
}

func normalize(cfg *Config) {
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = "workspace"
	}
	if !filepath.IsAbs(cfg.WorkspaceDir) {
		cfg.WorkspaceDir = filepath.Join(cfg.HomeDir, cfg.WorkspaceDir)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Workflow.MaxLoops <= 0 {
		cfg.Workflow.MaxLoops = 16
	}
	if cfg.Workflow.WebSearchLimit <= 0 {
		cfg.Workflow.WebSearchLimit = 5
	}
	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "duckduckgo"
	}
	cfg.Search.Provider = strings.ToLower(strings.TrimSpace(cfg.Search.Provider))
	if cfg.Search.TopK <= 0 {
		cfg.Search.TopK = 5
	}
	if cfg.LLM.APIBase == "" {
		cfg.LLM.APIBase = llm.DefaultAPIBase
	}
	if cfg.LLM.Chat.Model == "" {
		cfg.LLM.Chat = llm.DefaultConfig().Chat
	}
}

func validate(cfg *Config) error {
	switch cfg.Search.Provider {
	case "searxng", "duckduckgo", "none":
	default:
		return fmt.Errorf("unknown search provider %q (supported: searxng, duckduckgo, none)", cfg.Search.Provider)
	}
	if cfg.Search.Provider == "searxng" && cfg.Search.SearXNGURL == "" {
		return fmt.Errorf("search provider searxng requires searxng_url")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	return nil
}
