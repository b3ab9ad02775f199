package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultDirName     = ".deepthread"
	defaultConfigName  = "config.yaml"
	defaultAgentsName  = "agents.yaml"
	defaultDBName      = "deepthread.db"
	defaultProvider    = "deepseek"
	defaultModel       = "deepseek-chat"
	envPrefix          = "DEEPTHREAD_"
	defaultHistorySize = 0
)

// Config holds all deepthread configuration.
type Config struct {
	// DataDir holds the database and the optional agents file.
	DataDir    string `yaml:"data_dir"`
	Database   string `yaml:"database"`
	AgentsFile string `yaml:"agents_file"`

	Model   ModelConfig   `yaml:"model"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
}

type ModelConfig struct {
	Provider string `yaml:"provider"` // deepseek, bytedance, moonshot, openrouter, openai
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
}

type AgentConfig struct {
	SystemPrompt      string `yaml:"system_prompt"`
	MaxIterations     int    `yaml:"max_iterations"`
	MaxBackendRetries int    `yaml:"max_backend_retries"`

	// RetryBackoff is the wait before a backend retry. Zero or unset means 3s.
	RetryBackoff string `yaml:"retry_backoff"`
	// RequestInterval paces backend calls. Zero disables pacing.
	RequestInterval string `yaml:"request_interval"`
	ToolTimeout     string `yaml:"tool_timeout"`

	// HistoryLimit caps how many earlier messages are replayed to the model.
	// Zero replays the whole thread.
	HistoryLimit int `yaml:"history_limit"`

	SubAgentTimeout        string `yaml:"sub_agent_timeout"`
	MaxConcurrentSubAgents int    `yaml:"max_concurrent_sub_agents"`
	HandoffContextMessages int    `yaml:"handoff_context_messages"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDirName
	}
	return filepath.Join(home, defaultDirName)
}

func DefaultPath() string {
	return filepath.Join(DefaultDir(), defaultConfigName)
}

func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDir(),
		Model: ModelConfig{
			Provider: defaultProvider,
			Model:    defaultModel,
			Timeout:  "90s",
		},
		Agent: AgentConfig{
			MaxIterations:          10,
			MaxBackendRetries:      2,
			RetryBackoff:           "3s",
			RequestInterval:        "0s",
			ToolTimeout:            "60s",
			HistoryLimit:           defaultHistorySize,
			SubAgentTimeout:        "5m",
			MaxConcurrentSubAgents: 3,
			HandoffContextMessages: 6,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, applies DEEPTHREAD_* overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"DATA_DIR":    &c.DataDir,
		"DB":          &c.Database,
		"AGENTS_FILE": &c.AgentsFile,
		"PROVIDER":    &c.Model.Provider,
		"MODEL":       &c.Model.Model,
		"BASE_URL":    &c.Model.BaseURL,
		"API_KEY":     &c.Model.APIKey,
		"LOG_LEVEL":   &c.Logging.Level,
	}
	for name, dst := range str {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_ITERATIONS":            &c.Agent.MaxIterations,
		"MAX_BACKEND_RETRIES":       &c.Agent.MaxBackendRetries,
		"MAX_CONCURRENT_SUB_AGENTS": &c.Agent.MaxConcurrentSubAgents,
	}
	for name, dst := range ints {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}

	durations := map[string]*string{
		"MODEL_TIMEOUT": &c.Model.Timeout,
		"TOOL_TIMEOUT":  &c.Agent.ToolTimeout,
	}
	for name, dst := range durations {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate fills in defaults for unset fields and rejects values that cannot
// work.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, defaultDBName)
	}
	if c.AgentsFile == "" {
		c.AgentsFile = filepath.Join(c.DataDir, defaultAgentsName)
	}

	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	if c.Model.Provider == "" {
		c.Model.Provider = def.Model.Provider
	}
	if strings.TrimSpace(c.Model.Model) == "" {
		c.Model.Model = def.Model.Model
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = def.Agent.MaxIterations
	}
	if c.Agent.MaxBackendRetries < 0 {
		return fmt.Errorf("agent.max_backend_retries must not be negative")
	}
	if c.Agent.MaxConcurrentSubAgents <= 0 {
		c.Agent.MaxConcurrentSubAgents = def.Agent.MaxConcurrentSubAgents
	}
	if c.Agent.HandoffContextMessages < 0 {
		c.Agent.HandoffContextMessages = 0
	}
	if c.Agent.HistoryLimit < 0 {
		c.Agent.HistoryLimit = 0
	}

	for name, v := range map[string]string{
		"model.timeout":           c.Model.Timeout,
		"agent.retry_backoff":     c.Agent.RetryBackoff,
		"agent.request_interval":  c.Agent.RequestInterval,
		"agent.tool_timeout":      c.Agent.ToolTimeout,
		"agent.sub_agent_timeout": c.Agent.SubAgentTimeout,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return fmt.Errorf("invalid duration for %s: %q", name, v)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "":
		c.Logging.Level = def.Logging.Level
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) ModelTimeout() time.Duration {
	return parseDuration(c.Model.Timeout, 90*time.Second)
}

func (c *Config) ToolTimeout() time.Duration {
	return parseDuration(c.Agent.ToolTimeout, 60*time.Second)
}

func (c *Config) RetryBackoff() time.Duration {
	return parseDuration(c.Agent.RetryBackoff, 3*time.Second)
}

// RequestInterval is zero unless configured.
func (c *Config) RequestInterval() time.Duration {
	return parseDuration(c.Agent.RequestInterval, 0)
}

func (c *Config) SubAgentTimeout() time.Duration {
	return parseDuration(c.Agent.SubAgentTimeout, 5*time.Minute)
}
