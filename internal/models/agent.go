package models

import (
	"time"
)

type AgentConfig struct {
	Name              string
	SystemPrompt      string
	MaxIterations     int
	MaxBackendRetries int
	RequestInterval   time.Duration
	// RetryBackoff of zero means the loop's default.
	RetryBackoff      time.Duration
	ModelTimeout      time.Duration
	ToolTimeout       time.Duration
}

type AgentUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *AgentUsage) Add(other *AgentUsage) {
	if u == nil || other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

// SubAgentProfile describes a delegate the coordinator can hand a subtask to.
type SubAgentProfile struct {
	Name          string   `yaml:"name" json:"name"`
	Description   string   `yaml:"description" json:"description"`
	Prompt        string   `yaml:"prompt" json:"-"`
	Tools         []string `yaml:"tools" json:"tools"`
	MaxIterations int      `yaml:"max_iterations" json:"max_iterations"`
}
