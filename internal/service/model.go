package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/zjregee/deepthread/internal/config"
	"github.com/zjregee/deepthread/internal/models"
)

const (
	DeepSeekChatModelID        = "deepseek-chat"
	DeepSeekReasonerModelID    = "deepseek-reasoner"
	DoubaoSeed18251215ModelID  = "doubao-seed-1-8-251215"
	KimiK2TurboModelID         = "kimi-k2-turbo-preview"
	KimiK2ThinkingTurboModelID = "kimi-k2-thinking-turbo"
	XGrok41FastModelID         = "x-ai/grok-4.1-fast"
	Qwen3CoderModelID          = "qwen/qwen3-coder:free"
	GPT4oMiniModelID           = "gpt-4o-mini"
)

const (
	DeepSeekModelProvider   = "deepseek"
	ByteDanceModelProvider  = "bytedance"
	MoonshotModelProvider   = "moonshot"
	OpenRouterModelProvider = "openrouter"
	OpenAIModelProvider     = "openai"
)

type providerConfig struct {
	BaseURL   string
	APIKeyEnv string
}

var providers = map[string]providerConfig{
	DeepSeekModelProvider:   {BaseURL: "https://api.deepseek.com", APIKeyEnv: "DEEPSEEK_API_KEY"},
	ByteDanceModelProvider:  {BaseURL: "https://ark.cn-beijing.volces.com/api/v3", APIKeyEnv: "BYTE_DANCE_API_KEY"},
	MoonshotModelProvider:   {BaseURL: "https://api.moonshot.cn/v1", APIKeyEnv: "MOONSHOT_API_KEY"},
	OpenRouterModelProvider: {BaseURL: "https://openrouter.ai/api/v1", APIKeyEnv: "OPENROUTER_API_KEY"},
	OpenAIModelProvider:     {BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY"},
}

var knownModels = []*models.ModelInfo{
	{ID: DeepSeekChatModelID, Name: "deepseek-chat", Provider: DeepSeekModelProvider, ContextWindow: "128k"},
	{ID: DeepSeekReasonerModelID, Name: "deepseek-reasoner", Provider: DeepSeekModelProvider, ContextWindow: "128k"},
	{ID: DoubaoSeed18251215ModelID, Name: "doubao-seed-1.8", Provider: ByteDanceModelProvider, ContextWindow: "256k"},
	{ID: KimiK2TurboModelID, Name: "kimi-k2", Provider: MoonshotModelProvider, ContextWindow: "256k"},
	{ID: KimiK2ThinkingTurboModelID, Name: "kimi-k2-thinking", Provider: MoonshotModelProvider, ContextWindow: "256k"},
	{ID: XGrok41FastModelID, Name: "grok-4.1-fast", Provider: OpenRouterModelProvider, ContextWindow: "2M"},
	{ID: Qwen3CoderModelID, Name: "qwen3-coder", Provider: OpenRouterModelProvider, ContextWindow: "262k"},
	{ID: GPT4oMiniModelID, Name: "gpt-4o-mini", Provider: OpenAIModelProvider, ContextWindow: "128k"},
}

// ListModels returns the catalogue of models known to work with a provider.
// Other model ids can still be configured.
func ListModels() []*models.ModelInfo {
	out := append([]*models.ModelInfo(nil), knownModels...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Provider < out[j].Provider
	})
	return out
}

func ProviderNames() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveAPIKey prefers the configured key and falls back to the provider's
// environment variable. Only the selected provider's key is ever required.
func resolveAPIKey(cfg config.ModelConfig, p providerConfig) (string, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(os.Getenv(p.APIKeyEnv)); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%s is not set", p.APIKeyEnv)
}

// NewChatModel builds the configured provider's chat model.
func NewChatModel(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	p, ok := providers[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported model provider: %s (supported: %s)", cfg.Provider, strings.Join(ProviderNames(), ", "))
	}

	apiKey, err := resolveAPIKey(cfg, p)
	if err != nil {
		return nil, err
	}

	baseURL := p.BaseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	switch provider {
	case DeepSeekModelProvider:
		return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Model:   cfg.Model,
		})
	case ByteDanceModelProvider:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Model:   cfg.Model,
		})
	default:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Model:   cfg.Model,
		})
	}
}
