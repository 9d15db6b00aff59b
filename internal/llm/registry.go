package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/research-agent/backend/pkg/config"
)

const DefaultModelID = "openai:gpt-4o-mini"

type Model struct {
	ID          string
	Provider    string
	Name        string
	ToolCalling bool
	Reasoning   bool
}

type Factory func(provider string, p config.ProviderConfig) Generator

// Registry resolves "provider:model" ids to a generator plus model traits.
type Registry struct {
	defaultModel string
	providers    map[string]config.ProviderConfig
	generators   map[string]Generator
}

func NewRegistry(cfg config.LLMConfig, factory Factory) *Registry {
	if factory == nil {
		factory = OpenAIFactory(cfg)
	}
	r := &Registry{
		defaultModel: cfg.DefaultModel,
		providers:    make(map[string]config.ProviderConfig, len(cfg.Providers)),
		generators:   make(map[string]Generator, len(cfg.Providers)),
	}
	if r.defaultModel == "" {
		r.defaultModel = DefaultModelID
	}
	for name, p := range cfg.Providers {
		name = strings.ToLower(name)
		r.providers[name] = p
		if p.Enabled {
			r.generators[name] = factory(name, p)
		}
	}
	return r
}

// OpenAIFactory builds go-openai clients; non-OpenAI providers are reached
// through their OpenAI-compatible base URL.
func OpenAIFactory(cfg config.LLMConfig) Factory {
	return func(provider string, p config.ProviderConfig) Generator {
		return NewClient(ClientConfig{
			Provider:    provider,
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		})
	}
}

func ParseModelID(id string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(id, ":")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidModelID, id)
	}
	return strings.ToLower(provider), model, nil
}

func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

func (r *Registry) IsProviderEnabled(provider string) bool {
	p, ok := r.providers[strings.ToLower(provider)]
	return ok && p.Enabled
}

// Resolve returns the generator and traits for a model id. An empty id
// resolves the default model.
func (r *Registry) Resolve(id string) (Generator, Model, error) {
	if id == "" {
		id = r.defaultModel
	}
	provider, name, err := ParseModelID(id)
	if err != nil {
		return nil, Model{}, err
	}

	p, ok := r.providers[provider]
	if !ok {
		return nil, Model{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if !p.Enabled {
		return nil, Model{}, fmt.Errorf("%w: %s", ErrProviderDisabled, provider)
	}

	m := Model{
		ID:          provider + ":" + name,
		Provider:    provider,
		Name:        name,
		ToolCalling: contains(p.ToolCallModels, name),
		Reasoning:   contains(p.ReasoningModels, name),
	}
	return r.generators[provider], m, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
