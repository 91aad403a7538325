package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Model selects which endpoint and model id a job targets.
type Model struct {
	Key         string `yaml:"key" json:"key"`
	Name        string `yaml:"name" json:"name"`
	BaseURL     string `yaml:"base_url" json:"base_url"`
	ModelID     string `yaml:"model" json:"model"`
	Description string `yaml:"description" json:"description"`
}

// Registry maps model keys to models. Unknown keys resolve to the default.
type Registry struct {
	models     map[string]Model
	defaultKey string
}

type modelsFile struct {
	Default string  `yaml:"default"`
	Models  []Model `yaml:"models"`
}

func builtinModels(baseURL string) []Model {
	return []Model{
		{Key: "gpt-4o", Name: "GPT-4O", BaseURL: baseURL, ModelID: "gpt-4o", Description: "OpenAI GPT-4O (最强大)"},
		{Key: "gpt-3.5", Name: "GPT-3.5 Turbo", BaseURL: baseURL, ModelID: "gpt-3.5-turbo", Description: "OpenAI GPT-3.5 (快速)"},
		{Key: "kimi", Name: "Kimi (月之暗面)", BaseURL: baseURL, ModelID: "moonshot-v1-8k", Description: "Moonshot Kimi (长文本)"},
		{Key: "qwen", Name: "Qwen (通义千问)", BaseURL: baseURL, ModelID: "qwen-max", Description: "阿里通义千问 (中文优化)"},
		{Key: "zhipu", Name: "GLM-4 (智谱)", BaseURL: baseURL, ModelID: "glm-4", Description: "智谱清言 (中文理解)"},
		{Key: "deepseek", Name: "DeepSeek", BaseURL: baseURL, ModelID: "deepseek-chat", Description: "DeepSeek (高性价比)"},
	}
}

// LoadRegistry returns the built-in registry, or the one described by
// cfg.ModelsFile when set. Models in the file without base_url inherit cfg.BaseURL.
func LoadRegistry(cfg APIConfig) (*Registry, error) {
	models := builtinModels(cfg.BaseURL)
	defKey := cfg.DefaultModel
	if cfg.ModelsFile != "" {
		b, err := os.ReadFile(cfg.ModelsFile)
		if err != nil {
			return nil, fmt.Errorf("read models file: %w", err)
		}
		var f modelsFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse models file: %w", err)
		}
		if len(f.Models) == 0 {
			return nil, fmt.Errorf("models file %s defines no models", cfg.ModelsFile)
		}
		models = f.Models
		if f.Default != "" {
			defKey = f.Default
		}
	}
	return NewRegistry(models, defKey, cfg.BaseURL)
}

// NewRegistry builds a registry; the default key must name one of models.
// When defKey is empty the first model is the default.
func NewRegistry(models []Model, defKey, baseURL string) (*Registry, error) {
	r := &Registry{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if m.Key == "" {
			return nil, fmt.Errorf("model without key: %+v", m)
		}
		if m.ModelID == "" {
			m.ModelID = m.Key
		}
		if m.BaseURL == "" {
			m.BaseURL = baseURL
		}
		if m.Name == "" {
			m.Name = m.Key
		}
		r.models[m.Key] = m
	}
	if defKey == "" && len(models) > 0 {
		defKey = models[0].Key
	}
	if _, ok := r.models[defKey]; !ok {
		return nil, fmt.Errorf("default model %q not in registry", defKey)
	}
	r.defaultKey = defKey
	return r, nil
}

// Resolve returns the model for key, falling back to the default model.
func (r *Registry) Resolve(key string) Model {
	if m, ok := r.models[key]; ok {
		return m
	}
	return r.models[r.defaultKey]
}

// Default returns the default model.
func (r *Registry) Default() Model { return r.models[r.defaultKey] }

// List returns all models sorted by key.
func (r *Registry) List() []Model {
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
