// internal/llm/interface.go
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"sync"
)

// ErrUnknownProvider is returned for names nobody registered.
var ErrUnknownProvider = errors.New("unknown vision provider")

// ErrEmptyResponse is returned when a provider answered without any text.
var ErrEmptyResponse = errors.New("vision provider returned no text")

// VisionRequest is one image plus the instruction prompt.
type VisionRequest struct {
	Prompt      string  `json:"prompt"`
	Image       []byte  `json:"-"`
	MIMEType    string  `json:"mime_type"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// Base64 returns the image payload without the data-URI header.
func (r VisionRequest) Base64() string {
	return base64.StdEncoding.EncodeToString(r.Image)
}

// DataURI returns the image as data:<mime>;base64,<payload>.
func (r VisionRequest) DataURI() string {
	return "data:" + r.MIMEType + ";base64," + r.Base64()
}

// VisionResponse is the free-text analysis plus accounting details.
type VisionResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// Provider 定义所有视觉模型提供者必须实现的接口
type Provider interface {
	// Initialize 传入配置（api_key, default_model, base_url ...）
	Initialize(config map[string]string) error

	GetName() string

	GetSupportedModels() []string

	// AnalyzeImage sends a single request and returns the model's text.
	AnalyzeImage(ctx context.Context, req VisionRequest) (*VisionResponse, error)
}

// ProviderFactory builds an uninitialised provider.
type ProviderFactory func() Provider

var (
	providers   = make(map[string]ProviderFactory)
	providersMu sync.RWMutex
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders returns registered names in sorted order.
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSupportedModelsForProvider 获取指定提供商推荐的模型列表
func GetSupportedModelsForProvider(name string) []string {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return []string{}
	}
	return factory().GetSupportedModels()
}
