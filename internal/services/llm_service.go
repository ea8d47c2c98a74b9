// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Corphon/FlagLens/internal/config"
	"github.com/Corphon/FlagLens/internal/llm"
	"github.com/Corphon/FlagLens/internal/utils"
)

// ErrLLMNotReady is returned while no provider could be initialised.
var ErrLLMNotReady = errors.New("llm service not ready")

var providerDefaultModels = map[string]string{
	"google":     "gemini-2.5-flash",
	"anthropic":  "claude-sonnet-4-5",
	"openrouter": "google/gemini-2.5-flash",
	"static":     "sample",
}

// LLMService 持有当前视觉模型提供者，可在运行时切换
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	model         string
	readyState    string
	logger        *utils.Logger
}

// LLMStatus is what /api/llm/status reports.
type LLMStatus struct {
	Ready     bool     `json:"ready"`
	State     string   `json:"state"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Available []string `json:"available_providers"`
	HasAPIKey bool     `json:"has_api_key"`
}

// NewLLMService builds the service from the current config. A provider that
// fails to initialise leaves the service not-ready rather than failing startup.
func NewLLMService(logger *utils.Logger) *LLMService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	service := &LLMService{readyState: "not configured", logger: logger}

	cfg := config.GetCurrentConfig()
	if err := service.apply(cfg.LLMProvider, cfg.ProviderConfig(cfg.LLMProvider)); err != nil {
		logger.Warn("vision provider not ready", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"error":    err,
		})
	}
	return service
}

// NewLLMServiceWithProvider wraps an already initialised provider.
func NewLLMServiceWithProvider(name string, provider llm.Provider, logger *utils.Logger) *LLMService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &LLMService{
		provider:     provider,
		providerName: name,
		model:        providerDefaultModels[name],
		readyState:   "Ready",
		logger:       logger,
	}
}

func (s *LLMService) apply(name string, settings map[string]string) error {
	if name == "" {
		name = "static"
	}
	if settings == nil {
		settings = map[string]string{}
	}
	if settings["default_model"] == "" && providerDefaultModels[name] != "" {
		settings["default_model"] = providerDefaultModels[name]
	}

	provider, err := llm.GetProvider(name, settings)

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	if err != nil {
		s.readyState = fmt.Sprintf("initialization failed: %v", err)
		return err
	}

	s.provider = provider
	s.providerName = name
	s.model = settings["default_model"]
	s.readyState = "Ready"

	s.logger.Info("vision provider ready", map[string]interface{}{
		"provider": name,
		"model":    s.model,
	})
	return nil
}

// UpdateProvider switches provider at runtime. The new provider is
// initialised first; only on success is the choice persisted, so a failed
// switch leaves the previous provider active.
func (s *LLMService) UpdateProvider(name string, settings map[string]string) error {
	cfg := config.GetCurrentConfig()

	merged := map[string]string{}
	if name == cfg.LLMProvider {
		merged = cfg.ProviderConfig(name)
	} else if key := cfg.ProviderConfig(name)["api_key"]; key != "" {
		merged["api_key"] = key
	}
	for k, v := range settings {
		if v != "" {
			merged[k] = v
		}
	}
	if merged["default_model"] == "" && providerDefaultModels[name] != "" {
		merged["default_model"] = providerDefaultModels[name]
	}

	provider, err := llm.GetProvider(name, merged)
	if err != nil {
		return err
	}

	if err := config.UpdateLLMConfig(name, settings); err != nil {
		return fmt.Errorf("save llm config: %w", err)
	}

	s.providerMutex.Lock()
	s.provider = provider
	s.providerName = name
	s.model = merged["default_model"]
	s.readyState = "Ready"
	s.providerMutex.Unlock()

	s.logger.Info("vision provider switched", map[string]interface{}{
		"provider": name,
		"model":    merged["default_model"],
	})
	return nil
}

type providerSnapshot struct {
	provider     llm.Provider
	providerName string
	model        string
}

func (s *LLMService) snapshot() providerSnapshot {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return providerSnapshot{provider: s.provider, providerName: s.providerName, model: s.model}
}

// AnalyzeImage forwards one request to the active provider.
func (s *LLMService) AnalyzeImage(ctx context.Context, req llm.VisionRequest) (*llm.VisionResponse, error) {
	current := s.snapshot()
	if current.provider == nil {
		return nil, ErrLLMNotReady
	}
	return current.provider.AnalyzeImage(ctx, req)
}

// IsReady 检查服务是否就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// GetReadyState 返回就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 返回当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetStatus 返回服务状态
func (s *LLMService) GetStatus() LLMStatus {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	return LLMStatus{
		Ready:     s.provider != nil,
		State:     s.readyState,
		Provider:  s.providerName,
		Model:     s.model,
		Available: llm.ListProviders(),
		HasAPIKey: s.providerName == "static" || config.GetCurrentConfig().HasAPIKey(s.providerName),
	}
}

// GetModels lists recommended models for provider, or the active one.
func (s *LLMService) GetModels(provider string) []string {
	if provider == "" {
		provider = s.GetProviderName()
	}
	return llm.GetSupportedModelsForProvider(provider)
}
