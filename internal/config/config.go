// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/Corphon/FlagLens/internal/storage"
)

const configFileName = "config.json"

// DefaultMaxUploadBytes is the largest image the intake accepts (20 MB).
const DefaultMaxUploadBytes int64 = 20 << 20

var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configStore   *storage.FileStorage
)

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port             string
	DataDir          string
	StaticDir        string
	LogDir           string
	DebugMode        bool
	LLMProvider      string
	ProviderExplicit bool // LLM_PROVIDER was set
	LLMModel         string
	APIKeys          map[string]string
	MaxUploadBytes   int64
	PromptFile       string
	MaxSessions      int
	AnalyzeRateLimit int
}

// AppConfig is the runtime configuration. Provider settings may change while
// the server runs and are mirrored to DATA_DIR/config.json; API keys are
// never written to disk.
type AppConfig struct {
	Port             string            `json:"port"`
	DataDir          string            `json:"data_dir"`
	StaticDir        string            `json:"static_dir"`
	LogDir           string            `json:"log_dir"`
	DebugMode        bool              `json:"debug_mode"`
	MaxUploadBytes   int64             `json:"max_upload_bytes"`
	PromptFile       string            `json:"prompt_file,omitempty"`
	MaxSessions      int               `json:"max_sessions"`
	AnalyzeRateLimit int               `json:"analyze_rate_limit"`
	LLMProvider      string            `json:"llm_provider"`
	LLMConfig        map[string]string `json:"llm_config"`

	apiKeys map[string]string
}

// providerKeyEnv maps provider names to the environment variable carrying their key.
var providerKeyEnv = map[string]string{
	"google":     "GEMINI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DataDir:          getEnv("DATA_DIR", "data"),
		StaticDir:        getEnv("STATIC_DIR", "static"),
		LogDir:           getEnv("LOG_DIR", "logs"),
		DebugMode:        getEnvBool("DEBUG_MODE", false),
		LLMProvider:      strings.ToLower(getEnv("LLM_PROVIDER", "")),
		LLMModel:         getEnv("LLM_MODEL", ""),
		APIKeys:          make(map[string]string),
		PromptFile:       getEnv("PROMPT_FILE", ""),
		MaxSessions:      getEnvInt("MAX_SESSIONS", 1000),
		AnalyzeRateLimit: getEnvInt("ANALYZE_RATE_LIMIT", 20),
	}

	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", strconv.FormatInt(DefaultMaxUploadBytes, 10)), 10, 64)
	if err != nil || maxUpload <= 0 {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES: %q", os.Getenv("MAX_UPLOAD_BYTES"))
	}
	cfg.MaxUploadBytes = maxUpload

	for provider, env := range providerKeyEnv {
		if key := os.Getenv(env); key != "" {
			cfg.APIKeys[provider] = key
		}
	}

	cfg.ProviderExplicit = cfg.LLMProvider != ""
	if !cfg.ProviderExplicit {
		cfg.LLMProvider = detectProvider(cfg.APIKeys)
	}

	return cfg, nil
}

// detectProvider picks the first provider with a key, in a fixed order.
func detectProvider(keys map[string]string) string {
	for _, name := range []string{"google", "anthropic", "openrouter"} {
		if keys[name] != "" {
			return name
		}
	}
	return "static"
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// InitConfig 初始化配置管理器
func InitConfig(base *Config) error {
	dataDir := base.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	store, err := storage.NewFileStorage(dataDir)
	if err != nil {
		return err
	}

	llmConfig := map[string]string{}
	if base.LLMModel != "" {
		llmConfig["default_model"] = base.LLMModel
	}

	cfg := &AppConfig{
		Port:             base.Port,
		DataDir:          base.DataDir,
		StaticDir:        base.StaticDir,
		LogDir:           base.LogDir,
		DebugMode:        base.DebugMode,
		MaxUploadBytes:   base.MaxUploadBytes,
		PromptFile:       base.PromptFile,
		MaxSessions:      base.MaxSessions,
		AnalyzeRateLimit: base.AnalyzeRateLimit,
		LLMProvider:      base.LLMProvider,
		LLMConfig:        llmConfig,
		apiKeys:          base.APIKeys,
	}

	// 只从文件恢复 LLM 设置，其余以环境变量为准.
	// An explicit LLM_PROVIDER wins, and a saved provider without a key is skipped.
	var saved AppConfig
	if err := store.LoadJSONFile("", configFileName, &saved); err == nil && !base.ProviderExplicit {
		if saved.LLMProvider != "" && (saved.LLMProvider == "static" || base.APIKeys[saved.LLMProvider] != "") {
			cfg.LLMProvider = saved.LLMProvider
			if saved.LLMConfig != nil {
				delete(saved.LLMConfig, "api_key")
				cfg.LLMConfig = saved.LLMConfig
			}
		}
	}

	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = cfg
	configStore = store

	return saveConfigLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		base, err := Load()
		if err != nil {
			base = &Config{Port: "8080", DataDir: "data", StaticDir: "static", LogDir: "logs",
				LLMProvider: "static", MaxUploadBytes: DefaultMaxUploadBytes, MaxSessions: 1000,
				AnalyzeRateLimit: 20, APIKeys: map[string]string{}}
		}
		return &AppConfig{
			Port:             base.Port,
			DataDir:          base.DataDir,
			StaticDir:        base.StaticDir,
			LogDir:           base.LogDir,
			DebugMode:        base.DebugMode,
			MaxUploadBytes:   base.MaxUploadBytes,
			PromptFile:       base.PromptFile,
			MaxSessions:      base.MaxSessions,
			AnalyzeRateLimit: base.AnalyzeRateLimit,
			LLMProvider:      base.LLMProvider,
			LLMConfig:        map[string]string{},
			apiKeys:          base.APIKeys,
		}
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = copyMap(currentConfig.LLMConfig)
	configCopy.apiKeys = copyMap(currentConfig.apiKeys)
	return &configCopy
}

// ProviderConfig returns the settings handed to a provider's Initialize,
// including the API key taken from the environment.
func (c *AppConfig) ProviderConfig(provider string) map[string]string {
	out := copyMap(c.LLMConfig)
	if key := c.apiKeys[provider]; key != "" {
		out["api_key"] = key
	}
	return out
}

// HasAPIKey reports whether a key is configured for provider.
func (c *AppConfig) HasAPIKey(provider string) bool {
	return c.apiKeys[provider] != ""
}

// UpdateLLMConfig 更新LLM配置. An api_key inside settings is kept in memory only.
func UpdateLLMConfig(provider string, settings map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("config not initialized")
	}

	settings = copyMap(settings)
	if key, ok := settings["api_key"]; ok {
		if key != "" {
			if currentConfig.apiKeys == nil {
				currentConfig.apiKeys = map[string]string{}
			}
			currentConfig.apiKeys[provider] = key
		}
		delete(settings, "api_key")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = settings

	return saveConfigLocked()
}

// saveConfigLocked writes the current config; callers hold configMutex.
func saveConfigLocked() error {
	if currentConfig == nil || configStore == nil {
		return fmt.Errorf("no config to save")
	}
	if err := configStore.SaveJSONFile("", configFileName, currentConfig); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// ResetForTest drops the singleton so tests can re-initialise it.
func ResetForTest() {
	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = nil
	configStore = nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
