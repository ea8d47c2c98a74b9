package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearLLMEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GEMINI_API_KEY", "ANTHROPIC_API_KEY", "OPENROUTER_API_KEY", "LLM_PROVIDER", "LLM_MODEL", "MAX_UPLOAD_BYTES"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearLLMEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DefaultMaxUploadBytes, cfg.MaxUploadBytes)
	assert.Equal(t, "static", cfg.LLMProvider)
	assert.Empty(t, cfg.APIKeys)
}

func TestLoadDetectsProviderFromKeys(t *testing.T) {
	t.Run("gemini key selects google", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("ANTHROPIC_API_KEY", "a-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "google", cfg.LLMProvider)
		assert.Equal(t, "a-key", cfg.APIKeys["anthropic"])
	})

	t.Run("explicit provider wins", func(t *testing.T) {
		clearLLMEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("LLM_PROVIDER", "Anthropic")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.LLMProvider)
	})
}

func TestLoadRejectsBadUploadLimit(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("MAX_UPLOAD_BYTES", "lots")

	_, err := Load()
	assert.Error(t, err)
}

func TestInitConfigNeverPersistsKeys(t *testing.T) {
	clearLLMEnv(t)
	ResetForTest()
	t.Cleanup(ResetForTest)

	dir := t.TempDir()
	base := &Config{
		Port:           "9000",
		DataDir:        dir,
		LLMProvider:    "google",
		LLMModel:       "gemini-2.5-flash",
		APIKeys:        map[string]string{"google": "secret-key"},
		MaxUploadBytes: DefaultMaxUploadBytes,
		MaxSessions:    10,
	}
	require.NoError(t, InitConfig(base))

	cfg := GetCurrentConfig()
	assert.Equal(t, "google", cfg.LLMProvider)
	assert.Equal(t, "secret-key", cfg.ProviderConfig("google")["api_key"])
	assert.Equal(t, "gemini-2.5-flash", cfg.ProviderConfig("google")["default_model"])
	assert.True(t, cfg.HasAPIKey("google"))
	assert.False(t, cfg.HasAPIKey("anthropic"))

	require.NoError(t, UpdateLLMConfig("anthropic", map[string]string{
		"api_key":       "runtime-key",
		"default_model": "claude-sonnet-4-5",
	}))

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-key")
	assert.NotContains(t, string(data), "runtime-key")

	var saved AppConfig
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "anthropic", saved.LLMProvider)
	assert.Equal(t, "claude-sonnet-4-5", saved.LLMConfig["default_model"])

	cfg = GetCurrentConfig()
	assert.Equal(t, "runtime-key", cfg.ProviderConfig("anthropic")["api_key"])
}

func TestInitConfigRestoresSavedProvider(t *testing.T) {
	clearLLMEnv(t)
	ResetForTest()
	t.Cleanup(ResetForTest)

	dir := t.TempDir()
	saved := `{"llm_provider":"openrouter","llm_config":{"default_model":"google/gemma-3-27b-it","api_key":"leaked"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(saved), 0644))

	require.NoError(t, InitConfig(&Config{DataDir: dir, LLMProvider: "static", APIKeys: map[string]string{"openrouter": "or-key"}}))

	cfg := GetCurrentConfig()
	assert.Equal(t, "openrouter", cfg.LLMProvider)
	assert.Equal(t, "google/gemma-3-27b-it", cfg.LLMConfig["default_model"])
	_, hasKey := cfg.LLMConfig["api_key"]
	assert.False(t, hasKey)
}

func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	clearLLMEnv(t)
	ResetForTest()
	t.Cleanup(ResetForTest)

	require.NoError(t, InitConfig(&Config{DataDir: t.TempDir(), LLMProvider: "static", APIKeys: map[string]string{}}))

	cfg := GetCurrentConfig()
	cfg.LLMConfig["default_model"] = "mutated"

	assert.Empty(t, GetCurrentConfig().LLMConfig["default_model"])
}

func TestInitConfigSkipsSavedProviderWithoutKey(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	dir := t.TempDir()

	// first run detects google from its key and mirrors it to disk
	clearLLMEnv(t)
	t.Setenv("DATA_DIR", dir)
	t.Setenv("GEMINI_API_KEY", "g-key")
	base, err := Load()
	require.NoError(t, err)
	require.NoError(t, InitConfig(base))
	require.Equal(t, "google", GetCurrentConfig().LLMProvider)

	t.Run("key removed", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		base, err := Load()
		require.NoError(t, err)
		require.NoError(t, InitConfig(base))
		assert.Equal(t, "static", GetCurrentConfig().LLMProvider)
	})

	t.Run("explicit provider wins over saved", func(t *testing.T) {
		require.NoError(t, UpdateLLMConfig("google", map[string]string{"default_model": "gemini-2.5-pro"}))

		t.Setenv("LLM_PROVIDER", "static")
		base, err := Load()
		require.NoError(t, err)
		assert.True(t, base.ProviderExplicit)
		require.NoError(t, InitConfig(base))

		cfg := GetCurrentConfig()
		assert.Equal(t, "static", cfg.LLMProvider)
		assert.Empty(t, cfg.LLMConfig["default_model"])
	})
}
